// Package config loads testmend settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kamilpajak/testmend/internal/cache"
	"github.com/kamilpajak/testmend/internal/llm"
	"github.com/kamilpajak/testmend/pkg/models"
)

// Config captures every tunable of a healing run.
type Config struct {
	Healing HealingConfig `yaml:"healing"`
	LLM     LLMConfig     `yaml:"llm"`
	Cache   CacheConfig   `yaml:"cache"`
	Runner  RunnerConfig  `yaml:"runner"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HealingConfig controls budgets and the healability policy.
type HealingConfig struct {
	MaxAttemptsPerTest   int           `yaml:"maxAttemptsPerTest"`
	MaxTotalTime         time.Duration `yaml:"maxTotalTime"`
	MinConfidence        float64       `yaml:"minConfidence"`
	HealableFailureTypes []string      `yaml:"healableFailureTypes"`
	AutoRetry            bool          `yaml:"autoRetry"`
	SimilarityThreshold  float64       `yaml:"similarityThreshold"`
}

// UnmarshalYAML accepts maxTotalTime either as a duration string ("5m") or
// as a bare integer number of milliseconds (300000).
func (h *HealingConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain HealingConfig
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if key.Value != "maxTotalTime" || val.ShortTag() != "!!int" {
				continue
			}
			ms, err := strconv.ParseInt(val.Value, 0, 64)
			if err != nil {
				return fmt.Errorf("healing.maxTotalTime: %w", err)
			}
			d := *val
			d.Tag = "!!str"
			d.Value = (time.Duration(ms) * time.Millisecond).String()
			node.Content[i+1] = &d
		}
	}
	return node.Decode((*plain)(h))
}

// parseMillisOrDuration reads "300000" as milliseconds and anything else as
// a Go duration.
func parseMillisOrDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// LLMConfig selects and tunes the completion service.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	BaseURL           string        `yaml:"baseURL"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"maxTokens"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
}

// CacheConfig controls the response cache and its snapshot file.
type CacheConfig struct {
	DefaultTTL     time.Duration `yaml:"defaultTTL"`
	MaxSize        int           `yaml:"maxSize"`
	EvictionPolicy string        `yaml:"evictionPolicy"`
	PersistPath    string        `yaml:"persistPath"`
}

// RunnerConfig controls test re-execution.
type RunnerConfig struct {
	ProjectDir string        `yaml:"projectDir"`
	TestDir    string        `yaml:"testDir"`
	Command    []string      `yaml:"command"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig enables persistence when DatabaseURL is set.
type StoreConfig struct {
	DatabaseURL string `yaml:"databaseURL"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// ConfigurationError reports an invalid setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// Load initialises Config from a YAML file and environment overrides. An
// empty path falls back to TESTMEND_CONFIG; with neither set the defaults
// are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TESTMEND_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = ProviderAPIKey(cfg.LLM.Provider)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Healing: HealingConfig{
			MaxAttemptsPerTest:   2,
			MaxTotalTime:         5 * time.Minute,
			MinConfidence:        0.6,
			HealableFailureTypes: kindNames(models.DefaultHealableKinds()),
			AutoRetry:            true,
			SimilarityThreshold:  0.8,
		},
		LLM: LLMConfig{
			Provider:          string(llm.ProviderGoogle),
			Timeout:           60 * time.Second,
			MaxRetries:        3,
			Temperature:       0.2,
			MaxTokens:         4096,
			RequestsPerMinute: 30,
		},
		Cache: CacheConfig{
			DefaultTTL:     24 * time.Hour,
			MaxSize:        1000,
			EvictionPolicy: cache.PolicyLRU,
		},
		Runner: RunnerConfig{
			ProjectDir: ".",
			Timeout:    2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func kindNames(kinds []models.FailureKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// ProviderAPIKey reads the conventional API key variable of a provider.
func ProviderAPIKey(provider string) string {
	switch llm.Provider(provider) {
	case llm.ProviderGoogle:
		return os.Getenv("GOOGLE_API_KEY")
	case llm.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case llm.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TESTMEND_MAX_ATTEMPTS_PER_TEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Healing.MaxAttemptsPerTest = n
		}
	}
	if v := os.Getenv("TESTMEND_MAX_TOTAL_TIME"); v != "" {
		if d, err := parseMillisOrDuration(v); err == nil {
			cfg.Healing.MaxTotalTime = d
		}
	}
	if v := os.Getenv("TESTMEND_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Healing.MinConfidence = f
		}
	}
	if v := os.Getenv("TESTMEND_HEALABLE_FAILURE_TYPES"); v != "" {
		cfg.Healing.HealableFailureTypes = splitList(v)
	}
	if v := os.Getenv("TESTMEND_AUTO_RETRY"); v != "" {
		cfg.Healing.AutoRetry = parseBool(v)
	}
	if v := os.Getenv("TESTMEND_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("TESTMEND_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TESTMEND_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TESTMEND_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TESTMEND_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("TESTMEND_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxRetries = n
		}
	}
	if v := os.Getenv("TESTMEND_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DefaultTTL = d
		}
	}
	if v := os.Getenv("TESTMEND_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("TESTMEND_CACHE_PATH"); v != "" {
		cfg.Cache.PersistPath = v
	}
	if v := os.Getenv("TESTMEND_PROJECT_DIR"); v != "" {
		cfg.Runner.ProjectDir = v
	}
	if v := os.Getenv("TESTMEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TESTMEND_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TESTMEND_DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("TESTMEND_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks every setting and returns the first ConfigurationError.
func (c *Config) Validate() error {
	h := c.Healing
	if h.MaxAttemptsPerTest < 1 {
		return &ConfigurationError{Field: "healing.maxAttemptsPerTest", Reason: "must be at least 1"}
	}
	if h.MaxTotalTime <= 0 {
		return &ConfigurationError{Field: "healing.maxTotalTime", Reason: "must be positive"}
	}
	if h.MinConfidence < 0 || h.MinConfidence > 1 {
		return &ConfigurationError{Field: "healing.minConfidence", Reason: "must be between 0 and 1"}
	}
	if _, err := c.HealableKinds(); err != nil {
		return err
	}
	if h.SimilarityThreshold <= 0 || h.SimilarityThreshold > 1 {
		return &ConfigurationError{Field: "healing.similarityThreshold", Reason: "must be in (0, 1]"}
	}
	if !llm.Provider(c.LLM.Provider).Valid() {
		return &ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	if c.LLM.MaxRetries < 0 {
		return &ConfigurationError{Field: "llm.maxRetries", Reason: "must not be negative"}
	}
	if c.Cache.MaxSize < 1 {
		return &ConfigurationError{Field: "cache.maxSize", Reason: "must be at least 1"}
	}
	if c.Cache.EvictionPolicy != cache.PolicyLRU {
		return &ConfigurationError{Field: "cache.evictionPolicy", Reason: fmt.Sprintf("unsupported policy %q", c.Cache.EvictionPolicy)}
	}
	return nil
}

// HealableKinds parses the configured healable failure types.
func (c *Config) HealableKinds() ([]models.FailureKind, error) {
	kinds := make([]models.FailureKind, 0, len(c.Healing.HealableFailureTypes))
	for _, name := range c.Healing.HealableFailureTypes {
		k, ok := models.ParseFailureKind(name)
		if !ok {
			return nil, &ConfigurationError{Field: "healing.healableFailureTypes", Reason: fmt.Sprintf("unknown failure type %q", name)}
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
