package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamilpajak/testmend/internal/cache"
	"github.com/kamilpajak/testmend/internal/classifier"
	"github.com/kamilpajak/testmend/internal/config"
	"github.com/kamilpajak/testmend/internal/filestore"
	"github.com/kamilpajak/testmend/internal/healing"
	"github.com/kamilpajak/testmend/internal/llm"
	"github.com/kamilpajak/testmend/internal/metrics"
	"github.com/kamilpajak/testmend/internal/regen"
	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/internal/runner"
	"github.com/kamilpajak/testmend/internal/store"
	"github.com/kamilpajak/testmend/pkg/models"
)

var (
	healOldSpec  string
	healNewSpec  string
	healProvider string
	healModel    string
	healFormat   string
	healNoAI     bool
	healNoRetry  bool
	healBackup   bool
)

var healCmd = &cobra.Command{
	Use:   "heal <report.json>",
	Short: "Heal the failing tests of a Playwright JSON report",
	Long: `Heal reads a Playwright JSON report, classifies every failing test and
rewrites the healable ones. With --old-spec and --new-spec the OpenAPI
changes between the two documents guide the rewrites.

Examples:
  testmend heal ./results.json --old-spec api-v1.yaml --new-spec api-v2.yaml
  testmend heal ./results.json --no-ai --format json
  testmend heal ./results.json --provider anthropic --no-retry`,
	Args: cobra.ExactArgs(1),
	RunE: runHeal,
}

func init() {
	healCmd.Flags().StringVar(&healOldSpec, "old-spec", "", "OpenAPI document the tests were written against")
	healCmd.Flags().StringVar(&healNewSpec, "new-spec", "", "Current OpenAPI document")
	healCmd.Flags().StringVarP(&healProvider, "provider", "p", "", "LLM provider (google, openai, anthropic)")
	healCmd.Flags().StringVarP(&healModel, "model", "m", "", "Specific model name")
	healCmd.Flags().StringVarP(&healFormat, "format", "f", "text", "Output format (text, json)")
	healCmd.Flags().BoolVar(&healNoAI, "no-ai", false, "Only apply rule-based rewrites")
	healCmd.Flags().BoolVar(&healNoRetry, "no-retry", false, "Do not re-run healed tests")
	healCmd.Flags().BoolVar(&healBackup, "backup", false, "Keep a .orig copy of every rewritten test")
}

func runHeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if healProvider != "" && healProvider != cfg.LLM.Provider {
		cfg.LLM.Provider = healProvider
		cfg.LLM.APIKey = config.ProviderAPIKey(healProvider)
	}
	if healModel != "" {
		cfg.LLM.Model = healModel
	}
	if healNoRetry {
		cfg.Healing.AutoRetry = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := cmd.ErrOrStderr()
	report, err := runner.ParseReportFile(args[0])
	if err != nil {
		return err
	}
	if !report.HasFailures() {
		fmt.Fprintln(cmd.OutOrStdout(), "No test failures found.")
		return nil
	}

	files := filestore.New(cfg.Runner.ProjectDir)
	if healBackup {
		files.BackupSuffix = ".orig"
	}
	failures := runner.Failures(report, cfg.Runner.TestDir, files, logger)
	fmt.Fprintf(stderr, "Found %d failures in %d tests\n", len(failures), report.TotalTests)

	changes, err := loadChanges(healOldSpec, healNewSpec, logger)
	if err != nil {
		return err
	}

	collectors := metrics.New()
	if cfg.Metrics.Address != "" {
		reg := prometheus.NewRegistry()
		if err := collectors.Register(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, reg); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	respCache, err := openCache(cfg, logger, cache.WithObserver(collectors.CacheEvent))
	if err != nil {
		return err
	}
	if cfg.Cache.PersistPath != "" {
		defer func() {
			if err := respCache.SaveFile(cfg.Cache.PersistPath); err != nil {
				logger.Warn("failed to save cache", zap.Error(err))
			}
		}()
	}

	var db *store.Store
	if cfg.Store.DatabaseURL != "" {
		if err := store.Migrate(cfg.Store.DatabaseURL); err != nil {
			return err
		}
		db, err = store.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := loadPriorAttempts(ctx, db, failures); err != nil {
			return err
		}
	}

	strategies, err := buildStrategies(cfg, respCache, logger)
	if err != nil {
		return err
	}

	c, err := newClassifier(cfg, logger)
	if err != nil {
		return err
	}
	r := runner.New(cfg.Runner.ProjectDir,
		runner.WithCommand(cfg.Runner.Command...),
		runner.WithTimeout(cfg.Runner.Timeout),
		runner.WithLogger(logger))

	emitter := newEmitter(stderr, healFormat == "json")
	defer emitter.Close()

	orch, err := healing.New(healing.Config{
		MaxAttemptsPerTest: cfg.Healing.MaxAttemptsPerTest,
		MaxTotalTime:       cfg.Healing.MaxTotalTime,
		AutoRetry:          cfg.Healing.AutoRetry,
	}, c, strategies,
		healing.WithRunner(r),
		healing.WithFileStore(files),
		healing.WithRecorder(collectors),
		healing.WithEmitter(emitter),
		healing.WithLogger(logger))
	if err != nil {
		return err
	}

	result := orch.Run(ctx, failures, changes)
	emitter.Close()

	if db != nil {
		if err := db.SaveRun(context.WithoutCancel(ctx), result); err != nil {
			logger.Error("failed to save run", zap.Error(err))
		}
	}

	if healFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	printReport(stderr, cmd.OutOrStdout(), result)
	if result.Failed > 0 {
		return errors.New("some tests could not be healed")
	}
	return nil
}

func newClassifier(cfg *config.Config, logger *zap.Logger) (*classifier.Classifier, error) {
	kinds, err := cfg.HealableKinds()
	if err != nil {
		return nil, err
	}
	return classifier.New(classifier.Policy{
		HealableKinds: kinds,
		MinConfidence: cfg.Healing.MinConfidence,
	}, classifier.WithLogger(logger)), nil
}

func openCache(cfg *config.Config, logger *zap.Logger, opts ...cache.Option) (*cache.Cache, error) {
	opts = append(opts, cache.WithLogger(logger))
	c, err := cache.New(cache.Config{
		DefaultTTL:     cfg.Cache.DefaultTTL,
		MaxSize:        cfg.Cache.MaxSize,
		EvictionPolicy: cfg.Cache.EvictionPolicy,
	}, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.PersistPath != "" {
		if _, err := c.LoadFile(cfg.Cache.PersistPath); err != nil {
			logger.Warn("ignoring unreadable cache snapshot", zap.String("path", cfg.Cache.PersistPath), zap.Error(err))
		}
	}
	return c, nil
}

// buildStrategies returns the rule strategy, followed by the AI strategy
// when a key is available and AI is not disabled.
func buildStrategies(cfg *config.Config, respCache *cache.Cache, logger *zap.Logger) ([]healing.Strategy, error) {
	strategies := []healing.Strategy{
		healing.NewRuleStrategy(rules.New(
			rules.WithSimilarityThreshold(cfg.Healing.SimilarityThreshold),
			rules.WithLogger(logger))),
	}
	if healNoAI {
		return strategies, nil
	}
	if cfg.LLM.APIKey == "" {
		logger.Info("no API key configured, AI regeneration disabled", zap.String("provider", cfg.LLM.Provider))
		return strategies, nil
	}

	clientOpts := []llm.ClientOption{
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithRequestsPerMinute(cfg.LLM.RequestsPerMinute),
	}
	if cfg.LLM.BaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	completer, err := llm.NewProvider(llm.Provider(cfg.LLM.Provider), cfg.LLM.APIKey, cfg.LLM.Model, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	retry := regen.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries
	regenerator := regen.New(completer, regen.Config{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Retry:       retry,
	}, regen.WithCache(respCache), regen.WithLogger(logger))

	return append(strategies, healing.NewAIStrategy(regenerator)), nil
}

// loadPriorAttempts counts attempts from earlier runs against the budget.
func loadPriorAttempts(ctx context.Context, db *store.Store, failures []models.FailedTestCase) error {
	for i := range failures {
		n, err := db.CountAttempts(ctx, failures[i].ID)
		if err != nil {
			return fmt.Errorf("failed to count attempts for %s: %w", failures[i].ID, err)
		}
		failures[i].PriorAttempts = n
	}
	return nil
}
