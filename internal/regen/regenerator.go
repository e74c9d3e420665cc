// Package regen asks a completion service to rewrite a broken test.
package regen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kamilpajak/testmend/internal/cache"
	"github.com/kamilpajak/testmend/internal/llm"
)

// Default sampling parameters.
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 4096
)

// SourceWriter persists a regenerated test.
type SourceWriter interface {
	Write(path, content string) error
}

// Config controls sampling and retries.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Retry       RetryConfig
}

// DefaultConfig returns the default sampling and retry settings.
func DefaultConfig() Config {
	return Config{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Retry:       DefaultRetryConfig(),
	}
}

// Result is a validated regeneration.
type Result struct {
	Source     string  `json:"source"`
	Model      string  `json:"model"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
	Cached     bool    `json:"cached"`
	Calls      int     `json:"calls"`
	Written    bool    `json:"written"`
	WriteError string  `json:"write_error,omitempty"`
}

// cachedCompletion is what the response cache stores.
type cachedCompletion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

type completion struct {
	resp  *llm.Response
	calls int
}

// Regenerator sends assembled prompts to a Completer with retry, caching
// and in-flight de-duplication.
type Regenerator struct {
	completer llm.Completer
	assembler *Assembler
	cache     *cache.Cache
	writer    SourceWriter
	clock     Clock
	random    func() float64
	cfg       Config
	logger    *zap.Logger
	group     singleflight.Group
}

// Option configures a Regenerator.
type Option func(*Regenerator)

// WithCache enables response caching.
func WithCache(c *cache.Cache) Option {
	return func(r *Regenerator) { r.cache = c }
}

// WithWriter enables write-back of regenerated sources.
func WithWriter(w SourceWriter) Option {
	return func(r *Regenerator) { r.writer = w }
}

// WithClock overrides the clock used for backoff.
func WithClock(c Clock) Option {
	return func(r *Regenerator) { r.clock = c }
}

// WithRandom overrides the jitter source.
func WithRandom(f func() float64) Option {
	return func(r *Regenerator) { r.random = f }
}

// WithAssembler replaces the prompt assembler.
func WithAssembler(a *Assembler) Option {
	return func(r *Regenerator) { r.assembler = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Regenerator) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Regenerator. Zero config values take defaults.
func New(completer llm.Completer, cfg Config, opts ...Option) *Regenerator {
	def := DefaultConfig()
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Model == "" && completer != nil {
		cfg.Model = completer.Model()
	}

	r := &Regenerator{
		completer: completer,
		assembler: NewAssembler(),
		clock:     SystemClock{},
		random:    rand.Float64,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Regenerate asks for a repaired version of c.Source. A ValidationError
// means the service answered but the code was rejected.
func (r *Regenerator) Regenerate(ctx context.Context, c Context) (*Result, error) {
	if r.completer == nil {
		return nil, fmt.Errorf("no completion service configured")
	}

	prompt, err := r.assembler.Build(c)
	if err != nil {
		return nil, err
	}
	opts := llm.Options{Model: r.cfg.Model, Temperature: r.cfg.Temperature, MaxTokens: r.cfg.MaxTokens}
	key := cache.Key(prompt.System, prompt.User, opts.Model,
		strconv.FormatFloat(opts.Temperature, 'f', -1, 64), strconv.Itoa(opts.MaxTokens))

	var (
		result Result
		fresh  *llm.Response
	)
	if r.lookup(key, &result) {
		r.logger.Debug("regeneration served from cache", zap.String("test", c.TestName))
	} else {
		v, err, shared := r.group.Do(key, func() (any, error) {
			return r.completeWithRetry(ctx, prompt, opts)
		})
		if err != nil {
			return nil, err
		}
		comp := v.(completion)
		result = Result{
			Source: ExtractCode(comp.resp.Content),
			Model:  comp.resp.Model,
			Calls:  comp.calls,
		}
		// Only one caller of a shared flight accounts for its tokens.
		if shared {
			result.Cached = true
		} else {
			result.TokensUsed = comp.resp.TokensUsed()
			result.CostUSD = llm.EstimateCost(comp.resp.Model, comp.resp.InputTokens, comp.resp.OutputTokens)
		}
		fresh = comp.resp
	}

	if err := Validate(result.Source); err != nil {
		return nil, err
	}
	if fresh != nil {
		r.store(key, fresh)
	}

	if r.writer != nil && c.FilePath != "" {
		if err := r.writer.Write(c.FilePath, result.Source+"\n"); err != nil {
			r.logger.Warn("failed to write regenerated test",
				zap.String("path", c.FilePath), zap.Error(err))
			result.WriteError = err.Error()
		} else {
			result.Written = true
		}
	}
	return &result, nil
}

func (r *Regenerator) lookup(key string, out *Result) bool {
	if r.cache == nil {
		return false
	}
	var cc cachedCompletion
	found, err := r.cache.Decode(key, &cc)
	if err != nil {
		r.logger.Warn("discarding unreadable cache entry", zap.Error(err))
		r.cache.Delete(key)
		return false
	}
	if !found {
		return false
	}
	*out = Result{Source: ExtractCode(cc.Content), Model: cc.Model, Cached: true}
	return true
}

func (r *Regenerator) store(key string, resp *llm.Response) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(key, cachedCompletion{Content: resp.Content, Model: resp.Model}); err != nil {
		r.logger.Warn("failed to cache completion", zap.Error(err))
	}
}

// completeWithRetry retries rate-limit and transport failures with
// exponential backoff. Other errors return immediately.
func (r *Regenerator) completeWithRetry(ctx context.Context, prompt Prompt, opts llm.Options) (completion, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retry.MaxRetries; attempt++ {
		resp, err := r.completer.Complete(ctx, prompt.Messages(), opts)
		if err == nil {
			return completion{resp: resp, calls: attempt + 1}, nil
		}
		lastErr = err

		if !llm.Retryable(err) {
			return completion{}, fmt.Errorf("completion failed: %w", err)
		}
		if attempt == r.cfg.Retry.MaxRetries {
			break
		}

		wait := r.cfg.Retry.delay(attempt, err, r.random)
		r.logger.Warn("completion failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return completion{}, fmt.Errorf("retry wait interrupted: %w", err)
		}
	}
	return completion{}, fmt.Errorf("completion failed after %d retries: %w", r.cfg.Retry.MaxRetries, lastErr)
}
