// Package healing sequences classification, rewrite strategies and
// verification for a batch of failing tests.
package healing

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kamilpajak/testmend/internal/classifier"
	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/internal/specdiff"
	"github.com/kamilpajak/testmend/pkg/models"
)

// TestRunner re-executes a single test.
type TestRunner interface {
	RunTest(ctx context.Context, path, name string) (models.TestCase, error)
}

// FileStore reads and overwrites test sources.
type FileStore interface {
	Read(path string) (string, error)
	Write(path, content string) error
}

// Recorder receives per-attempt measurements, typically for metrics.
type Recorder interface {
	RecordAttempt(a models.HealingAttempt, outcome models.HealOutcome)
}

// Config holds the healing budgets.
type Config struct {
	MaxAttemptsPerTest int
	MaxTotalTime       time.Duration
	AutoRetry          bool
}

// DefaultConfig returns 2 attempts per test, a 5 minute run budget and
// auto-retry on.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerTest: 2,
		MaxTotalTime:       5 * time.Minute,
		AutoRetry:          true,
	}
}

// Orchestrator is the healing control loop. Tests are processed one at a
// time in input order.
type Orchestrator struct {
	cfg        Config
	classifier *classifier.Classifier
	strategies []Strategy
	runner     TestRunner
	files      FileStore
	recorder   Recorder
	emitter    ProgressEmitter
	now        func() time.Time
	logger     *zap.Logger

	mu     sync.Mutex
	ledger map[string][]models.HealingAttempt
	last   *models.HealingReport
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner sets the runner used to verify healed tests.
func WithRunner(r TestRunner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithFileStore sets the store used to read, write and restore sources.
func WithFileStore(f FileStore) Option {
	return func(o *Orchestrator) { o.files = f }
}

// WithRecorder registers an attempt recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEmitter registers a progress emitter.
func WithEmitter(e ProgressEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator. Strategies are tried in order.
func New(cfg Config, c *classifier.Classifier, strategies []Strategy, opts ...Option) (*Orchestrator, error) {
	if cfg.MaxAttemptsPerTest < 1 {
		return nil, fmt.Errorf("max attempts per test must be at least 1, got %d", cfg.MaxAttemptsPerTest)
	}
	if c == nil {
		return nil, errors.New("classifier is required")
	}
	if len(strategies) == 0 {
		return nil, errors.New("at least one healing strategy is required")
	}
	o := &Orchestrator{
		cfg:        cfg,
		classifier: c,
		strategies: strategies,
		now:        time.Now,
		logger:     zap.NewNop(),
		ledger:     make(map[string][]models.HealingAttempt),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Attempts returns the recorded attempts for a test.
func (o *Orchestrator) Attempts(testID string) []models.HealingAttempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.ledger[testID])
}

// ClearLedger forgets all recorded attempts.
func (o *Orchestrator) ClearLedger() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledger = make(map[string][]models.HealingAttempt)
}

// Report returns the report of the most recent run, or nil.
func (o *Orchestrator) Report() *models.HealingReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// Run heals tests in order and always returns a report. The run budget is
// checked before each test; a test in progress is never interrupted.
func (o *Orchestrator) Run(ctx context.Context, tests []models.FailedTestCase, changes []models.SpecChange) *models.HealingReport {
	start := o.now()
	report := &models.HealingReport{
		RunID:      uuid.NewString(),
		StartedAt:  start,
		TotalTests: len(tests),
		Results:    []models.TestHealResult{},
		Attempts:   make(map[string][]models.HealingAttempt),
	}

	o.logger.Info("healing run started",
		zap.String("run_id", report.RunID),
		zap.Int("tests", len(tests)),
		zap.Int("changes", len(changes)))

	for i, t := range tests {
		if elapsed := o.now().Sub(start); o.cfg.MaxTotalTime > 0 && elapsed >= o.cfg.MaxTotalTime {
			err := &BudgetExceededError{Scope: ScopeRun, Elapsed: elapsed, MaxTotal: o.cfg.MaxTotalTime}
			o.logger.Warn("stopping run", zap.Error(err), zap.Int("remaining", len(tests)-i))
			o.emit(ProgressEvent{Type: "error", Message: err.Error()})
			report.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			o.logger.Warn("stopping run", zap.Error(err), zap.Int("remaining", len(tests)-i))
			report.Stopped = true
			break
		}

		o.emit(ProgressEvent{Type: "test", Index: i + 1, Total: len(tests), Test: t.Name})
		res := o.process(ctx, i+1, len(tests), t, changes)
		report.Results = append(report.Results, res)
		if res.Attempt != nil {
			report.Attempts[res.TestID] = append(report.Attempts[res.TestID], *res.Attempt)
		}
		o.emit(ProgressEvent{Type: "result", Index: i + 1, Total: len(tests), Test: t.Name, Message: describeResult(res)})
	}

	report.FinishedAt = o.now()
	tally(report)
	report.Stats = computeStats(report.Results, report.Attempts)

	o.logger.Info("healing run finished",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.Processed),
		zap.Int("healed", report.Healed),
		zap.Int("failed", report.Failed),
		zap.Bool("stopped", report.Stopped))

	o.mu.Lock()
	o.last = report
	o.mu.Unlock()
	return report
}

func tally(r *models.HealingReport) {
	r.Processed = len(r.Results)
	for _, res := range r.Results {
		switch res.Outcome {
		case models.OutcomeHealed:
			r.Healed++
			r.Healable++
		case models.OutcomeFailed:
			r.Failed++
			if res.Analysis != nil && res.Analysis.Healable {
				r.Healable++
			}
		case models.OutcomeNonHealable:
			r.NonHealable++
		case models.OutcomeBudgetExceeded:
			r.BudgetExceeded++
		}
	}
}

func describeResult(res models.TestHealResult) string {
	if res.Reason == "" {
		return string(res.Outcome)
	}
	return fmt.Sprintf("%s: %s", res.Outcome, res.Reason)
}

// process handles one test. Any panic from a stage becomes a failed result.
func (o *Orchestrator) process(ctx context.Context, index, total int, t models.FailedTestCase, changes []models.SpecChange) (res models.TestHealResult) {
	id := t.ID
	if id == "" {
		id = models.TestID(t.FilePath, t.Name)
	}
	res = models.TestHealResult{TestID: id, TestName: t.Name, FilePath: t.FilePath}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("healing stage panicked",
				zap.String("test", id), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.Outcome = models.OutcomeFailed
			res.Reason = fmt.Sprintf("internal error: %v", r)
		}
	}()

	used := len(o.Attempts(id)) + t.PriorAttempts
	if used >= o.cfg.MaxAttemptsPerTest {
		err := &BudgetExceededError{Scope: ScopeTest, TestID: id, Attempts: used, Limit: o.cfg.MaxAttemptsPerTest}
		o.logger.Debug("skipping test", zap.Error(err))
		res.Outcome = models.OutcomeBudgetExceeded
		res.Reason = err.Error()
		return res
	}

	source := t.Source
	if source == "" && o.files != nil && t.FilePath != "" {
		s, err := o.files.Read(t.FilePath)
		if err != nil {
			o.logger.Warn("failed to read test source", zap.String("test", id), zap.Error(err))
		}
		source = s
	}

	relevant := relevantChanges(changes, t.Endpoints, source)
	analysis, err := o.classifier.ClassifyOutcome(t.Outcome, source, relevant)
	if err != nil {
		o.logger.Debug("classification failed", zap.String("test", id), zap.Error(err))
		res.Outcome = models.OutcomeNonHealable
		res.Reason = err.Error()
		return res
	}
	res.Analysis = &analysis
	o.logger.Debug("test classified",
		zap.String("test", id),
		zap.String("kind", string(analysis.Kind)),
		zap.Float64("confidence", analysis.Confidence))

	if !analysis.Healable {
		policy := o.classifier.Policy()
		err := &NonHealableError{Kind: analysis.Kind, Confidence: analysis.Confidence, MinConfidence: policy.MinConfidence}
		res.Outcome = models.OutcomeNonHealable
		res.Reason = err.Error()
		return res
	}
	if source == "" {
		res.Outcome = models.OutcomeFailed
		res.Reason = "test source unavailable"
		return res
	}

	attempt := o.heal(ctx, index, total, t, id, source, analysis, relevant)
	o.mu.Lock()
	o.ledger[id] = append(o.ledger[id], attempt)
	o.mu.Unlock()
	res.Attempt = &attempt

	if attempt.Success {
		res.Outcome = models.OutcomeHealed
	} else {
		res.Outcome = models.OutcomeFailed
		res.Reason = attempt.Error
	}
	if o.recorder != nil {
		o.recorder.RecordAttempt(attempt, res.Outcome)
	}
	o.logger.Info("healing attempt finished",
		zap.String("test", id),
		zap.String("strategy", string(attempt.Strategy)),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", attempt.Duration()))
	return res
}

// relevantChanges narrows changes to the endpoints the test calls. Without
// known endpoints every change is relevant.
func relevantChanges(changes []models.SpecChange, endpoints []models.Endpoint, source string) []models.SpecChange {
	if len(endpoints) == 0 {
		endpoints = rules.InferEndpoints(source)
	}
	if len(endpoints) == 0 {
		return changes
	}

	seen := make(map[int]bool)
	var out []models.SpecChange
	for _, ep := range endpoints {
		for _, ch := range specdiff.ForEndpoint(changes, ep.Method, ep.Path) {
			idx := slices.IndexFunc(changes, func(c models.SpecChange) bool { return sameChange(c, ch) })
			if idx >= 0 && !seen[idx] {
				seen[idx] = true
				out = append(out, ch)
			}
		}
	}
	// Schema-level changes that name no endpoint still matter.
	for i, ch := range changes {
		if !seen[i] && ch.Endpoint == "" && len(ch.AffectedEndpoints) == 0 {
			seen[i] = true
			out = append(out, ch)
		}
	}
	return out
}

func sameChange(a, b models.SpecChange) bool {
	return a.Kind == b.Kind && a.Path == b.Path && a.Endpoint == b.Endpoint && a.Field == b.Field
}

// heal tries each strategy in order until one produces a verified rewrite.
// A later strategy receives the previous rewrite when that rewrite was
// valid but failed verification.
func (o *Orchestrator) heal(ctx context.Context, index, total int, t models.FailedTestCase, id, source string, analysis models.FailureAnalysis, changes []models.SpecChange) models.HealingAttempt {
	attempt := models.HealingAttempt{
		ID:        uuid.NewString(),
		TestID:    id,
		TestName:  t.Name,
		Strategy:  o.strategies[0].Name(),
		StartedAt: o.now(),
	}

	req := Request{Test: t, Source: source, Analysis: analysis, Changes: changes}
	var (
		reasons  []string
		final    string
		chained  bool
		modified bool
	)
	for i, s := range o.strategies {
		attempt.Strategy = s.Name()
		o.emit(ProgressEvent{Type: "strategy", Index: index, Total: total, Test: t.Name, Strategy: string(s.Name())})

		out, err := o.runStrategy(ctx, s, req)
		if err != nil {
			o.logger.Debug("strategy failed", zap.String("test", id), zap.String("strategy", string(s.Name())), zap.Error(err))
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}

		attempt.TokensUsed += out.TokensUsed
		attempt.CostUSD += out.CostUSD
		attempt.Cached = attempt.Cached || out.Cached
		attempt.AppliedRules = append(attempt.AppliedRules, out.AppliedRules...)
		attempt.Confidence = out.Confidence
		final = out.Source

		if out.Written {
			modified = true
		} else if o.files != nil && t.FilePath != "" {
			if err := o.files.Write(t.FilePath, out.Source); err != nil {
				o.logger.Warn("failed to write healed test", zap.String("path", t.FilePath), zap.Error(err))
			} else {
				modified = true
			}
		}

		ok, reason := o.verify(ctx, t)
		if ok {
			attempt.Success = true
			switch {
			case chained:
				attempt.Strategy = models.StrategyHybrid
			case i > 0:
				attempt.Strategy = models.StrategyFallback
			}
			break
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", s.Name(), reason))
		req.Source = out.Source
		chained = true
	}

	if !attempt.Success {
		attempt.Error = strings.Join(reasons, "; ")
		if modified {
			o.restore(t.FilePath, source)
		}
	}
	if final != "" {
		attempt.SourceDiff = unifiedDiff(source, final)
	}
	attempt.FinishedAt = o.now()
	return attempt
}

func (o *Orchestrator) runStrategy(ctx context.Context, s Strategy, req Request) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	out, err = s.Heal(ctx, req)
	if err == nil && out == nil {
		err = errors.New("strategy returned no rewrite")
	}
	return out, err
}

// verify re-runs the test when auto-retry is on. Without auto-retry a
// validated rewrite counts as healed.
func (o *Orchestrator) verify(ctx context.Context, t models.FailedTestCase) (bool, string) {
	if !o.cfg.AutoRetry || o.runner == nil {
		return true, ""
	}
	outcome, err := o.runner.RunTest(ctx, t.FilePath, t.Name)
	if err != nil {
		return false, fmt.Sprintf("re-run failed: %v", err)
	}
	if outcome.Status == models.StatusPassed {
		return true, ""
	}
	msg := firstLine(classifier.StripANSI(outcome.ErrorMessage))
	if msg == "" {
		return false, fmt.Sprintf("re-run %s", outcome.Status)
	}
	return false, fmt.Sprintf("re-run %s: %s", outcome.Status, msg)
}

func (o *Orchestrator) restore(path, source string) {
	if o.files == nil || path == "" {
		return
	}
	if err := o.files.Write(path, source); err != nil {
		o.logger.Warn("failed to restore original test", zap.String("path", path), zap.Error(err))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
