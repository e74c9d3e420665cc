package healing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/kamilpajak/testmend/internal/classifier"
	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const brokenTest = `import { test, expect } from '@playwright/test';

test('get user', async ({ request }) => {
  const res = await request.get('/users/1');
  expect(res.status()).toBe(200);
});
`

var statusChange = models.SpecChange{
	Kind:     models.ChangeStatusCodeChanged,
	Path:     "paths./users/{id}.get.responses",
	Endpoint: "GET /users/{id}",
	OldValue: 200,
	NewValue: 201,
	Severity: models.SeverityBreaking,
}

func failingTest(name, message string) models.FailedTestCase {
	return models.FailedTestCase{
		Name:     name,
		FilePath: "tests/" + name + ".spec.ts",
		Outcome:  models.TestCase{Name: name, Status: models.StatusFailed, ErrorMessage: message},
	}
}

type stubStrategy struct {
	name  models.Strategy
	heal  func(req Request) (*Outcome, error)
	calls []Request
}

func (s *stubStrategy) Name() models.Strategy { return s.name }

func (s *stubStrategy) Heal(_ context.Context, req Request) (*Outcome, error) {
	s.calls = append(s.calls, req)
	return s.heal(req)
}

func failingStrategy(name models.Strategy) *stubStrategy {
	return &stubStrategy{name: name, heal: func(Request) (*Outcome, error) {
		return nil, errors.New("no rewrite")
	}}
}

func rewriteStrategy(name models.Strategy, from, to string) *stubStrategy {
	return &stubStrategy{name: name, heal: func(req Request) (*Outcome, error) {
		return &Outcome{Source: strings.ReplaceAll(req.Source, from, to), Confidence: 0.9, TokensUsed: 100, CostUSD: 0.01}, nil
	}}
}

type memFiles struct {
	mu     sync.Mutex
	files  map[string]string
	writes int
}

func newMemFiles(files map[string]string) *memFiles {
	return &memFiles{files: files}
}

func (m *memFiles) Read(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok {
		return "", errors.New("not found")
	}
	return s, nil
}

func (m *memFiles) Write(path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	m.writes++
	return nil
}

type runnerFunc func(path, name string) (models.TestCase, error)

func (f runnerFunc) RunTest(_ context.Context, path, name string) (models.TestCase, error) {
	return f(path, name)
}

// passWhen passes re-runs whose file content contains marker.
func passWhen(files *memFiles, marker string) runnerFunc {
	return func(path, name string) (models.TestCase, error) {
		src, _ := files.Read(path)
		if strings.Contains(src, marker) {
			return models.TestCase{Name: name, Status: models.StatusPassed}, nil
		}
		return models.TestCase{Name: name, Status: models.StatusFailed, ErrorMessage: "Expected: 200\nReceived: 201"}, nil
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, strategies []Strategy, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	o, err := New(cfg, classifier.New(classifier.DefaultPolicy()), strategies, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{failingStrategy(models.StrategyAI)})

	report := o.Run(context.Background(), nil, nil)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.TotalTests)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Healed)
	assert.Empty(t, report.Results)
	assert.Zero(t, report.Stats.SuccessRate)
	assert.NotNil(t, report.Stats.TotalsByKind)
	assert.Empty(t, report.Stats.TopFailureKinds)
	assert.Same(t, report, o.Report())
}

func TestRun_RuleStrategyHealsAndVerifies(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	files := newMemFiles(map[string]string{tc.FilePath: brokenTest})
	strategy := NewRuleStrategy(rules.New())

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{strategy},
		WithFileStore(files), WithRunner(passWhen(files, "toBe(201)")))

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, []models.SpecChange{statusChange})
	require.Len(t, report.Results, 1)
	res := report.Results[0]

	assert.Equal(t, models.OutcomeHealed, res.Outcome, res.Reason)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, models.FailureStatusCodeChanged, res.Analysis.Kind)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, models.StrategyRuleBased, res.Attempt.Strategy)
	assert.True(t, res.Attempt.Success)
	assert.NotEmpty(t, res.Attempt.AppliedRules)
	assert.Contains(t, res.Attempt.SourceDiff, "-  expect(res.status()).toBe(200);")
	assert.Contains(t, res.Attempt.SourceDiff, "+  expect(res.status()).toBe(201);")
	assert.Contains(t, files.files[tc.FilePath], "toBe(201)")

	assert.Equal(t, 1, report.Healed)
	assert.Equal(t, 1, report.Healable)
	assert.InDelta(t, 1.0, report.Stats.SuccessRate, 1e-9)
}

func TestRun_AttemptBudgetPerTest(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	tc.Source = brokenTest
	strategy := failingStrategy(models.StrategyAI)
	cfg := DefaultConfig()
	cfg.MaxAttemptsPerTest = 2
	o := newTestOrchestrator(t, cfg, []Strategy{strategy})

	for i := 0; i < 2; i++ {
		report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
		assert.Equal(t, models.OutcomeFailed, report.Results[0].Outcome)
		assert.Len(t, report.Attempts, 1)
	}

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	res := report.Results[0]
	assert.Equal(t, models.OutcomeBudgetExceeded, res.Outcome)
	assert.Nil(t, res.Analysis, "budget check happens before analysis")
	assert.Contains(t, res.Reason, "2 of 2 attempts")
	assert.Empty(t, report.Attempts)
	assert.Equal(t, 1, report.BudgetExceeded)
	assert.Len(t, strategy.calls, 2)

	id := models.TestID(tc.FilePath, tc.Name)
	assert.Len(t, o.Attempts(id), 2)
	o.ClearLedger()
	assert.Empty(t, o.Attempts(id))
}

func TestRun_PriorAttemptsCountTowardBudget(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	tc.Source = brokenTest
	tc.PriorAttempts = 2
	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{failingStrategy(models.StrategyAI)})

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	assert.Equal(t, models.OutcomeBudgetExceeded, report.Results[0].Outcome)
}

func TestRun_NonHealable(t *testing.T) {
	tests := []struct {
		name    string
		message string
		reason  string
	}{
		{"timeout kind", "Test timeout of 30000ms exceeded.", "not healable"},
		{"low confidence", "the schema is not what we thought", "below 0.60"},
		{"no error information", "", "no error information"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := failingTest("t", tt.message)
			tc.Source = brokenTest
			strategy := failingStrategy(models.StrategyAI)
			o := newTestOrchestrator(t, DefaultConfig(), []Strategy{strategy})

			report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
			res := report.Results[0]
			assert.Equal(t, models.OutcomeNonHealable, res.Outcome)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Nil(t, res.Attempt)
			assert.Empty(t, strategy.calls)
			assert.Equal(t, 1, report.NonHealable)
		})
	}
}

func TestRun_FallbackStrategy(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	files := newMemFiles(map[string]string{tc.FilePath: brokenTest})
	first := failingStrategy(models.StrategyRuleBased)
	second := rewriteStrategy(models.StrategyAI, "toBe(200)", "toBe(201)")

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{first, second},
		WithFileStore(files), WithRunner(passWhen(files, "toBe(201)")))

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	res := report.Results[0]
	assert.Equal(t, models.OutcomeHealed, res.Outcome)
	assert.Equal(t, models.StrategyFallback, res.Attempt.Strategy)
	assert.Equal(t, 100, res.Attempt.TokensUsed)
	assert.Equal(t, brokenTest, second.calls[0].Source)
}

func TestRun_HybridStrategy(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	files := newMemFiles(map[string]string{tc.FilePath: brokenTest})
	first := rewriteStrategy(models.StrategyRuleBased, "/users/1", "/v2/users/1")
	second := rewriteStrategy(models.StrategyAI, "toBe(200)", "toBe(201)")

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{first, second},
		WithFileStore(files), WithRunner(passWhen(files, "toBe(201)")))

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	res := report.Results[0]
	require.Equal(t, models.OutcomeHealed, res.Outcome, res.Reason)
	assert.Equal(t, models.StrategyHybrid, res.Attempt.Strategy)
	assert.Contains(t, second.calls[0].Source, "/v2/users/1", "AI step builds on the rule rewrite")
	assert.Equal(t, 200, res.Attempt.TokensUsed)
	assert.Contains(t, files.files[tc.FilePath], "/v2/users/1")
}

func TestRun_FailedVerificationRestoresSource(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	files := newMemFiles(map[string]string{tc.FilePath: brokenTest})
	strategy := rewriteStrategy(models.StrategyAI, "toBe(200)", "toBe(202)")

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{strategy},
		WithFileStore(files), WithRunner(passWhen(files, "toBe(201)")))

	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	res := report.Results[0]
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, "ai: re-run failed: Expected: 200", res.Reason)
	assert.Equal(t, brokenTest, files.files[tc.FilePath])
	assert.Equal(t, 2, files.writes)
	assert.NotEmpty(t, res.Attempt.SourceDiff)
	assert.Equal(t, 1, report.Healable)
}

func TestRun_AutoRetryDisabled(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	tc.Source = brokenTest
	runs := 0
	runner := runnerFunc(func(string, string) (models.TestCase, error) {
		runs++
		return models.TestCase{Status: models.StatusFailed}, nil
	})
	cfg := DefaultConfig()
	cfg.AutoRetry = false

	o := newTestOrchestrator(t, cfg, []Strategy{rewriteStrategy(models.StrategyAI, "200", "201")}, WithRunner(runner))
	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	assert.Equal(t, models.OutcomeHealed, report.Results[0].Outcome)
	assert.Zero(t, runs)
}

func TestRun_PanicsBecomeResults(t *testing.T) {
	good := failingTest("good", "Expected status 200, received 404")
	good.Source = brokenTest
	bad := failingTest("bad", "Expected status 200, received 404")
	bad.Source = brokenTest
	explode := failingTest("explode", "Expected status 200, received 404")
	explode.Source = brokenTest

	panicky := &stubStrategy{name: models.StrategyAI, heal: func(req Request) (*Outcome, error) {
		if req.Test.Name == "bad" {
			panic("boom")
		}
		return &Outcome{Source: req.Source + "// healed\n"}, nil
	}}
	runner := runnerFunc(func(path, name string) (models.TestCase, error) {
		if name == "explode" {
			panic("runner exploded")
		}
		return models.TestCase{Status: models.StatusPassed}, nil
	})

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{panicky}, WithRunner(runner))
	report := o.Run(context.Background(), []models.FailedTestCase{bad, explode, good}, nil)

	require.Len(t, report.Results, 3)
	assert.Equal(t, models.OutcomeFailed, report.Results[0].Outcome)
	assert.Contains(t, report.Results[0].Reason, "strategy panicked: boom")
	assert.Equal(t, models.OutcomeFailed, report.Results[1].Outcome)
	assert.Equal(t, "internal error: runner exploded", report.Results[1].Reason)
	assert.Equal(t, models.OutcomeHealed, report.Results[2].Outcome)
}

func TestRun_RunnerErrorIsReason(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	tc.Source = brokenTest
	runner := runnerFunc(func(string, string) (models.TestCase, error) {
		return models.TestCase{}, errors.New("npx not found")
	})

	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{rewriteStrategy(models.StrategyAI, "200", "201")}, WithRunner(runner))
	report := o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	assert.Equal(t, "ai: re-run failed: npx not found", report.Results[0].Reason)
}

func TestRun_TotalTimeBudget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	slow := &stubStrategy{name: models.StrategyAI, heal: func(req Request) (*Outcome, error) {
		now = now.Add(2 * time.Minute)
		return nil, errors.New("slow failure")
	}}
	cfg := DefaultConfig()
	cfg.MaxTotalTime = time.Minute

	tests := []models.FailedTestCase{
		failingTest("a", "Expected status 200, received 404"),
		failingTest("b", "Expected status 200, received 404"),
		failingTest("c", "Expected status 200, received 404"),
	}
	for i := range tests {
		tests[i].Source = brokenTest
	}

	o := newTestOrchestrator(t, cfg, []Strategy{slow}, WithClock(clock))
	report := o.Run(context.Background(), tests, nil)

	assert.True(t, report.Stopped)
	assert.Equal(t, 3, report.TotalTests)
	assert.Equal(t, 1, report.Processed)
	assert.Len(t, slow.calls, 1)
	assert.Equal(t, 2*time.Minute, report.Stats.AverageHealingLatency)
}

func TestRun_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tc := failingTest("a", "Expected status 200, received 404")
	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{failingStrategy(models.StrategyAI)})
	report := o.Run(ctx, []models.FailedTestCase{tc}, nil)
	assert.True(t, report.Stopped)
	assert.Zero(t, report.Processed)
}

func TestRun_ProgressAndRecorder(t *testing.T) {
	tc := failingTest("get-user", "Expected status 200, received 404")
	tc.Source = brokenTest

	var buf bytes.Buffer
	rec := &recordingRecorder{}
	o := newTestOrchestrator(t, DefaultConfig(), []Strategy{rewriteStrategy(models.StrategyAI, "200", "201")},
		WithEmitter(&TextEmitter{W: &buf}), WithRecorder(rec))

	o.Run(context.Background(), []models.FailedTestCase{tc}, nil)
	assert.Equal(t, "[1/1] get-user\n[1/1]   trying ai\n[1/1]   healed\n", buf.String())
	assert.Equal(t, []models.HealOutcome{models.OutcomeHealed}, rec.outcomes)
}

type recordingRecorder struct {
	outcomes []models.HealOutcome
}

func (r *recordingRecorder) RecordAttempt(_ models.HealingAttempt, outcome models.HealOutcome) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestNew_Validation(t *testing.T) {
	c := classifier.New(classifier.DefaultPolicy())
	s := []Strategy{failingStrategy(models.StrategyAI)}

	_, err := New(Config{MaxAttemptsPerTest: 0}, c, s)
	assert.Error(t, err)
	_, err = New(DefaultConfig(), nil, s)
	assert.Error(t, err)
	_, err = New(DefaultConfig(), c, nil)
	assert.Error(t, err)
}

func TestRelevantChanges(t *testing.T) {
	orderChange := models.SpecChange{Kind: models.ChangeEndpointRemoved, Endpoint: "GET /orders"}
	schemaOnly := models.SpecChange{Kind: models.ChangePropertyAdded, Path: "components.schemas.Orphan.properties.x"}
	changes := []models.SpecChange{statusChange, orderChange, schemaOnly}

	got := relevantChanges(changes, nil, brokenTest)
	if diff := cmp.Diff([]models.SpecChange{statusChange, schemaOnly}, got); diff != "" {
		t.Errorf("relevantChanges mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, changes, relevantChanges(changes, nil, "no requests here"))

	got = relevantChanges(changes, []models.Endpoint{{Method: "GET", Path: "/orders"}}, brokenTest)
	assert.Equal(t, []models.SpecChange{orderChange, schemaOnly}, got)
}
