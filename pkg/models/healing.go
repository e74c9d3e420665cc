package models

import "time"

// Strategy names the healing path that produced an attempt's outcome.
type Strategy string

const (
	// StrategyRuleBased is deterministic rewriting from spec changes.
	StrategyRuleBased Strategy = "rule-based"
	// StrategyAI is model-assisted regeneration.
	StrategyAI Strategy = "ai"
	// StrategyHybrid means a later strategy built on an earlier strategy's
	// rewrite that compiled but did not pass on re-run.
	StrategyHybrid Strategy = "hybrid"
	// StrategyFallback means a later strategy succeeded after earlier
	// strategies failed outright.
	StrategyFallback Strategy = "fallback"
)

// HealOutcome is the terminal state of one test in a healing pass.
type HealOutcome string

const (
	OutcomeHealed         HealOutcome = "healed"
	OutcomeFailed         HealOutcome = "failed"
	OutcomeNonHealable    HealOutcome = "non-healable"
	OutcomeBudgetExceeded HealOutcome = "budget-exceeded"
)

// HealingAttempt is one recorded try to repair a failing test.
type HealingAttempt struct {
	ID           string    `json:"id"`
	TestID       string    `json:"test_id"`
	TestName     string    `json:"test_name"`
	Strategy     Strategy  `json:"strategy"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	TokensUsed   int       `json:"tokens_used,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	Cached       bool      `json:"cached,omitempty"`
	AppliedRules []string  `json:"applied_rules,omitempty"`
	SourceDiff   string    `json:"source_diff,omitempty"`
}

// Duration returns how long the attempt took.
func (a HealingAttempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

// TestHealResult records what happened to one failing test.
type TestHealResult struct {
	TestID   string           `json:"test_id"`
	TestName string           `json:"test_name"`
	FilePath string           `json:"file_path"`
	Outcome  HealOutcome      `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	Analysis *FailureAnalysis `json:"analysis,omitempty"`
	Attempt  *HealingAttempt  `json:"attempt,omitempty"`
}

// KindCount pairs a failure kind with an occurrence count.
type KindCount struct {
	Kind  FailureKind `json:"kind"`
	Count int         `json:"count"`
}

// ReportStats are derived once per run from results and attempts.
type ReportStats struct {
	SuccessRate           float64                 `json:"success_rate"`
	SuccessRateByKind     map[FailureKind]float64 `json:"success_rate_by_kind"`
	TotalsByKind          map[FailureKind]int     `json:"totals_by_kind"`
	AverageHealingLatency time.Duration           `json:"average_healing_latency"`
	TotalTokens           int                     `json:"total_tokens"`
	TotalCostUSD          float64                 `json:"total_cost_usd"`
	CachedAttempts        int                     `json:"cached_attempts"`
	TopFailureKinds       []KindCount             `json:"top_failure_kinds"`
}

// HealingReport is the read-only output of one orchestrator run.
type HealingReport struct {
	RunID          string                      `json:"run_id"`
	StartedAt      time.Time                   `json:"started_at"`
	FinishedAt     time.Time                   `json:"finished_at"`
	TotalTests     int                         `json:"total_tests"`
	Processed      int                         `json:"processed"`
	Healable       int                         `json:"healable"`
	Healed         int                         `json:"healed"`
	NonHealable    int                         `json:"non_healable"`
	Failed         int                         `json:"failed"`
	BudgetExceeded int                         `json:"budget_exceeded"`
	Stopped        bool                        `json:"stopped"`
	Results        []TestHealResult            `json:"results"`
	Attempts       map[string][]HealingAttempt `json:"attempts"`
	Stats          ReportStats                 `json:"stats"`
}
