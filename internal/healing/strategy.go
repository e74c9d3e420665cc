package healing

import (
	"context"
	"fmt"
	"strings"

	"github.com/kamilpajak/testmend/internal/regen"
	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/pkg/models"
)

// Request is the input to one healing strategy.
type Request struct {
	Test     models.FailedTestCase
	Source   string
	Analysis models.FailureAnalysis
	Changes  []models.SpecChange
}

// Outcome is a candidate rewrite produced by a strategy.
type Outcome struct {
	Source       string
	Confidence   float64
	AppliedRules []string
	TokensUsed   int
	CostUSD      float64
	Cached       bool
	// Written is set when the strategy already persisted Source.
	Written bool
}

// Strategy produces a rewrite of a failing test. An error means the
// strategy could not produce a valid rewrite.
type Strategy interface {
	Name() models.Strategy
	Heal(ctx context.Context, req Request) (*Outcome, error)
}

// RuleStrategy rewrites tests deterministically from specification changes.
type RuleStrategy struct {
	Healer *rules.Healer
}

// NewRuleStrategy wraps a rules.Healer.
func NewRuleStrategy(h *rules.Healer) *RuleStrategy {
	return &RuleStrategy{Healer: h}
}

// Name implements Strategy.
func (s *RuleStrategy) Name() models.Strategy { return models.StrategyRuleBased }

// Heal implements Strategy.
func (s *RuleStrategy) Heal(_ context.Context, req Request) (*Outcome, error) {
	res := s.Healer.Heal(req.Source, req.Changes)
	if !res.Success {
		return nil, fmt.Errorf("rule-based rewrite rejected: %s", strings.Join(res.Problems, "; "))
	}
	return &Outcome{
		Source:       res.Source,
		Confidence:   res.Confidence,
		AppliedRules: res.AppliedNames(),
	}, nil
}

// AIStrategy asks a completion service for the rewrite.
type AIStrategy struct {
	Regenerator *regen.Regenerator
}

// NewAIStrategy wraps a regen.Regenerator.
func NewAIStrategy(r *regen.Regenerator) *AIStrategy {
	return &AIStrategy{Regenerator: r}
}

// Name implements Strategy.
func (s *AIStrategy) Name() models.Strategy { return models.StrategyAI }

// Heal implements Strategy.
func (s *AIStrategy) Heal(ctx context.Context, req Request) (*Outcome, error) {
	res, err := s.Regenerator.Regenerate(ctx, regen.Context{
		TestName: req.Test.Name,
		FilePath: req.Test.FilePath,
		Source:   req.Source,
		Analysis: req.Analysis,
		Changes:  req.Changes,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Source:     res.Source,
		Confidence: req.Analysis.Confidence,
		TokensUsed: res.TokensUsed,
		CostUSD:    res.CostUSD,
		Cached:     res.Cached,
		Written:    res.Written,
	}, nil
}
