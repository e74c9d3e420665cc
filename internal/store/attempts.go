package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/kamilpajak/testmend/pkg/models"
)

// StoredAttempt is a healing attempt with the run and outcome it belongs to.
type StoredAttempt struct {
	models.HealingAttempt
	RunID       uuid.UUID
	FailureKind models.FailureKind
	Outcome     models.HealOutcome
}

// ListAttempts returns the attempts recorded for a test, newest first.
func (s *Store) ListAttempts(ctx context.Context, testID string, limit int) ([]StoredAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, test_id, test_name, failure_kind, strategy, outcome, success, error,
		        confidence, tokens_used, cost_usd, cached, applied_rules, source_diff, started_at, finished_at
		 FROM healing_attempts
		 WHERE test_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		testID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []StoredAttempt
	for rows.Next() {
		var (
			a        StoredAttempt
			id       uuid.UUID
			kind     string
			strategy string
			outcome  string
		)
		if err := rows.Scan(
			&id, &a.RunID, &a.TestID, &a.TestName, &kind, &strategy, &outcome, &a.Success, &a.Error,
			&a.Confidence, &a.TokensUsed, &a.CostUSD, &a.Cached, &a.AppliedRules, &a.SourceDiff, &a.StartedAt, &a.FinishedAt,
		); err != nil {
			return nil, err
		}
		a.ID = id.String()
		a.FailureKind = models.FailureKind(kind)
		a.Strategy = models.Strategy(strategy)
		a.Outcome = models.HealOutcome(outcome)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountAttempts returns how many attempts have been recorded for a test
// across all runs.
func (s *Store) CountAttempts(ctx context.Context, testID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM healing_attempts WHERE test_id = $1`,
		testID,
	).Scan(&count)
	return count, err
}
