package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kamilpajak/testmend/pkg/models"
)

// Run is a stored run summary.
type Run struct {
	ID             uuid.UUID
	StartedAt      time.Time
	FinishedAt     time.Time
	TotalTests     int
	Processed      int
	Healable       int
	Healed         int
	Failed         int
	NonHealable    int
	BudgetExceeded int
	Stopped        bool
	Stats          *models.ReportStats
	CreatedAt      time.Time
}

const runColumns = `id, started_at, finished_at, total_tests, processed, healable, healed, failed, non_healable, budget_exceeded, stopped, stats, created_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var statsJSON []byte
	err := row.Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.TotalTests, &r.Processed, &r.Healable,
		&r.Healed, &r.Failed, &r.NonHealable, &r.BudgetExceeded, &r.Stopped, &statsJSON, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if statsJSON != nil {
		r.Stats = &models.ReportStats{}
		if err := json.Unmarshal(statsJSON, r.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode run stats: %w", err)
		}
	}
	return &r, nil
}

// attemptRecord is one healing_attempts row.
type attemptRecord struct {
	ID          uuid.UUID
	TestID      string
	FailureKind string
	Outcome     models.HealOutcome
	Attempt     models.HealingAttempt
}

// attemptRecords collects the attempts made in a run, paired with the
// outcome of the test they belong to.
func attemptRecords(report *models.HealingReport) ([]attemptRecord, error) {
	var out []attemptRecord
	for _, res := range report.Results {
		if res.Attempt == nil {
			continue
		}
		id, err := uuid.Parse(res.Attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt id %q: %w", res.Attempt.ID, err)
		}
		rec := attemptRecord{ID: id, TestID: res.TestID, Outcome: res.Outcome, Attempt: *res.Attempt}
		if res.Analysis != nil {
			rec.FailureKind = string(res.Analysis.Kind)
		}
		if rec.Attempt.AppliedRules == nil {
			rec.Attempt.AppliedRules = []string{}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveRun stores a run summary and its attempts in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *models.HealingReport) error {
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}
	records, err := attemptRecords(report)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode run stats: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO healing_runs (id, started_at, finished_at, total_tests, processed, healable, healed, failed, non_healable, budget_exceeded, stopped, stats)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		runID, report.StartedAt, report.FinishedAt, report.TotalTests, report.Processed, report.Healable,
		report.Healed, report.Failed, report.NonHealable, report.BudgetExceeded, report.Stopped, statsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(records) > 0 {
		batch := &pgx.Batch{}
		for _, r := range records {
			a := r.Attempt
			batch.Queue(
				`INSERT INTO healing_attempts (id, run_id, test_id, test_name, failure_kind, strategy, outcome, success, error,
				   confidence, tokens_used, cost_usd, cached, applied_rules, source_diff, started_at, finished_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				r.ID, runID, r.TestID, a.TestName, r.FailureKind, string(a.Strategy), string(r.Outcome), a.Success, a.Error,
				a.Confidence, a.TokensUsed, a.CostUSD, a.Cached, a.AppliedRules, a.SourceDiff, a.StartedAt, a.FinishedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert attempts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM healing_runs WHERE id = $1`,
		id,
	)
	return scanRun(row)
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM healing_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore deletes runs, and their attempts, started before t.
func (s *Store) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx,
		`DELETE FROM healing_runs WHERE started_at < $1`,
		t,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
