// Package postgres persists smoke-run reports so repeated runs against a
// title build up a history that can be queried after the fact.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/playfab-go/internal/smoke"
)

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// RecordRun writes the run header and one row per step in a single
// transaction. Implements smoke.Recorder.
func (s *Store) RecordRun(ctx context.Context, run smoke.RunResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx record smoke run: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	runModel := smokeRunModel{
		RunID:                run.RunID,
		TitleID:              run.TitleID,
		Iterations:           run.Iterations,
		StartedAt:            run.StartedAt,
		FinishedAt:           run.FinishedAt,
		OKCount:              run.OKCount,
		FailedCount:          run.FailedCount,
		ExpectedFailureCount: run.ExpectedFailureCount,
	}
	if _, err := tx.NamedExecContext(ctx, `
INSERT INTO smoke_runs (run_id, title_id, iterations, started_at, finished_at, ok_count, failed_count, expected_failure_count)
VALUES (:run_id, :title_id, :iterations, :started_at, :finished_at, :ok_count, :failed_count, :expected_failure_count)`,
		runModel,
	); err != nil {
		return fmt.Errorf("insert smoke run run_id=%s: %w", run.RunID, err)
	}

	for _, step := range run.Steps {
		stepModel := smokeRunStepModel{
			RunID:      run.RunID,
			Iteration:  step.Iteration,
			Step:       step.Step,
			Status:     string(step.Status),
			DurationMs: step.DurationMs,
			Detail:     nullableString(step.Detail),
			Error:      nullableString(step.Error),
		}
		if _, err := tx.NamedExecContext(ctx, `
INSERT INTO smoke_run_steps (run_id, iteration, step, status, duration_ms, detail, error)
VALUES (:run_id, :iteration, :step, :status, :duration_ms, :detail, :error)`,
			stepModel,
		); err != nil {
			return fmt.Errorf("insert smoke run step run_id=%s step=%s: %w", run.RunID, step.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record smoke run tx: %w", err)
	}

	return nil
}

// LatestRuns returns the most recent run headers, newest first.
func (s *Store) LatestRuns(ctx context.Context, limit int) ([]smoke.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []smokeRunModel
	if err := s.db.SelectContext(ctx, &rows, `
SELECT run_id, title_id, iterations, started_at, finished_at, ok_count, failed_count, expected_failure_count
FROM smoke_runs
ORDER BY started_at DESC
LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("select smoke runs: %w", err)
	}

	out := make([]smoke.RunResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, smoke.RunResult{
			RunID:                row.RunID,
			TitleID:              row.TitleID,
			Iterations:           row.Iterations,
			StartedAt:            row.StartedAt,
			FinishedAt:           row.FinishedAt,
			OKCount:              row.OKCount,
			FailedCount:          row.FailedCount,
			ExpectedFailureCount: row.ExpectedFailureCount,
		})
	}
	return out, nil
}

type smokeRunModel struct {
	RunID                string    `db:"run_id"`
	TitleID              string    `db:"title_id"`
	Iterations           int       `db:"iterations"`
	StartedAt            time.Time `db:"started_at"`
	FinishedAt           time.Time `db:"finished_at"`
	OKCount              int       `db:"ok_count"`
	FailedCount          int       `db:"failed_count"`
	ExpectedFailureCount int       `db:"expected_failure_count"`
}

type smokeRunStepModel struct {
	RunID      string  `db:"run_id"`
	Iteration  int     `db:"iteration"`
	Step       string  `db:"step"`
	Status     string  `db:"status"`
	DurationMs int64   `db:"duration_ms"`
	Detail     *string `db:"detail"`
	Error      *string `db:"error"`
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
