package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RunRepository handles database operations for production runs and their
// step execution records
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

const runColumns = `id, run_code, status, flow_version_id, current_step_index, step_count, started_by, idempotency_key, hold_reason, started_at, completed_at, created_at`

func scanRun(row pgx.Row) (*models.ProductionRun, error) {
	run := &models.ProductionRun{}
	err := row.Scan(
		&run.ID,
		&run.RunCode,
		&run.Status,
		&run.FlowVersionID,
		&run.CurrentStepIndex,
		&run.StepCount,
		&run.StartedBy,
		&run.IdempotencyKey,
		&run.HoldReason,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// InsertRunIdempotent inserts a run unless one with the same idempotency
// key already exists. Returns true when the row was inserted. The unique
// index on idempotency_key makes check-then-insert a single atomic step.
func (r *RunRepository) InsertRunIdempotent(ctx context.Context, run *models.ProductionRun) (bool, error) {
	query := `
		INSERT INTO production_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query,
		run.ID,
		run.RunCode,
		run.Status,
		run.FlowVersionID,
		run.CurrentStepIndex,
		run.StepCount,
		run.StartedBy,
		run.IdempotencyKey,
		run.HoldReason,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert run: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error) {
	query := `SELECT ` + runColumns + ` FROM production_runs WHERE id = $1`

	run, err := scanRun(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "production run", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// GetRunForUpdate retrieves a run with a row lock. Concurrent advance,
// hold and abort calls serialize on this lock.
func (r *RunRepository) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error) {
	query := `SELECT ` + runColumns + ` FROM production_runs WHERE id = $1 FOR UPDATE`

	run, err := scanRun(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "production run", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run for update: %w", err)
	}

	return run, nil
}

// GetRunByIdempotencyKey retrieves a run by its idempotency key
func (r *RunRepository) GetRunByIdempotencyKey(ctx context.Context, key string) (*models.ProductionRun, error) {
	query := `SELECT ` + runColumns + ` FROM production_runs WHERE idempotency_key = $1`

	run, err := scanRun(r.db.Q(ctx).QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "production run", Ref: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by idempotency key: %w", err)
	}

	return run, nil
}

// ListRuns retrieves runs newest first
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*models.ProductionRun, error) {
	query := `SELECT ` + runColumns + ` FROM production_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Q(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ProductionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// UpdateRun persists the mutable fields of a run
func (r *RunRepository) UpdateRun(ctx context.Context, run *models.ProductionRun) error {
	query := `
		UPDATE production_runs
		SET status = $2, current_step_index = $3, hold_reason = $4, started_at = $5, completed_at = $6
		WHERE id = $1
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query,
		run.ID,
		run.Status,
		run.CurrentStepIndex,
		run.HoldReason,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "production run", Ref: run.ID.String()}
	}

	return nil
}

// NextRunSeq allocates the next daily sequence number for run codes with
// the given prefix (RUN-YYYYMMDD-SITE-). Callers must hold a transaction;
// an advisory lock on the prefix serializes concurrent allocations.
func (r *RunRepository) NextRunSeq(ctx context.Context, prefix string) (int, error) {
	if _, err := r.db.Q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix); err != nil {
		return 0, fmt.Errorf("failed to lock run code prefix: %w", err)
	}

	// Compare the numeric suffix, not the code string: past 9999 the
	// suffix widens to five digits and string MAX would sort it low.
	var max int
	query := `
		SELECT COALESCE(MAX(CAST(SUBSTRING(run_code FROM CHAR_LENGTH($1) + 1) AS INTEGER)), 0)
		FROM production_runs
		WHERE run_code LIKE $1 || '%'`

	if err := r.db.Q(ctx).QueryRow(ctx, query, prefix).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max run sequence: %w", err)
	}

	return max + 1, nil
}

const stepColumns = `id, run_id, step_index, node_id, status, started_at, completed_at, operator_id, created_at`

func scanStep(row pgx.Row) (*models.RunStepExecution, error) {
	step := &models.RunStepExecution{}
	err := row.Scan(
		&step.ID,
		&step.RunID,
		&step.StepIndex,
		&step.NodeID,
		&step.Status,
		&step.StartedAt,
		&step.CompletedAt,
		&step.OperatorID,
		&step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return step, nil
}

// InsertSteps inserts the full set of step execution records for a run
func (r *RunRepository) InsertSteps(ctx context.Context, steps []*models.RunStepExecution) error {
	query := `
		INSERT INTO run_step_executions (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, step := range steps {
		_, err := r.db.Q(ctx).Exec(ctx, query,
			step.ID,
			step.RunID,
			step.StepIndex,
			step.NodeID,
			step.Status,
			step.StartedAt,
			step.CompletedAt,
			step.OperatorID,
			step.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.StepIndex, err)
		}
	}

	return nil
}

// StepsForRun retrieves all step records of a run ordered by step_index
func (r *RunRepository) StepsForRun(ctx context.Context, runID uuid.UUID) ([]*models.RunStepExecution, error) {
	query := `SELECT ` + stepColumns + ` FROM run_step_executions WHERE run_id = $1 ORDER BY step_index`

	rows, err := r.db.Q(ctx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.RunStepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// GetStep retrieves one step record by run and index
func (r *RunRepository) GetStep(ctx context.Context, runID uuid.UUID, stepIndex int) (*models.RunStepExecution, error) {
	query := `SELECT ` + stepColumns + ` FROM run_step_executions WHERE run_id = $1 AND step_index = $2`

	step, err := scanStep(r.db.Q(ctx).QueryRow(ctx, query, runID, stepIndex))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "run step", Ref: fmt.Sprintf("%s/%d", runID, stepIndex)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}

	return step, nil
}

// UpdateStep persists the mutable fields of a step record
func (r *RunRepository) UpdateStep(ctx context.Context, step *models.RunStepExecution) error {
	query := `
		UPDATE run_step_executions
		SET status = $3, started_at = $4, completed_at = $5, operator_id = $6
		WHERE run_id = $1 AND step_index = $2
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query,
		step.RunID,
		step.StepIndex,
		step.Status,
		step.StartedAt,
		step.CompletedAt,
		step.OperatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "run step", Ref: fmt.Sprintf("%s/%d", step.RunID, step.StepIndex)}
	}

	return nil
}

// SkipUnfinishedSteps marks every step of a run that is not COMPLETED as
// SKIPPED. Used when a run is aborted or finished early.
func (r *RunRepository) SkipUnfinishedSteps(ctx context.Context, runID uuid.UUID, at time.Time) error {
	query := `
		UPDATE run_step_executions
		SET status = 'SKIPPED', completed_at = $2
		WHERE run_id = $1 AND status <> 'COMPLETED'
	`

	_, err := r.db.Q(ctx).Exec(ctx, query, runID, at)
	if err != nil {
		return fmt.Errorf("failed to skip unfinished steps: %w", err)
	}

	return nil
}
