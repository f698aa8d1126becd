package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QCRepository handles database operations for QC gates and decisions
type QCRepository struct {
	db *db.DB
}

// NewQCRepository creates a new QC repository
func NewQCRepository(database *db.DB) *QCRepository {
	return &QCRepository{db: database}
}

const gateColumns = `id, gate_number, name, gate_type, is_ccp, checklist, limit_expr, created_at`

func scanGate(row pgx.Row) (*models.QCGate, error) {
	gate := &models.QCGate{}
	var checklistJSON []byte
	err := row.Scan(
		&gate.ID,
		&gate.GateNumber,
		&gate.Name,
		&gate.GateType,
		&gate.IsCCP,
		&checklistJSON,
		&gate.LimitExpr,
		&gate.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(checklistJSON) > 0 {
		if err := json.Unmarshal(checklistJSON, &gate.Checklist); err != nil {
			return nil, fmt.Errorf("failed to decode gate checklist: %w", err)
		}
	}
	return gate, nil
}

// InsertGate inserts a new QC gate
func (r *QCRepository) InsertGate(ctx context.Context, gate *models.QCGate) error {
	checklistJSON, err := json.Marshal(gate.Checklist)
	if err != nil {
		return fmt.Errorf("failed to encode gate checklist: %w", err)
	}

	query := `
		INSERT INTO qc_gates (` + gateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Q(ctx).Exec(ctx, query,
		gate.ID,
		gate.GateNumber,
		gate.Name,
		gate.GateType,
		gate.IsCCP,
		checklistJSON,
		gate.LimitExpr,
		gate.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert qc gate: %w", err)
	}

	return nil
}

// GetGate retrieves a QC gate by ID
func (r *QCRepository) GetGate(ctx context.Context, id uuid.UUID) (*models.QCGate, error) {
	query := `SELECT ` + gateColumns + ` FROM qc_gates WHERE id = $1`

	gate, err := scanGate(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "qc gate", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get qc gate: %w", err)
	}

	return gate, nil
}

// InsertDecision appends a QC decision record
func (r *QCRepository) InsertDecision(ctx context.Context, d *models.QCDecision) error {
	query := `
		INSERT INTO qc_decisions (id, lot_id, qc_gate_id, operator_id, decision, notes, temperature_c, signature, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Q(ctx).Exec(ctx, query,
		d.ID,
		d.LotID,
		d.QCGateID,
		d.OperatorID,
		d.Decision,
		d.Notes,
		d.TemperatureC,
		d.Signature,
		d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert qc decision: %w", err)
	}

	return nil
}

// DecisionsForLot retrieves a lot's decisions, newest first
func (r *QCRepository) DecisionsForLot(ctx context.Context, lotID uuid.UUID) ([]*models.QCDecision, error) {
	query := `
		SELECT id, lot_id, qc_gate_id, operator_id, decision, notes, temperature_c, signature, decided_at
		FROM qc_decisions
		WHERE lot_id = $1
		ORDER BY decided_at DESC
	`

	rows, err := r.db.Q(ctx).Query(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qc decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.QCDecision
	for rows.Next() {
		d := &models.QCDecision{}
		err := rows.Scan(
			&d.ID,
			&d.LotID,
			&d.QCGateID,
			&d.OperatorID,
			&d.Decision,
			&d.Notes,
			&d.TemperatureC,
			&d.Signature,
			&d.DecidedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qc decision: %w", err)
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qc decisions: %w", err)
	}

	return decisions, nil
}
