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

// LotRepository handles database operations for lots and genealogy edges
type LotRepository struct {
	db *db.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(database *db.DB) *LotRepository {
	return &LotRepository{db: database}
}

const lotColumns = `id, lot_code, lot_type, status, step_index, weight_kg, temperature_c, production_run_id, metadata, created_at, updated_at`

func scanLot(row pgx.Row) (*models.Lot, error) {
	lot := &models.Lot{}
	var metadataJSON []byte
	err := row.Scan(
		&lot.ID,
		&lot.LotCode,
		&lot.LotType,
		&lot.Status,
		&lot.StepIndex,
		&lot.WeightKG,
		&lot.TemperatureC,
		&lot.ProductionRunID,
		&metadataJSON,
		&lot.CreatedAt,
		&lot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &lot.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode lot metadata: %w", err)
		}
	}
	return lot, nil
}

// InsertLot inserts a new lot
func (r *LotRepository) InsertLot(ctx context.Context, lot *models.Lot) error {
	metadataJSON, err := json.Marshal(lot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode lot metadata: %w", err)
	}

	query := `
		INSERT INTO lots (` + lotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Q(ctx).Exec(ctx, query,
		lot.ID,
		lot.LotCode,
		lot.LotType,
		lot.Status,
		lot.StepIndex,
		lot.WeightKG,
		lot.TemperatureC,
		lot.ProductionRunID,
		metadataJSON,
		lot.CreatedAt,
		lot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}

	return nil
}

// GetLot retrieves a lot by ID
func (r *LotRepository) GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`

	lot, err := scanLot(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "lot", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}

	return lot, nil
}

// GetLotByCode retrieves a lot by its code
func (r *LotRepository) GetLotByCode(ctx context.Context, code string) (*models.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE lot_code = $1`

	lot, err := scanLot(r.db.Q(ctx).QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "lot", Ref: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot by code: %w", err)
	}

	return lot, nil
}

// LotsByIDs retrieves lots for a set of IDs
func (r *LotRepository) LotsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Lot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = ANY($1)`

	rows, err := r.db.Q(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots by IDs: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// ListLotsByRun retrieves all lots produced by a run
func (r *LotRepository) ListLotsByRun(ctx context.Context, runID uuid.UUID) ([]*models.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE production_run_id = $1 ORDER BY created_at`

	rows, err := r.db.Q(ctx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots by run: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// SetLotStatus writes a lot's status guarded on the expected current
// status. Returns false when the guard did not match, meaning a concurrent
// writer got there first; the caller re-reads and re-validates.
func (r *LotRepository) SetLotStatus(ctx context.Context, lotID uuid.UUID, from, to models.LotStatus) (bool, error) {
	query := `
		UPDATE lots
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query, lotID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to set lot status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// CountBlockedLots counts lots of a run at a step whose status blocks
// progression (HOLD or REJECTED)
func (r *LotRepository) CountBlockedLots(ctx context.Context, runID uuid.UUID, stepIndex int) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM lots
		WHERE production_run_id = $1 AND step_index = $2 AND status IN ('HOLD', 'REJECTED')
	`

	if err := r.db.Q(ctx).QueryRow(ctx, query, runID, stepIndex).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocked lots: %w", err)
	}

	return count, nil
}

const edgeColumns = `id, parent_lot_id, child_lot_id, quantity_used_kg, event_ref, created_at`

func scanEdge(row pgx.Row) (*models.GenealogyEdge, error) {
	edge := &models.GenealogyEdge{}
	err := row.Scan(
		&edge.ID,
		&edge.ParentLotID,
		&edge.ChildLotID,
		&edge.QuantityUsedKG,
		&edge.EventRef,
		&edge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// InsertGenealogyEdges appends genealogy edges. There is deliberately no
// update or delete counterpart.
func (r *LotRepository) InsertGenealogyEdges(ctx context.Context, edges []*models.GenealogyEdge) error {
	query := `
		INSERT INTO lot_genealogy (` + edgeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, edge := range edges {
		_, err := r.db.Q(ctx).Exec(ctx, query,
			edge.ID,
			edge.ParentLotID,
			edge.ChildLotID,
			edge.QuantityUsedKG,
			edge.EventRef,
			edge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert genealogy edge: %w", err)
		}
	}

	return nil
}

// ParentEdges retrieves edges pointing at the parents of a lot
func (r *LotRepository) ParentEdges(ctx context.Context, childLotID uuid.UUID) ([]*models.GenealogyEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM lot_genealogy WHERE child_lot_id = $1`

	return r.queryEdges(ctx, query, childLotID)
}

// ChildEdges retrieves edges pointing at the children of a lot
func (r *LotRepository) ChildEdges(ctx context.Context, parentLotID uuid.UUID) ([]*models.GenealogyEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM lot_genealogy WHERE parent_lot_id = $1`

	return r.queryEdges(ctx, query, parentLotID)
}

func (r *LotRepository) queryEdges(ctx context.Context, query string, lotID uuid.UUID) ([]*models.GenealogyEdge, error) {
	rows, err := r.db.Q(ctx).Query(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query genealogy edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.GenealogyEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan genealogy edge: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genealogy edges: %w", err)
	}

	return edges, nil
}
