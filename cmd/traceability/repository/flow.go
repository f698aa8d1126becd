package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FlowRepository handles database operations for flow definitions and versions
type FlowRepository struct {
	db *db.DB
}

// NewFlowRepository creates a new flow repository
func NewFlowRepository(database *db.DB) *FlowRepository {
	return &FlowRepository{db: database}
}

// CreateDefinition inserts a new flow definition
func (r *FlowRepository) CreateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	query := `
		INSERT INTO flow_definitions (id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Q(ctx).Exec(ctx, query,
		def.ID,
		def.Name,
		def.Description,
		def.CreatedBy,
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create flow definition: %w", err)
	}

	return nil
}

// GetDefinition retrieves a flow definition by ID
func (r *FlowRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*models.FlowDefinition, error) {
	query := `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM flow_definitions
		WHERE id = $1
	`

	def := &models.FlowDefinition{}
	err := r.db.Q(ctx).QueryRow(ctx, query, id).Scan(
		&def.ID,
		&def.Name,
		&def.Description,
		&def.CreatedBy,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "flow definition", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow definition: %w", err)
	}

	return def, nil
}

// ListDefinitions retrieves all flow definitions ordered by creation time
func (r *FlowRepository) ListDefinitions(ctx context.Context) ([]*models.FlowDefinition, error) {
	query := `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM flow_definitions
		ORDER BY created_at DESC
	`

	rows, err := r.db.Q(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.FlowDefinition
	for rows.Next() {
		def := &models.FlowDefinition{}
		err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.Description,
			&def.CreatedBy,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow definition: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow definitions: %w", err)
	}

	return defs, nil
}

// LockDefinition takes a row lock on the definition for the duration of the
// surrounding transaction. Version number allocation and the exactly-one-
// current-published invariant are serialized through this lock.
func (r *FlowRepository) LockDefinition(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := r.db.Q(ctx).QueryRow(ctx, `SELECT id FROM flow_definitions WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.NotFoundError{Entity: "flow definition", Ref: id.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to lock flow definition: %w", err)
	}
	return nil
}

const versionColumns = `id, flow_definition_id, version_num, status, graph, created_by, reviewed_by, committed_at, created_at`

func scanVersion(row pgx.Row) (*models.FlowVersion, error) {
	v := &models.FlowVersion{}
	var graphJSON []byte
	err := row.Scan(
		&v.ID,
		&v.FlowDefinitionID,
		&v.VersionNum,
		&v.Status,
		&graphJSON,
		&v.CreatedBy,
		&v.ReviewedBy,
		&v.CommittedAt,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(graphJSON, &v.Graph); err != nil {
		return nil, fmt.Errorf("failed to decode version graph: %w", err)
	}
	return v, nil
}

// InsertVersion inserts a new flow version
func (r *FlowRepository) InsertVersion(ctx context.Context, v *models.FlowVersion) error {
	graphJSON, err := json.Marshal(&v.Graph)
	if err != nil {
		return fmt.Errorf("failed to encode version graph: %w", err)
	}

	query := `
		INSERT INTO flow_versions (id, flow_definition_id, version_num, status, graph, created_by, reviewed_by, committed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.Q(ctx).Exec(ctx, query,
		v.ID,
		v.FlowDefinitionID,
		v.VersionNum,
		v.Status,
		graphJSON,
		v.CreatedBy,
		v.ReviewedBy,
		v.CommittedAt,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert flow version: %w", err)
	}

	return nil
}

// GetVersion retrieves a flow version by ID
func (r *FlowRepository) GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM flow_versions WHERE id = $1`

	v, err := scanVersion(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "flow version", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow version: %w", err)
	}

	return v, nil
}

// GetVersionForUpdate retrieves a flow version with a row lock
func (r *FlowRepository) GetVersionForUpdate(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM flow_versions WHERE id = $1 FOR UPDATE`

	v, err := scanVersion(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "flow version", Ref: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow version for update: %w", err)
	}

	return v, nil
}

// ListVersions retrieves all versions of a definition, newest first
func (r *FlowRepository) ListVersions(ctx context.Context, definitionID uuid.UUID) ([]*models.FlowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM flow_versions WHERE flow_definition_id = $1 ORDER BY version_num DESC`

	rows, err := r.db.Q(ctx).Query(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.FlowVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow versions: %w", err)
	}

	return versions, nil
}

// LatestDraft retrieves the newest DRAFT version of a definition
func (r *FlowRepository) LatestDraft(ctx context.Context, definitionID uuid.UUID) (*models.FlowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM flow_versions
		WHERE flow_definition_id = $1 AND status = 'DRAFT'
		ORDER BY version_num DESC
		LIMIT 1
	`

	v, err := scanVersion(r.db.Q(ctx).QueryRow(ctx, query, definitionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "draft version", Ref: definitionID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest draft: %w", err)
	}

	return v, nil
}

// MaxVersionNum returns the highest version_num under a definition, 0 when none
func (r *FlowRepository) MaxVersionNum(ctx context.Context, definitionID uuid.UUID) (int, error) {
	var max int
	query := `SELECT COALESCE(MAX(version_num), 0) FROM flow_versions WHERE flow_definition_id = $1`

	if err := r.db.Q(ctx).QueryRow(ctx, query, definitionID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max version_num: %w", err)
	}

	return max, nil
}

// UpdateDraftGraph replaces the graph of a version, guarded on DRAFT status.
// Returns false when no row matched: the version is gone or no longer a
// draft. The guard is the repository's half of the immutability defense;
// the database trigger is the other half.
func (r *FlowRepository) UpdateDraftGraph(ctx context.Context, versionID uuid.UUID, graph *flowgraph.Graph) (bool, error) {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return false, fmt.Errorf("failed to encode graph: %w", err)
	}

	query := `
		UPDATE flow_versions
		SET graph = $2
		WHERE id = $1 AND status = 'DRAFT'
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query, versionID, graphJSON)
	if err != nil {
		return false, fmt.Errorf("failed to update draft graph: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetVersionStatus updates a version's lifecycle fields
func (r *FlowRepository) SetVersionStatus(ctx context.Context, versionID uuid.UUID, status models.FlowVersionStatus, reviewedBy *string, committedAt *time.Time) error {
	query := `
		UPDATE flow_versions
		SET status = $2,
		    reviewed_by = COALESCE($3, reviewed_by),
		    committed_at = COALESCE($4, committed_at)
		WHERE id = $1
	`

	tag, err := r.db.Q(ctx).Exec(ctx, query, versionID, status, reviewedBy, committedAt)
	if err != nil {
		return fmt.Errorf("failed to set version status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "flow version", Ref: versionID.String()}
	}

	return nil
}

// DemoteCurrentPublished deprecates any PUBLISHED version of the definition
// other than exceptID, keeping at most one current published version
func (r *FlowRepository) DemoteCurrentPublished(ctx context.Context, definitionID, exceptID uuid.UUID) error {
	query := `
		UPDATE flow_versions
		SET status = 'DEPRECATED'
		WHERE flow_definition_id = $1 AND status = 'PUBLISHED' AND id <> $2
	`

	_, err := r.db.Q(ctx).Exec(ctx, query, definitionID, exceptID)
	if err != nil {
		return fmt.Errorf("failed to demote published versions: %w", err)
	}

	return nil
}
