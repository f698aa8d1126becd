package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
)

// GovernanceStore is the persistence surface the governance service needs
type GovernanceStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateDefinition(ctx context.Context, def *models.FlowDefinition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*models.FlowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*models.FlowDefinition, error)
	LockDefinition(ctx context.Context, id uuid.UUID) error

	InsertVersion(ctx context.Context, v *models.FlowVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)
	GetVersionForUpdate(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)
	ListVersions(ctx context.Context, definitionID uuid.UUID) ([]*models.FlowVersion, error)
	LatestDraft(ctx context.Context, definitionID uuid.UUID) (*models.FlowVersion, error)
	MaxVersionNum(ctx context.Context, definitionID uuid.UUID) (int, error)
	UpdateDraftGraph(ctx context.Context, versionID uuid.UUID, graph *flowgraph.Graph) (bool, error)
	SetVersionStatus(ctx context.Context, versionID uuid.UUID, status models.FlowVersionStatus, reviewedBy *string, committedAt *time.Time) error
	DemoteCurrentPublished(ctx context.Context, definitionID, exceptID uuid.UUID) error
}

// GovernanceService owns the DRAFT -> REVIEW -> PUBLISHED -> DEPRECATED
// lifecycle of flow versions. Version numbers are allocated under the
// definition's row lock, and a published graph is never written again.
type GovernanceService struct {
	store GovernanceStore
	log   *logger.Logger
}

// NewGovernanceService creates a new governance service
func NewGovernanceService(store GovernanceStore, log *logger.Logger) *GovernanceService {
	return &GovernanceService{store: store, log: log}
}

// CreateDefinition creates a flow definition together with its initial
// v1 draft, so there is an editable draft from the first moment
func (s *GovernanceService) CreateDefinition(ctx context.Context, name string, description *string, createdBy string) (*models.FlowDefinition, *models.FlowVersion, error) {
	now := time.Now().UTC()
	def := &models.FlowDefinition{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedBy:   &createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	draft := &models.FlowVersion{
		ID:               uuid.New(),
		FlowDefinitionID: def.ID,
		VersionNum:       1,
		Status:           models.VersionDraft,
		Graph:            flowgraph.Graph{},
		CreatedBy:        &createdBy,
		CreatedAt:        now,
	}

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateDefinition(ctx, def); err != nil {
			return err
		}
		return s.store.InsertVersion(ctx, draft)
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("flow definition created", "definition_id", def.ID, "name", name)
	return def, draft, nil
}

// CreateDraft allocates the next version number under the definition and
// creates a new DRAFT seeded with the given graph (empty when nil)
func (s *GovernanceService) CreateDraft(ctx context.Context, definitionID uuid.UUID, graph *flowgraph.Graph, createdBy string) (*models.FlowVersion, error) {
	var draft *models.FlowVersion

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.LockDefinition(ctx, definitionID); err != nil {
			return err
		}

		max, err := s.store.MaxVersionNum(ctx, definitionID)
		if err != nil {
			return err
		}

		var g flowgraph.Graph
		if graph != nil {
			copied, err := copyGraph(graph)
			if err != nil {
				return err
			}
			g = *copied
		}

		draft = &models.FlowVersion{
			ID:               uuid.New(),
			FlowDefinitionID: definitionID,
			VersionNum:       max + 1,
			Status:           models.VersionDraft,
			Graph:            g,
			CreatedBy:        &createdBy,
			CreatedAt:        time.Now().UTC(),
		}
		return s.store.InsertVersion(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("draft created", "definition_id", definitionID, "version_num", draft.VersionNum)
	return draft, nil
}

// SaveDraft replaces a draft's graph wholesale. The last save wins;
// concurrent editors are reconciled by the caller.
func (s *GovernanceService) SaveDraft(ctx context.Context, versionID uuid.UUID, graph *flowgraph.Graph) (*models.FlowVersion, error) {
	var saved *models.FlowVersion

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		v, err := s.store.GetVersionForUpdate(ctx, versionID)
		if err != nil {
			return err
		}

		switch v.Status {
		case models.VersionDraft:
		case models.VersionPublished, models.VersionDeprecated:
			return &models.ImmutableVersionError{VersionID: versionID, Status: v.Status}
		default:
			return &models.NotDraftError{VersionID: versionID, Status: v.Status}
		}

		ok, err := s.store.UpdateDraftGraph(ctx, versionID, graph)
		if err != nil {
			return err
		}
		if !ok {
			return &models.ImmutableVersionError{VersionID: versionID, Status: v.Status}
		}

		v.Graph = *graph
		saved = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// RequestReview stages a draft for approval. No structural validation
// happens here; publish is the validation point.
func (s *GovernanceService) RequestReview(ctx context.Context, versionID uuid.UUID) (*models.FlowVersion, error) {
	var v *models.FlowVersion

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.store.GetVersionForUpdate(ctx, versionID)
		if err != nil {
			return err
		}

		if v.Status != models.VersionDraft {
			return &models.NotDraftError{VersionID: versionID, Status: v.Status}
		}

		if err := s.store.SetVersionStatus(ctx, versionID, models.VersionReview, nil, nil); err != nil {
			return err
		}
		v.Status = models.VersionReview
		return nil
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Publish validates the graph and, in one transaction, makes the version
// PUBLISHED, deprecates the previously current published version, and
// seeds the next draft with a copy of the published graph. On any
// validation issue nothing changes and the full issue list is returned.
func (s *GovernanceService) Publish(ctx context.Context, versionID uuid.UUID, reviewedBy string) (*models.FlowVersion, *models.FlowVersion, error) {
	var published, nextDraft *models.FlowVersion

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		v, err := s.store.GetVersionForUpdate(ctx, versionID)
		if err != nil {
			return err
		}

		switch v.Status {
		case models.VersionDraft, models.VersionReview:
		default:
			return &models.NotDraftError{VersionID: versionID, Status: v.Status}
		}

		if issues := flowgraph.Validate(&v.Graph); len(issues) > 0 {
			return &models.GraphInvalidError{Issues: issues}
		}

		if err := s.store.LockDefinition(ctx, v.FlowDefinitionID); err != nil {
			return err
		}

		// Demote before promoting: the partial unique index on published
		// versions is checked per statement, so the old current version
		// must leave PUBLISHED first.
		now := time.Now().UTC()
		if err := s.store.DemoteCurrentPublished(ctx, v.FlowDefinitionID, versionID); err != nil {
			return err
		}
		if err := s.store.SetVersionStatus(ctx, versionID, models.VersionPublished, &reviewedBy, &now); err != nil {
			return err
		}

		max, err := s.store.MaxVersionNum(ctx, v.FlowDefinitionID)
		if err != nil {
			return err
		}

		graphCopy, err := copyGraph(&v.Graph)
		if err != nil {
			return err
		}

		nextDraft = &models.FlowVersion{
			ID:               uuid.New(),
			FlowDefinitionID: v.FlowDefinitionID,
			VersionNum:       max + 1,
			Status:           models.VersionDraft,
			Graph:            *graphCopy,
			CreatedBy:        &reviewedBy,
			CreatedAt:        now,
		}
		if err := s.store.InsertVersion(ctx, nextDraft); err != nil {
			return err
		}

		v.Status = models.VersionPublished
		v.ReviewedBy = &reviewedBy
		v.CommittedAt = &now
		published = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("flow version published",
		"version_id", published.ID,
		"version_num", published.VersionNum,
		"next_draft", nextDraft.VersionNum,
	)
	return published, nextDraft, nil
}

// Deprecate retires a version. Works from any state; the transition is
// terminal and non-destructive.
func (s *GovernanceService) Deprecate(ctx context.Context, versionID uuid.UUID) (*models.FlowVersion, error) {
	var v *models.FlowVersion

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.store.GetVersionForUpdate(ctx, versionID)
		if err != nil {
			return err
		}

		if v.Status == models.VersionDeprecated {
			return nil
		}

		if err := s.store.SetVersionStatus(ctx, versionID, models.VersionDeprecated, nil, nil); err != nil {
			return err
		}
		v.Status = models.VersionDeprecated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Get retrieves a version read-only
func (s *GovernanceService) Get(ctx context.Context, versionID uuid.UUID) (*models.FlowVersion, error) {
	return s.store.GetVersion(ctx, versionID)
}

// GetDefinition retrieves a flow definition
func (s *GovernanceService) GetDefinition(ctx context.Context, id uuid.UUID) (*models.FlowDefinition, error) {
	return s.store.GetDefinition(ctx, id)
}

// ListDefinitions retrieves all flow definitions
func (s *GovernanceService) ListDefinitions(ctx context.Context) ([]*models.FlowDefinition, error) {
	return s.store.ListDefinitions(ctx)
}

// ListVersions retrieves all versions of a definition
func (s *GovernanceService) ListVersions(ctx context.Context, definitionID uuid.UUID) ([]*models.FlowVersion, error) {
	return s.store.ListVersions(ctx, definitionID)
}

// LatestDraft retrieves the current editable draft of a definition
func (s *GovernanceService) LatestDraft(ctx context.Context, definitionID uuid.UUID) (*models.FlowVersion, error) {
	return s.store.LatestDraft(ctx, definitionID)
}

// DiffVersions returns an RFC 7386 merge patch that turns version a's
// graph into version b's. Reviewers use it to see what changed between
// two versions without replaying the whole document.
func (s *GovernanceService) DiffVersions(ctx context.Context, aID, bID uuid.UUID) ([]byte, error) {
	a, err := s.store.GetVersion(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetVersion(ctx, bID)
	if err != nil {
		return nil, err
	}

	aJSON, err := json.Marshal(&a.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph %s: %w", aID, err)
	}
	bJSON, err := json.Marshal(&b.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph %s: %w", bID, err)
	}

	patch, err := jsonpatch.CreateMergePatch(aJSON, bJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge patch: %w", err)
	}

	return patch, nil
}

// copyGraph deep-copies a graph document through its JSON form
func copyGraph(g *flowgraph.Graph) (*flowgraph.Graph, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	var copied flowgraph.Graph
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to decode graph copy: %w", err)
	}
	return &copied, nil
}
