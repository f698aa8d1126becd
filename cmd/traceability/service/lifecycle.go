package service

import (
	"context"
	"fmt"
	"time"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	"github.com/google/uuid"
)

// LotStore is the persistence surface the lot lifecycle manager needs
type LotStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertLot(ctx context.Context, lot *models.Lot) error
	GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	GetLotByCode(ctx context.Context, code string) (*models.Lot, error)
	LotsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Lot, error)
	ListLotsByRun(ctx context.Context, runID uuid.UUID) ([]*models.Lot, error)
	SetLotStatus(ctx context.Context, lotID uuid.UUID, from, to models.LotStatus) (bool, error)

	InsertGenealogyEdges(ctx context.Context, edges []*models.GenealogyEdge) error
	ChildEdges(ctx context.Context, parentLotID uuid.UUID) ([]*models.GenealogyEdge, error)
}

// LineageInvalidator drops cached trace results after the lineage changes
type LineageInvalidator interface {
	InvalidateLineage(ctx context.Context, lotID uuid.UUID)
}

// CreateLotParams carries the inputs for lot creation
type CreateLotParams struct {
	LotCode      string
	LotType      models.LotType
	WeightKG     float64
	TemperatureC *float64
	RunID        *uuid.UUID
	StepIndex    int
	Metadata     map[string]any
}

// LotService owns lot creation, the status transition table, and the
// genealogy link operation. Transition is the single place a lot's status
// is ever written.
type LotService struct {
	store       LotStore
	invalidator LineageInvalidator
	log         *logger.Logger
}

// NewLotService creates a new lot service. The invalidator may be nil when
// no trace cache is configured.
func NewLotService(store LotStore, invalidator LineageInvalidator, log *logger.Logger) *LotService {
	return &LotService{store: store, invalidator: invalidator, log: log}
}

// CreateLot creates a lot in status CREATED
func (s *LotService) CreateLot(ctx context.Context, p CreateLotParams) (*models.Lot, error) {
	if p.WeightKG <= 0 {
		return nil, fmt.Errorf("lot weight must be positive, got %.3f", p.WeightKG)
	}
	if !models.ValidLotCode(p.LotCode) {
		return nil, fmt.Errorf("invalid lot code format: %q", p.LotCode)
	}

	now := time.Now().UTC()
	lot := &models.Lot{
		ID:              uuid.New(),
		LotCode:         p.LotCode,
		LotType:         p.LotType,
		Status:          models.LotCreated,
		StepIndex:       p.StepIndex,
		WeightKG:        p.WeightKG,
		TemperatureC:    p.TemperatureC,
		ProductionRunID: p.RunID,
		Metadata:        p.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.InsertLot(ctx, lot); err != nil {
		return nil, err
	}

	s.log.Info("lot created", "lot_code", lot.LotCode, "lot_type", lot.LotType)
	return lot, nil
}

// Get retrieves a lot by ID
func (s *LotService) Get(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	return s.store.GetLot(ctx, id)
}

// GetByCode retrieves a lot by code
func (s *LotService) GetByCode(ctx context.Context, code string) (*models.Lot, error) {
	return s.store.GetLotByCode(ctx, code)
}

// ListByRun retrieves all lots produced by a run
func (s *LotService) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Lot, error) {
	return s.store.ListLotsByRun(ctx, runID)
}

// Transition moves a lot to a new status, enforcing the legal-transition
// table. The guarded write re-checks the source status, so two concurrent
// callers cannot both transition from the same stale state.
func (s *LotService) Transition(ctx context.Context, lotID uuid.UUID, to models.LotStatus) (*models.Lot, error) {
	var lot *models.Lot

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		lot, err = s.store.GetLot(ctx, lotID)
		if err != nil {
			return err
		}

		if !models.CanTransition(lot.Status, to) {
			return &models.IllegalTransitionError{LotID: lotID, From: lot.Status, To: to}
		}

		ok, err := s.store.SetLotStatus(ctx, lotID, lot.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race; report against the fresh state.
			current, err := s.store.GetLot(ctx, lotID)
			if err != nil {
				return err
			}
			return &models.IllegalTransitionError{LotID: lotID, From: current.Status, To: to}
		}

		lot.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("lot transitioned", "lot_code", lot.LotCode, "status", to)
	return lot, nil
}

// LinkGenealogy appends one parent -> child edge per parent, after
// checking that none of the parents is already a descendant of the child.
// The check and the insert share one transaction; without that, two
// concurrent links could each pass the check and close a cycle together.
func (s *LotService) LinkGenealogy(ctx context.Context, parentIDs []uuid.UUID, childID uuid.UUID, quantities []float64, eventRef string) ([]*models.GenealogyEdge, error) {
	if len(parentIDs) == 0 {
		return nil, fmt.Errorf("at least one parent lot is required")
	}
	if len(parentIDs) != len(quantities) {
		return nil, fmt.Errorf("parents and quantities length mismatch: %d vs %d", len(parentIDs), len(quantities))
	}

	var edges []*models.GenealogyEdge

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetLot(ctx, childID); err != nil {
			return err
		}

		parents := make(map[uuid.UUID]bool, len(parentIDs))
		for _, parentID := range parentIDs {
			if parentID == childID {
				return &models.CycleDetectedError{ParentLotID: parentID, ChildLotID: childID}
			}
			if _, err := s.store.GetLot(ctx, parentID); err != nil {
				return err
			}
			parents[parentID] = true
		}

		// Reachability: walk the child's descendants; a proposed parent
		// found there would make the lot reachable from itself.
		visited := map[uuid.UUID]bool{childID: true}
		queue := []uuid.UUID{childID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			children, err := s.store.ChildEdges(ctx, current)
			if err != nil {
				return err
			}
			for _, edge := range children {
				if parents[edge.ChildLotID] {
					return &models.CycleDetectedError{ParentLotID: edge.ChildLotID, ChildLotID: childID}
				}
				if !visited[edge.ChildLotID] {
					visited[edge.ChildLotID] = true
					queue = append(queue, edge.ChildLotID)
				}
			}
		}

		now := time.Now().UTC()
		edges = make([]*models.GenealogyEdge, len(parentIDs))
		for i, parentID := range parentIDs {
			edges[i] = &models.GenealogyEdge{
				ID:             uuid.New(),
				ParentLotID:    parentID,
				ChildLotID:     childID,
				QuantityUsedKG: quantities[i],
				EventRef:       eventRef,
				CreatedAt:      now,
			}
		}
		return s.store.InsertGenealogyEdges(ctx, edges)
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateLineage(ctx, childID)
	}

	s.log.Info("genealogy linked", "child", childID, "parents", len(parentIDs))
	return edges, nil
}
