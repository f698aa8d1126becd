package service

import (
	"context"
	"time"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	"github.com/google/uuid"
)

// QCStore is the persistence surface the QC gate needs
type QCStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetGate(ctx context.Context, id uuid.UUID) (*models.QCGate, error)
	InsertGate(ctx context.Context, gate *models.QCGate) error
	InsertDecision(ctx context.Context, d *models.QCDecision) error
	DecisionsForLot(ctx context.Context, lotID uuid.UUID) ([]*models.QCDecision, error)
}

// lotTransitioner is the slice of the lot lifecycle manager the QC gate
// drives as a side effect
type lotTransitioner interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	Transition(ctx context.Context, lotID uuid.UUID, to models.LotStatus) (*models.Lot, error)
}

// runHolder is the slice of the run engine used to block progression when
// a blocking gate fails
type runHolder interface {
	Hold(ctx context.Context, runID uuid.UUID, reason string) (*models.ProductionRun, error)
}

// RecordDecisionParams carries the inputs for one inspection
type RecordDecisionParams struct {
	LotID        uuid.UUID
	GateID       uuid.UUID
	Decision     models.Decision
	Notes        string
	OperatorID   string
	TemperatureC *float64
	Signature    *string
}

// QCService records inspection outcomes and drives the lot transitions
// they imply. Decisions are append-only.
type QCService struct {
	store  QCStore
	lots   lotTransitioner
	runs   runHolder
	limits *LimitEvaluator
	log    *logger.Logger
}

// NewQCService creates a new QC service
func NewQCService(store QCStore, lots lotTransitioner, runs runHolder, limits *LimitEvaluator, log *logger.Logger) *QCService {
	return &QCService{store: store, lots: lots, runs: runs, limits: limits, log: log}
}

// CreateGate registers a QC gate
func (s *QCService) CreateGate(ctx context.Context, gate *models.QCGate) error {
	if gate.ID == uuid.Nil {
		gate.ID = uuid.New()
	}
	if gate.CreatedAt.IsZero() {
		gate.CreatedAt = time.Now().UTC()
	}
	return s.store.InsertGate(ctx, gate)
}

// GetGate retrieves a QC gate
func (s *QCService) GetGate(ctx context.Context, id uuid.UUID) (*models.QCGate, error) {
	return s.store.GetGate(ctx, id)
}

// DecisionsForLot retrieves a lot's inspection history
func (s *QCService) DecisionsForLot(ctx context.Context, lotID uuid.UUID) ([]*models.QCDecision, error) {
	return s.store.DecisionsForLot(ctx, lotID)
}

// RecordDecision appends one inspection record and applies its lot
// transition: PASS releases a quarantined lot, HOLD holds it, FAIL
// rejects it. HOLD and FAIL require notes of at least MinNotesLen
// characters. A PASS against a CCP gate whose limit expression the
// measured temperature fails is rejected outright.
func (s *QCService) RecordDecision(ctx context.Context, p RecordDecisionParams) (*models.QCDecision, error) {
	if p.Decision != models.DecisionPass && len([]rune(p.Notes)) < models.MinNotesLen {
		return nil, &models.NotesRequiredError{Decision: p.Decision, Length: len([]rune(p.Notes))}
	}

	var decision *models.QCDecision
	var lot *models.Lot
	var gate *models.QCGate

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		gate, err = s.store.GetGate(ctx, p.GateID)
		if err != nil {
			return err
		}
		lot, err = s.lots.Get(ctx, p.LotID)
		if err != nil {
			return err
		}

		if gate.IsCCP && gate.LimitExpr != "" && p.TemperatureC != nil {
			within, err := s.limits.Eval(gate.LimitExpr, *p.TemperatureC)
			if err != nil {
				return err
			}
			if !within && p.Decision == models.DecisionPass {
				return &models.CCPViolationError{
					GateID:      gate.ID,
					LimitExpr:   gate.LimitExpr,
					Temperature: *p.TemperatureC,
				}
			}
		}

		decision = &models.QCDecision{
			ID:           uuid.New(),
			LotID:        p.LotID,
			QCGateID:     p.GateID,
			OperatorID:   p.OperatorID,
			Decision:     p.Decision,
			Notes:        p.Notes,
			TemperatureC: p.TemperatureC,
			Signature:    p.Signature,
			DecidedAt:    time.Now().UTC(),
		}
		if err := s.store.InsertDecision(ctx, decision); err != nil {
			return err
		}

		return s.applyTransition(ctx, lot, p.Decision)
	})
	if err != nil {
		return nil, err
	}

	// Blocking gate with a non-PASS outcome: the owning run must not
	// progress past this lot's step until the hold is resolved.
	if gate.Blocking() && p.Decision != models.DecisionPass && lot.ProductionRunID != nil {
		reason := "blocking QC gate " + gate.Name + ": " + string(p.Decision) + " on lot " + lot.LotCode
		if _, err := s.runs.Hold(ctx, *lot.ProductionRunID, reason); err != nil {
			// Run already held or not running; the lot state alone
			// blocks advancement.
			s.log.Warn("could not hold run after blocking gate decision",
				"run_id", *lot.ProductionRunID, "error", err)
		}
	}

	s.log.Info("qc decision recorded",
		"lot_code", lot.LotCode,
		"gate", gate.GateNumber,
		"decision", p.Decision,
	)
	return decision, nil
}

func (s *QCService) applyTransition(ctx context.Context, lot *models.Lot, decision models.Decision) error {
	switch decision {
	case models.DecisionPass:
		// Release quarantined material; anything else stays put.
		if lot.Status == models.LotQuarantine {
			_, err := s.lots.Transition(ctx, lot.ID, models.LotReleased)
			return err
		}
		return nil

	case models.DecisionHold:
		if lot.Status == models.LotHold {
			return nil
		}
		_, err := s.lots.Transition(ctx, lot.ID, models.LotHold)
		return err

	case models.DecisionFail:
		_, err := s.lots.Transition(ctx, lot.ID, models.LotRejected)
		return err
	}

	return nil
}
