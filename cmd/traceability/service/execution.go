package service

import (
	"context"
	"time"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	"github.com/google/uuid"
)

// ExecutionStore is the persistence surface the run engine needs
type ExecutionStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)

	InsertRunIdempotent(ctx context.Context, run *models.ProductionRun) (bool, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error)
	GetRunForUpdate(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*models.ProductionRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.ProductionRun, error)
	UpdateRun(ctx context.Context, run *models.ProductionRun) error
	NextRunSeq(ctx context.Context, prefix string) (int, error)

	InsertSteps(ctx context.Context, steps []*models.RunStepExecution) error
	StepsForRun(ctx context.Context, runID uuid.UUID) ([]*models.RunStepExecution, error)
	GetStep(ctx context.Context, runID uuid.UUID, stepIndex int) (*models.RunStepExecution, error)
	UpdateStep(ctx context.Context, step *models.RunStepExecution) error
	SkipUnfinishedSteps(ctx context.Context, runID uuid.UUID, at time.Time) error

	CountBlockedLots(ctx context.Context, runID uuid.UUID, stepIndex int) (int, error)
}

// ExecutionService instantiates production runs from published flow
// versions and drives them through their step sequence. A run pins its
// version at creation; the step set is fixed to the version's canonical
// steps and current_step_index only moves forward.
type ExecutionService struct {
	store    ExecutionStore
	siteCode string
	log      *logger.Logger
}

// NewExecutionService creates a new execution service
func NewExecutionService(store ExecutionStore, siteCode string, log *logger.Logger) *ExecutionService {
	return &ExecutionService{store: store, siteCode: siteCode, log: log}
}

// CreateRun creates a run pinned to a published version. A repeated call
// with the same idempotency key returns the already-created run unchanged,
// so retries after a timeout are safe.
func (s *ExecutionService) CreateRun(ctx context.Context, versionID uuid.UUID, idempotencyKey, startedBy string) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		version, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if version.Status != models.VersionPublished {
			return &models.VersionNotPublishedError{VersionID: versionID, Status: version.Status}
		}

		steps := flowgraph.CanonicalSteps(&version.Graph)
		now := time.Now().UTC()

		prefix := models.FormatRunCode(now, s.siteCode, 0)
		prefix = prefix[:len(prefix)-4]
		seq, err := s.store.NextRunSeq(ctx, prefix)
		if err != nil {
			return err
		}

		runID, err := uuid.NewV7()
		if err != nil {
			return err
		}

		run = &models.ProductionRun{
			ID:               runID,
			RunCode:          models.FormatRunCode(now, s.siteCode, seq),
			Status:           models.RunIdle,
			FlowVersionID:    versionID,
			CurrentStepIndex: 0,
			StepCount:        len(steps),
			StartedBy:        &startedBy,
			IdempotencyKey:   idempotencyKey,
			CreatedAt:        now,
		}

		created, err := s.store.InsertRunIdempotent(ctx, run)
		if err != nil {
			return err
		}
		if !created {
			run, err = s.store.GetRunByIdempotencyKey(ctx, idempotencyKey)
			return err
		}

		records := make([]*models.RunStepExecution, len(steps))
		for i, node := range steps {
			records[i] = &models.RunStepExecution{
				ID:        uuid.New(),
				RunID:     run.ID,
				StepIndex: i,
				NodeID:    node.ID,
				Status:    models.StepPending,
				CreatedAt: now,
			}
		}
		if err := s.store.InsertSteps(ctx, records); err != nil {
			return err
		}

		s.log.Info("run created", "run_code", run.RunCode, "version_id", versionID, "steps", len(steps))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Start moves an IDLE run to RUNNING and opens step 0
func (s *ExecutionService) Start(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunIdle {
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		now := time.Now().UTC()
		run.Status = models.RunRunning
		run.StartedAt = &now
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return err
		}

		if run.StepCount > 0 {
			step, err := s.store.GetStep(ctx, runID, 0)
			if err != nil {
				return err
			}
			step.Status = models.StepInProgress
			step.StartedAt = &now
			if err := s.store.UpdateStep(ctx, step); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// AdvanceStep completes the step at stepIndex and opens the next one, or
// completes the run when stepIndex was the last step.
//
// The call is idempotent under retry: stepIndex below the current index
// means the work already happened, so the current state is returned
// unchanged. A stepIndex ahead of the current index is out of order.
//
// When lots at the current step are held or rejected by a blocking gate,
// the run is placed on HOLD and StepBlockedError is returned.
func (s *ExecutionService) AdvanceStep(ctx context.Context, runID uuid.UUID, stepIndex int, operatorID string) (*models.ProductionRun, error) {
	var run *models.ProductionRun
	var blockedErr *models.StepBlockedError

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}

		if stepIndex < run.CurrentStepIndex {
			// Duplicate of an already-completed advance; no-op.
			return nil
		}
		if run.Status == models.RunCompleted && stepIndex == run.CurrentStepIndex {
			return nil
		}
		if run.Status != models.RunRunning {
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}
		if stepIndex > run.CurrentStepIndex {
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		blocked, err := s.store.CountBlockedLots(ctx, runID, stepIndex)
		if err != nil {
			return err
		}
		if blocked > 0 {
			// The HOLD must survive: commit it, report the block after.
			reason := "blocking QC gate: lots held or rejected at current step"
			run.Status = models.RunHold
			run.HoldReason = &reason
			blockedErr = &models.StepBlockedError{RunID: runID, StepIndex: stepIndex, HeldLots: blocked}
			return s.store.UpdateRun(ctx, run)
		}

		now := time.Now().UTC()

		step, err := s.store.GetStep(ctx, runID, stepIndex)
		if err != nil {
			return err
		}
		step.Status = models.StepCompleted
		step.CompletedAt = &now
		step.OperatorID = &operatorID
		if err := s.store.UpdateStep(ctx, step); err != nil {
			return err
		}

		if stepIndex == run.StepCount-1 {
			run.Status = models.RunCompleted
			run.CompletedAt = &now
			s.log.Info("run completed", "run_code", run.RunCode)
		} else {
			run.CurrentStepIndex = stepIndex + 1
			next, err := s.store.GetStep(ctx, runID, run.CurrentStepIndex)
			if err != nil {
				return err
			}
			next.Status = models.StepInProgress
			next.StartedAt = &now
			if err := s.store.UpdateStep(ctx, next); err != nil {
				return err
			}
		}

		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}
	if blockedErr != nil {
		s.log.Warn("run held", "run_code", run.RunCode, "held_lots", blockedErr.HeldLots)
		return nil, blockedErr
	}

	return run, nil
}

// Hold pauses a RUNNING run. Step records and the current index stay put.
func (s *ExecutionService) Hold(ctx context.Context, runID uuid.UUID, reason string) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunRunning {
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		run.Status = models.RunHold
		run.HoldReason = &reason
		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.log.Warn("run held", "run_code", run.RunCode, "reason", reason)
	return run, nil
}

// Resume moves a HOLD run back to RUNNING, refusing while lots at the
// current step are still blocked
func (s *ExecutionService) Resume(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunHold {
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		blocked, err := s.store.CountBlockedLots(ctx, runID, run.CurrentStepIndex)
		if err != nil {
			return err
		}
		if blocked > 0 {
			return &models.StepBlockedError{RunID: runID, StepIndex: run.CurrentStepIndex, HeldLots: blocked}
		}

		run.Status = models.RunRunning
		run.HoldReason = nil
		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Abort terminates a run early. Every step not already COMPLETED becomes
// SKIPPED. Terminal.
func (s *ExecutionService) Abort(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	return s.finalize(ctx, runID, models.RunAborted)
}

// Finish ends a run early but accepted: same SKIPPED marking as Abort,
// final status COMPLETED
func (s *ExecutionService) Finish(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	return s.finalize(ctx, runID, models.RunCompleted)
}

func (s *ExecutionService) finalize(ctx context.Context, runID uuid.UUID, final models.RunStatus) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}

		switch run.Status {
		case models.RunIdle, models.RunRunning, models.RunHold:
		default:
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		now := time.Now().UTC()
		if err := s.store.SkipUnfinishedSteps(ctx, runID, now); err != nil {
			return err
		}

		run.Status = final
		run.HoldReason = nil
		run.CompletedAt = &now
		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("run finalized", "run_code", run.RunCode, "status", run.Status)
	return run, nil
}

// Archive moves a COMPLETED or ABORTED run to ARCHIVED
func (s *ExecutionService) Archive(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	var run *models.ProductionRun

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.store.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}

		switch run.Status {
		case models.RunCompleted, models.RunAborted:
		default:
			return &models.StepOutOfOrderError{RunID: runID, Status: run.Status}
		}

		run.Status = models.RunArchived
		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetRun retrieves a run by ID
func (s *ExecutionService) GetRun(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns retrieves runs newest first
func (s *ExecutionService) ListRuns(ctx context.Context, limit int) ([]*models.ProductionRun, error) {
	return s.store.ListRuns(ctx, limit)
}

// Steps retrieves the step execution records of a run
func (s *ExecutionService) Steps(ctx context.Context, runID uuid.UUID) ([]*models.RunStepExecution, error) {
	return s.store.StepsForRun(ctx, runID)
}
