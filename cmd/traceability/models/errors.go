package models

import (
	"fmt"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/google/uuid"
)

// Domain errors returned by the core services. Every mutating operation
// either succeeds or returns exactly one of these; infrastructure failures
// are wrapped separately and are not part of the taxonomy.

// GraphInvalidError carries the complete list of structural issues found
// when validating a graph for publish.
type GraphInvalidError struct {
	Issues []flowgraph.ValidationIssue
}

func (e *GraphInvalidError) Error() string {
	return fmt.Sprintf("graph is invalid: %d issue(s), first: %s", len(e.Issues), e.Issues[0])
}

// ImmutableVersionError is returned on any write attempt against a
// PUBLISHED or DEPRECATED flow version's graph.
type ImmutableVersionError struct {
	VersionID uuid.UUID
	Status    FlowVersionStatus
}

func (e *ImmutableVersionError) Error() string {
	return fmt.Sprintf("flow version %s is %s and immutable", e.VersionID, e.Status)
}

// NotDraftError is returned when a draft-only operation targets a version
// in another state.
type NotDraftError struct {
	VersionID uuid.UUID
	Status    FlowVersionStatus
}

func (e *NotDraftError) Error() string {
	return fmt.Sprintf("flow version %s is %s, not DRAFT", e.VersionID, e.Status)
}

// VersionNotPublishedError is returned when a run is created against a
// version that is not PUBLISHED.
type VersionNotPublishedError struct {
	VersionID uuid.UUID
	Status    FlowVersionStatus
}

func (e *VersionNotPublishedError) Error() string {
	return fmt.Sprintf("flow version %s is %s; only PUBLISHED versions can be executed", e.VersionID, e.Status)
}

// StepOutOfOrderError is returned when run progression is requested from a
// state that does not allow it.
type StepOutOfOrderError struct {
	RunID  uuid.UUID
	Status RunStatus
}

func (e *StepOutOfOrderError) Error() string {
	return fmt.Sprintf("run %s is %s; cannot advance", e.RunID, e.Status)
}

// StepBlockedError is returned when a blocking QC gate holds lots at the
// current step. The run is placed on HOLD as part of the same operation.
type StepBlockedError struct {
	RunID     uuid.UUID
	StepIndex int
	HeldLots  int
}

func (e *StepBlockedError) Error() string {
	return fmt.Sprintf("run %s step %d blocked: %d lot(s) held or rejected at a blocking gate", e.RunID, e.StepIndex, e.HeldLots)
}

// IllegalTransitionError is returned when a lot status transition is not in
// the legal-transition table.
type IllegalTransitionError struct {
	LotID uuid.UUID
	From  LotStatus
	To    LotStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("lot %s: illegal transition %s -> %s", e.LotID, e.From, e.To)
}

// CycleDetectedError is returned when a genealogy link would make a lot
// reachable from itself.
type CycleDetectedError struct {
	ParentLotID uuid.UUID
	ChildLotID  uuid.UUID
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("linking %s as parent of %s would create a genealogy cycle", e.ParentLotID, e.ChildLotID)
}

// NotesRequiredError is returned when a HOLD or FAIL decision carries notes
// shorter than MinNotesLen.
type NotesRequiredError struct {
	Decision Decision
	Length   int
}

func (e *NotesRequiredError) Error() string {
	return fmt.Sprintf("%s decision requires notes of at least %d characters, got %d", e.Decision, MinNotesLen, e.Length)
}

// CCPViolationError is returned when a PASS decision is recorded against a
// critical-control-point gate whose limit expression the measured
// temperature fails.
type CCPViolationError struct {
	GateID      uuid.UUID
	LimitExpr   string
	Temperature float64
}

func (e *CCPViolationError) Error() string {
	return fmt.Sprintf("gate %s: temperature %.2f violates CCP limit %q; PASS not allowed", e.GateID, e.Temperature, e.LimitExpr)
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Ref)
}
