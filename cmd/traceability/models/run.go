package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a production run
type RunStatus string

const (
	RunIdle      RunStatus = "IDLE"      // created but not started
	RunRunning   RunStatus = "RUNNING"   // active execution
	RunHold      RunStatus = "HOLD"      // paused, resumable
	RunCompleted RunStatus = "COMPLETED" // finished
	RunAborted   RunStatus = "ABORTED"   // terminated early, terminal
	RunArchived  RunStatus = "ARCHIVED"  // historical record, terminal
)

// ProductionRun is one execution instance of a published flow version.
// The version reference is pinned at creation and never reassigned;
// current_step_index only moves forward.
// Maps to: production_runs table
type ProductionRun struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	RunCode          string     `db:"run_code" json:"run_code"`
	Status           RunStatus  `db:"status" json:"status"`
	FlowVersionID    uuid.UUID  `db:"flow_version_id" json:"flow_version_id"`
	CurrentStepIndex int        `db:"current_step_index" json:"current_step_index"`
	StepCount        int        `db:"step_count" json:"step_count"`
	StartedBy        *string    `db:"started_by" json:"started_by,omitempty"`
	IdempotencyKey   string     `db:"idempotency_key" json:"idempotency_key"`
	HoldReason       *string    `db:"hold_reason" json:"hold_reason,omitempty"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// StepExecutionStatus is the state of one step execution record
type StepExecutionStatus string

const (
	StepPending    StepExecutionStatus = "PENDING"
	StepInProgress StepExecutionStatus = "IN_PROGRESS"
	StepCompleted  StepExecutionStatus = "COMPLETED"
	StepSkipped    StepExecutionStatus = "SKIPPED"
)

// RunStepExecution tracks execution of one canonical step within a run.
// A run owns exactly step_count records with step_index 0..N-1, created
// together with the run.
// Maps to: run_step_executions table
type RunStepExecution struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	RunID       uuid.UUID           `db:"run_id" json:"run_id"`
	StepIndex   int                 `db:"step_index" json:"step_index"`
	NodeID      string              `db:"node_id" json:"node_id"`
	Status      StepExecutionStatus `db:"status" json:"status"`
	StartedAt   *time.Time          `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	OperatorID  *string             `db:"operator_id" json:"operator_id,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

var runCodePattern = regexp.MustCompile(`^RUN-\d{8}-[A-Z]{4}-\d{4,}$`)

// FormatRunCode builds a run code: RUN-YYYYMMDD-SITE-####
// The sequence number resets daily; it is zero-padded to four digits
// and simply grows wider past 9999.
func FormatRunCode(day time.Time, siteCode string, seq int) string {
	return fmt.Sprintf("RUN-%s-%s-%04d", day.Format("20060102"), siteCode, seq)
}

// ValidRunCode reports whether code matches the run code format
func ValidRunCode(code string) bool {
	return runCodePattern.MatchString(code)
}
