package models

import (
	"time"

	"github.com/google/uuid"
)

// GateType classifies a QC gate
type GateType string

const (
	GateCheckpoint GateType = "CHECKPOINT" // recorded, never blocks
	GateBlocking   GateType = "BLOCKING"   // non-PASS blocks run progression
	GateInfo       GateType = "INFO"       // informational only
)

// Decision is the outcome of a QC inspection
type Decision string

const (
	DecisionPass Decision = "PASS"
	DecisionHold Decision = "HOLD"
	DecisionFail Decision = "FAIL"
)

// MinNotesLen is the minimum notes length for HOLD and FAIL decisions
const MinNotesLen = 10

// QCGate is a named checkpoint configuration. LimitExpr, when set on a CCP
// gate, is a CEL expression over the measured temperature.
// Maps to: qc_gates table
type QCGate struct {
	ID         uuid.UUID `db:"id" json:"id"`
	GateNumber int       `db:"gate_number" json:"gate_number"`
	Name       string    `db:"name" json:"name"`
	GateType   GateType  `db:"gate_type" json:"gate_type"`
	IsCCP      bool      `db:"is_ccp" json:"is_ccp"`
	Checklist  []string  `db:"checklist" json:"checklist,omitempty"`
	LimitExpr  string    `db:"limit_expr" json:"limit_expr,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Blocking reports whether a non-PASS decision at this gate blocks the run
func (g *QCGate) Blocking() bool {
	return g.GateType == GateBlocking
}

// QCDecision is one immutable inspection record
// Maps to: qc_decisions table
type QCDecision struct {
	ID           uuid.UUID `db:"id" json:"id"`
	LotID        uuid.UUID `db:"lot_id" json:"lot_id"`
	QCGateID     uuid.UUID `db:"qc_gate_id" json:"qc_gate_id"`
	OperatorID   string    `db:"operator_id" json:"operator_id"`
	Decision     Decision  `db:"decision" json:"decision"`
	Notes        string    `db:"notes" json:"notes"`
	TemperatureC *float64  `db:"temperature_c" json:"temperature_c,omitempty"`
	Signature    *string   `db:"signature" json:"signature,omitempty"`
	DecidedAt    time.Time `db:"decided_at" json:"decided_at"`
}
