package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// LotType categorizes a lot by processing stage
type LotType string

const (
	LotRaw    LotType = "RAW"   // raw material receipt
	LotDeb    LotType = "DEB"   // deboned meat
	LotBulk   LotType = "BULK"  // bulk buffer
	LotMix    LotType = "MIX"   // mixed batch
	LotSkw15  LotType = "SKW15" // 15g skewer rod
	LotSkw30  LotType = "SKW30" // 30g skewer rod
	LotFrz15  LotType = "FRZ15" // frozen 15g
	LotFrz30  LotType = "FRZ30" // frozen 30g
	LotFg15   LotType = "FG15"  // finished goods 15g
	LotFg30   LotType = "FG30"  // finished goods 30g
)

// LotStatus is the lifecycle state of a lot
type LotStatus string

const (
	LotCreated    LotStatus = "CREATED"
	LotQuarantine LotStatus = "QUARANTINE"
	LotReleased   LotStatus = "RELEASED"
	LotHold       LotStatus = "HOLD"
	LotRejected   LotStatus = "REJECTED" // terminal
	LotConsumed   LotStatus = "CONSUMED"
	LotFinished   LotStatus = "FINISHED" // terminal
)

// lotTransitions is the legal-transition table. The lifecycle manager's
// Transition operation is the single enforcement point; nothing else may
// write a lot's status.
var lotTransitions = map[LotStatus][]LotStatus{
	LotCreated:    {LotQuarantine, LotHold},
	LotQuarantine: {LotReleased, LotRejected, LotHold},
	LotReleased:   {LotConsumed, LotHold, LotRejected},
	LotHold:       {LotReleased, LotRejected},
	LotConsumed:   {LotFinished},
	LotRejected:   {},
	LotFinished:   {},
}

// CanTransition reports whether from -> to is in the legal-transition table
func CanTransition(from, to LotStatus) bool {
	for _, allowed := range lotTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TerminalLotStatus reports whether a status has no outgoing transitions
func TerminalLotStatus(s LotStatus) bool {
	return len(lotTransitions[s]) == 0
}

// Lot is one physical, traceable unit of material
// Maps to: lots table
type Lot struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	LotCode         string         `db:"lot_code" json:"lot_code"`
	LotType         LotType        `db:"lot_type" json:"lot_type"`
	Status          LotStatus      `db:"status" json:"status"`
	StepIndex       int            `db:"step_index" json:"step_index"`
	WeightKG        float64        `db:"weight_kg" json:"weight_kg"`
	TemperatureC    *float64       `db:"temperature_c" json:"temperature_c,omitempty"`
	ProductionRunID *uuid.UUID     `db:"production_run_id" json:"production_run_id,omitempty"`
	Metadata        map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

var lotCodePattern = regexp.MustCompile(`^[A-Z0-9]{2,6}-\d{8}-\d{3,4}$`)

// FormatLotCode builds a lot code: {TYPE}-{YYYYMMDD}-{SEQ}
func FormatLotCode(lotType LotType, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", lotType, day.Format("20060102"), seq)
}

// ValidLotCode reports whether code matches the lot code format
func ValidLotCode(code string) bool {
	return lotCodePattern.MatchString(code)
}
