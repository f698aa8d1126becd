package models

import (
	"testing"
	"time"
)

var allLotStatuses = []LotStatus{
	LotCreated, LotQuarantine, LotReleased, LotHold, LotRejected, LotConsumed, LotFinished,
}

// TestCanTransition_ExhaustivePairs checks every ordered status pair
// against the legal-transition table.
func TestCanTransition_ExhaustivePairs(t *testing.T) {
	legal := map[LotStatus]map[LotStatus]bool{
		LotCreated:    {LotQuarantine: true, LotHold: true},
		LotQuarantine: {LotReleased: true, LotRejected: true, LotHold: true},
		LotReleased:   {LotConsumed: true, LotHold: true, LotRejected: true},
		LotHold:       {LotReleased: true, LotRejected: true},
		LotConsumed:   {LotFinished: true},
		LotRejected:   {},
		LotFinished:   {},
	}

	for _, from := range allLotStatuses {
		for _, to := range allLotStatuses {
			want := legal[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_SelfLoopsIllegal(t *testing.T) {
	for _, s := range allLotStatuses {
		if CanTransition(s, s) {
			t.Errorf("self transition %s -> %s must be illegal", s, s)
		}
	}
}

func TestTerminalLotStatus(t *testing.T) {
	terminal := map[LotStatus]bool{
		LotRejected: true,
		LotFinished: true,
	}
	for _, s := range allLotStatuses {
		if got := TerminalLotStatus(s); got != terminal[s] {
			t.Errorf("TerminalLotStatus(%s) = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestFormatLotCode(t *testing.T) {
	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	code := FormatLotCode(LotRaw, day, 1)
	if code != "RAW-20260824-001" {
		t.Errorf("unexpected lot code: %s", code)
	}
	if !ValidLotCode(code) {
		t.Errorf("generated code %s must validate", code)
	}
}

func TestValidLotCode(t *testing.T) {
	cases := []struct {
		code  string
		valid bool
	}{
		{"RAW-20260824-001", true},
		{"FG15-20260824-0042", true},
		{"MIX-20260824-001", true},
		{"raw-20260824-001", false},
		{"RAW-2026-001", false},
		{"RAW-20260824-1", false},
		{"RAW-20260824-", false},
		{"", false},
	}

	for _, c := range cases {
		if got := ValidLotCode(c.code); got != c.valid {
			t.Errorf("ValidLotCode(%q) = %v, want %v", c.code, got, c.valid)
		}
	}
}
