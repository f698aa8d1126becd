package models

import (
	"time"

	"github.com/google/uuid"
)

// GenealogyEdge is a directed parent -> child link between two lots
// recording material consumption. Edges are append-only: once written they
// are never updated or deleted, so the lineage graph is a permanent audit
// record. The edge set over all lots must stay acyclic.
// Maps to: lot_genealogy table
type GenealogyEdge struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ParentLotID    uuid.UUID `db:"parent_lot_id" json:"parent_lot_id"`
	ChildLotID     uuid.UUID `db:"child_lot_id" json:"child_lot_id"`
	QuantityUsedKG float64   `db:"quantity_used_kg" json:"quantity_used_kg"`
	EventRef       string    `db:"event_ref" json:"event_ref"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TraceDirection selects which way a genealogy traversal walks
type TraceDirection string

const (
	TraceBackward TraceDirection = "backward" // child -> parents (ancestors)
	TraceForward  TraceDirection = "forward"  // parent -> children (descendants)
)

// TraceNode is one lot reached by a traversal, with the depth at which it
// was first visited
type TraceNode struct {
	Lot   *Lot `json:"lot"`
	Depth int  `json:"depth"`
}

// TraceResult is the deduplicated outcome of a bounded traversal
type TraceResult struct {
	Origin uuid.UUID        `json:"origin"`
	Nodes  []TraceNode      `json:"nodes"`
	Edges  []*GenealogyEdge `json:"edges"`
}
