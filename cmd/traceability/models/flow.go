package models

import (
	"time"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/google/uuid"
)

// FlowVersionStatus is the lifecycle state of a flow version
type FlowVersionStatus string

const (
	VersionDraft      FlowVersionStatus = "DRAFT"
	VersionReview     FlowVersionStatus = "REVIEW"     // staged for approval
	VersionPublished  FlowVersionStatus = "PUBLISHED"  // immutable, executable
	VersionDeprecated FlowVersionStatus = "DEPRECATED" // terminal
)

// Mutable reports whether the version's graph may still be written
func (s FlowVersionStatus) Mutable() bool {
	return s == VersionDraft
}

// FlowDefinition is the durable identity of a process
// Maps to: flow_definitions table
type FlowDefinition struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedBy   *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// FlowVersion is one point-in-time graph document under a FlowDefinition.
// version_num is unique per definition and allocated inside the publish
// transaction, never computed by clients.
//
// Once PUBLISHED the graph is write-once: the service refuses the write,
// the repository's guarded UPDATE affects zero rows, and the database
// trigger rejects it. Only the status change to DEPRECATED remains legal.
// Maps to: flow_versions table
type FlowVersion struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	FlowDefinitionID uuid.UUID         `db:"flow_definition_id" json:"flow_definition_id"`
	VersionNum       int               `db:"version_num" json:"version_num"`
	Status           FlowVersionStatus `db:"status" json:"status"`
	Graph            flowgraph.Graph   `db:"graph" json:"graph"`
	CreatedBy        *string           `db:"created_by" json:"created_by,omitempty"`
	ReviewedBy       *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CommittedAt      *time.Time        `db:"committed_at" json:"committed_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}
