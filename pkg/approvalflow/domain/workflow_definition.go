package domain

import (
	"database/sql"
	"time"
)

// WorkflowDefinition is a reusable approval template for one entity type.
// Definitions are never deleted while instances reference them; they are
// soft-retired by setting IsActive to false.
type WorkflowDefinition struct {
	ID               int64
	Code             string // unique per deployment
	Name             string
	Description      string
	EntityType       string         // leave_request, expense_claim, ...
	Conditions       sql.NullString // opaque JSON, evaluated by the triggering module
	SLAHours         sql.NullInt64  // default per-step SLA, overridable per step
	AutoApproveOnSLA bool
	IsActive         bool
	Created          time.Time
	Updated          time.Time
	Steps            []WorkflowStep
}

// WorkflowStep is one position in a definition's approval chain.
type WorkflowStep struct {
	ID           int64
	DefinitionID int64
	Order        int // dense, 1-based
	Name         string
	ApproverType string
	ApproverRole sql.NullString // set iff ApproverType = role
	ApproverUser sql.NullString // set iff ApproverType = user
	IsOptional   bool
	CanDelegate  bool
	SLAHours     sql.NullInt64
	// EscalateToStep names another step order whose approver rule is used as
	// the escalation target for this step.
	EscalateToStep sql.NullInt64
}
