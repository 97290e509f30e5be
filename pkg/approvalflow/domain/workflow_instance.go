package domain

import (
	"database/sql"
	"time"
)

// WorkflowInstance is one execution of a definition against a business object.
// Every mutation goes through a version-guarded update; Version is the
// optimistic concurrency token.
type WorkflowInstance struct {
	ID              int64
	ExternalID      string // UUID, unique, for API lookups
	DefinitionID    int64
	EntityType      string
	EntityID        string // opaque reference to the triggering business object
	SubmittedBy     string // user id of the original submitter
	CurrentStep     int    // 1-based index into the definition's steps, 0 before start
	Status          string
	CurrentApprover sql.NullString // null while a step is stalled with no resolvable approver
	StartedAt       time.Time
	StepStartedAt   time.Time // when CurrentStep last changed, base for the SLA deadline
	CompletedAt     sql.NullTime
	Modified        time.Time
	Version         int64
}
