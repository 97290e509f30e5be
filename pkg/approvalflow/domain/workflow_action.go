package domain

import (
	"database/sql"
	"time"
)

// WorkflowAction is one immutable entry in an instance's audit log.
type WorkflowAction struct {
	ID         int64
	InstanceID int64
	Step       int            // step order at the time of the action
	Actor      sql.NullString // null for system-generated escalation/auto-approve events
	Action     string
	Comments   string
	CreatedAt  time.Time
}
