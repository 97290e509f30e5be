package core

import "context"

// Directory is the external employee-directory collaborator. Lookups return
// an empty string when no such person exists; a non-nil error means the
// lookup itself failed and may be retried. The engine never mutates through
// this interface.
type Directory interface {
	ResolveReportingManager(ctx context.Context, entityID string) (string, error)
	ResolveHRManager(ctx context.Context, entityID string) (string, error)
	ResolveDepartmentHead(ctx context.Context, entityID string) (string, error)
}

// RoleMembership resolves a role id to its member user ids.
type RoleMembership interface {
	UsersWithRole(ctx context.Context, roleID string) ([]string, error)
}

// Event names delivered to the Notifier on every state transition.
const (
	EventStarted      = "started"
	EventStepAdvanced = "step_advanced"
	EventApproved     = "approved"
	EventRejected     = "rejected"
	EventDelegated    = "delegated"
	EventEscalated    = "escalated"
	EventCancelled    = "cancelled"
)

// Notifier receives fire-and-forget transition events. Failures are logged
// and never fail or roll back the transition that produced them.
type Notifier interface {
	Notify(instanceID int64, event string)
}
