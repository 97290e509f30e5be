package models

// Action kinds recorded in the audit log. Cancelled and skipped are distinct
// kinds so cancellation and optional-step auto-skips are never conflated with
// the approval-flow actions.
const (
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionForwarded = "forwarded"
	ActionDelegated = "delegated"
	ActionEscalated = "escalated"
	ActionCancelled = "cancelled"
	ActionSkipped   = "skipped"
)
