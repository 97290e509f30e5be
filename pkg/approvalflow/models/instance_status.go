package models

// Instance status values. Approved, rejected and cancelled are terminal.
// Escalated is terminal only when no higher-level approver could be resolved;
// otherwise the monitor routes the instance straight back to in_progress.
const (
	StatusInProgress = "in_progress"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusEscalated  = "escalated"
)

// IsTerminalStatus reports whether a status permits no further transitions.
// Escalated is excluded: it is a pending state awaiting manual intervention.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}
