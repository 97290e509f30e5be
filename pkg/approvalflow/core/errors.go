package core

import "errors"

// Errors returned by the engine. All are local to a single instance/call;
// wrapping preserves these sentinels for errors.Is checks at the transport
// layer.
var (
	// ErrDefinitionInvalid is returned at start when the template is
	// malformed (no steps, non-dense ordering, bad approver config) or
	// retired.
	ErrDefinitionInvalid = errors.New("workflow definition invalid")

	// ErrNotAuthorizedApprover is returned when the actor is not the
	// instance's resolved current approver.
	ErrNotAuthorizedApprover = errors.New("actor is not the current approver")

	// ErrCommentRequired is returned by reject when comments are empty.
	ErrCommentRequired = errors.New("comments are required")

	// ErrDelegationNotPermitted is returned when the current step has
	// canDelegate disabled.
	ErrDelegationNotPermitted = errors.New("delegation not permitted on this step")

	// ErrNoResolvableApprover means the current step resolved to zero or
	// multiple candidates and is stalled awaiting manual intervention.
	ErrNoResolvableApprover = errors.New("no resolvable approver for the current step")

	// ErrConcurrentModification means another transition won the optimistic
	// version check; callers should re-fetch and retry.
	ErrConcurrentModification = errors.New("instance was modified concurrently")

	// ErrInstanceNotFound is returned for unknown instance ids.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceNotInProgress is returned when an approval-flow operation
	// targets an instance that is no longer in_progress. Cancel is exempt:
	// cancelling a terminal instance is an idempotent no-op.
	ErrInstanceNotInProgress = errors.New("workflow instance is not in progress")
)
