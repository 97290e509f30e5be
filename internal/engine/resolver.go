package engine

import (
	"context"
	"fmt"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// ApproverResolver maps a step's abstract approver reference onto concrete
// user ids. It is a pure lookup: no mutation, no knowledge of workflow state.
// A non-nil error means the directory/role lookup itself failed and the call
// may be retried; an empty candidate list means no such approver exists.
type ApproverResolver struct {
	directory core.Directory
	dispatch  map[string]resolveFunc
}

type resolveFunc func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error)

func NewApproverResolver(directory core.Directory, roles core.RoleMembership) *ApproverResolver {
	r := &ApproverResolver{directory: directory}
	r.dispatch = map[string]resolveFunc{
		models.ApproverReportingManager: func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
			return single(directory.ResolveReportingManager(ctx, entityID))
		},
		models.ApproverHRManager: func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
			return single(directory.ResolveHRManager(ctx, entityID))
		},
		models.ApproverDepartmentHead: func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
			return single(directory.ResolveDepartmentHead(ctx, entityID))
		},
		models.ApproverRole: func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
			if !step.ApproverRole.Valid || step.ApproverRole.String == "" {
				return nil, fmt.Errorf("%w: step %d has approver type role but no role id", core.ErrDefinitionInvalid, step.Order)
			}
			return roles.UsersWithRole(ctx, step.ApproverRole.String)
		},
		models.ApproverUser: func(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
			if !step.ApproverUser.Valid || step.ApproverUser.String == "" {
				return nil, fmt.Errorf("%w: step %d has approver type user but no user id", core.ErrDefinitionInvalid, step.Order)
			}
			return []string{step.ApproverUser.String}, nil
		},
	}
	return r
}

// Resolve returns zero, one or many candidate user ids for the step.
func (r *ApproverResolver) Resolve(ctx context.Context, step domain.WorkflowStep, entityID string) ([]string, error) {
	fn, ok := r.dispatch[step.ApproverType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown approver type %q", core.ErrDefinitionInvalid, step.ApproverType)
	}
	return fn(ctx, step, entityID)
}

// ReportingManagerOf resolves a user's own manager, used as the escalation
// fallback when a step has no explicit escalation rule.
func (r *ApproverResolver) ReportingManagerOf(ctx context.Context, userID string) (string, error) {
	return r.directory.ResolveReportingManager(ctx, userID)
}

func single(userID string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, nil
	}
	return []string{userID}, nil
}
