package engine

import (
	"strings"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// ReplayResult is the state an instance must be in given its action log.
type ReplayResult struct {
	Status      string
	CurrentStep int
}

// Replay folds an instance's action log over its definition and returns the
// resulting state. The log is the source of truth: replaying it always yields
// the instance's stored status and current step, which makes the engine
// auditable without consulting the directory.
func Replay(def *domain.WorkflowDefinition, actions []domain.WorkflowAction) ReplayResult {
	res := ReplayResult{Status: models.StatusInProgress, CurrentStep: 1}
	if len(def.Steps) == 0 {
		return res
	}
	last := lastOrder(def)
	for _, a := range actions {
		switch a.Action {
		case models.ActionApproved, models.ActionSkipped, models.ActionForwarded:
			if a.Step >= last {
				res.Status = models.StatusApproved
				res.CurrentStep = last
				return res
			}
			res.CurrentStep = a.Step + 1
		case models.ActionRejected:
			res.Status = models.StatusRejected
			res.CurrentStep = a.Step
			return res
		case models.ActionCancelled:
			res.Status = models.StatusCancelled
			res.CurrentStep = a.Step
			return res
		case models.ActionEscalated:
			if strings.HasPrefix(a.Comments, EscalatedToPrefix) {
				res.Status = models.StatusInProgress
			} else {
				res.Status = models.StatusEscalated
			}
			res.CurrentStep = a.Step
		case models.ActionDelegated:
			// reassignment only, state unchanged
		}
	}
	return res
}
