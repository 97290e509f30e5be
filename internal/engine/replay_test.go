package engine

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

func act(step int, action, comments string) domain.WorkflowAction {
	return domain.WorkflowAction{Step: step, Action: action, Comments: comments,
		Actor: sql.NullString{String: "someone", Valid: true}}
}

func TestReplay(t *testing.T) {
	def := leaveDefinition()

	tests := []struct {
		name    string
		actions []domain.WorkflowAction
		want    ReplayResult
	}{
		{
			"empty log is in progress at first step",
			nil,
			ReplayResult{Status: models.StatusInProgress, CurrentStep: 1},
		},
		{
			"first approval advances",
			[]domain.WorkflowAction{act(1, models.ActionApproved, "")},
			ReplayResult{Status: models.StatusInProgress, CurrentStep: 2},
		},
		{
			"full approval chain completes",
			[]domain.WorkflowAction{
				act(1, models.ActionApproved, ""),
				act(2, models.ActionApproved, ""),
			},
			ReplayResult{Status: models.StatusApproved, CurrentStep: 2},
		},
		{
			"skipped step counts as passed",
			[]domain.WorkflowAction{
				act(1, models.ActionSkipped, CommentStepSkipped),
				act(2, models.ActionApproved, ""),
			},
			ReplayResult{Status: models.StatusApproved, CurrentStep: 2},
		},
		{
			"all steps skipped is vacuous approval",
			[]domain.WorkflowAction{
				act(1, models.ActionSkipped, CommentStepSkipped),
				act(2, models.ActionSkipped, CommentStepSkipped),
			},
			ReplayResult{Status: models.StatusApproved, CurrentStep: 2},
		},
		{
			"rejection is terminal at its step",
			[]domain.WorkflowAction{
				act(1, models.ActionApproved, ""),
				act(2, models.ActionRejected, "no"),
			},
			ReplayResult{Status: models.StatusRejected, CurrentStep: 2},
		},
		{
			"cancellation is terminal",
			[]domain.WorkflowAction{act(1, models.ActionCancelled, "Cancelled by requester")},
			ReplayResult{Status: models.StatusCancelled, CurrentStep: 1},
		},
		{
			"delegation does not move the chain",
			[]domain.WorkflowAction{
				act(1, models.ActionApproved, ""),
				act(2, models.ActionDelegated, "covering"),
			},
			ReplayResult{Status: models.StatusInProgress, CurrentStep: 2},
		},
		{
			"resolved escalation stays in progress",
			[]domain.WorkflowAction{act(1, models.ActionEscalated, EscalatedToPrefix + "dir-1")},
			ReplayResult{Status: models.StatusInProgress, CurrentStep: 1},
		},
		{
			"unresolved escalation parks the instance",
			[]domain.WorkflowAction{act(1, models.ActionEscalated, CommentEscalationUnresolved)},
			ReplayResult{Status: models.StatusEscalated, CurrentStep: 1},
		},
		{
			"approval after escalation still completes",
			[]domain.WorkflowAction{
				act(1, models.ActionEscalated, EscalatedToPrefix + "dir-1"),
				act(1, models.ActionApproved, ""),
				act(2, models.ActionApproved, ""),
			},
			ReplayResult{Status: models.StatusApproved, CurrentStep: 2},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Replay(def, tc.actions))
		})
	}
}
