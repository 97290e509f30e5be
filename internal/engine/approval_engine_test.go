package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvalhq/approvalflow/internal/repository"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/directory"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

var testStart = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// leaveDefinition is a two step flow: reporting manager then HR manager.
func leaveDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:         1,
		Code:       "LEAVE_STD",
		Name:       "Standard Leave",
		EntityType: "leave_request",
		IsActive:   true,
		Steps: []domain.WorkflowStep{
			{ID: 1, DefinitionID: 1, Order: 1, Name: "Manager approval",
				ApproverType: models.ApproverReportingManager, CanDelegate: true},
			{ID: 2, DefinitionID: 1, Order: 2, Name: "HR approval",
				ApproverType: models.ApproverHRManager},
		},
	}
}

type testEnv struct {
	engine  *ApprovalEngine
	inst    *domain.WorkflowInstance
	actions *MockActionRepo
	defs    *MockDefinitionRepo
	dir     *directory.StaticDirectory
	roles   *directory.StaticRoles
	clock   *FakeClock
}

// newTestEnv wires an engine against an in-memory single-instance store that
// mirrors the version-guarded transition of the real repository.
func newTestEnv(def *domain.WorkflowDefinition, inst *domain.WorkflowInstance) *testEnv {
	clock := NewFakeClock(testStart)
	actions := &MockActionRepo{}
	dir := directory.NewStaticDirectory()
	roles := directory.NewStaticRoles()

	instances := &MockInstanceRepo{
		SaveFunc: func(saved *domain.WorkflowInstance) (int64, error) {
			saved.ID = 1
			*inst = *saved
			return 1, nil
		},
		FindByIDFunc: func(id int64) (*domain.WorkflowInstance, error) {
			if inst == nil || inst.ID != id {
				return nil, sql.ErrNoRows
			}
			cp := *inst
			return &cp, nil
		},
		ApplyTransitionFunc: func(u repository.TransitionUpdate, a *domain.WorkflowAction) (bool, error) {
			if inst.ID != u.ID || inst.Version != u.ExpectedVersion {
				return false, nil
			}
			inst.Status = u.Status
			inst.CurrentStep = u.CurrentStep
			inst.CurrentApprover = u.CurrentApprover
			inst.CompletedAt = u.CompletedAt
			if u.TouchStepStart {
				inst.StepStartedAt = clock.Now()
			}
			inst.Modified = clock.Now()
			inst.Version++
			if a != nil {
				actions.Save(a)
			}
			return true, nil
		},
	}
	defs := &MockDefinitionRepo{
		FindByCodeFunc: func(code string) (*domain.WorkflowDefinition, error) {
			if def != nil && def.Code == code {
				return def, nil
			}
			return nil, sql.ErrNoRows
		},
		FindByIDFunc: func(id int64) (*domain.WorkflowDefinition, error) {
			if def != nil && def.ID == id {
				return def, nil
			}
			return nil, sql.ErrNoRows
		},
	}

	resolver := NewApproverResolver(dir, roles)
	eng := NewApprovalEngine(instances, actions, defs, resolver, nil, clock)
	return &testEnv{engine: eng, inst: inst, actions: actions, defs: defs, dir: dir, roles: roles, clock: clock}
}

func inProgressInstance(step int, approver string) *domain.WorkflowInstance {
	return &domain.WorkflowInstance{
		ID:              1,
		ExternalID:      "ext-1",
		DefinitionID:    1,
		EntityType:      "leave_request",
		EntityID:        "emp-7",
		SubmittedBy:     "emp-7",
		CurrentStep:     step,
		Status:          models.StatusInProgress,
		CurrentApprover: sql.NullString{String: approver, Valid: approver != ""},
		StartedAt:       testStart,
		StepStartedAt:   testStart,
		Modified:        testStart,
		Version:         1,
	}
}

func TestStartResolvesFirstApprover(t *testing.T) {
	env := newTestEnv(leaveDefinition(), &domain.WorkflowInstance{})
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1", HRManager: "hr-1"})

	inst, err := env.engine.Start(context.Background(), "LEAVE_STD", "", "emp-7", "emp-7")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, "mgr-1", inst.CurrentApprover.String)
	assert.Equal(t, "leave_request", inst.EntityType)
	assert.NotEmpty(t, inst.ExternalID)
}

func TestStartUnknownDefinition(t *testing.T) {
	env := newTestEnv(leaveDefinition(), &domain.WorkflowInstance{})

	_, err := env.engine.Start(context.Background(), "NOPE", "", "emp-7", "emp-7")
	assert.ErrorIs(t, err, core.ErrDefinitionInvalid)
}

func TestStartRetiredDefinition(t *testing.T) {
	def := leaveDefinition()
	def.IsActive = false
	env := newTestEnv(def, &domain.WorkflowInstance{})

	_, err := env.engine.Start(context.Background(), "LEAVE_STD", "", "emp-7", "emp-7")
	assert.ErrorIs(t, err, core.ErrDefinitionInvalid)
}

func TestStartEntityTypeMismatch(t *testing.T) {
	env := newTestEnv(leaveDefinition(), &domain.WorkflowInstance{})
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1"})

	_, err := env.engine.Start(context.Background(), "LEAVE_STD", "expense_claim", "emp-7", "emp-7")
	assert.ErrorIs(t, err, core.ErrDefinitionInvalid)
}

func TestStartStallsWhenFirstApproverMissing(t *testing.T) {
	env := newTestEnv(leaveDefinition(), &domain.WorkflowInstance{})
	// no directory entry for emp-7, step 1 is mandatory

	inst, err := env.engine.Start(context.Background(), "LEAVE_STD", "", "emp-7", "emp-7")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.False(t, inst.CurrentApprover.Valid)
}

func TestStartAllOptionalStepsSkippedApprovesImmediately(t *testing.T) {
	def := leaveDefinition()
	def.Steps[0].IsOptional = true
	def.Steps[1].IsOptional = true
	env := newTestEnv(def, &domain.WorkflowInstance{})
	// nobody resolvable for either step

	inst, err := env.engine.Start(context.Background(), "LEAVE_STD", "", "emp-7", "emp-7")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, inst.Status)
	assert.True(t, inst.CompletedAt.Valid)
	assert.False(t, inst.CurrentApprover.Valid)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 2)
	assert.Equal(t, models.ActionSkipped, saved[0].Action)
	assert.Equal(t, 1, saved[0].Step)
	assert.Equal(t, models.ActionSkipped, saved[1].Action)
	assert.Equal(t, 2, saved[1].Step)
}

func TestApproveAdvancesToNextStep(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1", HRManager: "hr-1"})

	inst, err := env.engine.Approve(context.Background(), 1, "mgr-1", "looks fine")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Equal(t, "hr-1", inst.CurrentApprover.String)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionApproved, saved[0].Action)
	assert.Equal(t, 1, saved[0].Step)
	assert.Equal(t, "mgr-1", saved[0].Actor.String)
}

func TestApproveLastStepCompletesInstance(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(2, "hr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1", HRManager: "hr-1"})

	inst, err := env.engine.Approve(context.Background(), 1, "hr-1", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, inst.Status)
	assert.True(t, inst.CompletedAt.Valid)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.False(t, inst.CurrentApprover.Valid)
}

func TestApproveResetStepClockOnAdvance(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1", HRManager: "hr-1"})
	env.clock.Add(3 * time.Hour)

	inst, err := env.engine.Approve(context.Background(), 1, "mgr-1", "")
	require.NoError(t, err)

	assert.Equal(t, testStart.Add(3*time.Hour), inst.StepStartedAt)
}

func TestApproveSameApproverOnConsecutiveSteps(t *testing.T) {
	def := leaveDefinition()
	def.Steps = []domain.WorkflowStep{
		{ID: 1, DefinitionID: 1, Order: 1, Name: "Initial review",
			ApproverType: models.ApproverUser, ApproverUser: sql.NullString{String: "boss-1", Valid: true}},
		{ID: 2, DefinitionID: 1, Order: 2, Name: "Final review",
			ApproverType: models.ApproverUser, ApproverUser: sql.NullString{String: "boss-1", Valid: true}},
	}
	env := newTestEnv(def, inProgressInstance(1, "boss-1"))

	// consecutive steps resolving to the same user never merge; the approver
	// acts once per step
	inst, err := env.engine.Approve(context.Background(), 1, "boss-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Equal(t, "boss-1", inst.CurrentApprover.String)

	inst, err = env.engine.Approve(context.Background(), 1, "boss-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, inst.Status)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 2)
	assert.Equal(t, models.ActionApproved, saved[0].Action)
	assert.Equal(t, 1, saved[0].Step)
	assert.Equal(t, models.ActionApproved, saved[1].Action)
	assert.Equal(t, 2, saved[1].Step)
}

func TestApproveRejectsWrongActor(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	_, err := env.engine.Approve(context.Background(), 1, "intruder", "")
	assert.ErrorIs(t, err, core.ErrNotAuthorizedApprover)
	assert.Empty(t, env.actions.SavedActions())
}

func TestApproveStalledInstance(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, ""))

	_, err := env.engine.Approve(context.Background(), 1, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrNoResolvableApprover)
}

func TestApproveTerminalInstance(t *testing.T) {
	inst := inProgressInstance(1, "mgr-1")
	inst.Status = models.StatusRejected
	env := newTestEnv(leaveDefinition(), inst)

	_, err := env.engine.Approve(context.Background(), 1, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrInstanceNotInProgress)
}

func TestApproveUnknownInstance(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	_, err := env.engine.Approve(context.Background(), 99, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrInstanceNotFound)
}

func TestApproveConcurrentModification(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1", HRManager: "hr-1"})
	env.inst.Version = 5 // reload happened elsewhere; engine saw version 5 then store moved on

	eng := env.engine
	stale := *env.inst
	stale.Version = 4
	eng.InstanceRepo.(*MockInstanceRepo).FindByIDFunc = func(id int64) (*domain.WorkflowInstance, error) {
		cp := stale
		return &cp, nil
	}

	_, err := eng.Approve(context.Background(), 1, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
}

func TestApproveSkipsUnresolvableOptionalStep(t *testing.T) {
	def := leaveDefinition()
	def.Steps[1].IsOptional = true
	def.Steps = append(def.Steps, domain.WorkflowStep{
		ID: 3, DefinitionID: 1, Order: 3, Name: "Director sign-off",
		ApproverType: models.ApproverUser, ApproverUser: sql.NullString{String: "dir-1", Valid: true},
	})
	env := newTestEnv(def, inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1"}) // no HR manager

	inst, err := env.engine.Approve(context.Background(), 1, "mgr-1", "")
	require.NoError(t, err)

	assert.Equal(t, 3, inst.CurrentStep)
	assert.Equal(t, "dir-1", inst.CurrentApprover.String)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 2)
	assert.Equal(t, models.ActionApproved, saved[0].Action)
	assert.Equal(t, models.ActionSkipped, saved[1].Action)
	assert.Equal(t, 2, saved[1].Step)
}

func TestApproveStallsOnAmbiguousRoleStep(t *testing.T) {
	def := leaveDefinition()
	def.Steps[1] = domain.WorkflowStep{
		ID: 2, DefinitionID: 1, Order: 2, Name: "Finance approval",
		ApproverType: models.ApproverRole, ApproverRole: sql.NullString{String: "finance", Valid: true},
	}
	env := newTestEnv(def, inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{ReportingManager: "mgr-1"})
	env.roles.Set("finance", "fin-1", "fin-2")

	inst, err := env.engine.Approve(context.Background(), 1, "mgr-1", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.False(t, inst.CurrentApprover.Valid)
}

func TestRejectRequiresComment(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	_, err := env.engine.Reject(context.Background(), 1, "mgr-1", "   ")
	assert.ErrorIs(t, err, core.ErrCommentRequired)
}

func TestRejectIsTerminal(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(2, "hr-1"))

	inst, err := env.engine.Reject(context.Background(), 1, "hr-1", "policy violation")
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.True(t, inst.CompletedAt.Valid)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionRejected, saved[0].Action)
	assert.Equal(t, "policy violation", saved[0].Comments)
}

func TestDelegateReassignsApprover(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	inst, err := env.engine.Delegate(context.Background(), 1, "mgr-1", "mgr-2", "on leave myself")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, "mgr-2", inst.CurrentApprover.String)
	assert.Equal(t, testStart, inst.StepStartedAt) // delegation keeps the SLA clock running

	saved := env.actions.SavedActions()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionDelegated, saved[0].Action)
}

func TestDelegateNotPermittedByStep(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(2, "hr-1"))

	_, err := env.engine.Delegate(context.Background(), 1, "hr-1", "hr-2", "")
	assert.ErrorIs(t, err, core.ErrDelegationNotPermitted)
}

func TestDelegateWrongActor(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	_, err := env.engine.Delegate(context.Background(), 1, "mgr-2", "mgr-3", "")
	assert.ErrorIs(t, err, core.ErrNotAuthorizedApprover)
}

func TestEscalateToExplicitTarget(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	inst, err := env.engine.Escalate(context.Background(), 1, "emp-7", "dir-1", "urgent hire")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, "dir-1", inst.CurrentApprover.String)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionEscalated, saved[0].Action)
	assert.Equal(t, "Escalated to dir-1: urgent hire", saved[0].Comments)
}

func TestEscalateViaStepRule(t *testing.T) {
	def := leaveDefinition()
	def.Steps[0].EscalateToStep = sql.NullInt64{Int64: 2, Valid: true}
	env := newTestEnv(def, inProgressInstance(1, "mgr-1"))
	env.dir.Set("emp-7", directory.StaticEntry{HRManager: "hr-1"})

	inst, err := env.engine.Escalate(context.Background(), 1, "", "", "")
	require.NoError(t, err)

	assert.Equal(t, "hr-1", inst.CurrentApprover.String)
	assert.Equal(t, 1, inst.CurrentStep) // step does not advance on escalation
}

func TestEscalateFallsBackToApproversManager(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))
	env.dir.Set("mgr-1", directory.StaticEntry{ReportingManager: "dir-1"})

	inst, err := env.engine.Escalate(context.Background(), 1, "", "", "")
	require.NoError(t, err)

	assert.Equal(t, "dir-1", inst.CurrentApprover.String)
}

func TestEscalateManualWithoutTargetFails(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))
	// mgr-1 has no manager and the step has no escalation rule

	_, err := env.engine.Escalate(context.Background(), 1, "", "", "")
	assert.ErrorIs(t, err, core.ErrNoResolvableApprover)
}

func TestEscalateResolvesParkedInstance(t *testing.T) {
	inst := inProgressInstance(1, "mgr-1")
	inst.Status = models.StatusEscalated
	env := newTestEnv(leaveDefinition(), inst)

	updated, err := env.engine.Escalate(context.Background(), 1, "admin-1", "dir-1", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.Equal(t, "dir-1", updated.CurrentApprover.String)
}

func TestCancelInProgressInstance(t *testing.T) {
	env := newTestEnv(leaveDefinition(), inProgressInstance(1, "mgr-1"))

	inst, err := env.engine.Cancel(context.Background(), 1, "emp-7")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, inst.Status)
	assert.True(t, inst.CompletedAt.Valid)

	saved := env.actions.SavedActions()
	require.Len(t, saved, 1)
	assert.Equal(t, models.ActionCancelled, saved[0].Action)
	assert.Equal(t, "emp-7", saved[0].Actor.String)
}

func TestCancelTerminalInstanceIsNoop(t *testing.T) {
	inst := inProgressInstance(1, "mgr-1")
	inst.Status = models.StatusApproved
	env := newTestEnv(leaveDefinition(), inst)

	got, err := env.engine.Cancel(context.Background(), 1, "emp-7")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Empty(t, env.actions.SavedActions())
}

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(def *domain.WorkflowDefinition)
		ok     bool
	}{
		{"valid", func(def *domain.WorkflowDefinition) {}, true},
		{"no steps", func(def *domain.WorkflowDefinition) { def.Steps = nil }, false},
		{"missing code", func(def *domain.WorkflowDefinition) { def.Code = "" }, false},
		{"sparse ordering", func(def *domain.WorkflowDefinition) { def.Steps[1].Order = 5 }, false},
		{"unknown approver type", func(def *domain.WorkflowDefinition) { def.Steps[0].ApproverType = "boss" }, false},
		{"role step without role", func(def *domain.WorkflowDefinition) {
			def.Steps[0].ApproverType = models.ApproverRole
		}, false},
		{"user step without user", func(def *domain.WorkflowDefinition) {
			def.Steps[0].ApproverType = models.ApproverUser
		}, false},
		{"stray role field", func(def *domain.WorkflowDefinition) {
			def.Steps[0].ApproverRole = sql.NullString{String: "finance", Valid: true}
		}, false},
		{"escalate to missing step", func(def *domain.WorkflowDefinition) {
			def.Steps[0].EscalateToStep = sql.NullInt64{Int64: 9, Valid: true}
		}, false},
		{"escalate to self", func(def *domain.WorkflowDefinition) {
			def.Steps[0].EscalateToStep = sql.NullInt64{Int64: 1, Valid: true}
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := leaveDefinition()
			tc.mutate(def)
			err := ValidateDefinition(def)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrDefinitionInvalid)
			}
		})
	}
}

func TestCreateDefinitionStampsTimestamps(t *testing.T) {
	env := newTestEnv(nil, &domain.WorkflowInstance{})
	def := leaveDefinition()
	def.Created = time.Time{}
	def.Updated = time.Time{}

	var saved *domain.WorkflowDefinition
	env.defs.SaveFunc = func(d *domain.WorkflowDefinition) (int64, error) {
		saved = d
		return 7, nil
	}

	id, err := env.engine.CreateDefinition(def)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NotNil(t, saved)
	assert.Equal(t, testStart, saved.Created)
	assert.True(t, saved.IsActive)
}
