package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/approvalhq/approvalflow/internal/repository"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// Comment markers written by the engine itself. The escalation prefix doubles
// as the replay discriminator between a re-pointed escalation and a
// terminal-pending one.
const (
	CommentSLAAutoApproval      = "SLA auto-approval"
	CommentStepSkipped          = "Step skipped: no resolvable approver"
	CommentEscalationUnresolved = "No escalation target could be resolved"
	EscalatedToPrefix           = "Escalated to "
)

// ApprovalEngine drives workflow instances through their definition's steps.
// Every transition is serialized per instance by the version-guarded update in
// the repository; losers of that race get ErrConcurrentModification.
type ApprovalEngine struct {
	InstanceRepo   InstanceRepo
	ActionRepo     ActionRepo
	DefinitionRepo DefinitionRepo

	resolver *ApproverResolver
	notifier core.Notifier
	clock    core.Clock
}

func NewApprovalEngine(instanceRepo InstanceRepo, actionRepo ActionRepo, definitionRepo DefinitionRepo,
	resolver *ApproverResolver, notifier core.Notifier, clock core.Clock) *ApprovalEngine {
	return &ApprovalEngine{
		InstanceRepo:   instanceRepo,
		ActionRepo:     actionRepo,
		DefinitionRepo: definitionRepo,
		resolver:       resolver,
		notifier:       notifier,
		clock:          clock,
	}
}

// ValidateDefinition checks the template invariants: at least one step, dense
// 1-based ordering, a known approver type per step with exactly the fields
// that type requires, and escalation targets that reference existing steps.
func ValidateDefinition(def *domain.WorkflowDefinition) error {
	if def.Code == "" {
		return fmt.Errorf("%w: code is required", core.ErrDefinitionInvalid)
	}
	if def.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", core.ErrDefinitionInvalid)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: definition %s has no steps", core.ErrDefinitionInvalid, def.Code)
	}
	orders := make(map[int]bool, len(def.Steps))
	for i, step := range def.Steps {
		if step.Order != i+1 {
			return fmt.Errorf("%w: steps must be densely ordered from 1, found order %d at position %d",
				core.ErrDefinitionInvalid, step.Order, i+1)
		}
		if orders[step.Order] {
			return fmt.Errorf("%w: duplicate step order %d", core.ErrDefinitionInvalid, step.Order)
		}
		orders[step.Order] = true

		if !models.ValidApproverType(step.ApproverType) {
			return fmt.Errorf("%w: step %d has unknown approver type %q",
				core.ErrDefinitionInvalid, step.Order, step.ApproverType)
		}
		hasRole := step.ApproverRole.Valid && step.ApproverRole.String != ""
		hasUser := step.ApproverUser.Valid && step.ApproverUser.String != ""
		switch step.ApproverType {
		case models.ApproverRole:
			if !hasRole || hasUser {
				return fmt.Errorf("%w: step %d must set approverRole and nothing else",
					core.ErrDefinitionInvalid, step.Order)
			}
		case models.ApproverUser:
			if !hasUser || hasRole {
				return fmt.Errorf("%w: step %d must set approverUser and nothing else",
					core.ErrDefinitionInvalid, step.Order)
			}
		default:
			if hasRole || hasUser {
				return fmt.Errorf("%w: step %d carries approver fields its type does not use",
					core.ErrDefinitionInvalid, step.Order)
			}
		}
	}
	for _, step := range def.Steps {
		if step.EscalateToStep.Valid {
			target := int(step.EscalateToStep.Int64)
			if !orders[target] || target == step.Order {
				return fmt.Errorf("%w: step %d escalates to unknown step %d",
					core.ErrDefinitionInvalid, step.Order, target)
			}
		}
	}
	return nil
}

// CreateDefinition validates and persists a new definition with its steps.
func (e *ApprovalEngine) CreateDefinition(def *domain.WorkflowDefinition) (int64, error) {
	if err := ValidateDefinition(def); err != nil {
		return 0, err
	}
	now := e.clock.Now()
	def.IsActive = true
	def.Created = now
	def.Updated = now
	return e.DefinitionRepo.Save(def)
}

// GetDefinition returns a definition with its steps.
func (e *ApprovalEngine) GetDefinition(code string) (*domain.WorkflowDefinition, error) {
	def, err := e.DefinitionRepo.FindByCode(code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown definition code %q", core.ErrDefinitionInvalid, code)
	}
	return def, err
}

// ListDefinitions exposes repository list for web/API layers.
func (e *ApprovalEngine) ListDefinitions() (*[]domain.WorkflowDefinition, error) {
	return e.DefinitionRepo.FindAll()
}

// RetireDefinition soft-retires a definition so no new instances can start
// against it. Running instances are unaffected.
func (e *ApprovalEngine) RetireDefinition(code string) error {
	err := e.DefinitionRepo.Retire(code)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: unknown definition code %q", core.ErrDefinitionInvalid, code)
	}
	return err
}

// advanceResult describes where the chain lands after the last completed step:
// either the next step awaiting action (possibly stalled with no approver),
// or Done when every remaining step was skipped.
type advanceResult struct {
	StepOrder int
	Approver  sql.NullString
	Skipped   []int
	Done      bool
}

// advanceFrom walks the steps after the one with order `after`, skipping
// optional steps with no single resolvable approver. A non-optional step that
// resolves to zero or many candidates stalls the chain there with a null
// approver; the engine never silently picks an arbitrary candidate.
func (e *ApprovalEngine) advanceFrom(ctx context.Context, def *domain.WorkflowDefinition, entityID string, after int) (advanceResult, error) {
	var res advanceResult
	for _, step := range def.Steps {
		if step.Order <= after {
			continue
		}
		candidates, err := e.resolver.Resolve(ctx, step, entityID)
		if err != nil {
			return res, fmt.Errorf("resolving approver for step %d: %w", step.Order, err)
		}
		if len(candidates) == 1 {
			res.StepOrder = step.Order
			res.Approver = sql.NullString{String: candidates[0], Valid: true}
			return res, nil
		}
		if step.IsOptional {
			res.Skipped = append(res.Skipped, step.Order)
			continue
		}
		// fail closed: zero or ambiguous candidates stall the instance here
		res.StepOrder = step.Order
		return res, nil
	}
	res.Done = true
	res.StepOrder = lastOrder(def)
	return res, nil
}

func lastOrder(def *domain.WorkflowDefinition) int {
	if len(def.Steps) == 0 {
		return 0
	}
	return def.Steps[len(def.Steps)-1].Order
}

func stepByOrder(def *domain.WorkflowDefinition, order int) *domain.WorkflowStep {
	for i := range def.Steps {
		if def.Steps[i].Order == order {
			return &def.Steps[i]
		}
	}
	return nil
}

// Start creates an instance for the given entity and resolves the first
// actionable step. When every step is optional and unresolvable the chain is
// vacuously satisfied and the instance completes as approved immediately.
func (e *ApprovalEngine) Start(ctx context.Context, definitionCode, entityType, entityID, submittedBy string) (*domain.WorkflowInstance, error) {
	def, err := e.DefinitionRepo.FindByCode(definitionCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown definition code %q", core.ErrDefinitionInvalid, definitionCode)
	}
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, fmt.Errorf("%w: definition %s is retired", core.ErrDefinitionInvalid, definitionCode)
	}
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	if entityType == "" {
		entityType = def.EntityType
	}
	if entityType != def.EntityType {
		return nil, fmt.Errorf("%w: definition %s governs %s, not %s",
			core.ErrDefinitionInvalid, definitionCode, def.EntityType, entityType)
	}

	adv, err := e.advanceFrom(ctx, def, entityID, 0)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	inst := &domain.WorkflowInstance{
		ExternalID:      uuid.NewString(),
		DefinitionID:    def.ID,
		EntityType:      entityType,
		EntityID:        entityID,
		SubmittedBy:     submittedBy,
		CurrentStep:     adv.StepOrder,
		Status:          models.StatusInProgress,
		CurrentApprover: adv.Approver,
		StartedAt:       now,
		StepStartedAt:   now,
		Modified:        now,
	}
	if adv.Done {
		inst.Status = models.StatusApproved
		inst.CompletedAt = sql.NullTime{Time: now, Valid: true}
		inst.CurrentApprover = sql.NullString{}
	}

	if _, err := e.InstanceRepo.Save(inst); err != nil {
		return nil, err
	}
	e.appendSkipActions(inst.ID, adv.Skipped)

	slog.InfoContext(ctx, "Started workflow instance",
		"instance_id", inst.ID, "definition", definitionCode, "entity_id", entityID, "status", inst.Status)
	e.notify(inst.ID, core.EventStarted)
	if adv.Done {
		e.notify(inst.ID, core.EventApproved)
	}
	return inst, nil
}

// Approve records the current approver's approval and advances the instance,
// skipping unresolvable optional steps. Approving the last step completes the
// instance.
func (e *ApprovalEngine) Approve(ctx context.Context, instanceID int64, actorID, comments string) (*domain.WorkflowInstance, error) {
	inst, def, err := e.loadForTransition(instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.CurrentApprover.Valid {
		return nil, core.ErrNoResolvableApprover
	}
	if actorID == "" || actorID != inst.CurrentApprover.String {
		return nil, core.ErrNotAuthorizedApprover
	}
	actor := sql.NullString{String: actorID, Valid: true}
	return e.approveCurrent(ctx, inst, def, actor, comments)
}

// approveCurrent is shared between manual approval and SLA auto-approval; the
// latter passes a null actor.
func (e *ApprovalEngine) approveCurrent(ctx context.Context, inst *domain.WorkflowInstance, def *domain.WorkflowDefinition,
	actor sql.NullString, comments string) (*domain.WorkflowInstance, error) {

	adv, err := e.advanceFrom(ctx, def, inst.EntityID, inst.CurrentStep)
	if err != nil {
		return nil, err
	}

	action := &domain.WorkflowAction{
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		Actor:      actor,
		Action:     models.ActionApproved,
		Comments:   comments,
	}
	update := repository.TransitionUpdate{
		ID:              inst.ID,
		ExpectedVersion: inst.Version,
	}
	if adv.Done {
		update.Status = models.StatusApproved
		update.CurrentStep = adv.StepOrder
		update.CompletedAt = sql.NullTime{Time: e.clock.Now(), Valid: true}
	} else {
		update.Status = models.StatusInProgress
		update.CurrentStep = adv.StepOrder
		update.CurrentApprover = adv.Approver
		update.TouchStepStart = true
	}

	ok, err := e.InstanceRepo.ApplyTransition(update, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrConcurrentModification
	}
	e.appendSkipActions(inst.ID, adv.Skipped)

	slog.InfoContext(ctx, "Approved workflow step",
		"instance_id", inst.ID, "step", inst.CurrentStep, "actor", actor.String, "next_step", adv.StepOrder, "done", adv.Done)
	if adv.Done {
		e.notify(inst.ID, core.EventApproved)
	} else {
		e.notify(inst.ID, core.EventStepAdvanced)
	}
	return e.InstanceRepo.FindByID(inst.ID)
}

// Reject terminates the instance. Rejection at any step is terminal, never
// provisional, and always requires a comment.
func (e *ApprovalEngine) Reject(ctx context.Context, instanceID int64, actorID, comments string) (*domain.WorkflowInstance, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, core.ErrCommentRequired
	}
	inst, _, err := e.loadForTransition(instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.CurrentApprover.Valid {
		return nil, core.ErrNoResolvableApprover
	}
	if actorID == "" || actorID != inst.CurrentApprover.String {
		return nil, core.ErrNotAuthorizedApprover
	}

	action := &domain.WorkflowAction{
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		Actor:      sql.NullString{String: actorID, Valid: true},
		Action:     models.ActionRejected,
		Comments:   comments,
	}
	update := repository.TransitionUpdate{
		ID:              inst.ID,
		ExpectedVersion: inst.Version,
		Status:          models.StatusRejected,
		CurrentStep:     inst.CurrentStep,
		CompletedAt:     sql.NullTime{Time: e.clock.Now(), Valid: true},
	}
	ok, err := e.InstanceRepo.ApplyTransition(update, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrConcurrentModification
	}
	slog.InfoContext(ctx, "Rejected workflow instance", "instance_id", inst.ID, "step", inst.CurrentStep, "actor", actorID)
	e.notify(inst.ID, core.EventRejected)
	return e.InstanceRepo.FindByID(inst.ID)
}

// Delegate hands the current step to another approver without advancing it.
func (e *ApprovalEngine) Delegate(ctx context.Context, instanceID int64, actorID, toUserID, comments string) (*domain.WorkflowInstance, error) {
	if toUserID == "" {
		return nil, fmt.Errorf("%w: delegation target is required", core.ErrDelegationNotPermitted)
	}
	inst, def, err := e.loadForTransition(instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.CurrentApprover.Valid {
		return nil, core.ErrNoResolvableApprover
	}
	if actorID == "" || actorID != inst.CurrentApprover.String {
		return nil, core.ErrNotAuthorizedApprover
	}
	step := stepByOrder(def, inst.CurrentStep)
	if step == nil || !step.CanDelegate {
		return nil, core.ErrDelegationNotPermitted
	}

	action := &domain.WorkflowAction{
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		Actor:      sql.NullString{String: actorID, Valid: true},
		Action:     models.ActionDelegated,
		Comments:   comments,
	}
	update := repository.TransitionUpdate{
		ID:              inst.ID,
		ExpectedVersion: inst.Version,
		Status:          models.StatusInProgress,
		CurrentStep:     inst.CurrentStep,
		CurrentApprover: sql.NullString{String: toUserID, Valid: true},
	}
	ok, err := e.InstanceRepo.ApplyTransition(update, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrConcurrentModification
	}
	slog.InfoContext(ctx, "Delegated workflow step",
		"instance_id", inst.ID, "step", inst.CurrentStep, "from", actorID, "to", toUserID)
	e.notify(inst.ID, core.EventDelegated)
	return e.InstanceRepo.FindByID(inst.ID)
}

// Escalate manually escalates the current step to a higher authority. When
// toUserID is empty the target comes from the step's escalation rule, falling
// back to the current approver's own reporting manager.
func (e *ApprovalEngine) Escalate(ctx context.Context, instanceID int64, actorID, toUserID, comments string) (*domain.WorkflowInstance, error) {
	inst, err := e.InstanceRepo.FindByID(instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	// escalated instances stay eligible so an operator can re-point them
	if inst.Status != models.StatusInProgress && inst.Status != models.StatusEscalated {
		return nil, core.ErrInstanceNotInProgress
	}
	def, err := e.DefinitionRepo.FindByID(inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	actor := sql.NullString{}
	if actorID != "" {
		actor = sql.NullString{String: actorID, Valid: true}
	}
	return e.escalate(ctx, inst, def, actor, toUserID, comments, true)
}

// escalate is shared between the manual operation and the SLA monitor. Manual
// escalation with no resolvable target is an error; monitor escalation parks
// the instance in the escalated state awaiting intervention.
func (e *ApprovalEngine) escalate(ctx context.Context, inst *domain.WorkflowInstance, def *domain.WorkflowDefinition,
	actor sql.NullString, explicitTo, reason string, manual bool) (*domain.WorkflowInstance, error) {

	target, err := e.resolveEscalationTarget(ctx, inst, def, explicitTo)
	if err != nil {
		return nil, err
	}

	action := &domain.WorkflowAction{
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		Actor:      actor,
		Action:     models.ActionEscalated,
	}
	update := repository.TransitionUpdate{
		ID:              inst.ID,
		ExpectedVersion: inst.Version,
		CurrentStep:     inst.CurrentStep,
	}
	if target == "" {
		if manual {
			return nil, core.ErrNoResolvableApprover
		}
		// terminal-pending: excluded from further scans until manually resolved
		action.Comments = CommentEscalationUnresolved
		update.Status = models.StatusEscalated
		update.CurrentApprover = inst.CurrentApprover
	} else {
		action.Comments = EscalatedToPrefix + target
		if reason != "" {
			action.Comments += ": " + reason
		}
		update.Status = models.StatusInProgress
		update.CurrentApprover = sql.NullString{String: target, Valid: true}
		update.TouchStepStart = true
	}

	ok, err := e.InstanceRepo.ApplyTransition(update, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrConcurrentModification
	}
	slog.InfoContext(ctx, "Escalated workflow step",
		"instance_id", inst.ID, "step", inst.CurrentStep, "target", target, "manual", manual)
	e.notify(inst.ID, core.EventEscalated)
	return e.InstanceRepo.FindByID(inst.ID)
}

// resolveEscalationTarget applies the fallback chain: explicit target, the
// step's escalateToStep rule, then the current approver's reporting manager.
// An empty result with nil error means no target exists.
func (e *ApprovalEngine) resolveEscalationTarget(ctx context.Context, inst *domain.WorkflowInstance,
	def *domain.WorkflowDefinition, explicitTo string) (string, error) {
	if explicitTo != "" {
		return explicitTo, nil
	}
	step := stepByOrder(def, inst.CurrentStep)
	if step != nil && step.EscalateToStep.Valid {
		target := stepByOrder(def, int(step.EscalateToStep.Int64))
		if target != nil {
			candidates, err := e.resolver.Resolve(ctx, *target, inst.EntityID)
			if err != nil {
				return "", fmt.Errorf("resolving escalation step %d: %w", target.Order, err)
			}
			if len(candidates) == 1 {
				return candidates[0], nil
			}
		}
	}
	if inst.CurrentApprover.Valid {
		manager, err := e.resolver.ReportingManagerOf(ctx, inst.CurrentApprover.String)
		if err != nil {
			return "", fmt.Errorf("resolving escalation manager: %w", err)
		}
		if manager != "" {
			return manager, nil
		}
	}
	return "", nil
}

// Cancel withdraws an instance from any non-terminal state. Cancelling an
// already-terminal instance is an idempotent no-op.
func (e *ApprovalEngine) Cancel(ctx context.Context, instanceID int64, requestedBy string) (*domain.WorkflowInstance, error) {
	inst, err := e.InstanceRepo.FindByID(instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(inst.Status) {
		return inst, nil
	}

	actor := sql.NullString{}
	if requestedBy != "" {
		actor = sql.NullString{String: requestedBy, Valid: true}
	}
	action := &domain.WorkflowAction{
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		Actor:      actor,
		Action:     models.ActionCancelled,
		Comments:   "Cancelled by requester",
	}
	update := repository.TransitionUpdate{
		ID:              inst.ID,
		ExpectedVersion: inst.Version,
		Status:          models.StatusCancelled,
		CurrentStep:     inst.CurrentStep,
		CompletedAt:     sql.NullTime{Time: e.clock.Now(), Valid: true},
	}
	ok, err := e.InstanceRepo.ApplyTransition(update, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrConcurrentModification
	}
	slog.InfoContext(ctx, "Cancelled workflow instance", "instance_id", inst.ID, "requested_by", requestedBy)
	e.notify(inst.ID, core.EventCancelled)
	return e.InstanceRepo.FindByID(inst.ID)
}

// GetInstance returns an instance together with its full action history.
func (e *ApprovalEngine) GetInstance(instanceID int64) (*domain.WorkflowInstance, []domain.WorkflowAction, error) {
	inst, err := e.InstanceRepo.FindByID(instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, core.ErrInstanceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	actions, err := e.ActionRepo.FindAllByInstanceID(instanceID)
	if err != nil {
		return nil, nil, err
	}
	return inst, *actions, nil
}

// GetInstanceByExternalID looks an instance up by its UUID reference.
func (e *ApprovalEngine) GetInstanceByExternalID(externalID string) (*domain.WorkflowInstance, []domain.WorkflowAction, error) {
	inst, err := e.InstanceRepo.FindByExternalID(externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, core.ErrInstanceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	actions, err := e.ActionRepo.FindAllByInstanceID(inst.ID)
	if err != nil {
		return nil, nil, err
	}
	return inst, *actions, nil
}

// ListPendingFor returns the in-progress instances awaiting the given user.
func (e *ApprovalEngine) ListPendingFor(userID string) (*[]domain.WorkflowInstance, error) {
	return e.InstanceRepo.FindPendingForApprover(userID)
}

// SearchInstances delegates to the repository search with request filters.
func (e *ApprovalEngine) SearchInstances(req models.SearchInstanceRequest) (*[]domain.WorkflowInstance, error) {
	return e.InstanceRepo.SearchInstances(req)
}

// Overview exposes grouped counts for dashboards.
func (e *ApprovalEngine) Overview() ([]repository.InstanceOverviewRow, error) {
	return e.InstanceRepo.GetInstanceOverview()
}

func (e *ApprovalEngine) loadForTransition(instanceID int64) (*domain.WorkflowInstance, *domain.WorkflowDefinition, error) {
	inst, err := e.InstanceRepo.FindByID(instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, core.ErrInstanceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if inst.Status != models.StatusInProgress {
		return nil, nil, core.ErrInstanceNotInProgress
	}
	def, err := e.DefinitionRepo.FindByID(inst.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	return inst, def, nil
}

// appendSkipActions logs a skipped marker for every optional step that was
// passed over for lack of a resolvable approver. These markers make the log
// replayable without consulting the directory.
func (e *ApprovalEngine) appendSkipActions(instanceID int64, skipped []int) {
	for _, order := range skipped {
		if _, err := e.ActionRepo.Save(&domain.WorkflowAction{
			InstanceID: instanceID,
			Step:       order,
			Action:     models.ActionSkipped,
			Comments:   CommentStepSkipped,
		}); err != nil {
			slog.Error("Failed to log skipped step", "instance_id", instanceID, "step", order, "error", err)
		}
	}
}

func (e *ApprovalEngine) notify(instanceID int64, event string) {
	if e.notifier == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Notifier panicked", "instance_id", instanceID, "event", event, "panic", r)
			}
		}()
		e.notifier.Notify(instanceID, event)
	}()
}
