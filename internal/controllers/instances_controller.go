package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/approvalhq/approvalflow/internal/engine"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// InstancesController holds dependencies for instance HTTP endpoints.
type InstancesController struct {
	Engine *engine.ApprovalEngine
}

func NewInstancesController(eng *engine.ApprovalEngine) *InstancesController {
	return &InstancesController{Engine: eng}
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInstanceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrDefinitionInvalid),
		errors.Is(err, core.ErrCommentRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotAuthorizedApprover):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, core.ErrInstanceNotInProgress),
		errors.Is(err, core.ErrDelegationNotPermitted),
		errors.Is(err, core.ErrNoResolvableApprover),
		errors.Is(err, core.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (c *InstancesController) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.StartInstanceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.DefinitionCode == "" || req.EntityID == "" || req.SubmittedBy == "" {
		http.Error(w, "definitionCode, entityId and submittedBy are required", http.StatusBadRequest)
		return
	}

	inst, err := c.Engine.Start(r.Context(), req.DefinitionCode, req.EntityType, req.EntityID, req.SubmittedBy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StartInstanceResponse{ID: inst.ID, ExternalID: inst.ExternalID})
}

func (c *InstancesController) handleGetInstanceById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	inst, actions, err := c.Engine.GetInstance(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, actions))
}

func (c *InstancesController) handleGetInstanceByExternalId(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	externalID := r.PathValue("externalId")
	if externalID == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}
	inst, actions, err := c.Engine.GetInstanceByExternalID(externalID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, actions))
}

// actionRequest is the common decode for approve/reject/delegate/escalate.
func decodeInstanceAction(w http.ResponseWriter, r *http.Request, req any) (int64, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return 0, false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (c *InstancesController) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req models.ApproveRequest
	id, ok := decodeInstanceAction(w, r, &req)
	if !ok {
		return
	}
	inst, err := c.Engine.Approve(r.Context(), id, req.Actor, req.Comments)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, nil))
}

func (c *InstancesController) handleReject(w http.ResponseWriter, r *http.Request) {
	var req models.ApproveRequest
	id, ok := decodeInstanceAction(w, r, &req)
	if !ok {
		return
	}
	inst, err := c.Engine.Reject(r.Context(), id, req.Actor, req.Comments)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, nil))
}

func (c *InstancesController) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req models.DelegateRequest
	id, ok := decodeInstanceAction(w, r, &req)
	if !ok {
		return
	}
	inst, err := c.Engine.Delegate(r.Context(), id, req.Actor, req.To, req.Comments)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, nil))
}

func (c *InstancesController) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req models.EscalateRequest
	id, ok := decodeInstanceAction(w, r, &req)
	if !ok {
		return
	}
	inst, err := c.Engine.Escalate(r.Context(), id, req.Actor, req.To, req.Comments)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, nil))
}

func (c *InstancesController) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req models.CancelRequest
	id, ok := decodeInstanceAction(w, r, &req)
	if !ok {
		return
	}
	inst, err := c.Engine.Cancel(r.Context(), id, req.RequestedBy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInstanceToApi(inst, nil))
}

func (c *InstancesController) handlePendingFor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	results, err := c.Engine.ListPendingFor(userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]models.InstanceApiResponse, 0, len(*results))
	for i := range *results {
		resp = append(resp, mapInstanceToApi(&(*results)[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *InstancesController) handleSearchInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SearchInstanceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Limit > 1000 {
		http.Error(w, "limit cannot be greater than 1000", http.StatusBadRequest)
		return
	}
	results, err := c.Engine.SearchInstances(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]models.InstanceApiResponse, 0, len(*results))
	for i := range *results {
		resp = append(resp, mapInstanceToApi(&(*results)[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *InstancesController) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, err := c.Engine.Overview()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func mapInstanceToApi(inst *domain.WorkflowInstance, actions []domain.WorkflowAction) models.InstanceApiResponse {
	resp := models.InstanceApiResponse{
		ID:            inst.ID,
		ExternalID:    inst.ExternalID,
		DefinitionID:  inst.DefinitionID,
		EntityType:    inst.EntityType,
		EntityID:      inst.EntityID,
		SubmittedBy:   inst.SubmittedBy,
		CurrentStep:   inst.CurrentStep,
		Status:        inst.Status,
		StartedAt:     inst.StartedAt,
		StepStartedAt: inst.StepStartedAt,
	}
	if inst.CurrentApprover.Valid {
		resp.CurrentApprover = inst.CurrentApprover.String
	}
	if inst.CompletedAt.Valid {
		t := inst.CompletedAt.Time
		resp.CompletedAt = &t
	}
	for _, a := range actions {
		resp.History = append(resp.History, mapActionToApi(a))
	}
	return resp
}

func mapActionToApi(a domain.WorkflowAction) models.ActionApiResponse {
	resp := models.ActionApiResponse{
		ID:        a.ID,
		Step:      a.Step,
		Action:    a.Action,
		Comments:  a.Comments,
		CreatedAt: a.CreatedAt,
	}
	if a.Actor.Valid {
		resp.Actor = a.Actor.String
	}
	return resp
}
