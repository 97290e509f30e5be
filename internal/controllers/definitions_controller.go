package controllers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/approvalhq/approvalflow/internal/engine"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// DefinitionsController holds dependencies for definition HTTP endpoints.
type DefinitionsController struct {
	Engine *engine.ApprovalEngine
}

func NewDefinitionsController(eng *engine.ApprovalEngine) *DefinitionsController {
	return &DefinitionsController{Engine: eng}
}

func (c *DefinitionsController) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.CreateDefinitionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	def := mapRequestToDefinition(req)
	id, err := c.Engine.CreateDefinition(def)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	def.ID = id
	writeJSON(w, http.StatusOK, mapDefinitionToApi(def))
}

func (c *DefinitionsController) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.PathValue("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	def, err := c.Engine.GetDefinition(code)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDefinitionToApi(def))
}

func (c *DefinitionsController) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defs, err := c.Engine.ListDefinitions()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]models.DefinitionApiResponse, 0, len(*defs))
	for i := range *defs {
		resp = append(resp, mapDefinitionToApi(&(*defs)[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *DefinitionsController) handleRetireDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.PathValue("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if err := c.Engine.RetireDefinition(code); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapRequestToDefinition(req models.CreateDefinitionRequest) *domain.WorkflowDefinition {
	def := &domain.WorkflowDefinition{
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		EntityType:       req.EntityType,
		AutoApproveOnSLA: req.AutoApproveOnSLA,
	}
	if len(req.Conditions) > 0 {
		def.Conditions = sql.NullString{String: string(req.Conditions), Valid: true}
	}
	if req.SLAHours != nil {
		def.SLAHours = sql.NullInt64{Int64: *req.SLAHours, Valid: true}
	}
	for _, s := range req.Steps {
		step := domain.WorkflowStep{
			Order:        s.Order,
			Name:         s.Name,
			ApproverType: s.ApproverType,
			IsOptional:   s.IsOptional,
			CanDelegate:  s.CanDelegate,
		}
		if s.ApproverRole != "" {
			step.ApproverRole = sql.NullString{String: s.ApproverRole, Valid: true}
		}
		if s.ApproverUser != "" {
			step.ApproverUser = sql.NullString{String: s.ApproverUser, Valid: true}
		}
		if s.SLAHours != nil {
			step.SLAHours = sql.NullInt64{Int64: *s.SLAHours, Valid: true}
		}
		if s.EscalateToStep != nil {
			step.EscalateToStep = sql.NullInt64{Int64: *s.EscalateToStep, Valid: true}
		}
		def.Steps = append(def.Steps, step)
	}
	return def
}

func mapDefinitionToApi(def *domain.WorkflowDefinition) models.DefinitionApiResponse {
	resp := models.DefinitionApiResponse{
		ID:               def.ID,
		Code:             def.Code,
		Name:             def.Name,
		Description:      def.Description,
		EntityType:       def.EntityType,
		AutoApproveOnSLA: def.AutoApproveOnSLA,
		IsActive:         def.IsActive,
		Created:          def.Created,
		Updated:          def.Updated,
	}
	if def.Conditions.Valid {
		resp.Conditions = json.RawMessage(def.Conditions.String)
	}
	if def.SLAHours.Valid {
		v := def.SLAHours.Int64
		resp.SLAHours = &v
	}
	for _, s := range def.Steps {
		spec := models.StepSpec{
			Order:        s.Order,
			Name:         s.Name,
			ApproverType: s.ApproverType,
			IsOptional:   s.IsOptional,
			CanDelegate:  s.CanDelegate,
		}
		if s.ApproverRole.Valid {
			spec.ApproverRole = s.ApproverRole.String
		}
		if s.ApproverUser.Valid {
			spec.ApproverUser = s.ApproverUser.String
		}
		if s.SLAHours.Valid {
			v := s.SLAHours.Int64
			spec.SLAHours = &v
		}
		if s.EscalateToStep.Valid {
			v := s.EscalateToStep.Int64
			spec.EscalateToStep = &v
		}
		resp.Steps = append(resp.Steps, spec)
	}
	return resp
}
