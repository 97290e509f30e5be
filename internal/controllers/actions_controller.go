package controllers

import (
	"net/http"
	"strconv"

	"github.com/approvalhq/approvalflow/internal/engine"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

type ActionsController struct {
	ActionRepo engine.ActionRepo
}

func NewActionsController(actionRepo engine.ActionRepo) *ActionsController {
	return &ActionsController{ActionRepo: actionRepo}
}

func (c *ActionsController) handleGetActionsForInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	results, err := c.ActionRepo.FindAllByInstanceID(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make([]models.ActionApiResponse, 0, len(*results))
	for _, a := range *results {
		resp = append(resp, mapActionToApi(a))
	}
	writeJSON(w, http.StatusOK, resp)
}
