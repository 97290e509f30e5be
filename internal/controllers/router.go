package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *InstancesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/instances", c.handleStartInstance)
	mux.HandleFunc("POST /api/instances/search", c.handleSearchInstances)
	mux.HandleFunc("GET /api/instances/overview", c.handleOverview)
	mux.HandleFunc("GET /api/instances/pendingFor/{userId}", c.handlePendingFor)
	mux.HandleFunc("GET /api/instances/byExternalId/{externalId}", c.handleGetInstanceByExternalId)
	mux.HandleFunc("GET /api/instances/{id}", c.handleGetInstanceById)
	mux.HandleFunc("POST /api/instances/{id}/approve", c.handleApprove)
	mux.HandleFunc("POST /api/instances/{id}/reject", c.handleReject)
	mux.HandleFunc("POST /api/instances/{id}/delegate", c.handleDelegate)
	mux.HandleFunc("POST /api/instances/{id}/escalate", c.handleEscalate)
	mux.HandleFunc("POST /api/instances/{id}/cancel", c.handleCancel)
}

func (c *DefinitionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/definitions", c.handleCreateDefinition)
	mux.HandleFunc("GET /api/definitions", c.handleListDefinitions)
	mux.HandleFunc("GET /api/definitions/{code}", c.handleGetDefinition)
	mux.HandleFunc("DELETE /api/definitions/{code}", c.handleRetireDefinition)
}

func (c *ActionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions/byInstanceId/{id}", c.handleGetActionsForInstance)
}
