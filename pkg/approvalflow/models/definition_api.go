package models

import (
	"encoding/json"
	"time"
)

// CreateDefinitionRequest is the payload for registering a workflow definition.
type CreateDefinitionRequest struct {
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	EntityType       string          `json:"entityType"`
	Conditions       json.RawMessage `json:"conditions,omitempty"`
	SLAHours         *int64          `json:"slaHours,omitempty"`
	AutoApproveOnSLA bool            `json:"autoApproveOnSla"`
	Steps            []StepSpec      `json:"steps"`
}

// StepSpec describes one step of a definition being created.
type StepSpec struct {
	Order          int    `json:"order"`
	Name           string `json:"name"`
	ApproverType   string `json:"approverType"`
	ApproverRole   string `json:"approverRole,omitempty"`
	ApproverUser   string `json:"approverUser,omitempty"`
	IsOptional     bool   `json:"isOptional"`
	CanDelegate    bool   `json:"canDelegate"`
	SLAHours       *int64 `json:"slaHours,omitempty"`
	EscalateToStep *int64 `json:"escalateToStep,omitempty"`
}

// DefinitionApiResponse represents the API view of a definition.
type DefinitionApiResponse struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	EntityType       string          `json:"entityType"`
	Conditions       json.RawMessage `json:"conditions,omitempty"`
	SLAHours         *int64          `json:"slaHours,omitempty"`
	AutoApproveOnSLA bool            `json:"autoApproveOnSla"`
	IsActive         bool            `json:"isActive"`
	Created          time.Time       `json:"created"`
	Updated          time.Time       `json:"updated"`
	Steps            []StepSpec      `json:"steps"`
}
