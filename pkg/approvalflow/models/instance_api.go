package models

import "time"

// StartInstanceRequest is the payload for starting a workflow instance.
type StartInstanceRequest struct {
	DefinitionCode string `json:"definitionCode"`
	EntityType     string `json:"entityType"`
	EntityID       string `json:"entityId"`
	SubmittedBy    string `json:"submittedBy"`
}

// StartInstanceResponse is returned on successful start.
type StartInstanceResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
}

// ApproveRequest is the payload for approve and reject calls.
type ApproveRequest struct {
	Actor    string `json:"actor"`
	Comments string `json:"comments,omitempty"`
}

// DelegateRequest hands the current step to another approver.
type DelegateRequest struct {
	Actor    string `json:"actor"`
	To       string `json:"to"`
	Comments string `json:"comments,omitempty"`
}

// EscalateRequest manually escalates the current step. To is optional; when
// empty the engine resolves the step's escalation rule.
type EscalateRequest struct {
	Actor    string `json:"actor"`
	To       string `json:"to,omitempty"`
	Comments string `json:"comments,omitempty"`
}

// CancelRequest withdraws an instance.
type CancelRequest struct {
	RequestedBy string `json:"requestedBy"`
}

// ActionApiResponse is one audit log entry.
type ActionApiResponse struct {
	ID        int64     `json:"id"`
	Step      int       `json:"step"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Comments  string    `json:"comments,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// InstanceApiResponse represents the API view of an instance.
type InstanceApiResponse struct {
	ID              int64               `json:"id"`
	ExternalID      string              `json:"externalId"`
	DefinitionID    int64               `json:"definitionId"`
	EntityType      string              `json:"entityType"`
	EntityID        string              `json:"entityId"`
	SubmittedBy     string              `json:"submittedBy"`
	CurrentStep     int                 `json:"currentStep"`
	Status          string              `json:"status"`
	CurrentApprover string              `json:"currentApprover,omitempty"`
	StartedAt       time.Time           `json:"startedAt"`
	StepStartedAt   time.Time           `json:"stepStartedAt"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
	History         []ActionApiResponse `json:"history,omitempty"`
}

// SearchInstanceRequest filters instance searches. ID, ExternalID and
// EntityID are OR-ed together; the remaining filters are AND-ed.
type SearchInstanceRequest struct {
	ID           int64  `json:"id,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
	EntityType   string `json:"entityType,omitempty"`
	Status       string `json:"status,omitempty"`
	Approver     string `json:"approver,omitempty"`
	DefinitionID int64  `json:"definitionId,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}
