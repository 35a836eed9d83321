package api

import "time"

// Resource is a reference to another API object.
type Resource struct {
	ID          string `json:"@id"`
	Description string `json:"description,omitempty"`
}

// WorkflowResource is returned by the workflow endpoints.
type WorkflowResource struct {
	ID          string `json:"@id"`
	Description string `json:"description"`
	WorkflowID  string `json:"workflow_id"`
	Definition  string `json:"definition,omitempty"`
	Digest      string `json:"digest,omitempty"`
}

// JobResource is returned when a job is started or polled.
type JobResource struct {
	ID          string     `json:"@id"`
	JobID       string     `json:"job_id"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	Workflow    Resource   `json:"workflow"`
	Workspace   Resource   `json:"workspace"`
	CreatedAt   time.Time  `json:"created_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// StartJobRequest is the JSON body for POST /workflow/{workflowID}.
type StartJobRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	// EngineVersion is "unavailable" when the engine probe fails.
	EngineVersion string `json:"engine_version"`
}
