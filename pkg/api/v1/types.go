// Package v1 defines the REST response shapes of the ads HTTP surface.
package v1

import "time"

// AgentSummary is one adapter's listing entry with merged availability.
type AgentSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Vendor       string   `json:"vendor"`
	Capabilities []string `json:"capabilities,omitempty"`
	Ready        bool     `json:"ready"`
	Streaming    bool     `json:"streaming"`
	Error        string   `json:"error,omitempty"`
	Active       bool     `json:"active"`
	ThreadID     string   `json:"thread_id,omitempty"`
}

// TaskSummary is one task row as exposed over HTTP.
type TaskSummary struct {
	TaskID       string    `json:"task_id"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	AgentID      string    `json:"agent_id"`
	Revision     int       `json:"revision"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TaskMessageView is one task message as exposed over HTTP.
type TaskMessageView struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind,omitempty"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}
