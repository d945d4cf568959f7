package model

import "time"

// RunInfo is the stored view of a pipeline run.
type RunInfo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Spec      any       `json:"spec,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StageProgress records one stage of a run.
type StageProgress struct {
	Stage     string     `json:"stage"`
	Status    string     `json:"status"` // "started", "completed", "failed"
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Processed int        `json:"processed"`
	Excluded  int        `json:"excluded"`
}

// ErrorDetail represents a detailed error with context
type ErrorDetail struct {
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
