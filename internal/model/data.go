package model

import "time"

// ExportResult represents the result of an export operation
type ExportResult struct {
	Type        string    `json:"type"` // "database", "json", "js", "geojson"
	Path        string    `json:"path"` // file path or table name
	RecordCount int       `json:"record_count"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClusterSummary is a persisted bounding box for one cluster of a run.
type ClusterSummary struct {
	RunID string      `json:"run_id"`
	Label string      `json:"label"`
	Box   BoundingBox `json:"box"`
}
