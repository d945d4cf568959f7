package model

// Source describes where a feed is read from.
type Source struct {
	Name      string `json:"name,omitempty"`  // feed label, used by merge precedence
	Type      string `json:"type"`            // csv, xlsx, json, itu
	URL       string `json:"url"`             // local path or http(s) URL
	Sheet     string `json:"sheet,omitempty"` // xlsx only; first sheet when empty
	HasHeader bool   `json:"hasHeader"`       // skip the first row
}

// NormalizeSpec controls tower row normalization.
type NormalizeSpec struct {
	RequireNetwork bool `json:"requireNetwork"`   // also exclude rows without numeric mcc/mnc
	Workers        int  `json:"workers,omitempty"` // parallel normalizer workers; 0 or 1 runs inline
}

// ClusterSpec configures the spatial clusterer.
type ClusterSpec struct {
	K             int    `json:"k"`
	Mode          string `json:"mode"`          // geo or geo_network
	Init          string `json:"init"`          // random or kmeans++
	MaxIterations int    `json:"maxIterations"`
	NumInit       int    `json:"numInit"`
	Seed          uint64 `json:"seed"`
}

// MergeSpec configures operator deduplication. Order lists source names from
// lowest to highest precedence; the last one wins key collisions.
type MergeSpec struct {
	Order []string `json:"order"`
}

// Export defines export targets
type Export struct {
	DB      bool   `json:"db"`                // persist to the run store
	JSON    string `json:"json,omitempty"`    // e.g. tower_clusters.json
	JS      string `json:"js,omitempty"`      // e.g. tower_clusters_data.js
	GeoJSON string `json:"geojson,omitempty"` // e.g. towers.geojson
	XLSX    string `json:"xlsx,omitempty"`    // e.g. clusters.xlsx
}

// TowerJobSpec is the payload for a tower clustering run.
type TowerJobSpec struct {
	Source    Source        `json:"source"`
	Normalize NormalizeSpec `json:"normalize"`
	Cluster   ClusterSpec   `json:"cluster"`
	Export    *Export       `json:"export,omitempty"`
	Timeout   string        `json:"timeout,omitempty"` // e.g. "5m"
}

// OperatorJobSpec is the payload for an operator merge run.
type OperatorJobSpec struct {
	Sources []Source  `json:"sources"`
	Merge   MergeSpec `json:"merge"`
	Export  *Export   `json:"export,omitempty"`
	Timeout string    `json:"timeout,omitempty"`
}

// Run kinds.
const (
	KindTowers    = "towers"
	KindOperators = "operators"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
)
