package model

import "sort"

// TowerColumns is the canonical tower schema, in source column order.
var TowerColumns = []string{
	"radio",
	"mcc",
	"mnc",
	"area",
	"cell",
	"unit",
	"lon",
	"lat",
	"range",
	"samples",
	"changeable",
	"created",
	"updated",
	"averageSignal",
}

// Column positions within a canonical tower row.
const (
	ColRadio = iota
	ColMCC
	ColMNC
	ColArea
	ColCell
	ColUnit
	ColLon
	ColLat
	ColRange
	ColSamples
	ColChangeable
	ColCreated
	ColUpdated
	ColAverageSignal

	TowerColumnCount
)

// TowerRecord is one observed radio tower. Lat and Lon are always finite;
// the normalizer never builds a record otherwise.
type TowerRecord struct {
	Radio         string  `json:"radio"`
	MCC           Value   `json:"mcc"`
	MNC           Value   `json:"mnc"`
	Area          Value   `json:"area"`
	Cell          Value   `json:"cell"`
	Unit          Value   `json:"unit"`
	Lon           float64 `json:"lon"`
	Lat           float64 `json:"lat"`
	Range         Value   `json:"range"`
	Samples       Value   `json:"samples"`
	Changeable    Value   `json:"changeable"`
	Created       Value   `json:"created"`
	Updated       Value   `json:"updated"`
	AverageSignal Value   `json:"averageSignal"`
}

// Network returns the tower's (mcc, mnc) identity pair.
func (t TowerRecord) Network() NetworkKey {
	return NetworkKey{MCC: t.MCC.String(), MNC: t.MNC.String()}
}

// Clusters maps a cluster label to the towers assigned to it.
type Clusters map[int][]TowerRecord

// ClusterGroup is one labeled partition of the input. Member order follows
// input order.
type ClusterGroup struct {
	Label   int           `json:"label"`
	Members []TowerRecord `json:"members"`
}

// Groups returns the clusters as groups ordered by label.
func (c Clusters) Groups() []ClusterGroup {
	labels := make([]int, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	groups := make([]ClusterGroup, 0, len(labels))
	for _, label := range labels {
		groups = append(groups, ClusterGroup{Label: label, Members: c[label]})
	}
	return groups
}

// Size returns the number of towers across all clusters.
func (c Clusters) Size() int {
	n := 0
	for _, members := range c {
		n += len(members)
	}
	return n
}

// BoundingBox summarizes a cluster: its lat/lon envelope, flat-plane area in
// square degrees, and the distinct networks seen in it.
type BoundingBox struct {
	MinLat   float64      `json:"min_lat"`
	MinLon   float64      `json:"min_lon"`
	MaxLat   float64      `json:"max_lat"`
	MaxLon   float64      `json:"max_lon"`
	Area     float64      `json:"area"`
	Networks []NetworkKey `json:"networks"`
}

// Center returns the midpoint of the envelope.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}
