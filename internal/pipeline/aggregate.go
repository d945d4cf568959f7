package pipeline

import (
	"fmt"
	"math"
	"strconv"

	"github.com/golang/geo/r2"

	"go-tower-pipeline/internal/model"
)

// Aggregate computes a bounding box per cluster, keyed by the label rendered
// as a decimal string. Boxes are taken on a flat (lon, lat) plane and the
// area is in square degrees, so it is only comparable between clusters at
// similar latitudes.
func Aggregate(clusters model.Clusters) (map[string]model.BoundingBox, error) {
	out := make(map[string]model.BoundingBox, len(clusters))
	for label, members := range clusters {
		box, err := BoundCluster(members)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", label, err)
		}
		out[strconv.Itoa(label)] = box
	}
	return out, nil
}

// BoundCluster summarizes one cluster's members.
func BoundCluster(members []model.TowerRecord) (model.BoundingBox, error) {
	if len(members) == 0 {
		return model.BoundingBox{}, ErrEmptyCluster
	}

	rect := r2.EmptyRect()
	seen := make(map[model.NetworkKey]struct{})
	networks := make([]model.NetworkKey, 0, 1)
	for _, t := range members {
		rect = rect.AddPoint(r2.Point{X: t.Lon, Y: t.Lat})
		key := t.Network()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		networks = append(networks, key)
	}
	model.SortNetworkKeys(networks)

	size := rect.Size()
	return model.BoundingBox{
		MinLat:   rect.Y.Lo,
		MinLon:   rect.X.Lo,
		MaxLat:   rect.Y.Hi,
		MaxLon:   rect.X.Hi,
		Area:     math.Abs(size.Y) * math.Abs(size.X),
		Networks: networks,
	}, nil
}
