package pipeline

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"go-tower-pipeline/internal/model"
)

func tower(mcc, mnc, lat, lon float64) model.TowerRecord {
	return model.TowerRecord{
		Radio: "GSM",
		MCC:   model.Number(mcc),
		MNC:   model.Number(mnc),
		Lat:   lat,
		Lon:   lon,
	}
}

func njLondon() []model.TowerRecord {
	return []model.TowerRecord{
		tower(310, 260, 40.0, -74.0),
		tower(310, 260, 40.1, -74.1),
		tower(234, 10, 51.5, -0.1),
	}
}

func geoConfig(k int) ClusterConfig {
	cfg := DefaultClusterConfig()
	cfg.K = k
	cfg.Mode = FeatureGeo
	return cfg
}

func TestClusterSeparatesNewJerseyFromLondon(t *testing.T) {
	res, err := Cluster(context.Background(), njLondon(), geoConfig(2))
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.K != 2 || len(res.Clusters) != 2 {
		t.Fatalf("k=%d clusters=%d", res.K, len(res.Clusters))
	}

	var nj, london []model.TowerRecord
	for _, members := range res.Clusters {
		switch len(members) {
		case 2:
			nj = members
		case 1:
			london = members
		}
	}
	if nj == nil || london == nil {
		t.Fatalf("unexpected partition: %+v", res.Clusters)
	}
	if london[0].Lat != 51.5 {
		t.Fatalf("singleton cluster holds %+v", london[0])
	}
	if nj[0].Lat != 40.0 || nj[1].Lat != 40.1 {
		t.Fatalf("member order not preserved: %+v", nj)
	}
}

func TestClusterIsPartition(t *testing.T) {
	records := []model.TowerRecord{
		tower(310, 260, 40.0, -74.0),
		tower(310, 260, 40.1, -74.1),
		tower(310, 410, 40.2, -74.0),
		tower(234, 10, 51.5, -0.1),
		tower(234, 15, 51.6, -0.2),
		tower(262, 1, 52.5, 13.4),
		tower(262, 2, 52.4, 13.3),
	}
	for _, mode := range []FeatureMode{FeatureGeo, FeatureGeoNetwork} {
		cfg := geoConfig(3)
		cfg.Mode = mode
		res, err := Cluster(context.Background(), records, cfg)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if res.Clusters.Size() != len(records) {
			t.Fatalf("%s: %d towers clustered, want %d", mode, res.Clusters.Size(), len(records))
		}
		for label, members := range res.Clusters {
			if label < 0 || label >= res.K {
				t.Fatalf("%s: label %d out of range", mode, label)
			}
			if len(members) == 0 {
				t.Fatalf("%s: empty cluster %d", mode, label)
			}
		}
	}
}

func TestClusterOnePerPointWhenKEqualsN(t *testing.T) {
	records := njLondon()
	res, err := Cluster(context.Background(), records, geoConfig(len(records)))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Clusters) != len(records) {
		t.Fatalf("clusters = %d, want %d", len(res.Clusters), len(records))
	}
	for label, members := range res.Clusters {
		if len(members) != 1 {
			t.Fatalf("cluster %d has %d members", label, len(members))
		}
	}
	if res.Inertia != 0 {
		t.Fatalf("inertia = %v, want 0", res.Inertia)
	}
}

func TestClusterReducesKToN(t *testing.T) {
	res, err := Cluster(context.Background(), njLondon(), geoConfig(2000))
	if err != nil {
		t.Fatal(err)
	}
	if res.K != 3 || len(res.Clusters) != 3 {
		t.Fatalf("k=%d clusters=%d, want 3", res.K, len(res.Clusters))
	}
}

func TestClusterEmptyInput(t *testing.T) {
	res, err := Cluster(context.Background(), nil, geoConfig(5))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Clusters) != 0 {
		t.Fatalf("clusters = %v", res.Clusters)
	}
}

func TestClusterInvalidK(t *testing.T) {
	for _, k := range []int{0, -1} {
		if _, err := Cluster(context.Background(), njLondon(), geoConfig(k)); !errors.Is(err, ErrInvalidClusterCount) {
			t.Errorf("k=%d: err = %v", k, err)
		}
	}
}

func TestClusterIncompleteFeatures(t *testing.T) {
	records := njLondon()
	records[1].MNC = model.Text("")

	cfg := geoConfig(2)
	cfg.Mode = FeatureGeoNetwork
	if _, err := Cluster(context.Background(), records, cfg); !errors.Is(err, ErrIncompleteFeatures) {
		t.Fatalf("geo_network with text mnc: err = %v", err)
	}

	// geo mode ignores the network fields.
	if _, err := Cluster(context.Background(), records, geoConfig(2)); err != nil {
		t.Fatalf("geo mode: %v", err)
	}

	records = njLondon()
	records[0].Lat = math.NaN()
	if _, err := Cluster(context.Background(), records, geoConfig(2)); !errors.Is(err, ErrIncompleteFeatures) {
		t.Fatalf("NaN lat: err = %v", err)
	}
}

func TestClusterDeterministicForSeed(t *testing.T) {
	var records []model.TowerRecord
	for i := 0; i < 60; i++ {
		f := float64(i)
		records = append(records, tower(310, 260, 40+math.Mod(f*0.37, 3), -74+math.Mod(f*0.53, 4)))
	}
	for _, init := range []InitMethod{InitRandom, InitKMeansPP} {
		cfg := geoConfig(5)
		cfg.Init = init
		cfg.Seed = 42

		first, err := Cluster(context.Background(), records, cfg)
		if err != nil {
			t.Fatal(err)
		}
		second, err := Cluster(context.Background(), records, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first.Clusters, second.Clusters) || first.Inertia != second.Inertia {
			t.Fatalf("%s: results differ between identical runs", init)
		}
	}
}

func TestClusterDuplicatePoints(t *testing.T) {
	records := []model.TowerRecord{
		tower(310, 260, 40.0, -74.0),
		tower(310, 260, 40.0, -74.0),
		tower(310, 260, 40.0, -74.0),
	}
	res, err := Cluster(context.Background(), records, geoConfig(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Clusters.Size() != 3 {
		t.Fatalf("size = %d", res.Clusters.Size())
	}
	for label, members := range res.Clusters {
		if len(members) == 0 {
			t.Fatalf("empty cluster %d reported", label)
		}
	}
}

func TestAssignBreaksTiesToLowestLabel(t *testing.T) {
	points := [][]float64{{0, 0}}
	centroids := [][]float64{{1, 0}, {-1, 0}}
	labels := []int{-1}
	assign(points, centroids, labels)
	if labels[0] != 0 {
		t.Fatalf("label = %d, want 0", labels[0])
	}
}

func TestRecomputeRefreshesDonorAfterRepair(t *testing.T) {
	points := [][]float64{{0}, {1}, {10}}
	labels := []int{0, 0, 0}
	centroids := [][]float64{{0}, {5}}

	recompute(points, labels, centroids)

	if !reflect.DeepEqual(labels, []int{0, 0, 1}) {
		t.Fatalf("labels = %v, want [0 0 1]", labels)
	}
	if centroids[0][0] != 0.5 || centroids[1][0] != 10 {
		t.Fatalf("centroids = %v, want [[0.5] [10]]", centroids)
	}
}

func TestClusterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Cluster(ctx, njLondon(), geoConfig(2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestClusterConfigFromSpec(t *testing.T) {
	defaults := DefaultClusterConfig()

	cfg, err := ClusterConfigFromSpec(model.ClusterSpec{K: 7, Mode: "GEO"}, defaults)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.K != 7 || cfg.Mode != FeatureGeo || cfg.Init != InitKMeansPP || cfg.NumInit != defaults.NumInit {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := ClusterConfigFromSpec(model.ClusterSpec{Mode: "spiral"}, defaults); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("unknown mode: err = %v", err)
	}
	if _, err := ClusterConfigFromSpec(model.ClusterSpec{K: -3}, defaults); !errors.Is(err, ErrInvalidClusterCount) {
		t.Fatalf("negative k: err = %v", err)
	}
}
