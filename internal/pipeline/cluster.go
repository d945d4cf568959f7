package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/pkg/utils"
)

// FeatureMode selects the vector each tower is clustered on.
type FeatureMode string

const (
	// FeatureGeo clusters on (lat, lon) only.
	FeatureGeo FeatureMode = "geo"
	// FeatureGeoNetwork clusters on (lat, lon, mcc, mnc), which keeps
	// different networks apart at the cost of geographic compactness.
	FeatureGeoNetwork FeatureMode = "geo_network"
)

// InitMethod selects how centroids are seeded.
type InitMethod string

const (
	InitRandom   InitMethod = "random"
	InitKMeansPP InitMethod = "kmeans++"
)

// ClusterConfig configures the k-means clusterer.
type ClusterConfig struct {
	K             int
	Mode          FeatureMode
	Init          InitMethod
	MaxIterations int
	NumInit       int    // independent restarts; the lowest-inertia one wins
	Seed          uint64 // runs are reproducible for a given seed
}

// DefaultClusterConfig returns the settings used when a job leaves them unset.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		K:             2000,
		Mode:          FeatureGeoNetwork,
		Init:          InitKMeansPP,
		MaxIterations: 300,
		NumInit:       10,
		Seed:          1,
	}
}

// ClusterConfigFromSpec fills a config from a job spec, taking unset values
// from defaults.
func ClusterConfigFromSpec(spec model.ClusterSpec, defaults ClusterConfig) (ClusterConfig, error) {
	cfg := defaults
	if spec.K != 0 {
		cfg.K = spec.K
	}
	if spec.Mode != "" {
		cfg.Mode = FeatureMode(strings.ToLower(spec.Mode))
	}
	if spec.Init != "" {
		cfg.Init = InitMethod(strings.ToLower(spec.Init))
	}
	if spec.MaxIterations > 0 {
		cfg.MaxIterations = spec.MaxIterations
	}
	if spec.NumInit > 0 {
		cfg.NumInit = spec.NumInit
	}
	if spec.Seed != 0 {
		cfg.Seed = spec.Seed
	}
	return cfg, cfg.validate()
}

func (c ClusterConfig) validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidClusterCount, c.K)
	}
	switch c.Mode {
	case FeatureGeo, FeatureGeoNetwork:
	default:
		return fmt.Errorf("%w: unknown feature mode %q", ErrInvalidPolicy, c.Mode)
	}
	switch c.Init {
	case InitRandom, InitKMeansPP:
	default:
		return fmt.Errorf("%w: unknown init method %q", ErrInvalidPolicy, c.Init)
	}
	return nil
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	d := DefaultClusterConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Init == "" {
		c.Init = d.Init
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.NumInit <= 0 {
		c.NumInit = d.NumInit
	}
	return c
}

// ClusterResult is the label→towers mapping and how it was reached.
type ClusterResult struct {
	Clusters   model.Clusters
	K          int     // cluster count actually used
	Iterations int     // Lloyd iterations of the winning restart
	Inertia    float64 // within-cluster sum of squared distances
}

// Cluster partitions records into at most cfg.K groups with k-means. When
// there are fewer records than K, K is reduced to the record count. Every
// record must have a complete feature vector for cfg.Mode; one that does not
// is an upstream bug and fails the call.
func Cluster(ctx context.Context, records []model.TowerRecord, cfg ClusterConfig) (ClusterResult, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return ClusterResult{}, err
	}
	if len(records) == 0 {
		return ClusterResult{Clusters: model.Clusters{}}, nil
	}

	points, err := featureMatrix(records, cfg.Mode)
	if err != nil {
		return ClusterResult{}, err
	}

	k := cfg.K
	if k > len(points) {
		k = len(points)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	var best kmeansRun
	for i := 0; i < cfg.NumInit; i++ {
		run, err := lloyd(ctx, points, k, cfg.Init, cfg.MaxIterations, rng)
		if err != nil {
			return ClusterResult{}, err
		}
		if i == 0 || run.inertia < best.inertia {
			best = run
		}
	}

	clusters := make(model.Clusters, k)
	for i, label := range best.labels {
		clusters[label] = append(clusters[label], records[i])
	}
	return ClusterResult{
		Clusters:   clusters,
		K:          k,
		Iterations: best.iterations,
		Inertia:    best.inertia,
	}, nil
}

// featureMatrix builds one vector per record, in record order.
func featureMatrix(records []model.TowerRecord, mode FeatureMode) ([][]float64, error) {
	points := make([][]float64, len(records))
	for i, rec := range records {
		if !utils.Finite(rec.Lat) || !utils.Finite(rec.Lon) {
			return nil, fmt.Errorf("%w: record %d has non-finite coordinates", ErrIncompleteFeatures, i)
		}
		switch mode {
		case FeatureGeo:
			points[i] = []float64{rec.Lat, rec.Lon}
		case FeatureGeoNetwork:
			mcc, mccOK := rec.MCC.Float()
			mnc, mncOK := rec.MNC.Float()
			if !mccOK || !mncOK || !rec.MCC.IsFinite() || !rec.MNC.IsFinite() {
				return nil, fmt.Errorf("%w: record %d has non-numeric network %s", ErrIncompleteFeatures, i, rec.Network())
			}
			points[i] = []float64{rec.Lat, rec.Lon, mcc, mnc}
		}
	}
	return points, nil
}

type kmeansRun struct {
	labels     []int
	centroids  [][]float64
	inertia    float64
	iterations int
}

// lloyd runs one seeded k-means pass: assign every point to its nearest
// centroid (lowest label on ties), move centroids to their members' mean,
// and repeat until no assignment changes or maxIter is reached.
func lloyd(ctx context.Context, points [][]float64, k int, init InitMethod, maxIter int, rng *rand.Rand) (kmeansRun, error) {
	var centroids [][]float64
	if init == InitRandom {
		centroids = seedRandom(points, k, rng)
	} else {
		centroids = seedPlusPlus(points, k, rng)
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	iterations := 0
	for iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return kmeansRun{}, err
		}
		iterations++
		if !assign(points, centroids, labels) {
			break
		}
		recompute(points, labels, centroids)
	}

	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return kmeansRun{labels: labels, centroids: centroids, inertia: inertia, iterations: iterations}, nil
}

// assign labels each point with its nearest centroid and reports whether any
// label changed.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(p, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// recompute moves each centroid to the mean of its members. A centroid left
// without members takes over the point farthest from its own centroid, as
// long as that point is not sitting on it. Donor means are refreshed after
// any takeover so centroids always match their labels.
func recompute(points [][]float64, labels []int, centroids [][]float64) {
	counts := updateMeans(points, labels, centroids)

	repaired := false
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, 0.0
		for i, p := range points {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c] = 1
		copy(centroids[c], points[far])
		repaired = true
	}
	if repaired {
		updateMeans(points, labels, centroids)
	}
}

// updateMeans sets every non-empty centroid to its members' mean and returns
// the member counts.
func updateMeans(points [][]float64, labels []int, centroids [][]float64) []int {
	dim := len(points[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for d, v := range p {
			sums[c][d] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for d := range sums[c] {
			centroids[c][d] = sums[c][d] / float64(counts[c])
		}
	}
	return counts
}

func seedRandom(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(points))
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = append([]float64(nil), points[perm[c]]...)
	}
	return centroids
}

// seedPlusPlus picks the first centroid uniformly and every following one
// with probability proportional to its squared distance from the nearest
// centroid chosen so far.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := make([]bool, n)
	first := rng.IntN(n)
	chosen[first] = true
	centroids := [][]float64{append([]float64(nil), points[first]...)}

	nearest := make([]float64, n)
	for i, p := range points {
		nearest[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range nearest {
			total += d
		}

		next := -1
		if total > 0 {
			r := rng.Float64() * total
			var acc float64
			for i, d := range nearest {
				if d == 0 {
					continue
				}
				acc += d
				next = i
				if acc > r {
					break
				}
			}
		} else {
			// Every remaining point duplicates a centroid; take any unused one.
			free := make([]int, 0, n)
			for i := range points {
				if !chosen[i] {
					free = append(free, i)
				}
			}
			next = free[rng.IntN(len(free))]
		}

		chosen[next] = true
		centroid := append([]float64(nil), points[next]...)
		centroids = append(centroids, centroid)
		for i, p := range points {
			if d := sqDist(p, centroid); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return centroids
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
