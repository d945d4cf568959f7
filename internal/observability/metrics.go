package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineCollector bundles Prometheus metrics for pipeline runs and the
// HTTP surface.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	Runs            *prometheus.CounterVec
	StageDurations  *prometheus.HistogramVec
	RowsNormalized  prometheus.Counter
	RowsExcluded    *prometheus.CounterVec
	KMeansIters     prometheus.Histogram
	Clusters        prometheus.Gauge
	OperatorsMerged prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewPipelineCollector registers the pipeline metrics against reg, defaulting
// to the global Prometheus registry when nil. Registering twice against the
// same registry returns the already-registered collectors.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Pipeline runs by kind and final status.",
	}, []string{"kind", "status"}), "pipeline_runs_total")
	if err != nil {
		return nil, err
	}

	stages, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"kind", "stage"}), "pipeline_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	normalized, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tower_rows_normalized_total",
		Help: "Tower rows that produced a valid record.",
	}), "tower_rows_normalized_total")
	if err != nil {
		return nil, err
	}

	excluded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tower_rows_excluded_total",
		Help: "Tower rows excluded by the normalizer, by reason.",
	}, []string{"reason"}), "tower_rows_excluded_total")
	if err != nil {
		return nil, err
	}

	iters, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kmeans_iterations",
		Help:    "Lloyd iterations used by the winning k-means restart.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 300},
	}), "kmeans_iterations")
	if err != nil {
		return nil, err
	}

	clusters, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tower_clusters",
		Help: "Clusters produced by the most recent tower run.",
	}), "tower_clusters")
	if err != nil {
		return nil, err
	}

	operators, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "operator_registry_size",
		Help: "Operators in the most recent merged registry.",
	}), "operator_registry_size")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"}), "http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:        gatherer,
		Runs:            runs,
		StageDurations:  stages,
		RowsNormalized:  normalized,
		RowsExcluded:    excluded,
		KMeansIters:     iters,
		Clusters:        clusters,
		OperatorsMerged: operators,
		HTTPRequests:    requests,
		HTTPDurations:   durations,
	}, nil
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *PipelineCollector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records how long a stage took. Safe on a nil collector.
func (c *PipelineCollector) ObserveStage(kind, stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDurations.WithLabelValues(kind, stage).Observe(d.Seconds())
}

// RunFinished counts a completed or failed run.
func (c *PipelineCollector) RunFinished(kind, status string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(kind, status).Inc()
}

// Normalized records the normalizer's outcome for one batch.
func (c *PipelineCollector) Normalized(valid int, excluded map[string]int) {
	if c == nil {
		return
	}
	c.RowsNormalized.Add(float64(valid))
	for reason, n := range excluded {
		c.RowsExcluded.WithLabelValues(reason).Add(float64(n))
	}
}

// Clustered records the clusterer's outcome.
func (c *PipelineCollector) Clustered(clusters, iterations int) {
	if c == nil {
		return
	}
	c.Clusters.Set(float64(clusters))
	c.KMeansIters.Observe(float64(iterations))
}

// Merged records the merged registry size.
func (c *PipelineCollector) Merged(n int) {
	if c == nil {
		return
	}
	c.OperatorsMerged.Set(float64(n))
}

// ObserveHTTP records one handled HTTP request.
func (c *PipelineCollector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
