package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"go-tower-pipeline/internal/config"
	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/observability"
	"go-tower-pipeline/internal/store"
	"go-tower-pipeline/pkg/utils"
)

// DefaultRunTimeout bounds a run whose job and deps set no timeout.
const DefaultRunTimeout = 5 * time.Minute

// Deps are the collaborators shared by runs. The zero value is usable: it
// logs nowhere, records no metrics and writes outputs under "exports".
type Deps struct {
	Log        logging.Logger
	Metrics    *observability.PipelineCollector
	Outputs    *utils.OutputManager
	HTTPClient *http.Client

	// Defaults for what a job leaves unset.
	Cluster ClusterConfig
	Merge   MergePolicy
	Timeout time.Duration
}

// DepsFromConfig builds Deps from the loaded configuration.
func DepsFromConfig(cfg *config.Config, log logging.Logger, metrics *observability.PipelineCollector) Deps {
	cluster := DefaultClusterConfig()
	if cfg.ClusterCount > 0 {
		cluster.K = cfg.ClusterCount
	}
	if cfg.FeatureMode != "" {
		cluster.Mode = FeatureMode(cfg.FeatureMode)
	}

	merge := DefaultMergePolicy
	if len(cfg.OperatorPrecedence) > 0 {
		merge = MergePolicy{Order: cfg.OperatorPrecedence}
	}

	return Deps{
		Log:        log,
		Metrics:    metrics,
		Outputs:    utils.NewOutputManager(cfg.OutputDir),
		HTTPClient: &http.Client{Timeout: time.Minute},
		Cluster:    cluster,
		Merge:      merge,
		Timeout:    cfg.RunTimeout,
	}
}

func (d Deps) logger() logging.Logger {
	if d.Log == nil {
		return logging.Noop()
	}
	return d.Log
}

func (d Deps) outputs() *utils.OutputManager {
	if d.Outputs == nil {
		return utils.NewOutputManager("exports")
	}
	return d.Outputs
}

// ClusterDefaults returns the clustering settings a job's spec is layered on.
func (d Deps) ClusterDefaults() ClusterConfig {
	if d.Cluster.K == 0 {
		return DefaultClusterConfig()
	}
	return d.Cluster.withDefaults()
}

func (d Deps) timeout(job string) time.Duration {
	def := d.Timeout
	if def <= 0 {
		def = DefaultRunTimeout
	}
	return config.ParseDuration(job, def)
}

// TowerResult is what a tower run produced.
type TowerResult struct {
	Rows     int
	Records  int
	Excluded map[string]int
	Cluster  ClusterResult
	Boxes    map[string]model.BoundingBox
	Exports  []model.ExportResult
}

// OperatorResult is what an operator run produced.
type OperatorResult struct {
	Sources  map[string]int
	Registry *model.Registry
	Exports  []model.ExportResult
}

// ------------------- Tower Runner -------------------

// RunTowers ingests, normalizes, clusters and aggregates a tower source, then
// exports the boxes. Stages run in order and the first failure stops the run
// with a *StageError; nothing is exported unless aggregation succeeded.
func RunTowers(ctx context.Context, runID string, job model.TowerJobSpec, deps Deps) (res *TowerResult, err error) {
	ctx, log := logging.WithRunLogger(ctx, deps.logger(), runID)
	tracker := NewPipelineTracker(runID, model.KindTowers, deps.Metrics)
	tracker.Begin(ctx)

	// Defer function to handle status updates on completion/error
	defer func() {
		if err != nil {
			tracker.Fail(ctx, err)
			return
		}
		tracker.Complete(ctx)
	}()

	ctx, cancel := context.WithTimeout(ctx, deps.timeout(job.Timeout))
	defer cancel()

	cfg, err := ClusterConfigFromSpec(job.Cluster, deps.ClusterDefaults())
	if err != nil {
		return nil, stageErr(StageCluster, err)
	}
	opts := NormalizeOptions{RequireNetwork: job.Normalize.RequireNetwork || cfg.Mode == FeatureGeoNetwork}
	log.Info(ctx, "tower run configured",
		logging.Int("k", cfg.K),
		logging.String("mode", string(cfg.Mode)),
		logging.String("init", string(cfg.Init)),
		logging.Any("require_network", opts.RequireNetwork))

	res = &TowerResult{}

	// --- INGESTION STAGE ---
	sctx, stage := tracker.StartStage(ctx, StageIngest)
	rows, err := ReadTowerRows(sctx, deps.HTTPClient, job.Source)
	stage.End(len(rows), 0, err)
	if err != nil {
		return nil, stageErr(StageIngest, err)
	}
	res.Rows = len(rows)

	// --- NORMALIZATION STAGE ---
	sctx, stage = tracker.StartStage(ctx, StageNormalize)
	norm, err := NormalizeConcurrent(sctx, rows, opts, job.Normalize.Workers)
	if err == nil {
		deps.Metrics.Normalized(len(norm.Records), norm.ReasonCounts())
		if len(norm.Records) == 0 {
			err = fmt.Errorf("%w: %d rows read, %d excluded", ErrNoRecords, norm.Total, norm.Excluded)
		}
	}
	stage.End(len(norm.Records), norm.Excluded, err)
	if err != nil {
		return nil, stageErr(StageNormalize, err)
	}
	res.Records = len(norm.Records)
	res.Excluded = norm.ReasonCounts()

	// --- CLUSTERING STAGE ---
	sctx, stage = tracker.StartStage(ctx, StageCluster)
	clustered, err := Cluster(sctx, norm.Records, cfg)
	stage.End(clustered.Clusters.Size(), 0, err)
	if err != nil {
		return nil, stageErr(StageCluster, err)
	}
	deps.Metrics.Clustered(len(clustered.Clusters), clustered.Iterations)
	res.Cluster = clustered

	// --- AGGREGATION STAGE ---
	_, stage = tracker.StartStage(ctx, StageAggregate)
	boxes, err := Aggregate(clustered.Clusters)
	stage.End(len(boxes), 0, err)
	if err != nil {
		return nil, stageErr(StageAggregate, err)
	}
	res.Boxes = boxes

	// --- EXPORT STAGE ---
	sctx, stage = tracker.StartStage(ctx, StageExport)
	em := NewExportManager(runID, job.Export, deps.outputs())
	err = em.ExportTowers(sctx, clustered.Clusters, boxes)
	stage.End(len(em.Results), 0, err)
	res.Exports = em.Results
	if err != nil {
		return res, stageErr(StageExport, err)
	}

	return res, nil
}

// ------------------- Operator Runner -------------------

// RunOperators reads every operator feed in parallel, merges them under the
// job's precedence (or the deps default) and exports the registry.
func RunOperators(ctx context.Context, runID string, job model.OperatorJobSpec, deps Deps) (res *OperatorResult, err error) {
	ctx, log := logging.WithRunLogger(ctx, deps.logger(), runID)
	tracker := NewPipelineTracker(runID, model.KindOperators, deps.Metrics)
	tracker.Begin(ctx)

	defer func() {
		if err != nil {
			tracker.Fail(ctx, err)
			return
		}
		tracker.Complete(ctx)
	}()

	ctx, cancel := context.WithTimeout(ctx, deps.timeout(job.Timeout))
	defer cancel()

	policy := deps.Merge
	if len(job.Merge.Order) > 0 {
		policy = MergePolicy{Order: job.Merge.Order}
	}
	if len(policy.Order) == 0 {
		policy = DefaultMergePolicy
	}
	log.Info(ctx, "operator run configured", logging.Any("order", policy.Order), logging.Int("sources", len(job.Sources)))

	// --- INGESTION STAGE ---
	sctx, stage := tracker.StartStage(ctx, StageIngest)
	feeds := make([]model.LabeledOperators, len(job.Sources))
	g, gctx := errgroup.WithContext(sctx)
	for i, src := range job.Sources {
		g.Go(func() error {
			feed, err := ReadOperators(gctx, deps.HTTPClient, src)
			if err != nil {
				return err
			}
			feeds[i] = feed
			return nil
		})
	}
	err = g.Wait()
	read := 0
	for _, f := range feeds {
		read += len(f.Records)
	}
	stage.End(read, 0, err)
	if err != nil {
		return nil, stageErr(StageIngest, err)
	}

	res = &OperatorResult{Sources: make(map[string]int, len(feeds))}
	for _, f := range feeds {
		res.Sources[f.Source] += len(f.Records)
	}

	// --- MERGE STAGE ---
	_, stage = tracker.StartStage(ctx, StageMerge)
	registry, err := MergeOperators(policy, feeds...)
	merged := 0
	if registry != nil {
		merged = registry.Len()
	}
	stage.End(merged, read-merged, err)
	if err != nil {
		return nil, stageErr(StageMerge, err)
	}
	deps.Metrics.Merged(merged)
	res.Registry = registry

	// --- EXPORT STAGE ---
	sctx, stage = tracker.StartStage(ctx, StageExport)
	em := NewExportManager(runID, job.Export, deps.outputs())
	err = em.ExportOperators(sctx, registry.Sorted())
	stage.End(len(em.Results), 0, err)
	res.Exports = em.Results
	if err != nil {
		return res, stageErr(StageExport, err)
	}

	return res, nil
}

// RetryRun re-runs a stored run from its saved spec. The caller claims the
// run first with store.ClaimRetry.
func RetryRun(ctx context.Context, runID string, deps Deps) error {
	var raw json.RawMessage
	kind, err := store.GetRunSpec(runID, &raw)
	if err != nil {
		return err
	}

	deps.logger().Info(ctx, "retrying run", logging.String("run_id", runID), logging.String("kind", kind))

	switch kind {
	case model.KindTowers:
		var job model.TowerJobSpec
		if err := json.Unmarshal(raw, &job); err != nil {
			return abandonRetry(runID, fmt.Errorf("failed to decode tower spec: %w", err))
		}
		_, err = RunTowers(ctx, runID, job, deps)
	case model.KindOperators:
		var job model.OperatorJobSpec
		if err := json.Unmarshal(raw, &job); err != nil {
			return abandonRetry(runID, fmt.Errorf("failed to decode operator spec: %w", err))
		}
		_, err = RunOperators(ctx, runID, job, deps)
	default:
		err = abandonRetry(runID, fmt.Errorf("unknown run kind %q", kind))
	}
	return err
}

// abandonRetry fails a claimed run that never reached its first stage.
func abandonRetry(runID string, err error) error {
	store.SaveRunError(runID, "", err)
	store.UpdateRunStatus(runID, model.StatusFailed)
	return err
}
