package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/observability"
	"go-tower-pipeline/internal/store"
)

// PipelineTracker records the progress of one run. Every stage transition is
// logged, timed into the Prometheus collector, traced, and persisted when a
// run store is configured.
type PipelineTracker struct {
	RunID   string
	Kind    string
	Metrics *observability.PipelineCollector

	mu        sync.Mutex
	startTime time.Time
	endTime   *time.Time
	status    string
	stages    []model.StageProgress
}

// NewPipelineTracker creates a tracker for a run of the given kind.
func NewPipelineTracker(runID, kind string, metrics *observability.PipelineCollector) *PipelineTracker {
	return &PipelineTracker{
		RunID:     runID,
		Kind:      kind,
		Metrics:   metrics,
		startTime: time.Now(),
		status:    model.StatusPending,
	}
}

// StageTimer is an in-flight stage, closed with End.
type StageTimer struct {
	pt      *PipelineTracker
	ctx     context.Context
	stage   string
	started time.Time
	span    trace.Span
}

// Begin marks the run as running.
func (pt *PipelineTracker) Begin(ctx context.Context) {
	pt.mu.Lock()
	pt.status = model.StatusRunning
	pt.mu.Unlock()

	logging.FromContext(ctx).Info(ctx, "run started", logging.String("kind", pt.Kind))
	pt.persistStatus(ctx, model.StatusRunning)
}

// StartStage marks the start of a pipeline stage. The returned context
// carries the stage span.
func (pt *PipelineTracker) StartStage(ctx context.Context, stage string) (context.Context, *StageTimer) {
	ctx, span := observability.StartStage(ctx, pt.Kind, stage)
	t := &StageTimer{pt: pt, ctx: ctx, stage: stage, started: time.Now(), span: span}

	progress := model.StageProgress{Stage: stage, Status: "started", StartedAt: t.started}
	pt.mu.Lock()
	pt.stages = append(pt.stages, progress)
	pt.mu.Unlock()

	logging.FromContext(ctx).Debug(ctx, "stage started", logging.Stage(stage))
	pt.persistStage(ctx, progress)
	return ctx, t
}

// End marks the end of the stage. A non-nil err marks it failed.
func (t *StageTimer) End(processed, excluded int, err error) {
	pt := t.pt
	ended := time.Now()
	elapsed := ended.Sub(t.started)

	progress := model.StageProgress{
		Stage:     t.stage,
		Status:    "completed",
		StartedAt: t.started,
		EndedAt:   &ended,
		Processed: processed,
		Excluded:  excluded,
	}
	if err != nil {
		progress.Status = "failed"
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()

	pt.mu.Lock()
	for i := len(pt.stages) - 1; i >= 0; i-- {
		if pt.stages[i].Stage == t.stage && pt.stages[i].EndedAt == nil {
			pt.stages[i] = progress
			break
		}
	}
	pt.mu.Unlock()

	pt.Metrics.ObserveStage(pt.Kind, t.stage, elapsed)

	log := logging.FromContext(t.ctx)
	fields := []logging.Field{
		logging.Stage(t.stage),
		logging.Int("processed", processed),
		logging.Int("excluded", excluded),
		logging.Millis("duration_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		log.Error(t.ctx, "stage failed", append(fields, logging.Err(err))...)
	} else {
		log.Info(t.ctx, "stage completed", fields...)
	}
	pt.persistStage(t.ctx, progress)
}

// Complete marks the pipeline as completed
func (pt *PipelineTracker) Complete(ctx context.Context) {
	d := pt.finish(model.StatusCompleted)
	logging.FromContext(ctx).Info(ctx, "run completed", logging.String("kind", pt.Kind), logging.Millis("duration_ms", d.Milliseconds()))
	pt.Metrics.RunFinished(pt.Kind, model.StatusCompleted)
	pt.persistStatus(ctx, model.StatusCompleted)
}

// Fail marks the pipeline as failed and records the error against the stage
// that produced it.
func (pt *PipelineTracker) Fail(ctx context.Context, err error) {
	d := pt.finish(model.StatusFailed)

	stage := ""
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	logging.FromContext(ctx).Error(ctx, "run failed", logging.String("kind", pt.Kind), logging.Stage(stage), logging.Millis("duration_ms", d.Milliseconds()), logging.Err(err))
	pt.Metrics.RunFinished(pt.Kind, model.StatusFailed)

	if store.Enabled() {
		if e := store.SaveRunError(pt.RunID, stage, err); e != nil {
			logging.FromContext(ctx).Warn(ctx, "failed to save run error", logging.Err(e))
		}
	}
	pt.persistStatus(ctx, model.StatusFailed)
}

func (pt *PipelineTracker) finish(status string) time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	now := time.Now()
	pt.endTime = &now
	pt.status = status
	return now.Sub(pt.startTime)
}

// Status returns the run's current status.
func (pt *PipelineTracker) Status() string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.status
}

// Stages returns a copy of the stage progress recorded so far.
func (pt *PipelineTracker) Stages() []model.StageProgress {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]model.StageProgress, len(pt.stages))
	copy(out, pt.stages)
	return out
}

// Duration returns the elapsed run time, up to the end if the run finished.
func (pt *PipelineTracker) Duration() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.endTime != nil {
		return pt.endTime.Sub(pt.startTime)
	}
	return time.Since(pt.startTime)
}

func (pt *PipelineTracker) persistStage(ctx context.Context, p model.StageProgress) {
	if !store.Enabled() {
		return
	}
	if err := store.SaveStageProgress(pt.RunID, p); err != nil {
		logging.FromContext(ctx).Warn(ctx, "failed to save stage progress", logging.Stage(p.Stage), logging.Err(err))
	}
}

func (pt *PipelineTracker) persistStatus(ctx context.Context, status string) {
	if !store.Enabled() {
		return
	}
	if err := store.UpdateRunStatus(pt.RunID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.FromContext(ctx).Warn(ctx, "failed to update run status", logging.String("status", status), logging.Err(err))
	}
}
