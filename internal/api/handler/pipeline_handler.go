package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/pipeline"
	"go-tower-pipeline/internal/store"
	"go-tower-pipeline/pkg/utils"
)

const runsPrefix = "/api/v1/runs/"

// RunHandler serves the run API. Runs are started in the background and
// tracked through the store.
type RunHandler struct {
	Deps pipeline.Deps

	wg sync.WaitGroup
}

// NewRunHandler creates a handler that runs jobs with deps.
func NewRunHandler(deps pipeline.Deps) *RunHandler {
	return &RunHandler{Deps: deps}
}

// Wait blocks until every background run started by h has returned.
func (h *RunHandler) Wait() {
	h.wg.Wait()
}

func (h *RunHandler) log() logging.Logger {
	if h.Deps.Log == nil {
		return logging.Noop()
	}
	return h.Deps.Log
}

// start launches fn detached from the request; the run applies its own
// timeout.
func (h *RunHandler) start(runID string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := fn(context.Background()); err != nil {
			h.log().Warn(context.Background(), "background run ended with error", logging.String("run_id", runID), logging.Err(err))
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runIDFromPath extracts the run ID from /api/v1/runs/{id}{suffix}.
func runIDFromPath(path, suffix string) (string, bool) {
	if !strings.HasPrefix(path, runsPrefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := path[len(runsPrefix) : len(path)-len(suffix)]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (h *RunHandler) requireStore(w http.ResponseWriter) bool {
	if !store.Enabled() {
		http.Error(w, "Run store is not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func accepted(w http.ResponseWriter, runID, kind string) {
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "Run created successfully!",
		"runID":     runID,
		"kind":      kind,
		"status":    model.StatusPending,
		"createdAt": time.Now().UTC(),
	})
}

// CreateTowerRun creates a new tower clustering run
// @Summary Create a tower clustering run
// @Description Ingest a tower source, cluster the towers and export one bounding box per cluster
// @Tags runs
// @Accept json
// @Produce json
// @Param run body model.TowerJobSpec true "Tower job"
// @Success 202 {object} map[string]interface{} "Run created"
// @Failure 400 {string} string "Invalid request payload"
// @Failure 500 {string} string "Internal server error"
// @Router /runs/towers [post]
func (h *RunHandler) CreateTowerRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	var job model.TowerJobSpec
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	// 1. Validate payload
	if strings.TrimSpace(job.Source.URL) == "" {
		http.Error(w, "source.url is required", http.StatusBadRequest)
		return
	}
	if _, err := pipeline.ClusterConfigFromSpec(job.Cluster, h.Deps.ClusterDefaults()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 2. Save run to DB
	runID := uuid.New().String()
	if err := store.SaveRun(runID, model.KindTowers, job); err != nil {
		http.Error(w, "Failed to save run", http.StatusInternalServerError)
		return
	}

	// 3. Start run asynchronously
	h.start(runID, func(ctx context.Context) error {
		_, err := pipeline.RunTowers(ctx, runID, job, h.Deps)
		return err
	})

	accepted(w, runID, model.KindTowers)
}

// CreateOperatorRun creates a new operator merge run
// @Summary Create an operator merge run
// @Description Read every operator source and merge them into one registry keyed by (mcc, mnc)
// @Tags runs
// @Accept json
// @Produce json
// @Param run body model.OperatorJobSpec true "Operator job"
// @Success 202 {object} map[string]interface{} "Run created"
// @Failure 400 {string} string "Invalid request payload"
// @Failure 500 {string} string "Internal server error"
// @Router /runs/operators [post]
func (h *RunHandler) CreateOperatorRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	var job model.OperatorJobSpec
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(job.Sources) == 0 {
		http.Error(w, "At least one source is required", http.StatusBadRequest)
		return
	}
	for i, src := range job.Sources {
		if strings.TrimSpace(src.URL) == "" {
			http.Error(w, fmt.Sprintf("sources[%d].url is required", i), http.StatusBadRequest)
			return
		}
	}

	runID := uuid.New().String()
	if err := store.SaveRun(runID, model.KindOperators, job); err != nil {
		http.Error(w, "Failed to save run", http.StatusInternalServerError)
		return
	}

	h.start(runID, func(ctx context.Context) error {
		_, err := pipeline.RunOperators(ctx, runID, job, h.Deps)
		return err
	})

	accepted(w, runID, model.KindOperators)
}

// ListRuns retrieves all runs
// @Summary List runs
// @Description List all runs, newest first
// @Tags runs
// @Produce json
// @Success 200 {array} model.RunInfo
// @Failure 500 {string} string "Internal server error"
// @Router /runs [get]
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	runs, err := store.ListRuns()
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun retrieves a specific run
// @Summary Get run
// @Description Retrieve the spec and status of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.RunInfo
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id} [get]
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	runID, ok := runIDFromPath(r.URL.Path, "")
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	run, err := store.GetRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runDetail serves a per-run collection under /api/v1/runs/{id}{suffix}.
func (h *RunHandler) runDetail(w http.ResponseWriter, r *http.Request, suffix, field string, fetch func(runID string) (any, int, error)) {
	if !h.requireStore(w) {
		return
	}
	runID, ok := runIDFromPath(r.URL.Path, suffix)
	if !ok {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}
	if _, err := store.GetRun(runID); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	items, count, err := fetch(runID)
	if err != nil {
		http.Error(w, "Failed to retrieve "+field, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		field:    items,
		"count":  count,
	})
}

// GetRunErrors retrieves errors for a run
// @Summary Get run errors
// @Description Errors recorded for a run, each tagged with the stage that failed
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/errors [get]
func (h *RunHandler) GetRunErrors(w http.ResponseWriter, r *http.Request) {
	h.runDetail(w, r, "/errors", "errors", func(runID string) (any, int, error) {
		errs, err := store.GetRunErrors(runID)
		return errs, len(errs), err
	})
}

// GetRunStages retrieves stage progress for a run
// @Summary Get run stages
// @Description Stage start and end entries with processed and excluded counts
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/stages [get]
func (h *RunHandler) GetRunStages(w http.ResponseWriter, r *http.Request) {
	h.runDetail(w, r, "/stages", "stages", func(runID string) (any, int, error) {
		stages, err := store.GetStageProgress(runID)
		return stages, len(stages), err
	})
}

// GetRunClusters retrieves the bounding boxes of a tower run
// @Summary Get cluster boxes
// @Description Bounding boxes persisted by a tower run with database export enabled
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/clusters [get]
func (h *RunHandler) GetRunClusters(w http.ResponseWriter, r *http.Request) {
	h.runDetail(w, r, "/clusters", "clusters", func(runID string) (any, int, error) {
		clusters, err := store.GetClusterSummaries(runID)
		return clusters, len(clusters), err
	})
}

// GetRunOperators retrieves the merged registry of an operator run
// @Summary Get merged operators
// @Description Operators persisted by an operator run with database export enabled
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/operators [get]
func (h *RunHandler) GetRunOperators(w http.ResponseWriter, r *http.Request) {
	h.runDetail(w, r, "/operators", "operators", func(runID string) (any, int, error) {
		ops, err := store.GetOperators(runID)
		return ops, len(ops), err
	})
}

// GetRunFiles lists the output files of a run
// @Summary List run files
// @Description Files exported for a run, with download URLs
// @Tags files
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/files [get]
func (h *RunHandler) GetRunFiles(w http.ResponseWriter, r *http.Request) {
	h.runDetail(w, r, "/files", "files", func(runID string) (any, int, error) {
		files, err := h.outputs().ListRunFiles(runID)
		return files, len(files), err
	})
}

// RetryRun retries a run with its stored spec
// @Summary Retry run
// @Description Re-run a failed or completed run with the same spec
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} map[string]interface{} "Retry initiated"
// @Failure 404 {string} string "Run not found"
// @Failure 409 {string} string "Run is still in progress"
// @Router /runs/{id}/retry [post]
func (h *RunHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	runID, ok := runIDFromPath(r.URL.Path, "/retry")
	if !ok {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	// Claimed before the background run starts; a concurrent retry gets 409.
	err := store.ClaimRetry(runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrRunBusy):
		http.Error(w, "Run is still in progress and cannot be retried", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "Failed to claim run", http.StatusInternalServerError)
		return
	}

	// Start retry in background
	h.start(runID, func(ctx context.Context) error {
		return pipeline.RetryRun(ctx, runID, h.Deps)
	})

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Retry initiated",
		"run_id":  runID,
		"status":  model.StatusRetrying,
	})
}

func (h *RunHandler) outputs() *utils.OutputManager {
	if h.Deps.Outputs == nil {
		return utils.NewOutputManager("exports")
	}
	return h.Deps.Outputs
}

// DownloadFile serves a file for download
// @Summary Download file
// @Description Download a specific output file of a run
// @Tags files
// @Produce application/octet-stream
// @Param runID path string true "Run ID"
// @Param filename path string true "File name"
// @Success 200 {file} file "File download"
// @Failure 400 {string} string "Invalid URL format"
// @Failure 404 {string} string "File not found"
// @Router /download/{runID}/{filename} [get]
func (h *RunHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	// URL format: /api/v1/download/runID/filename
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 5 {
		http.Error(w, fmt.Sprintf("Invalid URL format. Expected 5 parts, got %d", len(pathParts)), http.StatusBadRequest)
		return
	}
	runID := pathParts[3]
	fileName := pathParts[4]

	om := h.outputs()
	filePath, err := om.ResolveDownload(runID, fileName)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	// Set appropriate headers for file download
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Type", om.ContentType(fileName))

	http.ServeFile(w, r, filePath)
}
