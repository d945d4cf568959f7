package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/observability"
	"go-tower-pipeline/internal/store"
	"go-tower-pipeline/pkg/utils"
)

const towersCSV = `radio,mcc,mnc,area,cell,unit,lon,lat,range,samples,changeable,created,updated,averageSignal
GSM,310,260,1,10,0,-74.0,40.0,1000,5,1,1459813000,1459813001,-80
GSM,310,260,1,11,0,-74.1,40.1,1000,5,1,1459813000,1459813001
UMTS,234,10,2,20,0,-0.1,51.5,500,3,1,1459813000,1459813001,-70
LTE,234,10,2,21,0,bad,51.6,500,3,1,1459813000,1459813001,-70
short,row
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testDeps(t *testing.T) (Deps, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewPipelineCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	return Deps{
		Metrics: metrics,
		Outputs: utils.NewOutputManager(t.TempDir()),
	}, reg
}

func withStore(t *testing.T) {
	t.Helper()
	if err := store.InitDB(filepath.Join(t.TempDir(), "pipeline.db")); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
}

func fastRetries(t *testing.T) {
	t.Helper()
	saved := make(map[string]model.RetryConfig, len(DefaultRetryConfigs))
	for k, v := range DefaultRetryConfigs {
		saved[k] = v
		DefaultRetryConfigs[k] = fastRetry(3)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			DefaultRetryConfigs[k] = v
		}
	})
}

func TestRunTowersEndToEnd(t *testing.T) {
	withStore(t)
	deps, reg := testDeps(t)
	src := writeFile(t, t.TempDir(), "towers.csv", towersCSV)

	job := model.TowerJobSpec{
		Source:  model.Source{Type: "csv", URL: src, HasHeader: true},
		Cluster: model.ClusterSpec{K: 2, Mode: "geo"},
		Export: &model.Export{
			DB:      true,
			JSON:    "tower_clusters.json",
			JS:      "tower_clusters_data.js",
			GeoJSON: "towers.geojson",
			XLSX:    "clusters.xlsx",
		},
	}
	if err := store.SaveRun("run-1", model.KindTowers, job); err != nil {
		t.Fatal(err)
	}

	res, err := RunTowers(context.Background(), "run-1", job, deps)
	if err != nil {
		t.Fatalf("RunTowers: %v", err)
	}
	if res.Rows != 5 || res.Records != 3 {
		t.Fatalf("rows=%d records=%d", res.Rows, res.Records)
	}
	if res.Excluded["bad_shape"] != 1 || res.Excluded["bad_coordinates"] != 1 {
		t.Fatalf("excluded = %v", res.Excluded)
	}
	if len(res.Boxes) != 2 {
		t.Fatalf("boxes = %v", res.Boxes)
	}

	var nj *model.BoundingBox
	for _, b := range res.Boxes {
		if b.MinLat == 40.0 {
			b := b
			nj = &b
		}
	}
	if nj == nil || nj.MaxLat != 40.1 || nj.MinLon != -74.1 || nj.MaxLon != -74.0 {
		t.Fatalf("nj box = %+v", nj)
	}

	if len(res.Exports) != 5 {
		t.Fatalf("exports = %+v", res.Exports)
	}
	for _, e := range res.Exports {
		if !e.Success {
			t.Fatalf("export %s failed: %s", e.Type, e.Error)
		}
	}

	runDir := filepath.Join(deps.Outputs.BaseOutputDir, "run-1")
	js, err := os.ReadFile(filepath.Join(runDir, "tower_clusters_data.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(js), "TOWERS_DATA = {") || !strings.HasSuffix(string(js), "};") {
		t.Fatalf("js export = %s", js)
	}

	raw, err := os.ReadFile(filepath.Join(runDir, "tower_clusters.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]model.BoundingBox
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json export: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json export = %s", raw)
	}

	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != model.StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	summaries, err := store.GetClusterSummaries("run-1")
	if err != nil || len(summaries) != 2 {
		t.Fatalf("summaries = %+v, %v", summaries, err)
	}
	stages, err := store.GetStageProgress("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 10 {
		t.Fatalf("stage entries = %d, want a start and an end for 5 stages", len(stages))
	}

	if got := testutil.ToFloat64(deps.Metrics.Runs.WithLabelValues(model.KindTowers, model.StatusCompleted)); got != 1 {
		t.Fatalf("completed runs metric = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "pipeline_stage_duration_seconds"); err != nil || n == 0 {
		t.Fatalf("stage durations not recorded: %d %v", n, err)
	}
}

func TestRunTowersGeoNetworkDropsRowsWithoutNetwork(t *testing.T) {
	deps, _ := testDeps(t)
	csv := "GSM,310,260,1,10,0,-74.0,40.0,1,1,1,1,1,1\n" +
		"GSM,310,,1,10,0,-74.1,40.1,1,1,1,1,1,1\n" +
		"GSM,234,10,1,10,0,-0.1,51.5,1,1,1,1,1,1\n"
	src := writeFile(t, t.TempDir(), "towers.csv", csv)

	res, err := RunTowers(context.Background(), "run-geo-net", model.TowerJobSpec{
		Source:  model.Source{Type: "csv", URL: src},
		Cluster: model.ClusterSpec{K: 5, Mode: "geo_network"},
	}, deps)
	if err != nil {
		t.Fatalf("RunTowers: %v", err)
	}
	if res.Records != 2 || res.Excluded["bad_network"] != 1 {
		t.Fatalf("records=%d excluded=%v", res.Records, res.Excluded)
	}
	if res.Cluster.K != 2 {
		t.Fatalf("k = %d, want reduced to 2", res.Cluster.K)
	}
}

func TestRunTowersFailsFastWithStageError(t *testing.T) {
	withStore(t)
	deps, _ := testDeps(t)

	job := model.TowerJobSpec{Source: model.Source{Type: "csv", URL: filepath.Join(t.TempDir(), "missing.csv")}}
	if err := store.SaveRun("run-missing", model.KindTowers, job); err != nil {
		t.Fatal(err)
	}

	_, err := RunTowers(context.Background(), "run-missing", job, deps)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageIngest {
		t.Fatalf("err = %v, want ingest StageError", err)
	}

	run, _ := store.GetRun("run-missing")
	if run.Status != model.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	errs, _ := store.GetRunErrors("run-missing")
	if len(errs) != 1 || errs[0].Stage != StageIngest {
		t.Fatalf("run errors = %+v", errs)
	}
	if _, err := os.Stat(filepath.Join(deps.Outputs.BaseOutputDir, "run-missing")); !os.IsNotExist(err) {
		t.Fatalf("output directory created for a failed run")
	}
}

func TestRunTowersRejectsInvalidK(t *testing.T) {
	deps, _ := testDeps(t)
	src := writeFile(t, t.TempDir(), "towers.csv", towersCSV)

	_, err := RunTowers(context.Background(), "run-bad-k", model.TowerJobSpec{
		Source:  model.Source{URL: src},
		Cluster: model.ClusterSpec{K: -1},
	}, deps)
	if !errors.Is(err, ErrInvalidClusterCount) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunTowersNoValidRows(t *testing.T) {
	deps, _ := testDeps(t)
	src := writeFile(t, t.TempDir(), "towers.csv", "a,b,c\n")

	_, err := RunTowers(context.Background(), "run-empty", model.TowerJobSpec{Source: model.Source{URL: src}}, deps)
	var se *StageError
	if !errors.Is(err, ErrNoRecords) || !errors.As(err, &se) || se.Stage != StageNormalize {
		t.Fatalf("err = %v", err)
	}
}

func TestRunTowersFromHTTPWithRetry(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(towersCSV))
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	res, err := RunTowers(context.Background(), "run-http", model.TowerJobSpec{
		Source:  model.Source{Type: "csv", URL: srv.URL + "/towers.csv", HasHeader: true},
		Cluster: model.ClusterSpec{K: 2, Mode: "geo"},
	}, deps)
	if err != nil {
		t.Fatalf("RunTowers: %v", err)
	}
	if calls.Load() != 2 || res.Records != 3 {
		t.Fatalf("calls=%d records=%d", calls.Load(), res.Records)
	}
}

func TestRunTowersHTTPNotFoundIsNotRetried(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	_, err := RunTowers(context.Background(), "run-404", model.TowerJobSpec{Source: model.Source{URL: srv.URL}}, deps)
	if err == nil || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

const ituCSV = `,United States,
,Verizon Wireless,310 260
,United Kingdom,
,EE,234 10
Country,heading,row
`

const wikiCSV = `MCC,MNC,Brand,Operator
310,260,Verizon,Verizon
310,410,AT&T,AT&T Mobility
`

func TestRunOperatorsEndToEnd(t *testing.T) {
	withStore(t)
	deps, _ := testDeps(t)
	dir := t.TempDir()
	itu := writeFile(t, dir, "itu.csv", ituCSV)
	wiki := writeFile(t, dir, "wiki.csv", wikiCSV)

	job := model.OperatorJobSpec{
		Sources: []model.Source{
			{Name: SourceITU, Type: "itu", URL: itu},
			{Name: SourceWikipedia, Type: "csv", URL: wiki, HasHeader: true},
		},
		Export: &model.Export{DB: true, JSON: "mnc_operators.json", XLSX: "operators.xlsx"},
	}
	if err := store.SaveRun("ops-1", model.KindOperators, job); err != nil {
		t.Fatal(err)
	}

	res, err := RunOperators(context.Background(), "ops-1", job, deps)
	if err != nil {
		t.Fatalf("RunOperators: %v", err)
	}
	if res.Sources[SourceITU] != 2 || res.Sources[SourceWikipedia] != 2 {
		t.Fatalf("sources = %v", res.Sources)
	}
	if res.Registry.Len() != 3 {
		t.Fatalf("registry len = %d", res.Registry.Len())
	}
	if op, _ := res.Registry.Get(model.NewNetworkKey("310", "260")); op.Operator != "Verizon Wireless" {
		t.Fatalf("310-260 = %+v", op)
	}

	raw, err := os.ReadFile(filepath.Join(deps.Outputs.BaseOutputDir, "ops-1", "mnc_operators.json"))
	if err != nil {
		t.Fatal(err)
	}
	var ops []model.OperatorRecord
	if err := json.Unmarshal(raw, &ops); err != nil || len(ops) != 3 {
		t.Fatalf("json export = %s (%v)", raw, err)
	}
	if ops[0].MCC != "234" {
		t.Fatalf("export not ordered by key: %+v", ops)
	}

	stored, err := store.GetOperators("ops-1")
	if err != nil || len(stored) != 3 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestRunOperatorsPrecedenceFromJob(t *testing.T) {
	deps, _ := testDeps(t)
	dir := t.TempDir()

	res, err := RunOperators(context.Background(), "ops-2", model.OperatorJobSpec{
		Sources: []model.Source{
			{Name: SourceITU, Type: "itu", URL: writeFile(t, dir, "itu.csv", ituCSV)},
			{Name: SourceWikipedia, Type: "csv", URL: writeFile(t, dir, "wiki.csv", wikiCSV), HasHeader: true},
		},
		Merge: model.MergeSpec{Order: []string{SourceITU, SourceWikipedia}},
	}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if op, _ := res.Registry.Get(model.NewNetworkKey("310", "260")); op.Operator != "Verizon" {
		t.Fatalf("310-260 = %+v, want the wikipedia name", op)
	}
}

func TestRunOperatorsUnknownSource(t *testing.T) {
	deps, _ := testDeps(t)
	dir := t.TempDir()

	_, err := RunOperators(context.Background(), "ops-3", model.OperatorJobSpec{
		Sources: []model.Source{{Name: "gsma", Type: "csv", URL: writeFile(t, dir, "x.csv", wikiCSV)}},
	}, deps)
	var se *StageError
	if !errors.Is(err, ErrUnknownSource) || !errors.As(err, &se) || se.Stage != StageMerge {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryRun(t *testing.T) {
	withStore(t)
	deps, _ := testDeps(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "towers.csv")

	job := model.TowerJobSpec{Source: model.Source{URL: path, HasHeader: true}, Cluster: model.ClusterSpec{K: 2, Mode: "geo"}}
	if err := store.SaveRun("run-retry", model.KindTowers, job); err != nil {
		t.Fatal(err)
	}
	if _, err := RunTowers(context.Background(), "run-retry", job, deps); err == nil {
		t.Fatalf("first run should fail without the source file")
	}

	writeFile(t, dir, "towers.csv", towersCSV)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := RetryRun(ctx, "run-retry", deps); err != nil {
		t.Fatalf("RetryRun: %v", err)
	}
	run, _ := store.GetRun("run-retry")
	if run.Status != model.StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
}
