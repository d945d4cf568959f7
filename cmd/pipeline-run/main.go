package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"go-tower-pipeline/internal/config"
	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/pipeline"
	"go-tower-pipeline/internal/store"
)

const usage = `usage: pipeline-run <towers|operators> [flags]

  towers      cluster a tower source and export one bounding box per cluster
  operators   merge operator feeds into one registry keyed by (mcc, mnc)

Run "pipeline-run <command> -h" for the command's flags.`

// sourceList collects repeated -source name=type:location flags.
type sourceList []model.Source

func (s *sourceList) String() string {
	parts := make([]string, len(*s))
	for i, src := range *s {
		parts[i] = src.Name + "=" + src.Type + ":" + src.URL
	}
	return strings.Join(parts, ",")
}

func (s *sourceList) Set(v string) error {
	name, rest, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("want name=type:location, got %q", v)
	}
	typ, location, ok := strings.Cut(rest, ":")
	if !ok || location == "" {
		return fmt.Errorf("want name=type:location, got %q", v)
	}
	*s = append(*s, model.Source{Name: name, Type: typ, URL: location})
	return nil
}

type commonFlags struct {
	db      *string
	out     *string
	json    *string
	xlsx    *string
	timeout *string
}

func addCommon(fs *flag.FlagSet, cfg *config.Config, jsonDefault string) commonFlags {
	return commonFlags{
		db:      fs.String("db", "", "sqlite run store; also persists results when set"),
		out:     fs.String("out", cfg.OutputDir, "output directory"),
		json:    fs.String("json", jsonDefault, "JSON export file name (empty to skip)"),
		xlsx:    fs.String("xlsx", "", "XLSX export file name"),
		timeout: fs.String("timeout", "", "run timeout, e.g. 10m"),
	}
}

func (c commonFlags) export() *model.Export {
	return &model.Export{DB: *c.db != "", JSON: *c.json, XLSX: *c.xlsx}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result any
		err    error
	)
	switch os.Args[1] {
	case "towers":
		result, err = runTowers(ctx, cfg, log, os.Args[2:])
	case "operators":
		result, err = runOperators(ctx, cfg, log, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error(ctx, "run failed", logging.Err(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)
}

func openStore(ctx context.Context, log logging.Logger, path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := store.InitDB(path); err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	log.Info(ctx, "run store opened", logging.String("path", path))
	return func() { store.Close() }, nil
}

func runTowers(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) (any, error) {
	fs := flag.NewFlagSet("towers", flag.ExitOnError)
	source := fs.String("source", "", "tower source: local path or http(s) URL")
	typ := fs.String("type", pipeline.FormatCSV, "source format: csv, xlsx or json")
	sheet := fs.String("sheet", "", "xlsx sheet (first sheet when empty)")
	header := fs.Bool("header", false, "skip the first row")
	k := fs.Int("k", cfg.ClusterCount, "number of clusters")
	mode := fs.String("mode", cfg.FeatureMode, "feature mode: geo or geo_network")
	initMethod := fs.String("init", string(pipeline.InitKMeansPP), "centroid init: random or kmeans++")
	seed := fs.Uint64("seed", 1, "random seed")
	maxIter := fs.Int("max-iter", 0, "max Lloyd iterations per restart")
	nInit := fs.Int("n-init", 0, "number of restarts")
	requireNetwork := fs.Bool("require-network", false, "also drop rows without numeric mcc/mnc")
	js := fs.String("js", "tower_clusters_data.js", "JS export file name (empty to skip)")
	geo := fs.String("geojson", "", "GeoJSON export file name")
	common := addCommon(fs, cfg, "tower_clusters.json")
	fs.Parse(args)

	if *source == "" {
		fs.Usage()
		return nil, fmt.Errorf("-source is required")
	}

	export := common.export()
	export.JS = *js
	export.GeoJSON = *geo
	job := model.TowerJobSpec{
		Source:    model.Source{Type: *typ, URL: *source, Sheet: *sheet, HasHeader: *header},
		Normalize: model.NormalizeSpec{RequireNetwork: *requireNetwork},
		Cluster: model.ClusterSpec{
			K:             *k,
			Mode:          *mode,
			Init:          *initMethod,
			MaxIterations: *maxIter,
			NumInit:       *nInit,
			Seed:          *seed,
		},
		Export:  export,
		Timeout: *common.timeout,
	}

	closeStore, err := openStore(ctx, log, *common.db)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	runID := uuid.New().String()
	if store.Enabled() {
		if err := store.SaveRun(runID, model.KindTowers, job); err != nil {
			return nil, err
		}
	}

	cfg.OutputDir = *common.out
	res, err := pipeline.RunTowers(ctx, runID, job, pipeline.DepsFromConfig(cfg, log, nil))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"run_id":     runID,
		"rows":       res.Rows,
		"records":    res.Records,
		"excluded":   res.Excluded,
		"clusters":   len(res.Boxes),
		"iterations": res.Cluster.Iterations,
		"inertia":    res.Cluster.Inertia,
		"exports":    res.Exports,
	}, nil
}

func runOperators(ctx context.Context, cfg *config.Config, log logging.Logger, args []string) (any, error) {
	fs := flag.NewFlagSet("operators", flag.ExitOnError)
	var sources sourceList
	fs.Var(&sources, "source", "operator feed as name=type:location (repeatable); type is itu, csv, xlsx or json")
	itu := fs.String("itu", "", "shorthand for -source itu=itu:<location>")
	wiki := fs.String("wikipedia", "", "shorthand for -source wikipedia=csv:<location>")
	order := fs.String("order", strings.Join(cfg.OperatorPrecedence, ","), "source names from lowest to highest precedence")
	common := addCommon(fs, cfg, "mnc_operators.json")
	fs.Parse(args)

	if *wiki != "" {
		sources = append(sources, model.Source{Name: pipeline.SourceWikipedia, Type: pipeline.FormatCSV, URL: *wiki})
	}
	if *itu != "" {
		sources = append(sources, model.Source{Name: pipeline.SourceITU, Type: pipeline.FormatITU, URL: *itu})
	}
	if len(sources) == 0 {
		fs.Usage()
		return nil, fmt.Errorf("at least one operator source is required")
	}

	var precedence []string
	for _, name := range strings.Split(*order, ",") {
		if name = strings.TrimSpace(name); name != "" {
			precedence = append(precedence, name)
		}
	}
	job := model.OperatorJobSpec{
		Sources: sources,
		Merge:   model.MergeSpec{Order: precedence},
		Export:  common.export(),
		Timeout: *common.timeout,
	}

	closeStore, err := openStore(ctx, log, *common.db)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	runID := uuid.New().String()
	if store.Enabled() {
		if err := store.SaveRun(runID, model.KindOperators, job); err != nil {
			return nil, err
		}
	}

	cfg.OutputDir = *common.out
	res, err := pipeline.RunOperators(ctx, runID, job, pipeline.DepsFromConfig(cfg, log, nil))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"run_id":    runID,
		"sources":   res.Sources,
		"operators": res.Registry.Len(),
		"exports":   res.Exports,
	}, nil
}
