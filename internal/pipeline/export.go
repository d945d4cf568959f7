package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/xuri/excelize/v2"

	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/internal/store"
	"go-tower-pipeline/pkg/utils"
)

// TowersJSVariable is the global the JS export assigns the boxes to.
const TowersJSVariable = "TOWERS_DATA"

// ExportManager handles data export operations for one run
type ExportManager struct {
	RunID   string
	Spec    *model.Export
	Outputs *utils.OutputManager
	Results []model.ExportResult
}

// NewExportManager creates an export manager writing under outputs.
func NewExportManager(runID string, spec *model.Export, outputs *utils.OutputManager) *ExportManager {
	return &ExportManager{
		RunID:   runID,
		Spec:    spec,
		Outputs: outputs,
		Results: make([]model.ExportResult, 0),
	}
}

// ExportTowers writes the cluster boxes (and, for GeoJSON, the towers) to
// every configured target. All targets are attempted; the failures are
// returned joined.
func (em *ExportManager) ExportTowers(ctx context.Context, clusters model.Clusters, boxes map[string]model.BoundingBox) error {
	if em.Spec == nil {
		return nil
	}

	var errs []error
	if em.Spec.JSON != "" {
		errs = append(errs, em.exportFile(ctx, "json", em.Spec.JSON, len(boxes), func() ([]byte, error) {
			return json.Marshal(boxes)
		}))
	}
	if em.Spec.JS != "" {
		errs = append(errs, em.exportFile(ctx, "js", em.Spec.JS, len(boxes), func() ([]byte, error) {
			return EncodeTowersJS(boxes)
		}))
	}
	if em.Spec.GeoJSON != "" {
		errs = append(errs, em.exportFile(ctx, "geojson", em.Spec.GeoJSON, clusters.Size()+len(boxes), func() ([]byte, error) {
			return EncodeTowersGeoJSON(clusters, boxes)
		}))
	}
	if em.Spec.XLSX != "" {
		errs = append(errs, em.exportFile(ctx, "xlsx", em.Spec.XLSX, len(boxes), func() ([]byte, error) {
			return encodeClustersWorkbook(boxes)
		}))
	}
	if em.Spec.DB {
		errs = append(errs, em.exportToDatabase(ctx, "cluster_summaries", len(boxes), func() error {
			return store.SaveClusterSummaries(em.RunID, boxes)
		}))
	}
	return errors.Join(errs...)
}

// ExportOperators writes the merged registry to every configured target that
// applies to operators (JSON, XLSX and the database).
func (em *ExportManager) ExportOperators(ctx context.Context, ops []model.OperatorRecord) error {
	if em.Spec == nil {
		return nil
	}
	log := logging.FromContext(ctx)

	var errs []error
	if em.Spec.JSON != "" {
		errs = append(errs, em.exportFile(ctx, "json", em.Spec.JSON, len(ops), func() ([]byte, error) {
			return json.Marshal(ops)
		}))
	}
	if em.Spec.XLSX != "" {
		errs = append(errs, em.exportFile(ctx, "xlsx", em.Spec.XLSX, len(ops), func() ([]byte, error) {
			return encodeOperatorsWorkbook(ops)
		}))
	}
	if em.Spec.JS != "" || em.Spec.GeoJSON != "" {
		log.Warn(ctx, "js and geojson exports only apply to tower runs; skipped")
	}
	if em.Spec.DB {
		errs = append(errs, em.exportToDatabase(ctx, "operators", len(ops), func() error {
			return store.SaveOperators(em.RunID, ops)
		}))
	}
	return errors.Join(errs...)
}

// exportFile encodes once and writes the result to the run's output
// directory, retrying the write.
func (em *ExportManager) exportFile(ctx context.Context, kind, fileName string, count int, encode func() ([]byte, error)) error {
	log := logging.FromContext(ctx)
	result := model.ExportResult{Type: kind, RecordCount: count, Timestamp: time.Now()}

	err := func() error {
		data, err := encode()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", kind, err)
		}
		path, err := em.Outputs.GetOutputFilePath(em.RunID, fileName)
		if err != nil {
			return err
		}
		result.Path = path
		return withRetry(ctx, DefaultRetryConfigs[StageExport], "write "+path, func(context.Context) error {
			return writeFileAtomic(path, data)
		})
	}()

	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		log.Error(ctx, "export failed", logging.String("type", kind), logging.String("file", fileName), logging.Err(err))
	} else {
		log.Info(ctx, "export written", logging.String("type", kind), logging.String("path", result.Path), logging.Int("records", count))
	}
	em.Results = append(em.Results, result)
	return err
}

func (em *ExportManager) exportToDatabase(ctx context.Context, table string, count int, save func() error) error {
	log := logging.FromContext(ctx)
	result := model.ExportResult{Type: "database", Path: table, RecordCount: count, Timestamp: time.Now()}

	var err error
	if !store.Enabled() {
		err = fmt.Errorf("database export requested but no database is configured")
	} else {
		err = withRetry(ctx, DefaultRetryConfigs[StageExport], "save "+table, func(context.Context) error {
			return save()
		})
	}

	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		log.Error(ctx, "database export failed", logging.String("table", table), logging.Err(err))
	} else {
		log.Info(ctx, "database export written", logging.String("table", table), logging.Int("records", count))
	}
	em.Results = append(em.Results, result)
	return err
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// EncodeTowersJS renders the boxes as a script assigning TOWERS_DATA.
func EncodeTowersJS(boxes map[string]model.BoundingBox) ([]byte, error) {
	data, err := json.Marshal(boxes)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(TowersJSVariable) + 4)
	buf.WriteString(TowersJSVariable)
	buf.WriteString(" = ")
	buf.Write(data)
	buf.WriteString(";")
	return buf.Bytes(), nil
}

// EncodeTowersGeoJSON renders one point feature per tower, tagged with its
// network and cluster, followed by one polygon feature per cluster box.
func EncodeTowersGeoJSON(clusters model.Clusters, boxes map[string]model.BoundingBox) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	for _, g := range clusters.Groups() {
		for _, t := range g.Members {
			f := geojson.NewFeature(orb.Point{t.Lon, t.Lat})
			f.Properties["mcc"] = valueProperty(t.MCC)
			f.Properties["mnc"] = valueProperty(t.MNC)
			f.Properties["radio"] = t.Radio
			f.Properties["cluster"] = strconv.Itoa(g.Label)
			fc.Append(f)
		}
	}

	for _, label := range sortedLabels(boxes) {
		b := boxes[label]
		bound := orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
		f := geojson.NewFeature(bound.ToPolygon())
		f.Properties["cluster"] = label
		f.Properties["area"] = b.Area
		f.Properties["networks"] = b.Networks
		fc.Append(f)
	}

	return fc.MarshalJSON()
}

func valueProperty(v model.Value) any {
	if f, ok := v.Float(); ok && v.IsFinite() {
		return f
	}
	return v.String()
}

// sortedLabels orders box keys numerically.
func sortedLabels(boxes map[string]model.BoundingBox) []string {
	labels := make([]string, 0, len(boxes))
	for label := range boxes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, aerr := strconv.Atoi(labels[i])
		b, berr := strconv.Atoi(labels[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return labels[i] < labels[j]
	})
	return labels
}

func networksCell(keys []model.NetworkKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, " ")
}

func encodeClustersWorkbook(boxes map[string]model.BoundingBox) ([]byte, error) {
	rows := [][]any{{"cluster", "min_lat", "min_lon", "max_lat", "max_lon", "area", "networks"}}
	for _, label := range sortedLabels(boxes) {
		b := boxes[label]
		rows = append(rows, []any{label, b.MinLat, b.MinLon, b.MaxLat, b.MaxLon, b.Area, networksCell(b.Networks)})
	}
	return encodeWorkbook("clusters", rows)
}

func encodeOperatorsWorkbook(ops []model.OperatorRecord) ([]byte, error) {
	rows := [][]any{{"mcc", "mnc", "brand", "operator"}}
	for _, op := range ops {
		rows = append(rows, []any{op.MCC, op.MNC, op.Brand, op.Operator})
	}
	return encodeWorkbook("operators", rows)
}

func encodeWorkbook(sheet string, rows [][]any) ([]byte, error) {
	x := excelize.NewFile()
	defer x.Close()

	if err := x.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return nil, err
		}
		if err := x.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
