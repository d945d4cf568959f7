package pipeline

import (
	"context"
	"sync"

	"go-tower-pipeline/internal/model"
	"go-tower-pipeline/pkg/utils"
)

// RowShape classifies a raw row by field count.
type RowShape int

const (
	// ShapeInvalid rows cannot be mapped onto the tower schema.
	ShapeInvalid RowShape = iota
	// ShapeCanonical rows carry every tower column.
	ShapeCanonical
	// ShapeShort rows lack the trailing averageSignal column, which is
	// filled with 0.
	ShapeShort
)

func (s RowShape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeShort:
		return "short"
	default:
		return "invalid"
	}
}

// ClassifyRow returns the shape of a raw tower row.
func ClassifyRow(row model.RawRow) RowShape {
	switch len(row) {
	case model.TowerColumnCount:
		return ShapeCanonical
	case model.TowerColumnCount - 1:
		return ShapeShort
	default:
		return ShapeInvalid
	}
}

// ExclusionReason says why the normalizer dropped a row.
type ExclusionReason string

const (
	ExcludedShape       ExclusionReason = "bad_shape"
	ExcludedCoordinates ExclusionReason = "bad_coordinates"
	ExcludedNetwork     ExclusionReason = "bad_network"
)

// NormalizeOptions tunes row exclusion.
type NormalizeOptions struct {
	// RequireNetwork also excludes rows whose mcc or mnc is not numeric. It
	// must be set when the records feed a geo+network clustering.
	RequireNetwork bool
}

// NormalizeResult is the normalizer's output plus diagnostics.
type NormalizeResult struct {
	Records  []model.TowerRecord
	Total    int
	Short    int
	Excluded int
	Reasons  map[ExclusionReason]int
}

// ReasonCounts returns the exclusion counts keyed by reason string.
func (r NormalizeResult) ReasonCounts() map[string]int {
	out := make(map[string]int, len(r.Reasons))
	for reason, n := range r.Reasons {
		out[string(reason)] = n
	}
	return out
}

// Normalize turns raw rows into typed tower records. Rows of the wrong shape
// and rows without finite numeric coordinates are dropped and counted.
func Normalize(rows []model.RawRow, opts NormalizeOptions) NormalizeResult {
	res := NormalizeResult{
		Records: make([]model.TowerRecord, 0, len(rows)),
		Total:   len(rows),
		Reasons: make(map[ExclusionReason]int),
	}

	for _, row := range rows {
		rec, shape, reason := normalizeRow(row, opts)
		if reason != "" {
			res.Excluded++
			res.Reasons[reason]++
			continue
		}
		if shape == ShapeShort {
			res.Short++
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// minRowsPerWorker keeps small inputs on a single goroutine.
const minRowsPerWorker = 5000

// NormalizeConcurrent normalizes rows with up to workerCount goroutines. Each
// worker takes a contiguous chunk, so the records keep input order and the
// result equals Normalize(rows, opts).
func NormalizeConcurrent(ctx context.Context, rows []model.RawRow, opts NormalizeOptions, workerCount int) (NormalizeResult, error) {
	if limit := len(rows) / minRowsPerWorker; workerCount > limit {
		workerCount = limit
	}
	if workerCount <= 1 {
		if err := ctx.Err(); err != nil {
			return NormalizeResult{}, err
		}
		return Normalize(rows, opts), nil
	}

	chunk := (len(rows) + workerCount - 1) / workerCount
	parts := make([]NormalizeResult, workerCount)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			defer wg.Done()
			lo := min(workerID*chunk, len(rows))
			hi := min(lo+chunk, len(rows))
			select {
			case <-ctx.Done():
				return
			default:
				parts[workerID] = Normalize(rows[lo:hi], opts)
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return NormalizeResult{}, err
	}

	res := NormalizeResult{
		Records: make([]model.TowerRecord, 0, len(rows)),
		Total:   len(rows),
		Reasons: make(map[ExclusionReason]int),
	}
	for _, p := range parts {
		res.Records = append(res.Records, p.Records...)
		res.Short += p.Short
		res.Excluded += p.Excluded
		for reason, n := range p.Reasons {
			res.Reasons[reason] += n
		}
	}
	return res, nil
}

func normalizeRow(row model.RawRow, opts NormalizeOptions) (model.TowerRecord, RowShape, ExclusionReason) {
	shape := ClassifyRow(row)
	switch shape {
	case ShapeInvalid:
		return model.TowerRecord{}, shape, ExcludedShape
	case ShapeShort:
		padded := make(model.RawRow, 0, model.TowerColumnCount)
		padded = append(padded, row...)
		row = append(padded, 0)
	}

	lon, lonOK := utils.CoerceFloat(row[model.ColLon])
	lat, latOK := utils.CoerceFloat(row[model.ColLat])
	if !lonOK || !latOK || !utils.Finite(lon) || !utils.Finite(lat) {
		return model.TowerRecord{}, shape, ExcludedCoordinates
	}

	rec := model.TowerRecord{
		Radio:         utils.FieldString(row[model.ColRadio]),
		MCC:           coerce(row[model.ColMCC]),
		MNC:           coerce(row[model.ColMNC]),
		Area:          coerce(row[model.ColArea]),
		Cell:          coerce(row[model.ColCell]),
		Unit:          coerce(row[model.ColUnit]),
		Lon:           lon,
		Lat:           lat,
		Range:         coerce(row[model.ColRange]),
		Samples:       coerce(row[model.ColSamples]),
		Changeable:    coerce(row[model.ColChangeable]),
		Created:       coerce(row[model.ColCreated]),
		Updated:       coerce(row[model.ColUpdated]),
		AverageSignal: coerce(row[model.ColAverageSignal]),
	}

	if opts.RequireNetwork && (!rec.MCC.IsFinite() || !rec.MNC.IsFinite()) {
		return model.TowerRecord{}, shape, ExcludedNetwork
	}
	return rec, shape, ""
}

// coerce keeps the original text when the field is not a number.
func coerce(v any) model.Value {
	if f, ok := utils.CoerceFloat(v); ok {
		return model.Number(f)
	}
	return model.Text(utils.FieldString(v))
}
