package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
)

// Source formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
	FormatITU  = "itu"
)

// ------------------- Fetching -------------------

// fetchSource reads a local file or an http(s) URL into memory. Remote
// fetches are retried; client errors (4xx other than 429) are not.
func fetchSource(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open source file: %w", err)
		}
		return data, nil
	}

	if client == nil {
		client = http.DefaultClient
	}

	var body []byte
	err := withRetry(ctx, DefaultRetryConfigs[StageIngest], "GET "+location, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to GET %s: %w", location, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			err := fmt.Errorf("GET %s: unexpected status %s", location, resp.Status)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return Permanent(err)
			}
			return err
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read body of %s: %w", location, err)
		}
		return nil
	})
	return body, err
}

// ------------------- Tower rows -------------------

// ReadTowerRows loads raw tower rows from a CSV, XLSX or JSON source. Rows
// are returned as read; shape checks are left to the normalizer.
func ReadTowerRows(ctx context.Context, client *http.Client, src model.Source) ([]model.RawRow, error) {
	log := logging.FromContext(ctx)
	log.Info(ctx, "ingesting tower source", logging.String("url", src.URL), logging.String("type", src.Type))

	data, err := fetchSource(ctx, client, src.URL)
	if err != nil {
		return nil, err
	}

	var rows []model.RawRow
	switch strings.ToLower(src.Type) {
	case FormatCSV, "":
		rows, err = readCSVRows(ctx, bytes.NewReader(data), src.HasHeader)
	case FormatXLSX:
		rows, err = readXLSXRows(bytes.NewReader(data), src.Sheet, src.HasHeader)
	case FormatJSON:
		rows, err = readJSONTowerRows(data)
	default:
		return nil, fmt.Errorf("%w: %q for towers", ErrUnsupportedFormat, src.Type)
	}
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "tower source read", logging.String("url", src.URL), logging.Int("rows", len(rows)))
	return rows, nil
}

func readCSVRows(ctx context.Context, r io.Reader, hasHeader bool) ([]model.RawRow, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1 // the normalizer judges row width

	var rows []model.RawRow
	for line := 0; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("CSV read error: %w", err)
		}
		if line == 0 && hasHeader {
			continue
		}
		rows = append(rows, model.RowFromStrings(record))
	}
}

// readXLSXRows reads a worksheet, the first one when sheet is empty. Trailing
// empty cells are dropped by the reader, so a row with an empty last column
// comes back one field short.
func readXLSXRows(r io.Reader, sheet string, hasHeader bool) ([]model.RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if hasHeader && len(records) > 0 {
		records = records[1:]
	}

	rows := make([]model.RawRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, model.RowFromStrings(record))
	}
	return rows, nil
}

// readJSONTowerRows accepts an array of arrays (rows in column order) or an
// array of objects keyed by column name. Numbers are kept as numbers.
func readJSONTowerRows(data []byte) ([]model.RawRow, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to decode JSON: invalid document")
	}
	root := gjson.ParseBytes(data)
	if root.IsObject() {
		root = root.Get("rows")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("unexpected JSON structure")
	}

	var rows []model.RawRow
	root.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.IsArray():
			items := item.Array()
			row := make(model.RawRow, len(items))
			for i, v := range items {
				row[i] = jsonScalar(v)
			}
			rows = append(rows, row)
		case item.IsObject():
			row := make(model.RawRow, model.TowerColumnCount)
			for i, col := range model.TowerColumns {
				v := item.Get(col)
				if i == model.ColAverageSignal && !v.Exists() {
					row[i] = 0.0
					continue
				}
				row[i] = jsonScalar(v)
			}
			rows = append(rows, row)
		default:
			// Not a row; the normalizer rejects it by shape.
			rows = append(rows, model.RawRow{})
		}
		return true
	})
	return rows, nil
}

func jsonScalar(v gjson.Result) any {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.Null:
		return nil
	default:
		return v.String()
	}
}

// ------------------- Operators -------------------

// ReadOperators loads one operator feed. The feed label is src.Name, falling
// back to the format name.
func ReadOperators(ctx context.Context, client *http.Client, src model.Source) (model.LabeledOperators, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = strings.ToLower(src.Type)
	}
	log := logging.FromContext(ctx)
	log.Info(ctx, "ingesting operator source", logging.String("source", name), logging.String("url", src.URL), logging.String("type", src.Type))

	data, err := fetchSource(ctx, client, src.URL)
	if err != nil {
		return model.LabeledOperators{}, err
	}

	var ops []model.OperatorRecord
	switch strings.ToLower(src.Type) {
	case FormatITU:
		ops, err = parseITUOperators(data)
	case FormatCSV:
		ops, err = parseTableOperators(data, src.HasHeader)
	case FormatXLSX:
		ops, err = parseXLSXOperators(data, src.Sheet, src.HasHeader)
	case FormatJSON:
		ops, err = parseJSONOperators(data)
	default:
		return model.LabeledOperators{}, fmt.Errorf("%w: %q for operators", ErrUnsupportedFormat, src.Type)
	}
	if err != nil {
		return model.LabeledOperators{}, fmt.Errorf("source %s: %w", name, err)
	}

	log.Info(ctx, "operator source read", logging.String("source", name), logging.Int("operators", len(ops)))
	return model.LabeledOperators{Source: name, Records: ops}, nil
}

func readAllCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV read error: %w", err)
	}
	return records, nil
}

// parseITUOperators reads the ITU operational bulletin export: operator rows
// have an empty first column, the name in the second and "MCC MNC" in the
// third. Country heading rows and anything else are skipped.
func parseITUOperators(data []byte) ([]model.OperatorRecord, error) {
	records, err := readAllCSV(data)
	if err != nil {
		return nil, err
	}

	var ops []model.OperatorRecord
	for _, line := range records {
		if len(line) < 3 || strings.TrimSpace(line[0]) != "" {
			continue
		}
		codes := strings.Fields(line[2])
		if len(codes) != 2 {
			continue
		}
		name := strings.TrimSpace(line[1])
		ops = append(ops, model.OperatorRecord{Operator: name, Brand: name, MCC: codes[0], MNC: codes[1]})
	}
	return ops, nil
}

// parseTableOperators reads rows laid out like the wikipedia MCC tables:
// mcc, mnc, brand, operator. Repeated header rows are skipped.
func parseTableOperators(data []byte, hasHeader bool) ([]model.OperatorRecord, error) {
	records, err := readAllCSV(data)
	if err != nil {
		return nil, err
	}
	if hasHeader && len(records) > 0 {
		records = records[1:]
	}
	return tableOperators(records), nil
}

func parseXLSXOperators(data []byte, sheet string, hasHeader bool) ([]model.OperatorRecord, error) {
	rows, err := readXLSXRows(bytes.NewReader(data), sheet, hasHeader)
	if err != nil {
		return nil, err
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i], _ = v.(string)
		}
		records = append(records, record)
	}
	return tableOperators(records), nil
}

func tableOperators(records [][]string) []model.OperatorRecord {
	var ops []model.OperatorRecord
	for _, line := range records {
		if len(line) < 4 {
			continue
		}
		mcc := strings.TrimSpace(line[0])
		if mcc == "" || strings.EqualFold(mcc, "MCC") {
			continue
		}
		ops = append(ops, model.OperatorRecord{
			MCC:      mcc,
			MNC:      strings.TrimSpace(line[1]),
			Brand:    strings.TrimSpace(line[2]),
			Operator: strings.TrimSpace(line[3]),
		})
	}
	return ops
}

// parseJSONOperators accepts an array (or {"operators": [...]}) of objects
// with mcc, mnc, operator and brand. Codes may be strings or numbers.
func parseJSONOperators(data []byte) ([]model.OperatorRecord, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to decode JSON: invalid document")
	}
	root := gjson.ParseBytes(data)
	if root.IsObject() {
		root = root.Get("operators")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("unexpected JSON structure")
	}

	var ops []model.OperatorRecord
	root.ForEach(func(_, item gjson.Result) bool {
		mcc := strings.TrimSpace(item.Get("mcc").String())
		mnc := strings.TrimSpace(item.Get("mnc").String())
		if mcc == "" || mnc == "" {
			return true
		}
		ops = append(ops, model.OperatorRecord{
			Operator: strings.TrimSpace(item.Get("operator").String()),
			Brand:    strings.TrimSpace(item.Get("brand").String()),
			MCC:      mcc,
			MNC:      mnc,
		})
		return true
	})
	return ops, nil
}
