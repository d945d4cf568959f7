package pipeline

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"go-tower-pipeline/internal/model"
)

func towerRow(fields ...string) model.RawRow {
	return model.RowFromStrings(fields)
}

func TestClassifyRow(t *testing.T) {
	cases := []struct {
		n    int
		want RowShape
	}{
		{14, ShapeCanonical},
		{13, ShapeShort},
		{12, ShapeInvalid},
		{15, ShapeInvalid},
		{0, ShapeInvalid},
	}
	for _, tc := range cases {
		row := make(model.RawRow, tc.n)
		if got := ClassifyRow(row); got != tc.want {
			t.Errorf("ClassifyRow(len %d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestNormalizeCanonicalRow(t *testing.T) {
	row := towerRow("GSM", "310", "260", "1", "2", "0", "-74.0", "40.0", "1000", "5", "1", "1459813000", "1459813001", "-80")
	res := Normalize([]model.RawRow{row}, NormalizeOptions{})

	if len(res.Records) != 1 || res.Excluded != 0 {
		t.Fatalf("got %d records, %d excluded", len(res.Records), res.Excluded)
	}
	rec := res.Records[0]
	if rec.Radio != "GSM" {
		t.Errorf("radio = %q", rec.Radio)
	}
	if rec.Lat != 40.0 || rec.Lon != -74.0 {
		t.Errorf("lat/lon = %v/%v", rec.Lat, rec.Lon)
	}
	if f, ok := rec.MCC.Float(); !ok || f != 310 {
		t.Errorf("mcc = %v (%v)", f, ok)
	}
	if f, ok := rec.AverageSignal.Float(); !ok || f != -80 {
		t.Errorf("averageSignal = %v (%v)", f, ok)
	}
	if got := rec.Network().String(); got != "310-260" {
		t.Errorf("network = %s", got)
	}
}

func TestNormalizePadsShortRow(t *testing.T) {
	row := towerRow("UMTS", "234", "10", "1", "2", "0", "-0.1", "51.5", "1000", "5", "1", "1", "2")
	res := Normalize([]model.RawRow{row}, NormalizeOptions{})

	if len(res.Records) != 1 {
		t.Fatalf("short row excluded: %+v", res)
	}
	if res.Short != 1 {
		t.Errorf("short = %d, want 1", res.Short)
	}
	if f, ok := res.Records[0].AverageSignal.Float(); !ok || f != 0 {
		t.Errorf("averageSignal = %v (%v), want 0", f, ok)
	}
}

func TestNormalizeKeepsNonNumericText(t *testing.T) {
	row := towerRow("LTE", "310", "26O", "x", "2", "0", "-74.0", "40.0", "", "5", "1", "1", "2", "0")
	res := Normalize([]model.RawRow{row}, NormalizeOptions{})

	if len(res.Records) != 1 {
		t.Fatalf("row excluded without RequireNetwork")
	}
	rec := res.Records[0]
	if rec.MNC.IsNumeric() || rec.MNC.String() != "26O" {
		t.Errorf("mnc = %q numeric=%v", rec.MNC.String(), rec.MNC.IsNumeric())
	}
	if rec.Area.String() != "x" {
		t.Errorf("area = %q", rec.Area.String())
	}
	if rec.Range.IsNumeric() {
		t.Errorf("empty range should stay text")
	}
}

func TestNormalizeExclusions(t *testing.T) {
	rows := []model.RawRow{
		towerRow("GSM", "310", "260"),                                                              // bad shape
		towerRow("GSM", "310", "260", "1", "2", "0", "abc", "40.0", "1", "1", "1", "1", "1", "1"),  // bad lon
		towerRow("GSM", "310", "260", "1", "2", "0", "-74.0", "", "1", "1", "1", "1", "1", "1"),    // empty lat
		towerRow("GSM", "310", "260", "1", "2", "0", "-74.0", "NaN", "1", "1", "1", "1", "1", "1"), // NaN lat
		towerRow("GSM", "310", "260", "1", "2", "0", "-74.0", "40.0", "1", "1", "1", "1", "1", "1"),
	}
	res := Normalize(rows, NormalizeOptions{})

	if res.Total != 5 || len(res.Records) != 1 || res.Excluded != 4 {
		t.Fatalf("total=%d records=%d excluded=%d", res.Total, len(res.Records), res.Excluded)
	}
	if res.Reasons[ExcludedShape] != 1 || res.Reasons[ExcludedCoordinates] != 3 {
		t.Fatalf("reasons = %v", res.Reasons)
	}
	if counts := res.ReasonCounts(); counts["bad_coordinates"] != 3 {
		t.Fatalf("ReasonCounts = %v", counts)
	}
}

func TestNormalizeNativeNumbers(t *testing.T) {
	row := model.RawRow{"GSM", 310, 260, 1, 2, 0, -74.0, 40.0, 1000, 5, 1, 1, 2, math.NaN()}
	res := Normalize([]model.RawRow{row}, NormalizeOptions{})

	if len(res.Records) != 1 {
		t.Fatalf("native row excluded: %+v", res.Reasons)
	}
	if res.Records[0].AverageSignal.IsFinite() {
		t.Errorf("NaN averageSignal reported finite")
	}
}

func TestNormalizeRequireNetwork(t *testing.T) {
	rows := []model.RawRow{
		towerRow("GSM", "310", "", "1", "2", "0", "-74.0", "40.0", "1", "1", "1", "1", "1", "1"),
		towerRow("GSM", "310", "260", "1", "2", "0", "-74.0", "40.0", "1", "1", "1", "1", "1", "1"),
	}

	loose := Normalize(rows, NormalizeOptions{})
	if len(loose.Records) != 2 {
		t.Fatalf("loose normalize kept %d records", len(loose.Records))
	}

	strict := Normalize(rows, NormalizeOptions{RequireNetwork: true})
	if len(strict.Records) != 1 || strict.Reasons[ExcludedNetwork] != 1 {
		t.Fatalf("strict normalize: records=%d reasons=%v", len(strict.Records), strict.Reasons)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	res := Normalize(nil, NormalizeOptions{})
	if res.Total != 0 || len(res.Records) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNormalizeConcurrentMatchesSequential(t *testing.T) {
	rows := make([]model.RawRow, 0, 4*minRowsPerWorker+7)
	for i := 0; i < cap(rows); i++ {
		lat := strconv.FormatFloat(float64(i%90), 'f', -1, 64)
		switch i % 5 {
		case 0:
			rows = append(rows, towerRow("GSM", "310"))
		case 1:
			rows = append(rows, towerRow("GSM", "310", "260", "1", "2", "0", "x", lat, "1", "1", "1", "1", "1"))
		default:
			rows = append(rows, towerRow("LTE", "234", "10", "1", strconv.Itoa(i), "0", "-0.1", lat, "1", "1", "1", "1", "1", "-70"))
		}
	}

	want := Normalize(rows, NormalizeOptions{})
	got, err := NormalizeConcurrent(context.Background(), rows, NormalizeOptions{}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Records) != len(want.Records) || got.Excluded != want.Excluded || got.Total != want.Total {
		t.Fatalf("got %d/%d/%d, want %d/%d/%d", len(got.Records), got.Excluded, got.Total, len(want.Records), want.Excluded, want.Total)
	}
	for i := range want.Records {
		if got.Records[i].Cell.String() != want.Records[i].Cell.String() {
			t.Fatalf("record %d out of order", i)
		}
	}
	for reason, n := range want.Reasons {
		if got.Reasons[reason] != n {
			t.Fatalf("reason %s = %d, want %d", reason, got.Reasons[reason], n)
		}
	}
}

func TestNormalizeConcurrentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NormalizeConcurrent(ctx, nil, NormalizeOptions{}, 8); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
