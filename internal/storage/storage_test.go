package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/procwatch/internal/models"
)

var t0 = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func point(variable string, ts time.Time, v float64) models.ObservedPoint {
	return models.ObservedPoint{Variable: variable, Timestamp: ts, Value: v, Source: "plant.xlsx"}
}

func record(variable string, ts time.Time, anomaly bool) models.AnomalyRecord {
	return models.AnomalyRecord{
		Timestamp:          ts,
		Variable:           variable,
		Observed:           52.8,
		Yhat:               45.4,
		YhatLower:          42.7,
		YhatUpper:          48.1,
		Residual:           7.4,
		OutsideInterval:    anomaly,
		IsAnomaly:          anomaly,
		AnomalyScore:       87.04,
		PredictionErrorPct: 16.3,
		SourceTag:          "plant.xlsx",
	}
}

func seed(t *testing.T, s *Storage, points ...models.ObservedPoint) {
	t.Helper()
	if _, err := s.InsertPoints(context.Background(), points); err != nil {
		t.Fatalf("InsertPoints: %v", err)
	}
}

func TestStorage_InsertPointsIgnoresDuplicates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	n, err := s.InsertPoints(ctx, []models.ObservedPoint{point("A", t0, 1), point("B", t0, 2)})
	if err != nil {
		t.Fatalf("InsertPoints: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}
	n, err = s.InsertPoints(ctx, []models.ObservedPoint{point("A", t0, 9), point("A", t0.Add(time.Minute), 3)})
	if err != nil {
		t.Fatalf("InsertPoints: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted %d, want 1", n)
	}
}

func TestStorage_InsertPointsRejectsInvalid(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.InsertPoints(context.Background(), []models.ObservedPoint{point("", t0, 1)})
	if err == nil {
		t.Error("expected error for point without variable")
	}
}

func TestStorage_PointsAfterOrdering(t *testing.T) {
	s := newTestStorage(t)
	seed(t, s,
		point("B", t0.Add(time.Minute), 4),
		point("A", t0.Add(time.Minute), 3),
		point("B", t0, 2),
		point("A", t0, 1),
	)

	got, err := s.PointsAfter(context.Background(), t0.Add(-time.Second))
	if err != nil {
		t.Fatalf("PointsAfter: %v", err)
	}
	want := []float64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.Value != want[i] {
			t.Errorf("point %d value = %v, want %v", i, p.Value, want[i])
		}
	}
	if got[0].Source != "plant.xlsx" {
		t.Errorf("source = %q", got[0].Source)
	}

	got, err = s.PointsAfter(context.Background(), t0)
	if err != nil {
		t.Fatalf("PointsAfter: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("strictly-after filter returned %d points, want 2", len(got))
	}
}

func TestStorage_PointsAtAndTimestamps(t *testing.T) {
	s := newTestStorage(t)
	t1 := t0.Add(time.Minute)
	seed(t, s, point("A", t0, 1), point("B", t0, 2), point("A", t1, 3))

	at, err := s.PointsAt(context.Background(), t0)
	if err != nil {
		t.Fatalf("PointsAt: %v", err)
	}
	if len(at) != 2 || at[0].Variable != "A" || at[1].Variable != "B" {
		t.Errorf("PointsAt = %+v", at)
	}
	if !at[0].Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want %v", at[0].Timestamp, t0)
	}

	ts, err := s.TimestampsAfter(context.Background(), t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("TimestampsAfter: %v", err)
	}
	if len(ts) != 2 || !ts[0].Equal(t0) || !ts[1].Equal(t1) {
		t.Errorf("TimestampsAfter = %v", ts)
	}

	vars, err := s.Variables(context.Background())
	if err != nil {
		t.Fatalf("Variables: %v", err)
	}
	if len(vars) != 2 || vars[0] != "A" || vars[1] != "B" {
		t.Errorf("Variables = %v", vars)
	}
}

func TestStorage_History(t *testing.T) {
	s := newTestStorage(t)
	for i := 0; i < 5; i++ {
		seed(t, s, point("A", t0.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	seed(t, s, point("B", t0, 10))

	all, err := s.History(context.Background(), "A", time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("full history = %d points, want 5", len(all))
	}

	recent, err := s.History(context.Background(), "A", t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("windowed history = %d points, want 2", len(recent))
	}
}

func TestStorage_AppendRecordsDeduplicates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	n, err := s.AppendRecords(ctx, []models.AnomalyRecord{record("A", t0, true), record("B", t0, false)})
	if err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}

	n, err = s.AppendRecords(ctx, []models.AnomalyRecord{record("A", t0, false)})
	if err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	if n != 0 {
		t.Errorf("duplicate key inserted %d rows", n)
	}

	all, err := s.ListRecords(ctx, time.Time{}, false)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	if !all[0].IsAnomaly {
		t.Error("first write must win on duplicate key")
	}
}

func TestStorage_AnomaliesView(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, err := s.AppendRecords(ctx, []models.AnomalyRecord{
		record("A", t0, true),
		record("B", t0, false),
		record("A", t0.Add(time.Minute), false),
	})
	if err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}

	got, err := s.ListRecords(ctx, time.Time{}, true)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(got) != 1 || got[0].Variable != "A" || !got[0].Timestamp.Equal(t0) {
		t.Errorf("anomalies view = %+v", got)
	}
	if got[0].AnomalyScore != 87.04 || got[0].SourceTag != "plant.xlsx" {
		t.Errorf("record fields not round-tripped: %+v", got[0])
	}
}

func TestStorage_UndefinedErrorPctStoredAsNull(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	r := record("A", t0, false)
	r.Yhat = 0
	r.PredictionErrorPct = math.NaN()
	if _, err := s.AppendRecords(ctx, []models.AnomalyRecord{r}); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}

	var nulls int
	if err := s.db.Get(&nulls, `SELECT COUNT(*) FROM anomaly_records WHERE prediction_error_pct IS NULL`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if nulls != 1 {
		t.Errorf("null error pct rows = %d, want 1", nulls)
	}

	got, err := s.ListRecords(ctx, time.Time{}, false)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if got[0].ErrorPctDefined() {
		t.Errorf("error pct = %v, want NaN", got[0].PredictionErrorPct)
	}
}

func TestStorage_MaxProcessedAndKeys(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, ok, err := s.MaxProcessedTimestamp(ctx); err != nil || ok {
		t.Fatalf("empty sink: ok=%v err=%v", ok, err)
	}

	t1 := t0.Add(time.Minute)
	if _, err := s.AppendRecords(ctx, []models.AnomalyRecord{record("A", t0, false), record("A", t1, false)}); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}

	latest, ok, err := s.MaxProcessedTimestamp(ctx)
	if err != nil || !ok {
		t.Fatalf("MaxProcessedTimestamp: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(t1) {
		t.Errorf("max = %v, want %v", latest, t1)
	}

	keys, err := s.ProcessedKeys(ctx, t0)
	if err != nil {
		t.Fatalf("ProcessedKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != (models.Key{Variable: "A", Timestamp: t1}) {
		t.Errorf("ProcessedKeys = %+v", keys)
	}
}

func TestStorage_WatermarkForwardOnly(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, ok, err := s.LoadWatermark(ctx, "batch"); err != nil || ok {
		t.Fatalf("missing watermark: ok=%v err=%v", ok, err)
	}

	t1 := t0.Add(time.Hour)
	if err := s.SaveWatermark(ctx, "batch", t1); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	if err := s.SaveWatermark(ctx, "batch", t0); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}

	got, ok, err := s.LoadWatermark(ctx, "batch")
	if err != nil || !ok {
		t.Fatalf("LoadWatermark: ok=%v err=%v", ok, err)
	}
	if !got.Equal(t1) {
		t.Errorf("watermark moved backwards: %v, want %v", got, t1)
	}
}

func TestStorage_SourceErrorsAreWrapped(t *testing.T) {
	s := newTestStorage(t)
	_ = s.Close()

	_, err := s.PointsAfter(context.Background(), t0)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestStorage_Ping(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on open storage: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail after Close")
	}
}
