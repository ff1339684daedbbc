package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func seedRows(t *testing.T, s store.Store, targetID int64, values []float64, start time.Time, step time.Duration) {
	t.Helper()
	for i, v := range values {
		row := models.MetricRow{
			TargetID: targetID, Timestamp: start.Add(time.Duration(i) * step),
			CPUUsagePercent: floatPtr(v), CollectionSuccess: true,
		}
		if _, err := s.InsertRows(context.Background(), []models.MetricRow{row}); err != nil {
			t.Fatalf("seed insert failed: %v", err)
		}
	}
}

func TestSeries_BucketsAndSummary(t *testing.T) {
	s := store.NewMemory()
	now := time.Now()
	seedRows(t, s, 1, []float64{10, 20, 30, 40, 50, 60, 70, 80}, now.Add(-50*time.Minute), 7*time.Minute)

	a := New(s)
	cd, err := a.Series(context.Background(), 1, FieldCPUUsage, Range1h, AggAvg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cd.Summary.Samples != 8 {
		t.Fatalf("expected 8 samples, got %d", cd.Summary.Samples)
	}
	if cd.Summary.Max != 80 || cd.Summary.Min != 10 {
		t.Fatalf("unexpected min/max: %+v", cd.Summary)
	}
}

func TestSeries_TrendUpForIncreasingValues(t *testing.T) {
	s := store.NewMemory()
	now := time.Now()
	seedRows(t, s, 1, []float64{10, 10, 10, 10, 90, 90, 90, 90}, now.Add(-50*time.Minute), 7*time.Minute)

	a := New(s)
	cd, err := a.Series(context.Background(), 1, FieldCPUUsage, Range1h, AggAvg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cd.Summary.Trend.Direction != "up" {
		t.Fatalf("expected trend up, got %+v", cd.Summary.Trend)
	}
}

func TestSeries_TrendStableWithFewerThanFourPoints(t *testing.T) {
	s := store.NewMemory()
	now := time.Now()
	seedRows(t, s, 1, []float64{10, 90}, now.Add(-10*time.Minute), 5*time.Minute)

	a := New(s)
	cd, err := a.Series(context.Background(), 1, FieldCPUUsage, Range1h, AggAvg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cd.Summary.Trend.Direction != "stable" || cd.Summary.Trend.Percent != 0 {
		t.Fatalf("expected stable/0 trend with <4 points, got %+v", cd.Summary.Trend)
	}
}

func TestDashboard_StatusDerivedFromLatestRow(t *testing.T) {
	s := store.NewMemory()
	now := time.Now()
	s.InsertRows(context.Background(), []models.MetricRow{{
		TargetID: 1, Timestamp: now, CollectionSuccess: true,
		CPUUsagePercent: floatPtr(95), MemoryUsagePercent: floatPtr(50), DiskUsagePercent: floatPtr(50),
	}})

	a := New(s)
	dash, err := a.Dashboard(context.Background(), 1, Range1h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dash.Status != StatusCritical {
		t.Fatalf("expected critical status (cpu>=90), got %s", dash.Status)
	}
}

func TestDashboard_UnknownWithNoData(t *testing.T) {
	s := store.NewMemory()
	a := New(s)
	dash, err := a.Dashboard(context.Background(), 42, Range1h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dash.Status != StatusUnknown {
		t.Fatalf("expected unknown status with no data, got %s", dash.Status)
	}
}

func TestSummary_CapsAtOneYear(t *testing.T) {
	s := store.NewMemory()
	a := New(s)
	to := time.Now()
	from := to.Add(-5 * 365 * 24 * time.Hour)
	totals, err := a.Summary(context.Background(), 1, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.Samples != 0 {
		t.Fatalf("expected 0 samples in empty store, got %d", totals.Samples)
	}
}
