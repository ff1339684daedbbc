package retention

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func seed(t *testing.T, s store.Store, n int, age time.Duration, success bool) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		row := models.MetricRow{
			TargetID: 1, Timestamp: now.Add(-age).Add(time.Duration(i) * time.Second),
			CPUUsagePercent: floatPtr(10), CollectionSuccess: success,
		}
		if _, err := s.InsertRows(context.Background(), []models.MetricRow{row}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestCleanup_BasicPolicyArchivesAndDeletesOldRows(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, 5, 60*24*time.Hour, true)  // old: past 30d cutoff
	seed(t, s, 3, time.Hour, true)        // recent: kept

	dir := t.TempDir()
	a := New(s, dir)
	res, err := a.Cleanup(context.Background(), NamedPolicy(PolicyBasic))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Cleaned != 5 {
		t.Fatalf("expected 5 cleaned rows, got %d", res.Cleaned)
	}
	if res.Archived != 5 {
		t.Fatalf("expected 5 archived rows, got %d", res.Archived)
	}

	remaining, _ := s.QueryRows(context.Background(), store.Filter{})
	if len(remaining) != 3 {
		t.Fatalf("expected 3 rows remaining, got %d", len(remaining))
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected an archive directory to be created, err=%v entries=%v", err, entries)
	}

	summaryPath := filepath.Join(dir, entries[0].Name(), "archive_summary.json")
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("expected archive_summary.json: %v", err)
	}
	var summary ArchiveSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.RowCount != 5 {
		t.Fatalf("expected summary row_count=5, got %d", summary.RowCount)
	}
}

func TestCleanup_AggressivePolicyDoesNotArchive(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, 4, 10*24*time.Hour, true)

	dir := t.TempDir()
	a := New(s, dir)
	res, err := a.Cleanup(context.Background(), NamedPolicy(PolicyAggressive))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Cleaned != 4 || res.Archived != 0 {
		t.Fatalf("expected cleaned=4 archived=0, got %+v", res)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no archive directories for aggressive policy")
	}
}

func TestCleanup_EmergencyPolicyOnlyTargetsFailedRows(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, 2, 2*24*time.Hour, false) // old + failed
	seed(t, s, 2, 2*24*time.Hour, true)  // old + succeeded

	dir := t.TempDir()
	a := New(s, dir)
	res, err := a.Cleanup(context.Background(), NamedPolicy(PolicyEmergency))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Cleaned != 2 {
		t.Fatalf("expected only the 2 failed rows cleaned, got %d", res.Cleaned)
	}
	remaining, _ := s.QueryRows(context.Background(), store.Filter{})
	if len(remaining) != 2 {
		t.Fatalf("expected 2 succeeded rows to remain, got %d", len(remaining))
	}
}

func TestPruneArchives_RemovesOnlyOldDatedDirectories(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "metrics_20200101")
	recent := filepath.Join(dir, "metrics_"+time.Now().Format("20060102"))
	if err := os.MkdirAll(old, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(recent, 0o750); err != nil {
		t.Fatal(err)
	}

	a := New(store.NewMemory(), dir)
	pruned, err := a.PruneArchives(time.Now(), 90*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "metrics_20200101" {
		t.Fatalf("expected only the old dir pruned, got %v", pruned)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("expected recent dir to survive: %v", err)
	}
}

func TestStorageInfo_CombinesDBAndArchiveSize(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, 50, time.Hour, true)

	dir := t.TempDir()
	a := New(s, dir)
	a.Cleanup(context.Background(), Policy{Name: PolicyBasic, RetentionDays: -1, ArchiveBeforeDelete: true, BatchSize: 10})

	info, err := a.StorageInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ArchiveBytes <= 0 {
		t.Fatalf("expected non-zero archive bytes after archiving, got %d", info.ArchiveBytes)
	}
}
