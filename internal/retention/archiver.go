package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

// archiveDirPerm/archiveFilePerm match the teacher's output package's
// conservative file permissions for on-disk artifacts.
const (
	archiveDirPerm  = 0o750
	archiveFilePerm = 0o640
)

// Result is cleanup()'s return shape (§4.8).
type Result struct {
	Cleaned      int
	Archived     int
	CleanupTimeS float64
	Errors       []string
}

// ArchiveSummary is the archive_summary.json sidecar written alongside a
// batch of archived JSON files (§4.8).
type ArchiveSummary struct {
	Policy      PolicyName `json:"policy"`
	GeneratedAt time.Time  `json:"generated_at"`
	Batches     []string   `json:"batches"`
	RowCount    int        `json:"row_count"`
}

// Archiver is the Retention/Archiver component (C8). archiveDir is the
// root directory JSON archives are written under; flock.New's advisory
// lock over a sentinel file inside it guards against daily_data_cleanup
// and a concurrent manual cleanup() call interleaving writes to the same
// dated directory, the way the spec's archive layout assumes one writer
// at a time per batch.
type Archiver struct {
	store      store.Store
	archiveDir string
}

// New constructs an Archiver. archiveDir is not touched here; it is
// created on the first archive write.
func New(s store.Store, archiveDir string) *Archiver {
	return &Archiver{store: s, archiveDir: archiveDir}
}

// Cleanup runs the §4.8 algorithm: optionally archive rows older than the
// policy's cutoff into dated JSON batches, then delete them from the
// store.
func (a *Archiver) Cleanup(ctx context.Context, policy Policy) (Result, error) {
	started := time.Now()
	result := Result{}

	if policy.BatchSize <= 0 {
		policy.BatchSize = defaultBatchSize
	}
	cutoff := policy.cutoff(started)

	filter := store.Filter{To: cutoff, OnlyFailed: policy.OnlyFailed}
	rows, err := a.store.QueryRows(ctx, filter)
	if err != nil {
		return Result{}, cwerrors.Storage("retention.cleanup", "", err)
	}

	if policy.ArchiveBeforeDelete && len(rows) > 0 {
		archived, archErrs := a.archiveRows(rows, policy, started)
		result.Archived = archived
		result.Errors = append(result.Errors, archErrs...)
	}

	deleted, err := a.store.DeleteRows(ctx, filter)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Cleaned = deleted
	result.CleanupTimeS = time.Since(started).Seconds()
	return result, nil
}

// archiveRows writes rows in policy.BatchSize chunks as
// metrics_YYYYMMDD/batch_<ulid>.json, plus one archive_summary.json
// sidecar. The dated directory name reflects the cleanup run date, since
// archive pruning (§4.8) keys off that directory's date prefix, not the
// age of the data inside it.
func (a *Archiver) archiveRows(rows []models.MetricRow, policy Policy, runAt time.Time) (int, []string) {
	dir := filepath.Join(a.archiveDir, "metrics_"+runAt.Format("20060102"))
	if err := os.MkdirAll(dir, archiveDirPerm); err != nil {
		return 0, []string{fmt.Sprintf("mkdir %s: %v", dir, err)}
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	if err := lock.Lock(); err != nil {
		return 0, []string{fmt.Sprintf("lock %s: %v", dir, err)}
	}
	defer lock.Unlock()

	var errs []string
	var batches []string
	archivedCount := 0

	for start := 0; start < len(rows); start += policy.BatchSize {
		end := start + policy.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		name := "batch_" + ulid.Make().String() + ".json"
		path := filepath.Join(dir, name)
		data, err := json.Marshal(chunk)
		if err != nil {
			errs = append(errs, fmt.Sprintf("marshal %s: %v", name, err))
			continue
		}
		if err := os.WriteFile(path, data, archiveFilePerm); err != nil {
			errs = append(errs, fmt.Sprintf("write %s: %v", path, err))
			continue
		}
		batches = append(batches, name)
		archivedCount += len(chunk)
	}

	summary := ArchiveSummary{Policy: policy.Name, GeneratedAt: runAt.UTC(), Batches: batches, RowCount: archivedCount}
	if data, err := json.MarshalIndent(summary, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "archive_summary.json"), data, archiveFilePerm)
	} else {
		errs = append(errs, fmt.Sprintf("marshal archive_summary.json: %v", err))
	}

	return archivedCount, errs
}

// datedDirPrefix extracts the YYYYMMDD date a "metrics_YYYYMMDD" directory
// name encodes; ok is false for anything that doesn't match the layout.
func datedDirPrefix(name string) (time.Time, bool) {
	const prefix = "metrics_"
	if len(name) != len(prefix)+8 || name[:len(prefix)] != prefix {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", name[len(prefix):])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PruneArchives deletes archive directories whose date prefix is older
// than olderThan (default 90d per §4.8), relative to now.
func (a *Archiver) PruneArchives(now time.Time, olderThan time.Duration) (pruned []string, err error) {
	if olderThan <= 0 {
		olderThan = 90 * 24 * time.Hour
	}
	cutoff := now.Add(-olderThan)

	entries, err := os.ReadDir(a.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cwerrors.Storage("retention.prune_archives", "", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		dirDate, ok := datedDirPrefix(name)
		if !ok || !dirDate.Before(cutoff) {
			continue
		}
		path := filepath.Join(a.archiveDir, name)
		if err := os.RemoveAll(path); err != nil {
			return pruned, cwerrors.Storage("retention.prune_archives", name, err)
		}
		pruned = append(pruned, name)
	}
	return pruned, nil
}
