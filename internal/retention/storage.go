package retention

import (
	"context"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
)

// StorageStatus is the single get_storage_status()/StorageInfo() return
// shape (SPEC_FULL.md §E.2 resolves the spec's duplicate definition by
// merging both into this one method).
type StorageStatus struct {
	TotalBytes   int64
	FreeBytes    int64
	DBBytes      int64
	ArchiveBytes int64
}

// StorageInfo reports disk free/total space for the archive volume,
// the Store's own size (delegated to Store.Size, so the DB size source
// is unambiguous), and the archive directory's total size via a
// du-style walk.
func (a *Archiver) StorageInfo(ctx context.Context) (StorageStatus, error) {
	dbBytes, err := a.store.Size(ctx)
	if err != nil {
		return StorageStatus{}, cwerrors.Storage("retention.storage_info", "", err)
	}

	archiveBytes, err := dirSize(a.archiveDir)
	if err != nil {
		return StorageStatus{}, cwerrors.Storage("retention.storage_info", a.archiveDir, err)
	}

	total, free, err := diskSpace(a.archiveDir)
	if err != nil {
		return StorageStatus{}, cwerrors.Storage("retention.storage_info", a.archiveDir, err)
	}

	return StorageStatus{TotalBytes: total, FreeBytes: free, DBBytes: dbBytes, ArchiveBytes: archiveBytes}, nil
}

// dirSize walks root summing regular file sizes. A missing root is not an
// error: it simply has not archived anything yet.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return nil // root itself absent
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, nil
	}
	return total, nil
}

// diskSpace reports the filesystem total/free bytes underlying path via
// statfs, the same syscall-level approach the teacher uses in its output
// package for disk-space-aware file writes.
func diskSpace(path string) (total, free int64, err error) {
	var stat syscall.Statfs_t
	if statErr := syscall.Statfs(path, &stat); statErr != nil {
		// Archive directory not created yet (nothing archived so far) —
		// fall back to the current volume, which is where it would land.
		if statErr := syscall.Statfs(".", &stat); statErr != nil {
			return 0, 0, statErr
		}
	}
	total = int64(stat.Blocks) * int64(stat.Bsize)
	free = int64(stat.Bavail) * int64(stat.Bsize)
	return total, free, nil
}
