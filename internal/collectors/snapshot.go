// Package collectors implements the four Metric Collectors (C4): cpu,
// memory, disk and network. Each issues its command set in parallel
// through C3 and folds the results into a models.MetricSample.
//
// The per-target previous-snapshot store (needed for CPU/diskstats/netdev
// rate computation) is adapted from the teacher's internal/variables.Store
// — a small keyed value store — generalized from per-worker string
// variables to per-target typed snapshots guarded by one mutex instead of
// being assumed single-goroutine.
package collectors

import (
	"sync"
	"time"
)

// cpuSnapshot is the previous /proc/stat cpu-line sample for one target.
type cpuSnapshot struct {
	total, idle int64
	at          time.Time
}

// diskSnapshot is the previous /proc/diskstats aggregate sample.
type diskSnapshot struct {
	readSectors, writeSectors int64
	at                        time.Time
}

// netSnapshot is the previous /proc/net/dev sample for the primary interface.
type netSnapshot struct {
	rxBytes, txBytes int64
	at               time.Time
}

// SnapshotStore holds the previous sample per target per metric kind,
// mutex-guarded since collectors for different targets run concurrently.
type SnapshotStore struct {
	mu   sync.Mutex
	cpu  map[int64]cpuSnapshot
	disk map[int64]diskSnapshot
	net  map[int64]netSnapshot
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		cpu:  make(map[int64]cpuSnapshot),
		disk: make(map[int64]diskSnapshot),
		net:  make(map[int64]netSnapshot),
	}
}

func (s *SnapshotStore) swapCPU(targetID int64, total, idle int64, now time.Time) (cpuSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.cpu[targetID]
	s.cpu[targetID] = cpuSnapshot{total: total, idle: idle, at: now}
	return prev, ok
}

func (s *SnapshotStore) swapDisk(targetID int64, readSectors, writeSectors int64, now time.Time) (diskSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.disk[targetID]
	s.disk[targetID] = diskSnapshot{readSectors: readSectors, writeSectors: writeSectors, at: now}
	return prev, ok
}

func (s *SnapshotStore) swapNet(targetID int64, rx, tx int64, now time.Time) (netSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.net[targetID]
	s.net[targetID] = netSnapshot{rxBytes: rx, txBytes: tx, at: now}
	return prev, ok
}
