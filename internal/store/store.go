// Package store defines the persistence boundary consumed by the Batch
// Writer (C6), Aggregator (C7) and Retention/Archiver (C8). The relational
// schema and ORM mapping are explicitly out of scope (spec.md §1) — this
// package only ships the Go contract plus an in-memory reference
// implementation suitable for tests and for the single-process deployment
// described in §1 ("single process owns the scheduler and push state").
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwatcher/cwatcher/internal/models"
)

// InsertStats summarizes one bulk insert (§4.6's flush() return shape).
type InsertStats struct {
	Total      int
	Valid      int
	Invalid    int
	Duplicates int
	Errors     []string
}

// Filter selects MetricRows for a query or a deletion predicate.
type Filter struct {
	TargetID  int64 // 0 means "any target"
	From      time.Time
	To        time.Time
	OnlyFailed bool // Emergency retention policy: collection_success=false only
}

func (f Filter) matches(r models.MetricRow) bool {
	if f.TargetID != 0 && r.TargetID != f.TargetID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.OnlyFailed && r.CollectionSuccess {
		return false
	}
	return true
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use; the Batch Writer is the only writer but the Aggregator
// and Retention/Archiver read and delete concurrently with it.
type Store interface {
	InsertRows(ctx context.Context, rows []models.MetricRow) (InsertStats, error)
	QueryRows(ctx context.Context, f Filter) ([]models.MetricRow, error)
	DeleteRows(ctx context.Context, f Filter) (int, error)
	LatestRow(ctx context.Context, targetID int64) (models.MetricRow, bool, error)

	UpsertTarget(ctx context.Context, t models.Target) (int64, error)
	GetTarget(ctx context.Context, id int64) (models.Target, bool, error)
	ListTargets(ctx context.Context, onlyActive bool) ([]models.Target, error)
	DeleteTarget(ctx context.Context, id int64) error

	PutSystemInfo(ctx context.Context, info models.SystemInfo) error
	GetSystemInfo(ctx context.Context, targetID int64) (models.SystemInfo, bool, error)

	// PutSecurityEvent persists one security event under a distinct kind
	// from metric rows (SPEC_FULL.md §C "critical persistence"). The
	// Security Gate only calls this for critical-severity events; the
	// ring buffer in internal/security covers everything else.
	PutSecurityEvent(ctx context.Context, ev models.SecurityEvent) error
	ListSecurityEvents(ctx context.Context, minSeverity models.Severity) ([]models.SecurityEvent, error)

	// Size reports the store's on-disk (or in-memory) footprint in bytes;
	// resolves the duplicate get_storage_status ambiguity noted in
	// SPEC_FULL.md §E.2 by being the single DB-size source the Retention
	// component composes with archive-directory size.
	Size(ctx context.Context) (int64, error)
}

// Memory is an in-memory Store, safe for concurrent use via a single
// RWMutex the way the teacher guards ClientMetrics with one mutex per
// component rather than fine-grained locks.
type Memory struct {
	mu       sync.RWMutex
	rows     []models.MetricRow
	targets  map[int64]models.Target
	info     map[int64]models.SystemInfo
	events   []models.SecurityEvent
	nextID   int64
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		targets: make(map[int64]models.Target),
		info:    make(map[int64]models.SystemInfo),
	}
}

func (m *Memory) InsertRows(_ context.Context, rows []models.MetricRow) (InsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := InsertStats{Total: len(rows)}
	for _, r := range rows {
		if r.TargetID == 0 || r.Timestamp.IsZero() {
			stats.Invalid++
			stats.Errors = append(stats.Errors, "row missing target id or timestamp")
			continue
		}
		m.rows = append(m.rows, r)
		stats.Valid++
	}
	return stats, nil
}

func (m *Memory) QueryRows(_ context.Context, f Filter) ([]models.MetricRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MetricRow, 0)
	for _, r := range m.rows {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) DeleteRows(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0:0]
	deleted := 0
	for _, r := range m.rows {
		if f.matches(r) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return deleted, nil
}

func (m *Memory) LatestRow(_ context.Context, targetID int64) (models.MetricRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest models.MetricRow
	found := false
	for _, r := range m.rows {
		if r.TargetID != targetID {
			continue
		}
		if !found || r.Timestamp.After(latest.Timestamp) {
			latest = r
			found = true
		}
	}
	return latest, found, nil
}

func (m *Memory) UpsertTarget(_ context.Context, t models.Target) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == 0 {
		m.nextID++
		t.ID = m.nextID
	}
	m.targets[t.ID] = t
	return t.ID, nil
}

func (m *Memory) GetTarget(_ context.Context, id int64) (models.Target, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	return t, ok, nil
}

func (m *Memory) ListTargets(_ context.Context, onlyActive bool) ([]models.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if onlyActive && !t.MonitoringEnabled {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteTarget(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, id)
	delete(m.info, id)
	kept := m.rows[:0:0]
	for _, r := range m.rows {
		if r.TargetID != id {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	return nil
}

func (m *Memory) PutSystemInfo(_ context.Context, info models.SystemInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[info.TargetID] = info
	return nil
}

func (m *Memory) GetSystemInfo(_ context.Context, targetID int64) (models.SystemInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info[targetID]
	return info, ok, nil
}

func (m *Memory) PutSecurityEvent(_ context.Context, ev models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

var severityRank = map[models.Severity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

func (m *Memory) ListSecurityEvents(_ context.Context, minSeverity models.Severity) ([]models.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	min := severityRank[minSeverity]
	out := make([]models.SecurityEvent, 0)
	for _, ev := range m.events {
		if severityRank[ev.Severity] >= min {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) Size(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Rough footprint estimate: a fixed per-row cost, matching the
	// illustrative nature of an in-memory stand-in for a real engine.
	const perRow = 256
	return int64(len(m.rows) * perRow), nil
}
