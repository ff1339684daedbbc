// Package coordinator implements the Coordinator (C12): the mode selector
// that watches system load and task failure counts and adjusts the
// Scheduler's (C11) task spacing/enablement, per spec.md §4.12.
//
// Grounded on internal/threshold's warning/critical two-tier comparison
// (the same shape used for C2's per-metric alert levels) generalized from
// one metric to a vote across three independent signals, and on
// internal/clientmetrics.Collector for the periodic-snapshot-then-decide
// loop shape.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwatcher/cwatcher/internal/logging"
)

// Mode is the Coordinator's global posture (§4.12).
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeHighLoad  Mode = "high_load"
	ModeEmergency Mode = "emergency"
)

// tickInterval is §4.12's observation cadence.
const tickInterval = 30 * time.Second

// highLoadBufferFraction/highLoadConnections/highLoadPendingTasks are the
// three HighLoad signals; two of three being true triggers HighLoad (§4.12).
const (
	highLoadBufferFraction = 0.80
	highLoadConnections    = 50
	highLoadPendingTasks   = 10
)

// emergencyFailureThreshold is the per-task consecutive-failure count that
// triggers Emergency mode (§4.12: "any task at ≥3 consecutive failures").
const emergencyFailureThreshold = 3

// highLoadDelay is the one-shot spacing widening applied to every task's
// next run on transition into HighLoad (§4.12's "delays next runs by up
// to 60s" — applied once per entry rather than every tick, so repeated
// ticks in a sustained HighLoad period don't drift task schedules without
// bound).
const highLoadDelay = 60 * time.Second

// conflictDelay is applied to the lower-priority task of a detected
// conflict or violated dependency edge (§4.12).
const conflictDelay = 60 * time.Second

// conflictWindow is how close two tasks' next-run times must be to count
// as "detected in the next-run window" (§4.12).
const conflictWindow = 5 * time.Second

// criticalTasks are kept enabled even in Emergency mode (§4.12:
// "keeping collection + push").
var criticalTasks = map[string]bool{
	"monitoring_collection": true,
	"websocket_push":        true,
}

// nonCriticalTasks are disabled in Emergency mode (§4.12: "storage_monitor,
// cleanups").
var nonCriticalTasks = []string{"storage_monitor", "daily_data_cleanup", "weekly_archive_cleanup"}

// taskPriority ranks tasks for conflict resolution: lower rank runs
// undisturbed, higher rank is the one delayed. Unranked tasks sort last
// (lowest priority). Order follows §4.11's default table, collection and
// push first.
var taskPriority = map[string]int{
	"monitoring_collection":  0,
	"websocket_push":         1,
	"system_info_update":     2,
	"buffer_flush":           3,
	"system_health_check":    4,
	"storage_monitor":        5,
	"daily_data_cleanup":     6,
	"weekly_archive_cleanup": 7,
}

// edge is a static dependency or conflict relationship between two task
// ids (§4.12). For a dependency, First must run before Second; for a
// conflict, First and Second must not land in the same next-run window.
type edge struct{ First, Second string }

var dependencyEdges = []edge{
	{First: "monitoring_collection", Second: "websocket_push"},
	{First: "daily_data_cleanup", Second: "weekly_archive_cleanup"},
}

var conflictEdges = []edge{
	{First: "monitoring_collection", Second: "system_info_update"},
	{First: "buffer_flush", Second: "daily_data_cleanup"},
	{First: "buffer_flush", Second: "weekly_archive_cleanup"},
}

// LoadSnapshot is the three independent signals the Coordinator votes on.
type LoadSnapshot struct {
	BufferFraction float64 // C6 buffer depth / target capacity, 0..1+
	Connections    int     // C9 live WebSocket connections
	PendingTasks   int     // tasks currently due but not yet started
}

// LoadProbe supplies the current LoadSnapshot.
type LoadProbe interface {
	Snapshot() LoadSnapshot
}

// SchedulerView narrows *scheduler.Scheduler to what the Coordinator
// needs, the same narrow-interface-for-testability idiom used throughout
// (collectors.Runner, push.Broadcaster).
type SchedulerView interface {
	TaskIDs() []string
	ConsecutiveFailures(taskID string) (int, bool)
	NextRun(taskID string) (time.Time, bool)
	DelayNextRun(taskID string, by time.Duration) bool
	Enable(taskID string) bool
	Disable(taskID string) bool
	Enabled(taskID string) (bool, bool)
}

// Coordinator is the C12 component.
type Coordinator struct {
	sched SchedulerView
	probe LoadProbe
	log   logging.Logger

	mu   sync.Mutex
	mode Mode
}

// New constructs a Coordinator in Normal mode.
func New(sched SchedulerView, probe LoadProbe, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NewStderr()
	}
	return &Coordinator{sched: sched, probe: probe, log: log, mode: ModeNormal}
}

// Mode reports the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Run blocks, evaluating mode and conflicts every tickInterval, until ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs one observe-decide-act cycle. Exported so tests and an
// on-demand admin trigger can drive it without waiting for the ticker.
func (c *Coordinator) Tick() {
	snap := c.probe.Snapshot()
	newMode := c.decide(snap)

	c.mu.Lock()
	oldMode := c.mode
	c.mode = newMode
	c.mu.Unlock()

	if oldMode != newMode {
		c.log.Infof("coordinator: mode %s -> %s", oldMode, newMode)
		c.applyTransition(oldMode, newMode)
	}

	c.resolveConflicts()
}

// decide implements §4.12's mode selection.
func (c *Coordinator) decide(snap LoadSnapshot) Mode {
	for _, id := range c.sched.TaskIDs() {
		if fails, ok := c.sched.ConsecutiveFailures(id); ok && fails >= emergencyFailureThreshold {
			return ModeEmergency
		}
	}

	signals := 0
	if snap.BufferFraction > highLoadBufferFraction {
		signals++
	}
	if snap.Connections > highLoadConnections {
		signals++
	}
	if snap.PendingTasks > highLoadPendingTasks {
		signals++
	}
	if signals >= 2 {
		return ModeHighLoad
	}
	return ModeNormal
}

func (c *Coordinator) applyTransition(old, updated Mode) {
	switch updated {
	case ModeEmergency:
		for _, id := range nonCriticalTasks {
			c.sched.Disable(id)
		}
	case ModeHighLoad:
		for _, id := range c.sched.TaskIDs() {
			c.sched.DelayNextRun(id, highLoadDelay)
		}
	case ModeNormal:
		if old == ModeEmergency {
			for _, id := range nonCriticalTasks {
				c.sched.Enable(id)
			}
		}
	}
}

// resolveConflicts delays the lower-priority side of any dependency or
// conflict edge whose two tasks' next runs fall within conflictWindow of
// one another (§4.12).
func (c *Coordinator) resolveConflicts() {
	edges := make([]edge, 0, len(dependencyEdges)+len(conflictEdges))
	edges = append(edges, dependencyEdges...)
	edges = append(edges, conflictEdges...)

	for _, e := range edges {
		firstNext, ok1 := c.sched.NextRun(e.First)
		secondNext, ok2 := c.sched.NextRun(e.Second)
		if !ok1 || !ok2 {
			continue
		}
		if diff := firstNext.Sub(secondNext); diff < -conflictWindow || diff > conflictWindow {
			continue // not in the same next-run window
		}
		lower := lowerPriority(e.First, e.Second)
		c.sched.DelayNextRun(lower, conflictDelay)
	}
}

func lowerPriority(a, b string) string {
	ids := []string{a, b}
	sort.Slice(ids, func(i, j int) bool { return rank(ids[i]) < rank(ids[j]) })
	return ids[1]
}

func rank(taskID string) int {
	if r, ok := taskPriority[taskID]; ok {
		return r
	}
	return len(taskPriority) // unranked tasks are lowest priority
}
