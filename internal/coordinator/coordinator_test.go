package coordinator

import (
	"testing"
	"time"
)

type fakeTask struct {
	nextRun          time.Time
	consecutiveFails int
	enabled          bool
}

type fakeScheduler struct {
	order []string
	tasks map[string]*fakeTask
}

func newFakeScheduler() *fakeScheduler {
	fs := &fakeScheduler{tasks: make(map[string]*fakeTask)}
	now := time.Now()
	for _, id := range []string{
		"monitoring_collection", "websocket_push", "system_info_update", "buffer_flush",
		"system_health_check", "storage_monitor", "daily_data_cleanup", "weekly_archive_cleanup",
	} {
		fs.order = append(fs.order, id)
		fs.tasks[id] = &fakeTask{nextRun: now.Add(time.Hour), enabled: true}
	}
	return fs
}

func (f *fakeScheduler) TaskIDs() []string { return f.order }
func (f *fakeScheduler) ConsecutiveFailures(id string) (int, bool) {
	t, ok := f.tasks[id]
	if !ok {
		return 0, false
	}
	return t.consecutiveFails, true
}
func (f *fakeScheduler) NextRun(id string) (time.Time, bool) {
	t, ok := f.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return t.nextRun, true
}
func (f *fakeScheduler) DelayNextRun(id string, by time.Duration) bool {
	t, ok := f.tasks[id]
	if !ok {
		return false
	}
	t.nextRun = t.nextRun.Add(by)
	return true
}
func (f *fakeScheduler) Enable(id string) bool {
	t, ok := f.tasks[id]
	if !ok {
		return false
	}
	t.enabled = true
	return true
}
func (f *fakeScheduler) Disable(id string) bool {
	t, ok := f.tasks[id]
	if !ok {
		return false
	}
	t.enabled = false
	return true
}
func (f *fakeScheduler) Enabled(id string) (bool, bool) {
	t, ok := f.tasks[id]
	if !ok {
		return false, false
	}
	return t.enabled, true
}

type fakeProbe struct{ snap LoadSnapshot }

func (p fakeProbe) Snapshot() LoadSnapshot { return p.snap }

func TestCoordinator_NormalModeWhenNoSignals(t *testing.T) {
	sched := newFakeScheduler()
	c := New(sched, fakeProbe{}, nil)
	c.Tick()
	if c.Mode() != ModeNormal {
		t.Fatalf("expected Normal, got %s", c.Mode())
	}
}

func TestCoordinator_HighLoadRequiresTwoOfThreeSignals(t *testing.T) {
	sched := newFakeScheduler()
	c := New(sched, fakeProbe{snap: LoadSnapshot{BufferFraction: 0.95}}, nil)
	c.Tick()
	if c.Mode() != ModeNormal {
		t.Fatalf("expected Normal with only one signal tripped, got %s", c.Mode())
	}

	c2 := New(sched, fakeProbe{snap: LoadSnapshot{BufferFraction: 0.95, Connections: 60}}, nil)
	c2.Tick()
	if c2.Mode() != ModeHighLoad {
		t.Fatalf("expected HighLoad with two signals tripped, got %s", c2.Mode())
	}
}

func TestCoordinator_HighLoadWidensSpacingOnEntry(t *testing.T) {
	sched := newFakeScheduler()
	before := sched.tasks["monitoring_collection"].nextRun
	c := New(sched, fakeProbe{snap: LoadSnapshot{Connections: 60, PendingTasks: 15}}, nil)
	c.Tick()

	after := sched.tasks["monitoring_collection"].nextRun
	if !after.After(before) {
		t.Fatalf("expected next run delayed on HighLoad entry, before=%v after=%v", before, after)
	}
}

func TestCoordinator_EmergencyDisablesNonCriticalKeepsCollectionAndPush(t *testing.T) {
	sched := newFakeScheduler()
	sched.tasks["daily_data_cleanup"].consecutiveFails = 3

	c := New(sched, fakeProbe{}, nil)
	c.Tick()

	if c.Mode() != ModeEmergency {
		t.Fatalf("expected Emergency, got %s", c.Mode())
	}
	for _, id := range []string{"storage_monitor", "daily_data_cleanup", "weekly_archive_cleanup"} {
		if sched.tasks[id].enabled {
			t.Fatalf("expected %s disabled in Emergency", id)
		}
	}
	for _, id := range []string{"monitoring_collection", "websocket_push"} {
		if !sched.tasks[id].enabled {
			t.Fatalf("expected %s to remain enabled in Emergency", id)
		}
	}
}

func TestCoordinator_RecoveryFromEmergencyReenablesNonCritical(t *testing.T) {
	sched := newFakeScheduler()
	sched.tasks["daily_data_cleanup"].consecutiveFails = 3

	c := New(sched, fakeProbe{}, nil)
	c.Tick()
	if c.Mode() != ModeEmergency {
		t.Fatalf("expected Emergency first")
	}

	sched.tasks["daily_data_cleanup"].consecutiveFails = 0
	c.Tick()
	if c.Mode() != ModeNormal {
		t.Fatalf("expected recovery to Normal, got %s", c.Mode())
	}
	if !sched.tasks["daily_data_cleanup"].enabled {
		t.Fatalf("expected daily_data_cleanup re-enabled after recovery")
	}
}

func TestCoordinator_ConflictInSameWindowDelaysLowerPriorityTask(t *testing.T) {
	sched := newFakeScheduler()
	now := time.Now()
	sched.tasks["monitoring_collection"].nextRun = now
	sched.tasks["system_info_update"].nextRun = now.Add(2 * time.Second) // within conflictWindow

	c := New(sched, fakeProbe{}, nil)
	c.Tick()

	if !sched.tasks["system_info_update"].nextRun.After(now.Add(2 * time.Second)) {
		t.Fatalf("expected system_info_update (lower priority) delayed past its original window")
	}
	if !sched.tasks["monitoring_collection"].nextRun.Equal(now) {
		t.Fatalf("expected monitoring_collection (higher priority) left untouched")
	}
}

func TestCoordinator_NoConflictOutsideWindowLeavesTasksAlone(t *testing.T) {
	sched := newFakeScheduler()
	now := time.Now()
	sched.tasks["monitoring_collection"].nextRun = now
	sched.tasks["system_info_update"].nextRun = now.Add(time.Minute)

	c := New(sched, fakeProbe{}, nil)
	c.Tick()

	if !sched.tasks["system_info_update"].nextRun.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected no delay for tasks outside the conflict window")
	}
}
