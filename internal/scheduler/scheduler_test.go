package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsIntervalTaskRepeatedly(t *testing.T) {
	s := New(nil)
	var calls int32
	s.Register(Task{
		ID:      "tick",
		Trigger: NewInterval(20 * time.Millisecond),
		Fn: func(ctx context.Context) (map[string]any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Fatalf("expected at least 2 invocations in 90ms at a 20ms interval, got %d", n)
	}
}

func TestScheduler_RetriesOnFailureThenResetsOnSuccess(t *testing.T) {
	s := New(nil)
	var attempts int32
	s.Register(Task{
		ID:         "flaky",
		Trigger:    NewInterval(time.Hour), // never fires again on its own within the test
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Fn: func(ctx context.Context) (map[string]any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, errors.New("not yet")
			}
			return map[string]any{"ok": true}, nil
		},
	})

	res, ok := s.RunNow(context.Background(), "flaky")
	if !ok {
		t.Fatalf("expected a result")
	}
	if res.Status != TaskSuccess {
		t.Fatalf("expected eventual success after retries, got %s (%s)", res.Status, res.Error)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}

	enabled, ok := s.Enabled("flaky")
	if !ok || !enabled {
		t.Fatalf("expected task still enabled after eventual success")
	}
}

func TestScheduler_AutoDisablesAfterThresholdConsecutiveFailures(t *testing.T) {
	s := New(nil)
	var disabledTask string
	var disabledFails int
	var mu sync.Mutex
	s.OnDisable(func(taskID string, fails int) {
		mu.Lock()
		disabledTask, disabledFails = taskID, fails
		mu.Unlock()
	})

	s.Register(Task{
		ID:                   "always-fails",
		Trigger:              NewInterval(time.Hour),
		MaxRetries:           1, // no in-call retries, so each RunNow is one consecutive failure
		AutoDisableThreshold: 2,
		Fn: func(ctx context.Context) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	})

	s.RunNow(context.Background(), "always-fails")
	if enabled, _ := s.Enabled("always-fails"); !enabled {
		t.Fatalf("should not disable after 1 failure with threshold 2")
	}

	s.RunNow(context.Background(), "always-fails")
	if enabled, _ := s.Enabled("always-fails"); enabled {
		t.Fatalf("expected task disabled after 2 consecutive failures")
	}

	mu.Lock()
	defer mu.Unlock()
	if disabledTask != "always-fails" || disabledFails != 2 {
		t.Fatalf("expected onDisable callback for always-fails at 2 fails, got %q/%d", disabledTask, disabledFails)
	}
}

func TestScheduler_EnableResetsFailureCounter(t *testing.T) {
	s := New(nil)
	s.Register(Task{
		ID: "x", Trigger: NewInterval(time.Hour), MaxRetries: 1, AutoDisableThreshold: 1,
		Fn: func(ctx context.Context) (map[string]any, error) { return nil, errors.New("fail") },
	})
	s.RunNow(context.Background(), "x")
	if enabled, _ := s.Enabled("x"); enabled {
		t.Fatalf("expected disabled after 1 failure at threshold 1")
	}
	if !s.Enable("x") {
		t.Fatalf("Enable should report success for a known task")
	}
	if enabled, _ := s.Enabled("x"); !enabled {
		t.Fatalf("expected re-enabled")
	}
}

func TestScheduler_RecentResultsOrderedNewestLast(t *testing.T) {
	s := New(nil)
	s.Register(Task{ID: "a", Trigger: NewInterval(time.Hour), Fn: func(ctx context.Context) (map[string]any, error) { return nil, nil }})
	s.RunNow(context.Background(), "a")
	s.RunNow(context.Background(), "a")
	s.RunNow(context.Background(), "a")

	results := s.RecentResults(10)
	if len(results) != 3 {
		t.Fatalf("expected 3 recorded results, got %d", len(results))
	}
	for _, r := range results {
		if r.TaskID != "a" || r.Status != TaskSuccess {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestScheduler_DisableSuppressesScheduledRuns(t *testing.T) {
	s := New(nil)
	var calls int32
	s.Register(Task{
		ID: "maybe", Trigger: NewInterval(15 * time.Millisecond),
		Fn: func(ctx context.Context) (map[string]any, error) { atomic.AddInt32(&calls, 1); return nil, nil },
	})
	s.Disable("maybe")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected disabled task to never run, got %d calls", calls)
	}
}

func TestTrigger_CronComputesNextOccurrence(t *testing.T) {
	trig, err := NewCron("0 2 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next := trig.next(from)
	if next.Hour() != 2 || !next.After(from) {
		t.Fatalf("expected next occurrence at 02:00 after %v, got %v", from, next)
	}
}

func TestTrigger_InvalidCronExpressionErrors(t *testing.T) {
	if _, err := NewCron("not a cron"); err == nil {
		t.Fatalf("expected an error for a malformed cron expression")
	}
}
