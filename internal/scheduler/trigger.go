package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind distinguishes a fixed-interval task from a cron-scheduled one
// (§4.11's "30s"/"2m" vs 5-field cron strings).
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
)

// Trigger describes when a Task becomes due. Construct with NewInterval or
// NewCron rather than the struct literal, so the cron expression is
// validated once up front instead of at every tick.
type Trigger struct {
	kind     TriggerKind
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
}

// NewInterval builds a fixed-cadence Trigger.
func NewInterval(d time.Duration) Trigger {
	return Trigger{kind: TriggerInterval, interval: d}
}

// NewCron builds a Trigger from a standard 5-field cron expression
// ("0 2 * * *"). Parsing happens immediately so a malformed expression
// fails at task registration, not at the first tick.
func NewCron(expr string) (Trigger, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return Trigger{kind: TriggerCron, cronExpr: expr, schedule: sched}, nil
}

// next returns the next due time strictly after `from`.
func (t Trigger) next(from time.Time) time.Time {
	if t.kind == TriggerCron {
		return t.schedule.Next(from)
	}
	return from.Add(t.interval)
}

func (t Trigger) String() string {
	if t.kind == TriggerCron {
		return t.cronExpr
	}
	return t.interval.String()
}
