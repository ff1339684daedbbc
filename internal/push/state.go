// Package push implements the Push Service (C10): the per-target cycle
// that resolves a Target, invokes the Metric Collectors (C4), persists
// the normalized row, and broadcasts updates over the WebSocket Hub (C9),
// per spec.md §4.10.
package push

import (
	"sync"
	"time"

	"github.com/cwatcher/cwatcher/internal/models"
)

// maxConsecutiveFailures/reactivationIdle are §4.10's defaults.
const (
	maxConsecutiveFailures = 5
	reactivationIdle       = 10 * time.Minute
)

// stateStore is a mutex-guarded map of PushState keyed by target id,
// grounded on internal/variables.Store generalized the same way
// collectors.SnapshotStore was: the teacher's version assumes one
// goroutine, this one is written from N concurrent per-target cycles.
type stateStore struct {
	mu     sync.Mutex
	states map[int64]*models.PushState
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[int64]*models.PushState)}
}

func (s *stateStore) dueTargets(targets []models.Target, now time.Time) []models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Target
	for _, t := range targets {
		st, ok := s.states[t.ID]
		if !ok {
			st = &models.PushState{TargetID: t.ID, Interval: t.MonitoringInterval, LastStatus: models.StatusUnknown, Active: true}
			s.states[t.ID] = st
		}
		if !st.Active {
			if now.Sub(st.DeactivatedAt) >= reactivationIdle {
				st.Active = true
				st.ConsecutiveFails = 0
			} else {
				continue
			}
		}
		if now.Sub(st.LastPush) >= interval(t) {
			due = append(due, t)
		}
	}
	return due
}

func interval(t models.Target) time.Duration {
	if t.MonitoringInterval > 0 {
		return t.MonitoringInterval
	}
	return 30 * time.Second
}

// recordResult updates PushState after one cycle (§4.10 step 6) and
// reports the previous status, whether the status changed, and whether
// this cycle deactivated the target.
func (s *stateStore) recordResult(targetID int64, now time.Time, success bool, newStatus models.Status) (oldStatus models.Status, changed bool, deactivated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[targetID]
	if !ok {
		st = &models.PushState{TargetID: targetID, LastStatus: models.StatusUnknown, Active: true}
		s.states[targetID] = st
	}

	oldStatus = st.LastStatus
	st.LastPush = now
	st.TotalPushes++

	if success {
		st.ConsecutiveFails = 0
	} else {
		st.ConsecutiveFails++
		if st.ConsecutiveFails >= maxConsecutiveFailures && st.Active {
			st.Active = false
			st.DeactivatedAt = now
			deactivated = true
		}
	}

	st.LastStatus = newStatus
	changed = oldStatus != newStatus
	return oldStatus, changed, deactivated
}

func (s *stateStore) snapshot(targetID int64) (models.PushState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[targetID]
	if !ok {
		return models.PushState{}, false
	}
	return *st, true
}
