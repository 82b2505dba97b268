package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
)

type fakeStore struct {
	mu        sync.Mutex
	schedules map[string]*models.Schedule
}

func newFakeStore(schedules ...*models.Schedule) *fakeStore {
	s := &fakeStore{schedules: make(map[string]*models.Schedule)}
	for _, sched := range schedules {
		s.schedules[sched.ScheduleID] = sched
	}
	return s
}

func (s *fakeStore) ListEnabled(context.Context) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Schedule
	for _, sched := range s.schedules {
		if sched.Enabled {
			out = append(out, sched)
		}
	}
	return out, nil
}

func (s *fakeStore) CompareAndSetLastFired(_ context.Context, scheduleID string, expectedLastFired *time.Time, newLastFired time.Time, nextFireAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return false, nil
	}
	if !sameInstant(sched.LastFiredAt, expectedLastFired) {
		return false, nil
	}
	sched.LastFiredAt = &newLastFired
	sched.NextFireAt = nextFireAt
	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

type recordingTrigger struct {
	mu        sync.Mutex
	processIDs []string
}

func (t *recordingTrigger) TriggerScheduled(_ context.Context, processID, scheduleID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processIDs = append(t.processIDs, processID)
	return nil
}

func (t *recordingTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processIDs)
}

func TestSchedulerFiresDueSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	sched := &models.Schedule{ScheduleID: "sch-1", ProcessID: "proc-1", Cron: "*/5 * * * *", Enabled: true, NextFireAt: now}
	store := newFakeStore(sched)
	trigger := &recordingTrigger{}
	s := New(store, trigger, fake, Config{MaxJitter: time.Millisecond})

	sleep := s.tick()

	require.Eventually(t, func() bool { return trigger.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"proc-1"}, trigger.processIDs)
	assert.Greater(t, sleep, time.Duration(0))
}

func TestSchedulerSkipsDisabledSchedules(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	sched := &models.Schedule{ScheduleID: "sch-1", ProcessID: "proc-1", Cron: "* * * * *", Enabled: false, NextFireAt: now}
	store := newFakeStore(sched)
	trigger := &recordingTrigger{}
	s := New(store, trigger, fake, Config{})

	s.tick()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, trigger.count())
}

func TestNextFireAtRespectsTimezone(t *testing.T) {
	s := New(nil, nil, clock.System{}, Config{})
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := s.NextFireAt("0 9 * * *", "UTC", from)

	require.NoError(t, err)
	assert.Equal(t, 9, next.Hour())
}
