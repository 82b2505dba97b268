// Package scheduler implements Trinity's SchedulerService: a single
// background loop that fires published processes on their configured
// cron schedules. Grounded on the teacher's pkg/queue/pool.go background
// loop (wg/stopCh, graceful Stop) shape, with cron evaluation delegated
// to robfig/cron/v3 rather than a hand-rolled parser.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
)

// ScheduleStore is the subset of repo.ScheduleRepo the scheduler needs.
type ScheduleStore interface {
	ListEnabled(ctx context.Context) ([]*models.Schedule, error)
	CompareAndSetLastFired(ctx context.Context, scheduleID string, expectedLastFired *time.Time, newLastFired time.Time, nextFireAt time.Time) (bool, error)
}

// Trigger starts a new execution for processID, as if fired by
// schedule. Satisfied by pkg/engine.Coordinator.TriggerScheduled; cmd/trinity
// passes the coordinator in directly.
type Trigger interface {
	TriggerScheduled(ctx context.Context, processID, scheduleID string) error
}

// Config governs jitter and polling cadence.
type Config struct {
	// MaxJitter is the upper bound of the random delay applied before
	// firing a due schedule, to avoid a thundering herd when many
	// schedules share a next_fire_at. Default 500ms per SPEC_FULL.md §4.7.
	MaxJitter time.Duration
	// MinWakeInterval bounds how often the loop re-evaluates even if no
	// schedule changed, guarding against a schedule being added with an
	// earlier next_fire_at than anything currently known.
	MinWakeInterval time.Duration
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 500 * time.Millisecond
	}
	return c.MaxJitter
}

func (c Config) minWake() time.Duration {
	if c.MinWakeInterval <= 0 {
		return 30 * time.Second
	}
	return c.MinWakeInterval
}

// Scheduler is Trinity's SchedulerService.
type Scheduler struct {
	store   ScheduleStore
	trigger Trigger
	clock   clock.Clock
	cfg     Config
	parser  cron.Parser

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Scheduler firing through trigger, backed by store.
func New(store ScheduleStore, trigger Trigger, c clock.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		store:   store,
		trigger: trigger,
		clock:   c,
		cfg:     cfg,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the scheduler's single background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Wake nudges the loop to re-evaluate immediately, used when a schedule
// is created, enabled, or re-enabled so it need not wait out the next
// poll interval.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// NextFireAt computes when a cron expression next fires in tz after
// from, exported so callers computing a Schedule's initial next_fire_at
// (on create or on re-enable) use the same evaluator as the loop.
func (s *Scheduler) NextFireAt(cronExpr, tz string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			loc = l
		}
	}
	return schedule.Next(from.In(loc)), nil
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		sleep := s.tick()

		timer := time.NewTimer(sleep)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tick fires every due schedule and returns how long the loop should
// sleep before the next evaluation: the time until the earliest known
// next_fire_at, bounded by Config.MinWakeInterval.
func (s *Scheduler) tick() time.Duration {
	ctx := context.Background()
	schedules, err := s.store.ListEnabled(ctx)
	if err != nil {
		slog.Error("scheduler failed to list enabled schedules", "error", err)
		return s.cfg.minWake()
	}

	now := s.clock.Now()
	var due []*models.Schedule
	earliest := now.Add(s.cfg.minWake())

	for _, sched := range schedules {
		if !sched.NextFireAt.After(now) {
			due = append(due, sched)
			continue
		}
		if sched.NextFireAt.Before(earliest) {
			earliest = sched.NextFireAt
		}
	}

	// Dispatch order is by schedule_id for determinism when many share
	// an identical next_fire_at (SPEC_FULL.md §4.7).
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduleID < due[j].ScheduleID })

	for _, sched := range due {
		s.fire(ctx, sched, now)
	}

	sleep := earliest.Sub(now)
	if sleep <= 0 {
		sleep = time.Millisecond
	}
	if max := s.cfg.minWake(); sleep > max {
		sleep = max
	}
	return sleep
}

func (s *Scheduler) fire(ctx context.Context, sched *models.Schedule, now time.Time) {
	jitter := s.cfg.jitter()
	if jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(jitter))))
	}

	nextFireAt, err := s.NextFireAt(sched.Cron, sched.Timezone, now)
	if err != nil {
		slog.Error("scheduler could not compute next fire time; schedule not fired, retried on the next tick", "schedule_id", sched.ScheduleID, "error", err)
		return
	}

	ok, err := s.store.CompareAndSetLastFired(ctx, sched.ScheduleID, sched.LastFiredAt, now, nextFireAt)
	if err != nil {
		slog.Error("scheduler failed to claim schedule lock", "schedule_id", sched.ScheduleID, "error", err)
		return
	}
	if !ok {
		// Another process instance (or a prior tick) already claimed
		// this fire; not an error, just lost the race.
		return
	}

	if err := s.trigger.TriggerScheduled(ctx, sched.ProcessID, sched.ScheduleID); err != nil {
		slog.Error("scheduler failed to trigger process", "schedule_id", sched.ScheduleID, "process_id", sched.ProcessID, "error", err)
	}
}
