package services

import (
	"context"
	"time"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
)

// ScheduleWaker is satisfied by pkg/scheduler.Scheduler: nudges the
// background loop to re-evaluate immediately after a schedule is
// created, updated, or re-enabled, rather than waiting out its poll
// interval.
type ScheduleWaker interface {
	Wake()
	NextFireAt(cronExpr, tz string, from time.Time) (time.Time, error)
}

// ScheduleTriggerer fires a schedule's process immediately, bypassing the
// scheduler's own cron evaluation. Satisfied by
// pkg/engine.Coordinator.TriggerScheduled.
type ScheduleTriggerer interface {
	TriggerScheduled(ctx context.Context, processID, scheduleID string) error
}

// ScheduleService manages cron Schedule rows bound to published
// processes.
type ScheduleService struct {
	schedules repo.ScheduleRepo
	processes repo.ProcessDefinitionRepo
	scheduler ScheduleWaker
	trigger   ScheduleTriggerer
	clock     clock.Clock
	ids       clock.IdGen
}

// NewScheduleService returns a ScheduleService. trigger may be nil in
// tests that never exercise TriggerNow.
func NewScheduleService(schedules repo.ScheduleRepo, processes repo.ProcessDefinitionRepo, scheduler ScheduleWaker, trigger ScheduleTriggerer, c clock.Clock, ids clock.IdGen) *ScheduleService {
	if schedules == nil {
		panic("NewScheduleService: schedules must not be nil")
	}
	if processes == nil {
		panic("NewScheduleService: processes must not be nil")
	}
	return &ScheduleService{schedules: schedules, processes: processes, scheduler: scheduler, trigger: trigger, clock: c, ids: ids}
}

// Create registers a new schedule for processID, which must already be
// published.
func (s *ScheduleService) Create(ctx context.Context, processID, cronExpr, timezone, ownerUser string) (*models.Schedule, error) {
	def, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "process not found", err)
	}
	if def.Status != models.ProcessPublished {
		return nil, errs.New(errs.Validation, "schedules can only be attached to a published process")
	}

	next, err := s.scheduler.NextFireAt(cronExpr, timezone, s.clock.Now())
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "invalid cron expression", err)
	}

	sched := &models.Schedule{
		ScheduleID: s.ids.NewID(),
		ProcessID:  processID,
		Cron:       cronExpr,
		Timezone:   timezone,
		Enabled:    true,
		NextFireAt: next,
		OwnerUser:  ownerUser,
	}
	if err := s.schedules.Upsert(ctx, sched); err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to save schedule", err)
	}
	if s.scheduler != nil {
		s.scheduler.Wake()
	}
	return sched, nil
}

// Get returns a schedule by id.
func (s *ScheduleService) Get(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "schedule not found", err)
	}
	return sched, nil
}

// SetEnabled toggles whether a schedule is eligible to fire.
func (s *ScheduleService) SetEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	sched, err := s.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	sched.Enabled = enabled
	if err := s.schedules.Upsert(ctx, sched); err != nil {
		return errs.Wrap(errs.InternalError, "failed to save schedule", err)
	}
	if enabled && s.scheduler != nil {
		s.scheduler.Wake()
	}
	return nil
}

// List returns every enabled schedule.
func (s *ScheduleService) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.schedules.ListEnabled(ctx)
}

// TriggerNow fires scheduleID's process immediately, outside its normal
// cron cadence, for the operator "run now" action.
func (s *ScheduleService) TriggerNow(ctx context.Context, scheduleID string) error {
	sched, err := s.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	if s.trigger == nil {
		return errs.New(errs.InternalError, "schedule trigger not wired")
	}
	return s.trigger.TriggerScheduled(ctx, sched.ProcessID, scheduleID)
}
