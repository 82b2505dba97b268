package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// ScheduleRepo implements repo.ScheduleRepo on Postgres.
type ScheduleRepo struct {
	client *Client
}

// NewScheduleRepo returns a repo backed by client.
func NewScheduleRepo(client *Client) *ScheduleRepo {
	return &ScheduleRepo{client: client}
}

func (r *ScheduleRepo) Upsert(ctx context.Context, sched *models.Schedule) error {
	const q = `
		INSERT INTO schedules (schedule_id, process_id, cron, timezone, enabled, last_fired_at, next_fire_at, owner_user, lock_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (schedule_id) DO UPDATE SET
			cron = EXCLUDED.cron,
			timezone = EXCLUDED.timezone,
			enabled = EXCLUDED.enabled,
			next_fire_at = EXCLUDED.next_fire_at
	`
	_, err := r.client.Pool.Exec(ctx, q, sched.ScheduleID, sched.ProcessID, sched.Cron, sched.Timezone,
		sched.Enabled, sched.LastFiredAt, sched.NextFireAt, sched.OwnerUser, sched.LockToken)
	if err != nil {
		return errs.Wrap(errs.InternalError, "upsert schedule", err)
	}
	return nil
}

func (r *ScheduleRepo) Get(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	const q = `
		SELECT schedule_id, process_id, cron, timezone, enabled, last_fired_at, next_fire_at, owner_user, lock_token
		FROM schedules WHERE schedule_id = $1
	`
	sched, err := scanSchedule(r.client.Pool.QueryRow(ctx, q, scheduleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "schedule not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "get schedule", err)
	}
	return sched, nil
}

func (r *ScheduleRepo) ListEnabled(ctx context.Context) ([]*models.Schedule, error) {
	const q = `
		SELECT schedule_id, process_id, cron, timezone, enabled, last_fired_at, next_fire_at, owner_user, lock_token
		FROM schedules WHERE enabled = true ORDER BY next_fire_at ASC, schedule_id ASC
	`
	rows, err := r.client.Pool.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "list enabled schedules", err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errs.Wrap(errs.InternalError, "scan schedule", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// CompareAndSetLastFired is the per-schedule lock: it succeeds only if
// the stored last_fired_at still matches expectedLastFired, preventing
// two scheduler instances (or two ticks) from firing the same occurrence
// twice.
func (r *ScheduleRepo) CompareAndSetLastFired(ctx context.Context, scheduleID string, expectedLastFired *time.Time, newLastFired time.Time, nextFireAt time.Time) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if expectedLastFired == nil {
		tag, err = r.client.Pool.Exec(ctx, `
			UPDATE schedules SET last_fired_at = $1, next_fire_at = $2
			WHERE schedule_id = $3 AND last_fired_at IS NULL
		`, newLastFired, nextFireAt, scheduleID)
	} else {
		tag, err = r.client.Pool.Exec(ctx, `
			UPDATE schedules SET last_fired_at = $1, next_fire_at = $2
			WHERE schedule_id = $3 AND last_fired_at = $4
		`, newLastFired, nextFireAt, scheduleID, *expectedLastFired)
	}
	if err != nil {
		return false, errs.Wrap(errs.InternalError, "compare-and-set schedule fire", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ScheduleID, &s.ProcessID, &s.Cron, &s.Timezone, &s.Enabled,
		&s.LastFiredAt, &s.NextFireAt, &s.OwnerUser, &s.LockToken)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
