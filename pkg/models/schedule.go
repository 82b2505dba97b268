package models

import "time"

// Schedule owns a cron trigger for a published process.
type Schedule struct {
	ScheduleID   string     `json:"schedule_id"`
	ProcessID    string     `json:"process_id"`
	Cron         string     `json:"cron"`
	Timezone     string     `json:"timezone"`
	Enabled      bool       `json:"enabled"`
	LastFiredAt  *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt   time.Time  `json:"next_fire_at"`
	OwnerUser    string     `json:"owner_user"`
	LockToken    string     `json:"lock_token,omitempty"`
}
