package storage

import (
	"context"
	"time"
)

// Storage abstracts persistence for meters, validated day schedules and the
// bookkeeping of the refresh worker.
type Storage interface {
	// Meters
	ListMeters(ctx context.Context) ([]Meter, error)
	UpsertMeter(ctx context.Context, m Meter) error

	// Day schedules, keyed by (meter, date). Dates are YYYY-MM-DD so that
	// lexical order is chronological.
	ListDaySchedules(ctx context.Context, meter string) ([]DayScheduleRecord, error)
	SaveDaySchedule(ctx context.Context, rec DayScheduleRecord) error
	PruneDaySchedules(ctx context.Context, meter, before string) (int64, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Scheduled jobs & locking
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
	GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error)

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// PoolStat is a snapshot of a backend's connection pool.
type PoolStat struct {
	Total    int
	Idle     int
	Acquired int
	Acquires int64
}

// PoolStater is implemented by backends that keep a connection pool.
type PoolStater interface {
	PoolStat() PoolStat
}
