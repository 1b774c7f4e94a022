package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolStorage talks to Postgres through a pgx connection pool with
// hand-written SQL.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool

	lockMu    sync.Mutex
	lockConns map[int64]*pgxpool.Conn
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/hdotariff?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool, lockConns: make(map[int64]*pgxpool.Conn)}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.lockMu.Lock()
	for key, conn := range s.lockConns {
		conn.Release()
		delete(s.lockConns, key)
	}
	s.lockMu.Unlock()
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresPoolStorage) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meters (
			id TEXT PRIMARY KEY,
			ean TEXT NOT NULL DEFAULT '',
			signal TEXT NOT NULL DEFAULT '',
			distributor TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS day_schedules (
			id BIGSERIAL PRIMARY KEY,
			meter TEXT NOT NULL,
			date TEXT NOT NULL,
			payload BYTEA NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_day_schedules_meter_date ON day_schedules (meter, date);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			name TEXT PRIMARY KEY,
			last_run_at TIMESTAMPTZ,
			last_duration_ms BIGINT NOT NULL DEFAULT 0,
			last_success INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresPoolStorage) ListMeters(ctx context.Context) ([]Meter, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ean, signal, distributor, updated_at FROM meters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Meter
	for rows.Next() {
		var m Meter
		if err := rows.Scan(&m.ID, &m.EAN, &m.Signal, &m.Distributor, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) UpsertMeter(ctx context.Context, m Meter) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO meters (id, ean, signal, distributor, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			ean = EXCLUDED.ean,
			signal = EXCLUDED.signal,
			distributor = EXCLUDED.distributor,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.EAN, m.Signal, m.Distributor, m.UpdatedAt)
	return err
}

func (s *PostgresPoolStorage) ListDaySchedules(ctx context.Context, meter string) ([]DayScheduleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, meter, date, payload, fetched_at, updated_at
		FROM day_schedules WHERE meter = $1 ORDER BY date
	`, meter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayScheduleRecord
	for rows.Next() {
		var rec DayScheduleRecord
		var id int64
		if err := rows.Scan(&id, &rec.Meter, &rec.Date, &rec.Payload, &rec.FetchedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ID = uint(id)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) SaveDaySchedule(ctx context.Context, rec DayScheduleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO day_schedules (meter, date, payload, fetched_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (meter, date) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = EXCLUDED.updated_at
	`, rec.Meter, rec.Date, rec.Payload, rec.FetchedAt)
	return err
}

func (s *PostgresPoolStorage) PruneDaySchedules(ctx context.Context, meter, before string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM day_schedules WHERE meter = $1 AND date < $2`, meter, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresPoolStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *PostgresPoolStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}

// AcquireAdvisoryLock attempts to take a session-level advisory lock. The
// connection holding it stays checked out of the pool until release.
func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.lockConns[key]; held {
		return false, nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	s.lockConns[key] = conn
	return true, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	conn, held := s.lockConns[key]
	delete(s.lockConns, key)
	s.lockMu.Unlock()
	if !held {
		return false, nil
	}
	defer conn.Release()

	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok)
	return ok, err
}

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_duration_ms = EXCLUDED.last_duration_ms,
			last_success = EXCLUDED.last_success,
			last_error = EXCLUDED.last_error
	`, name, started, dur.Milliseconds(), status, errMsg)
	return err
}

func (s *PostgresPoolStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	var job ScheduledJob
	err := s.pool.QueryRow(ctx, `
		SELECT name, last_run_at, last_duration_ms, last_success, last_error
		FROM scheduled_jobs WHERE name = $1
	`, name).Scan(&job.Name, &job.LastRunAt, &job.LastDurationMs, &job.LastSuccess, &job.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *PostgresPoolStorage) PoolStat() PoolStat {
	st := s.pool.Stat()
	return PoolStat{
		Total:    int(st.TotalConns()),
		Idle:     int(st.IdleConns()),
		Acquired: int(st.AcquiredConns()),
		Acquires: st.AcquireCount(),
	}
}
