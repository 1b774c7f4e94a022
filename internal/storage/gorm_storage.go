package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db *gorm.DB

	// Postgres advisory locks are per session, so each held lock pins the
	// connection it was taken on until release.
	lockMu    sync.Mutex
	lockConns map[int64]*sql.Conn
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, lockConns: make(map[int64]*sql.Conn)}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Meter{},
		&DayScheduleRecord{},
		&Setting{},
		&ScheduledJob{},
	)
}

// Meters

func (s *GormStorage) ListMeters(ctx context.Context) ([]Meter, error) {
	var meters []Meter
	result := s.db.WithContext(ctx).Order("id").Find(&meters)
	return meters, result.Error
}

func (s *GormStorage) UpsertMeter(ctx context.Context, m Meter) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// Day schedules

func (s *GormStorage) ListDaySchedules(ctx context.Context, meter string) ([]DayScheduleRecord, error) {
	var recs []DayScheduleRecord
	result := s.db.WithContext(ctx).Where("meter = ?", meter).Order("date").Find(&recs)
	return recs, result.Error
}

func (s *GormStorage) SaveDaySchedule(ctx context.Context, rec DayScheduleRecord) error {
	rec.ID = 0
	rec.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meter"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at", "updated_at"}),
	}).Create(&rec).Error
}

func (s *GormStorage) PruneDaySchedules(ctx context.Context, meter, before string) (int64, error) {
	result := s.db.WithContext(ctx).Where("meter = ? AND date < ?", meter, before).Delete(&DayScheduleRecord{})
	return result.RowsAffected, result.Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	result := s.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	s.lockMu.Lock()
	for key, conn := range s.lockConns {
		conn.Close()
		delete(s.lockConns, key)
	}
	s.lockMu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scheduled Jobs & Locking

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		// SQLite deployments are single instance.
		return true, nil
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.lockConns[key]; held {
		return false, nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	s.lockConns[key] = conn
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		return true, nil
	}
	s.lockMu.Lock()
	conn, held := s.lockConns[key]
	delete(s.lockConns, key)
	s.lockMu.Unlock()
	if !held {
		return false, nil
	}
	defer conn.Close()

	var ok bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	return ok, err
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

func (s *GormStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	var job ScheduledJob
	result := s.db.WithContext(ctx).First(&job, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *GormStorage) PoolStat() PoolStat {
	sqlDB, err := s.db.DB()
	if err != nil {
		return PoolStat{}
	}
	st := sqlDB.Stats()
	return PoolStat{
		Total:    st.OpenConnections,
		Idle:     st.Idle,
		Acquired: st.InUse,
		Acquires: st.WaitCount,
	}
}
