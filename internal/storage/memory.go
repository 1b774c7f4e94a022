package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	meters   map[string]Meter
	days     map[string]map[string]DayScheduleRecord
	settings map[string]string
	jobs     map[string]ScheduledJob
	locks    map[int64]bool
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		meters:   make(map[string]Meter),
		days:     make(map[string]map[string]DayScheduleRecord),
		settings: make(map[string]string),
		jobs:     make(map[string]ScheduledJob),
		locks:    make(map[int64]bool),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) ListMeters(ctx context.Context) ([]Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Meter, 0, len(m.meters))
	for _, mt := range m.meters {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) UpsertMeter(ctx context.Context, mt Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt.UpdatedAt.IsZero() {
		mt.UpdatedAt = time.Now()
	}
	m.meters[mt.ID] = mt
	return nil
}

func (m *MemoryStorage) ListDaySchedules(ctx context.Context, meter string) ([]DayScheduleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDate := m.days[meter]
	out := make([]DayScheduleRecord, 0, len(byDate))
	for _, rec := range byDate {
		rec.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryStorage) SaveDaySchedule(ctx context.Context, rec DayScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.days[rec.Meter]
	if !ok {
		byDate = make(map[string]DayScheduleRecord)
		m.days[rec.Meter] = byDate
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	rec.UpdatedAt = time.Now()
	byDate[rec.Date] = rec
	return nil
}

func (m *MemoryStorage) PruneDaySchedules(ctx context.Context, meter, before string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for date := range m.days[meter] {
		if date < before {
			delete(m.days[meter], date)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// AcquireAdvisoryLock emulates a try-lock within this process.
func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.locks[key]
	delete(m.locks, key)
	return held, nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}

func (m *MemoryStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[name]
	if !ok {
		return nil, nil
	}
	return &job, nil
}
