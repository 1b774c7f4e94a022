package storage

import "time"

// Meter holds the configuration a meter was last tracked with.
type Meter struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	EAN         string    `json:"ean" gorm:"column:ean"`
	Signal      string    `json:"signal,omitempty" gorm:"column:signal"`
	Distributor string    `json:"distributor" gorm:"column:distributor"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Meter) TableName() string { return "meters" }

// DayScheduleRecord stores one validated day schedule as JSON.
type DayScheduleRecord struct {
	ID        uint      `json:"-" gorm:"primaryKey;column:id"`
	Meter     string    `json:"meter" gorm:"column:meter;uniqueIndex:idx_day_schedules_meter_date"`
	Date      string    `json:"date" gorm:"column:date;uniqueIndex:idx_day_schedules_meter_date"`
	Payload   []byte    `json:"payload" gorm:"column:payload"`
	FetchedAt time.Time `json:"fetched_at" gorm:"column:fetched_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (DayScheduleRecord) TableName() string { return "day_schedules" }

type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

type ScheduledJob struct {
	Name           string    `json:"name" gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `json:"last_run_at" gorm:"column:last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms" gorm:"column:last_duration_ms"`
	LastSuccess    int       `json:"last_success" gorm:"column:last_success"`
	LastError      string    `json:"last_error,omitempty" gorm:"column:last_error"`
}
