// Package tracker keeps one schedule store per meter, fills it from the
// meter's distributor and persistence, and evaluates it on every tick.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/metrics"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
)

// Meter is one tracked supply point.
type Meter struct {
	ID          string `json:"id"`
	EAN         string `json:"ean"`
	Signal      string `json:"signal,omitempty"`
	Distributor string `json:"distributor"`
	File        string `json:"file,omitempty"`
}

// RefreshReport summarises one refresh.
type RefreshReport struct {
	Fetched     int     `json:"fetched"`
	Changed     int     `json:"changed"`
	Pruned      int64   `json:"pruned"`
	ParseErrors []error `json:"-"`
}

// Tracker owns the store of a single meter.
type Tracker struct {
	meter Meter
	dist  distributors.Distributor
	store *tariff.Store
	st    storage.Storage

	// refreshMu serialises refreshes; the tick path never takes it.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	latest      tariff.Result
	latestErr   error
	ticked      bool
	lastRefresh time.Time
	refreshErr  error
	failures    int
}

func newTracker(m Meter, d distributors.Distributor, st storage.Storage, loc *time.Location) *Tracker {
	return &Tracker{
		meter: m,
		dist:  d,
		store: tariff.NewStore(loc),
		st:    st,
	}
}

func (t *Tracker) Meter() Meter { return t.meter }

func (t *Tracker) Distributor() distributors.Distributor { return t.dist }

func (t *Tracker) Store() *tariff.Store { return t.store }

// Refresh fetches the published schedules, validates each day and puts the
// valid ones into the store. Changed days are persisted and days that fell
// out of the store are pruned from storage.
//
// A fetch failure is returned as is. Documents that fail validation are
// counted and reported; they only fail the refresh when no day was usable.
func (t *Tracker) Refresh(ctx context.Context) (RefreshReport, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	ctx = log.WithMeter(ctx, t.meter.ID)
	logger := log.Ctx(ctx)

	var report RefreshReport
	raws, err := t.dist.FetchSchedules(ctx, distributors.Meter{
		EAN:    t.meter.EAN,
		Signal: t.meter.Signal,
		File:   t.meter.File,
	})
	if err != nil {
		err = fmt.Errorf("fetch %s: %w", t.dist.Key(), err)
		t.recordRefresh(err)
		return report, err
	}
	report.Fetched = len(raws)

	accepted := 0
	for _, raw := range raws {
		ds, err := tariff.ParseRaw(raw)
		if err != nil {
			metrics.ParseErrorsTotal.WithLabelValues(t.meter.ID).Inc()
			logger.WarnContext(ctx, "refresh: rejected schedule",
				slog.String("date", raw.Date), slog.Any("error", err))
			report.ParseErrors = append(report.ParseErrors, err)
			continue
		}
		accepted++

		changed, err := t.store.Put(ds)
		if err != nil {
			report.ParseErrors = append(report.ParseErrors, err)
			continue
		}
		if !changed {
			continue
		}
		report.Changed++
		if err := t.persist(ctx, ds); err != nil {
			logger.ErrorContext(ctx, "refresh: persist failed",
				slog.String("date", ds.Date.String()), slog.Any("error", err))
		}
	}

	if accepted == 0 {
		err := fmt.Errorf("no valid schedule in %d documents: %w", len(raws), errors.Join(report.ParseErrors...))
		t.recordRefresh(err)
		return report, err
	}

	report.Pruned = t.prune(ctx)
	metrics.StoredDays.WithLabelValues(t.meter.ID).Set(float64(t.store.Len()))
	t.recordRefresh(nil)

	logger.InfoContext(ctx, "refresh: done",
		slog.Int("fetched", report.Fetched),
		slog.Int("changed", report.Changed),
		slog.Int("rejected", len(report.ParseErrors)),
		slog.Int64("pruned", report.Pruned))
	return report, nil
}

func (t *Tracker) persist(ctx context.Context, ds tariff.DaySchedule) error {
	if t.st == nil {
		return nil
	}
	payload, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	return t.st.SaveDaySchedule(ctx, storage.DayScheduleRecord{
		Meter:     t.meter.ID,
		Date:      ds.Date.String(),
		Payload:   payload,
		FetchedAt: ds.FetchedAt,
	})
}

func (t *Tracker) prune(ctx context.Context) int64 {
	days := t.store.Days()
	if t.st == nil || len(days) == 0 {
		return 0
	}
	n, err := t.st.PruneDaySchedules(ctx, t.meter.ID, days[0].String())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "refresh: prune failed", slog.Any("error", err))
		return 0
	}
	return n
}

func (t *Tracker) recordRefresh(err error) {
	metrics.ObserveRefresh(t.meter.ID, err)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshErr = err
	if err != nil {
		t.failures++
		return
	}
	t.failures = 0
	t.lastRefresh = time.Now()
}

// Restore loads persisted schedules into the store. Records that no longer
// validate are skipped.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.st == nil {
		return 0, nil
	}
	ctx = log.WithMeter(ctx, t.meter.ID)
	recs, err := t.st.ListDaySchedules(ctx, t.meter.ID)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", t.meter.ID, err)
	}
	n := 0
	for _, rec := range recs {
		var ds tariff.DaySchedule
		if err := json.Unmarshal(rec.Payload, &ds); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "restore: undecodable record",
				slog.String("date", rec.Date), slog.Any("error", err))
			continue
		}
		if _, err := t.store.Put(ds); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "restore: invalid record",
				slog.String("date", rec.Date), slog.Any("error", err))
			continue
		}
		n++
	}
	metrics.StoredDays.WithLabelValues(t.meter.ID).Set(float64(t.store.Len()))
	return n, nil
}

// Tick evaluates the store at now and keeps the result for pollers.
func (t *Tracker) Tick(now time.Time) (tariff.Result, error) {
	res, err := tariff.Query(t.store, now)
	if err != nil {
		metrics.ObserveQueryError(t.meter.ID)
	} else {
		metrics.ObserveResult(t.meter.ID, res)
	}

	t.mu.Lock()
	t.latest, t.latestErr, t.ticked = res, err, true
	t.mu.Unlock()
	return res, err
}

// Latest returns the result of the last tick. ticked is false before the
// first tick.
func (t *Tracker) Latest() (res tariff.Result, ticked bool, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.ticked, t.latestErr
}

// Status is a point-in-time view of the tracker for listings.
type Status struct {
	Meter            Meter     `json:"meter"`
	Days             []string  `json:"days"`
	LastRefresh      time.Time `json:"last_refresh,omitempty"`
	LastRefreshError string    `json:"last_refresh_error,omitempty"`
	Failures         int       `json:"consecutive_failures"`
	Covered          bool      `json:"covered"`
}

func (t *Tracker) Status(now time.Time) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Status{
		Meter:       t.meter,
		LastRefresh: t.lastRefresh,
		Failures:    t.failures,
		Covered:     t.store.HasCoverage(now),
	}
	for _, d := range t.store.Days() {
		s.Days = append(s.Days, d.String())
	}
	if t.refreshErr != nil {
		s.LastRefreshError = t.refreshErr.Error()
	}
	return s
}

// Failures is the number of consecutive failed refreshes.
func (t *Tracker) Failures() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures
}
