package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/bher20/hdotariff/internal/alerting"
	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/metrics"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/internal/tracker"
	"github.com/bher20/hdotariff/pkg/providers"
)

const (
	// SettingRefreshSchedule overrides the configured schedule at runtime.
	SettingRefreshSchedule = "refresh_schedule"
	// DefaultSchedule refreshes once a day, after the distributor has
	// published the next day.
	DefaultSchedule = "0 1 * * *"

	jobName = "refresh_schedules"
	// lockKey is "HDO" in ASCII.
	lockKey int64 = 0x48444f
)

// Options configures a Worker.
type Options struct {
	Schedule string
	// Retries is the number of extra attempts per meter after a failed fetch.
	Retries    uint64
	RetryDelay time.Duration
	// PollInterval is how often the control loop checks the schedule.
	PollInterval time.Duration
	Alerter      *alerting.Alerter
}

// Worker refreshes all meters on a cron schedule. Storage advisory locks keep
// multiple instances sharing a database from refreshing at the same time.
type Worker struct {
	svc  *tracker.Service
	st   storage.Storage
	opts Options

	mu       sync.Mutex
	failures map[string]int

	now func() time.Time
}

func NewWorker(svc *tracker.Service, opts Options) *Worker {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	return &Worker{
		svc:      svc,
		st:       svc.Storage(),
		opts:     opts,
		failures: make(map[string]int),
		now:      time.Now,
	}
}

// ValidSchedule reports whether setting is a positive number of seconds or a
// standard five field cron expression.
func ValidSchedule(setting string) error {
	if v, err := strconv.Atoi(setting); err == nil {
		if v <= 0 {
			return fmt.Errorf("interval must be positive, got %d", v)
		}
		return nil
	}
	if _, err := cron.ParseStandard(setting); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", setting, err)
	}
	return nil
}

// nextRun returns the next run after last. The setting is either integer
// seconds or a cron expression evaluated in loc.
func nextRun(setting string, last time.Time, loc *time.Location) time.Time {
	if v, err := strconv.Atoi(setting); err == nil && v > 0 {
		return last.Add(time.Duration(v) * time.Second)
	}
	if sched, err := cron.ParseStandard(setting); err == nil {
		return sched.Next(last.In(loc))
	}
	return last.Add(24 * time.Hour)
}

func (w *Worker) currentSchedule(ctx context.Context) string {
	if w.st == nil {
		return w.opts.Schedule
	}
	val, err := w.st.GetSetting(ctx, SettingRefreshSchedule)
	if err != nil || val == "" {
		return w.opts.Schedule
	}
	if err := ValidSchedule(val); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "cron: ignoring schedule override", slog.Any("error", err))
		return w.opts.Schedule
	}
	return val
}

// Run refreshes immediately, then on every scheduled time until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.Ctx(ctx)
	setting := w.currentSchedule(ctx)
	next := w.now()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "cron: worker starting", slog.String("schedule", setting))

	for {
		if updated := w.currentSchedule(ctx); updated != setting {
			logger.InfoContext(ctx, "cron: schedule updated",
				slog.String("from", setting), slog.String("to", updated))
			setting = updated
			next = nextRun(setting, w.now(), w.svc.Location())
		}

		if !w.now().Before(next) {
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "cron: run failed", slog.Any("error", err))
			}
			next = nextRun(setting, w.now(), w.svc.Location())
			logger.DebugContext(ctx, "cron: next run", slog.Time("at", next))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce refreshes every meter under the advisory lock. It reports false
// when another instance holds the lock.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	logger := log.Ctx(ctx)
	started := time.Now()

	if w.st != nil {
		ok, err := w.st.AcquireAdvisoryLock(ctx, lockKey)
		if err != nil {
			metrics.UpdateJobMetrics(jobName, started, err)
			return false, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !ok {
			logger.InfoContext(ctx, "cron: advisory lock held by another worker, skipping run")
			return false, nil
		}
		defer func() {
			if _, err := w.st.ReleaseAdvisoryLock(context.WithoutCancel(ctx), lockKey); err != nil {
				logger.ErrorContext(ctx, "cron: release advisory lock failed", slog.Any("error", err))
			}
		}()
	}

	var errs []error
	for _, t := range w.svc.Trackers() {
		if err := w.refresh(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", t.Meter().ID, err))
		}
	}
	runErr := errors.Join(errs...)

	metrics.UpdateJobMetrics(jobName, started, runErr)
	dur := time.Since(started)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if w.st != nil {
		if err := w.st.UpdateScheduledJob(ctx, jobName, started, dur, runErr == nil, errMsg); err != nil {
			logger.ErrorContext(ctx, "cron: update scheduled_jobs failed", slog.Any("error", err))
		}
	}

	if runErr != nil {
		logger.WarnContext(ctx, "cron: job completed with errors",
			slog.String("job", jobName), slog.Duration("duration", dur), slog.Any("error", runErr))
	} else {
		logger.InfoContext(ctx, "cron: job completed",
			slog.String("job", jobName), slog.Duration("duration", dur))
	}
	return true, runErr
}

// refresh retries fetch failures with exponential backoff. Documents that do
// not decode or validate are not retried.
func (w *Worker) refresh(ctx context.Context, t *tracker.Tracker) error {
	started := time.Now()
	attempts := 0
	backoff := retry.WithMaxRetries(w.opts.Retries, retry.NewExponential(w.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		_, err := t.Refresh(ctx)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})

	id := t.Meter().ID
	w.mu.Lock()
	if err == nil {
		delete(w.failures, id)
	} else {
		w.failures[id]++
	}
	failures := w.failures[id]
	w.mu.Unlock()

	if err != nil && w.opts.Alerter != nil {
		alert := alerting.RefreshAlert{
			Meter:               id,
			Distributor:         t.Meter().Distributor,
			Error:               err.Error(),
			Attempts:            attempts,
			ConsecutiveFailures: failures,
			DaysLeft:            daysLeft(t.Store(), w.now()),
			Duration:            time.Since(started),
			Timestamp:           w.now(),
		}
		if aerr := w.opts.Alerter.SendRefreshAlert(ctx, alert); aerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "cron: send alert failed",
				slog.String("meter", id), slog.Any("error", aerr))
		}
	}
	return err
}

// permanent reports errors caused by the document itself, which a refetch
// would only reproduce.
func permanent(err error) bool {
	var pe *tariff.ParseError
	return errors.As(err, &pe) ||
		errors.Is(err, providers.ErrParseFailed) ||
		errors.Is(err, providers.ErrSignalNotFound)
}

// daysLeft counts stored days from today on.
func daysLeft(store *tariff.Store, now time.Time) int {
	today := tariff.DateOf(now.In(store.Location()))
	n := 0
	for _, d := range store.Days() {
		if !d.Before(today) {
			n++
		}
	}
	return n
}
