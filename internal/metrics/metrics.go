package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bher20/hdotariff/internal/tariff"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_requests_total",
			Help: "Total number of API requests per path",
		},
		[]string{"path"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hdotariff_request_duration_seconds",
			Help:    "Request duration in seconds per path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_request_errors_total",
			Help: "Total number of error responses per path and status code",
		},
		[]string{"path", "code"},
	)
)

var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_db_pool_total_conns",
			Help: "Total number of connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiredConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_db_pool_acquired_conns",
			Help: "Currently acquired (in-use) connections per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiresTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_db_pool_acquires",
			Help: "Cumulative number of connection acquires per driver",
		},
		[]string{"driver"},
	)
)

func UpdateDBPoolMetrics(driver string, total, idle, acquired float64, acquires int64) {
	DBPoolTotalConns.WithLabelValues(driver).Set(total)
	DBPoolIdleConns.WithLabelValues(driver).Set(idle)
	DBPoolAcquiredConns.WithLabelValues(driver).Set(acquired)
	DBPoolAcquiresTotal.WithLabelValues(driver).Set(float64(acquires))
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// Tariff state, refreshed on every tick.
var (
	LowTariffActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_low_tariff_active",
			Help: "1 while the low tariff is active, 0 otherwise, -1 when unknown",
		},
		[]string{"meter"},
	)

	RemainingSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_remaining_seconds",
			Help: "Seconds left in the current tariff window",
		},
		[]string{"meter"},
	)

	NextStartSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_next_start_seconds",
			Help: "Seconds until the next window of a kind starts, -1 when unknown",
		},
		[]string{"meter", "kind"},
	)

	Degraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_degraded",
			Help: "1 when the last result was computed from partial schedule data",
		},
		[]string{"meter"},
	)

	StoredDays = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_stored_days",
			Help: "Number of daily schedules held in memory",
		},
		[]string{"meter"},
	)

	QueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_query_errors_total",
			Help: "Ticks that could not be answered from stored schedules",
		},
		[]string{"meter"},
	)

	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_parse_errors_total",
			Help: "Raw schedule documents rejected by validation",
		},
		[]string{"meter"},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hdotariff_refreshes_total",
			Help: "Schedule refreshes per meter and result",
		},
		[]string{"meter", "result"},
	)

	LastRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hdotariff_last_refresh_timestamp",
			Help: "Unix timestamp of the last successful refresh",
		},
		[]string{"meter"},
	)
)

// ObserveResult exports one tick result.
func ObserveResult(meter string, res tariff.Result) {
	active := 0.0
	if res.LowActive() {
		active = 1
	}
	LowTariffActive.WithLabelValues(meter).Set(active)
	RemainingSeconds.WithLabelValues(meter).Set(float64(res.Remaining.Seconds))
	for _, k := range []tariff.Kind{tariff.Low, tariff.High} {
		v := -1.0
		if c := res.Next(k); c.Known {
			v = float64(c.Seconds)
		}
		NextStartSeconds.WithLabelValues(meter, string(k)).Set(v)
	}
	degraded := 0.0
	if res.Degraded {
		degraded = 1
	}
	Degraded.WithLabelValues(meter).Set(degraded)
}

// ObserveQueryError marks the meter state unknown.
func ObserveQueryError(meter string) {
	QueryErrorsTotal.WithLabelValues(meter).Inc()
	LowTariffActive.WithLabelValues(meter).Set(-1)
	Degraded.WithLabelValues(meter).Set(1)
}

func ObserveRefresh(meter string, err error) {
	if err != nil {
		RefreshesTotal.WithLabelValues(meter, "error").Inc()
		return
	}
	RefreshesTotal.WithLabelValues(meter, "ok").Inc()
	LastRefreshTimestamp.WithLabelValues(meter).Set(float64(time.Now().Unix()))
}
