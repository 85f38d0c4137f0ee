package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bazari"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"

	// SkipLockHeld and SkipLockLost label cycles the cron worker did not
	// finish because another instance owns the lock.
	SkipLockHeld = "lock_held"
	SkipLockLost = "lock_lost"
)

// CronJobMetrics tracks scheduled job runs. A nil value records nothing.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	processed   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	skipped     *prometheus.CounterVec
	now         func() time.Time
}

// NewCronJobMetrics registers the cron collectors on reg.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job run.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Job runs by outcome.",
		}, []string{"job", "outcome"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_items_processed_total",
			Help:      "Rows touched by job runs.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "cycles_skipped_total",
			Help:      "Cycles not run to completion on this instance.",
		}, []string{"reason"}),
		now: time.Now,
	}
	reg.MustRegister(m.duration, m.runs, m.processed, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one finished job run; err decides the outcome label.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, processed int, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if processed > 0 {
		c.processed.WithLabelValues(job).Add(float64(processed))
	}
	if err != nil {
		c.runs.WithLabelValues(job, outcomeFailure).Inc()
		return
	}
	c.runs.WithLabelValues(job, outcomeSuccess).Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(c.now().Unix()))
}

// IncSkipped counts a cycle cut short for reason.
func (c *CronJobMetrics) IncSkipped(reason string) {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
