// Package jobmetrics instruments background task runs.
package jobmetrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded in the status label of cmms_jobs_total.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusDiscarded = "discarded"
	StatusSkipped   = "skipped"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	findings    *prometheus.CounterVec
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. A nil
// registerer yields the process-wide instance on the default registry, so
// several handlers can share it without double registration.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
	skipped bool
}

// Track starts a tracker for the given task type.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: m.now()}
}

// Skip marks the run as having done no work, e.g. another replica held the lock.
func (t *Tracker) Skip() {
	if t != nil {
		t.skipped = true
	}
}

// End records the run and returns err untouched. Errors wrapping
// asynq.SkipRetry count as discarded: the task will not be retried, so they
// are not failures of the worker itself.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := StatusSuccess
	switch {
	case err != nil && errors.Is(err, asynq.SkipRetry):
		status = StatusDiscarded
	case err != nil:
		status = StatusFailure
		t.metrics.failures.WithLabelValues(t.job).Inc()
	case t.skipped:
		status = StatusSkipped
	}
	end := t.metrics.now()
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(end.Sub(t.start).Seconds())
	if status == StatusSuccess {
		t.metrics.lastSuccess.WithLabelValues(t.job).Set(float64(end.Unix()))
	}
	return err
}

// AddLedgerFindings counts ledger audit findings of one kind (chain_break or
// drift) for a company.
func (m *Metrics) AddLedgerFindings(kind string, companyID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.findings.WithLabelValues(kind, strconv.FormatInt(max(companyID, 0), 10)).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_jobs_failures_total",
		Help: "Job executions that failed and will be retried by the queue.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmms_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cmms_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job.",
	}, []string{"job"})
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_ledger_audit_findings_total",
		Help: "Stock ledger chain breaks and balance drifts found by the audit sweep.",
	}, []string{"kind", "company"})
	registerer.MustRegister(runs, failures, duration, lastSuccess, findings)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		lastSuccess: lastSuccess,
		findings:    findings,
		now:         time.Now,
	}
}
