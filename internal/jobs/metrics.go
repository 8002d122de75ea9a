// Package jobmetrics instruments queued work such as mail delivery.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	enqueued *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against registerer, or the default
// Prometheus registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Enqueued counts a submission of task, successful or not.
func (m *Metrics) Enqueued(task string, err error) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(task, status(err)).Inc()
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts a tracker for task.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	t.metrics.runs.WithLabelValues(t.task, status(err)).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_jobs_enqueued_total",
		Help: "Task submissions partitioned by task type and status.",
	}, []string{"task", "status"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_jobs_total",
		Help: "Task executions partitioned by task type and status.",
	}, []string{"task", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_job_duration_seconds",
		Help:    "Duration in seconds of task executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	registerer.MustRegister(enqueued, runs, duration)
	return &Metrics{enqueued: enqueued, runs: runs, duration: duration}
}
