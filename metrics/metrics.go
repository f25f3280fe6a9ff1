// Package metrics exposes the events of a pool as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/jirevwe/jerry/pool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors and implements pool.Observer.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsStarted   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsPanicked  prometheus.Counter
	JobsDropped   prometheus.Counter
	BusyExecutors prometheus.Gauge
	JobLatency    prometheus.Histogram
	Terminations  *prometheus.CounterVec
}

var _ pool.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted by the pool",
		}),
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_started_total",
			Help:      "Total number of jobs an executor started running",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs that returned normally",
		}),
		JobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_panicked_total",
			Help:      "Total number of jobs that panicked",
		}),
		JobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_dropped_total",
			Help:      "Total number of jobs left with no executor to run them",
		}),
		BusyExecutors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "busy_executors",
			Help:      "Current number of executors running a job",
		}),
		JobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "job_duration_seconds",
			Help:      "Histogram of job execution time",
			Buckets:   prometheus.DefBuckets,
		}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "terminations_total",
			Help:      "Total number of pool goroutines stopped by a terminate message",
		}, []string{"tier"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.JobsSubmitted,
		m.JobsStarted,
		m.JobsCompleted,
		m.JobsPanicked,
		m.JobsDropped,
		m.BusyExecutors,
		m.JobLatency,
		m.Terminations,
	}
}

func (m *Metrics) OnJobSubmit(string) {
	m.JobsSubmitted.Inc()
}

func (m *Metrics) OnJobStart(pool.ID, string) {
	m.JobsStarted.Inc()
	m.BusyExecutors.Inc()
}

func (m *Metrics) OnJobFinish(_ pool.ID, _ string, elapsed time.Duration) {
	m.JobsCompleted.Inc()
	m.BusyExecutors.Dec()
	m.JobLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) OnJobPanic(pool.ID, string, any) {
	m.JobsPanicked.Inc()
	m.BusyExecutors.Dec()
}

func (m *Metrics) OnJobDropped(pool.ID, string) {
	m.JobsDropped.Inc()
}

func (m *Metrics) OnTerminate(id pool.ID) {
	tier := "executor"
	if id.IsWorker() {
		tier = "worker"
	}
	m.Terminations.WithLabelValues(tier).Inc()
}
