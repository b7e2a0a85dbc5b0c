package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "panosync"

// Run outcomes used as the "outcome" label of the runs counter.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Metrics counts pipeline activity. A nil *Metrics is valid and records
// nothing, so components and tests can run without a registry.
type Metrics struct {
	archived   prometheus.Counter
	uploaded   prometheus.Counter
	polls      prometheus.Counter
	downloaded prometheus.Counter
	runs       *prometheus.CounterVec
}

// NewMetrics creates the pipeline counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_archived_total",
			Help:      "Captures copied into the local archive.",
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_uploaded_total",
			Help:      "Captures uploaded to the cloud service.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_polls_total",
			Help:      "Task queue polls issued while waiting for processing.",
		}),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "panoramas_downloaded_total",
			Help:      "Processed panoramas written to local storage.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.archived, m.uploaded, m.polls, m.downloaded, m.runs)

	return m
}

func (m *Metrics) addArchived(n int) {
	if m != nil {
		m.archived.Add(float64(n))
	}
}

func (m *Metrics) incUploaded() {
	if m != nil {
		m.uploaded.Inc()
	}
}

func (m *Metrics) incPolls() {
	if m != nil {
		m.polls.Inc()
	}
}

func (m *Metrics) incDownloaded() {
	if m != nil {
		m.downloaded.Inc()
	}
}

func (m *Metrics) incRun(outcome string) {
	if m != nil {
		m.runs.WithLabelValues(outcome).Inc()
	}
}
