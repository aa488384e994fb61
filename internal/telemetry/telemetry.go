// Package telemetry exposes Prometheus metrics for the ingestion and probe
// cycles. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dataset_monitor"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// categoryOK labels probes that did not fail.
const categoryOK = "ok"

// Metrics holds all dataset-monitor Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	CredentialRefresh *prometheus.CounterVec
	Discovered        *prometheus.CounterVec
	Details           *prometheus.CounterVec
	Probes            *prometheus.CounterVec
	ProbeDuration     prometheus.Histogram
	LocalIssueRatio   prometheus.Gauge
	LastRun           *prometheus.GaugeVec
}

// New registers the metrics on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CredentialRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refresh_total",
			Help:      "Ticket requests per provider and result",
		}, []string{"provider", "result"}),
		Discovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_total",
			Help:      "New dataset ids persisted as pending",
		}, []string{"provider"}),
		Details: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "details_total",
			Help:      "Dataset detail fetches per provider and result",
		}, []string{"provider", "result"}),
		Probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Completed URL probes by error category",
		}, []string{"category"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of individual URL probes",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LocalIssueRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_local_issue_ratio",
			Help:      "Share of probes in the last run that failed for likely local reasons",
		}),
		LastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished cycle",
		}, []string{"cycle"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCredentialRefresh counts a ticket request.
func (m *Metrics) RecordCredentialRefresh(provider string, err error) {
	if m == nil {
		return
	}
	m.CredentialRefresh.WithLabelValues(provider, result(err)).Inc()
}

// RecordDiscovered counts newly persisted ids.
func (m *Metrics) RecordDiscovered(provider string, n int) {
	if m == nil {
		return
	}
	m.Discovered.WithLabelValues(provider).Add(float64(n))
}

// RecordDetail counts one detail fetch.
func (m *Metrics) RecordDetail(provider string, err error) {
	if m == nil {
		return
	}
	m.Details.WithLabelValues(provider, result(err)).Inc()
}

// RecordProbe counts one completed probe. An empty category is a success.
func (m *Metrics) RecordProbe(category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if category == "" {
		category = categoryOK
	}
	m.Probes.WithLabelValues(category).Inc()
	m.ProbeDuration.Observe(elapsed.Seconds())
}

// RecordProbeRun stores the local issue ratio of a finished probe run.
func (m *Metrics) RecordProbeRun(total, local int) {
	if m == nil {
		return
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(local) / float64(total)
	}
	m.LocalIssueRatio.Set(ratio)
}

// RecordCycle marks a cycle ("fetch" or "monitor") as finished now.
func (m *Metrics) RecordCycle(cycle string) {
	if m == nil {
		return
	}
	m.LastRun.WithLabelValues(cycle).SetToCurrentTime()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
