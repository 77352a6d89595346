// Package metrics exposes Prometheus instrumentation for edit requests and providers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace         = "editbot"
	MetricsSubsystemSystem   = "system"
	MetricsSubsystemRequests = "requests"
	MetricsSubsystemProvider = "provider"

	// Request kinds
	RequestEdit          = "edit"
	RequestMissingPrompt = "missing_prompt"
	RequestNoImage       = "no_image"
	RequestFetchFailed   = "fetch_failed"

	// Provider results
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveEditRequest(kind string)
	ObserveProviderOutcome(provider, result string, elapsed float64)
}

// metrics used to instrument the bot in prometheus.
type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge

	requestsTotal    *prometheus.CounterVec
	providerOutcomes *prometheus.CounterVec
	providerTime     *prometheus.HistogramVec
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the bot started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemRequests,
		Name:      "total",
		Help:      "The total number of edit commands received, by kind.",
	}, []string{"kind"})
	m.registry.MustRegister(m.requestsTotal)

	m.providerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemProvider,
		Name:      "outcomes_total",
		Help:      "The total number of provider outcomes, by provider and result.",
	}, []string{"provider", "result"})
	m.registry.MustRegister(m.providerOutcomes)

	m.providerTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemProvider,
		Name:      "time_seconds",
		Help:      "Time until a provider outcome was known.",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 180, 300},
	}, []string{"provider", "result"})
	m.registry.MustRegister(m.providerTime)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveEditRequest(kind string) {
	if m != nil {
		m.requestsTotal.With(prometheus.Labels{"kind": kind}).Inc()
	}
}

func (m *metrics) ObserveProviderOutcome(provider, result string, elapsed float64) {
	if m != nil {
		labels := prometheus.Labels{"provider": provider, "result": result}
		m.providerOutcomes.With(labels).Inc()
		m.providerTime.With(labels).Observe(elapsed)
	}
}
