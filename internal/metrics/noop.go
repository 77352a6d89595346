package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NoopMetrics is a no-operation implementation of the Metrics interface for testing.
type NoopMetrics struct {
}

// NewNoopMetrics creates a new instance of NoopMetrics.
func NewNoopMetrics() Metrics {
	return &NoopMetrics{}
}

// GetRegistry returns a new empty registry.
func (m *NoopMetrics) GetRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ObserveEditRequest is a no-op implementation.
func (m *NoopMetrics) ObserveEditRequest(kind string) {
	// No-op
}

// ObserveProviderOutcome is a no-op implementation.
func (m *NoopMetrics) ObserveProviderOutcome(provider, result string, elapsed float64) {
	// No-op
}
