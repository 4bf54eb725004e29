package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records counters and gauges through an OpenTelemetry meter.
// Instruments are created lazily and cached by name.
type OTelMetrics struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	gauges   map[string]metric.Float64Gauge
}

// NewOTelMetrics wraps a meter provider into the Metrics interface.
func NewOTelMetrics(provider metric.MeterProvider) *OTelMetrics {
	return &OTelMetrics{
		meter:    provider.Meter("litebridge"),
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

// IncCounter adds value to the named counter.
func (m *OTelMetrics) IncCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		created, err := m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = created
		counter = created
	}
	m.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

// SetGauge records the named gauge's current value.
func (m *OTelMetrics) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		created, err := m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = created
		gauge = created
	}
	m.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

func attrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		out = append(out, attribute.String(key, value))
	}
	return out
}
