package observability

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Metric names recorded by the connector.
const (
	MetricReconnects      = "litebridge_stream_reconnects_total"
	MetricSequenceGaps    = "litebridge_book_sequence_gaps_total"
	MetricRebootstraps    = "litebridge_book_rebootstraps_total"
	MetricLifecycleEvents = "litebridge_order_events_total"
	MetricActiveOrders    = "litebridge_active_orders"
	MetricPollRuns        = "litebridge_poll_runs_total"
)

// NopMetrics returns a metrics recorder that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

type nopMetrics struct{}

func (nopMetrics) IncCounter(string, float64, map[string]string) {}
func (nopMetrics) SetGauge(string, float64, map[string]string)   {}
