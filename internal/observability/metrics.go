package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records connector instruments. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	base []attribute.KeyValue

	eventsProcessed metric.Int64Counter
	orderUpdates    metric.Int64Counter
	unknownStatuses metric.Int64Counter
	renewals        metric.Int64Counter
	heartbeats      metric.Int64Counter
	restLatency     metric.Float64Histogram
	dispatchDrops   metric.Int64Counter
	sinkErrors      metric.Int64Counter
}

// NewMetrics registers connector instruments on the global meter provider.
func NewMetrics(environment, platform, account, symbol string) *Metrics {
	meter := otel.Meter("connector.binance")
	m := &Metrics{
		base: []attribute.KeyValue{
			attribute.String("environment", environment),
			attribute.String("platform", platform),
			attribute.String("account", account),
			attribute.String("symbol", symbol),
		},
	}

	m.eventsProcessed, _ = meter.Int64Counter("trader_stream_events_processed",
		metric.WithDescription("Streamed user data events handled by the reconciler"),
		metric.WithUnit("{event}"))

	m.orderUpdates, _ = meter.Int64Counter("trader_order_updates",
		metric.WithDescription("Order update notifications emitted"),
		metric.WithUnit("{update}"))

	m.unknownStatuses, _ = meter.Int64Counter("trader_unknown_order_status",
		metric.WithDescription("Order rows or events skipped because of an unrecognized status"),
		metric.WithUnit("{status}"))

	m.renewals, _ = meter.Int64Counter("trader_listen_key_renewals",
		metric.WithDescription("Listen key renewal attempts"),
		metric.WithUnit("{renewal}"))

	m.heartbeats, _ = meter.Int64Counter("trader_stream_heartbeats",
		metric.WithDescription("Liveness probes sent over the user data stream"),
		metric.WithUnit("{ping}"))

	m.restLatency, _ = meter.Float64Histogram("trader_rest_request_latency",
		metric.WithDescription("REST request latency by endpoint"),
		metric.WithUnit("ms"))

	m.dispatchDrops, _ = meter.Int64Counter("trader_dispatch_dropped",
		metric.WithDescription("Notifications dropped because the dispatch queue was full"),
		metric.WithUnit("{notification}"))

	m.sinkErrors, _ = meter.Int64Counter("trader_sink_errors",
		metric.WithDescription("Order sink delivery failures"),
		metric.WithUnit("{error}"))

	return m
}

func (m *Metrics) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	out := make([]attribute.KeyValue, 0, len(m.base)+len(extra))
	out = append(out, m.base...)
	out = append(out, extra...)
	return metric.WithAttributes(out...)
}

// RecordEvent counts one processed stream event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType, result string) {
	if m == nil || m.eventsProcessed == nil {
		return
	}
	m.eventsProcessed.Add(ctx, 1, m.attrs(attribute.String("event_type", eventType), attribute.String("result", result)))
}

// RecordOrderUpdate counts one order notification.
func (m *Metrics) RecordOrderUpdate(ctx context.Context, status string) {
	if m == nil || m.orderUpdates == nil {
		return
	}
	m.orderUpdates.Add(ctx, 1, m.attrs(attribute.String("status", status)))
}

// RecordUnknownStatus counts a skipped row or event.
func (m *Metrics) RecordUnknownStatus(ctx context.Context, status, source string) {
	if m == nil || m.unknownStatuses == nil {
		return
	}
	m.unknownStatuses.Add(ctx, 1, m.attrs(attribute.String("raw_status", status), attribute.String("source", source)))
}

// RecordRenewal counts a renewal attempt.
func (m *Metrics) RecordRenewal(ctx context.Context, err error) {
	if m == nil || m.renewals == nil {
		return
	}
	m.renewals.Add(ctx, 1, m.attrs(attribute.String("result", result(err))))
}

// RecordHeartbeat counts a liveness probe.
func (m *Metrics) RecordHeartbeat(ctx context.Context, err error) {
	if m == nil || m.heartbeats == nil {
		return
	}
	m.heartbeats.Add(ctx, 1, m.attrs(attribute.String("result", result(err))))
}

// RecordREST records latency for one REST call.
func (m *Metrics) RecordREST(ctx context.Context, endpoint string, status int, elapsed time.Duration) {
	if m == nil || m.restLatency == nil {
		return
	}
	m.restLatency.Record(ctx, float64(elapsed.Microseconds())/1000,
		m.attrs(attribute.String("endpoint", endpoint), attribute.Int("http_status", status)))
}

// RecordDispatchDrop counts a rejected notification.
func (m *Metrics) RecordDispatchDrop(ctx context.Context, kind string) {
	if m == nil || m.dispatchDrops == nil {
		return
	}
	m.dispatchDrops.Add(ctx, 1, m.attrs(attribute.String("kind", kind)))
}

// RecordSinkError counts a failed sink delivery.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	if m == nil || m.sinkErrors == nil {
		return
	}
	m.sinkErrors.Add(ctx, 1, m.attrs(attribute.String("sink", sink)))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
