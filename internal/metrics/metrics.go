// Package metrics declares the OpenTelemetry instruments memoryd exposes
// for its own operational state: queue depth, connected SSE clients, and
// HTTP handler latency. cmd/memoryd does not install a MeterProvider, so
// the global no-op one stays in place unless the process sets another;
// this package only owns instrument definitions and the callbacks that feed them.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/lukaszraczylo/memoryd"

// Instruments holds every metric memoryd reports. Constructed once per
// process and threaded into the components that have numbers to report.
type Instruments struct {
	meter metric.Meter

	queueDepth   metric.Int64ObservableGauge
	sseClients   metric.Int64ObservableGauge
	httpDuration metric.Float64Histogram
}

// New registers memoryd's instruments against the global MeterProvider.
// queueDepthFn and sseClientsFn are polled by the SDK at collection time,
// matching the pull model observable gauges are built for — neither needs
// its own background goroutine.
func New(queueDepthFn func() int64, sseClientsFn func() int64) (*Instruments, error) {
	meter := otel.Meter(instrumentationName)

	in := &Instruments{meter: meter}

	queueDepth, err := meter.Int64ObservableGauge(
		"memoryd.queue.depth",
		metric.WithDescription("Total pending messages across every active session."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(queueDepthFn())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	in.queueDepth = queueDepth

	sseClients, err := meter.Int64ObservableGauge(
		"memoryd.sse.clients",
		metric.WithDescription("Number of connected SSE dashboard clients."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(sseClientsFn())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	in.sseClients = sseClients

	httpDuration, err := meter.Float64Histogram(
		"memoryd.http.request.duration",
		metric.WithDescription("HTTP handler duration in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	in.httpDuration = httpDuration

	return in, nil
}

// RecordHTTPDuration records one handled request's duration in seconds,
// tagged with its route pattern and status class.
func (in *Instruments) RecordHTTPDuration(ctx context.Context, route string, status int, seconds float64) {
	in.httpDuration.Record(ctx, seconds, metric.WithAttributes(
		routeAttribute(route),
		statusClassAttribute(status),
	))
}
