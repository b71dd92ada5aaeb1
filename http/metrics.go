package http

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// metrics are the instruments shared by every connection of a server.
type metrics struct {
	tracer trace.Tracer

	requests     metric.Int64Counter
	bytesParsed  metric.Int64Counter
	bytesWritten metric.Int64Counter
	active       metric.Int64UpDownCounter
	parseErrors  metric.Int64Counter
	wsMessages   metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(loggerName)
	m := &metrics{tracer: otel.Tracer(loggerName)}

	var err error
	if m.requests, err = meter.Int64Counter("hopper.requests",
		metric.WithDescription("Requests answered, by method and status"),
		metric.WithUnit("{request}")); err != nil {
		otel.Handle(err)
	}
	if m.bytesParsed, err = meter.Int64Counter("hopper.bytes.parsed",
		metric.WithDescription("Bytes received and fed to the parsers"),
		metric.WithUnit("By")); err != nil {
		otel.Handle(err)
	}
	if m.bytesWritten, err = meter.Int64Counter("hopper.bytes.written",
		metric.WithDescription("Bytes handed to the transport"),
		metric.WithUnit("By")); err != nil {
		otel.Handle(err)
	}
	if m.active, err = meter.Int64UpDownCounter("hopper.connections.active",
		metric.WithDescription("Open connections"),
		metric.WithUnit("{connection}")); err != nil {
		otel.Handle(err)
	}
	if m.parseErrors, err = meter.Int64Counter("hopper.parse.errors",
		metric.WithDescription("Messages rejected by the parsers, by kind"),
		metric.WithUnit("{error}")); err != nil {
		otel.Handle(err)
	}
	if m.wsMessages, err = meter.Int64Counter("hopper.websocket.messages",
		metric.WithDescription("WebSocket messages received, by opcode"),
		metric.WithUnit("{message}")); err != nil {
		otel.Handle(err)
	}
	return m
}

func (m *metrics) request(ctx context.Context, method string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.Int("http.response.status_code", status)))
}

func (m *metrics) parseError(err error) {
	m.parseErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", errorKind(err))))
}

func (m *metrics) wsMessage(opcode string) {
	m.wsMessages.Add(context.Background(), 1, metric.WithAttributes(attribute.String("opcode", opcode)))
}
