package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// StreamMeter records per-stream socket-worker metrics via otel,
// generalized from the teacher's streamMetrics (reconnects, control
// messages, message bytes, ping latency, active subscriptions) from
// Binance-specific names to exchange/stream labels.
type StreamMeter struct {
	exchange string

	reconnects       metric.Int64Counter
	controlMessages  metric.Int64Counter
	messagesReceived metric.Int64Counter
	messageBytes     metric.Int64Histogram
	pingLatency      metric.Float64Histogram
	subscriptions    metric.Int64UpDownCounter
	venueErrors      metric.Int64Counter
}

// NewStreamMeter builds a StreamMeter for exchange using the global
// otel meter provider.
func NewStreamMeter(exchange string) *StreamMeter {
	meter := otel.Meter("streamsupervisor")
	sm := &StreamMeter{exchange: exchange}

	sm.reconnects, _ = meter.Int64Counter("streamsupervisor_ws_reconnects",
		metric.WithDescription("Number of websocket reconnect attempts"),
		metric.WithUnit("{reconnect}"))

	sm.controlMessages, _ = meter.Int64Counter("streamsupervisor_ws_control_messages",
		metric.WithDescription("Control messages sent by stream workers"),
		metric.WithUnit("{message}"))

	sm.messagesReceived, _ = meter.Int64Counter("streamsupervisor_ws_messages",
		metric.WithDescription("Stream messages received from exchange websocket connections"),
		metric.WithUnit("{message}"))

	sm.messageBytes, _ = meter.Int64Histogram("streamsupervisor_ws_message_bytes",
		metric.WithDescription("Size of received websocket stream messages"),
		metric.WithUnit("By"))

	sm.pingLatency, _ = meter.Float64Histogram("streamsupervisor_ws_ping_latency",
		metric.WithDescription("Latency of ping frames on exchange websocket connections"),
		metric.WithUnit("ms"))

	sm.subscriptions, _ = meter.Int64UpDownCounter("streamsupervisor_ws_active_subscriptions",
		metric.WithDescription("Active websocket subscriptions tracked per stream"),
		metric.WithUnit("{subscription}"))

	sm.venueErrors, _ = meter.Int64Counter("streamsupervisor_ws_errors",
		metric.WithDescription("Errors observed by stream workers, by classification"),
		metric.WithUnit("{error}"))

	return sm
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// RecordReconnect records a reconnect attempt for stream, tagged with
// its outcome ("restarting", "crashed").
func (sm *StreamMeter) RecordReconnect(ctx context.Context, stream, result string) {
	if sm == nil || sm.reconnects == nil {
		return
	}
	sm.reconnects.Add(ensureContext(ctx), 1, metric.WithAttributes(ResultAttributes(sm.exchange, stream, result)...))
}

// RecordControl records count control messages (subscribe/unsubscribe
// chunks) sent for stream.
func (sm *StreamMeter) RecordControl(ctx context.Context, stream string, count int) {
	if sm == nil || sm.controlMessages == nil || count == 0 {
		return
	}
	sm.controlMessages.Add(ensureContext(ctx), int64(count), metric.WithAttributes(StreamAttributes(sm.exchange, stream)...))
}

// RecordMessage records one received frame of the given size.
func (sm *StreamMeter) RecordMessage(ctx context.Context, stream string, bytes int) {
	if sm == nil || sm.messagesReceived == nil || bytes <= 0 {
		return
	}
	attrs := metric.WithAttributes(StreamAttributes(sm.exchange, stream)...)
	sm.messagesReceived.Add(ensureContext(ctx), 1, attrs)
	sm.messageBytes.Record(ensureContext(ctx), int64(bytes), attrs)
}

// RecordPing records ping round-trip latency for stream.
func (sm *StreamMeter) RecordPing(ctx context.Context, stream string, latency time.Duration, result string) {
	if sm == nil || sm.pingLatency == nil {
		return
	}
	if latency < 0 {
		latency = 0
	}
	sm.pingLatency.Record(ensureContext(ctx), float64(latency.Milliseconds()), metric.WithAttributes(ResultAttributes(sm.exchange, stream, result)...))
}

// AdjustSubscriptions applies delta to the active-subscription gauge
// for stream.
func (sm *StreamMeter) AdjustSubscriptions(ctx context.Context, stream string, delta int) {
	if sm == nil || sm.subscriptions == nil || delta == 0 {
		return
	}
	sm.subscriptions.Add(ensureContext(ctx), int64(delta), metric.WithAttributes(StreamAttributes(sm.exchange, stream)...))
}

// RecordError records a classified error for stream.
func (sm *StreamMeter) RecordError(ctx context.Context, stream, operation, reason string) {
	if sm == nil || sm.venueErrors == nil {
		return
	}
	sm.venueErrors.Add(ensureContext(ctx), 1, metric.WithAttributes(OperationAttributes(sm.exchange, operation, reason)...))
}

// ClassifyTransportError mirrors the teacher's classifyBinanceError:
// a cheap message-substring classifier used when the transport library
// returns an opaque error instead of a typed one.
func ClassifyTransportError(err error) (operation, reason string) {
	if err == nil {
		return "", ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "dial"):
		return "socket.dial", "dial_error"
	case strings.Contains(msg, "proxy"):
		return "socket.proxy", "proxy_handshake"
	case strings.Contains(msg, "tls"):
		return "socket.tls", "tls_error"
	case strings.Contains(msg, "reset"):
		return "socket.read", "connection_reset"
	case strings.Contains(msg, "timeout"):
		return "socket.io", "timeout"
	case strings.Contains(msg, "closed"):
		return "socket.read", "peer_closed"
	default:
		return "socket", "error"
	}
}
