package observability

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by every metric this module emits, renamed
// from the teacher's order/balance domain to the stream-supervisor
// domain (exchange, stream, result) but kept as the same small set of
// attribute.Key constants plus helper builders.
const (
	AttrEnvironment attribute.Key = "environment"
	AttrExchange    attribute.Key = "exchange"
	AttrStream      attribute.Key = "stream"
	AttrEndpoint    attribute.Key = "endpoint"
	AttrStatus      attribute.Key = "status"
	AttrResult      attribute.Key = "result"
	AttrReason      attribute.Key = "reason"
	AttrOperation   attribute.Key = "operation"
)

var processEnvironment = "production"

// SetEnvironment overrides the environment label attached to every
// metric (e.g. "staging", "production").
func SetEnvironment(env string) {
	if env == "" {
		return
	}
	processEnvironment = env
}

// Environment returns the current environment label.
func Environment() string {
	return processEnvironment
}

// StreamAttributes builds the base attribute set every stream metric
// is tagged with.
func StreamAttributes(exchange, stream string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(processEnvironment),
		AttrExchange.String(exchange),
		AttrStream.String(stream),
	}
}

// ResultAttributes extends StreamAttributes with a result label, used
// for reconnect and ping outcomes.
func ResultAttributes(exchange, stream, result string) []attribute.KeyValue {
	attrs := StreamAttributes(exchange, stream)
	if result != "" {
		attrs = append(attrs, AttrResult.String(result))
	}
	return attrs
}

// OperationAttributes tags an error/operation metric.
func OperationAttributes(exchange, operation, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(processEnvironment),
		AttrExchange.String(exchange),
		AttrOperation.String(operation),
	}
	if reason != "" {
		attrs = append(attrs, AttrReason.String(reason))
	}
	return attrs
}
