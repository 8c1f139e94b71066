package metrics

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func routeAttribute(route string) attribute.KeyValue {
	return attribute.String("route", route)
}

// statusClassAttribute buckets an HTTP status into its class (2xx, 4xx,
// ...) rather than the exact code, keeping cardinality bounded.
func statusClassAttribute(status int) attribute.KeyValue {
	class := strconv.Itoa(status/100) + "xx"
	return attribute.String("status_class", class)
}
