package metrics

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Label keys allowed on any instrument. Account ids, emails and flag names
// never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":        {},
	"outcome":     {},
	"endpoint":    {},
	"method":      {},
	"route":       {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes drops labels outside the allow list.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}
