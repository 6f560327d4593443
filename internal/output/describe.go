package output

import (
	"fmt"
	"sort"
	"strings"

	"ffwd/internal/model"
)

func describeMetric(metric model.Metric) string {
	return fmt.Sprintf(
		"key=%s value=%g host=%s time=%d tags=%v attributes=%s",
		metric.Key, metric.Value, metric.Host, unixMillis(metric), metric.Tags, describeAttributes(metric.Attributes),
	)
}

func describeEvent(event model.Event) string {
	var millis int64
	if !event.Time.IsZero() {
		millis = event.Time.UnixMilli()
	}
	return fmt.Sprintf(
		"key=%s value=%g host=%s time=%d ttl=%d state=%s tags=%v attributes=%s",
		event.Key, event.Value, event.Host, millis, event.TTL, event.State, event.Tags, describeAttributes(event.Attributes),
	)
}

func unixMillis(metric model.Metric) int64 {
	if metric.Time.IsZero() {
		return 0
	}
	return metric.Time.UnixMilli()
}

func describeAttributes(attributes map[string]string) string {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+attributes[name])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
