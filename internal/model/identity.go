package model

import (
	"sort"
	"strings"
)

// identity renders key, host, and attributes into one deterministic string.
func identity(key, host string, attributes map[string]string) string {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	builder.WriteString(key)
	builder.WriteByte('|')
	builder.WriteString(host)
	for _, name := range names {
		builder.WriteByte('|')
		builder.WriteString(name)
		builder.WriteByte('=')
		builder.WriteString(attributes[name])
	}
	return builder.String()
}
