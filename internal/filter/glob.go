package filter

import (
	"strings"

	"ffwd/internal/model"
)

// KeyGlob matches records whose key fits a '*' wildcard pattern.
// Params: build with NewKeyGlob; "*" alone matches every key.
// Returns: filter usable in any expression tree.
type KeyGlob struct {
	Pattern  string
	segments []string
}

// NewKeyGlob compiles pattern into a key filter.
// Params: pattern such as "system*" or "*-usage"; surrounding space is trimmed.
// Returns: compiled filter.
func NewKeyGlob(pattern string) KeyGlob {
	pattern = strings.TrimSpace(pattern)
	return KeyGlob{Pattern: pattern, segments: strings.Split(pattern, "*")}
}

// MatchesMetric matches metric key.
func (f KeyGlob) MatchesMetric(metric model.Metric) bool {
	return f.match(metric.Key)
}

// MatchesEvent matches event key.
func (f KeyGlob) MatchesEvent(event model.Event) bool {
	return f.match(event.Key)
}

func (f KeyGlob) match(key string) bool {
	segments := f.segments
	if segments == nil {
		segments = strings.Split(f.Pattern, "*")
	}
	if len(segments) == 1 {
		return key == segments[0]
	}

	head, tail := segments[0], segments[len(segments)-1]
	if !strings.HasPrefix(key, head) {
		return false
	}
	rest := key[len(head):]
	for _, middle := range segments[1 : len(segments)-1] {
		idx := strings.Index(rest, middle)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(middle):]
	}
	return strings.HasSuffix(rest, tail)
}
