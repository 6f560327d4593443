package filter

import "ffwd/internal/model"

// Filter decides whether a record is admitted.
// Params: metric or event record.
// Returns: true when the record matches; implementations never panic and keep no state.
type Filter interface {
	MatchesMetric(metric model.Metric) bool
	MatchesEvent(event model.Event) bool
}

// True matches every record.
type True struct{}

// MatchesMetric always admits.
func (True) MatchesMetric(model.Metric) bool { return true }

// MatchesEvent always admits.
func (True) MatchesEvent(model.Event) bool { return true }

// False rejects every record.
type False struct{}

// MatchesMetric always rejects.
func (False) MatchesMetric(model.Metric) bool { return false }

// MatchesEvent always rejects.
func (False) MatchesEvent(model.Event) bool { return false }

// And matches when all children match; an empty And matches everything.
// Params: ordered child filters evaluated left to right.
// Returns: conjunction filter short-circuiting on first rejection.
type And struct {
	Children []Filter
}

// MatchesMetric evaluates children until one rejects.
func (f And) MatchesMetric(metric model.Metric) bool {
	for _, child := range f.Children {
		if !OrTrue(child).MatchesMetric(metric) {
			return false
		}
	}
	return true
}

// MatchesEvent evaluates children until one rejects.
func (f And) MatchesEvent(event model.Event) bool {
	for _, child := range f.Children {
		if !OrTrue(child).MatchesEvent(event) {
			return false
		}
	}
	return true
}

// Or matches when any child matches; an empty Or matches nothing.
// Params: ordered child filters evaluated left to right.
// Returns: disjunction filter short-circuiting on first match.
type Or struct {
	Children []Filter
}

// MatchesMetric evaluates children until one admits.
func (f Or) MatchesMetric(metric model.Metric) bool {
	for _, child := range f.Children {
		if OrTrue(child).MatchesMetric(metric) {
			return true
		}
	}
	return false
}

// MatchesEvent evaluates children until one admits.
func (f Or) MatchesEvent(event model.Event) bool {
	for _, child := range f.Children {
		if OrTrue(child).MatchesEvent(event) {
			return true
		}
	}
	return false
}

// Not negates its child; a nil child is treated as True.
type Not struct {
	Child Filter
}

// MatchesMetric negates child result.
func (f Not) MatchesMetric(metric model.Metric) bool {
	return !OrTrue(f.Child).MatchesMetric(metric)
}

// MatchesEvent negates child result.
func (f Not) MatchesEvent(event model.Event) bool {
	return !OrTrue(f.Child).MatchesEvent(event)
}

// MatchKey matches records whose key equals Value.
type MatchKey struct {
	Value string
}

// MatchesMetric compares metric key.
func (f MatchKey) MatchesMetric(metric model.Metric) bool {
	return metric.Key == f.Value
}

// MatchesEvent compares event key.
func (f MatchKey) MatchesEvent(event model.Event) bool {
	return event.Key == f.Value
}

// MatchTag matches records carrying attribute Key with exact Value.
// Params: attribute name and expected value.
// Returns: false when attribute is absent or differs.
type MatchTag struct {
	Key   string
	Value string
}

// MatchesMetric checks metric attributes.
func (f MatchTag) MatchesMetric(metric model.Metric) bool {
	return matchAttribute(metric.Attributes, f.Key, f.Value)
}

// MatchesEvent checks event attributes.
func (f MatchTag) MatchesEvent(event model.Event) bool {
	return matchAttribute(event.Attributes, f.Key, f.Value)
}

// Type matches records of one kind only.
type Type struct {
	Kind model.Kind
}

// MatchesMetric admits when filter targets metrics.
func (f Type) MatchesMetric(model.Metric) bool {
	return f.Kind == model.KindMetric
}

// MatchesEvent admits when filter targets events.
func (f Type) MatchesEvent(model.Event) bool {
	return f.Kind == model.KindEvent
}

func matchAttribute(attributes map[string]string, key, value string) bool {
	got, ok := attributes[key]
	return ok && got == value
}

// OrTrue returns f, or True when f is nil.
// Params: optional filter.
// Returns: non-nil filter.
func OrTrue(f Filter) Filter {
	if f == nil {
		return True{}
	}
	return f
}
