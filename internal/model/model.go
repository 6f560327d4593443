package model

import (
	"maps"
	"time"
)

// Metric is one immutable measurement forwarded by the agent.
// Params: key/value pair plus optional time, host, free-form tags, and attributes.
// Returns: metric record; enrichment produces copies instead of mutating.
type Metric struct {
	Key        string            `json:"key"`
	Value      float64           `json:"value"`
	Time       time.Time         `json:"time"`
	Host       string            `json:"host,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Proc       string            `json:"proc,omitempty"`
}

// Event is one immutable state change forwarded by the agent.
// Params: metric-like fields plus ttl, state, and description.
// Returns: event record; TTL zero means unset.
type Event struct {
	Key         string            `json:"key"`
	Value       float64           `json:"value"`
	Time        time.Time         `json:"time"`
	TTL         int64             `json:"ttl,omitempty"`
	State       string            `json:"state,omitempty"`
	Description string            `json:"description,omitempty"`
	Host        string            `json:"host,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Kind identifies record type for routing decisions.
type Kind string

const (
	KindMetric Kind = "metric"
	KindEvent  Kind = "event"
)

// HasTag reports free-form tag membership.
// Params: tag value to look up.
// Returns: true when tag is present.
func (m Metric) HasTag(tag string) bool {
	return containsTag(m.Tags, tag)
}

// HasTag reports free-form tag membership.
// Params: tag value to look up.
// Returns: true when tag is present.
func (e Event) HasTag(tag string) bool {
	return containsTag(e.Tags, tag)
}

// WithAttributes returns metric copy with provided attributes merged under record-owned ones.
// Params: defaults applied only for keys missing in the record.
// Returns: new metric value; receiver is not modified.
func (m Metric) WithAttributes(defaults map[string]string) Metric {
	m.Attributes = mergeAttributes(defaults, m.Attributes)
	m.Tags = cloneTags(m.Tags)
	return m
}

// WithAttributes returns event copy with provided attributes merged under record-owned ones.
// Params: defaults applied only for keys missing in the record.
// Returns: new event value; receiver is not modified.
func (e Event) WithAttributes(defaults map[string]string) Event {
	e.Attributes = mergeAttributes(defaults, e.Attributes)
	e.Tags = cloneTags(e.Tags)
	return e
}

// Identity returns stable identity string used to deduplicate series.
// Params: none.
// Returns: key plus sorted attributes.
func (m Metric) Identity() string {
	return identity(m.Key, m.Host, m.Attributes)
}

// Identity returns stable identity string used to deduplicate events.
// Params: none.
// Returns: key plus sorted attributes.
func (e Event) Identity() string {
	return identity(e.Key, e.Host, e.Attributes)
}

func containsTag(tags []string, tag string) bool {
	for _, candidate := range tags {
		if candidate == tag {
			return true
		}
	}
	return false
}

func mergeAttributes(defaults, own map[string]string) map[string]string {
	if len(defaults) == 0 && len(own) == 0 {
		return nil
	}
	merged := make(map[string]string, len(defaults)+len(own))
	maps.Copy(merged, defaults)
	maps.Copy(merged, own)
	return merged
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
