package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricWithAttributes_RecordWins(t *testing.T) {
	original := Metric{
		Key:        "cpu",
		Tags:       []string{"a"},
		Attributes: map[string]string{"dc": "own"},
	}

	merged := original.WithAttributes(map[string]string{"dc": "default", "role": "db"})

	assert.Equal(t, map[string]string{"dc": "own", "role": "db"}, merged.Attributes)
	assert.Equal(t, map[string]string{"dc": "own"}, original.Attributes, "receiver must stay untouched")

	merged.Tags[0] = "changed"
	assert.Equal(t, "a", original.Tags[0])
}

func TestEventWithAttributes_NilMaps(t *testing.T) {
	event := Event{Key: "up"}.WithAttributes(nil)
	assert.Nil(t, event.Attributes)
}

func TestIdentity_IsOrderIndependent(t *testing.T) {
	left := Metric{Key: "k", Host: "h", Attributes: map[string]string{"a": "1", "b": "2"}}
	right := Metric{Key: "k", Host: "h", Attributes: map[string]string{"b": "2", "a": "1"}}

	assert.Equal(t, left.Identity(), right.Identity())
	assert.Equal(t, "k|h|a=1|b=2", left.Identity())
	assert.NotEqual(t, left.Identity(), Event{Key: "k", Host: "other"}.Identity())
}

func TestHasTag(t *testing.T) {
	metric := Metric{Tags: []string{"x", "y"}}
	assert.True(t, metric.HasTag("y"))
	assert.False(t, metric.HasTag("z"))
	assert.False(t, Event{}.HasTag("x"))
}
