package codec

import (
	"encoding/json"
	"time"

	"ffwd/internal/model"
)

const spotify100Version = "1.0.0"

// spotify100Record is the flat 1.0.0 metric format used by the snoop and nats outputs.
type spotify100Record struct {
	Version    string            `json:"version"`
	Key        string            `json:"key"`
	Host       string            `json:"host,omitempty"`
	Time       int64             `json:"time"`
	Attributes map[string]string `json:"attributes"`
	Value      *float64          `json:"value"`
}

// Spotify100Encoder renders records in the 1.0.0 format, one JSON object per record.
type Spotify100Encoder struct{}

// EncodeMetric renders metric; tags are folded into attributes as tag=true.
func (Spotify100Encoder) EncodeMetric(metric model.Metric) ([]byte, error) {
	return json.Marshal(spotify100Record{
		Version:    spotify100Version,
		Key:        metric.Key,
		Host:       metric.Host,
		Time:       unixMillis(metric.Time),
		Attributes: foldTags(metric.Attributes, metric.Tags),
		Value:      finiteOrNil(metric.Value),
	})
}

// EncodeEvent renders event with the same flat layout as metrics.
func (Spotify100Encoder) EncodeEvent(event model.Event) ([]byte, error) {
	return json.Marshal(spotify100Record{
		Version:    spotify100Version,
		Key:        event.Key,
		Host:       event.Host,
		Time:       unixMillis(event.Time),
		Attributes: foldTags(event.Attributes, event.Tags),
		Value:      finiteOrNil(event.Value),
	})
}

func unixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UnixMilli()
}

func foldTags(attributes map[string]string, tags []string) map[string]string {
	out := make(map[string]string, len(attributes)+len(tags))
	for _, tag := range tags {
		out[tag] = "true"
	}
	for key, value := range attributes {
		out[key] = value
	}
	return out
}
