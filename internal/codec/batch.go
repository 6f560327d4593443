package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"ffwd/internal/model"
)

// Batch is the HTTP ingest body: shared tags plus metric and event points.
type Batch struct {
	CommonTags map[string]string `json:"commonTags,omitempty"`
	Metrics    []BatchMetric     `json:"metrics,omitempty"`
	Events     []BatchEvent      `json:"events,omitempty"`
}

// BatchMetric is one metric point of a Batch.
type BatchMetric struct {
	Key       string            `json:"key"`
	Host      string            `json:"host,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp"`
}

// BatchEvent is one event point of a Batch.
type BatchEvent struct {
	Key         string            `json:"key"`
	Tags        map[string]string `json:"tags,omitempty"`
	Value       float64           `json:"value"`
	Timestamp   int64             `json:"timestamp"`
	Host        string            `json:"host,omitempty"`
	TTL         int64             `json:"ttl,omitempty"`
	State       string            `json:"state,omitempty"`
	Description string            `json:"description,omitempty"`
}

// DecodeBatch parses an HTTP batch body and delivers each point to receiver.
// Params: body JSON document; receiver record consumer.
// Returns: number of delivered records, ErrInvalidFrame-wrapped error on malformed JSON.
func DecodeBatch(body []byte, receiver Receiver) (int, error) {
	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	for _, point := range batch.Metrics {
		receiver.ReceiveMetric(model.Metric{
			Key:        point.Key,
			Value:      point.Value,
			Time:       batchTime(point.Timestamp),
			Host:       point.Host,
			Attributes: mergeTags(batch.CommonTags, point.Tags),
		})
	}
	for _, point := range batch.Events {
		receiver.ReceiveEvent(model.Event{
			Key:         point.Key,
			Value:       point.Value,
			Time:        batchTime(point.Timestamp),
			Host:        point.Host,
			TTL:         point.TTL,
			State:       point.State,
			Description: point.Description,
			Attributes:  mergeTags(batch.CommonTags, point.Tags),
		})
	}
	return len(batch.Metrics) + len(batch.Events), nil
}

func batchTime(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// mergeTags overlays point tags on common tags; point tags win.
func mergeTags(common, point map[string]string) map[string]string {
	if len(common) == 0 && len(point) == 0 {
		return nil
	}
	merged := make(map[string]string, len(common)+len(point))
	for key, value := range common {
		merged[key] = value
	}
	for key, value := range point {
		merged[key] = value
	}
	return merged
}
