package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"ffwd/internal/model"
)

// Receiver accepts decoded records.
type Receiver interface {
	ReceiveMetric(metric model.Metric)
	ReceiveEvent(event model.Event)
}

var (
	// ErrInvalidFrame marks a payload that cannot be decoded into a record.
	ErrInvalidFrame = errors.New("invalid frame")
)

// jsonRecord is the wire shape of one JSON metric or event.
type jsonRecord struct {
	Type        string            `json:"type"`
	Key         string            `json:"key"`
	Value       *float64          `json:"value"`
	Time        *int64            `json:"time"`
	Host        string            `json:"host,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Proc        string            `json:"proc,omitempty"`
	TTL         int64             `json:"ttl,omitempty"`
	State       string            `json:"state,omitempty"`
	Description string            `json:"description,omitempty"`
}

// DecodeJSON decodes one JSON object and hands the record to receiver.
// Params: payload single JSON object with "type" metric or event; receiver record consumer.
// Returns: ErrInvalidFrame-wrapped error for malformed payloads or unknown types.
func DecodeJSON(payload []byte, receiver Receiver) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	var raw jsonRecord
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch raw.Type {
	case "metric":
		receiver.ReceiveMetric(raw.metric())
	case "event":
		receiver.ReceiveEvent(raw.event())
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidFrame)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidFrame, raw.Type)
	}
	return nil
}

func (r jsonRecord) metric() model.Metric {
	return model.Metric{
		Key:        r.Key,
		Value:      valueOrNaN(r.Value),
		Time:       millisOrZero(r.Time),
		Host:       r.Host,
		Tags:       r.Tags,
		Attributes: r.Attributes,
		Proc:       r.Proc,
	}
}

func (r jsonRecord) event() model.Event {
	return model.Event{
		Key:         r.Key,
		Value:       valueOrNaN(r.Value),
		Time:        millisOrZero(r.Time),
		TTL:         r.TTL,
		State:       r.State,
		Description: r.Description,
		Host:        r.Host,
		Tags:        r.Tags,
		Attributes:  r.Attributes,
	}
}

// EncodeJSONMetric renders metric in the JSON input format.
// Params: metric record.
// Returns: JSON object bytes without trailing newline.
func EncodeJSONMetric(metric model.Metric) ([]byte, error) {
	return json.Marshal(jsonRecord{
		Type:       "metric",
		Key:        metric.Key,
		Value:      finiteOrNil(metric.Value),
		Time:       millisOrNil(metric.Time),
		Host:       metric.Host,
		Tags:       metric.Tags,
		Attributes: metric.Attributes,
		Proc:       metric.Proc,
	})
}

// EncodeJSONEvent renders event in the JSON input format.
// Params: event record.
// Returns: JSON object bytes without trailing newline.
func EncodeJSONEvent(event model.Event) ([]byte, error) {
	return json.Marshal(jsonRecord{
		Type:        "event",
		Key:         event.Key,
		Value:       finiteOrNil(event.Value),
		Time:        millisOrNil(event.Time),
		Host:        event.Host,
		Tags:        event.Tags,
		Attributes:  event.Attributes,
		TTL:         event.TTL,
		State:       event.State,
		Description: event.Description,
	})
}

// JSONLineEncoder writes newline-delimited JSON records.
type JSONLineEncoder struct{}

// EncodeMetric renders one metric line.
func (JSONLineEncoder) EncodeMetric(metric model.Metric) ([]byte, error) {
	return appendNewline(EncodeJSONMetric(metric))
}

// EncodeEvent renders one event line.
func (JSONLineEncoder) EncodeEvent(event model.Event) ([]byte, error) {
	return appendNewline(EncodeJSONEvent(event))
}

func appendNewline(payload []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

func valueOrNaN(value *float64) float64 {
	if value == nil {
		return math.NaN()
	}
	return *value
}

func finiteOrNil(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func millisOrZero(value *int64) time.Time {
	if value == nil {
		return time.Time{}
	}
	return time.UnixMilli(*value)
}

func millisOrNil(value time.Time) *int64 {
	if value.IsZero() {
		return nil
	}
	millis := value.UnixMilli()
	return &millis
}
