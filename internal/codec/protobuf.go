package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"ffwd/internal/model"
)

const (
	// FrameHeaderSize is version (uint32) plus total frame length (uint32), big endian.
	FrameHeaderSize = 8
	// MaxFrameSize bounds total frame length including header.
	MaxFrameSize = 0xffffff

	protocolVersion0 = 0
)

// Field numbers of the version 0 message layout.
const (
	messageMetricField = 1
	messageEventField  = 2

	metricProcField       = 1
	metricTimeField       = 2
	metricKeyField        = 3
	metricValueField      = 4
	metricHostField       = 5
	metricTagsField       = 6
	metricAttributesField = 7

	eventTimeField        = 1
	eventKeyField         = 2
	eventValueField       = 3
	eventHostField        = 4
	eventStateField       = 5
	eventDescriptionField = 6
	eventTTLField         = 7
	eventTagsField        = 8
	eventAttributesField  = 9

	attributeKeyField   = 1
	attributeValueField = 2
)

// FrameError describes why a frame was rejected; Reset means the remaining buffer was discarded.
type FrameError struct {
	Reason string
	Reset  bool
}

func (e *FrameError) Error() string {
	return e.Reason
}

// DecodeProtobufDatagram decodes all frames contained in one datagram.
// Params: payload one or more concatenated frames; receiver record consumer.
// Returns: per-frame errors; an oversize or truncated frame discards the rest of the payload.
func DecodeProtobufDatagram(payload []byte, receiver Receiver) []error {
	var errs []error
	for len(payload) >= FrameHeaderSize {
		version := binary.BigEndian.Uint32(payload[0:4])
		total := binary.BigEndian.Uint32(payload[4:8])

		if total > MaxFrameSize {
			errs = append(errs, &FrameError{
				Reason: fmt.Sprintf("frame length %d larger than maximum allowed %d", total, MaxFrameSize),
				Reset:  true,
			})
			return errs
		}
		if total < FrameHeaderSize || uint32(len(payload)) < total {
			errs = append(errs, &FrameError{
				Reason: fmt.Sprintf("frame of length %d shorter than reported %d", len(payload), total),
				Reset:  true,
			})
			return errs
		}

		body := payload[FrameHeaderSize:total]
		payload = payload[total:]
		if err := decodeFrame(version, body, receiver); err != nil {
			errs = append(errs, err)
		}
	}

	if len(payload) > 0 {
		errs = append(errs, &FrameError{
			Reason: fmt.Sprintf("garbage left in buffer, %d readable bytes have not been processed", len(payload)),
		})
	}
	return errs
}

// ReadProtobufStream decodes frames from a byte stream until EOF.
// Params: r stream reader; receiver record consumer; onError observes per-frame decode errors.
// Returns: nil at EOF, FrameError when framing is unrecoverable, or read error.
func ReadProtobufStream(r io.Reader, receiver Receiver, onError func(error)) error {
	header := make([]byte, FrameHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame header: %w", err)
		}

		version := binary.BigEndian.Uint32(header[0:4])
		total := binary.BigEndian.Uint32(header[4:8])
		if total > MaxFrameSize || total < FrameHeaderSize {
			return &FrameError{Reason: fmt.Sprintf("invalid frame length %d", total), Reset: true}
		}

		body := make([]byte, total-FrameHeaderSize)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("read frame body: %w", err)
		}
		if err := decodeFrame(version, body, receiver); err != nil && onError != nil {
			onError(err)
		}
	}
}

func decodeFrame(version uint32, body []byte, receiver Receiver) error {
	switch version {
	case protocolVersion0:
		return decodeMessage0(body, receiver)
	default:
		return fmt.Errorf("%w: unsupported protocol version %d", ErrInvalidFrame, version)
	}
}

func decodeMessage0(body []byte, receiver Receiver) error {
	var (
		metric    *model.Metric
		event     *model.Event
		decodeErr error
	)

	err := walkFields(body, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case messageMetricField:
			decoded, err := decodeMetric0(value)
			if err != nil {
				decodeErr = err
				return err
			}
			metric = &decoded
		case messageEventField:
			decoded, err := decodeEvent0(value)
			if err != nil {
				decodeErr = err
				return err
			}
			event = &decoded
		}
		return nil
	})
	if decodeErr != nil {
		return decodeErr
	}
	if err != nil {
		return err
	}

	switch {
	case event != nil:
		receiver.ReceiveEvent(*event)
	case metric != nil:
		receiver.ReceiveMetric(*metric)
	}
	return nil
}

func decodeMetric0(body []byte) (model.Metric, error) {
	metric := model.Metric{Value: math.NaN()}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case metricProcField:
			metric.Proc = string(value)
		case metricTimeField:
			metric.Time = timeFromVarint(value)
		case metricKeyField:
			metric.Key = string(value)
		case metricValueField:
			metric.Value = doubleFromFixed(value)
		case metricHostField:
			metric.Host = string(value)
		case metricTagsField:
			metric.Tags = append(metric.Tags, string(value))
		case metricAttributesField:
			return appendAttribute(&metric.Attributes, value)
		}
		return nil
	})
	if err != nil {
		return model.Metric{}, fmt.Errorf("decode metric: %w", err)
	}
	return metric, nil
}

func decodeEvent0(body []byte) (model.Event, error) {
	event := model.Event{Value: math.NaN()}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case eventTimeField:
			event.Time = timeFromVarint(value)
		case eventKeyField:
			event.Key = string(value)
		case eventValueField:
			event.Value = doubleFromFixed(value)
		case eventHostField:
			event.Host = string(value)
		case eventStateField:
			event.State = string(value)
		case eventDescriptionField:
			event.Description = string(value)
		case eventTTLField:
			event.TTL = int64(varintValue(value))
		case eventTagsField:
			event.Tags = append(event.Tags, string(value))
		case eventAttributesField:
			return appendAttribute(&event.Attributes, value)
		}
		return nil
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

func appendAttribute(target *map[string]string, body []byte) error {
	var key, value string
	err := walkFields(body, func(num protowire.Number, _ protowire.Type, raw []byte) error {
		switch num {
		case attributeKeyField:
			key = string(raw)
		case attributeValueField:
			value = string(raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode attribute: %w", err)
	}
	if *target == nil {
		*target = make(map[string]string)
	}
	(*target)[key] = value
	return nil
}

// walkFields iterates top-level fields; varint and fixed64 values are passed as their raw encoding.
func walkFields(body []byte, visit func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidFrame, protowire.ParseError(n))
		}
		body = body[n:]

		var value []byte
		switch typ {
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(body)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidFrame, protowire.ParseError(m))
			}
			value, n = raw, m
		default:
			m := protowire.ConsumeFieldValue(num, typ, body)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidFrame, protowire.ParseError(m))
			}
			value, n = body[:m], m
		}
		body = body[n:]

		if err := visit(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func varintValue(raw []byte) uint64 {
	value, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0
	}
	return value
}

func timeFromVarint(raw []byte) time.Time {
	return time.UnixMilli(int64(varintValue(raw)))
}

func doubleFromFixed(raw []byte) float64 {
	bits, n := protowire.ConsumeFixed64(raw)
	if n < 0 {
		return math.NaN()
	}
	return math.Float64frombits(bits)
}

// AppendProtobufFrame encodes metric or event into one version 0 frame.
// Params: dst buffer to append to; metric or event (exactly one non-nil).
// Returns: extended buffer.
func AppendProtobufFrame(dst []byte, metric *model.Metric, event *model.Event) []byte {
	var message []byte
	if metric != nil {
		message = protowire.AppendTag(message, messageMetricField, protowire.BytesType)
		message = protowire.AppendBytes(message, encodeMetric0(*metric))
	}
	if event != nil {
		message = protowire.AppendTag(message, messageEventField, protowire.BytesType)
		message = protowire.AppendBytes(message, encodeEvent0(*event))
	}

	header := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], protocolVersion0)
	binary.BigEndian.PutUint32(header[4:8], uint32(FrameHeaderSize+len(message)))
	dst = append(dst, header...)
	return append(dst, message...)
}

func encodeMetric0(metric model.Metric) []byte {
	var out []byte
	out = appendString(out, metricProcField, metric.Proc)
	if !metric.Time.IsZero() {
		out = protowire.AppendTag(out, metricTimeField, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(metric.Time.UnixMilli()))
	}
	out = appendString(out, metricKeyField, metric.Key)
	if !math.IsNaN(metric.Value) {
		out = protowire.AppendTag(out, metricValueField, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(metric.Value))
	}
	out = appendString(out, metricHostField, metric.Host)
	for _, tag := range metric.Tags {
		out = protowire.AppendTag(out, metricTagsField, protowire.BytesType)
		out = protowire.AppendString(out, tag)
	}
	for key, value := range metric.Attributes {
		out = protowire.AppendTag(out, metricAttributesField, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAttribute(key, value))
	}
	return out
}

func encodeEvent0(event model.Event) []byte {
	var out []byte
	if !event.Time.IsZero() {
		out = protowire.AppendTag(out, eventTimeField, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(event.Time.UnixMilli()))
	}
	out = appendString(out, eventKeyField, event.Key)
	if !math.IsNaN(event.Value) {
		out = protowire.AppendTag(out, eventValueField, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(event.Value))
	}
	out = appendString(out, eventHostField, event.Host)
	out = appendString(out, eventStateField, event.State)
	out = appendString(out, eventDescriptionField, event.Description)
	if event.TTL != 0 {
		out = protowire.AppendTag(out, eventTTLField, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(event.TTL))
	}
	for _, tag := range event.Tags {
		out = protowire.AppendTag(out, eventTagsField, protowire.BytesType)
		out = protowire.AppendString(out, tag)
	}
	for key, value := range event.Attributes {
		out = protowire.AppendTag(out, eventAttributesField, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAttribute(key, value))
	}
	return out
}

func encodeAttribute(key, value string) []byte {
	var out []byte
	out = protowire.AppendTag(out, attributeKeyField, protowire.BytesType)
	out = protowire.AppendString(out, key)
	out = protowire.AppendTag(out, attributeValueField, protowire.BytesType)
	return protowire.AppendString(out, value)
}

func appendString(dst []byte, num protowire.Number, value string) []byte {
	if value == "" {
		return dst
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendString(dst, value)
}
