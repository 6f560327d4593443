package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ffwd/internal/codec"
	"ffwd/internal/model"
)

const (
	// ServiceName is the gRPC service accepting record batches.
	ServiceName = "ffwd.Collector"
	// PushMethod is the full method name of the unary batch push.
	PushMethod = "/ffwd.Collector/Push"
)

// CollectorServer handles pushed batches.
type CollectorServer interface {
	Push(ctx context.Context, batch *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterCollectorServer attaches srv to a gRPC server.
// Params: registrar grpc server; srv batch handler.
// Returns: none.
func RegisterCollectorServer(registrar grpc.ServiceRegistrar, srv CollectorServer) {
	registrar.RegisterService(&collectorServiceDesc, srv)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
	},
	Metadata: "ffwd/collector.proto",
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Push(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CollectorClient pushes batches to a remote collector.
type CollectorClient struct {
	cc grpc.ClientConnInterface
}

// NewCollectorClient wraps a client connection.
func NewCollectorClient(cc grpc.ClientConnInterface) *CollectorClient {
	return &CollectorClient{cc: cc}
}

// Push sends one batch.
// Params: ctx call deadline; batch encoded payload; opts call options.
// Returns: rpc error.
func (c *CollectorClient) Push(ctx context.Context, batch *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PushMethod, batch, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeBatch converts records into the HTTP batch shape carried as a Struct.
// Params: metrics and events to push; either may be empty.
// Returns: struct payload or conversion error.
func EncodeBatch(metrics []model.Metric, events []model.Event) (*structpb.Struct, error) {
	batch := codec.Batch{
		Metrics: make([]codec.BatchMetric, 0, len(metrics)),
		Events:  make([]codec.BatchEvent, 0, len(events)),
	}
	for _, metric := range metrics {
		// JSON has no NaN; metrics without a value are not forwarded.
		if math.IsNaN(metric.Value) || math.IsInf(metric.Value, 0) {
			continue
		}
		batch.Metrics = append(batch.Metrics, codec.BatchMetric{
			Key:       metric.Key,
			Host:      metric.Host,
			Tags:      attributesWithTags(metric.Attributes, metric.Tags),
			Value:     metric.Value,
			Timestamp: millisOf(metric.Time),
		})
	}
	for _, event := range events {
		value := event.Value
		if math.IsNaN(value) || math.IsInf(value, 0) {
			value = 0
		}
		batch.Events = append(batch.Events, codec.BatchEvent{
			Key:         event.Key,
			Tags:        attributesWithTags(event.Attributes, event.Tags),
			Value:       value,
			Timestamp:   millisOf(event.Time),
			Host:        event.Host,
			TTL:         event.TTL,
			State:       event.State,
			Description: event.Description,
		})
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return payload, nil
}

// DecodeBatch delivers a pushed Struct batch to receiver.
// Params: payload pushed struct; receiver record consumer.
// Returns: delivered record count or decode error.
func DecodeBatch(payload *structpb.Struct, receiver codec.Receiver) (int, error) {
	raw, err := payload.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("marshal struct: %w", err)
	}
	return codec.DecodeBatch(raw, receiver)
}

func attributesWithTags(attributes map[string]string, tags []string) map[string]string {
	if len(attributes) == 0 && len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(attributes)+len(tags))
	for _, tag := range tags {
		out[tag] = "true"
	}
	for key, value := range attributes {
		out[key] = value
	}
	return out
}

func millisOf(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UnixMilli()
}
