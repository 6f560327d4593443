package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ffwd/internal/codec"
	"ffwd/internal/model"
	"ffwd/internal/protocol"
	"ffwd/internal/retry"
	"ffwd/internal/rpc"
)

func TestNoopSink_CountsSingleAndBatchSends(t *testing.T) {
	sink := NewNoopSink("noop")
	sink.SendMetric(model.Metric{Key: "a"})
	sink.SendEvent(model.Event{Key: "b"})
	require.NoError(t, sink.SendMetrics(context.Background(), make([]model.Metric, 3)))
	require.NoError(t, sink.SendEvents(context.Background(), make([]model.Event, 2)))

	metrics, events := sink.Counts()
	assert.Equal(t, int64(4), metrics)
	assert.Equal(t, int64(3), events)
	assert.True(t, sink.IsReady())
}

func TestDebugSink_LogsEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDebugSink("debug", slog.New(slog.NewTextHandler(&buf, nil)))

	sink.SendMetric(model.Metric{Key: "cpu", Value: 0.5, Host: "web1", Attributes: map[string]string{"b": "2", "a": "1"}})
	sink.SendEvent(model.Event{Key: "deploy", State: "ok"})
	require.NoError(t, sink.SendMetrics(context.Background(), []model.Metric{{Key: "x"}, {Key: "y"}}))

	out := buf.String()
	assert.Contains(t, out, "M: ")
	assert.Contains(t, out, "E: ")
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "deploy")
	assert.Less(t, strings.Index(out, "a=1"), strings.Index(out, "b=2"), "attributes are rendered sorted")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestJSONSink_WritesOneLinePerRecord(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	sink, err := NewJSONSink("json", protocol.Config{Host: "127.0.0.1", Port: port}, retry.Constant{Value: 10 * time.Millisecond}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "json", sink.Name())

	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop(context.Background())
	require.Eventually(t, sink.IsReady, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sink.SendMetrics(context.Background(), []model.Metric{
		{Key: "a", Value: 1, Time: time.UnixMilli(1000)},
		{Key: "b", Value: 2, Time: time.UnixMilli(2000)},
	}))

	for _, want := range []string{"a", "b"} {
		select {
		case line := <-lines:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &decoded))
			assert.Equal(t, "metric", decoded["type"])
			assert.Equal(t, want, decoded["key"])
		case <-time.After(2 * time.Second):
			t.Fatalf("line for %s not received", want)
		}
	}
}

func TestJSONSink_RejectsInvalidProtocol(t *testing.T) {
	_, err := NewJSONSink("json", protocol.Config{Type: "sctp"}, retry.DefaultExponential(), testLogger())
	assert.ErrorContains(t, err, "json output json")
}

type collectorStub struct {
	mu       sync.Mutex
	received []model.Metric
	events   []model.Event
}

func (c *collectorStub) Push(_ context.Context, batch *structpb.Struct) (*emptypb.Empty, error) {
	if _, err := rpc.DecodeBatch(batch, c); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (c *collectorStub) ReceiveMetric(metric model.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, metric)
}

func (c *collectorStub) ReceiveEvent(event model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

var _ codec.Receiver = (*collectorStub)(nil)

func TestGRPCSink_PushesBatchesToCollector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	stub := &collectorStub{}
	rpc.RegisterCollectorServer(server, stub)
	go func() { _ = server.Serve(ln) }()
	defer server.Stop()

	sink, err := NewGRPCSink("grpc", ln.Addr().String(), time.Second, testLogger())
	require.NoError(t, err)
	assert.False(t, sink.IsReady())
	require.NoError(t, sink.Start(context.Background()))
	assert.True(t, sink.IsReady())

	require.NoError(t, sink.SendMetrics(context.Background(), []model.Metric{
		{Key: "cpu", Value: 0.5, Host: "web1", Time: time.UnixMilli(1500), Attributes: map[string]string{"role": "db"}},
	}))
	sink.SendEvent(model.Event{Key: "deploy", Value: 1, Host: "web1", Time: time.UnixMilli(2500), State: "ok", TTL: 30})

	stub.mu.Lock()
	require.Len(t, stub.received, 1)
	assert.Equal(t, "cpu", stub.received[0].Key)
	assert.Equal(t, 0.5, stub.received[0].Value)
	assert.Equal(t, "web1", stub.received[0].Host)
	assert.Equal(t, "db", stub.received[0].Attributes["role"])
	assert.Equal(t, int64(1500), stub.received[0].Time.UnixMilli())
	require.Len(t, stub.events, 1)
	assert.Equal(t, "ok", stub.events[0].State)
	assert.Equal(t, int64(30), stub.events[0].TTL)
	stub.mu.Unlock()

	require.NoError(t, sink.Stop(context.Background()))
	assert.False(t, sink.IsReady())
}

func TestGRPCSink_RequiresTarget(t *testing.T) {
	_, err := NewGRPCSink("grpc", "  ", 0, testLogger())
	assert.ErrorContains(t, err, "target is required")
}

func TestSnoopSink_StreamsSnapshotAndUpdates(t *testing.T) {
	sink := NewSnoopSink("snoop", "127.0.0.1:0", testLogger())
	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop(context.Background())

	sink.SendMetric(model.Metric{Key: "b", Value: 1, Host: "h"})
	sink.SendMetric(model.Metric{Key: "a", Value: 1, Host: "h"})
	sink.SendMetric(model.Metric{Key: "a", Value: 2, Host: "h"})
	assert.Equal(t, 2, sink.Len())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+sink.Addr().String()+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	readKeyValue := func() (string, float64) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		return decoded["key"].(string), decoded["value"].(float64)
	}

	key, value := readKeyValue()
	assert.Equal(t, "a", key)
	assert.Equal(t, 2.0, value)
	key, _ = readKeyValue()
	assert.Equal(t, "b", key)

	require.Eventually(t, func() bool { return sink.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	sink.SendEvent(model.Event{Key: "live", Host: "h"})
	key, _ = readKeyValue()
	assert.Equal(t, "live", key)
}
