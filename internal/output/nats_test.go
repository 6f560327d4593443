package output

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffwd/internal/model"
	"ffwd/internal/retry"
)

type natsMessage struct {
	subject string
	payload []byte
}

// natsServerStub speaks the part of the NATS client protocol the sink uses:
// INFO on accept, PONG for PING, and PUB capture.
type natsServerStub struct {
	ln net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	messages []natsMessage
}

func newNATSServerStub(t *testing.T) *natsServerStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stub := &natsServerStub{ln: ln}
	go stub.acceptLoop()
	t.Cleanup(func() {
		_ = ln.Close()
		stub.dropConnections()
	})
	return stub
}

func (s *natsServerStub) url() string {
	return "nats://" + s.ln.Addr().String()
}

func (s *natsServerStub) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *natsServerStub) serve(conn net.Conn) {
	const info = `INFO {"server_id":"stub","server_name":"stub","version":"2.10.0","proto":1,"max_payload":1048576}` + "\r\n"
	if _, err := conn.Write([]byte(info)); err != nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "PING":
			if _, err := conn.Write([]byte("PONG\r\n")); err != nil {
				return
			}
		case "PUB":
			size, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return
			}
			buf := make([]byte, size+2)
			if _, err := io.ReadFull(reader, buf); err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, natsMessage{subject: fields[1], payload: buf[:size]})
			s.mu.Unlock()
		}
	}
}

func (s *natsServerStub) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *natsServerStub) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *natsServerStub) received() []natsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]natsMessage(nil), s.messages...)
}

func payloadKey(t *testing.T, payload []byte) string {
	t.Helper()
	var decoded struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return decoded.Key
}

func TestNATSSink_SubjectDefaults(t *testing.T) {
	sink := NewNATSSink("bus", " ", "", retry.Constant{}, testLogger())
	assert.Equal(t, nats.DefaultURL, sink.url)
	assert.Equal(t, "ffwd.metrics", sink.metricSubject)
	assert.Equal(t, "ffwd.events", sink.eventSubject)
	assert.Equal(t, "bus", sink.Name())

	sink = NewNATSSink("bus", "nats://10.0.0.1:4222", " telemetry ", retry.Constant{}, testLogger())
	assert.Equal(t, "nats://10.0.0.1:4222", sink.url)
	assert.Equal(t, "telemetry.metrics", sink.metricSubject)
	assert.Equal(t, "telemetry.events", sink.eventSubject)
}

func TestNATSSink_RequiresStart(t *testing.T) {
	sink := NewNATSSink("bus", "nats://127.0.0.1:1", "", retry.Constant{}, testLogger())
	assert.False(t, sink.IsReady())

	err := sink.SendMetrics(context.Background(), []model.Metric{{Key: "cpu"}})
	require.EqualError(t, err, "nats nats://127.0.0.1:1: not started")
	err = sink.SendEvents(context.Background(), []model.Event{{Key: "deploy"}})
	require.EqualError(t, err, "nats nats://127.0.0.1:1: not started")

	require.NoError(t, sink.Stop(context.Background()))
}

func TestNATSSink_PublishesAndReconnects(t *testing.T) {
	server := newNATSServerStub(t)
	sink := NewNATSSink("bus", server.url(), "telemetry", retry.Constant{Value: 10 * time.Millisecond}, testLogger())

	require.NoError(t, sink.Start(context.Background()))
	require.Eventually(t, sink.IsReady, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sink.SendMetrics(context.Background(), []model.Metric{
		{Key: "cpu", Value: 0.5, Host: "web1"},
		{Key: "mem", Value: 0.25, Host: "web1"},
	}))
	sink.SendEvent(model.Event{Key: "deploy", State: "ok"})

	require.Eventually(t, func() bool { return len(server.received()) == 3 }, 2*time.Second, 5*time.Millisecond)
	messages := server.received()
	assert.Equal(t, "telemetry.metrics", messages[0].subject)
	assert.Equal(t, "cpu", payloadKey(t, messages[0].payload))
	assert.Equal(t, "telemetry.metrics", messages[1].subject)
	assert.Equal(t, "mem", payloadKey(t, messages[1].payload))
	assert.Equal(t, "telemetry.events", messages[2].subject)
	assert.Equal(t, "deploy", payloadKey(t, messages[2].payload))

	server.dropConnections()
	require.Eventually(t, func() bool {
		return server.acceptedCount() >= 2 && sink.IsReady()
	}, 5*time.Second, 10*time.Millisecond, "client reconnects after the connection drops")

	sink.SendMetric(model.Metric{Key: "after-reconnect"})
	require.Eventually(t, func() bool { return len(server.received()) == 4 }, 2*time.Second, 5*time.Millisecond)
	last := server.received()[3]
	assert.Equal(t, "telemetry.metrics", last.subject)
	assert.Equal(t, "after-reconnect", payloadKey(t, last.payload))

	require.NoError(t, sink.Stop(context.Background()))
	assert.False(t, sink.IsReady())
}
