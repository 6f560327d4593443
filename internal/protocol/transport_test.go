package protocol

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffwd/internal/model"
	"ffwd/internal/retry"
)

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) handle(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		c.mu.Lock()
		c.lines = append(c.lines, scanner.Text())
		c.mu.Unlock()
	}
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

type lineEncoder struct{}

func (lineEncoder) EncodeMetric(metric model.Metric) ([]byte, error) {
	return []byte(metric.Key + "\n"), nil
}

func (lineEncoder) EncodeEvent(event model.Event) ([]byte, error) {
	return []byte("event:" + event.Key + "\n"), nil
}

func TestResolve(t *testing.T) {
	addr, err := Resolve(Config{}, UDP, 19000)
	require.NoError(t, err)
	assert.Equal(t, Address{Type: UDP, Host: DefaultHost, Port: 19000}, addr)
	assert.Equal(t, "udp://127.0.0.1:19000", addr.String())

	addr, err = Resolve(Config{Type: "TCP", Host: "0.0.0.0", Port: 1, ReceiveBufferSize: 4096}, UDP, 19000)
	require.NoError(t, err)
	assert.Equal(t, Address{Type: TCP, Host: "0.0.0.0", Port: 1, ReceiveBufferSize: 4096}, addr)

	_, err = Resolve(Config{Type: "sctp"}, TCP, 1)
	assert.ErrorContains(t, err, `protocol.type "sctp"`)

	_, err = Resolve(Config{Port: 70000}, TCP, 1)
	assert.ErrorContains(t, err, "out of range")
}

func TestClientSetup_UDPNotImplemented(t *testing.T) {
	_, err := ClientSetup(Address{Type: UDP, Host: DefaultHost, Port: 1}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTCPSourceAndSink_RoundTrip(t *testing.T) {
	collector := &lineCollector{}
	bindAddr := Address{Type: TCP, Host: DefaultHost, Port: 0}
	source := NewSource(bindAddr, ListenTCP(bindAddr, collector.handle), retry.Constant{Value: 10 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { _ = source.Stop(context.Background()) })

	bound, ok := source.Addr().(*net.TCPAddr)
	require.True(t, ok)

	remote := Address{Type: TCP, Host: DefaultHost, Port: bound.Port}
	sink := NewSink(remote, DialTCP(remote, nil), retry.Constant{Value: 10 * time.Millisecond}, lineEncoder{}, testLogger())

	err := sink.SendMetrics(ctx, []model.Metric{{Key: "early"}})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorContains(t, err, "not connected to tcp://127.0.0.1:")

	require.NoError(t, sink.Start(ctx))
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })
	require.Eventually(t, sink.IsReady, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sink.SendMetrics(ctx, []model.Metric{{Key: "cpu"}, {Key: "mem"}}))
	require.NoError(t, sink.SendEvents(ctx, []model.Event{{Key: "up"}}))
	sink.SendMetric(model.Metric{Key: "single"})

	require.Eventually(t, func() bool {
		return len(collector.snapshot()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"cpu", "mem", "event:up", "single"}, collector.snapshot())

	require.NoError(t, sink.Stop(ctx))
	assert.False(t, sink.IsReady())
	assert.ErrorIs(t, sink.SendEvents(ctx, []model.Event{{Key: "late"}}), ErrNotConnected)
}

func TestTCPSink_ReconnectsAfterServerRestart(t *testing.T) {
	collector := &lineCollector{}
	bindAddr := Address{Type: TCP, Host: DefaultHost, Port: 0}
	first := NewSource(bindAddr, ListenTCP(bindAddr, collector.handle), retry.Constant{Value: 5 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Start(ctx))
	port := first.Addr().(*net.TCPAddr).Port

	remote := Address{Type: TCP, Host: DefaultHost, Port: port}
	sink := NewSink(remote, DialTCP(remote, nil), retry.Constant{Value: 5 * time.Millisecond}, lineEncoder{}, testLogger())
	require.NoError(t, sink.Start(ctx))
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })
	require.Eventually(t, sink.IsReady, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.Stop(ctx))
	require.Eventually(t, func() bool { return !sink.IsReady() }, 2*time.Second, 5*time.Millisecond)

	fixed := Address{Type: TCP, Host: DefaultHost, Port: port}
	second := NewSource(fixed, ListenTCP(fixed, collector.handle), retry.Constant{Value: 5 * time.Millisecond}, testLogger())
	require.NoError(t, second.Start(ctx))
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	require.Eventually(t, sink.IsReady, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, sink.SendMetrics(ctx, []model.Metric{{Key: "after-restart"}}))
	require.Eventually(t, func() bool {
		lines := collector.snapshot()
		return len(lines) > 0 && lines[len(lines)-1] == "after-restart"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUDPSource_ReceivesDatagrams(t *testing.T) {
	received := make(chan []byte, 1)
	bindAddr := Address{Type: UDP, Host: DefaultHost, Port: 0, ReceiveBufferSize: 1 << 16}
	setup, err := ServerSetup(bindAddr, nil, func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	source := NewSource(bindAddr, setup, retry.Constant{Value: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { _ = source.Stop(context.Background()) })

	conn, err := net.Dial("udp", source.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`{"type":"metric"}`))
	require.NoError(t, err)

	select {
	case payload := <-received:
		assert.Equal(t, `{"type":"metric"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatalf("datagram not received")
	}

	_, err = ServerSetup(bindAddr, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}
