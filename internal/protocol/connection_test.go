package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffwd/internal/retry"
)

type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) Write(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.writes = append(t.writes, payload)
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	t.lose()
	return nil
}

// lose simulates remote transport loss.
func (t *fakeTransport) lose() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *fakeTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.writes...)
}

type recordingPolicy struct {
	inner retry.Policy

	mu       sync.Mutex
	attempts []int
	delays   []time.Duration
}

func (p *recordingPolicy) Delay(attempt int) time.Duration {
	delay := p.inner.Delay(attempt)
	p.mu.Lock()
	p.attempts = append(p.attempts, attempt)
	p.delays = append(p.delays, delay)
	p.mu.Unlock()
	return delay
}

func (p *recordingPolicy) snapshot() ([]int, []time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.attempts...), append([]time.Duration(nil), p.delays...)
}

// scriptedSetup returns transports or errors in order; after the script ends it keeps failing.
type scriptedSetup struct {
	mu     sync.Mutex
	script []func() (Transport, error)
	calls  atomic.Int32
}

func (s *scriptedSetup) setup(context.Context) (Transport, error) {
	index := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < len(s.script) {
		return s.script[index]()
	}
	return nil, errors.New("refused")
}

func fail() (Transport, error) {
	return nil, errors.New("connection refused")
}

func succeed(transport *fakeTransport) func() (Transport, error) {
	return func() (Transport, error) {
		return transport, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() *recordingPolicy {
	return &recordingPolicy{inner: retry.Exponential{Initial: time.Millisecond, Max: 8 * time.Millisecond}}
}

func TestConnection_InitialReadyResolvesOnceAfterFailures(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	setup := &scriptedSetup{script: []func() (Transport, error){
		fail, fail, fail, succeed(first), succeed(second),
	}}
	policy := fastPolicy()

	conn := NewConnection("connect test", setup.setup, policy, testLogger())
	t.Cleanup(func() { _ = conn.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.WaitReady(ctx))
	require.True(t, conn.IsConnected())
	assert.Equal(t, StateConnected, conn.State())

	attempts, _ := policy.snapshot()
	assert.Equal(t, []int{0, 1, 2}, attempts)

	first.lose()
	require.Eventually(t, func() bool {
		return setup.calls.Load() == 5 && conn.IsConnected()
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-conn.Ready():
	default:
		t.Fatalf("ready channel must stay closed after reconnect")
	}
	assert.True(t, first.closed.Load(), "lost transport must be closed")
}

func TestConnection_LossRestartsAttemptsFromZero(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	setup := &scriptedSetup{script: []func() (Transport, error){
		fail, fail, succeed(first), fail, fail, succeed(second),
	}}
	policy := fastPolicy()

	conn := NewConnection("connect test", setup.setup, policy, testLogger())
	t.Cleanup(func() { _ = conn.Stop() })

	require.Eventually(t, conn.IsConnected, 2*time.Second, time.Millisecond)
	first.lose()

	require.Eventually(t, func() bool {
		return setup.calls.Load() == 6 && conn.IsConnected()
	}, 2*time.Second, time.Millisecond)

	attempts, _ := policy.snapshot()
	assert.Equal(t, []int{0, 1, 0, 1}, attempts)
}

func TestConnection_NeverConnectsBacksOffAndStopCancelsRetry(t *testing.T) {
	setup := &scriptedSetup{}
	policy := fastPolicy()

	conn := NewConnection("connect test", setup.setup, policy, testLogger())

	require.Eventually(t, func() bool {
		return setup.calls.Load() >= 8
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, conn.Stop())
	callsAtStop := setup.calls.Load()

	_, delays := policy.snapshot()
	for idx := 1; idx < len(delays); idx++ {
		assert.GreaterOrEqual(t, delays[idx], delays[idx-1], "delay[%d]", idx)
		assert.LessOrEqual(t, delays[idx], 8*time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, setup.calls.Load(), callsAtStop+1, "at most one in-flight attempt may finish after stop")
	assert.Equal(t, StateStopped, conn.State())
	assert.False(t, conn.IsConnected())
}

func TestConnection_StopMidBackoffDoesNotDialAgain(t *testing.T) {
	setup := &scriptedSetup{}
	policy := &recordingPolicy{inner: retry.Constant{Value: time.Hour}}

	conn := NewConnection("connect test", setup.setup, policy, testLogger())
	require.Eventually(t, func() bool {
		attempts, _ := policy.snapshot()
		return len(attempts) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Stop())
	require.NoError(t, conn.Stop(), "stop must be idempotent")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), setup.calls.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, conn.WaitReady(ctx), ErrStopped)
}

func TestConnection_SendAllWithoutTransportFailsImmediately(t *testing.T) {
	setup := &scriptedSetup{}
	conn := NewConnection("connect test", setup.setup, retry.Constant{Value: time.Hour}, testLogger())
	t.Cleanup(func() { _ = conn.Stop() })

	err := conn.SendAll(context.Background(), [][]byte{[]byte("a")})
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NotPanics(t, func() {
		conn.Send([]byte("dropped"))
	})
}

func TestConnection_SendWritesToInstalledTransport(t *testing.T) {
	transport := newFakeTransport()
	setup := &scriptedSetup{script: []func() (Transport, error){succeed(transport)}}

	conn := NewConnection("connect test", setup.setup, retry.Constant{Value: time.Hour}, testLogger())
	t.Cleanup(func() { _ = conn.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.WaitReady(ctx))

	conn.Send([]byte("one"))
	require.NoError(t, conn.SendAll(ctx, [][]byte{[]byte("two"), []byte("three")}))
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, transport.written())

	transport.mu.Lock()
	transport.writeErr = errors.New("broken pipe")
	transport.mu.Unlock()
	assert.ErrorContains(t, conn.SendAll(ctx, [][]byte{[]byte("x")}), "broken pipe")

	require.NoError(t, conn.Stop())
	assert.True(t, transport.closed.Load())
}

func TestConnection_SetupFinishingAfterStopIsClosed(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{})
	setup := func(context.Context) (Transport, error) {
		close(started)
		<-release
		return transport, nil
	}

	conn := NewConnection("connect test", setup, retry.Constant{Value: time.Hour}, testLogger())
	<-started
	require.NoError(t, conn.Stop())
	close(release)

	require.Eventually(t, transport.closed.Load, time.Second, time.Millisecond)
	assert.False(t, conn.IsConnected())
	select {
	case <-conn.Ready():
		t.Fatalf("ready must not resolve for a transport won after stop")
	default:
	}
}
