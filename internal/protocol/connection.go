package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"ffwd/internal/retry"
)

var (
	// ErrNotConnected is returned by bulk sends while no transport is installed.
	ErrNotConnected = errors.New("not connected")
	// ErrStopped is returned when waiting on a connection that has been stopped.
	ErrStopped = errors.New("connection stopped")
	// ErrUnsupported marks operations a transport cannot perform.
	ErrUnsupported = errors.New("not supported")
)

// State is the lifecycle stage of a Connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateStopped
)

// String returns lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is one established network resource exclusively owned by a Connection.
// Params: Write sends one payload; Done closes when the resource is lost or closed.
// Returns: transport contract used by the reconnect loop.
type Transport interface {
	Write(ctx context.Context, payload []byte) error
	Done() <-chan struct{}
	Close() error
}

// SetupFunc establishes one transport; ctx is canceled when the owning connection stops.
type SetupFunc func(ctx context.Context) (Transport, error)

type addrTransport interface {
	Addr() net.Addr
}

// Connection keeps one logical endpoint alive across failures.
// Params: setup establishes transports; policy spaces failed attempts; logger reports retries.
// Returns: self-healing connection; Ready closes once on the first successful setup.
type Connection struct {
	name   string
	setup  SetupFunc
	policy retry.Policy
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	transport Transport
	state     State
	timer     *time.Timer

	ready     chan struct{}
	readyOnce sync.Once
	stopped   chan struct{}
}

// NewConnection creates connection and immediately starts attempt 0.
// Params: name used in logs (e.g. "connect tcp://host:port"); setup transport factory; policy retry delays; logger.
// Returns: running connection owned by caller; call Stop to release it.
func NewConnection(name string, setup SetupFunc, policy retry.Policy, logger *slog.Logger) *Connection {
	if policy == nil {
		policy = retry.DefaultExponential()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		name:    name,
		setup:   setup,
		policy:  policy,
		logger:  logger.With(slog.String("connection", name)),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateConnecting,
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go c.attempt(0)
	return c
}

// attempt runs one setup try and installs the transport or schedules the next try.
// Params: n zero-based attempt counter.
// Returns: none.
func (c *Connection) attempt(n int) {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	transport, err := c.setup(c.ctx)
	if err != nil {
		c.scheduleRetry(n, err)
		return
	}
	c.install(transport)
}

// scheduleRetry arms the retry timer unless the connection was stopped.
// Params: n failed attempt counter; cause setup error.
// Returns: none.
func (c *Connection) scheduleRetry(n int, cause error) {
	delay := c.policy.Delay(n)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}

	c.logger.Warn(
		"setup failed, retrying",
		slog.Int("attempt", n),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	c.timer = time.AfterFunc(delay, func() {
		c.attempt(n + 1)
	})
}

// install publishes a freshly established transport; a stopped connection closes it instead.
// Params: transport newly established resource.
// Returns: none.
func (c *Connection) install(transport Transport) {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		_ = transport.Close()
		return
	}
	c.transport = transport
	c.state = StateConnected
	c.mu.Unlock()

	c.readyOnce.Do(func() {
		close(c.ready)
	})
	c.logger.Info("connection established")

	go c.watch(transport)
}

// watch waits for transport loss and restarts the attempt sequence from zero.
// Params: transport the installed resource to observe.
// Returns: none.
func (c *Connection) watch(transport Transport) {
	<-transport.Done()

	c.mu.Lock()
	if c.transport != transport || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	_ = transport.Close()
	c.logger.Warn("connection lost, reconnecting")
	c.attempt(0)
}

// Ready returns channel closed once after the first successful setup.
// Params: none.
// Returns: read-only channel.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the first successful setup.
// Params: ctx bounds the wait.
// Returns: nil when ready, ErrStopped when stopped first, or ctx error.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}

	select {
	case <-c.ready:
		return nil
	case <-c.stopped:
		return fmt.Errorf("%s: %w", c.name, ErrStopped)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", c.name, ctx.Err())
	}
}

// State returns current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a transport is installed and still open.
// Params: none.
// Returns: true when sends can reach the transport.
func (c *Connection) IsConnected() bool {
	transport := c.current()
	if transport == nil {
		return false
	}
	select {
	case <-transport.Done():
		return false
	default:
		return true
	}
}

// LocalAddr returns bound address of the installed transport when it exposes one.
// Params: none.
// Returns: address or nil.
func (c *Connection) LocalAddr() net.Addr {
	transport, ok := c.current().(addrTransport)
	if !ok {
		return nil
	}
	return transport.Addr()
}

// Send writes payload best-effort; without a transport it does nothing.
// Params: payload encoded record.
// Returns: none; write errors are logged.
func (c *Connection) Send(payload []byte) {
	transport := c.current()
	if transport == nil {
		return
	}
	if err := transport.Write(c.ctx, payload); err != nil {
		c.logger.Warn("send failed", slog.String("error", err.Error()))
	}
}

// SendAll writes every payload and reports the first failure.
// Params: ctx bounds the writes; payloads encoded records in order.
// Returns: ErrNotConnected immediately without transport, otherwise first write error.
func (c *Connection) SendAll(ctx context.Context, payloads [][]byte) error {
	transport := c.current()
	if transport == nil {
		return ErrNotConnected
	}
	for idx, payload := range payloads {
		if err := transport.Write(ctx, payload); err != nil {
			return fmt.Errorf("write payload[%d]: %w", idx, err)
		}
	}
	return nil
}

// Stop halts retries and closes the installed transport; repeated calls are no-ops.
// Params: none.
// Returns: transport close error, if any.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.cancel()
	close(c.stopped)

	if transport == nil {
		return nil
	}
	if err := transport.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.name, err)
	}
	return nil
}

func (c *Connection) current() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}
