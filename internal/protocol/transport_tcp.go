package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// StreamHandler consumes one accepted stream connection until it ends or ctx is canceled.
type StreamHandler func(ctx context.Context, conn net.Conn)

// DialTCP returns setup func that opens one outbound TCP stream.
// Params: addr remote endpoint; reader optional handler for inbound bytes (nil discards them).
// Returns: setup func used by Connection.
func DialTCP(addr Address, reader StreamHandler) SetupFunc {
	return func(ctx context.Context) (Transport, error) {
		dialer := net.Dialer{Timeout: defaultDialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr.HostPort())
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
		return newTCPClientTransport(conn, reader), nil
	}
}

// ClientSetup builds outbound setup for address type.
// Params: addr remote endpoint; reader optional inbound handler for TCP.
// Returns: setup func or ErrUnsupported for UDP clients.
func ClientSetup(addr Address, reader StreamHandler) (SetupFunc, error) {
	switch addr.Type {
	case TCP:
		return DialTCP(addr, reader), nil
	case UDP:
		return nil, fmt.Errorf("udp client: %w", ErrUnsupported)
	default:
		return nil, fmt.Errorf("client type %q: %w", addr.Type, ErrUnsupported)
	}
}

type tcpClientTransport struct {
	conn net.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newTCPClientTransport(conn net.Conn, reader StreamHandler) *tcpClientTransport {
	t := &tcpClientTransport{conn: conn, done: make(chan struct{})}
	go func() {
		defer t.markDone()
		if reader != nil {
			reader(context.Background(), conn)
			return
		}
		_, _ = io.Copy(io.Discard, conn)
	}()
	return t
}

// Write sends one payload with a bounded write deadline.
// Params: ctx deadline caps the write timeout; payload raw bytes.
// Returns: write error.
func (t *tcpClientTransport) Write(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = t.conn.SetWriteDeadline(deadline)

	if _, err := t.conn.Write(payload); err != nil {
		return err
	}
	return nil
}

func (t *tcpClientTransport) Done() <-chan struct{} {
	return t.done
}

func (t *tcpClientTransport) Addr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *tcpClientTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		if errors.Is(t.closeErr, net.ErrClosed) {
			t.closeErr = nil
		}
	})
	t.markDone()
	return t.closeErr
}

func (t *tcpClientTransport) markDone() {
	t.doneOnce.Do(func() {
		close(t.done)
	})
}

// ListenTCP returns setup func that binds a TCP listener and serves each stream with handler.
// Params: addr bind endpoint; handler per-connection stream consumer.
// Returns: setup func used by Connection.
func ListenTCP(addr Address, handler StreamHandler) SetupFunc {
	return func(ctx context.Context) (Transport, error) {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr.HostPort())
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", addr, err)
		}
		return newTCPServerTransport(ln, handler), nil
	}
}

type tcpServerTransport struct {
	ln      net.Listener
	handler StreamHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	handlers  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newTCPServerTransport(ln net.Listener, handler StreamHandler) *tcpServerTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &tcpServerTransport{
		ln:      ln,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
	go t.acceptLoop()
	return t
}

// acceptLoop accepts streams until the listener fails or closes.
func (t *tcpServerTransport) acceptLoop() {
	defer close(t.done)
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		if !t.track(conn) {
			_ = conn.Close()
			return
		}

		t.handlers.Add(1)
		go func() {
			defer t.handlers.Done()
			defer t.untrack(conn)
			defer conn.Close()
			t.handler(t.ctx, conn)
		}()
	}
}

func (t *tcpServerTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns == nil {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *tcpServerTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, conn)
}

func (t *tcpServerTransport) Write(context.Context, []byte) error {
	return fmt.Errorf("tcp server write: %w", ErrUnsupported)
}

func (t *tcpServerTransport) Done() <-chan struct{} {
	return t.done
}

func (t *tcpServerTransport) Addr() net.Addr {
	return t.ln.Addr()
}

// Close stops accepting, closes live streams, and waits for their handlers.
func (t *tcpServerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.ln.Close()
		if errors.Is(t.closeErr, net.ErrClosed) {
			t.closeErr = nil
		}

		t.mu.Lock()
		conns := t.conns
		t.conns = nil
		t.mu.Unlock()
		for conn := range conns {
			_ = conn.Close()
		}

		<-t.done
		t.handlers.Wait()
	})
	return t.closeErr
}
