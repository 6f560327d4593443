package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// maxDatagramSize is the largest UDP payload accepted by the read loop.
const maxDatagramSize = 65535

// PacketHandler consumes one received datagram; the slice is owned by the handler.
type PacketHandler func(payload []byte)

// ListenUDP returns setup func that binds a UDP socket and passes every datagram to handler.
// Params: addr bind endpoint with optional receive buffer size; handler datagram consumer.
// Returns: setup func used by Connection.
func ListenUDP(addr Address, handler PacketHandler) SetupFunc {
	return func(ctx context.Context) (Transport, error) {
		var lc net.ListenConfig
		packetConn, err := lc.ListenPacket(ctx, "udp", addr.HostPort())
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", addr, err)
		}

		if addr.ReceiveBufferSize > 0 {
			if udpConn, ok := packetConn.(*net.UDPConn); ok {
				if err := udpConn.SetReadBuffer(addr.ReceiveBufferSize); err != nil {
					_ = packetConn.Close()
					return nil, fmt.Errorf("bind %s: set receive buffer: %w", addr, err)
				}
			}
		}

		return newUDPServerTransport(packetConn, handler), nil
	}
}

// ServerSetup builds inbound setup for address type.
// Params: addr bind endpoint; stream handler for TCP; packet handler for UDP.
// Returns: setup func or error when the needed handler is missing.
func ServerSetup(addr Address, stream StreamHandler, packet PacketHandler) (SetupFunc, error) {
	switch addr.Type {
	case TCP:
		if stream == nil {
			return nil, fmt.Errorf("tcp server: %w", ErrUnsupported)
		}
		return ListenTCP(addr, stream), nil
	case UDP:
		if packet == nil {
			return nil, fmt.Errorf("udp server: %w", ErrUnsupported)
		}
		return ListenUDP(addr, packet), nil
	default:
		return nil, fmt.Errorf("server type %q: %w", addr.Type, ErrUnsupported)
	}
}

type udpServerTransport struct {
	conn    net.PacketConn
	handler PacketHandler

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newUDPServerTransport(conn net.PacketConn, handler PacketHandler) *udpServerTransport {
	t := &udpServerTransport{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// readLoop receives datagrams until the socket fails or closes.
func (t *udpServerTransport) readLoop() {
	defer close(t.done)
	buffer := make([]byte, maxDatagramSize)
	for {
		n, _, err := t.conn.ReadFrom(buffer)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buffer[:n])
		t.handler(payload)
	}
}

func (t *udpServerTransport) Write(context.Context, []byte) error {
	return fmt.Errorf("udp server write: %w", ErrUnsupported)
}

func (t *udpServerTransport) Done() <-chan struct{} {
	return t.done
}

func (t *udpServerTransport) Addr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *udpServerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		if errors.Is(t.closeErr, net.ErrClosed) {
			t.closeErr = nil
		}
		<-t.done
	})
	return t.closeErr
}
