package protocol

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"ffwd/internal/retry"
)

// Source binds an inbound endpoint through a resilient connection.
// Params: bind address, setup factory, retry policy, and logger.
// Returns: input source whose Start waits for the initial bind.
type Source struct {
	addr   Address
	setup  SetupFunc
	policy retry.Policy
	logger *slog.Logger

	mu   sync.Mutex
	conn *Connection
}

// NewSource creates protocol source; binding begins on Start.
// Params: addr bind endpoint; setup server factory; policy retry delays; logger.
// Returns: source instance.
func NewSource(addr Address, setup SetupFunc, policy retry.Policy, logger *slog.Logger) *Source {
	return &Source{
		addr:   addr,
		setup:  setup,
		policy: policy,
		logger: logger,
	}
}

// Start binds and waits until the first bind succeeds.
// Params: ctx bounds the wait for the initial bind.
// Returns: ctx or stop error when bind never succeeds in time.
func (s *Source) Start(ctx context.Context) error {
	conn := NewConnection("bind "+s.addr.String(), s.setup, s.policy, s.logger)

	s.mu.Lock()
	if s.conn != nil {
		existing := s.conn
		s.mu.Unlock()
		_ = conn.Stop()
		return existing.WaitReady(ctx)
	}
	s.conn = conn
	s.mu.Unlock()

	return conn.WaitReady(ctx)
}

// Stop unbinds the endpoint.
// Params: ctx is unused.
// Returns: close error.
func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Stop()
}

// Addr returns the bound local address while bound.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}
