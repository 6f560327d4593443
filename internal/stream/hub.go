package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 256
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// SnapshotFunc returns messages sent to a subscriber right after it joins.
type SnapshotFunc func() [][]byte

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub fans text messages out to websocket subscribers; slow subscribers lose messages instead of blocking.
type Hub struct {
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
	wg          sync.WaitGroup
}

// NewHub creates a websocket hub.
// Params: snapshot optional initial messages for new subscribers; logger.
// Returns: hub whose ServeHTTP upgrades requests.
func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		snapshot:    snapshot,
		logger:      logger,
		subscribers: make(map[string]*subscriber),
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subscribers[sub.id] = sub
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("subscriber joined", slog.String("subscriber", sub.id), slog.String("remote", r.RemoteAddr))

	var initial [][]byte
	if h.snapshot != nil {
		initial = h.snapshot()
	}
	go h.writeLoop(sub, initial)
	go h.readLoop(sub)
}

// Broadcast queues payload for every subscriber.
// Params: payload text message.
// Returns: none.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects all subscribers and waits for their loops.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.wg.Wait()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) writeLoop(sub *subscriber, initial [][]byte) {
	defer h.wg.Done()
	defer h.remove(sub)

	for _, payload := range initial {
		if err := h.write(sub, websocket.TextMessage, payload); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case payload := <-sub.send:
			if err := h.write(sub, websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(sub, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(sub *subscriber, messageType int, payload []byte) error {
	_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sub.conn.WriteMessage(messageType, payload); err != nil {
		h.logger.Debug("subscriber write failed", slog.String("subscriber", sub.id), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	_ = sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
