package stream

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(snapshot SnapshotFunc) (*Hub, *httptest.Server) {
	hub := NewHub(snapshot, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return hub, httptest.NewServer(hub)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	return string(payload)
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	hub, server := newTestHub(func() [][]byte {
		return [][]byte{[]byte("one"), []byte("two")}
	})
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server)
	defer conn.Close()

	assert.Equal(t, "one", readText(t, conn))
	assert.Equal(t, "two", readText(t, conn))

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast([]byte("three"))
	assert.Equal(t, "three", readText(t, conn))
}

func TestHub_RemovesDisconnectedSubscribers(t *testing.T) {
	hub, server := newTestHub(nil)
	defer server.Close()
	defer hub.Close()

	first := dial(t, server)
	second := dial(t, server)
	defer second.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Broadcast([]byte("still here"))
	assert.Equal(t, "still here", readText(t, second))
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	hub, server := newTestHub(nil)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err == nil {
		require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = late.ReadMessage()
		assert.Error(t, err, "hub accepts no subscribers after Close")
		late.Close()
	}
}
