package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, onConn func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_DeliversMessagesToHandler(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})

	client, err := Dial(context.Background(), Config{
		Endpoint: wsURL(srv),
		Handler: func(data []byte) error {
			mu.Lock()
			received = data
			mu.Unlock()
			close(done)
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", string(received))
}

func TestDial_MalformedMessageDoesNotCloseConnection(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("second"))
	})

	var mu sync.Mutex
	var count int
	gotSecond := make(chan struct{})

	client, err := Dial(context.Background(), Config{
		Endpoint: wsURL(srv),
		Handler: func(data []byte) error {
			mu.Lock()
			count++
			mu.Unlock()
			if string(data) == "second" {
				close(gotSecond)
			}
			return nil // handler absorbs parse failures, never errors the connection
		},
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-gotSecond:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive the malformed message")
	}
}

func TestClose_EmitsNoFurtherMessages(t *testing.T) {
	msgCh := make(chan struct{})
	srv := newTestServer(t, func(conn *websocket.Conn) {
		<-msgCh
		_ = conn.WriteMessage(websocket.TextMessage, []byte("late"))
	})

	var calls int
	var mu sync.Mutex

	client, err := Dial(context.Background(), Config{
		Endpoint: wsURL(srv),
		Handler: func([]byte) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	client.Close()
	close(msgCh)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
