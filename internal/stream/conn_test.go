// ABOUTME: Tests for the WebSocket stream transport
// ABOUTME: Uses an httptest server with a gorilla upgrader as the backend

package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "http upgrades to ws", base: "http://localhost:8000", want: "ws://localhost:8000/api/v1/chat/ws/r-1"},
		{name: "https upgrades to wss", base: "https://api.example.com", want: "wss://api.example.com/api/v1/chat/ws/r-1"},
		{name: "ws passes through", base: "ws://localhost:8000", want: "ws://localhost:8000/api/v1/chat/ws/r-1"},
		{name: "unsupported scheme", base: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.base, "r-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// wsTestServer upgrades incoming connections and hands them to fn.
func wsTestServer(t *testing.T, fn func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		fn(ws, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialer_SendsBearerTokenAndPath(t *testing.T) {
	gotPath := make(chan string, 1)
	gotAuth := make(chan string, 1)

	srv := wsTestServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotPath <- r.URL.Path
		gotAuth <- r.Header.Get("Authorization")
	})

	d := NewDialer(srv.URL, nil)
	conn, err := d.Dial(context.Background(), "r-42", "tok-1", func([]byte) {}, func(error) {})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "/api/v1/chat/ws/r-42", <-gotPath)
	assert.Equal(t, "Bearer tok-1", <-gotAuth)
}

func TestDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	d := NewDialer(srv.URL, nil)
	_, err := d.Dial(context.Background(), "r-1", "tok", func([]byte) {}, func(error) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestConn_DeliversFramesInOrder(t *testing.T) {
	srv := wsTestServer(t, func(ws *websocket.Conn, _ *http.Request) {
		for _, payload := range []string{
			`{"type":"chunk","content":"a"}`,
			`{"type":"chunk","content":"b"}`,
			`{"type":"complete"}`,
		} {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	frames := make(chan string, 3)
	d := NewDialer(srv.URL, nil)
	conn, err := d.Dial(context.Background(), "r-1", "tok", func(data []byte) {
		frames <- string(data)
	}, func(error) {})
	require.NoError(t, err)
	defer conn.Close()
	conn.Start()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}

	assert.True(t, strings.Contains(got[0], `"a"`))
	assert.True(t, strings.Contains(got[1], `"b"`))
	assert.True(t, strings.Contains(got[2], "complete"))
}

func TestConn_SendWritesJSON(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := wsTestServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err == nil {
			received <- payload
		}
	})

	d := NewDialer(srv.URL, nil)
	conn, err := d.Dial(context.Background(), "r-1", "tok", func([]byte) {}, func(error) {})
	require.NoError(t, err)
	defer conn.Close()
	conn.Start()

	require.NoError(t, conn.Send(map[string]any{"message": "hi", "history": []any{}}))

	select {
	case payload := <-received:
		assert.Equal(t, "hi", payload["message"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}
}

func TestConn_RemoteClosureNotifiesOnce(t *testing.T) {
	srv := wsTestServer(t, func(ws *websocket.Conn, _ *http.Request) {
		// Close immediately after the handshake.
	})

	closed := make(chan error, 2)
	d := NewDialer(srv.URL, nil)
	conn, err := d.Dial(context.Background(), "r-1", "tok", func([]byte) {}, func(cause error) {
		closed <- cause
	})
	require.NoError(t, err)
	conn.Start()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close notification")
	}

	// A local close after the remote one must not notify again.
	_ = conn.Close()
	select {
	case <-closed:
		t.Fatal("close notification fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConn_LocalCloseNotifies(t *testing.T) {
	srv := wsTestServer(t, func(ws *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	closed := make(chan error, 1)
	d := NewDialer(srv.URL, nil)
	conn, err := d.Dial(context.Background(), "r-1", "tok", func([]byte) {}, func(cause error) {
		closed <- cause
	})
	require.NoError(t, err)
	conn.Start()

	require.NoError(t, conn.Close())

	select {
	case cause := <-closed:
		assert.NoError(t, cause, "locally initiated closure carries no cause")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close notification")
	}
}
