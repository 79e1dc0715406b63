// ABOUTME: Tests for the request/response chat API client
// ABOUTME: Uses httptest servers mimicking the backend's send endpoint

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketoluh/chat/internal/auth"
	"github.com/marketoluh/chat/internal/chat"
)

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/chat/send", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req["message"])
		assert.Equal(t, "r-1", req["research_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"role":      "assistant",
			"content":   "hello back",
			"timestamp": "2026-08-30T10:00:00Z",
			"tool_uses": []map[string]any{
				{"tool": "search_web", "arguments": map[string]any{"query": "q"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticSource("tok-1"), nil)
	msg, err := c.SendMessage(context.Background(), "r-1", "hi")
	require.NoError(t, err)

	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, "hello back", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), msg.Timestamp)
	require.Len(t, msg.ToolUses, 1)
	assert.Equal(t, "search_web", msg.ToolUses[0].Tool)
}

func TestClient_ServerDetailSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Research not found"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticSource("tok"), nil)
	_, err := c.SendMessage(context.Background(), "missing", "hi")
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, "Research not found", reqErr.Detail)
}

func TestClient_GenericFallbackWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticSource("tok"), nil)
	_, err := c.SendMessage(context.Background(), "r-1", "hi")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.Equal(t, "server returned status 500", reqErr.Detail)
}

func TestClient_TransportFailure(t *testing.T) {
	// Point at a server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(srv.URL, auth.StaticSource("tok"), nil)
	_, err := c.SendMessage(context.Background(), "r-1", "hi")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.StatusCode)
}

func TestClient_NoTokenNeverHitsServer(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hit = true
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticSource(""), nil)
	_, err := c.SendMessage(context.Background(), "r-1", "hi")
	assert.True(t, errors.Is(err, auth.ErrNoToken))
	assert.False(t, hit)
}

func TestClient_NaiveTimestampParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The backend emits naive ISO-8601 timestamps (no zone).
		json.NewEncoder(w).Encode(map[string]any{
			"role":      "assistant",
			"content":   "ok",
			"timestamp": "2026-08-30T10:00:00",
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticSource("tok"), nil)
	msg, err := c.SendMessage(context.Background(), "r-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, 2026, msg.Timestamp.Year())
}
