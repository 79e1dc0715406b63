// ABOUTME: WebSocket transport for the streaming chat connection
// ABOUTME: Dials the per-research endpoint and pumps inbound frames in order

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/marketoluh/chat/internal/chat"
)

// Dialer opens WebSocket connections to the backend's streaming chat
// endpoint. It implements chat.Dialer.
type Dialer struct {
	// BaseURL is the backend HTTP base, e.g. "https://api.example.com".
	// The stream URL is derived from it: protocol upgraded to ws/wss,
	// path /api/v1/chat/ws/{research_id}.
	BaseURL string

	// WSDialer overrides the underlying dialer, mainly for tests.
	WSDialer *websocket.Dialer

	Logger *slog.Logger
}

// NewDialer creates a stream dialer for the given backend base URL.
// Pass nil logger for default.
func NewDialer(baseURL string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		BaseURL: baseURL,
		Logger:  logger.With("component", "stream"),
	}
}

// Dial performs the WebSocket handshake and returns an unstarted
// connection. Frame delivery begins when the caller invokes Start, so
// the connection can be registered first without losing the close
// notification.
func (d *Dialer) Dial(ctx context.Context, researchID, token string, onFrame func([]byte), onClose func(error)) (chat.Stream, error) {
	endpoint, err := Endpoint(d.BaseURL, researchID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	wsd := d.WSDialer
	if wsd == nil {
		wsd = websocket.DefaultDialer
	}

	ws, resp, err := wsd.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	d.Logger.Debug("stream connected", "research_id", researchID, "endpoint", endpoint)

	return &Conn{
		ws:      ws,
		onFrame: onFrame,
		onClose: onClose,
		logger:  d.Logger,
	}, nil
}

// Endpoint derives the streaming URL for a research id from the HTTP
// base URL, upgrading the scheme to ws/wss.
func Endpoint(baseURL, researchID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}

	u.Path = "/api/v1/chat/ws/" + researchID
	return u.String(), nil
}

// Conn is an open streaming connection. Writes are serialized; reads
// happen on a single pump goroutine so frames reach the handler
// strictly in arrival order.
type Conn struct {
	ws      *websocket.Conn
	onFrame func([]byte)
	onClose func(error)

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once

	logger *slog.Logger
}

// Start launches the read pump. Safe to call once; later calls are no-ops.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		go c.readPump()
	})
}

// Send writes v as a JSON text frame.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close tears down the connection. The close notification fires once
// regardless of whether closure was local or remote.
func (c *Conn) Close() error {
	err := c.ws.Close()
	c.notifyClose(nil)
	return err
}

// readPump delivers inbound text frames until the connection ends.
// Binary frames are not part of the protocol and are skipped.
func (c *Conn) readPump() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read failed", "error", err)
			}
			c.ws.Close()
			c.notifyClose(err)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}
		c.onFrame(data)
	}
}

func (c *Conn) notifyClose(err error) {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}
