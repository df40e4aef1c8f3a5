package live

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection parameters of the BidiGenerateContent endpoint.
const (
	// DefaultEndpoint is the websocket URL of the service, without key.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

	// CloseReasonIntentional accompanies the normal-closure code on Disconnect.
	CloseReasonIntentional = "Intentional disconnect"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	closeTimeout     = time.Second
	maxMessageSize   = 16 << 20
)

// Conn is one open duplex connection. WriteJSON may be called concurrently
// with ReadMessage; writes are serialized by the implementation.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close(code int, reason string) error
}

// Transport opens connections to the live service.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// IsCleanClose reports whether err ends a connection with a normal closure.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// WebSocketTransport dials the service over a gorilla websocket.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport for endpoint authenticated with
// apiKey. An empty endpoint selects DefaultEndpoint.
func NewWebSocketTransport(endpoint, apiKey string) (*WebSocketTransport, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Field: "api_key", Reason: "is required"}
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &ConfigurationError{Field: "endpoint", Reason: err.Error()}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, &ConfigurationError{Field: "endpoint", Reason: "must use ws or wss"}
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	return &WebSocketTransport{
		url: u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

// Dial opens a new connection.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// ReadMessage returns the next text or binary frame. Both carry JSON.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close sends a close frame with code and reason and releases the connection.
// Only the first call has an effect.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with a pending WriteJSON.
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(closeTimeout))

		if cerr := c.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = &TransportError{Op: "close", Err: err}
		}
	})
	return c.closeErr
}
