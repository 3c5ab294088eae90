package conn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

// Conn is one open socket. Read and Write may run concurrently with each
// other but each is only ever called from a single goroutine.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, playerID string) (Conn, error)
}

type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// WSDialer opens websocket connections to URL, passing the player id as
// the playerId query parameter.
type WSDialer struct {
	URL         string
	DialTimeout time.Duration
	ReadLimit   int64
	HTTPClient  *http.Client
}

func (d WSDialer) Dial(ctx context.Context, playerID string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if playerID != "" {
		q := u.Query()
		q.Set("playerId", playerID)
		u.RawQuery = q.Encode()
	}

	if d.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.DialTimeout)
		defer cancel()
	}

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
