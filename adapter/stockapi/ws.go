package stockapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/stockview/adapter"
)

const closeWait = time.Second

// Dial opens the push connection for one stock code at <wsURL>/<code>.
// The client sends nothing after the handshake.
func (c *Client) Dial(ctx context.Context, code string) (adapter.Conn, error) {
	u := c.wsURL + "/" + url.PathEscape(code)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stockapi ws: dial: %v: %w", err, adapter.ErrStreamError)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn implements adapter.Conn over a gorilla websocket.
type wsConn struct {
	conn *websocket.Conn

	once   sync.Once
	mu     sync.Mutex
	closed bool
	err    error
}

func (w *wsConn) Read() ([]byte, error) {
	for {
		typ, msg, err := w.conn.ReadMessage()
		if err != nil {
			return nil, w.classify(err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

// classify maps a read error onto the closed/error split. Reads that fail
// because we closed the socket ourselves count as a clean close.
func (w *wsConn) classify(err error) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("stockapi ws: %v: %w", err, adapter.ErrStreamClosed)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("stockapi ws: closed with code %d: %w", ce.Code, adapter.ErrStreamError)
	}
	return fmt.Errorf("stockapi ws: read: %v: %w", err, adapter.ErrStreamError)
}

// Close sends a close frame and releases the socket. Only the first call does
// any work.
func (w *wsConn) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		w.err = w.conn.Close()
	})
	return w.err
}
