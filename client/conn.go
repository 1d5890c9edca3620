// Package client implements the consuming side of the terminal bridge: one
// Controller per tab driving a reconnecting WebSocket connection, and a
// TabManager owning the set of tabs.
package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/webpad/termbridge/bridge"
	"github.com/webpad/termbridge/bridge/session"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// Conn is one live transport connection carrying frames. A Controller owns at
// most one Conn at any instant.
type Conn interface {
	// ReadFrame returns the next decoded frame. A frame that fails to decode
	// is reported as session.ErrMalformedFrame or session.ErrUnknownFrameType
	// so the caller can drop it and keep reading; any other error is a
	// transport failure.
	ReadFrame(ctx context.Context) (session.Frame, error)
	WriteFrame(ctx context.Context, f session.Frame) error

	// SessionID is the server-assigned session id for this connection, empty
	// if the transport did not convey one.
	SessionID() string

	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a Conn to the given endpoint URL. Tests substitute fakes.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// NewDialer returns the production DialFunc over WebSockets. httpClient may
// be nil.
func NewDialer(httpClient *http.Client) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		wsConn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPClient:      httpClient,
			CompressionMode: websocket.CompressionContextTakeover,
		})
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		wsConn.SetReadLimit(readLimit)
		var sessionID string
		if resp != nil {
			sessionID = resp.Header.Get(bridge.SessionHeader)
		}
		return &frameConn{conn: wsConn, sessionID: sessionID}, nil
	}
}

type frameConn struct {
	conn      *websocket.Conn
	sessionID string
}

func (c *frameConn) ReadFrame(ctx context.Context) (session.Frame, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return session.Frame{}, err
	}
	return session.ParseFrame(data)
}

func (c *frameConn) WriteFrame(ctx context.Context, f session.Frame) error {
	return wsjson.Write(ctx, c.conn, f)
}

func (c *frameConn) SessionID() string { return c.sessionID }

func (c *frameConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

// IsCleanClose reports whether err is a close with the normal closure code,
// i.e. the "client closed tab" code that is exempt from reconnection.
func IsCleanClose(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
