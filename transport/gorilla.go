package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Gorilla dials with github.com/gorilla/websocket.
type Gorilla struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// ReadLimit caps inbound message size. Zero means 1 MiB.
	ReadLimit int64

	// PongWait, when set, fails reads if nothing (data or pong) arrives in
	// time. Pair it with session keepalive pings shorter than PongWait.
	PongWait time.Duration
}

func (g Gorilla) Dial(ctx context.Context, uri *url.URL, header http.Header) (Conn, error) {
	d := g.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}

	conn, resp, err := d.DialContext(ctx, uri.String(), header)
	if err != nil {
		he := &HandshakeError{Err: err}
		if resp != nil {
			he.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, he
	}

	limit := g.ReadLimit
	if limit <= 0 {
		limit = maxMessageSize
	}
	conn.SetReadLimit(limit)

	c := &gorillaConn{conn: conn, pongWait: g.PongWait}
	if c.pongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		conn.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
	}
	return c, nil
}

type gorillaConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex // protects concurrent writes
	pongWait  time.Duration
	aborted   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaConn) extendReadDeadline() {
	if c.pongWait > 0 && !c.aborted.Load() {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	}
}

func (c *gorillaConn) ReadMessage(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() {
		c.aborted.Store(true)
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
			return Message{}, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return Message{}, ErrMessageTooLarge
		}
		return Message{}, err
	}
	c.extendReadDeadline()

	if mt == websocket.BinaryMessage {
		return Message{Type: BinaryMessage, Data: data}, nil
	}
	return Message{Type: TextMessage, Data: data}, nil
}

func (c *gorillaConn) WriteMessage(ctx context.Context, msg Message) error {
	mt := websocket.TextMessage
	if msg.Type == BinaryMessage {
		mt = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	c.conn.SetWriteDeadline(writeDeadline(ctx))
	if err := c.conn.WriteMessage(mt, msg.Data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *gorillaConn) CloseWrite(ctx context.Context) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, writeDeadline(ctx))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *gorillaConn) Ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, writeDeadline(ctx))
}

func (c *gorillaConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
