package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Gobwas dials with github.com/gobwas/ws.
type Gobwas struct {
	// Timeout bounds the handshake when ctx has no deadline.
	Timeout time.Duration

	// ReadLimit caps inbound message size. Zero means 1 MiB.
	ReadLimit int64
}

func (g Gobwas) Dial(ctx context.Context, uri *url.URL, header http.Header) (Conn, error) {
	d := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: g.Timeout,
	}

	conn, br, _, err := d.Dial(ctx, uri.String())
	if err != nil {
		he := &HandshakeError{Err: err}
		var se ws.StatusError
		if errors.As(err, &se) {
			he.StatusCode = int(se)
		}
		return nil, he
	}

	limit := g.ReadLimit
	if limit <= 0 {
		limit = maxMessageSize
	}

	c := &gobwasConn{conn: conn, src: conn, limit: limit}
	if br != nil {
		c.src = br
	}
	return c, nil
}

type gobwasConn struct {
	conn  net.Conn
	src   io.Reader // conn, or the handshake reader when it buffered data
	limit int64

	writeMu   sync.Mutex // serializes writes
	closeSent atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// ctl collects control replies (pong, close echo) produced while
	// reading so they can be written as one unit under writeMu.
	ctl bytes.Buffer
}

func (c *gobwasConn) ReadMessage(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	msg, err := c.readData()
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		var ce wsutil.ClosedError
		if errors.As(err, &ce) && (ce.Code == ws.StatusNormalClosure || ce.Code == ws.StatusNoStatusRcvd) {
			return Message{}, io.EOF
		}
		if errors.Is(err, wsutil.ErrFrameTooLarge) {
			return Message{}, ErrMessageTooLarge
		}
		if errors.Is(err, io.EOF) {
			// Stream ended without a close frame.
			return Message{}, io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return msg, nil
}

func (c *gobwasConn) readData() (Message, error) {
	handle := wsutil.ControlFrameHandler(&c.ctl, ws.StateClientSide)
	rd := wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		MaxFrameSize:   c.limit,
		OnIntermediate: handle,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return Message{}, err
		}
		if hdr.OpCode.IsControl() {
			err := handle(hdr, &rd)
			if ferr := c.flushControl(hdr.OpCode); err == nil {
				err = ferr
			}
			if err != nil {
				return Message{}, err
			}
			continue
		}

		var mt MessageType
		switch hdr.OpCode {
		case ws.OpText:
			mt = TextMessage
		case ws.OpBinary:
			mt = BinaryMessage
		default:
			if err := rd.Discard(); err != nil {
				return Message{}, err
			}
			continue
		}

		// MaxFrameSize bounds single frames; this bounds the whole message.
		data, err := io.ReadAll(io.LimitReader(&rd, c.limit+1))
		if ferr := c.flushControl(ws.OpPing); err == nil {
			err = ferr
		}
		if err != nil {
			return Message{}, err
		}
		if int64(len(data)) > c.limit {
			return Message{}, ErrMessageTooLarge
		}
		return Message{Type: mt, Data: data}, nil
	}
}

// flushControl writes any buffered control reply. A close echo is dropped
// when this side already sent its own close frame.
func (c *gobwasConn) flushControl(op ws.OpCode) error {
	if c.ctl.Len() == 0 {
		return nil
	}
	defer c.ctl.Reset()
	if op == ws.OpClose && c.closeSent.Load() {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if _, err := c.conn.Write(c.ctl.Bytes()); err != nil {
		return fmt.Errorf("write control reply: %w", err)
	}
	return nil
}

func (c *gobwasConn) write(ctx context.Context, op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	c.conn.SetWriteDeadline(writeDeadline(ctx))
	if err := wsutil.WriteClientMessage(c.conn, op, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *gobwasConn) WriteMessage(ctx context.Context, msg Message) error {
	op := ws.OpText
	if msg.Type == BinaryMessage {
		op = ws.OpBinary
	}
	return c.write(ctx, op, msg.Data)
}

func (c *gobwasConn) CloseWrite(ctx context.Context) error {
	if !c.closeSent.CompareAndSwap(false, true) {
		return nil
	}
	return c.write(ctx, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
}

func (c *gobwasConn) Ping(ctx context.Context) error {
	return c.write(ctx, ws.OpPing, nil)
}

func (c *gobwasConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
