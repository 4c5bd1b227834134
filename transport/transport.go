// Package transport defines the framed duplex channel a realtime session runs
// over and provides WebSocket implementations of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MessageType distinguishes text and binary frames.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one frame on the wire.
type Message struct {
	Type MessageType
	Data []byte
}

// Dialer opens a Conn to uri, sending header with the handshake.
type Dialer interface {
	Dial(ctx context.Context, uri *url.URL, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, uri *url.URL, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, uri *url.URL, header http.Header) (Conn, error) {
	return f(ctx, uri, header)
}

// Conn is a full-duplex framed channel. One goroutine may read while another
// writes.
type Conn interface {
	// ReadMessage blocks for the next data frame. It returns io.EOF when the
	// peer closed the channel cleanly. Cancelling ctx aborts the read and
	// leaves the Conn unusable for further reads.
	ReadMessage(ctx context.Context) (Message, error)

	// WriteMessage writes one frame.
	WriteMessage(ctx context.Context, msg Message) error

	// CloseWrite sends a protocol close. Reads continue until the peer
	// acknowledges.
	CloseWrite(ctx context.Context) error

	// Close releases the underlying connection immediately.
	Close() error
}

// Pinger is implemented by connections that support keepalive pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size accepted from the peer.
	maxMessageSize = 1 << 20
)

// HandshakeError reports a failed connection upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("websocket handshake failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("websocket handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ErrMessageTooLarge is returned when the peer sends a frame above the read limit.
var ErrMessageTooLarge = errors.New("message exceeds read limit")

func writeDeadline(ctx context.Context) time.Time {
	dl := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(dl) {
		return d
	}
	return dl
}
