package duplex

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neboloop/realtime/auth"
	"github.com/neboloop/realtime/transport"
)

// fakeConn is an in-memory transport.Conn. Frames pushed with deliver come
// out of ReadMessage; frames written are recorded and mirrored on written.
type fakeConn struct {
	inbox   chan transport.Message
	written chan transport.Message
	readErr chan error

	mu       sync.Mutex
	writes   []transport.Message
	writeErr error

	echoClose  bool
	closeWrite atomic.Int32
	closeCount atomic.Int32
	peerOnce   sync.Once
	peerClosed chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:      make(chan transport.Message, 64),
		written:    make(chan transport.Message, 1024),
		readErr:    make(chan error, 1),
		echoClose:  true,
		peerClosed: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbox:
		return msg, nil
	case err := <-c.readErr:
		return transport.Message{}, err
	case <-c.peerClosed:
		return transport.Message{}, io.EOF
	case <-c.closed:
		return transport.Message{}, net.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, msg transport.Message) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.writes = append(c.writes, msg)
	c.mu.Unlock()

	select {
	case c.written <- msg:
	default:
	}
	return nil
}

func (c *fakeConn) CloseWrite(ctx context.Context) error {
	c.closeWrite.Add(1)
	if c.echoClose {
		c.remoteClose()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeCount.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// deliver queues an inbound frame.
func (c *fakeConn) deliver(data string) {
	c.inbox <- transport.Message{Type: transport.TextMessage, Data: []byte(data)}
}

// remoteClose simulates a clean close from the peer.
func (c *fakeConn) remoteClose() {
	c.peerOnce.Do(func() { close(c.peerClosed) })
}

// fail makes the next read return err.
func (c *fakeConn) fail(err error) {
	c.readErr <- err
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.writes...)
}

// waitWrites blocks until n frames have been written.
func (c *fakeConn) waitWrites(t *testing.T, n int) []transport.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.sent(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(c.sent()))
	return nil
}

// fakeDialer hands out conn and records what it was asked to dial. When
// gate is non-nil, Dial waits for it (or ctx) before answering.
type fakeDialer struct {
	conn *fakeConn
	err  error
	gate chan struct{}

	mu     sync.Mutex
	calls  int
	uri    *url.URL
	header http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, uri *url.URL, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.uri = uri
	d.header = header.Clone()
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) dialed() (int, *url.URL, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.uri, d.header
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, d *fakeDialer, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithDialer(d),
		WithLogger(quietLogger()),
		WithCloseTimeout(time.Second),
		WithKeepalive(0),
	}
	s, err := New("https://svc.example/com", auth.KeyCredential{Key: "k"}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// openTestSession returns an open session over a fresh fakeConn. The
// session is closed when the test ends.
func openTestSession(t *testing.T, opts ...Option) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conn: conn}, opts...)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, conn
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not terminate, state %s", s.State())
	}
}
