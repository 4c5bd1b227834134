// Package duplex implements a realtime session: one persistent full-duplex
// connection carrying encoded commands and audio out and server events in.
//
// A Session is created Idle, opened once, used concurrently, and closed once.
// Two goroutines own the connection while it is open: the write loop drains
// the outbound queue onto it in submission order, and the read loop fans
// inbound frames out to subscribers.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/realtime/auth"
	"github.com/neboloop/realtime/endpoint"
	"github.com/neboloop/realtime/internal/logging"
	"github.com/neboloop/realtime/transport"
)

var tracer = otel.Tracer("github.com/neboloop/realtime/duplex")

// Session is one duplex connection to the realtime service.
type Session struct {
	id   string
	cfg  options
	base *url.URL
	cred auth.Credential
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	conn    transport.Conn
	err     error              // terminal cause when Failed
	cancel  context.CancelFunc // aborts the dial or the loops
	wasOpen bool

	connOnce sync.Once
	done     chan struct{}

	outbound    *outboundQueue
	inbound     *broadcast
	audioActive atomic.Bool
}

// New validates the configuration and returns an Idle session. rawEndpoint
// is the service's http(s) base URL.
func New(rawEndpoint string, cred auth.Credential, opts ...Option) (*Session, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := endpoint.Parse(rawEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if _, err := endpoint.ToConnectionURI(base, cfg.model, cfg.query, cfg.version); err != nil {
		return nil, err
	}
	switch {
	case cred == nil:
		return nil, fmt.Errorf("%w: no credential", ErrConfiguration)
	case cfg.dialer == nil:
		return nil, fmt.Errorf("%w: nil dialer", ErrConfiguration)
	case cfg.codec == nil:
		return nil, fmt.Errorf("%w: nil codec", ErrConfiguration)
	case cfg.chunkSize <= 0:
		return nil, fmt.Errorf("%w: audio chunk size %d", ErrConfiguration, cfg.chunkSize)
	case cfg.inboundBuffer <= 0:
		return nil, fmt.Errorf("%w: inbound buffer %d", ErrConfiguration, cfg.inboundBuffer)
	case cfg.audioRate < 0 || cfg.keepalive < 0 || cfg.closeTimeout <= 0:
		return nil, fmt.Errorf("%w: negative pacing, keepalive or close timeout", ErrConfiguration)
	}

	id := uuid.NewString()
	logger := cfg.logger
	if logger == nil {
		logger = logging.Component("realtime-session")
	}

	return &Session{
		id:       id,
		cfg:      cfg,
		base:     base,
		cred:     cred,
		log:      logger.With("session_id", id),
		state:    StateIdle,
		done:     make(chan struct{}),
		outbound: newOutboundQueue(cfg.metrics),
		inbound:  newBroadcast(cfg.inboundBuffer),
	}, nil
}

// ID returns the session's local identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the cause of failure once the session is Failed, else nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Open resolves credentials and the connection URL, dials, and starts the
// read and write loops. It returns once the connection is up; the loops run
// until Close or a connection failure.
func (s *Session) Open(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "realtime.session.open", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("credential.kind", auth.Kind(s.cred)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateConnecting:
		s.mu.Unlock()
		return ErrAlreadyConnecting
	case StateOpen:
		s.mu.Unlock()
		return ErrAlreadyOpen
	default:
		s.mu.Unlock()
		return ErrClosed
	}
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	start := time.Now()

	header, err := s.cred.Resolve(dialCtx)
	if err != nil {
		return s.failOpen(err)
	}
	uri, err := endpoint.ToConnectionURI(s.base, s.cfg.model, s.cfg.query, s.cfg.version)
	if err != nil {
		return s.failOpen(err)
	}
	span.SetAttributes(attribute.String("url.host", uri.Host))

	conn, err := s.cfg.dialer.Dial(dialCtx, uri, s.requestHeader(header))
	if err != nil {
		return s.failOpen(fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Close ran while dialing.
		s.mu.Unlock()
		conn.Close()
		s.terminate(StateClosed, nil)
		return ErrClosed
	}
	runCtx, stop := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = stop
	s.wasOpen = true
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	s.cfg.metrics.SessionOpened(time.Since(start))
	s.log.Info("session open", "host", uri.Host, "took", time.Since(start))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.writeLoop(gctx, conn) })
	g.Go(func() error { return s.readLoop(gctx, conn) })
	go s.supervise(g)

	return nil
}

// requestHeader merges configured headers with the credential's. The
// credential wins on conflicts.
func (s *Session) requestHeader(authHeader http.Header) http.Header {
	h := s.cfg.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, vs := range authHeader {
		h[k] = vs
	}
	return h
}

// failOpen ends a session whose Open did not reach Open.
func (s *Session) failOpen(err error) error {
	s.mu.Lock()
	closing := s.state == StateClosing
	s.mu.Unlock()

	if closing {
		s.terminate(StateClosed, nil)
		return ErrClosed
	}
	s.log.Error("open failed", "error", err)
	s.terminate(StateFailed, err)
	return err
}

// Close shuts the session down. Queued frames are flushed, a protocol close
// is sent, and Close waits for the peer to answer, bounded by ctx and the
// close timeout; after that the connection is torn down. The session is
// terminal when Close returns. Closing a terminal session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "realtime.session.close", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	defer span.End()

	s.mu.Lock()
	switch s.state {
	case StateClosed, StateFailed:
		s.mu.Unlock()
		return nil
	case StateIdle:
		s.mu.Unlock()
		s.terminate(StateClosed, nil)
		return nil
	case StateConnecting, StateOpen:
		s.setStateLocked(StateClosing)
	}
	s.mu.Unlock()

	s.outbound.close(nil)

	timer := time.NewTimer(s.cfg.closeTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		s.log.Warn("close handshake timed out, tearing down")
	case <-ctx.Done():
		s.log.Warn("close interrupted, tearing down", "error", ctx.Err())
	}

	s.abort()
	<-s.done
	return nil
}

// abort cancels the dial or the loops and drops the connection.
func (s *Session) abort() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.closeConn(conn)
	}
}

func (s *Session) closeConn(conn transport.Conn) {
	s.connOnce.Do(func() {
		if err := conn.Close(); err != nil {
			s.log.Debug("close connection", "error", err)
		}
	})
}

// supervise waits for both loops and settles the terminal state.
func (s *Session) supervise(g *errgroup.Group) {
	err := g.Wait()

	s.mu.Lock()
	conn := s.conn
	closing := s.state == StateClosing
	cancel := s.cancel
	s.mu.Unlock()

	if conn != nil {
		s.closeConn(conn)
	}
	if cancel != nil {
		cancel()
	}

	switch {
	case closing:
		if err != nil && !errors.Is(err, errRemoteClosed) && !errors.Is(err, context.Canceled) {
			s.log.Warn("connection ended uncleanly during close", "error", err)
		}
		s.terminate(StateClosed, nil)
	case err == nil || errors.Is(err, errRemoteClosed):
		s.log.Info("remote closed session")
		s.terminate(StateClosed, nil)
	default:
		s.log.Error("session failed", "error", err)
		s.terminate(StateFailed, err)
	}
}

// terminate moves the session to a terminal state and releases everything
// that might be waiting on it. Only the first call has any effect.
func (s *Session) terminate(state State, cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(state)
	if state == StateFailed {
		s.err = cause
	}
	s.conn = nil
	wasOpen := s.wasOpen
	s.mu.Unlock()

	if state == StateFailed {
		s.outbound.close(cause)
		s.inbound.close(cause)
	} else {
		s.outbound.close(nil)
		s.inbound.close(nil)
	}
	if n := s.outbound.discard(); n > 0 {
		s.log.Warn("dropped unsent frames", "count", n)
	}

	s.cfg.metrics.SessionTerminated(state.String(), wasOpen)
	close(s.done)
}

func (s *Session) setStateLocked(state State) {
	s.log.Debug("state change", "from", s.state, "to", state)
	s.state = state
}

// requireOpen reports the precondition error for operations that need an
// open connection.
func (s *Session) requireOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen:
		return nil
	case StateIdle, StateConnecting:
		return ErrNotConnected
	case StateFailed:
		return fmt.Errorf("%w: %w", ErrClosed, sendFailure(s.err))
	default:
		return ErrClosed
	}
}

// writeLoop pumps frames from the outbound queue to the connection.
func (s *Session) writeLoop(ctx context.Context, conn transport.Conn) error {
	var ping <-chan time.Time
	pinger, canPing := conn.(transport.Pinger)
	if canPing && s.cfg.keepalive > 0 {
		ticker := time.NewTicker(s.cfg.keepalive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		f, ok, err := s.outbound.pop()
		switch {
		case errors.Is(err, errDrained):
			closeCtx, cancel := context.WithTimeout(ctx, s.cfg.closeTimeout)
			err := conn.CloseWrite(closeCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("%w: close frame: %w", ErrSendFailed, err)
			}
			return nil
		case err != nil:
			return err
		case ok:
			if err := conn.WriteMessage(ctx, f.msg); err != nil {
				s.cfg.metrics.FramesDiscarded(1)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %w", ErrSendFailed, err)
			}
			s.cfg.metrics.FrameSent(f.kind.String(), len(f.msg.Data))
			continue
		}

		select {
		case <-s.outbound.ready():
		case <-ping:
			if err := pinger.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: ping: %w", ErrSendFailed, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop pumps frames from the connection to subscribers.
func (s *Session) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errRemoteClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		s.cfg.metrics.FrameReceived(len(msg.Data))

		if err := s.inbound.publish(ctx, msg); err != nil {
			return err
		}
	}
}

// SubmitCommand queues an already-encoded command. It returns once the
// frame is queued, not once it is written. The session owns payload after
// the call.
func (s *Session) SubmitCommand(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.enqueue(KindCommand, payload)
}

// Submit encodes cmd with the session codec and queues it.
func (s *Session) Submit(ctx context.Context, cmd any) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	payload, err := s.cfg.codec.Encode(cmd)
	if err != nil {
		return err
	}
	return s.SubmitCommand(ctx, payload)
}

func (s *Session) enqueue(kind FrameKind, payload []byte) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	return s.outbound.push(outboundFrame{
		kind: kind,
		msg:  transport.Message{Type: s.cfg.codec.MessageType(), Data: payload},
	})
}
