package duplex

import (
	"context"
	"sync"

	"github.com/neboloop/realtime/transport"
)

// broadcast fans the read loop out to every current subscriber. Each
// subscriber has its own bounded buffer; when one is full, publish waits,
// which in turn stops the read loop from pulling more off the connection.
type broadcast struct {
	size int

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	closed   bool
	cause    error
	finished chan struct{}
}

func newBroadcast(size int) *broadcast {
	return &broadcast{
		size:     size,
		subs:     make(map[*Subscription]struct{}),
		finished: make(chan struct{}),
	}
}

func (b *broadcast) subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, b.terminalErrLocked()
	}
	sub := &Subscription{
		b:    b,
		ch:   make(chan transport.Message, b.size),
		left: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

func (b *broadcast) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// publish delivers msg to the subscribers attached right now, in order.
func (b *broadcast) publish(ctx context.Context, msg transport.Message) error {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		select {
		case sub.ch <- msg:
		case <-sub.left:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// close completes every subscription. A nil cause is a clean end.
func (b *broadcast) close(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cause = cause
	close(b.finished)
}

func (b *broadcast) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcast) terminalErrLocked() error {
	if b.cause != nil {
		return receiveFailure(b.cause)
	}
	return ErrClosed
}

func (b *broadcast) terminalErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminalErrLocked()
}

// Subscription is one consumer's view of inbound frames, starting at the
// moment it was created.
type Subscription struct {
	b     *broadcast
	ch    chan transport.Message
	left  chan struct{}
	leave sync.Once
}

// Next returns the next frame. Frames buffered before the session ended are
// still returned; after that Next reports ErrClosed for a clean end or an
// ErrConnectionLost-wrapped cause for a failure.
func (s *Subscription) Next(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.left:
		return transport.Message{}, ErrClosed
	case <-s.b.finished:
		select {
		case msg := <-s.ch:
			return msg, nil
		default:
		}
		return transport.Message{}, s.b.terminalErr()
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.leave.Do(func() {
		close(s.left)
		s.b.unsubscribe(s)
	})
}
