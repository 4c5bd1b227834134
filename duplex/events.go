package duplex

import (
	"context"
	"errors"
	"iter"

	"github.com/neboloop/realtime/codec"
	"github.com/neboloop/realtime/transport"
)

// Subscribe attaches a new consumer to the inbound stream. It sees frames
// received from now on; earlier frames are not replayed. Callers must Close
// the subscription when done, or the read loop will eventually wait on it.
func (s *Session) Subscribe() (*Subscription, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.inbound.subscribe()
}

// Events returns the inbound frames as a sequence. The subscription is made
// when iteration starts and released when it stops. A clean session end
// finishes the sequence; a failure is yielded as a final error wrapping
// ErrConnectionLost.
func (s *Session) Events(ctx context.Context) iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		sub, err := s.Subscribe()
		if err != nil {
			yield(transport.Message{}, err)
			return
		}
		defer sub.Close()

		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					yield(transport.Message{}, err)
				}
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// ServerEvents is Events decoded with the session codec. Frames that fail
// to decode are yielded as errors without ending the sequence.
func (s *Session) ServerEvents(ctx context.Context) iter.Seq2[*codec.Event, error] {
	return func(yield func(*codec.Event, error) bool) {
		for msg, err := range s.Events(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			ev, err := s.cfg.codec.Decode(msg.Data)
			if !yield(ev, err) {
				return
			}
		}
	}
}
