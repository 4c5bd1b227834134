package duplex

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/time/rate"
)

type audioRead struct {
	n   int
	err error
}

// SendAudio streams r to the service as a sequence of input-audio append
// commands, one per chunk of source bytes, until r reports EOF. Only one
// SendAudio may run per session at a time; a second concurrent call fails
// with ErrConcurrentAudioStream and does not disturb the first.
//
// Chunks share the outbound queue with commands, so audio and commands
// reach the wire in the order they were queued. Cancelling ctx returns
// ctx.Err(). The session leaving Open stops the upload with a nil error
// unless the connection failed. Neither waits for a blocked r.Read: that
// read is abandoned and r must not be reused afterwards.
func (s *Session) SendAudio(ctx context.Context, r io.Reader) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if !s.audioActive.CompareAndSwap(false, true) {
		s.cfg.metrics.AudioStreamRefused()
		return ErrConcurrentAudioStream
	}

	outcome := "completed"
	defer func() {
		s.audioActive.Store(false)
		s.cfg.metrics.AudioStreamDone(outcome)
	}()

	// stream ends with ctx or with the session.
	stream, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.done:
			stop()
		case <-stream.Done():
		}
	}()

	stopped := func() error {
		if err := ctx.Err(); err != nil {
			outcome = "cancelled"
			return err
		}
		if err := s.requireOpen(); errors.Is(err, ErrSendFailed) {
			outcome = "failed"
			return err
		}
		outcome = "interrupted"
		return nil
	}

	var limiter *rate.Limiter
	if s.cfg.audioRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.audioRate), max(s.cfg.chunkSize, s.cfg.audioRate))
	}

	buf := make([]byte, s.cfg.chunkSize)
	for {
		if stream.Err() != nil || s.requireOpen() != nil {
			return stopped()
		}

		// buf is only reused once the previous read has delivered.
		read := make(chan audioRead, 1)
		go func() {
			n, err := io.ReadFull(r, buf)
			read <- audioRead{n, err}
		}()
		var res audioRead
		select {
		case res = <-read:
		case <-stream.Done():
			return stopped()
		}

		if res.n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(stream, res.n); err != nil {
					if stream.Err() != nil {
						return stopped()
					}
					outcome = "failed"
					return err
				}
			}
			payload, err := s.cfg.codec.AudioAppend(base64.StdEncoding.EncodeToString(buf[:res.n]))
			if err != nil {
				outcome = "failed"
				return err
			}
			if err := s.enqueue(KindAudio, payload); err != nil {
				if errors.Is(err, ErrSendFailed) {
					outcome = "failed"
					return err
				}
				outcome = "interrupted"
				return nil
			}
		}

		switch {
		case res.err == nil:
		case errors.Is(res.err, io.EOF), errors.Is(res.err, io.ErrUnexpectedEOF):
			return nil
		default:
			outcome = "failed"
			return res.err
		}
	}
}
