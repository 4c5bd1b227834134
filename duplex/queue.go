package duplex

import (
	"errors"
	"sync"

	"github.com/neboloop/realtime/metrics"
	"github.com/neboloop/realtime/transport"
)

// FrameKind tags an outbound frame.
type FrameKind int

const (
	KindCommand FrameKind = iota + 1
	KindAudio
)

func (k FrameKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

type outboundFrame struct {
	kind FrameKind
	msg  transport.Message
}

// errDrained is returned by pop once a gracefully closed queue is empty.
var errDrained = errors.New("outbound queue drained")

// outboundQueue is an unbounded FIFO with many producers and one consumer.
// push never blocks; the write loop waits on ready() between pops.
type outboundQueue struct {
	metrics *metrics.Metrics

	mu     sync.Mutex
	frames []outboundFrame
	closed bool
	cause  error // set when closed by a failure
	wake   chan struct{}
}

func newOutboundQueue(m *metrics.Metrics) *outboundQueue {
	return &outboundQueue{
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

func (q *outboundQueue) push(f outboundFrame) error {
	q.mu.Lock()
	if q.closed {
		err := q.closedErrLocked()
		q.mu.Unlock()
		return err
	}
	q.frames = append(q.frames, f)
	q.metrics.FrameQueued()
	q.mu.Unlock()

	q.signal()
	return nil
}

// pop returns the oldest frame. ok is false when the queue is empty but
// still open. After a graceful close the remaining frames are still handed
// out, then errDrained.
func (q *outboundQueue) pop() (f outboundFrame, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cause != nil {
		return outboundFrame{}, false, sendFailure(q.cause)
	}
	if len(q.frames) > 0 {
		f = q.frames[0]
		q.frames[0] = outboundFrame{}
		q.frames = q.frames[1:]
		return f, true, nil
	}
	if q.closed {
		return outboundFrame{}, false, errDrained
	}
	return outboundFrame{}, false, nil
}

func (q *outboundQueue) ready() <-chan struct{} {
	return q.wake
}

// close stops accepting frames. A non-nil cause marks the queue failed:
// later pushes and pops report it wrapped in ErrSendFailed.
func (q *outboundQueue) close(cause error) {
	q.mu.Lock()
	q.closed = true
	if cause != nil && q.cause == nil {
		q.cause = cause
	}
	q.mu.Unlock()

	q.signal()
}

// discard drops every pending frame and returns how many there were.
func (q *outboundQueue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	q.frames = nil
	q.metrics.FramesDiscarded(n)
	return n
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *outboundQueue) closedErrLocked() error {
	if q.cause != nil {
		return sendFailure(q.cause)
	}
	return ErrClosed
}

func (q *outboundQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
