package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SessionOpened(time.Second)
	m.SessionTerminated("closed", true)
	m.FrameQueued()
	m.FrameSent("command", 10)
	m.FramesDiscarded(3)
	m.FrameReceived(5)
	m.AudioStreamDone("completed")
	m.AudioStreamRefused()
}

func TestSessionAccounting(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened(20 * time.Millisecond)
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}

	m.FrameQueued()
	m.FrameQueued()
	m.FrameQueued()
	m.FrameSent("command", 7)
	m.FrameSent("audio", 5)
	m.FramesDiscarded(1)

	if got := testutil.ToFloat64(m.OutboundQueue); got != 0 {
		t.Fatalf("queue gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.FramesSent.WithLabelValues("command")); got != 1 {
		t.Fatalf("command frames = %v", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 12 {
		t.Fatalf("bytes sent = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}

	m.SessionTerminated("failed", true)
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Fatalf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
}
