package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for realtime sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session lifecycle metrics
	SessionsOpened prometheus.Counter
	SessionsActive prometheus.Gauge
	SessionsClosed *prometheus.CounterVec
	OpenDuration   prometheus.Histogram

	// Frame metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	OutboundQueue  prometheus.Gauge

	// Audio upload metrics
	AudioStreams        *prometheus.CounterVec
	AudioStreamRejected prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_sessions_opened_total",
			Help: "Total number of sessions whose connection was established",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Current number of open sessions",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_sessions_terminated_total",
			Help: "Total number of sessions reaching a terminal state",
		}, []string{"state"}),
		OpenDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "realtime_session_open_duration_seconds",
			Help:    "Time from Open to an established connection",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_frames_sent_total",
			Help: "Total number of frames written to the connection",
		}, []string{"kind"}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_received_total",
			Help: "Total number of frames read from the connection",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_dropped_total",
			Help: "Total number of accepted frames discarded by abnormal termination",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_bytes_sent_total",
			Help: "Total payload bytes written",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_bytes_received_total",
			Help: "Total payload bytes read",
		}),
		OutboundQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_outbound_queue_frames",
			Help: "Frames accepted but not yet written, across sessions",
		}),

		AudioStreams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_audio_streams_total",
			Help: "Total number of audio uploads by outcome",
		}, []string{"outcome"}),
		AudioStreamRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "realtime_audio_streams_rejected_total",
			Help: "Audio uploads refused because another upload was active",
		}),
	}
}

func (m *Metrics) SessionOpened(took time.Duration) {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
	m.OpenDuration.Observe(took.Seconds())
}

// SessionTerminated records a terminal state. wasOpen reports whether the
// session had been counted as active.
func (m *Metrics) SessionTerminated(state string, wasOpen bool) {
	if m == nil {
		return
	}
	if wasOpen {
		m.SessionsActive.Dec()
	}
	m.SessionsClosed.WithLabelValues(state).Inc()
}

func (m *Metrics) FrameQueued() {
	if m == nil {
		return
	}
	m.OutboundQueue.Inc()
}

func (m *Metrics) FrameSent(kind string, n int) {
	if m == nil {
		return
	}
	m.OutboundQueue.Dec()
	m.FramesSent.WithLabelValues(kind).Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) FramesDiscarded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutboundQueue.Sub(float64(n))
	m.FramesDropped.Add(float64(n))
}

func (m *Metrics) FrameReceived(n int) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) AudioStreamDone(outcome string) {
	if m == nil {
		return
	}
	m.AudioStreams.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AudioStreamRefused() {
	if m == nil {
		return
	}
	m.AudioStreamRejected.Inc()
}
