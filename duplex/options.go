package duplex

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/neboloop/realtime/codec"
	"github.com/neboloop/realtime/endpoint"
	"github.com/neboloop/realtime/metrics"
	"github.com/neboloop/realtime/transport"
)

const (
	// DefaultAudioChunkSize is the number of source bytes per audio frame.
	DefaultAudioChunkSize = 16 * 1024

	// DefaultInboundBuffer is the per-subscriber frame buffer.
	DefaultInboundBuffer = 256

	// DefaultKeepalive is the ping period. Must be less than the peer's pong wait.
	DefaultKeepalive = (60 * time.Second * 9) / 10

	// DefaultCloseTimeout bounds the close handshake.
	DefaultCloseTimeout = 5 * time.Second
)

type options struct {
	version       string
	model         string
	query         url.Values
	header        http.Header
	dialer        transport.Dialer
	codec         codec.Codec
	logger        *slog.Logger
	metrics       *metrics.Metrics
	chunkSize     int
	audioRate     int
	inboundBuffer int
	keepalive     time.Duration
	closeTimeout  time.Duration
}

func defaultOptions() options {
	return options{
		version:       endpoint.DefaultProtocolVersion,
		query:         url.Values{},
		header:        http.Header{},
		dialer:        transport.Gorilla{},
		codec:         codec.JSON{},
		chunkSize:     DefaultAudioChunkSize,
		inboundBuffer: DefaultInboundBuffer,
		keepalive:     DefaultKeepalive,
		closeTimeout:  DefaultCloseTimeout,
	}
}

// Option configures a Session.
type Option func(*options)

// WithProtocolVersion sets the api-version query parameter.
func WithProtocolVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithModel sets the deployment/model hint sent on the connection URL.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithQuery adds query parameters to the connection URL. They override
// parameters of the same name on the endpoint, but never the protocol
// version or model hint.
func WithQuery(q url.Values) Option {
	return func(o *options) {
		for k, vs := range q {
			o.query[k] = append([]string(nil), vs...)
		}
	}
}

// WithHeader adds a header to the connection request. Authentication
// headers take precedence over headers set here.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

// WithHeaders adds every header in h to the connection request.
func WithHeaders(h http.Header) Option {
	return func(o *options) {
		for k, vs := range h {
			for _, v := range vs {
				o.header.Add(k, v)
			}
		}
	}
}

// WithDialer replaces the default gorilla/websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCodec replaces the default JSON codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudioChunkSize sets how many source bytes go into one audio frame.
func WithAudioChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithAudioPacing limits audio uploads to bytesPerSecond of source data.
// Zero disables pacing.
func WithAudioPacing(bytesPerSecond int) Option {
	return func(o *options) { o.audioRate = bytesPerSecond }
}

// WithInboundBuffer sets how many frames each subscriber may fall behind
// before the read loop waits for it.
func WithInboundBuffer(n int) Option {
	return func(o *options) { o.inboundBuffer = n }
}

// WithKeepalive sets the ping period. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(o *options) { o.keepalive = d }
}

// WithCloseTimeout bounds how long Close waits for the peer.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}
