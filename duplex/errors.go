package duplex

import (
	"errors"
	"fmt"

	"github.com/neboloop/realtime/auth"
	"github.com/neboloop/realtime/endpoint"
)

var (
	ErrConfiguration     = auth.ErrConfiguration
	ErrAuthentication    = auth.ErrAuthentication
	ErrUnsupportedScheme = endpoint.ErrUnsupportedScheme

	ErrConnectFailed         = errors.New("connect failed")
	ErrNotConnected          = errors.New("session not connected")
	ErrAlreadyConnecting     = errors.New("session already connecting")
	ErrAlreadyOpen           = errors.New("session already open")
	ErrClosed                = errors.New("session closed")
	ErrConcurrentAudioStream = errors.New("audio stream already active")
	ErrSendFailed            = errors.New("send failed")
	ErrConnectionLost        = errors.New("connection lost")
)

// errRemoteClosed ends the read loop when the peer closed the channel cleanly.
var errRemoteClosed = errors.New("remote closed connection")

func sendFailure(cause error) error {
	if errors.Is(cause, ErrSendFailed) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrSendFailed, cause)
}

func receiveFailure(cause error) error {
	if errors.Is(cause, ErrConnectionLost) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}
