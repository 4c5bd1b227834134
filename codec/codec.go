// Package codec encodes client commands and decodes server events of the
// realtime protocol. A session treats the encoded bytes as opaque frames.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"

	"github.com/neboloop/realtime/transport"
)

// Codec converts between structured messages and frame payloads.
type Codec interface {
	// Encode serializes a client command.
	Encode(cmd any) ([]byte, error)

	// AudioAppend builds the command that appends one base64 audio chunk to
	// the server's input buffer.
	AudioAppend(audioBase64 string) ([]byte, error)

	// Decode parses one server event.
	Decode(data []byte) (*Event, error)

	// MessageType is the frame type encoded commands are sent as.
	MessageType() transport.MessageType
}

var ErrMalformedEvent = errors.New("malformed event")

// Event is a decoded server event. Raw holds the complete original payload.
type Event struct {
	Type    string
	EventID string
	Raw     json.RawMessage
}

// ServerError is the body of an "error" event.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// Err returns the server error carried by an "error" event, or nil.
func (e *Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	var body struct {
		Error ServerError `json:"error"`
	}
	if err := json.Unmarshal(e.Raw, &body); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return &body.Error
}

// AudioDelta returns the decoded PCM bytes of a "response.audio.delta"
// event. ok is false for any other event type.
func (e *Event) AudioDelta() (pcm []byte, ok bool, err error) {
	if e.Type != EventResponseAudioDelta {
		return nil, false, nil
	}
	delta := gjson.GetBytes(e.Raw, "delta")
	pcm, err = base64.StdEncoding.DecodeString(delta.String())
	if err != nil {
		return nil, true, fmt.Errorf("%w: audio delta: %w", ErrMalformedEvent, err)
	}
	return pcm, true, nil
}

// Unmarshal decodes the full event into v.
func (e *Event) Unmarshal(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// JSON is the default codec: one JSON object per text frame. Commands that
// embed Header and have no event id are sent with a fresh one; the
// caller's command is left unchanged, so it can be submitted again.
type JSON struct{}

func (JSON) Encode(cmd any) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("encode: nil command")
	}
	data, err := json.Marshal(withEventID(cmd))
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", cmd, err)
	}
	return data, nil
}

type headed interface{ header() *Header }

// withEventID returns a shallow copy of cmd carrying a new event id, or cmd
// itself when it has no Header or already names its id.
func withEventID(cmd any) any {
	rv := reflect.ValueOf(cmd)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return cmd
	}
	if h, ok := cmd.(headed); !ok || h.header().EventID != "" {
		return cmd
	}
	cp := reflect.New(rv.Elem().Type())
	cp.Elem().Set(rv.Elem())
	out := cp.Interface()
	out.(headed).header().EventID = NewEventID()
	return out
}

func (c JSON) AudioAppend(audioBase64 string) ([]byte, error) {
	return c.Encode(&InputAudioBufferAppend{
		Header: Header{Type: CommandInputAudioBufferAppend},
		Audio:  audioBase64,
	})
}

func (JSON) Decode(data []byte) (*Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	res := gjson.GetManyBytes(data, "type", "event_id")
	if res[0].Type != gjson.String || res[0].String() == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return &Event{
		Type:    res[0].String(),
		EventID: res[1].String(),
		Raw:     json.RawMessage(data),
	}, nil
}

func (JSON) MessageType() transport.MessageType { return transport.TextMessage }

// NewEventID returns a client event id. Ids sort in creation order.
func NewEventID() string {
	return "evt_" + ulid.Make().String()
}
