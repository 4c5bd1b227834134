package codec

import "encoding/json"

// Client command types.
const (
	CommandSessionUpdate          = "session.update"
	CommandInputAudioBufferAppend = "input_audio_buffer.append"
	CommandInputAudioBufferCommit = "input_audio_buffer.commit"
	CommandInputAudioBufferClear  = "input_audio_buffer.clear"
	CommandConversationItemCreate = "conversation.item.create"
	CommandResponseCreate         = "response.create"
	CommandResponseCancel         = "response.cancel"
)

// Server event types the helpers understand.
const (
	EventError                 = "error"
	EventSessionCreated        = "session.created"
	EventSessionUpdated        = "session.updated"
	EventResponseAudioDelta    = "response.audio.delta"
	EventResponseTextDelta     = "response.text.delta"
	EventResponseDone          = "response.done"
	EventInputSpeechStarted    = "input_audio_buffer.speech_started"
	EventInputSpeechStopped    = "input_audio_buffer.speech_stopped"
	EventInputAudioCommitted   = "input_audio_buffer.committed"
	EventConversationItemAdded = "conversation.item.created"
)

// Header is embedded by every client command. Pass commands by pointer so
// the codec can give each encoding its own EventID.
type Header struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (h *Header) header() *Header { return h }

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the mutable part of a server session.
type SessionConfig struct {
	Modalities              []string        `json:"modalities,omitempty"`
	Instructions            string          `json:"instructions,omitempty"`
	Voice                   string          `json:"voice,omitempty"`
	InputAudioFormat        string          `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string          `json:"output_audio_format,omitempty"`
	TurnDetection           *TurnDetection  `json:"turn_detection,omitempty"`
	Tools                   json.RawMessage `json:"tools,omitempty"`
	Temperature             float64         `json:"temperature,omitempty"`
	MaxResponseOutputTokens any             `json:"max_response_output_tokens,omitempty"`
}

type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

type InputAudioBufferAppend struct {
	Header
	Audio string `json:"audio"`
}

type InputAudioBufferCommit struct {
	Header
}

type InputAudioBufferClear struct {
	Header
}

// ContentPart is one piece of a conversation item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item.
type Item struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// ResponseOptions overrides session settings for one response.
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

type ResponseCreate struct {
	Header
	Response *ResponseOptions `json:"response,omitempty"`
}

type ResponseCancel struct {
	Header
}

// NewSessionUpdate returns a session.update command.
func NewSessionUpdate(cfg SessionConfig) *SessionUpdate {
	return &SessionUpdate{Header: Header{Type: CommandSessionUpdate}, Session: cfg}
}

// NewCommit returns an input_audio_buffer.commit command.
func NewCommit() *InputAudioBufferCommit {
	return &InputAudioBufferCommit{Header: Header{Type: CommandInputAudioBufferCommit}}
}

// NewClear returns an input_audio_buffer.clear command.
func NewClear() *InputAudioBufferClear {
	return &InputAudioBufferClear{Header: Header{Type: CommandInputAudioBufferClear}}
}

// NewUserText returns a conversation.item.create command for a user text message.
func NewUserText(text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Header: Header{Type: CommandConversationItemCreate},
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewResponseCreate returns a response.create command. opts may be nil.
func NewResponseCreate(opts *ResponseOptions) *ResponseCreate {
	return &ResponseCreate{Header: Header{Type: CommandResponseCreate}, Response: opts}
}

// NewResponseCancel returns a response.cancel command.
func NewResponseCancel() *ResponseCancel {
	return &ResponseCancel{Header: Header{Type: CommandResponseCancel}}
}
