// Package protocol defines the JSON events the server sends to browser clients.
package protocol

// Event names sent from the server to the client.
const (
	EventReady      = "ws_ready"
	EventTurnEnd    = "turn_end"
	EventTTSBegin   = "tts_begin"
	EventTTSChunk   = "tts_chunk"
	EventTTSSkipped = "tts_skipped"
	EventTTSError   = "tts_error"
	EventTTSDone    = "tts_done"
	EventError      = "error"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event is a single server->client message. Only the fields relevant to
// the event type are populated.
type Event struct {
	Event      string `json:"event"`
	Role       string `json:"role,omitempty"`
	Text       string `json:"text,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	AudioB64   string `json:"audio_b64,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender delivers events to a client on a best-effort basis.
//
// Send never reports failure to the caller. Implementations swallow and
// log write errors so that a vanished client cannot abort a turn midway.
type Sender interface {
	Send(ev Event)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ev Event)

// Send implements Sender.
func (f SenderFunc) Send(ev Event) { f(ev) }

func Ready() Event { return Event{Event: EventReady} }

func TurnEnd(role, text string) Event {
	return Event{Event: EventTurnEnd, Role: role, Text: text}
}

func TTSBegin(format string, sampleRate int) Event {
	return Event{Event: EventTTSBegin, Format: format, SampleRate: sampleRate}
}

func TTSChunk(index int, audioB64, format string, sampleRate int) Event {
	return Event{
		Event:      EventTTSChunk,
		ChunkIndex: index,
		AudioB64:   audioB64,
		Format:     format,
		SampleRate: sampleRate,
	}
}

func TTSSkipped(reason string) Event { return Event{Event: EventTTSSkipped, Reason: reason} }

func TTSError(msg string) Event { return Event{Event: EventTTSError, Error: msg} }

func TTSDone() Event { return Event{Event: EventTTSDone} }

func Error(msg string) Event { return Event{Event: EventError, Error: msg} }
