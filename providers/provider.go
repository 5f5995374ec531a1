package providers

import (
	"context"
	"time"
)

// Provider creates streaming speech-to-text sessions.
type Provider interface {
	// NewSession opens a streaming session. Cancelling ctx tears the
	// session down and unblocks ReceiveTranscription.
	NewSession(ctx context.Context, config SessionConfig) (Session, error)

	// Name returns a short identifier such as "assemblyai".
	Name() string
}

// Session handles streaming transcription for a single connection.
type Session interface {
	// SendAudio sends raw audio data to the transcription service.
	// Audio data should match the format specified in SessionConfig.
	SendAudio(audioData []byte) error

	// ReceiveTranscription blocks until the next event is available.
	// Returns io.EOF when the session is closed and no more results are available.
	ReceiveTranscription() (TranscriptionResult, error)

	// CloseSend tells the provider no more audio will follow. Results already
	// in flight can still be received.
	CloseSend() error

	// Close releases the session. The reader and writer must be stopped
	// before calling Close.
	Close() error
}

// SessionConfig holds provider-agnostic configuration for transcription sessions.
type SessionConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000)
	SampleRate int

	// LanguageCode specifies the language for transcription (e.g., "en-US")
	LanguageCode string

	// InterimResults indicates whether to return interim (non-final) results
	InterimResults bool

	// Extensions allows providers to specify additional configuration options
	// using a map of key-value pairs specific to their implementation
	Extensions map[string]any
}

// ResultType classifies a TranscriptionResult.
type ResultType int

const (
	// ResultTranscript carries transcript text, interim or final.
	ResultTranscript ResultType = iota
	// ResultReady acknowledges that the provider session is established.
	ResultReady
	// ResultTerminated is the provider ending the session normally.
	ResultTerminated
)

func (t ResultType) String() string {
	switch t {
	case ResultTranscript:
		return "transcript"
	case ResultReady:
		return "ready"
	case ResultTerminated:
		return "terminated"
	}
	return "unknown"
}

// TranscriptionResult represents a provider event with metadata.
type TranscriptionResult struct {
	Type ResultType

	// Text is the transcribed text
	Text string

	// IsFinal is set when Text is the complete transcript of a finished turn.
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float32

	ProviderName string
	ReceivedAt   time.Time
}
