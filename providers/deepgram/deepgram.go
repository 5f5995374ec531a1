// Package deepgram adapts Deepgram live transcription to providers.Session.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/agnivade/voiceagent/providers"
)

const providerName = "deepgram"

// ErrNoAPIKey is returned by NewSession when no key is configured.
var ErrNoAPIKey = errors.New("deepgram api key not configured")

// dgWriter is the part of the SDK websocket client a Session uses.
type dgWriter interface {
	io.Writer
	Finalize() error
	Stop()
}

// ChannelHandler receives SDK events on buffered channels. It satisfies the
// SDK's LiveMessageChan interface.
type ChannelHandler struct {
	openChan          chan *api.OpenResponse
	messageChan       chan *api.MessageResponse
	metadataChan      chan *api.MetadataResponse
	speechStartedChan chan *api.SpeechStartedResponse
	utteranceEndChan  chan *api.UtteranceEndResponse
	closeChan         chan *api.CloseResponse
	errorChan         chan *api.ErrorResponse
	unhandledChan     chan *[]byte
}

// NewChannelHandler creates a handler with buffered event channels.
func NewChannelHandler() *ChannelHandler {
	return &ChannelHandler{
		openChan:          make(chan *api.OpenResponse, 1),
		messageChan:       make(chan *api.MessageResponse, 10),
		metadataChan:      make(chan *api.MetadataResponse, 1),
		speechStartedChan: make(chan *api.SpeechStartedResponse, 1),
		utteranceEndChan:  make(chan *api.UtteranceEndResponse, 1),
		closeChan:         make(chan *api.CloseResponse, 1),
		errorChan:         make(chan *api.ErrorResponse, 1),
		unhandledChan:     make(chan *[]byte, 1),
	}
}

func (ch *ChannelHandler) GetOpen() []*chan *api.OpenResponse {
	return []*chan *api.OpenResponse{&ch.openChan}
}

func (ch *ChannelHandler) GetMessage() []*chan *api.MessageResponse {
	return []*chan *api.MessageResponse{&ch.messageChan}
}

func (ch *ChannelHandler) GetMetadata() []*chan *api.MetadataResponse {
	return []*chan *api.MetadataResponse{&ch.metadataChan}
}

func (ch *ChannelHandler) GetSpeechStarted() []*chan *api.SpeechStartedResponse {
	return []*chan *api.SpeechStartedResponse{&ch.speechStartedChan}
}

func (ch *ChannelHandler) GetUtteranceEnd() []*chan *api.UtteranceEndResponse {
	return []*chan *api.UtteranceEndResponse{&ch.utteranceEndChan}
}

func (ch *ChannelHandler) GetClose() []*chan *api.CloseResponse {
	return []*chan *api.CloseResponse{&ch.closeChan}
}

func (ch *ChannelHandler) GetError() []*chan *api.ErrorResponse {
	return []*chan *api.ErrorResponse{&ch.errorChan}
}

func (ch *ChannelHandler) GetUnhandled() []*chan *[]byte {
	return []*chan *[]byte{&ch.unhandledChan}
}

// Provider opens Deepgram live transcription sessions.
type Provider struct {
	apiKey string
	model  string
}

// NewProvider creates a Deepgram provider using the given API key and model.
func NewProvider(apiKey, model string) *Provider {
	client.InitWithDefault()
	return &Provider{apiKey: apiKey, model: model}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession dials Deepgram. Interim results are requested because
// utterance-end events depend on them; only final segments are surfaced.
func (p *Provider) NewSession(ctx context.Context, config providers.SessionConfig) (providers.Session, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	cOptions := &interfaces.ClientOptions{
		APIKey:          p.apiKey,
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          p.model,
		Language:       config.LanguageCode,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     config.SampleRate,
		VadEvents:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
	}

	events := NewChannelHandler()
	dgClient, err := client.NewWSUsingChan(ctx, "", cOptions, tOptions, events)
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if !dgClient.Connect() {
		return nil, errors.New("failed to connect to deepgram")
	}

	return &Session{
		ctx:            ctx,
		client:         dgClient,
		channelHandler: events,
	}, nil
}

// Session is one Deepgram stream. Final segments are buffered until Deepgram
// marks the end of speech, so one result carries the whole turn.
type Session struct {
	ctx            context.Context
	client         dgWriter
	channelHandler *ChannelHandler

	pending    []string
	confidence float64
}

func (s *Session) SendAudio(audioData []byte) error {
	_, err := s.client.Write(audioData)
	return err
}

// ReceiveTranscription blocks until the stream opens, a turn completes, the
// stream closes or ctx ends. Cancellation is reported as io.EOF.
func (s *Session) ReceiveTranscription() (providers.TranscriptionResult, error) {
	ch := s.channelHandler
	for {
		select {
		case <-ch.openChan:
			return providers.TranscriptionResult{
				Type:         providers.ResultReady,
				ProviderName: providerName,
				ReceivedAt:   time.Now(),
			}, nil
		case msg := <-ch.messageChan:
			if msg == nil {
				continue
			}
			if result := s.processMessage(msg); result != nil {
				return *result, nil
			}
		case <-ch.utteranceEndChan:
			if result := s.flush(); result != nil {
				return *result, nil
			}
		case e := <-ch.errorChan:
			if e != nil {
				return providers.TranscriptionResult{}, fmt.Errorf("deepgram %s: %s", e.Type, e.Description)
			}
		case <-ch.closeChan:
			return providers.TranscriptionResult{}, io.EOF
		case <-ch.metadataChan:
		case <-ch.speechStartedChan:
		case <-ch.unhandledChan:
		case <-s.ctx.Done():
			if errors.Is(s.ctx.Err(), context.Canceled) {
				return providers.TranscriptionResult{}, io.EOF
			}
			return providers.TranscriptionResult{}, s.ctx.Err()
		}
	}
}

// processMessage buffers a final segment and returns the turn once the
// message marks the end of speech.
func (s *Session) processMessage(msg *api.MessageResponse) *providers.TranscriptionResult {
	if !msg.IsFinal {
		return nil
	}
	if len(msg.Channel.Alternatives) > 0 {
		alt := msg.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			s.pending = append(s.pending, text)
			s.confidence = alt.Confidence
		}
	}
	if !msg.SpeechFinal {
		return nil
	}
	return s.flush()
}

func (s *Session) flush() *providers.TranscriptionResult {
	if len(s.pending) == 0 {
		return nil
	}
	result := &providers.TranscriptionResult{
		Type:         providers.ResultTranscript,
		Text:         strings.Join(s.pending, " "),
		IsFinal:      true,
		Confidence:   float32(s.confidence),
		ProviderName: providerName,
		ReceivedAt:   time.Now(),
	}
	s.pending = s.pending[:0]
	return result
}

// CloseSend asks Deepgram to flush results for the audio sent so far.
func (s *Session) CloseSend() error {
	if s.client == nil {
		return nil
	}
	return s.client.Finalize()
}

// Close stops the client. The event channels are left open: the SDK may
// still deliver in-flight messages to them after Stop.
func (s *Session) Close() error {
	if s.client != nil {
		s.client.Stop()
	}
	return nil
}
