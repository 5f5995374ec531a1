// Package assemblyai implements streaming transcription against the
// AssemblyAI v3 realtime websocket API.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/providers"
)

const providerName = "assemblyai"

// ErrNoAPIKey is returned by NewSession when no credential is configured.
var ErrNoAPIKey = errors.New("AssemblyAI key not provided")

// Message types sent by the service.
const (
	msgBegin            = "Begin"
	msgTurn             = "Turn"
	msgTermination      = "Termination"
	msgTerminateSession = "TerminateSession"
)

type message struct {
	Type                string  `json:"type"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnIsFormatted     bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float32 `json:"end_of_turn_confidence"`
	Error               string  `json:"error"`
}

// Provider implements the providers.Provider interface for AssemblyAI.
type Provider struct {
	cfg    config.AssemblyAIConfig
	dialer *websocket.Dialer
}

// NewProvider creates a new AssemblyAI provider.
func NewProvider(cfg config.AssemblyAIConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession dials the realtime endpoint. Turns are requested formatted, so
// only the formatted end-of-turn message is reported as final.
func (p *Provider) NewSession(ctx context.Context, config providers.SessionConfig) (providers.Session, error) {
	if p.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	header := http.Header{}
	header.Set("Authorization", p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, p.streamURL(config), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("could not connect to AssemblyAI (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("could not connect to AssemblyAI: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	s := &Session{
		conn: conn,
		ctx:  ctx,
	}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

func (p *Provider) streamURL(config providers.SessionConfig) string {
	q := url.Values{}
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(p.cfg.EndOfTurnConfidence, 'f', -1, 64))
	q.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(p.cfg.MinSilenceConfidentMS))
	q.Set("max_turn_silence", strconv.Itoa(p.cfg.MaxTurnSilenceMS))
	return p.cfg.URL + "?" + q.Encode()
}

// Session implements the providers.Session interface for AssemblyAI.
type Session struct {
	conn *websocket.Conn
	ctx  context.Context
	stop func() bool

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// SendAudio forwards a PCM frame as a binary message.
func (s *Session) SendAudio(audioData []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, audioData)
}

// ReceiveTranscription blocks until the next Begin, Turn or Termination
// message. Malformed and unknown messages are skipped.
func (s *Session) ReceiveTranscription() (providers.TranscriptionResult, error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return providers.TranscriptionResult{}, io.EOF
			}
			return providers.TranscriptionResult{}, err
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case msgBegin:
			return s.result(providers.ResultReady), nil
		case msgTurn:
			res := s.result(providers.ResultTranscript)
			res.Text = strings.TrimSpace(msg.Transcript)
			res.IsFinal = msg.EndOfTurn && msg.TurnIsFormatted
			res.Confidence = msg.EndOfTurnConfidence
			return res, nil
		case msgTermination, msgTerminateSession:
			return s.result(providers.ResultTerminated), nil
		case "":
			if msg.Error != "" {
				return providers.TranscriptionResult{}, fmt.Errorf("assemblyai: %s", msg.Error)
			}
		}
	}
}

func (s *Session) result(t providers.ResultType) providers.TranscriptionResult {
	return providers.TranscriptionResult{
		Type:         t,
		ProviderName: providerName,
		ReceivedAt:   time.Now(),
	}
}

// CloseSend asks the service to finish the session. It answers with a
// Termination message once pending turns are flushed.
func (s *Session) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]string{"type": "Terminate"})
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.conn.Close()
}
