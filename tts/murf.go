// Package tts streams reply text through the Murf speech synthesis websocket
// and forwards the audio to the client as it arrives.
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/protocol"
)

// Synthesis outcomes, as recorded in metrics.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

const skipReasonNoKey = "no_murf_key"

type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type configMessage struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type textMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

type frame struct {
	Audio string          `json:"audio"`
	Data  json.RawMessage `json:"data"`
	Final bool            `json:"final"`
	Type  string          `json:"type"`
}

func (f frame) audio() string {
	if f.Audio != "" {
		return f.Audio
	}
	var nested struct {
		Audio string `json:"audio"`
	}
	if len(f.Data) > 0 && json.Unmarshal(f.Data, &nested) == nil {
		return nested.Audio
	}
	return ""
}

func (f frame) last() bool {
	switch f.Type {
	case "end", "session_end", "completed":
		return true
	}
	return f.Final
}

// Synthesizer opens one Murf stream per call. It is safe for concurrent use.
type Synthesizer struct {
	cfg     config.TTSConfig
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewSynthesizer creates a Murf synthesizer. Without an API key every call is skipped.
func NewSynthesizer(cfg config.TTSConfig, m *metrics.Metrics, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		metrics: m,
		log:     logger,
	}
}

// Enabled reports whether a synthesis credential is configured.
func (s *Synthesizer) Enabled() bool {
	return s.cfg.APIKey != ""
}

// Synthesize speaks text to out. Events go out as tts_begin, then tts_chunk
// in provider order with chunk_index starting at 1, and always end with
// tts_done. Failures are reported to the client as tts_error and are not
// returned. It returns the number of chunks forwarded.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, out protocol.Sender, sessionID string) int {
	defer out.Send(protocol.TTSDone())

	if !s.Enabled() {
		out.Send(protocol.TTSSkipped(skipReasonNoKey))
		s.metrics.RecordTTSOutcome(OutcomeSkipped)
		return 0
	}

	chunks, err := s.stream(ctx, text, out)
	if err != nil {
		s.log.Error().Err(err).Str("sessionId", sessionID).Int("chunks", chunks).Msg("Murf streaming error")
		out.Send(protocol.TTSError(err.Error()))
		s.metrics.RecordTTSOutcome(OutcomeError)
		return chunks
	}
	s.metrics.RecordTTSOutcome(OutcomeOK)
	return chunks
}

func (s *Synthesizer) stream(ctx context.Context, text string, out protocol.Sender) (int, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return 0, fmt.Errorf("could not connect to Murf: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = conn.WriteJSON(configMessage{VoiceConfig: voiceConfig{
		VoiceID:   s.cfg.Voice,
		Style:     s.cfg.Style,
		Variation: 1,
	}})
	if err != nil {
		return 0, fmt.Errorf("send voice config: %w", err)
	}
	out.Send(protocol.TTSBegin(s.cfg.Format, s.cfg.SampleRate))
	if err := conn.WriteJSON(textMessage{Text: text, End: true}); err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	var index int
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return index, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return index, nil
			}
			return index, err
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.Debug().Err(err).Msg("Skipping malformed Murf frame")
			continue
		}
		if audio := f.audio(); audio != "" {
			index++
			out.Send(protocol.TTSChunk(index, audio, s.cfg.Format, s.cfg.SampleRate))
			s.metrics.TTSChunks.Inc()
		}
		if f.last() {
			return index, nil
		}
	}
}

func (s *Synthesizer) streamURL() string {
	q := url.Values{}
	q.Set("api-key", s.cfg.APIKey)
	q.Set("sample_rate", strconv.Itoa(s.cfg.SampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", strings.ToUpper(s.cfg.Format))
	return s.cfg.URL + "?" + q.Encode()
}
