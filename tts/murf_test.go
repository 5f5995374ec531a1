package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) Send(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Event)
	}
	return out
}

// fakeMurf accepts one stream, checks the handshake and replays frames.
func fakeMurf(t *testing.T, frames []string) (*httptest.Server, chan map[string]any) {
	t.Helper()
	received := make(chan map[string]any, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api-key"))
		assert.Equal(t, "WAV", r.URL.Query().Get("format"))
		assert.Equal(t, "44100", r.URL.Query().Get("sample_rate"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func testConfig(url string) config.TTSConfig {
	cfg := config.Default().TTS
	cfg.APIKey = "secret"
	cfg.URL = "ws" + strings.TrimPrefix(url, "http")
	return cfg
}

func TestSynthesize_StreamsChunksInOrder(t *testing.T) {
	srv, received := fakeMurf(t, []string{
		`{"audio":"AAA"}`,
		`not json at all`,
		`{"data":{"audio":"BBB"}}`,
		`{"type":"progress"}`,
		`{"audio":"CCC","final":true}`,
		`{"audio":"never"}`,
	})

	m := metrics.Nop()
	s := NewSynthesizer(testConfig(srv.URL), m, zerolog.Nop())
	rec := &recorder{}

	n := s.Synthesize(context.Background(), "Hello there.", rec, "s1")
	assert.Equal(t, 3, n)

	assert.Equal(t, []string{
		protocol.EventTTSBegin,
		protocol.EventTTSChunk,
		protocol.EventTTSChunk,
		protocol.EventTTSChunk,
		protocol.EventTTSDone,
	}, rec.names())

	assert.Equal(t, 44100, rec.events[0].SampleRate)
	for i, want := range []string{"AAA", "BBB", "CCC"} {
		ev := rec.events[i+1]
		assert.Equal(t, i+1, ev.ChunkIndex)
		assert.Equal(t, want, ev.AudioB64)
		assert.Equal(t, "wav", ev.Format)
	}

	voice := <-received
	require.Contains(t, voice, "voice_config")
	vc := voice["voice_config"].(map[string]any)
	assert.Equal(t, "en-IN-arohi", vc["voiceId"])
	assert.Equal(t, "Conversational", vc["style"])

	text := <-received
	assert.Equal(t, "Hello there.", text["text"])
	assert.Equal(t, true, text["end"])

	assert.Equal(t, float64(3), testutil.ToFloat64(m.TTSChunks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TTSOutcomes.WithLabelValues(OutcomeOK)))
}

func TestSynthesize_EndTypeStops(t *testing.T) {
	srv, _ := fakeMurf(t, []string{`{"audio":"AAA"}`, `{"type":"session_end"}`, `{"audio":"BBB"}`})
	s := NewSynthesizer(testConfig(srv.URL), metrics.Nop(), zerolog.Nop())
	rec := &recorder{}

	assert.Equal(t, 1, s.Synthesize(context.Background(), "hi", rec, "s1"))
	assert.Equal(t, protocol.EventTTSDone, rec.names()[len(rec.names())-1])
}

func TestSynthesize_NoKeySkips(t *testing.T) {
	cfg := config.Default().TTS
	m := metrics.Nop()
	s := NewSynthesizer(cfg, m, zerolog.Nop())
	rec := &recorder{}

	assert.Equal(t, 0, s.Synthesize(context.Background(), "hi", rec, "s1"))
	assert.Equal(t, []string{protocol.EventTTSSkipped, protocol.EventTTSDone}, rec.names())
	assert.Equal(t, "no_murf_key", rec.events[0].Reason)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TTSOutcomes.WithLabelValues(OutcomeSkipped)))
}

func TestSynthesize_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewSynthesizer(testConfig(srv.URL), metrics.Nop(), zerolog.Nop())
	rec := &recorder{}

	assert.Equal(t, 0, s.Synthesize(context.Background(), "hi", rec, "s1"))
	assert.Equal(t, []string{protocol.EventTTSError, protocol.EventTTSDone}, rec.names())
	assert.NotEmpty(t, rec.events[0].Error)
}

func TestSynthesize_AbruptClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var msg map[string]any
		conn.ReadJSON(&msg)
		conn.ReadJSON(&msg)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":"AAA"}`))
		conn.Close()
	}))
	defer srv.Close()

	s := NewSynthesizer(testConfig(srv.URL), metrics.Nop(), zerolog.Nop())
	rec := &recorder{}

	assert.Equal(t, 1, s.Synthesize(context.Background(), "hi", rec, "s1"))
	assert.Equal(t, []string{
		protocol.EventTTSBegin,
		protocol.EventTTSChunk,
		protocol.EventTTSError,
		protocol.EventTTSDone,
	}, rec.names())
}

func TestSynthesize_Cancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s := NewSynthesizer(testConfig(srv.URL), metrics.Nop(), zerolog.Nop())
	rec := &recorder{}
	s.Synthesize(ctx, "hi", rec, "s1")

	names := rec.names()
	assert.Equal(t, protocol.EventTTSError, names[len(names)-2])
	assert.Equal(t, protocol.EventTTSDone, names[len(names)-1])
}
