package voiceagent

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/history"
	"github.com/agnivade/voiceagent/llm"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/providers"
	"github.com/agnivade/voiceagent/providers/mocks"
	"github.com/agnivade/voiceagent/responder"
	"github.com/agnivade/voiceagent/skills"
	"github.com/agnivade/voiceagent/tts"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Scheduler.TurnTimeout = 5 * time.Second
	cfg.Scheduler.ShutdownGrace = time.Second
	return cfg
}

// newTestServer builds a server with the real reply pipeline: built-in
// skills, no model and no TTS key unless deps override them.
func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	cfg := testConfig()
	nop := zerolog.Nop()

	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.History == nil {
		deps.History = history.Open(context.Background(), history.NewMemoryBackend(), nop)
	}
	if deps.Responder == nil {
		deps.Responder = responder.New(skills.NewMatcher(cfg.Skills, nop), llm.Disabled{}, deps.History, deps.Metrics, nop)
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = tts.NewSynthesizer(config.TTSConfig{Format: "wav", SampleRate: 44100}, deps.Metrics, nop)
	}
	deps.Logger = nop
	return New(cfg, deps)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer_StartAndStop(t *testing.T) {
	mockProvider := mocks.NewMockProvider(t)
	mockProvider.EXPECT().Name().Return("mock-provider").Maybe()

	server := newTestServer(t, Deps{Providers: []providers.Provider{mockProvider}})
	server.srv.Addr = freeAddr(t)

	startErrChan := make(chan error, 1)
	go func() {
		startErrChan <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	err := server.Stop()
	assert.NoError(t, err, "Server should stop without error")

	select {
	case startErr := <-startErrChan:
		assert.NoError(t, startErr, "Start() should complete without error after Stop()")
	case <-time.After(2 * time.Second):
		t.Fatal("Start() method should have completed after Stop() was called")
	}
}

func TestServer_MultipleProviders(t *testing.T) {
	mockProvider1 := mocks.NewMockProvider(t)
	mockProvider2 := mocks.NewMockProvider(t)

	server := newTestServer(t, Deps{Providers: []providers.Provider{mockProvider1, mockProvider2}})

	assert.Len(t, server.providers, 2)
	assert.Equal(t, mockProvider1, server.providers[0])
	assert.Equal(t, mockProvider2, server.providers[1])
	assert.Equal(t, 16000, server.sttConfig.SampleRate)
	assert.Equal(t, "en-US", server.sttConfig.LanguageCode)
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t, Deps{})

	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordSessionStart()

	server := newTestServer(t, Deps{Metrics: m, Gatherer: reg})

	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "voiceagent_sessions_total 1")
}

func TestServer_MetricsEndpointWithoutGatherer(t *testing.T) {
	server := newTestServer(t, Deps{})

	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// createMockWebSocketConnection returns the server side of a live websocket.
// The client side is closed with the test.
func createMockWebSocketConnection(t *testing.T) *websocket.Conn {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return <-serverSide
}

func TestServer_AddConn(t *testing.T) {
	server := newTestServer(t, Deps{})

	c1 := newClientConn(createMockWebSocketConnection(t), time.Second, zerolog.Nop())
	c2 := newClientConn(createMockWebSocketConnection(t), time.Second, zerolog.Nop())

	server.addConn(c1)
	assert.Len(t, server.conns, 1)
	assert.Contains(t, server.conns, c1)

	server.addConn(c2)
	assert.Len(t, server.conns, 2)

	server.addConn(c1)
	assert.Len(t, server.conns, 2)
}

func TestServer_RemoveConn(t *testing.T) {
	server := newTestServer(t, Deps{})

	c1 := newClientConn(createMockWebSocketConnection(t), time.Second, zerolog.Nop())
	c2 := newClientConn(createMockWebSocketConnection(t), time.Second, zerolog.Nop())
	server.addConn(c1)
	server.addConn(c2)

	server.removeConn(c1)
	assert.Len(t, server.conns, 1)
	_, exists := server.conns[c1]
	assert.False(t, exists)

	server.removeConn(c2)
	assert.Len(t, server.conns, 0)

	// Removing twice is safe.
	server.removeConn(c1)
	assert.Len(t, server.conns, 0)
}

func TestServer_StopAllConns_EmptyConnections(t *testing.T) {
	server := newTestServer(t, Deps{})
	server.stopAllConns()
	assert.Len(t, server.conns, 0)
}

func TestServer_StopAllConns_WithRealConnections(t *testing.T) {
	server := newTestServer(t, Deps{})

	conn1 := createMockWebSocketConnection(t)
	conn2 := createMockWebSocketConnection(t)
	c1 := newClientConn(conn1, time.Second, zerolog.Nop())
	c2 := newClientConn(conn2, time.Second, zerolog.Nop())
	server.addConn(c1)
	server.addConn(c2)

	server.stopAllConns()

	// Connections deregister themselves from the handler, not from here.
	assert.Len(t, server.conns, 2)

	err := conn1.WriteMessage(websocket.TextMessage, []byte("test"))
	assert.Error(t, err)
	err = conn2.WriteMessage(websocket.TextMessage, []byte("test"))
	assert.Error(t, err)

	// Closing again is a no-op.
	assert.NoError(t, c1.Close())
}
