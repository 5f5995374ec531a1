// Package voiceagent relays a live voice conversation between a browser
// client and streaming speech-to-text, reply generation and speech synthesis
// services.
package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/history"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/providers"
	"github.com/agnivade/voiceagent/session"
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Providers   []providers.Provider
	Responder   Responder
	Synthesizer Synthesizer
	History     *history.Store
	Events      EventPublisher // optional
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // serves /metrics when set
	Logger      zerolog.Logger
}

type Server struct {
	srv *http.Server
	cfg config.Config
	log zerolog.Logger

	providers []providers.Provider
	sttConfig providers.SessionConfig

	registry  *session.Registry
	scheduler *TurnScheduler
	history   *history.Store
	responder Responder
	synth     Synthesizer
	events    EventPublisher
	metrics   *metrics.Metrics

	connsMu sync.Mutex
	conns   map[*clientConn]struct{}
}

func New(cfg config.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	m := deps.Metrics
	if m == nil {
		m = metrics.Nop()
	}

	server := &Server{
		srv: &http.Server{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Handler:      mux,
		},
		cfg:       cfg,
		log:       deps.Logger,
		providers: deps.Providers,
		sttConfig: providers.SessionConfig{
			SampleRate:   cfg.STT.SampleRate,
			LanguageCode: cfg.STT.Language,
		},
		registry:  session.NewRegistry(),
		scheduler: NewTurnScheduler(cfg.Scheduler.TurnTimeout, cfg.Scheduler.ShutdownGrace, m, deps.Logger),
		history:   deps.History,
		responder: deps.Responder,
		synth:     deps.Synthesizer,
		events:    deps.Events,
		metrics:   m,
		conns:     make(map[*clientConn]struct{}),
	}

	mux.HandleFunc("/ws", server.handleWebSocket)
	mux.HandleFunc("/health", server.handleHealth)
	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return server
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("Starting server")
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections, closes live client sockets and waits for
// their turn workers to finish.
func (s *Server) Stop() error {
	s.log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown does not track hijacked connections.
	err := s.srv.Shutdown(ctx)
	s.stopAllConns()
	s.scheduler.Close(ctx)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) addConn(c *clientConn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) removeConn(c *clientConn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

func (s *Server) stopAllConns() {
	s.connsMu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
