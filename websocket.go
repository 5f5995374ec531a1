package voiceagent

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agnivade/voiceagent/logging"
	"github.com/agnivade/voiceagent/protocol"
	"github.com/agnivade/voiceagent/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket runs one client session for the lifetime of the
// connection. Query parameters: session_id, persona, skill.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
		s.log.Info().Str("sessionId", sessionID).Msg("No session_id supplied, history will not carry over")
	}
	logger := logging.WithSession(s.log, sessionID)

	client := newClientConn(conn, s.cfg.Server.WriteTimeout, logger)
	s.addConn(client)
	defer func() {
		client.Close()
		s.removeConn(client)
	}()

	sess, err := s.registry.Create(sessionID, q.Get("persona"), q.Get("skill"))
	if err != nil {
		if errors.Is(err, session.ErrActive) {
			logger.Warn().Msg("Rejecting connection for session already in use")
		}
		client.Send(protocol.Error(err.Error()))
		return
	}
	defer s.registry.Remove(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := NewProviderSelector(ctx, s.providers, s.sttConfig, s.metrics, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Could not open speech-to-text session")
		client.Send(protocol.Error(err.Error()))
		return
	}

	logger.Info().
		Str("persona", sess.Persona).
		Str("skill", sess.Skill).
		Str("provider", stream.Active()).
		Msg("Session started")
	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()

	s.history.Ensure(sessionID)
	if err := s.scheduler.Start(sess, s.turnFunc(client)); err != nil {
		stream.Close()
		client.Send(protocol.Error(err.Error()))
		return
	}

	relay := &transcriptionRelay{
		client:    client,
		stream:    stream,
		sess:      sess,
		scheduler: s.scheduler,
		metrics:   s.metrics,
		log:       logger,
		cancel:    cancel,
	}
	if err := relay.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Relay stopped with error")
	}

	// ctx is cancelled by now; the worker still gets its drain margin.
	s.scheduler.Shutdown(context.Background(), sessionID)
	logger.Info().Msg("Session ended")
}
