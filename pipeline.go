package voiceagent

import (
	"context"
	"time"

	"github.com/agnivade/voiceagent/events"
	"github.com/agnivade/voiceagent/protocol"
	"github.com/agnivade/voiceagent/responder"
	"github.com/agnivade/voiceagent/session"
)

// Responder produces reply text for a transcript. An empty reply with a nil
// error means there is nothing to say.
type Responder interface {
	Generate(ctx context.Context, sess *session.Session, transcript string) (responder.Reply, error)
}

// Synthesizer speaks text to a client and always finishes with tts_done.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, out protocol.Sender, sessionID string) int
}

// EventPublisher receives completed turns.
type EventPublisher interface {
	PublishTurn(ctx context.Context, ev events.TurnEvent) error
}

// turnFunc builds the per-session turn step: announce the user turn,
// generate a reply, announce it and speak it.
func (s *Server) turnFunc(client protocol.Sender) TurnFunc {
	return func(ctx context.Context, sess *session.Session, text string) error {
		client.Send(protocol.TurnEnd(protocol.RoleUser, text))
		s.publish(ctx, sess, events.TurnEvent{Role: protocol.RoleUser, Text: text})

		reply, err := s.responder.Generate(ctx, sess, text)
		if err != nil {
			return err
		}
		if reply.Empty() {
			s.log.Debug().Str("sessionId", sess.ID).Msg("No reply produced")
			return nil
		}

		client.Send(protocol.TurnEnd(protocol.RoleAssistant, reply.Text))
		s.publish(ctx, sess, events.TurnEvent{
			Role:   protocol.RoleAssistant,
			Text:   reply.Text,
			Source: reply.Source,
			Skill:  reply.Skill,
		})

		s.synth.Synthesize(ctx, reply.Text, client, sess.ID)
		return ctx.Err()
	}
}

func (s *Server) publish(ctx context.Context, sess *session.Session, ev events.TurnEvent) {
	if s.events == nil {
		return
	}
	ev.SessionID = sess.ID
	ev.Persona = sess.Persona
	ev.Timestamp = time.Now().UTC()
	if err := s.events.PublishTurn(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("Failed to publish turn event")
	}
}
