// Package responder turns a completed user transcript into reply text, either
// from a built-in skill or from the language model.
package responder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/history"
	"github.com/agnivade/voiceagent/llm"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/protocol"
	"github.com/agnivade/voiceagent/session"
	"github.com/agnivade/voiceagent/skills"
)

// Reply sources.
const (
	SourceSkill = "skill"
	SourceLLM   = "llm"
)

var personaPrompts = map[string]string{
	session.DefaultPersona: "You are a helpful AI voice assistant. Speak naturally.",
	"pirate":               "Arr! Ye be a swashbucklin' pirate. Talk with 'aye', 'matey', and pirate slang.",
	"cowboy":               "You're a friendly cowboy from the Wild West. Use phrases like 'Howdy partner!' and cowboy charm.",
	"robot":                "You are a monotone robot. Speak in short, mechanical, precise sentences.",
	"professor":            "You are a wise professor. Explain things clearly, formally, and with patience.",
	"buddy":                "You are a casual supportive buddy. Be warm, cheerful, and encouraging.",
}

// PersonaPrompt returns the system prompt for persona, falling back to the
// default persona for unknown names.
func PersonaPrompt(persona string) string {
	if p, ok := personaPrompts[persona]; ok {
		return p
	}
	return personaPrompts[session.DefaultPersona]
}

// BuildPrompt assembles the full generation prompt for a transcript.
func BuildPrompt(persona, transcript string) string {
	return fmt.Sprintf("%s\nUser said: %s\nRespond in character.", PersonaPrompt(persona), transcript)
}

// SkillMatcher is satisfied by *skills.Matcher.
type SkillMatcher interface {
	Match(ctx context.Context, transcript, forced string) (skills.Result, bool)
}

// Reply is generated reply text. An empty Text means no reply was produced.
type Reply struct {
	Text   string
	Source string
	Skill  string
}

// Empty reports whether no reply was produced.
func (r Reply) Empty() bool {
	return r.Text == ""
}

// Responder implements the skill-then-model reply strategy.
type Responder struct {
	skills  SkillMatcher
	llm     llm.Generator
	history *history.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a Responder that tries skills before the generator.
func New(sm SkillMatcher, gen llm.Generator, store *history.Store, m *metrics.Metrics, logger zerolog.Logger) *Responder {
	return &Responder{
		skills:  sm,
		llm:     gen,
		history: store,
		metrics: m,
		log:     logger,
	}
}

// Generate produces the reply for one turn. A failed or empty generation
// yields an empty Reply and a nil error; only an ended ctx is returned as an
// error. Both the user and assistant turns are appended to history when a
// reply is produced.
func (r *Responder) Generate(ctx context.Context, sess *session.Session, transcript string) (Reply, error) {
	var reply Reply
	if res, ok := r.skills.Match(ctx, transcript, sess.ForcedSkill()); ok && res.Reply != "" {
		r.metrics.RecordSkill(res.Skill)
		reply = Reply{Text: res.Reply, Source: SourceSkill, Skill: res.Skill}
	} else {
		text, err := r.llm.Generate(ctx, BuildPrompt(sess.Persona, transcript))
		if err != nil {
			r.metrics.RecordLLM("error")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Reply{}, fmt.Errorf("could not generate reply: %w", ctxErr)
			}
			r.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("Generation failed, not replying")
			return Reply{}, nil
		}
		if text == "" {
			r.metrics.RecordLLM("empty")
			return Reply{}, nil
		}
		r.metrics.RecordLLM("ok")
		reply = Reply{Text: text, Source: SourceLLM}
	}

	r.history.Append(ctx, sess.ID, protocol.RoleUser, transcript)
	r.history.Append(ctx, sess.ID, protocol.RoleAssistant, reply.Text)
	r.log.Debug().
		Str("sessionId", sess.ID).
		Str("source", reply.Source).
		Str("skill", reply.Skill).
		Msg("Reply generated")
	return reply, nil
}
