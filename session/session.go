// Package session keeps the volatile per-connection state of every live
// conversation.
package session

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/cases"
)

const (
	DefaultPersona = "default"
	NoSkill        = "none"
)

// ErrActive is returned when a session id is already bound to a live connection.
var ErrActive = errors.New("session already active")

// Admission is the outcome of offering a transcript to a session.
type Admission int

const (
	Admitted Admission = iota
	RejectedInFlight
	RejectedDuplicate
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case RejectedInFlight:
		return "in_flight"
	case RejectedDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Session is the state of one connected conversation. Persona and Skill are
// fixed at creation.
type Session struct {
	ID      string
	Persona string
	Skill   string

	inFlight atomic.Bool

	mu       sync.Mutex
	lastText string
}

// Admit applies the admission policy to a normalized transcript. On success
// the session is marked in-flight and the transcript becomes the last
// accepted one. The check and the update happen atomically.
func (s *Session) Admit(normalized string) Admission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight.Load() {
		return RejectedInFlight
	}
	if normalized == s.lastText {
		return RejectedDuplicate
	}
	s.lastText = normalized
	s.inFlight.Store(true)
	return Admitted
}

// InFlight reports whether a turn is being generated or spoken.
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

// Release clears the in-flight flag.
func (s *Session) Release() {
	s.inFlight.Store(false)
}

// LastText returns the last accepted normalized transcript.
func (s *Session) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

// ForcedSkill returns the skill override, or "" when none was requested.
func (s *Session) ForcedSkill() string {
	if s.Skill == NoSkill {
		return ""
	}
	return s.Skill
}

var folder = cases.Fold()

// Normalize collapses whitespace and case-folds a transcript.
func Normalize(text string) string {
	return folder.String(strings.Join(strings.Fields(text), " "))
}

// Registry holds all live sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session. Empty persona and skill fall back to
// their defaults.
func (r *Registry) Create(id, persona, skill string) (*Session, error) {
	if persona == "" {
		persona = DefaultPersona
	}
	if skill == "" {
		skill = NoSkill
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, ErrActive
	}
	s := &Session{ID: id, Persona: persona, Skill: skill}
	r.sessions[id] = s
	return s, nil
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
