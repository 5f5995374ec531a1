// Package history keeps the conversation log of every session and persists
// it through a pluggable driver.
package history

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Entry is a single conversation turn.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Backend persists history entries. Implementations need not be safe for
// concurrent Append calls; Store serializes them.
type Backend interface {
	// Load returns every persisted session history.
	Load(ctx context.Context) (map[string][]Entry, error)

	// Append persists one entry at the end of a session's history.
	Append(ctx context.Context, sessionID string, e Entry) error

	Close() error
}

// Store is the process-wide history log. A single lock guards every read
// and write, and persistence happens while it is held so the driver sees
// entries in append order.
type Store struct {
	mu       sync.Mutex
	sessions map[string][]Entry
	backend  Backend
	log      zerolog.Logger
}

// Open loads persisted history from backend. A failing load is logged and
// the store starts empty.
func Open(ctx context.Context, backend Backend, logger zerolog.Logger) *Store {
	s := &Store{
		sessions: make(map[string][]Entry),
		backend:  backend,
		log:      logger,
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not load history, starting empty")
		return s
	}
	for id, entries := range loaded {
		s.sessions[id] = entries
	}
	s.log.Info().Int("sessions", len(s.sessions)).Msg("History loaded")
	return s
}

// Ensure makes sure a history exists for the session.
func (s *Store) Ensure(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = []Entry{}
	}
}

// Append adds a turn to a session's history. Blank text, and text repeating
// the immediately preceding entry with the same role, are skipped. It
// reports whether the entry was added. Persistence failures are logged and
// do not undo the in-memory append.
func (s *Store) Append(ctx context.Context, sessionID, role, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sessions[sessionID]
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if last.Role == role && strings.TrimSpace(last.Text) == text {
			return false
		}
	}

	e := Entry{Role: role, Text: text}
	s.sessions[sessionID] = append(entries, e)

	if err := s.backend.Append(ctx, sessionID, e); err != nil {
		s.log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to persist history")
	}
	return true
}

// Entries returns a copy of a session's history.
func (s *Store) Entries(sessionID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Sessions returns the number of sessions with a history.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
