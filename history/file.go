package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores every session in one JSON document that is rewritten
// after each append.
type FileBackend struct {
	path     string
	sessions map[string][]Entry
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path:     path,
		sessions: make(map[string][]Entry),
	}
}

// Load reads the history file. A missing file is an empty history.
func (f *FileBackend) Load(ctx context.Context) (map[string][]Entry, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string][]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var sessions map[string][]Entry
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse history file %s: %w", f.path, err)
	}
	if sessions == nil {
		sessions = map[string][]Entry{}
	}

	f.sessions = make(map[string][]Entry, len(sessions))
	for id, entries := range sessions {
		f.sessions[id] = append([]Entry(nil), entries...)
	}
	return sessions, nil
}

// Append adds the entry and rewrites the file through a temporary file so a
// crash never leaves a half-written document behind.
func (f *FileBackend) Append(ctx context.Context, sessionID string, e Entry) error {
	f.sessions[sessionID] = append(f.sessions[sessionID], e)

	data, err := json.MarshalIndent(f.sessions, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileBackend) Close() error { return nil }
