package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores history rows in a local SQLite database.
type SQLiteBackend struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLiteBackend opens (creating if needed) the database at path.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	b := &SQLiteBackend{db: db, clock: time.Now}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history: %w", err)
		}
	}
	return nil
}

// Load reads every row in insertion order.
func (b *SQLiteBackend) Load(ctx context.Context) (map[string][]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT session_id, role, text FROM history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Entry)
	for rows.Next() {
		var id string
		var e Entry
		if err := rows.Scan(&id, &e.Role, &e.Text); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out[id] = append(out[id], e)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Append(ctx context.Context, sessionID string, e Entry) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO history (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, e.Role, e.Text, b.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
