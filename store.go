package folio

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weirdwool/folio/contentsync"
)

// Store wraps a SQLite database holding admin sessions and the sync journal.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and creates the schema.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the journal writer and session readers overlap; busy_timeout
	// makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    ip TEXT NOT NULL,
    user_agent TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    revoked_at INTEGER
);
CREATE TABLE IF NOT EXISTS sync_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch TEXT NOT NULL,
    op TEXT NOT NULL,
    path TEXT NOT NULL,
    ok INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_log_created ON sync_log(created_at);
`)
	return err
}

// AdminSession is a server-side login session.
type AdminSession struct {
	ID        string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, sess AdminSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, ip, user_agent, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.IP, sess.UserAgent, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix())
	return err
}

// SessionActive reports whether the session exists, has not expired and
// has not been revoked.
func (s *Store) SessionActive(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`,
		id, time.Now().Unix()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeSession marks the session revoked. Revoking an unknown or already
// revoked session is not an error.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().Unix(), id)
	return err
}

// PurgeSessions deletes sessions that expired before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SyncLogEntry is a journaled remote propagation attempt.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	Batch     string    `json:"batch"`
	Op        string    `json:"op"`
	Path      string    `json:"path"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordSync appends a propagation attempt to the journal.
func (s *Store) RecordSync(ctx context.Context, e contentsync.JournalEntry) error {
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (batch, op, path, ok, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Batch, e.Op, e.Path, ok, e.Error, time.Now().Unix())
	return err
}

// ListSyncLog returns the most recent journal entries, newest first.
func (s *Store) ListSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch, op, path, ok, error, created_at FROM sync_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []SyncLogEntry{}
	for rows.Next() {
		var e SyncLogEntry
		var ok int
		var created int64
		if err := rows.Scan(&e.ID, &e.Batch, &e.Op, &e.Path, &ok, &e.Error, &created); err != nil {
			return nil, err
		}
		e.OK = ok == 1
		e.CreatedAt = time.Unix(created, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
