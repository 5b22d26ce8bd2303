// Package history persists recorded capture sessions in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("history: session not found")

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	keep int
}

// Open initializes or connects to the history database and applies
// migrations. keep bounds the number of retained sessions (<= 0 uses
// DefaultKeepSessions).
func Open(path string, keep int) (*Store, error) {
	if keep <= 0 {
		keep = DefaultKeepSessions
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, keep: keep}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes a finished session with its entries and prunes sessions
// beyond the retention limit, newest kept.
func (s *Store) Save(ctx context.Context, sess Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, locale) VALUES (?, ?, ?, ?)`,
		sess.ID.String(), formatTime(sess.StartedAt), formatTime(sess.EndedAt), sess.Locale,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, e := range sess.Entries {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_entries (id, session_id, seq, recorded_at, recognized, translated)
             VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), sess.ID.String(), i, formatTime(e.RecordedAt), e.Recognized, e.Translated,
		); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (
            SELECT id FROM sessions ORDER BY started_at DESC LIMIT ?
        )`, s.keep,
	); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// ListSessions returns sessions newest first without their entries.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.started_at, s.ended_at, s.locale, COUNT(e.id)
         FROM sessions s LEFT JOIN session_entries e ON e.session_id = s.id
         GROUP BY s.id ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess               Session
			id, started, ended string
		)
		if err := rows.Scan(&id, &started, &ended, &sess.Locale, &sess.EntryCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		sess.StartedAt = parseTime(started)
		sess.EndedAt = parseTime(ended)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Get loads one session with its entries in recording order. id may be a
// unique prefix of the session id.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Session{}, ErrNotFound
	}
	var (
		sess                 Session
		full, started, ended string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, locale FROM sessions WHERE id LIKE ? ORDER BY started_at DESC LIMIT 1`,
		id+"%",
	).Scan(&full, &started, &ended, &sess.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if sess.ID, err = uuid.Parse(full); err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	sess.StartedAt = parseTime(started)
	sess.EndedAt = parseTime(ended)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, recognized, translated FROM session_entries
         WHERE session_id = ? ORDER BY seq`, full)
	if err != nil {
		return Session{}, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e          Entry
			eid, recAt string
		)
		if err := rows.Scan(&eid, &recAt, &e.Recognized, &e.Translated); err != nil {
			return Session{}, fmt.Errorf("scan entry: %w", err)
		}
		e.ID, _ = uuid.Parse(eid)
		e.RecordedAt = parseTime(recAt)
		sess.Entries = append(sess.Entries, e)
	}
	sess.EntryCount = len(sess.Entries)
	return sess, rows.Err()
}

// Clear removes every recorded session.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return res.RowsAffected()
}

type migration struct {
	version string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{version: strings.TrimSuffix(name, ".sql"), sql: string(data)})
	}
	return out, nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
