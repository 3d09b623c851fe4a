package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	_ "modernc.org/sqlite"
)

// Request kinds.
const (
	KindSynthesis   = "tts"
	KindRecognition = "stt"
)

// Entry records how one synthesis or recognition request ended.
type Entry struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	Pushes     int       `json:"pushes"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed request journal.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Ephemeral retention
// keeps nothing and never touches disk.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    session_id TEXT,
    trace_id TEXT,
    kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    pushes INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    detail TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_session_created ON requests(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends an entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, session_id, trace_id, kind, outcome, pushes, bytes, duration_ms, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, e.TraceID, e.Kind, e.Outcome, e.Pushes, e.Bytes, e.DurationMS, e.Detail, e.CreatedAt.UTC().UnixNano())
	return err
}

// ListSession returns up to limit entries for a session, oldest first.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, session_id, trace_id, kind, outcome, pushes, bytes, duration_ms, detail, created_at
		 FROM requests WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Outcomes counts entries of kind by outcome.
func (s *Store) Outcomes(ctx context.Context, kind string) (map[string]int, error) {
	counts := make(map[string]int)
	if s == nil || s.db == nil {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM requests WHERE kind = ? GROUP BY outcome`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var session, trace, detail sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.RequestID, &session, &trace, &e.Kind, &e.Outcome,
			&e.Pushes, &e.Bytes, &e.DurationMS, &detail, &created); err != nil {
			return nil, err
		}
		e.SessionID = session.String
		e.TraceID = trace.String
		e.Detail = detail.String
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s == nil || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC().UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRequests > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE id IN (
			SELECT id FROM requests ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRequests)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
