package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	task_id    TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	stopped_at INTEGER NOT NULL DEFAULT 0,
	reason     TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	bytes      INTEGER NOT NULL DEFAULT 0,
	reconnects INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sessions_room ON sessions (room_id, started_at);
CREATE TABLE IF NOT EXISTS parts (
	task_id    TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	path       TEXT NOT NULL,
	bytes      INTEGER NOT NULL DEFAULT 0,
	closed     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, idx)
);`

// Session is one recorded task as kept in the history database.
type Session struct {
	TaskID     string    `json:"task_id"`
	RoomID     string    `json:"room_id"`
	Title      string    `json:"title"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"` // zero while recording
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	Reconnects int       `json:"reconnects"`
}

// Store persists task events into a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Observer adapts the store to an event callback. Failures are logged.
func (s *Store) Observer() func(events.Event) {
	return func(ev events.Event) {
		if err := s.Record(context.Background(), ev); err != nil {
			utils.Debug("history: %v", err)
		}
	}
}

// Record stores what ev says about its task. Events that carry no
// persistent state are ignored.
func (s *Store) Record(ctx context.Context, ev events.Event) error {
	switch m := ev.(type) {
	case events.StartedMsg:
		if err := s.upsertSession(ctx, m.TaskID, m.RoomID, m.Title, time.Now()); err != nil {
			return err
		}
		return s.upsertPart(ctx, m.TaskID, m.Part)

	case events.PartRolledMsg:
		if err := s.upsertPart(ctx, m.TaskID, m.Closed); err != nil {
			return err
		}
		return s.upsertPart(ctx, m.TaskID, m.New)

	case events.StoppedMsg:
		now := time.Now()
		if err := s.upsertSession(ctx, m.TaskID, m.RoomID, "", now.Add(-m.Stats.Elapsed)); err != nil {
			return err
		}
		errText := ""
		if m.Err != nil {
			errText = m.Err.Error()
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET stopped_at = ?, reason = ?, error = ?, bytes = ?, reconnects = ? WHERE task_id = ?`,
			now.UnixMilli(), m.Reason.String(), errText, m.Stats.BytesReceived, m.Stats.Reconnects, m.TaskID)
		if err != nil {
			return fmt.Errorf("record stop of %s: %w", m.TaskID, err)
		}
		for _, p := range m.Parts {
			if err := s.upsertPart(ctx, m.TaskID, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) upsertSession(ctx context.Context, taskID, roomID, title string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (task_id, room_id, title, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (task_id) DO UPDATE SET title = CASE WHEN excluded.title != '' THEN excluded.title ELSE sessions.title END`,
		taskID, roomID, title, started.UnixMilli())
	if err != nil {
		return fmt.Errorf("record session %s: %w", taskID, err)
	}
	return nil
}

func (s *Store) upsertPart(ctx context.Context, taskID string, p types.FilePart) error {
	if p.Index == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parts (task_id, idx, path, bytes, closed, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (task_id, idx) DO UPDATE SET path = excluded.path, bytes = excluded.bytes, closed = excluded.closed`,
		taskID, p.Index, p.Path, p.Written, p.Closed, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record part %d of %s: %w", p.Index, taskID, err)
	}
	return nil
}

// Sessions lists the newest sessions first. An empty roomID lists all rooms;
// limit <= 0 means no limit.
func (s *Store) Sessions(ctx context.Context, roomID string, limit int) ([]Session, error) {
	query := `SELECT task_id, room_id, title, started_at, stopped_at, reason, error, bytes, reconnects FROM sessions`
	var args []any
	if roomID != "" {
		query += ` WHERE room_id = ?`
		args = append(args, roomID)
	}
	query += ` ORDER BY started_at DESC, task_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var (
			sess             Session
			started, stopped int64
		)
		if err := rows.Scan(&sess.TaskID, &sess.RoomID, &sess.Title, &started, &stopped,
			&sess.Reason, &sess.Error, &sess.Bytes, &sess.Reconnects); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.UnixMilli(started)
		if stopped > 0 {
			sess.StoppedAt = time.UnixMilli(stopped)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Parts lists the parts of a task in index order.
func (s *Store) Parts(ctx context.Context, taskID string) ([]types.FilePart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, path, bytes, closed, created_at FROM parts WHERE task_id = ? ORDER BY idx`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.FilePart
	for rows.Next() {
		var (
			p       types.FilePart
			created int64
		)
		if err := rows.Scan(&p.Index, &p.Path, &p.Written, &p.Closed, &created); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		p.CreatedAt = time.UnixMilli(created)
		out = append(out, p)
	}
	return out, rows.Err()
}
