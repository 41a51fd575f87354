// Package journal keeps a SQLite ledger of finished transfer sessions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/proto"
)

const (
	flushEvery    = 500 * time.Millisecond
	flushAtLength = 100
)

var _ proto.Recorder = (*Journal)(nil)

// Entry is one recorded session.
type Entry struct {
	Started     time.Time
	Finished    time.Time
	SessionID   string
	Remote      string
	Name        string
	Path        string
	State       string
	Kind        string // fault kind, "ok" on success
	Message     string // error text, empty on success
	Digest      string
	Size        int64
	Transferred int64
}

// OK reports whether the session completed without error.
func (e Entry) OK() bool { return e.Message == "" }

// Journal is a SQLite-backed session ledger. Writes are batched and flushed
// periodically; Close flushes whatever is pending.
type Journal struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	batch   []Entry
	done    chan struct{}
	stopped bool
}

// DefaultPath returns $XDG_STATE_HOME/transdata/journal.db, falling back to
// ~/.local/state.
func DefaultPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "transdata", "journal.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "transdata-journal.db")
	}
	return filepath.Join(home, ".local", "state", "transdata", "journal.db")
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	j := &Journal{
		db:   db,
		path: path,
		done: make(chan struct{}),
	}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}

	go j.flushLoop()
	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			remote      TEXT NOT NULL,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			transferred INTEGER NOT NULL,
			state       TEXT NOT NULL,
			kind        TEXT NOT NULL,
			message     TEXT NOT NULL,
			digest      TEXT NOT NULL,
			started     INTEGER NOT NULL,
			finished    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_finished ON sessions (finished);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record queues the outcome of a session.
func (j *Journal) Record(_ context.Context, res proto.Result, err error) error {
	e := Entry{
		SessionID:   res.SessionID,
		Remote:      res.Remote,
		Name:        res.Name,
		Path:        res.Path,
		State:       res.State.String(),
		Kind:        fault.KindOf(err).String(),
		Digest:      res.Digest,
		Size:        res.Size,
		Transferred: res.Transferred,
		Started:     res.Started,
		Finished:    res.Finished,
	}
	if err != nil {
		e.Message = err.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	j.batch = append(j.batch, e)
	if len(j.batch) >= flushAtLength {
		return j.flushLocked()
	}
	return nil
}

// Flush writes pending entries to the database.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO sessions
		(id, remote, name, path, size, transferred, state, kind, message, digest, started, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback() //nolint:errcheck // prepare error wins
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range j.batch {
		if _, err := stmt.Exec(
			e.SessionID, e.Remote, e.Name, e.Path, e.Size, e.Transferred,
			e.State, e.Kind, e.Message, e.Digest,
			e.Started.UnixNano(), e.Finished.UnixNano(),
		); err != nil {
			tx.Rollback() //nolint:errcheck // insert error wins
			return fmt.Errorf("insert %s: %w", e.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	j.batch = j.batch[:0]
	return nil
}

func (j *Journal) flushLoop() {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.mu.Lock()
			_ = j.flushLocked()
			j.mu.Unlock()
		}
	}
}

// Recent returns up to limit entries, newest first. With failedOnly set only
// sessions that ended in an error are considered. Pending entries are flushed
// first.
func (j *Journal) Recent(ctx context.Context, limit int, failedOnly bool) ([]Entry, error) {
	if err := j.Flush(); err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, `SELECT
		id, remote, name, path, size, transferred, state, kind, message, digest, started, finished
		FROM sessions WHERE (? = 0 OR message != '')
		ORDER BY finished DESC, id LIMIT ?`, failedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(
			&e.SessionID, &e.Remote, &e.Name, &e.Path, &e.Size, &e.Transferred,
			&e.State, &e.Kind, &e.Message, &e.Digest, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.Started = time.Unix(0, started)
		e.Finished = time.Unix(0, finished)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Close flushes any pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.done)
	}
	ferr := j.flushLocked()
	j.mu.Unlock()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return ferr
}

// Path returns the path to the journal database file.
func (j *Journal) Path() string {
	return j.path
}
