package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/line-relay/internal/logger"
)

// ErrSinkClosed is returned by a SQLiteSink used after Close.
var ErrSinkClosed = errors.New("audit: sqlite sink closed")

// SQLiteSink appends entries to a local SQLite ledger. The database is opened
// lazily on first use; an open failure is remembered and reported on every Record.
type SQLiteSink struct {
	path string

	mu      sync.Mutex // guards everything below
	opened  bool
	closed  bool
	db      *sql.DB
	initErr error
}

// NewSQLiteSink creates a sink writing to the database file at path.
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{path: path}
}

// handle opens the database on first call and returns it.
func (s *SQLiteSink) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSinkClosed
	}
	if !s.opened {
		s.opened = true
		s.init()
	}
	return s.db, s.initErr
}

func (s *SQLiteSink) init() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        message_id TEXT,
        user_id TEXT,
        question TEXT,
        response TEXT,
        created_at DATETIME
    );`); err != nil {
		db.Close()
		s.initErr = err
		return
	}
	s.db = db
	logger.L.Info("sqlite audit ledger initialized", "path", s.path)
}

func (s *SQLiteSink) Record(ctx context.Context, e Entry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_log (message_id, user_id, question, response, created_at) VALUES (?,?,?,?,?);`,
		e.MessageID, e.UserID, e.Question, e.Response, e.CreatedAt)
	return err
}

// List returns the ledger entries for a user, oldest first.
func (s *SQLiteSink) List(ctx context.Context, userID string) ([]Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT message_id, user_id, question, response, created_at FROM audit_log WHERE user_id = ? ORDER BY id ASC;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MessageID, &e.UserID, &e.Question, &e.Response, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle. Later calls to Record and List fail
// with ErrSinkClosed.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
