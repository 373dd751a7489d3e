package storage

import (
	"database/sql"
	"time"

	"minicord/gateway"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DEFAULT_DSN = "file:minicord.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&mode=rwc"

	createSessionTable = `CREATE TABLE IF NOT EXISTS gateway_session (
	name       TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	resume_url TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`
	upsertSession = `INSERT INTO gateway_session (name, session_id, resume_url, sequence, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	session_id = excluded.session_id,
	resume_url = excluded.resume_url,
	sequence   = excluded.sequence,
	updated_at = excluded.updated_at`
	selectSession = `SELECT session_id, resume_url, sequence, updated_at FROM gateway_session WHERE name = ?`
	deleteSession = `DELETE FROM gateway_session WHERE name = ?`
)

// SQLiteSessionStorage keeps sessions in a SQLite table, one row per name so
// several accounts can share a database.
type SQLiteSessionStorage struct {
	db   *sql.DB
	name string
}

// OpenSQLite opens (and if needed creates) the session database.
func OpenSQLite(dsn, name string) (*SQLiteSessionStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open session database")
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSessionTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create session table")
	}
	return &SQLiteSessionStorage{db: db, name: name}, nil
}

func (s *SQLiteSessionStorage) Save(session *gateway.SessionData) error {
	_, err := s.db.Exec(upsertSession,
		s.name,
		session.SessionID,
		session.ResumeURL,
		int64(session.Sequence),
		session.UpdatedAt.UnixMilli(),
	)
	return errors.Wrap(err, "save session")
}

func (s *SQLiteSessionStorage) Load() (*gateway.SessionData, error) {
	var (
		session   gateway.SessionData
		sequence  int64
		updatedAt int64
	)
	err := s.db.QueryRow(selectSession, s.name).Scan(&session.SessionID, &session.ResumeURL, &sequence, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	session.Sequence = uint64(sequence)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	return &session, nil
}

func (s *SQLiteSessionStorage) Clear() error {
	_, err := s.db.Exec(deleteSession, s.name)
	return errors.Wrap(err, "clear session")
}

func (s *SQLiteSessionStorage) Close() error {
	return s.db.Close()
}
