// Package store is the local SQLite archive: operators, their login
// sessions, answer keys, saved corrections and essay assessments.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// :memory: databases are per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := s.ArchiveID(); err != nil {
		return nil, fmt.Errorf("archive id: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS answer_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		question_count INTEGER NOT NULL,
		alternative_count INTEGER NOT NULL,
		total_score REAL NOT NULL,
		answers TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		operator TEXT NOT NULL DEFAULT '',
		answer_key_id INTEGER NOT NULL,
		key_name TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		alternative_count INTEGER NOT NULL,
		total_score REAL NOT NULL,
		official_answers TEXT NOT NULL,
		student_code TEXT NOT NULL,
		student_name TEXT NOT NULL,
		student_class TEXT NOT NULL,
		student_answers TEXT NOT NULL,
		raw_score INTEGER NOT NULL,
		proportional_score REAL NOT NULL,
		result_text TEXT NOT NULL,
		image_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (answer_key_id) REFERENCES answer_keys(id)
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		number INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		situation TEXT NOT NULL DEFAULT '',
		competency_1 TEXT NOT NULL DEFAULT '',
		competency_2 TEXT NOT NULL DEFAULT '',
		competency_3 TEXT NOT NULL DEFAULT '',
		competency_4 TEXT NOT NULL DEFAULT '',
		criterion TEXT NOT NULL DEFAULT '',
		essay_text TEXT NOT NULL DEFAULT '',
		reply TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_code ON corrections(student_code);
	`
	_, err := s.db.Exec(schema)
	return err
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	return string(b), err
}

func decodeList(raw string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return list, nil
}
