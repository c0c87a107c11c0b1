package store

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

const archiveIDKey = "archive_id"

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ArchiveID returns the archive's identifier, creating it on first use.
// Exports carry it so merged exports can tell archives apart.
func (s *Store) ArchiveID() (string, error) {
	id, err := s.GetMetadata(archiveIDKey)
	if err != nil || id != "" {
		return id, err
	}
	id = uuid.NewString()
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)`, archiveIDKey, id); err != nil {
		return "", err
	}
	return s.GetMetadata(archiveIDKey)
}
