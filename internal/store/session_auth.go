package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pavelanni/gabarito/internal/model"
)

// AuthSessionTTL is how long an operator login lasts without activity.
const AuthSessionTTL = 12 * time.Hour

// CreateAuthSession opens a login for an operator and returns its token.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw[:])

	now := s.now()
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	); err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the login for token, or nil if it is unknown or
// expired. A login used in the second half of its lifetime is extended by
// a full AuthSessionTTL.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var as model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&as.ID, &as.UserID, &as.CreatedAt, &as.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch left := as.ExpiresAt.Sub(now); {
	case left <= 0:
		return nil, s.DeleteAuthSession(token)
	case left < AuthSessionTTL/2:
		as.ExpiresAt = now.Add(AuthSessionTTL)
		if _, err := s.db.Exec(`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`, as.ExpiresAt, token); err != nil {
			return nil, err
		}
	}
	return &as, nil
}

// DeleteAuthSession ends one login.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// DeleteUserAuthSessions ends every login of an operator.
func (s *Store) DeleteUserAuthSessions(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE user_id = ?`, userID)
	return err
}

// CleanupExpiredSessions removes expired logins and reports how many went.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
