package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/gabarito/internal/model"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// UpsertAnswerKey stores an official key under its name, replacing the
// previous configuration and answers.
func (s *Store) UpsertAnswerKey(key model.OfficialAnswerKey) (int64, error) {
	return s.upsertAnswerKey(s.db, key)
}

func (s *Store) upsertAnswerKey(db execer, key model.OfficialAnswerKey) (int64, error) {
	answers, err := encodeList(key.Answers)
	if err != nil {
		return 0, err
	}
	c := key.Config
	var id int64
	err = db.QueryRow(
		`INSERT INTO answer_keys (name, question_count, alternative_count, total_score, answers, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			question_count = excluded.question_count,
			alternative_count = excluded.alternative_count,
			total_score = excluded.total_score,
			answers = excluded.answers,
			updated_at = excluded.updated_at
		 RETURNING id`,
		c.Name, c.QuestionCount, c.AlternativeCount, c.TotalScore, answers, s.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert answer key %q: %w", c.Name, err)
	}
	return id, nil
}

// GetAnswerKey returns the key stored under name.
func (s *Store) GetAnswerKey(name string) (*model.OfficialAnswerKey, error) {
	var (
		k       model.OfficialAnswerKey
		answers string
	)
	err := s.db.QueryRow(
		`SELECT name, question_count, alternative_count, total_score, answers
		 FROM answer_keys WHERE name = ?`, name,
	).Scan(&k.Config.Name, &k.Config.QuestionCount, &k.Config.AlternativeCount, &k.Config.TotalScore, &answers)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if k.Answers, err = decodeList(answers); err != nil {
		return nil, err
	}
	return &k, nil
}

// AnswerKeyNames returns the names of all archived keys.
func (s *Store) AnswerKeyNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM answer_keys ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ArchiveCorrection stores a saved correction together with the key it was
// graded against.
func (s *Store) ArchiveCorrection(rec model.CorrectionRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	keyID, err := s.upsertAnswerKey(tx, model.OfficialAnswerKey{Config: rec.Key, Answers: rec.OfficialAnswers})
	if err != nil {
		return 0, err
	}
	answers, err := encodeList(rec.StudentAnswers)
	if err != nil {
		return 0, err
	}
	official, err := encodeList(rec.OfficialAnswers)
	if err != nil {
		return 0, err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := tx.Exec(
		`INSERT INTO corrections (session_id, operator, answer_key_id, key_name, question_count, alternative_count,
			total_score, official_answers, student_code, student_name, student_class,
			student_answers, raw_score, proportional_score, result_text, image_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Operator, keyID, rec.Key.Name, rec.Key.QuestionCount, rec.Key.AlternativeCount,
		rec.Key.TotalScore, official, rec.Student.Code, rec.Student.Name, rec.Student.Class,
		answers, rec.RawScore, rec.ProportionalScore, rec.ResultText, rec.ImageName, created,
	)
	if err != nil {
		return 0, fmt.Errorf("insert correction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Debug("correction archived", "id", id, "code", rec.Student.Code, "key", rec.Key.Name)
	return id, nil
}

const correctionColumns = `id, session_id, operator, student_code, student_name, student_class,
	student_answers, raw_score, proportional_score, result_text, image_name, created_at,
	key_name, question_count, alternative_count, total_score, official_answers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorrection(row rowScanner) (model.CorrectionRecord, error) {
	var (
		r                    model.CorrectionRecord
		studentAns, official string
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.Operator, &r.Student.Code, &r.Student.Name, &r.Student.Class,
		&studentAns, &r.RawScore, &r.ProportionalScore, &r.ResultText, &r.ImageName, &r.CreatedAt,
		&r.Key.Name, &r.Key.QuestionCount, &r.Key.AlternativeCount, &r.Key.TotalScore, &official)
	if err != nil {
		return r, err
	}
	if r.StudentAnswers, err = decodeList(studentAns); err != nil {
		return r, err
	}
	r.OfficialAnswers, err = decodeList(official)
	return r, err
}

// GetCorrection returns an archived correction by ID.
func (s *Store) GetCorrection(id int64) (*model.CorrectionRecord, error) {
	r, err := scanCorrection(s.db.QueryRow(
		`SELECT `+correctionColumns+` FROM corrections WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListCorrections returns archived corrections, newest first. A non-empty
// code restricts the list to one student.
func (s *Store) ListCorrections(code string) ([]model.CorrectionRecord, error) {
	query := `SELECT ` + correctionColumns + ` FROM corrections`
	var args []any
	if code != "" {
		query += ` WHERE student_code = ?`
		args = append(args, code)
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.CorrectionRecord
	for rows.Next() {
		r, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CorrectionCount returns the number of archived corrections.
func (s *Store) CorrectionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM corrections`).Scan(&count)
	return count, err
}
