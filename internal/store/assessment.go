package store

import (
	"fmt"

	"github.com/pavelanni/gabarito/internal/model"
)

// InsertAssessment stores an essay assessment.
func (s *Store) InsertAssessment(a model.EssayAssessment) (int64, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.Exec(
		`INSERT INTO assessments (code, name, year, number, kind, origin, situation,
			competency_1, competency_2, competency_3, competency_4, criterion, essay_text, reply, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Code, a.Name, a.Year, a.Number, a.Kind, a.Origin, a.Situation,
		a.Competencies[0], a.Competencies[1], a.Competencies[2], a.Competencies[3],
		a.Criterion, a.EssayText, a.Reply, created,
	)
	if err != nil {
		return 0, fmt.Errorf("insert assessment: %w", err)
	}
	return res.LastInsertId()
}

// ListAssessments returns all essay assessments, newest first.
func (s *Store) ListAssessments() ([]model.EssayAssessment, error) {
	rows, err := s.db.Query(
		`SELECT id, code, name, year, number, kind, origin, situation,
			competency_1, competency_2, competency_3, competency_4, criterion, essay_text, reply, created_at
		 FROM assessments ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.EssayAssessment
	for rows.Next() {
		var a model.EssayAssessment
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Year, &a.Number, &a.Kind, &a.Origin, &a.Situation,
			&a.Competencies[0], &a.Competencies[1], &a.Competencies[2], &a.Competencies[3],
			&a.Criterion, &a.EssayText, &a.Reply, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
