package model

import "time"

// ArchiveExport is the top-level JSON structure of an archive export.
type ArchiveExport struct {
	ArchiveID   string             `json:"archive_id"`
	ExportedAt  time.Time          `json:"exported_at"`
	Keys        []KeySummary       `json:"keys"`
	Corrections []CorrectionRecord `json:"corrections"`
	Assessments []EssayAssessment  `json:"assessments"`
}

// KeySummary aggregates the corrections graded against one answer key.
type KeySummary struct {
	Name          string  `json:"name"`
	QuestionCount int     `json:"question_count"`
	Corrections   int     `json:"corrections"`
	MeanScore     float64 `json:"mean_score"`
	MaxScore      float64 `json:"max_score"`
}
