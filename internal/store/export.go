package store

import (
	"fmt"
	"sort"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
)

// Export builds an export of the whole archive with per-key summaries.
func (s *Store) Export() (*model.ArchiveExport, error) {
	id, err := s.ArchiveID()
	if err != nil {
		return nil, fmt.Errorf("archive id: %w", err)
	}
	corrections, err := s.ListCorrections("")
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	assessments, err := s.ListAssessments()
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}

	if corrections == nil {
		corrections = []model.CorrectionRecord{}
	}
	if assessments == nil {
		assessments = []model.EssayAssessment{}
	}

	byKey := map[string]*model.KeySummary{}
	sums := map[string]float64{}
	for _, c := range corrections {
		ks, ok := byKey[c.Key.Name]
		if !ok {
			ks = &model.KeySummary{Name: c.Key.Name, QuestionCount: c.Key.QuestionCount}
			byKey[c.Key.Name] = ks
		}
		ks.Corrections++
		sums[c.Key.Name] += c.ProportionalScore
		ks.MaxScore = max(ks.MaxScore, c.ProportionalScore)
	}
	keys := make([]model.KeySummary, 0, len(byKey))
	for name, ks := range byKey {
		ks.MeanScore = grading.Round2(sums[name] / float64(ks.Corrections))
		keys = append(keys, *ks)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })

	return &model.ArchiveExport{
		ArchiveID:   id,
		ExportedAt:  s.now(),
		Keys:        keys,
		Corrections: corrections,
		Assessments: assessments,
	}, nil
}
