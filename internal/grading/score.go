package grading

import (
	"math"

	"github.com/pavelanni/gabarito/internal/model"
)

// Compare scores studentAnswers against officialKey. Missing trailing student
// answers count as blank, extra ones are ignored, and a blank is never
// correct.
func Compare(officialKey, studentAnswers []string, totalScore float64) model.CorrectionResult {
	res := model.CorrectionResult{PerQuestion: make([]model.QuestionOutcome, len(officialKey))}
	for i, official := range officialKey {
		var answer string
		if i < len(studentAnswers) {
			answer = studentAnswers[i]
		}
		ok := answer != "" && answer == official
		if ok {
			res.RawScore++
		}
		res.PerQuestion[i] = model.QuestionOutcome{
			QuestionIndex:  i,
			StudentAnswer:  answer,
			OfficialAnswer: official,
			IsCorrect:      ok,
		}
	}
	if len(officialKey) > 0 {
		perQuestion := totalScore / float64(len(officialKey))
		res.ProportionalScore = Round2(float64(res.RawScore) * perQuestion)
	}
	return res
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
