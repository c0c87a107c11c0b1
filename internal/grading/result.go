package grading

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/gabarito/internal/model"
)

// BlankLabel is printed for unanswered questions in the result text.
const BlankLabel = "em branco"

// FormatResult renders a correction as the text stored with a saved sheet:
//
//	Nota do Aluno: 2 / 4 - (5,00)
//	01: A ✓ | 02: B ✓ | 03: X →   (C) | 04: em branco →   (D)
func FormatResult(res model.CorrectionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Nota do Aluno: %d / %d - (%s)\n", res.RawScore, len(res.PerQuestion), DecimalComma(res.ProportionalScore))
	cells := make([]string, len(res.PerQuestion))
	for i, q := range res.PerQuestion {
		answer := q.StudentAnswer
		if answer == "" {
			answer = BlankLabel
		}
		if q.IsCorrect {
			cells[i] = fmt.Sprintf("%02d: %s ✓", q.QuestionIndex+1, answer)
		} else {
			cells[i] = fmt.Sprintf("%02d: %s →   (%s)", q.QuestionIndex+1, answer, q.OfficialAnswer)
		}
	}
	sb.WriteString(strings.Join(cells, " | "))
	return sb.String()
}

// DecimalComma formats v with two decimals and a comma separator.
func DecimalComma(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}
