// Package essay implements the essay workflow: reading the student code and
// the essay text from a scan, correcting it with the LLM and saving it.
package essay

import (
	"regexp"
	"strings"

	"github.com/pavelanni/gabarito/internal/grading"
)

// answerCardHeading marks the start of the essay body on the answer card.
const answerCardHeading = "CARTAO DE RESPOSTA"

var dropLine = []*regexp.Regexp{
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^[A-Z]{2,10}\d{0,3}$`),
	regexp.MustCompile(`^[A-Z0-9]{5,}$`),
	regexp.MustCompile(`^[\W_]+$`),
}

// FilterOCRText keeps the essay lines of a structured OCR text. Everything
// up to and including a CARTÃO DE RESPOSTA line is dropped when that line is
// present; then blank lines, numbers, form codes and punctuation-only lines
// are removed.
func FilterOCRText(full string) string {
	lines := strings.Split(strings.ReplaceAll(full, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	for i, l := range lines {
		if strings.ToUpper(grading.StripDiacritics(l)) == answerCardHeading {
			lines = lines[i+1:]
			break
		}
	}

	kept := lines[:0]
next:
	for _, l := range lines {
		if l == "" {
			continue
		}
		for _, re := range dropLine {
			if re.MatchString(l) {
				continue next
			}
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
