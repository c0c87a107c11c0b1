package grading

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/gabarito/internal/model"
)

// MsgMarkingIncomplete lists the unmarked questions of the marking grid.
const MsgMarkingIncomplete = "MarkingIncomplete"

// IncompleteMarkingError is returned when a marking grid has empty slots.
type IncompleteMarkingError struct {
	Missing []int // 1-based question numbers
}

func (e *IncompleteMarkingError) Error() string {
	return "unmarked questions: " + e.List()
}

// List formats the missing questions as "01, 04, 10".
func (e *IncompleteMarkingError) List() string {
	parts := make([]string, len(e.Missing))
	for i, n := range e.Missing {
		parts[i] = fmt.Sprintf("%02d", n)
	}
	return strings.Join(parts, ", ")
}

// PrefillMarking maps a previously saved key onto a fresh grid. A prefill of
// the wrong length yields an empty grid; letters outside the configured
// alternatives leave their slot empty.
func PrefillMarking(cfg model.AnswerKeyConfig, initial []string) []string {
	grid := make([]string, cfg.QuestionCount)
	if len(initial) != cfg.QuestionCount {
		return grid
	}
	fillMarks(cfg, grid, initial)
	return grid
}

// ValidateMarking checks that every question is marked with one of the
// configured alternatives and returns the normalized answers.
func ValidateMarking(cfg model.AnswerKeyConfig, marks []string) ([]string, error) {
	grid := make([]string, cfg.QuestionCount)
	fillMarks(cfg, grid, marks)
	var missing []int
	for i, a := range grid {
		if a == "" {
			missing = append(missing, i+1)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteMarkingError{Missing: missing}
	}
	return grid, nil
}

func fillMarks(cfg model.AnswerKeyConfig, grid, marks []string) {
	valid := map[string]bool{}
	for _, l := range cfg.Alternatives() {
		valid[l] = true
	}
	for i := 0; i < len(grid) && i < len(marks); i++ {
		if a := strings.ToUpper(strings.TrimSpace(marks[i])); valid[a] {
			grid[i] = a
		}
	}
}

var answerLine = regexp.MustCompile(`(?i)^\s*(\d{1,3})\s*([A-Z])\s*$`)

// ParseAnswerLines reads "NN X" lines from recognized text into a slice of
// n answers; unmatched questions stay blank.
func ParseAnswerLines(text string, n int) []string {
	out := make([]string, n)
	for _, line := range lineSplit.Split(text, -1) {
		m := answerLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q, err := strconv.Atoi(m[1])
		if err != nil || q < 1 || q > n {
			continue
		}
		out[q-1] = strings.ToUpper(m[2])
	}
	return out
}
