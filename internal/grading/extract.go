package grading

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Digit bands accepted as a student code. Codes are short numeric IDs, so
// longer runs are treated as reference numbers and skipped.
const (
	CodeMinDigits       = 4
	StrictCodeMinDigits = 5
	CodeMaxDigits       = 10
)

// Scan windows, in lines, for the label-based fallbacks.
const (
	labelLineWindow = 8
	looseWindow     = 12
)

const labelPattern = `(?i)c[óo]digo`

var (
	lineSplit = regexp.MustCompile(`\r?\n`)
	labelRe   = regexp.MustCompile(labelPattern)
	labelOnly = regexp.MustCompile(`^\s*` + labelPattern + `\s*[:\-–]?\s*$`)
)

// Match is a code found in OCR text together with the strategy that found it.
type Match struct {
	Code     string
	Strategy string
}

type strategy interface {
	name() string
	find(text string, lines []string) (string, bool)
}

// CodeExtractor finds a student code in free-form OCR text by trying an
// ordered list of strategies; the first one to match wins.
type CodeExtractor struct {
	strategies []strategy
}

// NewCodeExtractor builds an extractor accepting codes of minDigits to
// maxDigits digits.
func NewCodeExtractor(minDigits, maxDigits int) *CodeExtractor {
	digits := fmt.Sprintf(`[0-9]{%d,%d}`, minDigits, maxDigits)
	token := regexp.MustCompile(`\b(` + digits + `)\b`)
	return &CodeExtractor{strategies: []strategy{
		sameLine{re: regexp.MustCompile(labelPattern + `\s*[:\-–]?\s*(` + digits + `)(?:[^0-9]|$)`)},
		labelThenLines{token: token},
		looseLabel{token: token},
		firstToken{token: token},
	}}
}

var (
	defaultExtractor = NewCodeExtractor(CodeMinDigits, CodeMaxDigits)
	strictExtractor  = NewCodeExtractor(StrictCodeMinDigits, CodeMaxDigits)
)

// ExtractCode runs the default 4-10 digit extractor.
func ExtractCode(text string) (string, bool) {
	m, ok := defaultExtractor.Extract(text)
	return m.Code, ok
}

// ExtractCodeStrict runs the 5-10 digit extractor used for answer sheets.
func ExtractCodeStrict(text string) (string, bool) {
	m, ok := strictExtractor.Extract(text)
	return m.Code, ok
}

// Extract returns the first strategy match, or false when none applies.
func (e *CodeExtractor) Extract(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	text = norm.NFC.String(text)
	lines := lineSplit.Split(text, -1)
	for _, s := range e.strategies {
		if code, ok := s.find(text, lines); ok {
			return Match{Code: code, Strategy: s.name()}, true
		}
	}
	return Match{}, false
}

// sameLine: "CÓDIGO: 123456" with optional separator.
type sameLine struct{ re *regexp.Regexp }

func (sameLine) name() string { return "same_line" }

func (s sameLine) find(text string, _ []string) (string, bool) {
	m := s.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// labelThenLines: a line holding only the label, code on one of the next lines.
type labelThenLines struct{ token *regexp.Regexp }

func (labelThenLines) name() string { return "label_then_lines" }

func (s labelThenLines) find(_ string, lines []string) (string, bool) {
	for i, line := range lines {
		if !labelOnly.MatchString(strings.TrimSpace(line)) {
			continue
		}
		for j := i + 1; j <= i+labelLineWindow && j < len(lines); j++ {
			if m := s.token.FindStringSubmatch(lines[j]); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}

// looseLabel: the label anywhere, code within the following lines.
type looseLabel struct{ token *regexp.Regexp }

func (looseLabel) name() string { return "loose_label" }

func (s looseLabel) find(_ string, lines []string) (string, bool) {
	for i, line := range lines {
		if !labelRe.MatchString(line) {
			continue
		}
		for j := i; j < len(lines) && j < i+looseWindow; j++ {
			if m := s.token.FindStringSubmatch(lines[j]); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}

// firstToken: any standalone digit run in the band.
type firstToken struct{ token *regexp.Regexp }

func (firstToken) name() string { return "first_token" }

func (s firstToken) find(text string, _ []string) (string, bool) {
	m := s.token.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
