// Package prompts builds the essay correction prompts from per-variant
// templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var embedded embed.FS

// MaxEssayRunes bounds the essay text sent to the model.
const MaxEssayRunes = 12000

var (
	essayTagRegex        = regexp.MustCompile(`(?i)</?\s*redacao\b[^>]*>`)
	systemInstructionTag = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a correction prompt variant.
type PromptVariant string

const (
	// PromptStrict grades like an entrance-exam board.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient favors formative feedback.
	PromptLenient PromptVariant = "lenient"
)

// Variants lists the known variants.
var Variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range Variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// EssayData holds template data for essay prompts.
type EssayData struct {
	Criterion string
}

// Set holds the parsed templates of every variant.
type Set struct {
	essay map[PromptVariant]*template.Template
}

// Default loads the templates built into the binary.
func Default() (*Set, error) {
	return Load(embedded)
}

// Load parses templates/essay_<variant>.txt for every variant from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{essay: make(map[PromptVariant]*template.Template, len(Variants))}
	for _, v := range Variants {
		name := "templates/essay_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.essay[v] = tmpl
	}
	return s, nil
}

// BuildEssayPrompt renders the system prompt of variant for criterion.
func (s *Set) BuildEssayPrompt(variant PromptVariant, criterion string) (string, error) {
	tmpl, ok := s.essay[variant]
	if !ok {
		return "", fmt.Errorf("invalid prompt variant: %q", variant)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, EssayData{Criterion: strings.TrimSpace(criterion)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EssayMessage wraps the essay text for the user message. Delimiter tags
// inside the text are removed and overly long texts are truncated.
func EssayMessage(text string) string {
	return "<redacao>\n" + SanitizeEssay(text) + "\n</redacao>"
}

// SanitizeEssay strips prompt delimiters from an essay and bounds its length.
func SanitizeEssay(text string) string {
	text = essayTagRegex.ReplaceAllString(text, "")
	text = systemInstructionTag.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[Redação em branco]"
	}
	if utf8.RuneCountInString(text) > MaxEssayRunes {
		runes := []rune(text)
		text = string(runes[:MaxEssayRunes]) + "\n\n[Texto truncado]"
	}
	return text
}
