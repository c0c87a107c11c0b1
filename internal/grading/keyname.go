package grading

import (
	"regexp"
	"strings"
)

// MaxNearDuplicateDistance is the largest edit distance at which two
// normalized key names are considered a typo of each other.
const MaxNearDuplicateDistance = 2

// Outcome is the verdict on a new answer-key name.
type Outcome string

const (
	Accept              Outcome = "accept"
	RejectDuplicate     Outcome = "reject_duplicate"
	RejectNearDuplicate Outcome = "reject_near_duplicate"
	ConfirmVariant      Outcome = "confirm_variant"
)

// Message IDs for name decisions, resolved through the i18n bundle.
const (
	MsgKeyNameDuplicate      = "KeyNameDuplicate"
	MsgKeyNameSameNumber     = "KeyNameSameNumber"
	MsgKeyNameSimilar        = "KeyNameSimilar"
	MsgKeyNameConfirmVariant = "KeyNameConfirmVariant"
)

var trailingDigits = regexp.MustCompile(`\d+$`)

// Decision is the result of validating a key name.
type Decision struct {
	Outcome  Outcome
	Name     string
	Existing string // the colliding existing name, as given
	Suffix   string // numeric suffix of the new name, for suffix collisions
	Distance int
}

// MessageID returns the i18n message for a rejection or confirmation prompt.
func (d Decision) MessageID() string {
	switch d.Outcome {
	case RejectDuplicate:
		return MsgKeyNameDuplicate
	case RejectNearDuplicate:
		if d.Suffix != "" {
			return MsgKeyNameSameNumber
		}
		return MsgKeyNameSimilar
	case ConfirmVariant:
		return MsgKeyNameConfirmVariant
	}
	return ""
}

// TemplateData returns the values referenced by the decision's message.
func (d Decision) TemplateData() map[string]any {
	return map[string]any{
		"Name":     d.Name,
		"Existing": d.Existing,
		"Suffix":   d.Suffix,
	}
}

// ValidateKeyName decides whether newName may be used next to existing.
//
// Exact duplicates (after NormalizeName) are checked against every existing
// name first. Then each existing name is compared in order: a name with the
// same base and a trailing number is a numbered variant, rejected when the
// numbers are equal and otherwise held for confirmation; any other name
// within MaxNearDuplicateDistance edits is rejected. A pending variant is
// returned as ConfirmVariant unless confirmed is set.
func ValidateKeyName(newName string, existing []string, confirmed bool) Decision {
	newName = strings.TrimSpace(newName)
	n := NormalizeName(newName)

	for _, raw := range existing {
		if NormalizeName(raw) == n {
			return Decision{Outcome: RejectDuplicate, Name: newName, Existing: raw}
		}
	}

	newSuffix := trailingDigits.FindString(n)
	newBase := n[:len(n)-len(newSuffix)]

	var variant *Decision
	for _, raw := range existing {
		e := NormalizeName(raw)
		if e == "" {
			continue
		}
		oldSuffix := trailingDigits.FindString(e)
		oldBase := e[:len(e)-len(oldSuffix)]

		if newSuffix != "" && newBase == oldBase {
			if sameNumber(newSuffix, oldSuffix) {
				return Decision{Outcome: RejectNearDuplicate, Name: newName, Existing: raw, Suffix: newSuffix}
			}
			if variant == nil {
				variant = &Decision{Outcome: ConfirmVariant, Name: newName, Existing: raw}
			}
			continue
		}

		if d := Levenshtein(n, e); d > 0 && d <= MaxNearDuplicateDistance {
			return Decision{Outcome: RejectNearDuplicate, Name: newName, Existing: raw, Distance: d}
		}
	}

	if variant != nil && !confirmed {
		return *variant
	}
	return Decision{Outcome: Accept, Name: newName}
}

// sameNumber compares numeric suffixes by value, so "01" and "1" collide.
func sameNumber(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	return a == b
}
