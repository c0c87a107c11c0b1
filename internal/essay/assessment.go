package essay

import (
	"regexp"
	"strings"
)

var (
	situationRe   = regexp.MustCompile(`(?i)Situação(?: da Correção)?(?: -|:)?\s*([A-I])`)
	competencyRes = [4]*regexp.Regexp{
		competencyRe("I"),
		competencyRe("II"),
		competencyRe("III"),
		competencyRe("IV"),
	}
)

func competencyRe(numeral string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)Compet[êe]ncia\s*` + numeral + `\b[\s\S]*?:\s*([A-E])`)
}

// Grades holds the fields extracted from a correction reply. Missing
// fields are empty.
type Grades struct {
	Situation    string
	Competencies [4]string
}

// ParseGrades extracts the Situação letter (A-I) and the letters (A-E) of
// Competência I to IV from a correction reply.
func ParseGrades(reply string) Grades {
	var g Grades
	g.Situation = firstGroup(situationRe, reply)
	for i, re := range competencyRes {
		g.Competencies[i] = firstGroup(re, reply)
	}
	return g
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}
