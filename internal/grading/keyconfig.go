package grading

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/gabarito/internal/model"
)

// Field-specific message IDs for the key configuration step.
const (
	MsgKeyNameRequired       = "KeyNameRequired"
	MsgKeyNameTooLong        = "KeyNameTooLong"
	MsgQuestionCountRange    = "QuestionCountRange"
	MsgAlternativeCountRange = "AlternativeCountRange"
	MsgTotalScoreRange       = "TotalScoreRange"
)

// RawKeyConfig is the wizard's config form as typed by the operator.
type RawKeyConfig struct {
	Name         string `json:"nome_gabarito"`
	Questions    string `json:"num_questoes"`
	Alternatives string `json:"num_alternativas"`
	TotalScore   string `json:"nota_total"`
}

// FieldError reports the first invalid field of a key configuration.
type FieldError struct {
	Field     string
	MessageID string
}

func (e *FieldError) Error() string {
	return "invalid " + e.Field + ": " + e.MessageID
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldOrder is the order in which fields are reported; the first failing
// field short-circuits.
var fieldOrder = []struct {
	name  string
	msgID string
}{
	{"Name", MsgKeyNameRequired},
	{"QuestionCount", MsgQuestionCountRange},
	{"AlternativeCount", MsgAlternativeCountRange},
	{"TotalScore", MsgTotalScoreRange},
}

// ParseKeyConfig converts and validates the raw form. The total score
// accepts a decimal comma.
func ParseKeyConfig(raw RawKeyConfig) (model.AnswerKeyConfig, error) {
	cfg := model.AnswerKeyConfig{Name: strings.TrimSpace(raw.Name)}
	bad := map[string]bool{}

	var err error
	if cfg.QuestionCount, err = strconv.Atoi(strings.TrimSpace(raw.Questions)); err != nil {
		bad["QuestionCount"] = true
	}
	if cfg.AlternativeCount, err = strconv.Atoi(strings.TrimSpace(raw.Alternatives)); err != nil {
		bad["AlternativeCount"] = true
	}
	total := strings.ReplaceAll(strings.TrimSpace(raw.TotalScore), ",", ".")
	if cfg.TotalScore, err = strconv.ParseFloat(total, 64); err != nil {
		bad["TotalScore"] = true
	}

	tooLong := false
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return cfg, err
		}
		for _, fe := range verrs {
			bad[fe.StructField()] = true
			if fe.StructField() == "Name" && fe.Tag() == "max" {
				tooLong = true
			}
		}
	}

	for _, f := range fieldOrder {
		if !bad[f.name] {
			continue
		}
		msg := f.msgID
		if f.name == "Name" && tooLong {
			msg = MsgKeyNameTooLong
		}
		return cfg, &FieldError{Field: f.name, MessageID: msg}
	}
	return cfg, nil
}

// ValidateKeyConfig checks an already typed configuration, e.g. one loaded
// from a file.
func ValidateKeyConfig(cfg model.AnswerKeyConfig) error {
	_, err := ParseKeyConfig(RawKeyConfig{
		Name:         cfg.Name,
		Questions:    strconv.Itoa(cfg.QuestionCount),
		Alternatives: strconv.Itoa(cfg.AlternativeCount),
		TotalScore:   strconv.FormatFloat(cfg.TotalScore, 'f', -1, 64),
	})
	return err
}
