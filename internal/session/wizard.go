package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
)

func (s *Session) wizardViewLocked() WizardView {
	w := WizardView{Step: s.wizard}
	switch {
	case s.draft != nil:
		cfg := *s.draft
		w.Config = &cfg
	case s.key != nil:
		cfg := s.key.Config
		w.Config = &cfg
	}
	if s.wizard == model.WizardMarking && s.draft != nil {
		w.Alternatives = s.draft.Alternatives()
		w.Marks = append([]string(nil), s.marks...)
	}
	return w
}

// OpenKeyWizard opens the official key wizard. With a complete key it goes
// straight to the marking grid prefilled with the saved answers unless
// editConfig asks for the config step.
func (s *Session) OpenKeyWizard(editConfig bool) WizardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard == model.WizardClosed {
		s.prevState = s.state
		s.state = model.StateAwaitingKey
	} else if !editConfig {
		return s.wizardViewLocked()
	}
	if s.key.Complete() && !editConfig {
		cfg := s.key.Config
		s.draft = &cfg
		s.marks = grading.PrefillMarking(cfg, s.key.Answers)
		s.wizard = model.WizardMarking
	} else {
		s.draft = nil
		s.marks = nil
		s.wizard = model.WizardConfig
	}
	s.lastUsed = s.now()
	return s.wizardViewLocked()
}

// SubmitKeyConfig validates the config form and the key name. An accepted
// config moves the wizard to the marking grid. A numbered variant of an
// existing name is refused with Confirm set until resubmitted with confirmed.
func (s *Session) SubmitKeyConfig(ctx context.Context, raw grading.RawKeyConfig, confirmed bool) (WizardView, error) {
	s.mu.Lock()
	if s.wizard != model.WizardConfig {
		s.mu.Unlock()
		return WizardView{}, ErrWizardStep
	}
	if s.inflight[actKey] {
		s.mu.Unlock()
		return WizardView{}, ErrBusy
	}
	s.inflight[actKey] = true
	var current string
	var prefill []string
	if s.key != nil {
		current = s.key.Config.Name
		prefill = s.key.Answers
	}
	s.mu.Unlock()
	defer s.end(actKey)

	cfg, err := grading.ParseKeyConfig(raw)
	if err != nil {
		var fe *grading.FieldError
		if errors.As(err, &fe) {
			return WizardView{}, &ValidationError{Field: fe.Field, ID: fe.MessageID}
		}
		return WizardView{}, err
	}

	d := grading.ValidateKeyName(cfg.Name, s.existingNames(ctx, current), confirmed)
	switch d.Outcome {
	case grading.Accept:
	case grading.ConfirmVariant:
		return WizardView{}, &ValidationError{Field: "Name", ID: d.MessageID(), Data: d.TemplateData(), Confirm: true}
	default:
		return WizardView{}, &ValidationError{Field: "Name", ID: d.MessageID(), Data: d.TemplateData()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard != model.WizardConfig {
		return WizardView{}, ErrWizardStep
	}
	s.draft = &cfg
	s.marks = grading.PrefillMarking(cfg, prefill)
	s.wizard = model.WizardMarking
	slog.Info("key configured", "session", s.ID, "name", cfg.Name, "questions", cfg.QuestionCount)
	return s.wizardViewLocked(), nil
}

// existingNames merges the backend's key names with the archived ones,
// leaving out the key being edited. A backend failure degrades to the
// archive alone.
func (s *Session) existingNames(ctx context.Context, current string) []string {
	var names []string
	remoteNames, err := s.svc.KeyNames(ctx)
	if err != nil {
		slog.Warn("key names unavailable", "session", s.ID, "error", err)
		s.mu.Lock()
		s.notice = &Notice{Level: LevelWarning, ID: MsgKeyNamesDegraded}
		s.mu.Unlock()
	}
	names = append(names, remoteNames...)
	if s.archive != nil {
		archived, err := s.archive.AnswerKeyNames()
		if err != nil {
			slog.Warn("archived key names unavailable", "session", s.ID, "error", err)
		}
		names = append(names, archived...)
	}
	if current == "" {
		return names
	}
	own := grading.NormalizeName(current)
	out := names[:0]
	for _, n := range names {
		if grading.NormalizeName(n) != own {
			out = append(out, n)
		}
	}
	return out
}

// SubmitMarking saves the marking grid as the official key and closes the
// wizard. Every question must be marked.
func (s *Session) SubmitMarking(marks []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard != model.WizardMarking || s.draft == nil {
		return ErrWizardStep
	}
	answers, err := grading.ValidateMarking(*s.draft, marks)
	if err != nil {
		var inc *grading.IncompleteMarkingError
		if errors.As(err, &inc) {
			if len(marks) == s.draft.QuestionCount {
				s.marks = grading.PrefillMarking(*s.draft, marks)
			}
			return &ValidationError{Field: "marks", ID: grading.MsgMarkingIncomplete, Data: map[string]any{"Missing": inc.List()}}
		}
		return err
	}

	s.key = &model.OfficialAnswerKey{Config: *s.draft, Answers: answers}
	s.closeWizardLocked()
	s.notice = &Notice{Level: LevelSuccess, ID: MsgKeySaved, Data: map[string]any{"Name": s.key.Config.Name}}
	if len(s.inflight) == 0 {
		if s.sheet.Answers != nil {
			s.recomputeLocked()
			s.state = model.StateCorrected
		} else {
			s.state = model.StateKeyConfigured
		}
	} else {
		s.recomputeLocked()
	}
	slog.Info("official key saved", "session", s.ID, "name", s.key.Config.Name)
	return nil
}

// CloseWizard dismisses the wizard without changing the saved key.
func (s *Session) CloseWizard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard == model.WizardClosed {
		return
	}
	s.closeWizardLocked()
}

func (s *Session) closeWizardLocked() {
	s.wizard = model.WizardClosed
	s.draft = nil
	s.marks = nil
	s.state = s.prevState
	s.lastUsed = s.now()
}
