package session

import (
	"errors"
	"fmt"
)

// Refusals returned by session actions. Service failures are not returned;
// they become session state plus a Notice.
var (
	ErrBusy             = errors.New("action already in progress")
	ErrWizardOpen       = errors.New("answer key wizard is open")
	ErrWizardStep       = errors.New("answer key wizard is not at this step")
	ErrNoFile           = errors.New("no file loaded")
	ErrKeyNotConfigured = errors.New("official answer key not configured")
	ErrNothingToSave    = errors.New("no correction to save")
	ErrNotFound         = errors.New("session not found")
)

// ValidationError rejects operator input before any network call.
type ValidationError struct {
	Field string
	ID    string // i18n message ID
	Data  map[string]any
	// Confirm marks a rejection that the operator may override by
	// resubmitting with confirmation.
	Confirm bool
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.ID)
	}
	return "invalid input: " + e.ID
}

// MessageID maps an action error to its i18n message.
func MessageID(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.ID
	case errors.Is(err, ErrBusy):
		return MsgBusy
	case errors.Is(err, ErrWizardOpen):
		return MsgWizardOpen
	case errors.Is(err, ErrWizardStep):
		return MsgWizardStep
	case errors.Is(err, ErrNoFile):
		return MsgNoFile
	case errors.Is(err, ErrKeyNotConfigured):
		return MsgKeyNotConfigured
	case errors.Is(err, ErrNothingToSave):
		return MsgNothingToSave
	case errors.Is(err, ErrNotFound):
		return MsgSessionNotFound
	}
	return MsgUnexpected
}

// MessageData returns the template data of a validation error, if any.
func MessageData(err error) map[string]any {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Data
	}
	return nil
}
