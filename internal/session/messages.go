package session

// Message IDs resolved through the i18n bundle. Field and name rejections
// reuse the IDs of the grading package.
const (
	MsgBusy             = "Busy"
	MsgWizardOpen       = "WizardOpen"
	MsgWizardStep       = "WizardStep"
	MsgNoFile           = "NoFile"
	MsgKeyNotConfigured = "KeyNotConfigured"
	MsgNothingToSave    = "NothingToSave"
	MsgSessionNotFound  = "SessionNotFound"
	MsgUnexpected       = "Unexpected"

	MsgUnsupportedFile  = "UnsupportedFileType"
	MsgEmptyFile        = "EmptyFile"
	MsgOCRFailed        = "OCRFailed"
	MsgLookupFailed     = "LookupFailed"
	MsgKeyNamesDegraded = "KeyNamesUnavailable"
	MsgKeySaved         = "KeySaved"
	MsgCropFailed       = "CropFailed"
	MsgRecognizeFailed  = "RecognizeFailed"
	MsgSaveSucceeded    = "SaveSucceeded"
	MsgSaveFailed       = "SaveFailed"

	LabelNotFound    = "LabelStudentNotFound"
	LabelNoCode      = "LabelCodeNotDetected"
	LabelOCRError    = "LabelOCRError"
	LabelLookupError = "LabelLookupError"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is the latest user-visible message of a session.
type Notice struct {
	Level string         `json:"level"`
	ID    string         `json:"id"`
	Data  map[string]any `json:"data,omitempty"`
	Text  string         `json:"text,omitempty"`
}

// Labeler resolves display placeholders by message ID.
type Labeler func(id string) string

// defaultLabels are the stored values of the display placeholders.
var defaultLabels = map[string]string{
	LabelNotFound:    "NÃO ENCONTRADO",
	LabelNoCode:      "CÓDIGO NÃO DETECTADO",
	LabelOCRError:    "ERRO OCR",
	LabelLookupError: "ERRO AO BUSCAR",
}

// DefaultLabel returns the Portuguese placeholder for id.
func DefaultLabel(id string) string {
	if l, ok := defaultLabels[id]; ok {
		return l
	}
	return id
}
