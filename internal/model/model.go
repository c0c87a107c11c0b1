package model

import (
	"context"
	"time"
)

// UserRole represents an operator's access level.
type UserRole string

const (
	// UserRoleTeacher can grade answer sheets and essays.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can additionally manage operators.
	UserRoleAdmin UserRole = "admin"
)

// User represents an operator of the grading service.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an operator login session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// AnswerKeyConfig is the shape of an official answer key, set in the config
// step of the key wizard.
type AnswerKeyConfig struct {
	Name             string  `json:"nome_gabarito" yaml:"name" validate:"required,max=50"`
	QuestionCount    int     `json:"num_questoes" yaml:"questions" validate:"min=1,max=100"`
	AlternativeCount int     `json:"num_alternativas" yaml:"alternatives" validate:"min=2,max=6"`
	TotalScore       float64 `json:"nota_total" yaml:"total" validate:"gt=0,lte=100"`
}

// Alternatives returns the letter labels of the configured alternatives.
func (c AnswerKeyConfig) Alternatives() []string {
	labels := make([]string, 0, c.AlternativeCount)
	for i := 0; i < c.AlternativeCount && i < 26; i++ {
		labels = append(labels, string(rune('A'+i)))
	}
	return labels
}

// OfficialAnswerKey is a configured key with every question marked.
type OfficialAnswerKey struct {
	Config  AnswerKeyConfig `json:"config"`
	Answers []string        `json:"answers"`
}

// Complete reports whether the key can be used for scoring.
func (k *OfficialAnswerKey) Complete() bool {
	if k == nil || k.Config.Name == "" || len(k.Answers) == 0 || len(k.Answers) != k.Config.QuestionCount {
		return false
	}
	for _, a := range k.Answers {
		if a == "" {
			return false
		}
	}
	return true
}

// Student is a record returned by the backend student lookup.
type Student struct {
	Name  string `json:"nome"`
	Class string `json:"turma"`
}

// LookupStatus describes the outcome of resolving a student from an upload.
type LookupStatus string

const (
	LookupPending     LookupStatus = ""
	LookupFound       LookupStatus = "found"
	LookupNotFound    LookupStatus = "not_found"
	LookupNoCode      LookupStatus = "no_code"
	LookupOCRError    LookupStatus = "ocr_error"
	LookupBackendFail LookupStatus = "lookup_error"
)

// StudentAnswerSheet is the transient per-upload document state.
type StudentAnswerSheet struct {
	ExtractedCode string       `json:"extracted_code,omitempty"`
	Lookup        LookupStatus `json:"lookup"`
	Student       *Student     `json:"student,omitempty"`
	Answers       []string     `json:"answers,omitempty"`
	RawText       string       `json:"raw_text,omitempty"`
}

// StudentDisplay is the code/name/class triple shown next to the upload and
// sent along with a saved correction.
type StudentDisplay struct {
	Code  string `json:"codigo"`
	Name  string `json:"nome"`
	Class string `json:"turma"`
}

// QuestionOutcome is one cell of the comparison grid.
type QuestionOutcome struct {
	QuestionIndex  int    `json:"question_index"`
	StudentAnswer  string `json:"student_answer"`
	OfficialAnswer string `json:"official_answer"`
	IsCorrect      bool   `json:"is_correct"`
}

// CorrectionResult is derived from a key and a student's answers.
type CorrectionResult struct {
	PerQuestion       []QuestionOutcome `json:"per_question"`
	RawScore          int               `json:"raw_score"`
	ProportionalScore float64           `json:"proportional_score"`
}

// CorrectionSubmission is the payload of the backend save-correction call.
type CorrectionSubmission struct {
	Student         StudentDisplay
	Result          string
	Image           File
	KeyName         string
	OfficialAnswers []string
}

// SessionState is the single state value of a grading session.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateImageLoaded      SessionState = "image_loaded"
	StateCodeResolving    SessionState = "code_resolving"
	StateCodeResolved     SessionState = "code_resolved"
	StateCodeFailed       SessionState = "code_failed"
	StateAwaitingKey      SessionState = "awaiting_key_config"
	StateKeyConfigured    SessionState = "key_configured"
	StateCorrecting       SessionState = "correcting"
	StateCorrectionFailed SessionState = "correction_failed"
	StateCorrected        SessionState = "corrected"
	StateSaving           SessionState = "saving"
	StateSaved            SessionState = "saved"
	StateSaveFailed       SessionState = "save_failed"
)

// WizardStep is the open step of the official key wizard.
type WizardStep string

const (
	WizardClosed  WizardStep = ""
	WizardConfig  WizardStep = "config"
	WizardMarking WizardStep = "marking"
)

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	BackendURL    string
	CropURL       string
	BasePath      string // URL prefix for sub-path deployments (e.g. "/escola")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant string // Essay correction prompt variant (strict, standard, lenient)
}

// File is an uploaded document or a derived image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// EssaySubmission is the payload of the backend save-essay call.
type EssaySubmission struct {
	Student StudentDisplay
	Text    string
	Image   File
}

// EssayAssessment is an LLM correction of an essay with the fields extracted
// from its reply.
type EssayAssessment struct {
	ID           int64     `json:"id,omitempty"`
	Code         string    `json:"codigo"`
	Name         string    `json:"nome"`
	Year         int       `json:"ano"`
	Number       int       `json:"numero"`
	Kind         string    `json:"tipo"`
	Origin       string    `json:"origem"`
	Situation    string    `json:"situacao"`
	Competencies [4]string `json:"competencias"`
	Criterion    string    `json:"criterio,omitempty"`
	EssayText    string    `json:"texto,omitempty"`
	Reply        string    `json:"texto_ia"`
	CreatedAt    time.Time `json:"created_at"`
}

// CorrectionRecord is a saved correction kept in the local archive.
type CorrectionRecord struct {
	ID                int64           `json:"id"`
	SessionID         string          `json:"session_id"`
	Operator          string          `json:"operator,omitempty"`
	Student           StudentDisplay  `json:"student"`
	Key               AnswerKeyConfig `json:"key"`
	OfficialAnswers   []string        `json:"official_answers"`
	StudentAnswers    []string        `json:"student_answers"`
	RawScore          int             `json:"raw_score"`
	ProportionalScore float64         `json:"proportional_score"`
	ResultText        string          `json:"result_text"`
	ImageName         string          `json:"image_name"`
	CreatedAt         time.Time       `json:"created_at"`
}
