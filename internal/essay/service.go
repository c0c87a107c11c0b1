package essay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/thumbnail"
)

// Message IDs of the essay workflow.
const (
	MsgTextRequired      = "EssayTextRequired"
	MsgCriterionRequired = "EssayCriterionRequired"
	MsgImageRequired     = "EssayImageRequired"
	MsgStudentRequired   = "EssayStudentRequired"
	MsgExtracted         = "EssayExtracted"
	MsgExtractFailed     = "EssayExtractFailed"
	MsgGraded            = "EssayGraded"
	MsgGradeFailed       = "EssayGradeFailed"
	MsgAssessmentNotSent = "AssessmentNotSent"
	MsgSaved             = "EssaySaved"
	MsgSaveFailed        = "EssaySaveFailed"
)

// Fixed fields of the assessments posted to the backend.
const (
	AssessmentKind   = "Redação"
	AssessmentOrigin = "ia"
)

var (
	// ErrGradeFailed wraps failures of the correction model.
	ErrGradeFailed = errors.New("essay correction failed")
	// ErrSaveFailed wraps failures of the backend save.
	ErrSaveFailed = errors.New("essay save failed")
)

// Services is the set of backend calls the essay workflow makes.
type Services interface {
	OCRText(ctx context.Context, f model.File) (string, error)
	OCRStructured(ctx context.Context, f model.File) (string, error)
	StudentByCode(ctx context.Context, code string) (*model.Student, error)
	SaveEssay(ctx context.Context, sub model.EssaySubmission) error
	SaveAssessment(ctx context.Context, a model.EssayAssessment) error
}

// Corrector corrects an essay text according to a criterion.
type Corrector interface {
	CorrectEssay(ctx context.Context, text, criterion string) (string, error)
}

// Archive keeps assessments locally.
type Archive interface {
	InsertAssessment(a model.EssayAssessment) (int64, error)
}

// Options configures a Service.
type Options struct {
	Archive Archive
	Labels  session.Labeler
	Now     func() time.Time
}

// Service runs the essay workflow. It keeps no per-operator state.
type Service struct {
	svc     Services
	llm     Corrector
	archive Archive
	labels  session.Labeler
	now     func() time.Time
}

// NewService creates an essay service. llm may be nil when no model is
// configured; Grade then fails.
func NewService(svc Services, llm Corrector, opts Options) *Service {
	if opts.Labels == nil {
		opts.Labels = session.DefaultLabel
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{svc: svc, llm: llm, archive: opts.Archive, labels: opts.Labels, now: opts.Now}
}

// Extraction is the result of reading an essay scan.
type Extraction struct {
	Student   model.StudentDisplay `json:"student"`
	Lookup    model.LookupStatus   `json:"lookup"`
	Text      string               `json:"text"`
	Thumbnail string               `json:"thumbnail,omitempty"`
	Notices   []session.Notice     `json:"notices,omitempty"`
}

// Extract reads the student code and the essay text of a scan. The two OCR
// calls run concurrently; their failures are reported as notices.
func (s *Service) Extract(ctx context.Context, f model.File) (*Extraction, error) {
	if _, err := session.DetectType(f); err != nil {
		return nil, err
	}

	var (
		sheet       model.StudentAnswerSheet
		text        string
		lookupNote  *session.Notice
		extractNote *session.Notice
	)
	var g errgroup.Group
	g.Go(func() error {
		sheet, lookupNote = s.resolveStudent(ctx, f)
		return nil
	})
	g.Go(func() error {
		full, err := s.svc.OCRStructured(ctx, f)
		if err != nil {
			slog.Warn("structured ocr failed", "file", f.Name, "error", err)
			extractNote = &session.Notice{Level: session.LevelError, ID: MsgExtractFailed}
			return nil
		}
		text = FilterOCRText(full)
		return nil
	})
	g.Wait()

	ex := &Extraction{
		Student: session.StudentDisplay(sheet, s.labels),
		Lookup:  sheet.Lookup,
		Text:    text,
	}
	if thumb, err := thumbnail.ForFile(f); err != nil {
		slog.Warn("essay thumbnail failed", "file", f.Name, "error", err)
	} else {
		ex.Thumbnail = thumb
	}
	for _, n := range []*session.Notice{lookupNote, extractNote} {
		if n != nil {
			ex.Notices = append(ex.Notices, *n)
		}
	}
	if extractNote == nil {
		ex.Notices = append(ex.Notices, session.Notice{Level: session.LevelSuccess, ID: MsgExtracted})
	}
	slog.Info("essay extracted", "file", f.Name, "code", ex.Student.Code, "lookup", ex.Lookup, "chars", len(text))
	return ex, nil
}

func (s *Service) resolveStudent(ctx context.Context, f model.File) (model.StudentAnswerSheet, *session.Notice) {
	var sheet model.StudentAnswerSheet
	text, err := s.svc.OCRText(ctx, f)
	if err != nil {
		slog.Warn("ocr failed", "file", f.Name, "error", err)
		sheet.Lookup = model.LookupOCRError
		return sheet, &session.Notice{Level: session.LevelError, ID: session.MsgOCRFailed}
	}
	sheet.RawText = text
	code, ok := grading.ExtractCode(text)
	if !ok {
		sheet.Lookup = model.LookupNoCode
		return sheet, nil
	}
	sheet.ExtractedCode = code
	st, err := s.svc.StudentByCode(ctx, code)
	switch {
	case err == nil:
		sheet.Student = st
		sheet.Lookup = model.LookupFound
	case errors.Is(err, remote.ErrNotFound):
		sheet.Lookup = model.LookupNotFound
	default:
		slog.Warn("student lookup failed", "code", code, "error", err)
		sheet.Lookup = model.LookupBackendFail
		return sheet, &session.Notice{Level: session.LevelError, ID: session.MsgLookupFailed}
	}
	return sheet, nil
}

// GradeRequest is an essay to be corrected.
type GradeRequest struct {
	Student   model.StudentDisplay `json:"student"`
	Text      string               `json:"text"`
	Criterion string               `json:"criterion"`
}

// Graded is a finished correction.
type Graded struct {
	Assessment model.EssayAssessment `json:"assessment"`
	Notices    []session.Notice      `json:"notices,omitempty"`
}

// Grade corrects an essay with the model, extracts the Situação and
// Competência letters from the reply and records the assessment locally
// and, for an identified student, with the backend.
func (s *Service) Grade(ctx context.Context, req GradeRequest) (*Graded, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &session.ValidationError{Field: "text", ID: MsgTextRequired}
	}
	if strings.TrimSpace(req.Criterion) == "" {
		return nil, &session.ValidationError{Field: "criterion", ID: MsgCriterionRequired}
	}
	if s.llm == nil {
		return nil, fmt.Errorf("%w: no model configured", ErrGradeFailed)
	}

	reply, err := s.llm.CorrectEssay(ctx, req.Text, req.Criterion)
	if err != nil {
		slog.Warn("essay correction failed", "code", req.Student.Code, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGradeFailed, err)
	}
	grades := ParseGrades(reply)
	a := model.EssayAssessment{
		Code:         req.Student.Code,
		Name:         req.Student.Name,
		Year:         s.now().Year(),
		Number:       1,
		Kind:         AssessmentKind,
		Origin:       AssessmentOrigin,
		Situation:    grades.Situation,
		Competencies: grades.Competencies,
		Criterion:    req.Criterion,
		EssayText:    req.Text,
		Reply:        reply,
		CreatedAt:    s.now(),
	}

	out := &Graded{Notices: []session.Notice{{Level: session.LevelSuccess, ID: MsgGraded}}}
	if s.archive != nil {
		if a.ID, err = s.archive.InsertAssessment(a); err != nil {
			slog.Warn("archive assessment failed", "code", a.Code, "error", err)
		}
	}
	if identified(req.Student) {
		if err := s.svc.SaveAssessment(ctx, a); err != nil {
			slog.Warn("assessment not sent", "code", a.Code, "error", err)
			out.Notices = append(out.Notices, session.Notice{Level: session.LevelWarning, ID: MsgAssessmentNotSent})
		}
	}
	out.Assessment = a
	slog.Info("essay graded", "code", a.Code, "situation", a.Situation, "competencies", strings.Join(a.Competencies[:], ""))
	return out, nil
}

// Save posts the essay text and its scan to the backend.
func (s *Service) Save(ctx context.Context, sub model.EssaySubmission) error {
	switch {
	case !identified(sub.Student):
		return &session.ValidationError{Field: "student", ID: MsgStudentRequired}
	case strings.TrimSpace(sub.Text) == "":
		return &session.ValidationError{Field: "text", ID: MsgTextRequired}
	case len(sub.Image.Data) == 0:
		return &session.ValidationError{Field: "image", ID: MsgImageRequired}
	}
	if err := s.svc.SaveEssay(ctx, sub); err != nil {
		slog.Warn("essay save failed", "code", sub.Student.Code, "error", err)
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	slog.Info("essay saved", "code", sub.Student.Code)
	return nil
}

// identified reports whether d names a student code rather than a
// placeholder.
func identified(d model.StudentDisplay) bool {
	return d.Code != "" && d.Code != "-"
}
