package session

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/thumbnail"
)

var acceptedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
}

// DetectType returns the accepted media type of f: the declared type when it
// is one of PDF, JPEG or PNG, otherwise the sniffed one.
func DetectType(f model.File) (string, error) {
	if len(f.Data) == 0 {
		return "", &ValidationError{Field: "file", ID: MsgEmptyFile}
	}
	declared, _, _ := mime.ParseMediaType(f.ContentType)
	if acceptedTypes[declared] {
		return declared, nil
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(f.Data))
	if acceptedTypes[sniffed] {
		return sniffed, nil
	}
	shown := declared
	if shown == "" {
		shown = sniffed
	}
	return "", &ValidationError{Field: "file", ID: MsgUnsupportedFile, Data: map[string]any{"Type": shown}}
}

// Upload loads a new answer sheet and resolves its student. A rejected file
// leaves the session untouched. Responses to work started for an earlier
// upload are discarded.
func (s *Session) Upload(ctx context.Context, f model.File) error {
	ct, err := DetectType(f)
	if err != nil {
		return err
	}
	f.ContentType = ct
	if err := s.start(actUpload, nil); err != nil {
		return err
	}
	defer s.end(actUpload)

	thumb, err := thumbnail.ForFile(f)
	if err != nil {
		slog.Warn("thumbnail failed", "session", s.ID, "file", f.Name, "error", err)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.file = &f
	s.thumb = thumb
	s.sheet = model.StudentAnswerSheet{}
	s.cropThumb = ""
	s.result = nil
	s.resultText = ""
	s.savedID = 0
	s.notice = nil
	s.setStateLocked(model.StateImageLoaded)
	s.mu.Unlock()

	slog.Info("file loaded", "session", s.ID, "file", f.Name, "type", ct, "generation", gen)
	s.resolveCode(ctx, gen, f)
	return nil
}

func (s *Session) resolveCode(ctx context.Context, gen uint64, f model.File) {
	if !s.apply(gen, func() { s.setStateLocked(model.StateCodeResolving) }) {
		return
	}

	text, err := s.svc.OCRText(ctx, f)
	if err != nil {
		slog.Warn("ocr failed", "session", s.ID, "error", err)
		s.apply(gen, func() {
			s.sheet.Lookup = model.LookupOCRError
			s.notice = &Notice{Level: LevelError, ID: MsgOCRFailed}
			s.setStateLocked(model.StateCodeFailed)
		})
		return
	}

	code, ok := grading.ExtractCodeStrict(text)
	if !ok {
		s.apply(gen, func() {
			s.sheet.RawText = text
			s.sheet.Lookup = model.LookupNoCode
			s.setStateLocked(model.StateCodeFailed)
		})
		return
	}
	if !s.apply(gen, func() {
		s.sheet.RawText = text
		s.sheet.ExtractedCode = code
	}) {
		return
	}

	st, err := s.svc.StudentByCode(ctx, code)
	switch {
	case err == nil:
		s.apply(gen, func() {
			s.sheet.Student = st
			s.sheet.Lookup = model.LookupFound
			s.setStateLocked(model.StateCodeResolved)
		})
	case errors.Is(err, remote.ErrNotFound):
		s.apply(gen, func() {
			s.sheet.Lookup = model.LookupNotFound
			s.setStateLocked(model.StateCodeResolved)
		})
	default:
		slog.Warn("student lookup failed", "session", s.ID, "code", code, "error", err)
		s.apply(gen, func() {
			s.sheet.Lookup = model.LookupBackendFail
			s.notice = &Notice{Level: LevelError, ID: MsgLookupFailed}
			s.setStateLocked(model.StateCodeFailed)
		})
	}
}
