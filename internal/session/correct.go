package session

import (
	"context"
	"log/slog"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/thumbnail"
)

// Correct crops the answer grid of the loaded sheet, reads the marked
// bubbles and scores them against the official key. A failing service call
// leaves the session in StateCorrectionFailed with a notice; the operator
// may retry.
func (s *Session) Correct(ctx context.Context) error {
	var (
		gen uint64
		f   model.File
		n   int
	)
	err := s.start(actCorrect, func() error {
		if s.file == nil {
			return ErrNoFile
		}
		if !s.key.Complete() {
			return ErrKeyNotConfigured
		}
		gen, f, n = s.generation, *s.file, s.key.Config.QuestionCount
		s.notice = nil
		s.setStateLocked(model.StateCorrecting)
		return nil
	})
	if err != nil {
		return err
	}
	defer s.end(actCorrect)

	crop, err := s.svc.Crop(ctx, f)
	if err != nil {
		slog.Warn("crop failed", "session", s.ID, "error", err)
		s.fail(gen, model.StateCorrectionFailed, MsgCropFailed)
		return nil
	}
	cropThumb, err := thumbnail.ForFile(crop)
	if err != nil {
		slog.Warn("crop thumbnail failed", "session", s.ID, "error", err)
	}
	s.apply(gen, func() { s.cropThumb = cropThumb })

	reply, err := s.svc.RecognizeAnswers(ctx, crop)
	if err != nil {
		slog.Warn("answer recognition failed", "session", s.ID, "error", err)
		s.fail(gen, model.StateCorrectionFailed, MsgRecognizeFailed)
		return nil
	}
	answers := reply.Answers
	if !reply.HasAnswers() {
		answers = grading.ParseAnswerLines(reply.RawText(), n)
	}

	s.apply(gen, func() {
		s.sheet.Answers = answers
		s.recomputeLocked()
		s.savedID = 0
		s.setStateLocked(model.StateCorrected)
		if s.result != nil {
			slog.Info("sheet corrected", "session", s.ID, "raw", s.result.RawScore, "score", s.result.ProportionalScore)
		}
	})
	return nil
}

func (s *Session) fail(gen uint64, st model.SessionState, msgID string) {
	s.apply(gen, func() {
		s.notice = &Notice{Level: LevelError, ID: msgID}
		s.setStateLocked(st)
	})
}

// Save posts the correction, the student display and the source image to
// the backend and archives it locally. On failure the correction is kept
// for a retry.
func (s *Session) Save(ctx context.Context) error {
	var (
		gen uint64
		sub model.CorrectionSubmission
		rec model.CorrectionRecord
	)
	err := s.start(actSave, func() error {
		if s.result == nil || s.file == nil || !s.key.Complete() {
			return ErrNothingToSave
		}
		gen = s.generation
		sub = model.CorrectionSubmission{
			Student:         s.displayLocked(),
			Result:          s.resultText,
			Image:           *s.file,
			KeyName:         s.key.Config.Name,
			OfficialAnswers: append([]string(nil), s.key.Answers...),
		}
		rec = model.CorrectionRecord{
			SessionID:         s.ID,
			Operator:          s.Operator,
			Student:           sub.Student,
			Key:               s.key.Config,
			OfficialAnswers:   sub.OfficialAnswers,
			StudentAnswers:    append([]string(nil), s.sheet.Answers...),
			RawScore:          s.result.RawScore,
			ProportionalScore: s.result.ProportionalScore,
			ResultText:        s.resultText,
			ImageName:         s.file.Name,
		}
		s.notice = nil
		s.setStateLocked(model.StateSaving)
		return nil
	})
	if err != nil {
		return err
	}
	defer s.end(actSave)

	if err := s.svc.SaveCorrection(ctx, sub); err != nil {
		slog.Warn("save failed", "session", s.ID, "error", err)
		s.fail(gen, model.StateSaveFailed, MsgSaveFailed)
		return nil
	}

	var id int64
	if s.archive != nil {
		rec.CreatedAt = s.now()
		if id, err = s.archive.ArchiveCorrection(rec); err != nil {
			slog.Warn("archive failed", "session", s.ID, "error", err)
		}
	}
	slog.Info("correction saved", "session", s.ID, "code", sub.Student.Code, "key", sub.KeyName)
	s.apply(gen, func() {
		s.savedID = id
		s.notice = &Notice{Level: LevelSuccess, ID: MsgSaveSucceeded}
		s.setStateLocked(model.StateSaved)
	})
	return nil
}
