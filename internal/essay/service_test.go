package essay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/remote/remotetest"
	"github.com/pavelanni/gabarito/internal/session"
)

type stubCorrector struct {
	reply     string
	err       error
	text      string
	criterion string
}

func (c *stubCorrector) CorrectEssay(_ context.Context, text, criterion string) (string, error) {
	c.text, c.criterion = text, criterion
	return c.reply, c.err
}

type memArchive struct {
	mu   sync.Mutex
	list []model.EssayAssessment
}

func (a *memArchive) InsertAssessment(x model.EssayAssessment) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = append(a.list, x)
	return int64(len(a.list)), nil
}

type fixture struct {
	fake    *remotetest.Fake
	llm     *stubCorrector
	archive *memArchive
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := remotetest.New()
	t.Cleanup(fake.Close)
	client := remote.New(remote.Config{BackendURL: fake.BackendURL(), CropURL: fake.CropURL(), Timeout: 5 * time.Second})
	llm := &stubCorrector{reply: "Situação da Correção: A\nCompetência I: B\nCompetência II: C\nCompetência III: D\nCompetência IV: E"}
	archive := &memArchive{}
	now := func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return &fixture{
		fake:    fake,
		llm:     llm,
		archive: archive,
		svc:     NewService(client, llm, Options{Archive: archive, Now: now}),
	}
}

var essayScan = model.File{Name: "redacao.png", ContentType: "image/png", Data: remotetest.PNG}

func noticeIDs(ns []session.Notice) []string {
	var ids []string
	for _, n := range ns {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestExtract(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "Código: 4321"
	fx.fake.Students["4321"] = model.Student{Name: "João", Class: "9b"}
	fx.fake.FullText = "ESCOLA\nCARTÃO DE RESPOSTA\n1\nA água é um bem comum.\nRED01\nPrecisamos cuidar dela."

	ex, err := fx.svc.Extract(context.Background(), essayScan)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := model.StudentDisplay{Code: "4321", Name: "JOÃO", Class: "9B"}
	if ex.Student != want || ex.Lookup != model.LookupFound {
		t.Errorf("student = %+v (%s), want %+v", ex.Student, ex.Lookup, want)
	}
	if ex.Text != "A água é um bem comum.\nPrecisamos cuidar dela." {
		t.Errorf("text = %q", ex.Text)
	}
	if ex.Thumbnail == "" {
		t.Error("expected a thumbnail")
	}
	if ids := noticeIDs(ex.Notices); len(ids) != 1 || ids[0] != MsgExtracted {
		t.Errorf("notices = %v", ids)
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *remotetest.Fake)
		wantShown model.StudentDisplay
		wantIDs   []string
	}{
		{
			name:      "four digit code is accepted for essays",
			setup:     func(f *remotetest.Fake) { f.OCRText = "CÓDIGO 9876" },
			wantShown: model.StudentDisplay{Code: "9876", Name: "NÃO ENCONTRADO", Class: "-"},
			wantIDs:   []string{MsgExtracted},
		},
		{
			name:      "ocr text failure",
			setup:     func(f *remotetest.Fake) { f.OCRTextStatus = http.StatusBadGateway },
			wantShown: model.StudentDisplay{Code: "-", Name: "ERRO OCR", Class: "-"},
			wantIDs:   []string{session.MsgOCRFailed, MsgExtracted},
		},
		{
			name: "structured ocr failure keeps the student",
			setup: func(f *remotetest.Fake) {
				f.OCRText = "Código: 4321"
				f.Students["4321"] = model.Student{Name: "Ana", Class: "8a"}
				f.FullTextStatus = http.StatusInternalServerError
			},
			wantShown: model.StudentDisplay{Code: "4321", Name: "ANA", Class: "8A"},
			wantIDs:   []string{MsgExtractFailed},
		},
		{
			name: "lookup failure",
			setup: func(f *remotetest.Fake) {
				f.OCRText = "Código: 4321"
				f.StudentStatus = http.StatusInternalServerError
			},
			wantShown: model.StudentDisplay{Code: "4321", Name: "ERRO AO BUSCAR", Class: "-"},
			wantIDs:   []string{session.MsgLookupFailed, MsgExtracted},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			tt.setup(fx.fake)
			ex, err := fx.svc.Extract(context.Background(), essayScan)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if ex.Student != tt.wantShown {
				t.Errorf("student = %+v, want %+v", ex.Student, tt.wantShown)
			}
			ids := noticeIDs(ex.Notices)
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("notices = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("notices = %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestExtractRejectsFileType(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Extract(context.Background(), model.File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")})
	var ve *session.ValidationError
	if !errors.As(err, &ve) || ve.ID != session.MsgUnsupportedFile {
		t.Errorf("expected unsupported type, got %v", err)
	}
	if n := fx.fake.CallCount("ocr-text"); n != 0 {
		t.Errorf("ocr called %d times for a rejected file", n)
	}
}

func TestGrade(t *testing.T) {
	fx := newFixture(t)
	req := GradeRequest{
		Student:   model.StudentDisplay{Code: "4321", Name: "JOÃO", Class: "9B"},
		Text:      "A água é um bem comum.",
		Criterion: "Texto dissertativo-argumentativo",
	}

	out, err := fx.svc.Grade(context.Background(), req)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	a := out.Assessment
	if a.Situation != "A" || a.Competencies != [4]string{"B", "C", "D", "E"} {
		t.Errorf("grades = %s %v", a.Situation, a.Competencies)
	}
	if a.Year != 2026 || a.Number != 1 || a.Kind != AssessmentKind || a.Origin != AssessmentOrigin {
		t.Errorf("fixed fields = %+v", a)
	}
	if a.ID != 1 || len(fx.archive.list) != 1 {
		t.Errorf("archived id = %d, count = %d", a.ID, len(fx.archive.list))
	}
	if fx.llm.text != req.Text || fx.llm.criterion != req.Criterion {
		t.Errorf("corrector got %q / %q", fx.llm.text, fx.llm.criterion)
	}

	sent := fx.fake.SavedAssessments()
	if len(sent) != 1 {
		t.Fatalf("expected 1 assessment sent, got %d", len(sent))
	}
	if sent[0]["codigo"] != "4321" || sent[0]["competencia_3"] != "D" || sent[0]["tipo"] != "Redação" {
		t.Errorf("sent = %v", sent[0])
	}
	if ids := noticeIDs(out.Notices); len(ids) != 1 || ids[0] != MsgGraded {
		t.Errorf("notices = %v", ids)
	}
}

func TestGradeWithoutStudentIsNotSent(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Grade(context.Background(), GradeRequest{
		Student:   model.StudentDisplay{Code: "-", Name: "CÓDIGO NÃO DETECTADO", Class: "-"},
		Text:      "texto",
		Criterion: "critério",
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if n := fx.fake.CallCount("save-assessment"); n != 0 {
		t.Errorf("assessment sent %d times for an unidentified student", n)
	}
	if len(fx.archive.list) != 1 {
		t.Error("assessment should still be archived locally")
	}
}

func TestGradeFailures(t *testing.T) {
	student := model.StudentDisplay{Code: "4321", Name: "ANA", Class: "8A"}

	t.Run("validation", func(t *testing.T) {
		fx := newFixture(t)
		tests := []struct {
			req  GradeRequest
			want string
		}{
			{GradeRequest{Student: student, Text: "  ", Criterion: "c"}, MsgTextRequired},
			{GradeRequest{Student: student, Text: "t", Criterion: ""}, MsgCriterionRequired},
		}
		for _, tt := range tests {
			_, err := fx.svc.Grade(context.Background(), tt.req)
			var ve *session.ValidationError
			if !errors.As(err, &ve) || ve.ID != tt.want {
				t.Errorf("Grade(%+v) = %v, want %s", tt.req, err, tt.want)
			}
		}
	})

	t.Run("model error", func(t *testing.T) {
		fx := newFixture(t)
		fx.llm.err = errors.New("rate limited")
		_, err := fx.svc.Grade(context.Background(), GradeRequest{Student: student, Text: "t", Criterion: "c"})
		if !errors.Is(err, ErrGradeFailed) {
			t.Errorf("expected ErrGradeFailed, got %v", err)
		}
		if len(fx.archive.list) != 0 {
			t.Error("nothing should be archived")
		}
	})

	t.Run("no model", func(t *testing.T) {
		svc := NewService(nil, nil, Options{})
		if _, err := svc.Grade(context.Background(), GradeRequest{Student: student, Text: "t", Criterion: "c"}); !errors.Is(err, ErrGradeFailed) {
			t.Errorf("expected ErrGradeFailed, got %v", err)
		}
	})

	t.Run("backend rejects assessment", func(t *testing.T) {
		fx := newFixture(t)
		fx.fake.AssessmentStatus = http.StatusInternalServerError
		out, err := fx.svc.Grade(context.Background(), GradeRequest{Student: student, Text: "t", Criterion: "c"})
		if err != nil {
			t.Fatalf("Grade: %v", err)
		}
		ids := noticeIDs(out.Notices)
		if len(ids) != 2 || ids[1] != MsgAssessmentNotSent {
			t.Errorf("notices = %v", ids)
		}
	})
}

func TestSave(t *testing.T) {
	fx := newFixture(t)
	sub := model.EssaySubmission{
		Student: model.StudentDisplay{Code: "4321", Name: "JOÃO", Class: "9B"},
		Text:    "A água é um bem comum.",
		Image:   essayScan,
	}
	if err := fx.svc.Save(context.Background(), sub); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved := fx.fake.SavedEssays()
	if len(saved) != 1 {
		t.Fatalf("expected 1 essay saved, got %d", len(saved))
	}
	got := saved[0]
	if got.Fields["codigo"] != "4321" || got.Fields["nome"] != "JOÃO" || got.Fields["turma"] != "9B" || got.Fields["texto"] != sub.Text {
		t.Errorf("fields = %v", got.Fields)
	}
	if got.FileName != "redacao.png" || got.FileBytes != len(remotetest.PNG) {
		t.Errorf("file = %s (%d bytes)", got.FileName, got.FileBytes)
	}
}

func TestSaveFailures(t *testing.T) {
	good := model.EssaySubmission{
		Student: model.StudentDisplay{Code: "4321", Name: "JOÃO", Class: "9B"},
		Text:    "texto",
		Image:   essayScan,
	}
	tests := []struct {
		name   string
		mutate func(s *model.EssaySubmission)
		want   string
	}{
		{"unidentified student", func(s *model.EssaySubmission) { s.Student.Code = "-" }, MsgStudentRequired},
		{"blank text", func(s *model.EssaySubmission) { s.Text = "\n" }, MsgTextRequired},
		{"no image", func(s *model.EssaySubmission) { s.Image = model.File{} }, MsgImageRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			sub := good
			tt.mutate(&sub)
			err := fx.svc.Save(context.Background(), sub)
			var ve *session.ValidationError
			if !errors.As(err, &ve) || ve.ID != tt.want {
				t.Errorf("Save() = %v, want %s", err, tt.want)
			}
		})
	}

	t.Run("backend rejects", func(t *testing.T) {
		fx := newFixture(t)
		fx.fake.SaveFailed = true
		if err := fx.svc.Save(context.Background(), good); !errors.Is(err, ErrSaveFailed) {
			t.Errorf("expected ErrSaveFailed, got %v", err)
		}
	})
}
