package session

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/remote/remotetest"
	"github.com/pavelanni/gabarito/internal/thumbnail"
)

type memArchive struct {
	mu      sync.Mutex
	names   []string
	records []model.CorrectionRecord
}

func (a *memArchive) AnswerKeyNames() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.names...), nil
}

func (a *memArchive) ArchiveCorrection(rec model.CorrectionRecord) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	a.names = append(a.names, rec.Key.Name)
	return int64(len(a.records)), nil
}

type fixture struct {
	fake    *remotetest.Fake
	archive *memArchive
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := remotetest.New()
	t.Cleanup(fake.Close)
	client := remote.New(remote.Config{BackendURL: fake.BackendURL(), CropURL: fake.CropURL(), Timeout: 5 * time.Second})
	archive := &memArchive{}
	return &fixture{
		fake:    fake,
		archive: archive,
		mgr:     NewManager(client, Options{Archive: archive}),
	}
}

var pngSheet = model.File{Name: "folha.png", ContentType: "image/png", Data: remotetest.PNG}

var fourKey = model.OfficialAnswerKey{
	Config:  model.AnswerKeyConfig{Name: "Prova A", QuestionCount: 4, AlternativeCount: 4, TotalScore: 10},
	Answers: []string{"A", "B", "C", "D"},
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUploadResolvesStudent(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "ESCOLA ESTADUAL\nCódigo: 98765\nAssinatura"
	fx.fake.Students["98765"] = model.Student{Name: "Maria", Class: "7a"}

	s := fx.mgr.Create("prof")
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != model.StateCodeResolved {
		t.Errorf("state = %s, want %s", snap.State, model.StateCodeResolved)
	}
	want := model.StudentDisplay{Code: "98765", Name: "MARIA", Class: "7A"}
	if snap.Student != want {
		t.Errorf("student = %+v, want %+v", snap.Student, want)
	}
	if snap.File == nil || snap.File.Thumbnail == "" {
		t.Error("expected a thumbnail for the PNG upload")
	}
	if snap.Generation != 1 {
		t.Errorf("generation = %d", snap.Generation)
	}
}

func TestUploadLookupOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *remotetest.Fake)
		wantState  model.SessionState
		wantLookup model.LookupStatus
		wantShown  model.StudentDisplay
		wantNotice string
	}{
		{
			name:       "student not found",
			setup:      func(f *remotetest.Fake) { f.OCRText = "CÓDIGO: 55555" },
			wantState:  model.StateCodeResolved,
			wantLookup: model.LookupNotFound,
			wantShown:  model.StudentDisplay{Code: "55555", Name: "NÃO ENCONTRADO", Class: "-"},
		},
		{
			name:       "no code in text",
			setup:      func(f *remotetest.Fake) { f.OCRText = "Nome: Maria\nTurma 7A" },
			wantState:  model.StateCodeFailed,
			wantLookup: model.LookupNoCode,
			wantShown:  model.StudentDisplay{Code: "-", Name: "CÓDIGO NÃO DETECTADO", Class: "-"},
		},
		{
			name:       "four digits below the answer-sheet band",
			setup:      func(f *remotetest.Fake) { f.OCRText = "Código: 4321" },
			wantState:  model.StateCodeFailed,
			wantLookup: model.LookupNoCode,
			wantShown:  model.StudentDisplay{Code: "-", Name: "CÓDIGO NÃO DETECTADO", Class: "-"},
		},
		{
			name:       "ocr service error",
			setup:      func(f *remotetest.Fake) { f.OCRTextStatus = http.StatusServiceUnavailable },
			wantState:  model.StateCodeFailed,
			wantLookup: model.LookupOCRError,
			wantShown:  model.StudentDisplay{Code: "-", Name: "ERRO OCR", Class: "-"},
			wantNotice: MsgOCRFailed,
		},
		{
			name: "lookup service error",
			setup: func(f *remotetest.Fake) {
				f.OCRText = "CÓDIGO: 55555"
				f.StudentStatus = http.StatusInternalServerError
			},
			wantState:  model.StateCodeFailed,
			wantLookup: model.LookupBackendFail,
			wantShown:  model.StudentDisplay{Code: "55555", Name: "ERRO AO BUSCAR", Class: "-"},
			wantNotice: MsgLookupFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.fake.Set(tt.setup)
			s := fx.mgr.Create("prof")
			if err := s.Upload(context.Background(), pngSheet); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			snap := s.Snapshot()
			if snap.State != tt.wantState {
				t.Errorf("state = %s, want %s", snap.State, tt.wantState)
			}
			if snap.Lookup != tt.wantLookup {
				t.Errorf("lookup = %s, want %s", snap.Lookup, tt.wantLookup)
			}
			if snap.Student != tt.wantShown {
				t.Errorf("student = %+v, want %+v", snap.Student, tt.wantShown)
			}
			gotNotice := ""
			if snap.Notice != nil {
				gotNotice = snap.Notice.ID
			}
			if gotNotice != tt.wantNotice {
				t.Errorf("notice = %q, want %q", gotNotice, tt.wantNotice)
			}
		})
	}
}

func TestUploadRejectsFileType(t *testing.T) {
	fx := newFixture(t)
	s := fx.mgr.Create("prof")

	tests := []struct {
		name string
		file model.File
		want string
	}{
		{name: "plain text", file: model.File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")}, want: MsgUnsupportedFile},
		{name: "gif", file: model.File{Name: "a.gif", ContentType: "image/gif", Data: []byte("GIF89a....")}, want: MsgUnsupportedFile},
		{name: "empty", file: model.File{Name: "a.png", ContentType: "image/png"}, want: MsgEmptyFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Upload(context.Background(), tt.file)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.ID != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if st := s.State(); st != model.StateIdle {
				t.Errorf("state changed to %s", st)
			}
		})
	}
	if n := fx.fake.CallCount("ocr-text"); n != 0 {
		t.Errorf("ocr called %d times for rejected files", n)
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name string
		file model.File
		want string
	}{
		{name: "declared png", file: model.File{ContentType: "image/png", Data: remotetest.PNG}, want: "image/png"},
		{name: "declared jpg alias", file: model.File{ContentType: "image/jpg", Data: []byte{0xff, 0xd8, 0xff}}, want: "image/jpg"},
		{name: "sniffed pdf", file: model.File{ContentType: "application/octet-stream", Data: []byte("%PDF-1.4\n%")}, want: "application/pdf"},
		{name: "sniffed png without type", file: model.File{Data: remotetest.PNG}, want: "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectType(tt.file)
			if err != nil {
				t.Fatalf("DetectType: %v", err)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUploadPDF(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 12345"
	s := fx.mgr.Create("prof")
	pdf := model.File{Name: "prova.pdf", Data: remotetest.PDF}
	if err := s.Upload(context.Background(), pdf); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	snap := s.Snapshot()
	if snap.File.ContentType != "application/pdf" {
		t.Errorf("content type = %s", snap.File.ContentType)
	}
	want, err := thumbnail.FirstPage(remotetest.PDF, thumbnail.MaxWidth)
	if err != nil {
		t.Fatalf("FirstPage: %v", err)
	}
	if snap.File.Thumbnail != thumbnail.DataURL(want) {
		t.Error("expected the rendered first page as thumbnail")
	}
	if snap.ExtractedCode != "12345" {
		t.Errorf("code = %q", snap.ExtractedCode)
	}
}

func TestUploadBusy(t *testing.T) {
	fx := newFixture(t)
	gate := make(chan struct{})
	fx.fake.OCRGate = gate
	fx.fake.OCRText = "CÓDIGO: 12345"
	s := fx.mgr.Create("prof")

	done := make(chan error, 1)
	go func() { done <- s.Upload(context.Background(), pngSheet) }()
	waitFor(t, "ocr call", func() bool { return fx.fake.CallCount("ocr-text") == 1 })

	if err := s.Upload(context.Background(), pngSheet); !errors.Is(err, ErrBusy) {
		t.Errorf("second upload: expected ErrBusy, got %v", err)
	}
	snap := s.Snapshot()
	if !reflect.DeepEqual(snap.Busy, []string{"upload"}) || snap.State != model.StateCodeResolving {
		t.Errorf("busy = %v, state = %s", snap.Busy, snap.State)
	}
	if !s.Busy() {
		t.Error("Busy() = false during upload")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if s.Busy() {
		t.Error("still busy after upload finished")
	}
}

func TestStaleCorrectionDiscarded(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 11111"
	fx.fake.Students["11111"] = model.Student{Name: "Ana", Class: "6A"}
	fx.fake.Students["22222"] = model.Student{Name: "Bruno", Class: "6B"}
	fx.fake.Answers = []string{"A", "B", "C", "D"}
	s := fx.mgr.Create("prof")
	if err := s.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload A: %v", err)
	}

	gate := make(chan struct{})
	fx.fake.Set(func(f *remotetest.Fake) { f.CropGate = gate })
	done := make(chan error, 1)
	go func() { done <- s.Correct(context.Background()) }()
	waitFor(t, "crop call", func() bool { return fx.fake.CallCount("crop") == 1 })

	fx.fake.Set(func(f *remotetest.Fake) { f.OCRText = "CÓDIGO: 22222" })
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload B: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Correct: %v", err)
	}

	snap := s.Snapshot()
	if snap.Student.Name != "BRUNO" {
		t.Errorf("student = %+v, want BRUNO", snap.Student)
	}
	if snap.Result != nil || snap.State != model.StateCodeResolved {
		t.Errorf("stale correction applied: state %s, result %+v", snap.State, snap.Result)
	}
	if snap.Generation != 2 {
		t.Errorf("generation = %d, want 2", snap.Generation)
	}
}

func TestCorrectPreconditions(t *testing.T) {
	fx := newFixture(t)
	s := fx.mgr.Create("prof")
	if err := s.Correct(context.Background()); !errors.Is(err, ErrNoFile) {
		t.Errorf("no file: got %v", err)
	}
	fx.fake.OCRText = "CÓDIGO: 12345"
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Correct(context.Background()); !errors.Is(err, ErrKeyNotConfigured) {
		t.Errorf("no key: got %v", err)
	}
	if MessageID(ErrKeyNotConfigured) != MsgKeyNotConfigured {
		t.Errorf("message id = %s", MessageID(ErrKeyNotConfigured))
	}
	if err := s.Save(context.Background()); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("save before correction: got %v", err)
	}
	if fx.fake.CallCount("crop") != 0 {
		t.Error("crop called despite refused correction")
	}
}

func TestCorrectAndSave(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 98765"
	fx.fake.Students["98765"] = model.Student{Name: "Maria", Class: "7A"}
	fx.fake.Answers = []string{"A", "B", "X", ""}
	s := fx.mgr.Create("prof")
	if err := s.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Correct(context.Background()); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != model.StateCorrected {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.Result.RawScore != 2 || snap.Result.ProportionalScore != 5 {
		t.Errorf("result = %+v", snap.Result)
	}
	if snap.CropThumbnail == "" {
		t.Error("expected crop thumbnail")
	}
	wantText := "Nota do Aluno: 2 / 4 - (5,00)\n01: A ✓ | 02: B ✓ | 03: X →   (C) | 04: em branco →   (D)"
	if snap.ResultText != wantText {
		t.Errorf("result text = %q", snap.ResultText)
	}

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap = s.Snapshot()
	if snap.State != model.StateSaved || snap.SavedID != 1 {
		t.Errorf("state = %s, saved id = %d", snap.State, snap.SavedID)
	}
	saved := fx.fake.SavedCorrections()
	if len(saved) != 1 {
		t.Fatalf("saved forms = %d", len(saved))
	}
	f := saved[0].Fields
	if f["codigo"] != "98765" || f["nome"] != "MARIA" || f["turma"] != "7A" || f["nome_gabarito"] != "Prova A" || f["gabarito_oficial"] != "A,B,C,D" || f["resultado"] != wantText {
		t.Errorf("fields = %v", f)
	}
	if saved[0].FileName != "folha.png" {
		t.Errorf("image name = %s", saved[0].FileName)
	}
	if len(fx.archive.records) != 1 || fx.archive.records[0].Operator != "prof" || fx.archive.records[0].RawScore != 2 {
		t.Errorf("archive = %+v", fx.archive.records)
	}
}

func TestCorrectFailuresAllowRetry(t *testing.T) {
	tests := []struct {
		name    string
		breakIt func(f *remotetest.Fake)
		fix     func(f *remotetest.Fake)
		want    string
	}{
		{
			name:    "crop",
			breakIt: func(f *remotetest.Fake) { f.CropStatus = http.StatusBadGateway },
			fix:     func(f *remotetest.Fake) { f.CropStatus = 0 },
			want:    MsgCropFailed,
		},
		{
			name:    "recognition",
			breakIt: func(f *remotetest.Fake) { f.BubbleStatus = http.StatusInternalServerError },
			fix:     func(f *remotetest.Fake) { f.BubbleStatus = 0 },
			want:    MsgRecognizeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.fake.OCRText = "CÓDIGO: 12345"
			fx.fake.Answers = []string{"A", "B", "C", "D"}
			s := fx.mgr.Create("prof")
			if err := s.LoadKey(fourKey); err != nil {
				t.Fatalf("LoadKey: %v", err)
			}
			if err := s.Upload(context.Background(), pngSheet); err != nil {
				t.Fatalf("Upload: %v", err)
			}

			fx.fake.Set(tt.breakIt)
			if err := s.Correct(context.Background()); err != nil {
				t.Fatalf("Correct: %v", err)
			}
			snap := s.Snapshot()
			if snap.State != model.StateCorrectionFailed || snap.Notice == nil || snap.Notice.ID != tt.want {
				t.Fatalf("state = %s, notice = %+v", snap.State, snap.Notice)
			}

			fx.fake.Set(tt.fix)
			if err := s.Correct(context.Background()); err != nil {
				t.Fatalf("retry: %v", err)
			}
			snap = s.Snapshot()
			if snap.State != model.StateCorrected || snap.Result.RawScore != 4 || snap.Notice != nil {
				t.Errorf("retry: state = %s, result = %+v, notice = %+v", snap.State, snap.Result, snap.Notice)
			}
		})
	}
}

func TestCorrectTextFallback(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 12345"
	fx.fake.AnswerText = "01 A\n02 b\n04 A"
	s := fx.mgr.Create("prof")
	if err := s.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Correct(context.Background()); err != nil {
		t.Fatalf("Correct: %v", err)
	}
	snap := s.Snapshot()
	if !reflect.DeepEqual(snap.Answers, []string{"A", "B", "", "A"}) {
		t.Errorf("answers = %q", snap.Answers)
	}
	if snap.Result.RawScore != 2 {
		t.Errorf("raw = %d", snap.Result.RawScore)
	}
}

func TestSaveFailureKeepsResult(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 12345"
	fx.fake.Answers = []string{"A", "B", "C", "A"}
	fx.fake.SaveStatus = http.StatusInternalServerError
	s := fx.mgr.Create("prof")
	if err := s.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Correct(context.Background()); err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != model.StateSaveFailed || snap.Result == nil || snap.Result.RawScore != 3 {
		t.Fatalf("state = %s, result = %+v", snap.State, snap.Result)
	}
	if len(fx.archive.records) != 0 {
		t.Error("failed save was archived")
	}

	fx.fake.Set(func(f *remotetest.Fake) { f.SaveStatus = 0 })
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := s.State(); st != model.StateSaved {
		t.Errorf("state after retry = %s", st)
	}
}

func TestSessionsIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 12345"
	a := fx.mgr.Create("prof")
	b := fx.mgr.Create("prof")
	if err := a.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := b.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := b.Correct(context.Background()); !errors.Is(err, ErrKeyNotConfigured) {
		t.Errorf("session b sees key of session a: %v", err)
	}
	if err := a.Correct(context.Background()); !errors.Is(err, ErrNoFile) {
		t.Errorf("session a sees file of session b: %v", err)
	}
}

func TestLoadKeyRejectsIncomplete(t *testing.T) {
	fx := newFixture(t)
	s := fx.mgr.Create("prof")
	bad := fourKey
	bad.Answers = []string{"A", "", "C", "D"}
	var inc *grading.IncompleteMarkingError
	if err := s.LoadKey(bad); !errors.As(err, &inc) {
		t.Errorf("expected IncompleteMarkingError, got %v", err)
	}
	bad = fourKey
	bad.Config.AlternativeCount = 9
	var fe *grading.FieldError
	if err := s.LoadKey(bad); !errors.As(err, &fe) {
		t.Errorf("expected FieldError, got %v", err)
	}
}

func TestLoadKeyAfterCorrection(t *testing.T) {
	fx := newFixture(t)
	fx.fake.OCRText = "CÓDIGO: 98765"
	fx.fake.Answers = []string{"A", "B", "C", "C"}
	s := fx.mgr.Create("prof")
	if err := s.LoadKey(fourKey); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got := s.State(); got != model.StateKeyConfigured {
		t.Fatalf("state before upload = %s", got)
	}
	if err := s.Upload(context.Background(), pngSheet); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Correct(context.Background()); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	other := fourKey
	other.Config.Name = "Prova B"
	other.Answers = []string{"A", "B", "C", "C"}
	if err := s.LoadKey(other); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != model.StateCorrected {
		t.Errorf("state = %s, want %s", snap.State, model.StateCorrected)
	}
	if snap.Result == nil || snap.Result.RawScore != 4 {
		t.Errorf("result = %+v", snap.Result)
	}
}
