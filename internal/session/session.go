// Package session implements the grading session: one operator's answer
// sheet workflow from upload to saved correction.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
)

// Services is the set of external calls a session makes.
type Services interface {
	OCRText(ctx context.Context, f model.File) (string, error)
	StudentByCode(ctx context.Context, code string) (*model.Student, error)
	KeyNames(ctx context.Context) ([]string, error)
	Crop(ctx context.Context, f model.File) (model.File, error)
	RecognizeAnswers(ctx context.Context, crop model.File) (remote.BubbleReply, error)
	SaveCorrection(ctx context.Context, sub model.CorrectionSubmission) error
}

// Archive keeps saved corrections locally and contributes their key names
// to duplicate detection.
type Archive interface {
	AnswerKeyNames() ([]string, error)
	ArchiveCorrection(rec model.CorrectionRecord) (int64, error)
}

type action string

const (
	actUpload  action = "upload"
	actKey     action = "key"
	actCorrect action = "correct"
	actSave    action = "save"
)

// Session is a single grading workflow. All methods are safe for concurrent
// use; each action runs at most once at a time and the key wizard, while
// open, blocks every other action.
type Session struct {
	ID        string
	Operator  string
	CreatedAt time.Time

	svc     Services
	archive Archive
	labels  Labeler
	now     func() time.Time

	mu         sync.Mutex
	state      model.SessionState
	prevState  model.SessionState // restored when the wizard closes
	generation uint64
	inflight   map[action]bool
	lastUsed   time.Time

	file      *model.File
	thumb     string
	sheet     model.StudentAnswerSheet
	cropThumb string

	wizard model.WizardStep
	draft  *model.AnswerKeyConfig
	marks  []string
	key    *model.OfficialAnswerKey

	result     *model.CorrectionResult
	resultText string
	savedID    int64
	notice     *Notice
}

func newSession(id, operator string, svc Services, archive Archive, labels Labeler, now func() time.Time) *Session {
	if labels == nil {
		labels = DefaultLabel
	}
	t := now()
	return &Session{
		ID:        id,
		Operator:  operator,
		CreatedAt: t,
		svc:       svc,
		archive:   archive,
		labels:    labels,
		now:       now,
		state:     model.StateIdle,
		inflight:  map[action]bool{},
		lastUsed:  t,
	}
}

// start claims act. pre runs under the lock once the common checks pass and
// may refuse the action or capture what it needs.
func (s *Session) start(act action, pre func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard != model.WizardClosed {
		return ErrWizardOpen
	}
	if s.inflight[act] {
		return ErrBusy
	}
	if pre != nil {
		if err := pre(); err != nil {
			return err
		}
	}
	s.inflight[act] = true
	s.lastUsed = s.now()
	return nil
}

func (s *Session) end(act action) {
	s.mu.Lock()
	delete(s.inflight, act)
	s.lastUsed = s.now()
	s.mu.Unlock()
}

// apply runs fn under the lock unless a newer upload superseded gen.
func (s *Session) apply(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	fn()
	s.lastUsed = s.now()
	return true
}

// setStateLocked records st, or defers it until the wizard closes.
func (s *Session) setStateLocked(st model.SessionState) {
	if s.wizard != model.WizardClosed {
		s.prevState = st
		return
	}
	s.state = st
}

func (s *Session) recomputeLocked() {
	if s.sheet.Answers == nil || !s.key.Complete() {
		return
	}
	res := grading.Compare(s.key.Answers, s.sheet.Answers, s.key.Config.TotalScore)
	s.result = &res
	s.resultText = grading.FormatResult(res)
}

// State returns the current state value.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether any action is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) > 0
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

// LoadKey installs a complete official key without the wizard, as done by
// batch grading from a key file.
func (s *Session) LoadKey(key model.OfficialAnswerKey) error {
	if err := grading.ValidateKeyConfig(key.Config); err != nil {
		return err
	}
	answers, err := grading.ValidateMarking(key.Config, key.Answers)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wizard != model.WizardClosed {
		return ErrWizardOpen
	}
	s.key = &model.OfficialAnswerKey{Config: key.Config, Answers: answers}
	s.recomputeLocked()
	if len(s.inflight) == 0 {
		if s.sheet.Answers != nil {
			s.state = model.StateCorrected
		} else {
			s.state = model.StateKeyConfigured
		}
	}
	return nil
}

func (s *Session) displayLocked() model.StudentDisplay {
	return StudentDisplay(s.sheet, s.labels)
}

// StudentDisplay derives the code, name and class shown and saved for a
// sheet. Without a resolved student the name slot carries a placeholder
// from labels.
func StudentDisplay(sh model.StudentAnswerSheet, labels Labeler) model.StudentDisplay {
	if labels == nil {
		labels = DefaultLabel
	}
	switch sh.Lookup {
	case model.LookupFound:
		d := model.StudentDisplay{Code: strings.ToUpper(sh.ExtractedCode)}
		if sh.Student != nil {
			d.Name = strings.ToUpper(sh.Student.Name)
			d.Class = strings.ToUpper(sh.Student.Class)
		}
		return d
	case model.LookupNotFound:
		return model.StudentDisplay{Code: sh.ExtractedCode, Name: labels(LabelNotFound), Class: "-"}
	case model.LookupNoCode:
		return model.StudentDisplay{Code: "-", Name: labels(LabelNoCode), Class: "-"}
	case model.LookupOCRError:
		return model.StudentDisplay{Code: "-", Name: labels(LabelOCRError), Class: "-"}
	case model.LookupBackendFail:
		return model.StudentDisplay{Code: sh.ExtractedCode, Name: labels(LabelLookupError), Class: "-"}
	}
	return model.StudentDisplay{Code: "-", Name: "-", Class: "-"}
}

// FileView describes the loaded upload.
type FileView struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// WizardView is the open step of the key wizard.
type WizardView struct {
	Step         model.WizardStep       `json:"step"`
	Config       *model.AnswerKeyConfig `json:"config,omitempty"`
	Alternatives []string               `json:"alternatives,omitempty"`
	Marks        []string               `json:"marks,omitempty"`
}

// Snapshot is the view-layer projection of a session.
type Snapshot struct {
	ID            string                   `json:"id"`
	State         model.SessionState       `json:"state"`
	Generation    uint64                   `json:"generation"`
	Busy          []string                 `json:"busy,omitempty"`
	File          *FileView                `json:"file,omitempty"`
	Lookup        model.LookupStatus       `json:"lookup,omitempty"`
	ExtractedCode string                   `json:"extracted_code,omitempty"`
	Student       model.StudentDisplay     `json:"student"`
	Wizard        *WizardView              `json:"wizard,omitempty"`
	Key           *model.OfficialAnswerKey `json:"key,omitempty"`
	CropThumbnail string                   `json:"crop_thumbnail,omitempty"`
	Answers       []string                 `json:"answers,omitempty"`
	Result        *model.CorrectionResult  `json:"result,omitempty"`
	ResultText    string                   `json:"result_text,omitempty"`
	SavedID       int64                    `json:"saved_id,omitempty"`
	Notice        *Notice                  `json:"notice,omitempty"`
}

// Snapshot copies the session for rendering.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.ID,
		State:         s.state,
		Generation:    s.generation,
		Lookup:        s.sheet.Lookup,
		ExtractedCode: s.sheet.ExtractedCode,
		Student:       s.displayLocked(),
		CropThumbnail: s.cropThumb,
		Answers:       append([]string(nil), s.sheet.Answers...),
		ResultText:    s.resultText,
		SavedID:       s.savedID,
	}
	for a := range s.inflight {
		snap.Busy = append(snap.Busy, string(a))
	}
	sort.Strings(snap.Busy)
	if s.file != nil {
		snap.File = &FileView{Name: s.file.Name, ContentType: s.file.ContentType, Size: len(s.file.Data), Thumbnail: s.thumb}
	}
	if s.wizard != model.WizardClosed {
		w := s.wizardViewLocked()
		snap.Wizard = &w
	}
	if s.key != nil {
		k := *s.key
		k.Answers = append([]string(nil), s.key.Answers...)
		snap.Key = &k
	}
	if s.result != nil {
		r := *s.result
		r.PerQuestion = append([]model.QuestionOutcome(nil), s.result.PerQuestion...)
		snap.Result = &r
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}
