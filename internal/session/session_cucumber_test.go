//go:build cucumber

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/remote/remotetest"
)

// TestGradingScenarios runs the grading session feature scenarios.
func TestGradingScenarios(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "grading-session",
		ScenarioInitializer: initializeGradingScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("testdata", "features")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

func initializeGradingScenario(ctx *godog.ScenarioContext) {
	st := &gradingScenario{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		st.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		st.fake.Close()
		return ctx, err
	})

	ctx.Step(`^the backend knows student "([^"]+)" as "([^"]+)" in class "([^"]+)"$`, st.givenStudent)
	ctx.Step(`^the OCR service reads "([^"]*)"$`, st.givenOCRText)
	ctx.Step(`^the official key "([^"]+)" with answers "([^"]+)" worth (\d+)$`, st.givenKey)
	ctx.Step(`^the bubble reader marks "([^"]+)"$`, st.givenBubbles)
	ctx.Step(`^the operator uploads "([^"]+)"$`, st.whenUpload)
	ctx.Step(`^the operator corrects the sheet$`, st.whenCorrect)
	ctx.Step(`^the operator saves the correction$`, st.whenSave)
	ctx.Step(`^the session state is "([^"]+)"$`, st.thenState)
	ctx.Step(`^the student is shown as "([^"]+)" "([^"]+)" "([^"]+)"$`, st.thenStudent)
	ctx.Step(`^the score is (\d+) with grade ([0-9.]+)$`, st.thenScore)
	ctx.Step(`^the backend received (\d+) corrections? for "([^"]+)"$`, st.thenSaved)
}

type gradingScenario struct {
	fake    *remotetest.Fake
	session *Session
}

func (g *gradingScenario) reset() {
	g.fake = remotetest.New()
	client := remote.New(remote.Config{BackendURL: g.fake.BackendURL(), CropURL: g.fake.CropURL(), Timeout: 5 * time.Second})
	g.session = NewManager(client, Options{Archive: &memArchive{}}).Create("operador")
}

func (g *gradingScenario) givenStudent(code, name, class string) error {
	g.fake.Set(func(f *remotetest.Fake) { f.Students[code] = model.Student{Name: name, Class: class} })
	return nil
}

func (g *gradingScenario) givenOCRText(text string) error {
	text = strings.ReplaceAll(text, `\n`, "\n")
	g.fake.Set(func(f *remotetest.Fake) { f.OCRText = text })
	return nil
}

func (g *gradingScenario) givenKey(name, answers string, total int) error {
	list := strings.Split(answers, ",")
	return g.session.LoadKey(model.OfficialAnswerKey{
		Config:  model.AnswerKeyConfig{Name: name, QuestionCount: len(list), AlternativeCount: 4, TotalScore: float64(total)},
		Answers: list,
	})
}

func (g *gradingScenario) givenBubbles(answers string) error {
	g.fake.Set(func(f *remotetest.Fake) { f.Answers = strings.Split(answers, ",") })
	return nil
}

func (g *gradingScenario) whenUpload(name string) error {
	return g.session.Upload(context.Background(), model.File{Name: name, ContentType: "image/png", Data: remotetest.PNG})
}

func (g *gradingScenario) whenCorrect() error {
	return g.session.Correct(context.Background())
}

func (g *gradingScenario) whenSave() error {
	return g.session.Save(context.Background())
}

func (g *gradingScenario) thenState(want string) error {
	if got := g.session.State(); string(got) != want {
		return fmt.Errorf("state = %s, want %s", got, want)
	}
	return nil
}

func (g *gradingScenario) thenStudent(code, name, class string) error {
	want := model.StudentDisplay{Code: code, Name: name, Class: class}
	if got := g.session.Snapshot().Student; got != want {
		return fmt.Errorf("student = %+v, want %+v", got, want)
	}
	return nil
}

func (g *gradingScenario) thenScore(raw int, grade float64) error {
	res := g.session.Snapshot().Result
	if res == nil {
		return fmt.Errorf("no result")
	}
	if res.RawScore != raw || res.ProportionalScore != grade {
		return fmt.Errorf("score = %d/%v, want %d/%v", res.RawScore, res.ProportionalScore, raw, grade)
	}
	return nil
}

func (g *gradingScenario) thenSaved(n int, name string) error {
	saved := g.fake.SavedCorrections()
	if len(saved) != n {
		return fmt.Errorf("saved %d corrections, want %d", len(saved), n)
	}
	if got := saved[n-1].Fields["nome"]; got != name {
		return fmt.Errorf("saved name = %q, want %q", got, name)
	}
	return nil
}
