package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/remote/remotetest"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/store"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeyFile(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "prova.yaml", []byte("name: Prova 1\nquestions: 4\nalternatives: 5\ntotal: 10\nanswers: [A, C, E, B]\n"))
	key, err := loadKeyFile(path)
	if err != nil {
		t.Fatalf("loadKeyFile: %v", err)
	}
	want := model.AnswerKeyConfig{Name: "Prova 1", QuestionCount: 4, AlternativeCount: 5, TotalScore: 10}
	if key.Config != want {
		t.Errorf("config = %+v", key.Config)
	}
	if strings.Join(key.Answers, "") != "ACEB" {
		t.Errorf("answers = %v", key.Answers)
	}

	tests := []struct {
		name string
		body string
	}{
		{"no questions", "name: X\nquestions: 0\nalternatives: 5\ntotal: 10\nanswers: []\n"},
		{"short marking", "name: X\nquestions: 3\nalternatives: 5\ntotal: 10\nanswers: [A, B]\n"},
		{"letter out of range", "name: X\nquestions: 2\nalternatives: 2\ntotal: 10\nanswers: [A, C]\n"},
		{"bad yaml", "name: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadKeyFile(writeFile(t, dir, "k.yaml", []byte(tt.body))); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := loadKeyFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSheetFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.PDF", []byte("%PDF"))
	writeFile(t, dir, "a.png", remotetest.PNG)
	writeFile(t, dir, "notes.txt", []byte("x"))
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := sheetFiles(dir)
	if err != nil {
		t.Fatalf("sheetFiles: %v", err)
	}
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	if strings.Join(names, ",") != "a.png,b.PDF" {
		t.Errorf("files = %v", names)
	}

	if _, err := sheetFiles(filepath.Join(dir, "nope")); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestGradeAll(t *testing.T) {
	if err := appI18n.Init("pt"); err != nil {
		t.Fatalf("i18n: %v", err)
	}
	fake := remotetest.New()
	t.Cleanup(fake.Close)
	fake.OCRText = "Código: 12345"
	fake.Students["12345"] = model.Student{Name: "Joana", Class: "8b"}
	fake.Answers = []string{"A", "B", "C", "C"}

	client := remote.New(remote.Config{BackendURL: fake.BackendURL(), CropURL: fake.CropURL(), Timeout: 5 * time.Second})
	mgr := session.NewManager(client, session.Options{Labels: appI18n.Labeler("pt")})
	key := model.OfficialAnswerKey{
		Config:  model.AnswerKeyConfig{Name: "Prova 1", QuestionCount: 4, AlternativeCount: 4, TotalScore: 10},
		Answers: []string{"A", "B", "C", "D"},
	}

	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.png", remotetest.PNG),
		filepath.Join(dir, "gone.png"),
		writeFile(t, dir, "c.png", remotetest.PNG),
	}

	lines := gradeAll(context.Background(), mgr, key, paths, 2, true)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for _, i := range []int{0, 2} {
		l := lines[i]
		if l.err != nil || l.snap.Result == nil {
			t.Fatalf("line %d: err %v, result %v", i, l.err, l.snap.Result)
		}
		if l.snap.Result.RawScore != 3 || !l.saved {
			t.Errorf("line %d: raw %d, saved %v", i, l.snap.Result.RawScore, l.saved)
		}
		got := l.String()
		for _, want := range []string{filepath.Base(paths[i]), "12345", "JOANA", "8B", "3/4", "7,50"} {
			if !strings.Contains(got, want) {
				t.Errorf("line %d = %q, missing %q", i, got, want)
			}
		}
	}
	if lines[1].err == nil || !strings.HasPrefix(lines[1].String(), "gone.png\terror\t") {
		t.Errorf("missing file line = %q", lines[1].String())
	}

	if n := len(fake.SavedCorrections()); n != 2 {
		t.Errorf("expected 2 saved corrections, got %d", n)
	}
	if n := mgr.Len(); n != 0 {
		t.Errorf("expected batch sessions to be removed, %d left", n)
	}
}

func TestBatchKeyName(t *testing.T) {
	fake := remotetest.New()
	t.Cleanup(fake.Close)
	fake.OCRText = "Código: 12345"
	fake.Students["12345"] = model.Student{Name: "Joana", Class: "8b"}
	fake.Answers = []string{"A", "B", "C", "D"}
	fake.KeyNames = []string{"Recuperação"}

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gabarito.db")
	db, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	archived := model.OfficialAnswerKey{
		Config:  model.AnswerKeyConfig{Name: "Simulado 1", QuestionCount: 4, AlternativeCount: 4, TotalScore: 10},
		Answers: []string{"A", "B", "C", "D"},
	}
	if _, err := db.UpsertAnswerKey(archived); err != nil {
		t.Fatalf("UpsertAnswerKey: %v", err)
	}
	db.Close()

	sheets := filepath.Join(dir, "folhas")
	if err := os.Mkdir(sheets, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sheets, "a.png", remotetest.PNG)

	tests := []struct {
		name      string
		keyName   string
		confirm   bool
		wantErr   string
		wantSaves int
	}{
		{"normalized duplicate", "simulado1", false, "Já existe um gabarito chamado", 0},
		{"duplicate of backend key", "RECUPERACAO", false, "Já existe um gabarito chamado", 0},
		{"near duplicate", "Simulad 1", false, "parecido", 0},
		{"variant needs confirmation", "Simulado 2", false, "--confirm-variant", 0},
		{"confirmed variant", "Simulado 2", true, "", 1},
		{"same key again", "Simulado 1", false, "", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyPath := writeFile(t, dir, "key.yaml", []byte("name: "+tt.keyName+"\nquestions: 4\nalternatives: 4\ntotal: 10\nanswers: [A, B, C, D]\n"))
			args := []string{"batch", "--key", keyPath, "--db", dbPath, "--save",
				"--backend-url", fake.BackendURL(), "--crop-url", fake.CropURL(), sheets}
			if tt.confirm {
				args = append(args, "--confirm-variant")
			}
			cmd := rootCmd()
			cmd.SetArgs(args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("batch: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if n := len(fake.SavedCorrections()); n != tt.wantSaves {
				t.Errorf("backend saves = %d, want %d", n, tt.wantSaves)
			}
		})
	}

	db, err = store.New(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer db.Close()
	names, err := db.AnswerKeyNames()
	if err != nil {
		t.Fatalf("AnswerKeyNames: %v", err)
	}
	if strings.Join(names, ",") != "Simulado 1,Simulado 2" {
		t.Errorf("archived keys = %v", names)
	}
}

func TestExtractCodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		input   string
		want    string
		wantErr error
	}{
		{"stdin", []string{"extract-code"}, "Aluno 2024\nCódigo: 4321", "4321\n", nil},
		{"strict rejects short code", []string{"extract-code", "--strict", "-"}, "Código: 4321", "", errNoCode},
		{"strict", []string{"extract-code", "--strict"}, "Código: 987654", "987654\n", nil},
		{"no code", []string{"extract-code"}, "sem número", "", errNoCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := rootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}
