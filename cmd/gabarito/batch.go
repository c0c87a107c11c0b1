package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/gabarito/internal/grading"
	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/store"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch --key key.yaml <dir>",
		Short: "Grade every answer sheet in a directory against one key",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	f := cmd.Flags()
	f.String("key", "", "Answer key file (YAML)")
	f.String("db", "gabarito.db", "SQLite database path")
	f.Int("concurrency", 4, "Sheets graded at the same time")
	f.Bool("save", false, "Save each correction to the backend and the archive")
	f.Bool("confirm-variant", false, "Accept a key name that is a numbered variant of an existing key")
	addServiceFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// keyFile is the YAML form of an official answer key:
//
//	name: Prova 1
//	questions: 4
//	alternatives: 5
//	total: 10
//	answers: [A, C, E, B]
type keyFile struct {
	model.AnswerKeyConfig `yaml:",inline"`
	Answers               []string `yaml:"answers"`
}

func loadKeyFile(path string) (model.OfficialAnswerKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.OfficialAnswerKey{}, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return model.OfficialAnswerKey{}, fmt.Errorf("parse key file %s: %w", path, err)
	}
	key := model.OfficialAnswerKey{Config: kf.AnswerKeyConfig, Answers: kf.Answers}
	if err := grading.ValidateKeyConfig(key.Config); err != nil {
		return key, fmt.Errorf("key file %s: %w", path, err)
	}
	if key.Answers, err = grading.ValidateMarking(key.Config, key.Answers); err != nil {
		return key, fmt.Errorf("key file %s: %w", path, err)
	}
	return key, nil
}

// keyNameSource lists answer-key names already in use.
type keyNameSource interface {
	KeyNames(ctx context.Context) ([]string, error)
}

type keyArchive interface {
	AnswerKeyNames() ([]string, error)
}

// checkKeyName applies the key-name rules to a key about to be archived and
// sent with corrections. A key already known under exactly the same name is
// that key and passes. A backend failure degrades to the archive.
func checkKeyName(ctx context.Context, backend keyNameSource, archive keyArchive, name string, confirmed bool) error {
	var existing []string
	names, err := backend.KeyNames(ctx)
	if err != nil {
		slog.Warn("backend key names unavailable", "error", err)
	}
	existing = append(existing, names...)
	archived, err := archive.AnswerKeyNames()
	if err != nil {
		return fmt.Errorf("list archived keys: %w", err)
	}
	existing = append(existing, archived...)

	for _, n := range existing {
		if n == name {
			return nil
		}
	}

	d := grading.ValidateKeyName(name, existing, confirmed)
	switch d.Outcome {
	case grading.Accept:
		return nil
	case grading.ConfirmVariant:
		return fmt.Errorf("%s (--confirm-variant)", appI18n.Td(ctx, d.MessageID(), d.TemplateData()))
	default:
		return errors.New(appI18n.Td(ctx, d.MessageID(), d.TemplateData()))
	}
}

var sheetTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// sheetFiles lists the gradable files of dir in name order.
func sheetFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := sheetTypes[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// batchLine is the outcome of grading one file.
type batchLine struct {
	file  string
	snap  session.Snapshot
	err   error
	saved bool
}

func (l batchLine) String() string {
	ctx := context.Background()
	name := filepath.Base(l.file)
	if l.err != nil {
		msg := l.err.Error()
		if id := session.MessageID(l.err); id != session.MsgUnexpected {
			msg = appI18n.Td(ctx, id, session.MessageData(l.err))
		}
		return fmt.Sprintf("%s\terror\t%s", name, msg)
	}
	s := l.snap
	cols := []string{name, s.Student.Code, s.Student.Name, s.Student.Class}
	if s.Result != nil {
		cols = append(cols,
			fmt.Sprintf("%d/%d", s.Result.RawScore, len(s.Result.PerQuestion)),
			grading.DecimalComma(s.Result.ProportionalScore))
	} else {
		cols = append(cols, "-", "-")
	}
	cols = append(cols, string(s.State))
	if s.Notice != nil {
		cols = append(cols, appI18n.Td(ctx, s.Notice.ID, s.Notice.Data))
	}
	return strings.Join(cols, "\t")
}

func runBatch(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	key, err := loadKeyFile(v.GetString("key"))
	if err != nil {
		return err
	}
	paths, err := sheetFiles(args[0])
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no PDF, JPEG or PNG files in %s", args[0])
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := remoteClient(v)
	if err := checkKeyName(cmd.Context(), client, db, key.Config.Name, v.GetBool("confirm-variant")); err != nil {
		cmd.SilenceUsage = true
		return fmt.Errorf("key %q: %w", key.Config.Name, err)
	}
	if _, err := db.UpsertAnswerKey(key); err != nil {
		return fmt.Errorf("archive key: %w", err)
	}

	mgr := session.NewManager(client, session.Options{Archive: db, Labels: appI18n.Labeler(lang)})
	lines := gradeAll(cmd.Context(), mgr, key, paths, v.GetInt("concurrency"), v.GetBool("save"))

	out := cmd.OutOrStdout()
	failed := 0
	for _, l := range lines {
		if l.err != nil || l.snap.Result == nil || (v.GetBool("save") && !l.saved) {
			failed++
		}
		fmt.Fprintln(out, l)
	}
	slog.Info("batch finished", "files", len(lines), "failed", failed)
	if failed > 0 {
		cmd.SilenceUsage = true
		return fmt.Errorf("%d of %d sheets not graded", failed, len(lines))
	}
	return nil
}

// gradeAll grades each file in its own session, at most limit at a time.
// Per-file failures are reported in the returned lines.
func gradeAll(ctx context.Context, mgr *session.Manager, key model.OfficialAnswerKey, paths []string, limit int, save bool) []batchLine {
	lines := make([]batchLine, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, path := range paths {
		g.Go(func() error {
			lines[i] = gradeFile(ctx, mgr, key, path, save)
			return nil
		})
	}
	_ = g.Wait()
	return lines
}

func gradeFile(ctx context.Context, mgr *session.Manager, key model.OfficialAnswerKey, path string, save bool) batchLine {
	line := batchLine{file: path}
	s := mgr.Create("batch")
	defer mgr.Delete(s.ID)

	data, err := os.ReadFile(path)
	if err != nil {
		line.err = err
		return line
	}
	f := model.File{Name: filepath.Base(path), ContentType: sheetTypes[strings.ToLower(filepath.Ext(path))], Data: data}

	if line.err = s.LoadKey(key); line.err != nil {
		return line
	}
	if line.err = s.Upload(ctx, f); line.err != nil {
		return line
	}
	if line.err = s.Correct(ctx); line.err != nil {
		return line
	}
	if save && s.State() == model.StateCorrected {
		if line.err = s.Save(ctx); line.err != nil {
			return line
		}
		line.saved = s.State() == model.StateSaved
	}
	line.snap = s.Snapshot()
	slog.Debug("sheet graded", "file", f.Name, "state", line.snap.State)
	return line
}
