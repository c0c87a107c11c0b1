package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/gabarito/internal/essay"
	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/handler"
	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/llm"
	"github.com/pavelanni/gabarito/internal/llm/prompts"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/remote"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gabarito",
		Short: "Answer sheet and essay grading service",
	}

	serve := serveCmd()
	root.AddCommand(serve, extractCodeCmd(), batchCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gabarito --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addServiceFlags registers the locations of the external services.
func addServiceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-url", remote.DefaultBackendURL, "School backend API base URL")
	f.String("crop-url", remote.DefaultCropURL, "Answer sheet crop service URL")
	f.Duration("http-timeout", remote.DefaultTimeout, "Timeout of each call to the external services")
	f.StringP("lang", "l", appI18n.DefaultLang, "Service language (pt, en)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "gabarito.db", "SQLite database path")
	addServiceFlags(cmd)
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "", "LLM model name for essay correction (empty disables it)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Essay prompt variant (strict, standard, lenient)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /escola)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set GABARITO_ADMIN_PASSWORD)")
	f.Duration("session-idle", 2*time.Hour, "Remove grading sessions idle for longer than this")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived corrections and essay assessments as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "gabarito.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func extractCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract-code [file|-]",
		Short: "Print the student code found in an OCR text",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExtractCode,
	}
	cmd.Flags().Bool("strict", false, "Accept only codes of 5 to 10 digits, as answer sheets do")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GABARITO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gabarito")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gabarito")
	v.AddConfigPath("/etc/gabarito")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// remoteClient builds the external service client from the command flags.
func remoteClient(v *viper.Viper) *remote.Client {
	return remote.New(remote.Config{
		BackendURL: v.GetString("backend-url"),
		CropURL:    v.GetString("crop-url"),
		Timeout:    v.GetDuration("http-timeout"),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	labels := session.Labeler(appI18n.Labeler(lang))

	// Create LLM client. Essay correction is off without a model.
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	var corrector essay.Corrector
	if modelName := v.GetString("llm-model"); modelName != "" {
		set, err := prompts.Default()
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), modelName, set, prompts.PromptVariant(promptVariant))
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := llmClient.Ping(pingCtx); err != nil {
			slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "model", modelName, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", modelName)
		}
		cancel()
		corrector = llmClient
	} else {
		slog.Warn("no llm-model configured, essay correction disabled")
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	client := remoteClient(v)
	mgr := session.NewManager(client, session.Options{Archive: db, Labels: labels})
	essays := essay.NewService(client, corrector, essay.Options{Archive: db, Labels: labels})

	cfg := model.ServiceConfig{
		BackendURL:    v.GetString("backend-url"),
		CropURL:       v.GetString("crop-url"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant,
	}
	h, err := handler.New(db, mgr, essays, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go mgr.RunSweeper(ctx, v.GetDuration("session-idle"))
	go cleanupAuthSessions(ctx, db, time.Hour)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"backend_url", cfg.BackendURL,
		"crop_url", cfg.CropURL,
		"model", v.GetString("llm-model"),
		"prompt_variant", promptVariant,
		"lang", lang,
		"base_path", basePath,
		"session_idle", v.GetDuration("session-idle"),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// cleanupAuthSessions drops expired operator logins until ctx is done.
func cleanupAuthSessions(ctx context.Context, db *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := db.CleanupExpiredSessions()
			if err != nil {
				slog.Error("failed to clean up auth sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired auth sessions removed", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.Export()
	if err != nil {
		return fmt.Errorf("export archive: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("archive exported", "corrections", len(export.Corrections), "assessments", len(export.Assessments))
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

var errNoCode = errors.New("no student code found")

func runExtractCode(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read text: %w", err)
	}

	extract := grading.ExtractCode
	if v.GetBool("strict") {
		extract = grading.ExtractCodeStrict
	}
	code, ok := extract(string(data))
	if !ok {
		cmd.SilenceUsage = true
		return errNoCode
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or GABARITO_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrador",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
