package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gabarito/internal/essay"
	"github.com/pavelanni/gabarito/internal/handler/views"
	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/store"
)

// maxUploadBytes bounds multipart request bodies.
const maxUploadBytes = 20 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	sessions *session.Manager
	essays   *essay.Service
	config   model.ServiceConfig
}

// New creates a new Handler.
func New(s *store.Store, m *session.Manager, e *essay.Service, cfg model.ServiceConfig) (*Handler, error) {
	if s == nil || m == nil || e == nil {
		return nil, errors.New("handler: store, session manager and essay service are required")
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	return &Handler{store: s, sessions: m, essays: e, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleIndex)
			r.Post("/logout", h.handleLogout)

			r.Post("/sessions", h.handleCreateSession)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", h.handleGetSession)
				r.Delete("/", h.handleDeleteSession)
				r.Get("/view", h.handleSessionView)
				r.Post("/file", h.handleUpload)
				r.Post("/key/open", h.handleOpenKey)
				r.Post("/key/config", h.handleKeyConfig)
				r.Post("/key/marking", h.handleKeyMarking)
				r.Post("/key/close", h.handleCloseKey)
				r.Post("/correct", h.handleCorrect)
				r.Post("/save", h.handleSave)
			})

			r.Post("/essays/extract", h.handleEssayExtract)
			r.Post("/essays/grade", h.handleEssayGrade)
			r.Post("/essays/save", h.handleEssaySave)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleAdminUsersPage)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
				r.Post("/users/{userID}/password", h.handleResetPassword)
				r.Get("/corrections", h.handleListCorrections)
				r.Get("/corrections/{correctionID}", h.handleGetCorrection)
				r.Get("/export", h.handleExport)
			})
		})
	})
}

// BasePathMiddleware makes the base path available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.config.BasePath + "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	corrections, err := h.store.CorrectionCount()
	if err != nil {
		slog.Error("archive unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    h.sessions.Len(),
		"corrections": corrections,
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.AnswerKeyNames()
	if err != nil {
		slog.Error("failed to list answer keys", "error", err)
	}
	renderHTML(w, r, http.StatusOK, views.IndexPage(h.sessions.Len(), names))
}

// wantsHTML reports whether the client is a browser rather than an API
// client.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func renderHTML(w http.ResponseWriter, r *http.Request, code int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
}

// Message IDs of handler-level failures.
const (
	msgLoginRequired = "LoginRequired"
	msgForbidden     = "Forbidden"
	msgCSRFInvalid   = "CSRFInvalid"
	msgKeyNotFound   = "KeyNotFound"
	msgFileTooLarge  = "FileTooLarge"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	writeJSON(w, status, errorResponse{Error: msgID, Message: appI18n.Td(r.Context(), msgID, data)})
}

// errorStatus maps an action error to its HTTP status.
func errorStatus(err error) int {
	var ve *session.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, essay.ErrGradeFailed), errors.Is(err, essay.ErrSaveFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrWizardOpen),
		errors.Is(err, session.ErrWizardStep),
		errors.Is(err, session.ErrNoFile),
		errors.Is(err, session.ErrKeyNotConfigured),
		errors.Is(err, session.ErrNothingToSave):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorMessageID(err error) string {
	switch {
	case errors.Is(err, essay.ErrGradeFailed):
		return essay.MsgGradeFailed
	case errors.Is(err, essay.ErrSaveFailed):
		return essay.MsgSaveFailed
	}
	return session.MessageID(err)
}

// writeActionError reports a refused or failed action.
func writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	id := errorMessageID(err)
	resp := errorResponse{Error: id, Message: appI18n.Td(r.Context(), id, session.MessageData(err))}
	var ve *session.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Confirm = ve.Confirm
	}
	writeJSON(w, status, resp)
}

// localize fills in the text of notices for the request's language.
func localize(r *http.Request, notices []session.Notice) []session.Notice {
	for i := range notices {
		notices[i].Text = appI18n.Td(r.Context(), notices[i].ID, notices[i].Data)
	}
	return notices
}
