package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gabarito/internal/handler/views"
	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/store"
)

func (h *Handler) renderUsers(w http.ResponseWriter, r *http.Request, status int, msg string) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !wantsHTML(r) {
		if users == nil {
			users = []model.User{}
		}
		writeJSON(w, status, users)
		return
	}
	renderHTML(w, r, status, views.AdminUsersPage(users, msg))
}

// adminResult reports the outcome of an admin form: the refreshed user list
// for browsers, a message for API clients on failure.
func (h *Handler) adminResult(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	if status >= http.StatusBadRequest && !wantsHTML(r) {
		writeError(w, r, status, msgID, data)
		return
	}
	h.renderUsers(w, r, status, appI18n.Td(r.Context(), msgID, data))
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	h.renderUsers(w, r, http.StatusOK, "")
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if username == "" || password == "" {
		h.adminResult(w, r, http.StatusBadRequest, "UserFieldsRequired", nil)
		return
	}
	if role != model.UserRoleAdmin {
		role = model.UserRoleTeacher
	}
	data := map[string]any{"Username": username}

	existing, err := h.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		h.adminResult(w, r, http.StatusConflict, "UserExists", data)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if displayName == "" {
		displayName = username
	}

	_, err = h.store.CreateUser(model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		http.Error(w, "failed to create user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.adminResult(w, r, http.StatusCreated, "UserCreated", data)
}

// targetUser loads the operator named in the URL.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		h.adminResult(w, r, http.StatusNotFound, "UserNotFound", nil)
		return nil, false
	}
	u, err := h.store.GetUserByID(id)
	if err != nil {
		slog.Error("failed to get user", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if u == nil {
		h.adminResult(w, r, http.StatusNotFound, "UserNotFound", nil)
		return nil, false
	}
	return u, true
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	u, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	if self := model.UserFromContext(r.Context()); self != nil && self.ID == u.ID {
		h.adminResult(w, r, http.StatusConflict, "CannotDisableSelf", nil)
		return
	}

	if err := h.store.SetUserActive(u.ID, !u.Active); err != nil {
		slog.Error("failed to toggle user active", "id", u.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("operator toggled", "username", u.Username, "active", !u.Active)
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	u, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	password := r.FormValue("password")
	if password == "" {
		h.adminResult(w, r, http.StatusBadRequest, "UserFieldsRequired", nil)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.store.SetPasswordHash(u.ID, string(hash)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.adminResult(w, r, http.StatusNotFound, "UserNotFound", nil)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("operator password changed", "username", u.Username)
	h.adminResult(w, r, http.StatusOK, "PasswordChanged", map[string]any{"Username": u.Username})
}

func (h *Handler) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListCorrections(strings.TrimSpace(r.URL.Query().Get("codigo")))
	if err != nil {
		slog.Error("failed to list corrections", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.CorrectionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetCorrection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "correctionID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "CorrectionNotFound", nil)
		return
	}
	rec, err := h.store.GetCorrection(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "CorrectionNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to get correction", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.Export()
	if err != nil {
		slog.Error("failed to export archive", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	name := "gabarito-" + time.Now().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	writeJSON(w, http.StatusOK, export)
}
