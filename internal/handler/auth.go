package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/gabarito/internal/handler/views"
	appI18n "github.com/pavelanni/gabarito/internal/i18n"
	"github.com/pavelanni/gabarito/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfFieldName     = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// issueCSRFToken sets a fresh token as cookie and response header.
func (h *Handler) issueCSRFToken(w http.ResponseWriter) (string, error) {
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(csrfHeaderName, token)
	return token, nil
}

// csrfToken returns the request with the browser's CSRF token in its
// context, issuing one when the browser has none yet. The token is shared
// by every tab of the browser and only changes on login and logout.
func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	var token string
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		token = cookie.Value
		w.Header().Set(csrfHeaderName, token)
	} else {
		if token, err = h.issueCSRFToken(w); err != nil {
			slog.Error("failed to generate CSRF token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return nil, false
		}
	}
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

// csrfMiddleware implements the double-submit check: mutating requests must
// echo the csrf_token cookie in the X-CSRF-Token header or the csrf_token
// form field.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				slog.Warn("CSRF cookie missing", "path", r.URL.Path)
				writeError(w, r, http.StatusForbidden, msgCSRFInvalid, nil)
				return
			}

			token := r.Header.Get(csrfHeaderName)
			if token == "" {
				token = r.FormValue(csrfFieldName)
			}
			if token == "" {
				slog.Warn("CSRF token missing", "path", r.URL.Path)
				writeError(w, r, http.StatusForbidden, msgCSRFInvalid, nil)
				return
			}

			if len(token) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
				slog.Warn("CSRF token mismatch", "path", r.URL.Path)
				writeError(w, r, http.StatusForbidden, msgCSRFInvalid, nil)
				return
			}
		}

		r, ok := h.csrfToken(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			h.redirectToLogin(w, r)
			return
		}

		authSess, err := h.store.GetAuthSession(cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			h.redirectToLogin(w, r)
			return
		}
		if authSess == nil {
			h.redirectToLogin(w, r)
			return
		}

		user, err := h.store.GetUserByID(authSess.UserID)
		if err != nil || user == nil || !user.Active {
			h.redirectToLogin(w, r)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, http.StatusUnauthorized, msgLoginRequired, nil)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, msgForbidden, nil)
		})
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginPath := h.path("/login")
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", loginPath)
		w.WriteHeader(http.StatusUnauthorized)
	case wantsHTML(r):
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
	default:
		writeError(w, r, http.StatusUnauthorized, msgLoginRequired, nil)
	}
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, r, http.StatusOK, views.LoginPage(""))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := h.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		h.renderLoginError(w, r)
		return
	}
	if user == nil || !user.Active {
		h.renderLoginError(w, r)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Info("login failed", "username", user.Username)
		h.renderLoginError(w, r)
		return
	}

	token, err := h.store.CreateAuthSession(user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	if _, err := h.issueCSRFToken(w); err != nil {
		slog.Error("failed to rotate CSRF token", "error", err)
	}
	slog.Info("operator logged in", "username", user.Username)
	if wantsHTML(r) {
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	if _, err := h.issueCSRFToken(w); err != nil {
		slog.Error("failed to rotate CSRF token", "error", err)
	}
	if wantsHTML(r) {
		http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request) {
	if !wantsHTML(r) {
		writeError(w, r, http.StatusUnauthorized, "InvalidCredentials", nil)
		return
	}
	renderHTML(w, r, http.StatusUnauthorized, views.LoginPage(appI18n.T(r.Context(), "InvalidCredentials")))
}
