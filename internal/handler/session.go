package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gabarito/internal/grading"
	"github.com/pavelanni/gabarito/internal/handler/views"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/session"
	"github.com/pavelanni/gabarito/internal/store"
)

// sessionResponse is the JSON view of a grading session.
type sessionResponse struct {
	session.Snapshot
	StateLabel string `json:"state_label"`
}

func (h *Handler) snapshot(r *http.Request, s *session.Session) session.Snapshot {
	snap := s.Snapshot()
	if snap.Notice != nil {
		snap.Notice.Text = localize(r, []session.Notice{*snap.Notice})[0].Text
	}
	return snap
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, status int, s *session.Session) {
	snap := h.snapshot(r, s)
	writeJSON(w, status, sessionResponse{Snapshot: snap, StateLabel: views.StateLabel(r.Context(), snap.State)})
}

// lookupSession returns the grading session named in the URL. Operators
// only see their own sessions; admins see all.
func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err == nil {
		u := model.UserFromContext(r.Context())
		if u == nil || (s.Operator != u.Username && u.Role != model.UserRoleAdmin) {
			err = session.ErrNotFound
		}
	}
	if err != nil {
		writeActionError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var key *model.OfficialAnswerKey
	if name := strings.TrimSpace(r.FormValue("key")); name != "" {
		k, err := h.store.GetAnswerKey(name)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, msgKeyNotFound, map[string]any{"Name": name})
			return
		}
		if err != nil {
			writeActionError(w, r, err)
			return
		}
		key = k
	}

	u := model.UserFromContext(r.Context())
	s := h.sessions.Create(u.Username)
	if key != nil {
		if err := s.LoadKey(*key); err != nil {
			h.sessions.Delete(s.ID)
			writeActionError(w, r, err)
			return
		}
	}
	if wantsHTML(r) {
		http.Redirect(w, r, h.path("/sessions/"+s.ID+"/view"), http.StatusSeeOther)
		return
	}
	h.writeSession(w, r, http.StatusCreated, s)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleSessionView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	snap := h.snapshot(r, s)
	if r.Header.Get("HX-Request") == "true" {
		renderHTML(w, r, http.StatusOK, views.SessionCard(snap))
		return
	}
	renderHTML(w, r, http.StatusOK, views.SessionPage(snap))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.sessions.Delete(s.ID)
	slog.Info("session deleted", "session", s.ID)
	w.WriteHeader(http.StatusNoContent)
}

// readUpload reads the multipart file field name.
func readUpload(w http.ResponseWriter, r *http.Request, name string) (model.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return model.File{}, session.ErrNoFile
		}
		return model.File{}, err
	}
	file, header, err := r.FormFile(name)
	if err != nil {
		return model.File{}, session.ErrNoFile
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return model.File{}, err
	}
	return model.File{Name: header.Filename, ContentType: header.Header.Get("Content-Type"), Data: data}, nil
}

// writeUploadError reports a multipart request that could not be read.
func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, msgFileTooLarge, nil)
		return
	}
	if errors.Is(err, session.ErrNoFile) {
		writeError(w, r, http.StatusBadRequest, session.MsgNoFile, nil)
		return
	}
	writeError(w, r, http.StatusBadRequest, session.MsgEmptyFile, nil)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	f, err := readUpload(w, r, "file")
	if err != nil {
		writeUploadError(w, r, err)
		return
	}
	if err := s.Upload(r.Context(), f); err != nil {
		writeActionError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleOpenKey(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	s.OpenKeyWizard(r.FormValue("edit") == "true")
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleKeyConfig(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	raw := grading.RawKeyConfig{
		Name:         r.FormValue("nome_gabarito"),
		Questions:    r.FormValue("num_questoes"),
		Alternatives: r.FormValue("num_alternativas"),
		TotalScore:   r.FormValue("nota_total"),
	}
	if _, err := s.SubmitKeyConfig(r.Context(), raw, r.FormValue("confirm") == "true"); err != nil {
		writeActionError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

// handleKeyMarking takes the marking grid as repeated mark fields, one per
// question in order; unmarked questions are sent empty.
func (h *Handler) handleKeyMarking(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, r, http.StatusBadRequest, session.MsgUnexpected, nil)
		return
	}
	if err := s.SubmitMarking(r.Form["mark"]); err != nil {
		writeActionError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleCloseKey(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	s.CloseWizard()
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.Correct(r.Context()); err != nil {
		writeActionError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeActionError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}
