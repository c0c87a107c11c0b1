package handler

import (
	"net/http"

	"github.com/pavelanni/gabarito/internal/essay"
	"github.com/pavelanni/gabarito/internal/model"
	"github.com/pavelanni/gabarito/internal/session"
)

// noticesResponse is the reply of essay actions without a payload.
type noticesResponse struct {
	Notices []session.Notice `json:"notices"`
}

func studentFromForm(r *http.Request) model.StudentDisplay {
	return model.StudentDisplay{
		Code:  r.FormValue("codigo"),
		Name:  r.FormValue("nome"),
		Class: r.FormValue("turma"),
	}
}

func (h *Handler) handleEssayExtract(w http.ResponseWriter, r *http.Request) {
	f, err := readUpload(w, r, "file")
	if err != nil {
		writeUploadError(w, r, err)
		return
	}
	ex, err := h.essays.Extract(r.Context(), f)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	ex.Notices = localize(r, ex.Notices)
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) handleEssayGrade(w http.ResponseWriter, r *http.Request) {
	graded, err := h.essays.Grade(r.Context(), essay.GradeRequest{
		Student:   studentFromForm(r),
		Text:      r.FormValue("texto"),
		Criterion: r.FormValue("criterio"),
	})
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	graded.Notices = localize(r, graded.Notices)
	writeJSON(w, http.StatusOK, graded)
}

func (h *Handler) handleEssaySave(w http.ResponseWriter, r *http.Request) {
	img, err := readUpload(w, r, "file")
	if err != nil {
		writeUploadError(w, r, err)
		return
	}
	sub := model.EssaySubmission{
		Student: studentFromForm(r),
		Text:    r.FormValue("texto"),
		Image:   img,
	}
	if err := h.essays.Save(r.Context(), sub); err != nil {
		writeActionError(w, r, err)
		return
	}
	notices := []session.Notice{{Level: session.LevelSuccess, ID: essay.MsgSaved}}
	writeJSON(w, http.StatusOK, noticesResponse{Notices: localize(r, notices)})
}
