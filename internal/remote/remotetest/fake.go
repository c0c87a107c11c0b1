// Package remotetest provides an in-process fake of the backend and crop
// services for tests.
package remotetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gabarito/internal/model"
)

// SavedForm is a multipart save request as received by the fake.
type SavedForm struct {
	Fields    map[string]string
	FileName  string
	FileType  string
	FileBytes int
}

// Fake serves both the backend routes (under /api) and the crop routes.
// Zero status fields mean 200. Configure it before issuing requests or
// through Set.
type Fake struct {
	mu sync.Mutex

	OCRText        string
	OCRTextStatus  int
	FullText       string
	FullTextStatus int

	Students      map[string]model.Student
	StudentStatus int

	KeyNames       []string
	KeyNamesStatus int

	CropImage  []byte
	CropStatus int

	Answers      []string
	AnswerText   string
	BubbleStatus int

	SaveFailed       bool
	SaveStatus       int
	AssessmentStatus int

	// OCRGate and CropGate, when set, block their handler until it receives.
	OCRGate  chan struct{}
	CropGate chan struct{}

	Corrections []SavedForm
	Essays      []SavedForm
	Assessments []map[string]any
	Calls       map[string]int

	server *httptest.Server
}

// PNG is a 1x1 transparent PNG used as a default crop image.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0b, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x60, 0x00, 0x02, 0x00,
	0x00, 0x05, 0x00, 0x01, 0x7a, 0x5e, 0xab, 0x3f, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// New starts a fake server.
func New() *Fake {
	f := &Fake{
		Students:  map[string]model.Student{},
		CropImage: PNG,
		Calls:     map[string]int{},
	}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/ocr/azure-text", f.handleOCRText)
		r.Post("/ocr/azure-struct", f.handleOCRStruct)
		r.Get("/alunos/por-codigo/{codigo}", f.handleStudent)
		r.Get("/gabaritos/nome-unicos", f.handleKeyNames)
		r.Post("/gabaritos/salvar", f.handleSave("correction"))
		r.Post("/redacoes/salvar", f.handleSave("essay"))
		r.Post("/correcoes_openai", f.handleAssessment)
	})
	r.Post("/crop-gabarito", f.handleCrop)
	r.Post("/corrigir-bolhas", f.handleBubbles)
	f.server = httptest.NewServer(r)
	return f
}

// BackendURL is the base URL of the fake backend API.
func (f *Fake) BackendURL() string { return f.server.URL + "/api" }

// CropURL is the base URL of the fake crop service.
func (f *Fake) CropURL() string { return f.server.URL }

// Close stops the server.
func (f *Fake) Close() { f.server.Close() }

// Set mutates the fake under its lock.
func (f *Fake) Set(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// CallCount returns how many times the named route was hit.
func (f *Fake) CallCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[route]
}

// SavedCorrections returns a copy of the received save-correction forms.
func (f *Fake) SavedCorrections() []SavedForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SavedForm(nil), f.Corrections...)
}

// SavedEssays returns a copy of the received save-essay forms.
func (f *Fake) SavedEssays() []SavedForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SavedForm(nil), f.Essays...)
}

// SavedAssessments returns a copy of the received essay assessments.
func (f *Fake) SavedAssessments() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.Assessments...)
}

func (f *Fake) hit(route string) {
	f.mu.Lock()
	f.Calls[route]++
	f.mu.Unlock()
}

func status(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func requireFile(w http.ResponseWriter, r *http.Request) bool {
	if _, _, err := r.FormFile("file"); err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return false
	}
	return true
}

func (f *Fake) handleOCRText(w http.ResponseWriter, r *http.Request) {
	f.hit("ocr-text")
	if !requireFile(w, r) {
		return
	}
	f.mu.Lock()
	gate := f.OCRGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	code, text := status(f.OCRTextStatus), f.OCRText
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "ocr failure", code)
		return
	}
	writeJSON(w, code, map[string]string{"text": text})
}

func (f *Fake) handleOCRStruct(w http.ResponseWriter, r *http.Request) {
	f.hit("ocr-structured")
	if !requireFile(w, r) {
		return
	}
	f.mu.Lock()
	code, text := status(f.FullTextStatus), f.FullText
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "ocr failure", code)
		return
	}
	writeJSON(w, code, map[string]string{"fullText": text})
}

func (f *Fake) handleStudent(w http.ResponseWriter, r *http.Request) {
	f.hit("student")
	f.mu.Lock()
	code := status(f.StudentStatus)
	st, ok := f.Students[chi.URLParam(r, "codigo")]
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "backend failure", code)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Aluno não encontrado"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (f *Fake) handleKeyNames(w http.ResponseWriter, r *http.Request) {
	f.hit("key-names")
	f.mu.Lock()
	code, names := status(f.KeyNamesStatus), append([]string{}, f.KeyNames...)
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "backend failure", code)
		return
	}
	writeJSON(w, code, names)
}

func (f *Fake) handleSave(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.hit("save-" + kind)
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := SavedForm{Fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			form.Fields[k] = v[0]
		}
		if file, hdr, err := r.FormFile("imagem"); err == nil {
			data, _ := io.ReadAll(file)
			file.Close()
			form.FileName = hdr.Filename
			form.FileType = hdr.Header.Get("Content-Type")
			form.FileBytes = len(data)
		}

		f.mu.Lock()
		code, failed := status(f.SaveStatus), f.SaveFailed
		if code == http.StatusOK && !failed {
			if kind == "essay" {
				f.Essays = append(f.Essays, form)
			} else {
				f.Corrections = append(f.Corrections, form)
			}
		}
		f.mu.Unlock()
		if code != http.StatusOK {
			http.Error(w, "save failure", code)
			return
		}
		writeJSON(w, code, map[string]bool{"success": !failed})
	}
}

func (f *Fake) handleAssessment(w http.ResponseWriter, r *http.Request) {
	f.hit("save-assessment")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	code := status(f.AssessmentStatus)
	if code == http.StatusOK {
		f.Assessments = append(f.Assessments, body)
	}
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "save failure", code)
		return
	}
	writeJSON(w, code, map[string]bool{"success": true})
}

func (f *Fake) handleCrop(w http.ResponseWriter, r *http.Request) {
	f.hit("crop")
	if !requireFile(w, r) {
		return
	}
	f.mu.Lock()
	gate := f.CropGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	code, img := status(f.CropStatus), f.CropImage
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "crop failure", code)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}

func (f *Fake) handleBubbles(w http.ResponseWriter, r *http.Request) {
	f.hit("crop-ocr")
	if !requireFile(w, r) {
		return
	}
	f.mu.Lock()
	code, answers, text := status(f.BubbleStatus), f.Answers, f.AnswerText
	f.mu.Unlock()
	if code != http.StatusOK {
		http.Error(w, "ocr failure", code)
		return
	}
	if answers == nil {
		writeJSON(w, code, map[string]string{"text": text})
		return
	}
	writeJSON(w, code, map[string][]string{"respostas": answers})
}
