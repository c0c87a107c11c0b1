package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pavelanni/gabarito/internal/model"
)

// OCRText runs the plain-text OCR endpoint and returns the recognized text.
func (c *Client) OCRText(ctx context.Context, f model.File) (string, error) {
	const endpoint = "ocr-text"
	resp, err := c.postFile(ctx, c.backendURL+"/ocr/azure-text", endpoint, f)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(resp, endpoint, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// OCRStructured runs the layout-aware OCR endpoint and returns its full text.
func (c *Client) OCRStructured(ctx context.Context, f model.File) (string, error) {
	const endpoint = "ocr-structured"
	resp, err := c.postFile(ctx, c.backendURL+"/ocr/azure-struct", endpoint, f)
	if err != nil {
		return "", err
	}
	var out struct {
		FullText string `json:"fullText"`
	}
	if err := decodeJSON(resp, endpoint, &out); err != nil {
		return "", err
	}
	return out.FullText, nil
}

// StudentByCode looks up a student. A 404 or a reply without a name matches
// ErrNotFound.
func (c *Client) StudentByCode(ctx context.Context, code string) (*model.Student, error) {
	const endpoint = "student-by-code"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backendURL+"/alunos/por-codigo/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	var st model.Student
	if err := decodeJSON(resp, endpoint, &st); err != nil {
		return nil, err
	}
	if strings.TrimSpace(st.Name) == "" {
		return nil, ErrNotFound
	}
	return &st, nil
}

// KeyNames returns the answer-key names already stored by the backend.
func (c *Client) KeyNames(ctx context.Context) ([]string, error) {
	const endpoint = "key-names"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backendURL+"/gabaritos/nome-unicos", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := decodeJSON(resp, endpoint, &names); err != nil {
		return nil, err
	}
	return names, nil
}

type successReply struct {
	Success bool `json:"success"`
}

// SaveCorrection stores a corrected answer sheet with its source image.
func (c *Client) SaveCorrection(ctx context.Context, sub model.CorrectionSubmission) error {
	const endpoint = "save-correction"
	fields := []formField{
		{"codigo", sub.Student.Code},
		{"nome", sub.Student.Name},
		{"turma", sub.Student.Class},
		{"resultado", sub.Result},
		{"nome_gabarito", sub.KeyName},
	}
	if len(sub.OfficialAnswers) > 0 {
		fields = append(fields, formField{"gabarito_oficial", strings.Join(sub.OfficialAnswers, ",")})
	}
	return c.postForm(ctx, c.backendURL+"/gabaritos/salvar", endpoint, fields, sub.Image)
}

// SaveEssay stores a transcribed essay with its source image.
func (c *Client) SaveEssay(ctx context.Context, sub model.EssaySubmission) error {
	fields := []formField{
		{"codigo", sub.Student.Code},
		{"nome", sub.Student.Name},
		{"turma", sub.Student.Class},
		{"texto", sub.Text},
	}
	return c.postForm(ctx, c.backendURL+"/redacoes/salvar", "save-essay", fields, sub.Image)
}

func (c *Client) postForm(ctx context.Context, target, endpoint string, fields []formField, img model.File) error {
	body, ct, err := newMultipart(fields, "imagem", &img)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ct)
	resp, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	var out successReply
	if err := decodeJSON(resp, endpoint, &out); err != nil {
		return err
	}
	if !out.Success {
		return ErrRejected
	}
	return nil
}

type assessmentPayload struct {
	Situation   string `json:"situacao"`
	Competency1 string `json:"competencia_1"`
	Competency2 string `json:"competencia_2"`
	Competency3 string `json:"competencia_3"`
	Competency4 string `json:"competencia_4"`
	Code        string `json:"codigo"`
	Name        string `json:"nome"`
	Year        int    `json:"ano"`
	Number      int    `json:"numero"`
	Kind        string `json:"tipo"`
	Origin      string `json:"origem"`
	Reply       string `json:"texto_ia"`
}

// SaveAssessment posts an LLM essay correction to the backend.
func (c *Client) SaveAssessment(ctx context.Context, a model.EssayAssessment) error {
	resp, err := c.postJSON(ctx, c.backendURL+"/correcoes_openai", "save-assessment", assessmentPayload{
		Situation:   a.Situation,
		Competency1: a.Competencies[0],
		Competency2: a.Competencies[1],
		Competency3: a.Competencies[2],
		Competency4: a.Competencies[3],
		Code:        a.Code,
		Name:        a.Name,
		Year:        a.Year,
		Number:      a.Number,
		Kind:        a.Kind,
		Origin:      a.Origin,
		Reply:       a.Reply,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
