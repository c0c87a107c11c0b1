// Package remote holds the typed clients for the external services the
// grading workflow depends on: the school backend (OCR proxy, students,
// answer keys, essays) and the answer-sheet crop service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/pavelanni/gabarito/internal/model"
)

// Default service locations.
const (
	DefaultBackendURL = "http://localhost:3000/api"
	DefaultCropURL    = "http://localhost:8500"
	DefaultTimeout    = 60 * time.Second
)

// ErrNotFound is matched by a 404 StatusError and by empty lookup replies.
var ErrNotFound = errors.New("not found")

// ErrRejected is returned when the backend answers a save with success=false.
var ErrRejected = errors.New("backend rejected the request")

// StatusError reports a non-2xx reply.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Is makes a 404 reply match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Config locates the external services.
type Config struct {
	BackendURL string
	CropURL    string
	Timeout    time.Duration
}

// Client talks to the backend and the crop service.
type Client struct {
	backendURL string
	cropURL    string
	httpc      *http.Client
}

// New creates a client; empty fields fall back to the defaults.
func New(cfg Config) *Client {
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	if cfg.CropURL == "" {
		cfg.CropURL = DefaultCropURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		backendURL: strings.TrimRight(cfg.BackendURL, "/"),
		cropURL:    strings.TrimRight(cfg.CropURL, "/"),
		httpc:      &http.Client{Timeout: cfg.Timeout},
	}
}

// formField is one text part of a multipart request.
type formField struct {
	name, value string
}

// newMultipart encodes the text fields followed by the file part, if any.
func newMultipart(fields []formField, fileField string, f *model.File) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", err
		}
	}
	if f != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, fileName(f)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fileName(f *model.File) string {
	if f.Name != "" {
		return f.Name
	}
	return "upload"
}

// postFile sends f as the "file" part, the convention of every OCR and crop
// endpoint.
func (c *Client) postFile(ctx context.Context, url, endpoint string, f model.File) (*http.Response, error) {
	body, ct, err := newMultipart(nil, "file", &f)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", ct)
	return c.do(req, endpoint)
}

func (c *Client) postJSON(ctx context.Context, url, endpoint string, v any) (*http.Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint)
}

// do executes req and converts non-2xx replies into a *StatusError. The
// caller closes the body of a successful response.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	slog.Debug("remote call", "endpoint", endpoint, "status", resp.StatusCode, "elapsed", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, endpoint string, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	return nil
}
