package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gabarito/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

func fakeOpenAI(t *testing.T, reply string, got *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/chat/completions", func(w http.ResponseWriter, req *http.Request) {
		if err := json.NewDecoder(req.Body).Decode(got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
	})
	r.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ModelsList{Models: []openai.Model{{ID: "test-model"}}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string, variant prompts.PromptVariant) *Client {
	t.Helper()
	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts.Default: %v", err)
	}
	return New(url, "test-key", "test-model", set, variant)
}

func TestCorrectEssay(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeOpenAI(t, "  Situação da Correção: A\nCompetência I: B - ok\n", &req)
	c := newTestClient(t, srv.URL, prompts.PromptStrict)

	reply, err := c.CorrectEssay(context.Background(), "Minha redação.", "Tema: água")
	if err != nil {
		t.Fatalf("CorrectEssay: %v", err)
	}
	if reply != "Situação da Correção: A\nCompetência I: B - ok" {
		t.Errorf("reply = %q", reply)
	}

	if req.Model != "test-model" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature != 0.1 {
		t.Errorf("temperature = %v, want strict 0.1", req.Temperature)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(req.Messages[0].Content, "Tema: água") {
		t.Errorf("system prompt missing criterion: %q", req.Messages[0].Content)
	}
	if req.Messages[1].Content != "<redacao>\nMinha redação.\n</redacao>" {
		t.Errorf("user message = %q", req.Messages[1].Content)
	}
}

func TestCorrectEssayEmptyReply(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeOpenAI(t, "   ", &req)
	c := newTestClient(t, srv.URL, "")

	_, err := c.CorrectEssay(context.Background(), "texto", "critério")
	if !errors.Is(err, ErrEmptyReply) {
		t.Errorf("expected ErrEmptyReply, got %v", err)
	}
	if req.Temperature != 0.3 {
		t.Errorf("default variant temperature = %v", req.Temperature)
	}
}

func TestCorrectEssayAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, prompts.PromptStandard)

	if _, err := c.CorrectEssay(context.Background(), "texto", "critério"); err == nil {
		t.Error("expected an error from a failing API")
	}
}

func TestPing(t *testing.T) {
	srv := fakeOpenAI(t, "", &openai.ChatCompletionRequest{})
	if err := newTestClient(t, srv.URL, "").Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	set, _ := prompts.Default()
	other := New(srv.URL, "test-key", "other-model", set, "")
	if err := other.Ping(context.Background()); err == nil {
		t.Error("expected an error for a model the endpoint does not offer")
	}
}
