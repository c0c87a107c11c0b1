package i18n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslatePortuguese(t *testing.T) {
	ctx := initLang(t, "pt")

	if got := T(ctx, "NoFile"); got != "Nenhum arquivo carregado." {
		t.Errorf("T(NoFile) = %q", got)
	}
	if got := T(ctx, "LabelStudentNotFound"); got != "NÃO ENCONTRADO" {
		t.Errorf("T(LabelStudentNotFound) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NoFile"); got != "No file loaded." {
		t.Errorf("T(NoFile) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "pt")

	if got := Tp(ctx, "SessionsActive", 1); got != "1 sessão ativa" {
		t.Errorf("Tp(SessionsActive, 1) = %q", got)
	}
	if got := Tp(ctx, "SessionsActive", 3); got != "3 sessões ativas" {
		t.Errorf("Tp(SessionsActive, 3) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "pt")

	got := Td(ctx, "MarkingIncomplete", map[string]any{"Missing": "02, 04"})
	if got != "Marque todas as questões. Faltam: 02, 04." {
		t.Errorf("Td(MarkingIncomplete) = %q", got)
	}
	got = Td(ctx, "KeyNameConfirmVariant", map[string]any{"Existing": "Prova1", "Name": "Prova2"})
	if got != `Já existe "Prova1". Deseja mesmo criar "Prova2"?` {
		t.Errorf("Td(KeyNameConfirmVariant) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "pt")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestCatalogsMatch(t *testing.T) {
	load := func(name string) map[string]any {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		return m
	}
	pt, en := load("pt.json"), load("en.json")
	for id := range pt {
		if _, ok := en[id]; !ok {
			t.Errorf("en.json lacks %q", id)
		}
	}
	for id := range en {
		if _, ok := pt[id]; !ok {
			t.Errorf("pt.json lacks %q", id)
		}
	}
}

func TestLabeler(t *testing.T) {
	initLang(t, "pt")

	if got := Labeler("en")("LabelOCRError"); got != "OCR ERROR" {
		t.Errorf("en label = %q", got)
	}
	if got := Labeler("pt")("LabelOCRError"); got != "ERRO OCR" {
		t.Errorf("pt label = %q", got)
	}
}

func TestMiddlewareNegotiates(t *testing.T) {
	initLang(t, "pt")

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"fallback", "/", "", "Nenhum arquivo carregado."},
		{"accept-language", "/", "en-US,en;q=0.9", "No file loaded."},
		{"query wins", "/?lang=pt", "en-US", "Nenhum arquivo carregado."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("pt")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "NoFile")
			}))
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
