package grading

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pavelanni/gabarito/internal/model"
)

var fourByFour = model.AnswerKeyConfig{Name: "Prova", QuestionCount: 4, AlternativeCount: 4, TotalScore: 10}

func TestPrefillMarking(t *testing.T) {
	tests := []struct {
		name    string
		initial []string
		want    []string
	}{
		{name: "nil prefill", initial: nil, want: []string{"", "", "", ""}},
		{name: "normalizes letters", initial: []string{"A", "b", " C ", "D"}, want: []string{"A", "B", "C", "D"}},
		{name: "drops letters beyond alternatives", initial: []string{"A", "B", "C", "E"}, want: []string{"A", "B", "C", ""}},
		{name: "wrong length ignored", initial: []string{"A", "B"}, want: []string{"", "", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrefillMarking(fourByFour, tt.initial)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateMarking(t *testing.T) {
	got, err := ValidateMarking(fourByFour, []string{"a", "B", "c", "D"})
	if err != nil {
		t.Fatalf("ValidateMarking: %v", err)
	}
	if want := []string{"A", "B", "C", "D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}

	_, err = ValidateMarking(fourByFour, []string{"A", "", "C", "F"})
	var inc *IncompleteMarkingError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteMarkingError, got %v", err)
	}
	if !reflect.DeepEqual(inc.Missing, []int{2, 4}) {
		t.Errorf("missing = %v, want [2 4]", inc.Missing)
	}
	if inc.List() != "02, 04" {
		t.Errorf("list = %q, want %q", inc.List(), "02, 04")
	}

	_, err = ValidateMarking(fourByFour, []string{"A"})
	if !errors.As(err, &inc) || len(inc.Missing) != 3 {
		t.Errorf("short marking: got %v", err)
	}
}

func TestMarkingRoundTrip(t *testing.T) {
	cfg := model.AnswerKeyConfig{Name: "Simulado", QuestionCount: 6, AlternativeCount: 5, TotalScore: 6}
	key := []string{"A", "E", "C", "B", "D", "A"}
	got, err := ValidateMarking(cfg, PrefillMarking(cfg, key))
	if err != nil {
		t.Fatalf("ValidateMarking: %v", err)
	}
	if !reflect.DeepEqual(got, key) {
		t.Errorf("round trip = %q, want %q", got, key)
	}
}

func TestParseAnswerLines(t *testing.T) {
	text := "01 A\n2 b\n 3C \nlixo\n99 D\r\n05 E"
	got := ParseAnswerLines(text, 5)
	want := []string{"A", "B", "C", "", "E"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := ParseAnswerLines("", 3); !reflect.DeepEqual(got, []string{"", "", ""}) {
		t.Errorf("empty text: got %q", got)
	}
}
