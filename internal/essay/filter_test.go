package essay

import "testing"

func TestFilterOCRText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "heading drops the form header",
			in:   "ESCOLA ESTADUAL\nNome: Maria\nCARTÃO DE RESPOSTA\nA cidade cresce.\n\nEla precisa de ônibus.",
			want: "A cidade cresce.\nEla precisa de ônibus.",
		},
		{
			name: "heading without accent and in lower case",
			in:   "cabeçalho\n  cartao de resposta  \nTexto.",
			want: "Texto.",
		},
		{
			name: "no heading keeps everything filtered",
			in:   "Primeira linha.\n12\n2026\nSegunda linha.",
			want: "Primeira linha.\nSegunda linha.",
		},
		{
			name: "form codes and punctuation",
			in:   "RED01\nAB12C3D\n-----\n___\n...\nTexto válido, com vírgula.",
			want: "Texto válido, com vírgula.",
		},
		{
			name: "mixed case words survive",
			in:   "Brasil\nOK\nA\nEu",
			want: "Brasil\nA\nEu",
		},
		{
			name: "crlf",
			in:   "Linha um.\r\n7\r\nLinha dois.",
			want: "Linha um.\nLinha dois.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterOCRText(tt.in); got != tt.want {
				t.Errorf("FilterOCRText() = %q, want %q", got, tt.want)
			}
		})
	}
}
