package grading

import "testing"

func TestValidateKeyName(t *testing.T) {
	tests := []struct {
		name      string
		newName   string
		existing  []string
		confirmed bool
		want      Outcome
		wantMsg   string
		wantHit   string
	}{
		{name: "no existing names", newName: "Prova A", want: Accept},
		{name: "case-insensitive duplicate", newName: "Prova A", existing: []string{"prova a"}, want: RejectDuplicate, wantMsg: MsgKeyNameDuplicate, wantHit: "prova a"},
		{name: "exact duplicate with number", newName: "Prova1", existing: []string{"Prova1"}, want: RejectDuplicate, wantMsg: MsgKeyNameDuplicate, wantHit: "Prova1"},
		{name: "diacritics ignored", newName: "Matemática", existing: []string{"matematica"}, want: RejectDuplicate},
		{name: "separators ignored", newName: "Prova-A", existing: []string{"prova_a"}, want: RejectDuplicate},
		{name: "whitespace ignored", newName: " Prova  B ", existing: []string{"provab"}, want: RejectDuplicate},
		{name: "exact match wins over earlier variant", newName: "Prova2", existing: []string{"Prova1", "Prova 2"}, want: RejectDuplicate, wantHit: "Prova 2"},
		{name: "numbered variant asks confirmation", newName: "Prova2", existing: []string{"Prova1"}, want: ConfirmVariant, wantMsg: MsgKeyNameConfirmVariant, wantHit: "Prova1"},
		{name: "confirmed variant accepted", newName: "Prova2", existing: []string{"Prova1", "Prova3"}, confirmed: true, want: Accept},
		{name: "same number with leading zero", newName: "Prova01", existing: []string{"Prova1"}, want: RejectNearDuplicate, wantMsg: MsgKeyNameSameNumber, wantHit: "Prova1"},
		{name: "one edit away", newName: "Provaa", existing: []string{"Prova"}, want: RejectNearDuplicate, wantMsg: MsgKeyNameSimilar, wantHit: "Prova"},
		{name: "two edits away", newName: "Simulado", existing: []string{"Simulato1"}, want: RejectNearDuplicate, wantMsg: MsgKeyNameSimilar},
		{name: "rejection beats pending confirmation", newName: "Prova2", existing: []string{"Prova1", "Provas2"}, want: RejectNearDuplicate, wantHit: "Provas2"},
		{name: "rejection beats confirmed variant", newName: "Prova2", existing: []string{"Prova1", "Provas2"}, confirmed: true, want: RejectNearDuplicate},
		{name: "unrelated names", newName: "Geografia", existing: []string{"Historia", "Ciencias"}, want: Accept},
		{name: "blank existing names skipped", newName: "Prova", existing: []string{"", "  "}, want: Accept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ValidateKeyName(tt.newName, tt.existing, tt.confirmed)
			if d.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (decision %+v)", d.Outcome, tt.want, d)
			}
			if tt.wantMsg != "" && d.MessageID() != tt.wantMsg {
				t.Errorf("message = %q, want %q", d.MessageID(), tt.wantMsg)
			}
			if tt.wantHit != "" && d.Existing != tt.wantHit {
				t.Errorf("existing = %q, want %q", d.Existing, tt.wantHit)
			}
		})
	}
}

func TestValidateKeyNameTemplateData(t *testing.T) {
	d := ValidateKeyName("Prova01", []string{"Prova1"}, false)
	data := d.TemplateData()
	if data["Suffix"] != "01" {
		t.Errorf("Suffix = %v, want 01", data["Suffix"])
	}
	if data["Existing"] != "Prova1" {
		t.Errorf("Existing = %v, want Prova1", data["Existing"])
	}
	if data["Name"] != "Prova01" {
		t.Errorf("Name = %v, want Prova01", data["Name"])
	}
}

func TestAcceptHasNoMessage(t *testing.T) {
	d := ValidateKeyName("Redação 1", nil, false)
	if d.Outcome != Accept {
		t.Fatalf("outcome = %s, want accept", d.Outcome)
	}
	if d.MessageID() != "" {
		t.Errorf("accept should carry no message, got %q", d.MessageID())
	}
}
