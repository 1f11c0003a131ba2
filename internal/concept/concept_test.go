package concept

import (
	"errors"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Yang-Mills Theory", "yang-mills theory"},
		{"  spectral   gap  ", "spectral gap"},
		{"AdS/CFT", "ads/cft"},
		{"", ""},
		{"\ttensor\nnetwork", "tensor network"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Concept
		want error
	}{
		{"valid", Concept{Name: "Bethe ansatz", Kind: KindMethod}, nil},
		{"empty name", Concept{Kind: KindMethod}, ErrEmptyName},
		{"whitespace name", Concept{Name: "   ", Kind: KindMethod}, ErrEmptyName},
		{"bad kind", Concept{Name: "x", Kind: "vibe"}, ErrBadKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.c.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMentionValidate(t *testing.T) {
	m := Mention{PaperID: "p", Concept: Concept{Name: "x", Kind: KindTheorem}, Confidence: 0.5}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	m.Confidence = 2
	if err := m.Validate(); !errors.Is(err, ErrBadConfidence) {
		t.Errorf("Validate() = %v, want ErrBadConfidence", err)
	}
	m = Mention{Concept: Concept{Name: "x", Kind: KindTheorem}}
	if err := m.Validate(); err == nil {
		t.Error("Validate() without paper id should fail")
	}
}

func TestParseKind(t *testing.T) {
	if got := ParseKind("THEOREM"); got != KindTheorem {
		t.Errorf("ParseKind(THEOREM) = %q", got)
	}
	if got := ParseKind("gadget"); got != KindOther {
		t.Errorf("ParseKind(gadget) = %q, want other", got)
	}
}
