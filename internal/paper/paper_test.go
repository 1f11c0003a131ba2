package paper

import "testing"

func TestYear(t *testing.T) {
	tests := []struct {
		name string
		date string
		want int
	}{
		{"full date", "2024-01-15", 2024},
		{"year only", "1998", 1998},
		{"empty", "", 0},
		{"too short", "202", 0},
		{"non-numeric", "n.d.", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paper{PublishedDate: tt.date}
			if got := p.Year(); got != tt.want {
				t.Errorf("Year() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrimaryCategory(t *testing.T) {
	p := Paper{Categories: []string{"hep-th", "gr-qc"}}
	if got := p.PrimaryCategory(); got != "hep-th" {
		t.Errorf("PrimaryCategory() = %q, want hep-th", got)
	}
	empty := Paper{}
	if got := empty.PrimaryCategory(); got != "" {
		t.Errorf("PrimaryCategory() on empty = %q, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Paper{ID: "2401.00001"}).Validate(); err != nil {
		t.Errorf("Validate() with id = %v, want nil", err)
	}
	if err := (&Paper{}).Validate(); err != ErrEmptyID {
		t.Errorf("Validate() without id = %v, want ErrEmptyID", err)
	}
	if err := (&Paper{ID: "   "}).Validate(); err != ErrEmptyID {
		t.Errorf("Validate() with blank id = %v, want ErrEmptyID", err)
	}
}

func TestIsStub(t *testing.T) {
	if !(&Paper{ID: "x"}).IsStub() {
		t.Error("id-only paper should be a stub")
	}
	if (&Paper{ID: "x", Title: "T"}).IsStub() {
		t.Error("titled paper should not be a stub")
	}
}

func TestEmbedText(t *testing.T) {
	p := Paper{Title: "T", Abstract: "A"}
	if got := p.EmbedText(); got != "T\n\nA" {
		t.Errorf("EmbedText() = %q", got)
	}
	noAbs := Paper{Title: "T"}
	if got := noAbs.EmbedText(); got != "T" {
		t.Errorf("EmbedText() without abstract = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abc", 3, "abc"},
		{"cut", "abcdef", 3, "abc"},
		{"multibyte boundary", "aé", 2, "a"}, // é is two bytes; don't split it
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
