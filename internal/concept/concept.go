// Package concept defines the concept node and mention edge types.
package concept

import (
	"errors"
	"strings"
)

// Kind categorizes a scientific concept.
type Kind string

// Concept kinds.
const (
	KindMethod     Kind = "method"
	KindTheorem    Kind = "theorem"
	KindDataset    Kind = "dataset"
	KindEquation   Kind = "equation"
	KindConstant   Kind = "constant"
	KindConjecture Kind = "conjecture"
	KindOther      Kind = "other"
)

// Concept represents a named idea, method, or object that papers mention.
// Uniqueness key is (NormalizedName, Kind).
type Concept struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Embedding []float32 `json:"-"`
}

// Mention links a paper to a concept it mentions.
type Mention struct {
	PaperID    string  `json:"paper_id"`
	Concept    Concept `json:"concept"`
	Confidence float64 `json:"confidence,omitempty"` // 0 means not scored
}

// Validation errors.
var (
	ErrEmptyName     = errors.New("concept name is required")
	ErrBadKind       = errors.New("unrecognized concept kind")
	ErrBadConfidence = errors.New("confidence must be in [0,1]")
)

var validKinds = map[Kind]bool{
	KindMethod: true, KindTheorem: true, KindDataset: true, KindEquation: true,
	KindConstant: true, KindConjecture: true, KindOther: true,
}

// Validate checks the concept's required fields.
func (c *Concept) Validate() error {
	if NormalizeName(c.Name) == "" {
		return ErrEmptyName
	}
	if !validKinds[c.Kind] {
		return ErrBadKind
	}
	return nil
}

// Validate checks the mention's fields, including the embedded concept.
func (m *Mention) Validate() error {
	if m.PaperID == "" {
		return errors.New("paper_id is required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrBadConfidence
	}
	return m.Concept.Validate()
}

// NormalizeName lowercases a concept name and collapses internal
// whitespace. Concept uniqueness is defined over this form.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ParseKind maps a label (any case) to a Kind, defaulting to other.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMethod:
		return KindMethod
	case KindTheorem:
		return KindTheorem
	case KindDataset:
		return KindDataset
	case KindEquation:
		return KindEquation
	case KindConstant:
		return KindConstant
	case KindConjecture:
		return KindConjecture
	default:
		return KindOther
	}
}
