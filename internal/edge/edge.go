// Package edge defines the citation edge type for the knowledge graph.
package edge

import (
	"errors"
	"strings"
)

// Intent classifies why a paper cites another paper.
type Intent string

// Citation intents.
const (
	IntentMethod     Intent = "method"
	IntentBackground Intent = "background"
	IntentResult     Intent = "result"
	IntentCritique   Intent = "critique"
	IntentExtension  Intent = "extension"
	IntentUnknown    Intent = "unknown"
)

// Position locates a citation within the citing paper.
type Position string

// Citation positions.
const (
	PositionAbstract     Position = "abstract"
	PositionIntroduction Position = "introduction"
	PositionMethods      Position = "methods"
	PositionResults      Position = "results"
	PositionDiscussion   Position = "discussion"
	PositionOther        Position = "other"
)

// CitationEdge is a directed edge between two papers. At most one edge
// exists per (Src, Dst) pair; a later observation merges attributes but
// never duplicates the edge.
type CitationEdge struct {
	Src        string   `json:"src"`
	Dst        string   `json:"dst"`
	Intent     Intent   `json:"intent,omitempty"`
	Position   Position `json:"position,omitempty"`
	Context    string   `json:"context,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Validation errors.
var (
	ErrEmptySrc      = errors.New("src is required")
	ErrEmptyDst      = errors.New("dst is required")
	ErrSelfLoop      = errors.New("src and dst cannot be the same")
	ErrBadIntent     = errors.New("unrecognized citation intent")
	ErrBadPosition   = errors.New("unrecognized citation position")
	ErrBadConfidence = errors.New("confidence must be in [0,1]")
)

var validIntents = map[Intent]bool{
	IntentMethod: true, IntentBackground: true, IntentResult: true,
	IntentCritique: true, IntentExtension: true, IntentUnknown: true, "": true,
}

var validPositions = map[Position]bool{
	PositionAbstract: true, PositionIntroduction: true, PositionMethods: true,
	PositionResults: true, PositionDiscussion: true, PositionOther: true, "": true,
}

// Validate checks edge identity and attribute domains.
func (e *CitationEdge) Validate() error {
	if e.Src == "" {
		return ErrEmptySrc
	}
	if e.Dst == "" {
		return ErrEmptyDst
	}
	if e.Src == e.Dst {
		return ErrSelfLoop
	}
	if !validIntents[e.Intent] {
		return ErrBadIntent
	}
	if !validPositions[e.Position] {
		return ErrBadPosition
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// ParseIntent maps a label (any case) to an Intent, defaulting to unknown.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentMethod:
		return IntentMethod
	case IntentBackground:
		return IntentBackground
	case IntentResult:
		return IntentResult
	case IntentCritique:
		return IntentCritique
	case IntentExtension:
		return IntentExtension
	default:
		return IntentUnknown
	}
}

// ParsePosition maps a label to a Position, defaulting to other.
func ParsePosition(s string) Position {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case PositionAbstract:
		return PositionAbstract
	case PositionIntroduction:
		return PositionIntroduction
	case PositionMethods:
		return PositionMethods
	case PositionResults:
		return PositionResults
	case PositionDiscussion:
		return PositionDiscussion
	default:
		return PositionOther
	}
}

// Merge overlays non-empty attributes from other onto e. Existing
// attributes are overwritten only by non-null incoming values, so a replay
// with missing fields never erases earlier observations.
func (e *CitationEdge) Merge(other CitationEdge) {
	if other.Intent != "" && other.Intent != IntentUnknown {
		e.Intent = other.Intent
	} else if e.Intent == "" {
		e.Intent = IntentUnknown
	}
	if other.Position != "" {
		e.Position = other.Position
	}
	if other.Context != "" {
		e.Context = other.Context
	}
	if other.Confidence > 0 {
		e.Confidence = other.Confidence
	}
}
