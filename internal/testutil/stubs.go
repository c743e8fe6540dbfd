package testutil

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/store"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// ErrStub is returned by stubs configured to fail.
var ErrStub = errors.New("stub failure")

// StubDetector returns fixed detections.
type StubDetector struct {
	Detections []detector.Detection
	Err        error

	mu   sync.Mutex
	Seen []detector.Thresholds
}

func (s *StubDetector) Detect(_ context.Context, _ image.Image, th detector.Thresholds) ([]detector.Detection, error) {
	s.mu.Lock()
	s.Seen = append(s.Seen, th)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]detector.Detection(nil), s.Detections...), nil
}

func (s *StubDetector) Info() map[string]interface{} { return map[string]interface{}{"backend": "stub"} }
func (s *StubDetector) Close() error                  { return nil }

// DetectionsFor turns boxes into book detections with the given score.
func DetectionsFor(boxes []utils.Box, score float64) []detector.Detection {
	out := make([]detector.Detection, len(boxes))
	for i, b := range boxes {
		out[i] = detector.Detection{Box: b, Score: score, Class: "book"}
	}
	return out
}

// RectPolygon returns the four corners of an axis-aligned rectangle.
func RectPolygon(x1, y1, x2, y2 float64) []utils.Point {
	return []utils.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

// StubRecognizer hands out fragment lists in call order. Calls past the end
// of Results return no fragments.
type StubRecognizer struct {
	Results [][]recognizer.Fragment
	// FailAt makes the call with this index fail. Negative disables it.
	FailAt int

	mu    sync.Mutex
	calls int
}

// NewStubRecognizer reads one single-fragment text per crop.
func NewStubRecognizer(conf float64, texts ...string) *StubRecognizer {
	s := &StubRecognizer{FailAt: -1}
	for _, t := range texts {
		s.Results = append(s.Results, []recognizer.Fragment{{
			Text:        t,
			Confidence:  conf,
			CropPolygon: RectPolygon(1, 1, 8, 8),
		}})
	}
	return s
}

func (s *StubRecognizer) Recognize(context.Context, image.Image) ([]recognizer.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i == s.FailAt {
		return nil, ErrStub
	}
	if i >= len(s.Results) {
		return nil, nil
	}
	return append([]recognizer.Fragment(nil), s.Results[i]...), nil
}

// Calls reports how many crops were recognized.
func (s *StubRecognizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubRecognizer) Info() map[string]interface{} { return map[string]interface{}{"backend": "stub"} }
func (s *StubRecognizer) Close() error                  { return nil }

// ScriptedCompleter answers the three agent prompts. Correction echoes the
// OCR text unless Corrections maps it; extraction returns Extractions[text]
// or "{}"; validation returns Verdict. Fail makes every call error.
type ScriptedCompleter struct {
	Corrections map[string]string
	Extractions map[string]string
	Verdict     string
	Fail        bool

	mu    sync.Mutex
	calls int
}

const (
	correctionMarker = "Texte OCR détecté :\n"
	extractionMarker = "(titre/auteur/collection possibles) :\n"
	validationMarker = "Google Books :"
)

func (s *ScriptedCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Fail {
		return "", ErrStub
	}
	switch {
	case strings.Contains(p.Text, validationMarker):
		return s.Verdict, nil
	case strings.Contains(p.Text, correctionMarker):
		text := firstLineAfter(p.Text, correctionMarker)
		if c, ok := s.Corrections[text]; ok {
			return c, nil
		}
		return text, nil
	case strings.Contains(p.Text, extractionMarker):
		text := firstLineAfter(p.Text, extractionMarker)
		if e, ok := s.Extractions[text]; ok {
			return e, nil
		}
		return "{}", nil
	}
	return "", llm.ErrNoCompletion
}

// Calls reports how many completions were requested.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func firstLineAfter(s, marker string) string {
	_, rest, _ := strings.Cut(s, marker)
	line, _, _ := strings.Cut(rest, "\n")
	return line
}

// StubBooks answers lookups from a map keyed by query.
type StubBooks struct {
	Candidates map[string]*bibliographic.Candidate
	Fail       bool

	mu      sync.Mutex
	Queries []string
}

func (s *StubBooks) Lookup(_ context.Context, query string) bibliographic.CandidateOutcome {
	s.mu.Lock()
	s.Queries = append(s.Queries, query)
	s.mu.Unlock()
	if query == "" {
		return bibliographic.CandidateOutcome{Outcome: common.Skipped}
	}
	if s.Fail {
		return bibliographic.CandidateOutcome{Outcome: common.Failed}
	}
	return bibliographic.CandidateOutcome{Candidate: s.Candidates[query], Outcome: common.Success}
}

// Upserted is one call recorded by MemoryStore.
type Upserted struct {
	Record   golden.Record
	Position sequence.Position
}

// MemoryStore is an in-memory Gateway deduplicating by ISBN, then by
// title and shelf.
type MemoryStore struct {
	Err error

	mu   sync.Mutex
	Rows []Upserted
}

func (m *MemoryStore) Upsert(_ context.Context, rec golden.Record, pos sequence.Position) (store.Action, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	if rec.ISBN != nil {
		for i, row := range m.Rows {
			if row.Record.ISBN != nil && *row.Record.ISBN == *rec.ISBN {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i, row := range m.Rows {
			if row.Record.Title == rec.Title && row.Position.ShelfID == pos.ShelfID {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		m.Rows[idx].Position = pos
		return store.Updated, nil
	}
	m.Rows = append(m.Rows, Upserted{Record: rec, Position: pos})
	return store.Inserted, nil
}

// Snapshot returns a copy of the stored rows.
func (m *MemoryStore) Snapshot() []Upserted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Upserted(nil), m.Rows...)
}
