package bibliographic

import (
	"context"
	"testing"

	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name      string
		extracted llm.Metadata
		corrected string
		want      string
	}{
		{"title and author", llm.Metadata{Title: strPtr("Nana"), Author: strPtr("Zola")}, "zola nana", "Nana Zola"},
		{"no title uses corrected", llm.Metadata{Author: strPtr("Zola")}, "Nana ", "Nana Zola"},
		{"title only", llm.Metadata{Title: strPtr("Nana")}, "x", "Nana"},
		{"nothing", llm.Metadata{}, "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.extracted, tt.corrected))
		})
	}
}

func TestFindISBN(t *testing.T) {
	tests := []struct {
		name string
		ids  []Identifier
		want string
	}{
		{"none", nil, ""},
		{"isbn13 wins over earlier isbn10", []Identifier{{"ISBN_10", "111"}, {"ISBN_13", "978111"}}, "978111"},
		{"first isbn13", []Identifier{{"ISBN_13", "9781"}, {"ISBN_13", "9782"}}, "9781"},
		{"last isbn10", []Identifier{{"ISBN_10", "1"}, {"OTHER", "x"}, {"ISBN_10", "2"}}, "2"},
		{"empty identifiers ignored", []Identifier{{"ISBN_13", ""}, {"ISBN_10", "3"}, {"ISBN_10", ""}}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindISBN(tt.ids))
		})
	}
}

type stubLooker struct {
	out   CandidateOutcome
	query string
}

func (s *stubLooker) Lookup(_ context.Context, q string) CandidateOutcome {
	s.query = q
	return s.out
}

type stubValidator struct {
	calls int
	ocr   string
}

func (s *stubValidator) Validate(_ context.Context, ocrText, _ string, _ []string) llm.VerdictOutcome {
	s.calls++
	s.ocr = ocrText
	return llm.VerdictOutcome{Verdict: llm.Yes, Outcome: common.Success}
}

func TestVerify(t *testing.T) {
	extracted := llm.Metadata{Title: strPtr("Le Père Goriot"), Author: strPtr("Balzac")}

	t.Run("candidate is validated", func(t *testing.T) {
		books := &stubLooker{out: CandidateOutcome{Candidate: &Candidate{Title: "Le Père Goriot"}, Outcome: common.Success}}
		agent := &stubValidator{}
		v := Verify(context.Background(), books, agent, extracted, "Balzac Le Père Goriot")
		assert.Equal(t, "Le Père Goriot Balzac", books.query)
		assert.Equal(t, 1, agent.calls)
		assert.Equal(t, "Balzac Le Père Goriot", agent.ocr)
		assert.Equal(t, llm.Yes, v.Validation.Verdict)
	})

	t.Run("no candidate skips validation", func(t *testing.T) {
		agent := &stubValidator{}
		v := Verify(context.Background(), &stubLooker{out: CandidateOutcome{Outcome: common.Failed}}, agent, extracted, "x")
		assert.Zero(t, agent.calls)
		assert.Equal(t, llm.Unknown, v.Validation.Verdict)
		assert.Equal(t, common.Skipped, v.Validation.Outcome)
		assert.Equal(t, common.Failed, v.Lookup.Outcome)
	})
}

func TestDisabled(t *testing.T) {
	out := Disabled{}.Lookup(context.Background(), "Nana")
	require.Nil(t, out.Candidate)
	assert.Equal(t, common.Skipped, out.Outcome)
}
