// Package bibliographic looks candidate books up in Google Books and asks
// the language model whether the best hit matches what was read.
package bibliographic

import (
	"context"
	"errors"
	"strings"

	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
)

// ErrNoAPIKey is returned by NewVerifier when no Books API key is configured.
var ErrNoAPIKey = errors.New("google books api key is not configured")

// Candidate is the first catalogue hit for a query.
type Candidate struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"published_date,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
}

// CandidateOutcome is the result of Lookup. Candidate is nil when nothing
// matched or the call did not succeed.
type CandidateOutcome struct {
	Candidate *Candidate
	Outcome   common.Outcome
}

// Identifier is an industry identifier attached to a volume.
type Identifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Looker is satisfied by *Verifier and by test doubles.
type Looker interface {
	Lookup(ctx context.Context, query string) CandidateOutcome
}

// Validator is satisfied by *llm.Agent.
type Validator interface {
	Validate(ctx context.Context, ocrText, title string, authors []string) llm.VerdictOutcome
}

// Verification bundles the lookup and the validation of one region.
type Verification struct {
	Query      string
	Lookup     CandidateOutcome
	Validation llm.VerdictOutcome
}

// BuildQuery combines the extracted title (or the corrected text) with the
// extracted author.
func BuildQuery(extracted llm.Metadata, corrected string) string {
	title := corrected
	if extracted.Title != nil && *extracted.Title != "" {
		title = *extracted.Title
	}
	author := ""
	if extracted.Author != nil {
		author = *extracted.Author
	}
	return strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(author))
}

// FindISBN prefers the first ISBN_13. Failing that it returns the last
// ISBN_10, or "".
func FindISBN(ids []Identifier) string {
	isbn := ""
	for _, id := range ids {
		if id.Identifier == "" {
			continue
		}
		switch id.Type {
		case "ISBN_13":
			return id.Identifier
		case "ISBN_10":
			isbn = id.Identifier
		}
	}
	return isbn
}

// Verify looks the query built from extracted and corrected up, then
// validates the candidate against the corrected text. Without a candidate
// the verdict is Unknown and validation is skipped.
func Verify(ctx context.Context, books Looker, agent Validator, extracted llm.Metadata, corrected string) Verification {
	v := Verification{Query: BuildQuery(extracted, corrected)}
	v.Lookup = books.Lookup(ctx, v.Query)
	if v.Lookup.Candidate == nil {
		v.Validation = llm.VerdictOutcome{Verdict: llm.Unknown, Outcome: common.Skipped}
		return v
	}
	c := v.Lookup.Candidate
	v.Validation = agent.Validate(ctx, corrected, c.Title, c.Authors)
	return v
}
