// Package golden merges every source of evidence for one spine into the
// canonical record that gets persisted.
package golden

import (
	"strings"

	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
)

// UnknownAuthor is used when no source names an author.
const UnknownAuthor = "Unknown"

// Record is the canonical description of one book.
type Record struct {
	Title         string  `json:"title" db:"title"`
	Author        string  `json:"author" db:"author"`
	PublishedDate *string `json:"published_date" db:"published_date"`
	CoverURL      *string `json:"cover_url" db:"cover_url"`
	ISBN          *string `json:"isbn" db:"isbn"`
}

// Input is everything known about a region when the record is built.
type Input struct {
	CleanedText   string
	CorrectedText string
	Extracted     llm.Metadata
	Candidate     *bibliographic.Candidate
}

// Build picks each field from the most trusted source that has it: the
// catalogue, then the extracted metadata, then the corrected text, then the
// raw OCR text.
func Build(in Input) Record {
	var r Record
	r.Title = first(
		candidateTitle(in.Candidate),
		deref(in.Extracted.Title),
		in.CorrectedText,
		in.CleanedText,
	)
	r.Author = first(
		candidateAuthors(in.Candidate),
		deref(in.Extracted.Author),
		UnknownAuthor,
	)
	if c := in.Candidate; c != nil {
		r.PublishedDate = optional(c.PublishedDate)
		r.CoverURL = optional(c.CoverURL)
		r.ISBN = optional(c.ISBN)
	}
	return r
}

func candidateTitle(c *bibliographic.Candidate) string {
	if c == nil {
		return ""
	}
	return c.Title
}

func candidateAuthors(c *bibliographic.Candidate) string {
	if c == nil {
		return ""
	}
	return strings.Join(c.Authors, ", ")
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
