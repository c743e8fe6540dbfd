package golden

import (
	"testing"

	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestBuild(t *testing.T) {
	goriot := &bibliographic.Candidate{
		Title:         "Le Père Goriot",
		Authors:       []string{"Honoré de Balzac", "Pierre Barbéris"},
		PublishedDate: "1835",
		ISBN:          "9782070409341",
		CoverURL:      "http://books.example/goriot.jpg",
	}

	tests := []struct {
		name   string
		in     Input
		title  string
		author string
		isbn   *string
	}{
		{
			name: "catalogue wins",
			in: Input{
				CleanedText:   "BALZAK GORIOT",
				CorrectedText: "Balzac Goriot",
				Extracted:     llm.Metadata{Title: strPtr("Goriot"), Author: strPtr("Balzac")},
				Candidate:     goriot,
			},
			title:  "Le Père Goriot",
			author: "Honoré de Balzac, Pierre Barbéris",
			isbn:   strPtr("9782070409341"),
		},
		{
			name: "extracted metadata without candidate",
			in: Input{
				CorrectedText: "Zola Nana",
				Extracted:     llm.Metadata{Title: strPtr("Nana"), Author: strPtr("Émile Zola")},
			},
			title:  "Nana",
			author: "Émile Zola",
		},
		{
			name:   "corrected text and unknown author",
			in:     Input{CleanedText: "nana", CorrectedText: "Nana"},
			title:  "Nana",
			author: UnknownAuthor,
		},
		{
			name:   "cleaned text as last resort",
			in:     Input{CleanedText: "nana"},
			title:  "nana",
			author: UnknownAuthor,
		},
		{
			name: "candidate without authors falls back",
			in: Input{
				Extracted: llm.Metadata{Author: strPtr("Hugo")},
				Candidate: &bibliographic.Candidate{Title: "Les Misérables", Authors: []string{}},
			},
			title:  "Les Misérables",
			author: "Hugo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.in)
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, tt.author, got.Author)
			assert.Equal(t, tt.isbn, got.ISBN)
		})
	}
}

func TestBuild_CatalogueOnlyFields(t *testing.T) {
	got := Build(Input{CleanedText: "x"})
	assert.Nil(t, got.PublishedDate)
	assert.Nil(t, got.CoverURL)
	assert.Nil(t, got.ISBN)

	got = Build(Input{Candidate: &bibliographic.Candidate{Title: "T", PublishedDate: "2001", CoverURL: "c"}})
	require.NotNil(t, got.PublishedDate)
	assert.Equal(t, "2001", *got.PublishedDate)
	assert.Equal(t, "c", *got.CoverURL)
	assert.Nil(t, got.ISBN)
}

func TestBuild_Deterministic(t *testing.T) {
	in := Input{CleanedText: "a", Extracted: llm.Metadata{Title: strPtr("b")}}
	assert.Equal(t, Build(in), Build(in))
	assert.NotEmpty(t, Build(Input{}).Author, "author is never empty")
}
