package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/store"
)

func TestScriptedCompleter_DrivesAgent(t *testing.T) {
	c := &ScriptedCompleter{
		Corrections: map[string]string{"Balzak": "Balzac"},
		Extractions: map[string]string{"Balzac": `{"title":null,"author":"Balzac","collection":null}`},
		Verdict:     "Oui",
	}
	agent := llm.NewAgent(c, nil)
	ctx := context.Background()

	corr := agent.Correct(ctx, "Balzak")
	assert.Equal(t, "Balzac", corr.Text)

	ext := agent.Extract(ctx, corr.Text)
	require.NotNil(t, ext.Metadata.Author)
	assert.Equal(t, "Balzac", *ext.Metadata.Author)
	assert.Nil(t, ext.Metadata.Title)

	v := agent.Validate(ctx, "Balzac", "La Peau de chagrin", []string{"Honoré de Balzac"})
	assert.Equal(t, llm.Yes, v.Verdict)
	assert.Equal(t, 3, c.Calls())
}

func TestMemoryStore_ISBNBeforeTitle(t *testing.T) {
	m := &MemoryStore{}
	ctx := context.Background()
	isbn := "9782070360024"

	a, err := m.Upsert(ctx, golden.Record{Title: "A", ISBN: &isbn}, sequence.Position{ShelfID: 1, Column: 0})
	require.NoError(t, err)
	assert.Equal(t, store.Inserted, a)

	// Same ISBN, different title and shelf: the book moved.
	a, err = m.Upsert(ctx, golden.Record{Title: "B", ISBN: &isbn}, sequence.Position{ShelfID: 2, Column: 5})
	require.NoError(t, err)
	assert.Equal(t, store.Updated, a)

	// Same title on another shelf without ISBN is a new book.
	a, err = m.Upsert(ctx, golden.Record{Title: "A"}, sequence.Position{ShelfID: 3})
	require.NoError(t, err)
	assert.Equal(t, store.Inserted, a)

	rows := m.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Position.ShelfID)
	assert.Equal(t, 5, rows[0].Position.Column)
}

func TestStubRecognizer_FailAt(t *testing.T) {
	r := NewStubRecognizer(0.9, "a", "b")
	r.FailAt = 1
	ctx := context.Background()

	f, err := r.Recognize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", f[0].Text)

	_, err = r.Recognize(ctx, nil)
	require.ErrorIs(t, err, ErrStub)

	f, err = r.Recognize(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, f)
	assert.Equal(t, 3, r.Calls())
}
