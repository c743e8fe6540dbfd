// Package store persists golden records together with their shelf position.
package store

import (
	"context"

	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
)

// Action reports what Upsert did.
type Action string

const (
	Inserted Action = "inserted"
	Updated  Action = "updated"
	Noop     Action = "noop"
)

// Gateway writes one record at one position.
type Gateway interface {
	Upsert(ctx context.Context, rec golden.Record, pos sequence.Position) (Action, error)
}

// Disabled performs no I/O.
type Disabled struct{}

func (Disabled) Upsert(context.Context, golden.Record, sequence.Position) (Action, error) {
	return Noop, nil
}
