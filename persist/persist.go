// Package persist defines the persistence collaborator the job store runs on.
//
// A backend has to provide four primitives: an atomic unique insert with a
// distinguishable duplicate key failure, a conditional update that reports how
// many rows matched, a filtered and ordered query with a limit, and delete by
// conditions. Everything the job store coordinates is built on those.
package persist

import (
	"context"

	"github.com/pkg/errors"
)

// ErrDuplicateKey is returned by Insert when a unique constraint already holds the row
var ErrDuplicateKey = errors.New("duplicate key")

// ErrNotFound is returned by First when nothing matched
var ErrNotFound = errors.New("record not found")

// Store is the persistence collaborator. Entities are the structs in the
// models package; model arguments are used only to select the collection.
type Store interface {
	// Insert atomically inserts the entity or fails with ErrDuplicateKey
	Insert(ctx context.Context, entity interface{}) error

	// Update sets values on every row of model's collection matching where and
	// returns the number of rows changed. Zero rows means the expected prior
	// state no longer holds.
	Update(ctx context.Context, model interface{}, where []Cond, values map[string]interface{}) (int64, error)

	// Delete removes every row matching where and returns the number removed
	Delete(ctx context.Context, model interface{}, where []Cond) (int64, error)

	// Find loads the rows selected by q into dest, a pointer to a slice of entities
	Find(ctx context.Context, dest interface{}, q Query) error

	// First loads the first row matching where into dest or returns ErrNotFound
	First(ctx context.Context, dest interface{}, where []Cond) error

	// Count counts the rows of model's collection matching where
	Count(ctx context.Context, model interface{}, where []Cond) (int64, error)

	// Transaction runs fn against a store bound to a single transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Migrate creates or updates the collections for the given entities
	Migrate(ctx context.Context, entities ...interface{}) error
}

// IsDuplicateKey .
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsNotFound .
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
