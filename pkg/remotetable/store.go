// Package remotetable implements indexedqueue.Store on top of a plain
// conditional-put table instead of a purpose-built log service: each
// log index is a row, written once via an insert that fails on
// conflict, so concurrent writers racing for the same index discover
// the loser through a unique-constraint violation rather than a lock.
// This mirrors the original DynamoQueue design, generalized from a
// single hand-rolled TCP protocol to three real SQL/SQL-like backends.
package remotetable

import (
	"context"
	"errors"
)

// ErrConflict is returned by ConditionalPut when a row already exists
// at the given index — another writer got there first.
var ErrConflict = errors.New("remotetable: index already written")

// TableStore is the minimal conditional-put primitive every backend
// here implements. It deliberately knows nothing about log semantics;
// RemoteTableQueue builds Append/Stream retry logic on top of it.
type TableStore interface {
	// ConditionalPut inserts data at idx, failing with ErrConflict if a
	// row already exists there.
	ConditionalPut(ctx context.Context, idx int64, data []byte) error

	// Get returns the row at idx, or ok=false if none exists.
	Get(ctx context.Context, idx int64) (data []byte, ok bool, err error)

	// Length returns one past the highest idx ever written (0 if empty).
	Length(ctx context.Context) (int64, error)

	Close() error
}
