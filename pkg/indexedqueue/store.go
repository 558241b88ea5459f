// Package indexedqueue implements the shared, ordered log that every
// CryptLog object is replayed from. It generalizes pkg/appendlog's
// append-only Store contract from raw byte records to typed log
// entries, and adds the streaming (tail -f) behavior the runtime and
// materializer both depend on.
package indexedqueue

import (
	"context"
	"errors"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// Store is an ordered, append-only sequence of LogData. Indices are
// assigned by the store and are monotonically increasing starting at 0.
//
// Contract summary (mirrors pkg/appendlog.Store, generalized):
//   - Append-only: no in-place updates or deletes.
//   - Append must fail-fast (ErrBackpressure) when internal buffers are full,
//     never block indefinitely.
//   - Stream replays everything at or after `from`, then blocks for new
//     entries until ctx is canceled or the store is closed.
type Store interface {
	// Append assigns the next index to entry and durably records it.
	// The assigned index is stamped on the stored copy's Idx and
	// returned; entry is passed by value, so the caller's copy is unchanged.
	Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error)

	// AppendSnapshot records a materialized snapshot at its own index,
	// interleaved with regular entries in the same stream.
	AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error)

	// Stream returns a channel of LogData starting at `from` (inclusive).
	// Backlog is delivered first, then the channel blocks for new
	// appends. The channel is closed when ctx is canceled or the store
	// is closed.
	Stream(ctx context.Context, from logentry.LogIndex) (<-chan logentry.LogData, error)

	// Len returns one past the highest index ever assigned.
	Len(ctx context.Context) (logentry.LogIndex, error)

	Close() error
	Stats() Stats
}

// Stats exposes basic operational counters, mirroring pkg/appendlog.Stats.
type Stats struct {
	AppendedEntries    int64
	AppendedSnapshots  int64
	RejectedAppends    int64
	ActiveStreams      int64
	HighestIndex       int64
}

// Errors. Sentinel values shared by every Store implementation; compare
// with errors.Is.
var (
	ErrClosed       = errors.New("indexedqueue: store closed")
	ErrBackpressure = errors.New("indexedqueue: backlog full, append rejected")
	ErrOutOfRange   = errors.New("indexedqueue: requested index out of range")
	ErrConflict     = errors.New("indexedqueue: optimistic concurrency conflict")
)
