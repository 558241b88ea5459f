// Package runtime implements the per-client coordinator every CryptLog
// object shares: it owns the connection to an indexedqueue.Store,
// optionally wraps appended state in a cryptlogcrypto.MetaEncryptor, and
// fans out newly-synced log entries to whichever objects registered
// interest in them. Its locking discipline is grounded on
// pkg/bus/bus.go: one mutex guards both the dispatch table and the
// high-water mark, held across the whole sync-and-apply step so an
// object never observes a partially-applied batch of entries.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/iuliatamas/cryptlog/pkg/core/failfast"
	"github.com/iuliatamas/cryptlog/pkg/cryptlogcrypto"
	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// Callback is how an object (Register, HMap, BTMap, ...) receives
// operations the Runtime has pulled from the shared log on its behalf.
type Callback interface {
	Apply(op logentry.LogOp)
}

// SnapshotCallback additionally accepts a full-state Snapshot, for
// objects that participate in materializer-driven replay.
type SnapshotCallback interface {
	Callback
	ApplySnapshot(snap logentry.Snapshot)
}

// Runtime is the per-client handle to a shared log. Every Object
// constructed against the same Runtime observes the same global order
// of operations.
type Runtime struct {
	queue  indexedqueue.Store
	secure *cryptlogcrypto.MetaEncryptor

	mu        sync.Mutex
	nextSync  logentry.LogIndex
	callbacks map[logentry.ObjID]Callback
}

// New builds a Runtime over queue. secure may be nil, in which case
// objects built on this Runtime exchange logentry.EncodedState payloads
// instead of ciphertext.
func New(queue indexedqueue.Store, secure *cryptlogcrypto.MetaEncryptor) *Runtime {
	failfast.NotNil(queue, "queue")
	return &Runtime{
		queue:     queue,
		secure:    secure,
		callbacks: make(map[logentry.ObjID]Callback),
	}
}

// Secure returns the runtime's encryptor, or nil if it runs unencrypted.
func (r *Runtime) Secure() *cryptlogcrypto.MetaEncryptor {
	return r.secure
}

// RegisterObject wires an object into the Runtime's dispatch table. It
// fails fast if id is already registered: two objects sharing one obj_id
// would silently corrupt each other's state.
func (r *Runtime) RegisterObject(id logentry.ObjID, cb Callback) {
	failfast.NotNil(cb, "cb")
	r.mu.Lock()
	defer r.mu.Unlock()
	failfast.If(r.callbacks[id] == nil, "runtime: obj_id %d already registered", id)
	r.callbacks[id] = cb
}

// Append submits entry to the queue and, on success, applies it to this
// Runtime's own registered objects immediately when it landed at the
// next index this Runtime expects. If other clients' entries precede it,
// it is not applied here; the next Sync applies it with theirs, in log
// order.
func (r *Runtime) Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.queue.Append(ctx, entry)
	if err != nil {
		return 0, err
	}
	entry.Idx = &idx

	if idx == r.nextSync {
		r.applyEntryLocked(entry)
		r.nextSync++
	}
	// A gap between r.nextSync and idx means other clients appended
	// concurrently; the next Sync call will catch this entry up along
	// with theirs, in log order.
	return idx, nil
}

// AppendSnapshot submits a materialized snapshot to the queue. Only the
// materializer calls this; ordinary objects never produce snapshots.
func (r *Runtime) AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, err := r.queue.AppendSnapshot(ctx, snap)
	if err != nil {
		return 0, err
	}
	if idx == r.nextSync {
		snap.Idx = idx
		r.applySnapshotLocked(snap)
		r.nextSync++
	}
	return idx, nil
}

// Sync pulls every entry appended since the last Sync (by this Runtime
// or by Append) and applies it to registered objects, in order. It
// returns once caught up to the queue's length as observed at the start
// of the call; entries appended concurrently by others are left for the
// next Sync.
func (r *Runtime) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.queue.Len(ctx)
	if err != nil {
		return err
	}
	if target <= r.nextSync {
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := r.queue.Stream(streamCtx, r.nextSync)
	if err != nil {
		return err
	}

	for r.nextSync < target {
		select {
		case item, ok := <-ch:
			if !ok {
				return fmt.Errorf("runtime: stream closed before reaching index %d", target)
			}
			switch v := item.(type) {
			case logentry.LogDataEntry:
				r.applyEntryLocked(v.Entry)
			case logentry.LogDataSnapshot:
				r.applySnapshotLocked(v.Snapshot)
			}
			r.nextSync++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Runtime) applyEntryLocked(entry logentry.Entry) {
	for _, op := range entry.Operations {
		if cb, ok := r.callbacks[op.ObjID]; ok {
			cb.Apply(op.Operator)
		}
	}
}

func (r *Runtime) applySnapshotLocked(snap logentry.Snapshot) {
	cb, ok := r.callbacks[snap.ObjID]
	if !ok {
		return
	}
	if sc, ok := cb.(SnapshotCallback); ok {
		sc.ApplySnapshot(snap)
	}
}

// GlobalIndex returns the highest log index this Runtime has applied.
func (r *Runtime) GlobalIndex() logentry.LogIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSync - 1
}
