// Package objects implements the typed, replicated data structures built
// on top of a runtime.Runtime: Register (single value), HMap (hash map),
// and BTMap (ordered map). Each is generic over a converters.Converter so
// the same implementation serves any value type the caller can encode.
package objects

import (
	"context"
	"fmt"
	"sync"

	"github.com/iuliatamas/cryptlog/pkg/converters"
	"github.com/iuliatamas/cryptlog/pkg/core/failfast"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

// Register holds a single replicated value of type V. Every Write
// replaces the value outright; see AddableRegister for homomorphic
// increments.
type Register[V any] struct {
	rt    *runtime.Runtime
	objID logentry.ObjID
	conv  converters.Converter[V]

	mu    sync.RWMutex
	value V
}

// NewRegister creates a Register seeded with zero and registers it with
// rt under objID. objID must not already be registered on rt.
func NewRegister[V any](rt *runtime.Runtime, objID logentry.ObjID, conv converters.Converter[V], zero V) *Register[V] {
	failfast.NotNil(rt, "rt")
	failfast.NotNil(conv, "conv")
	r := &Register[V]{rt: rt, objID: objID, conv: conv, value: zero}
	rt.RegisterObject(objID, r)
	return r
}

// Write replaces the register's value and appends the change to the log.
func (r *Register[V]) Write(ctx context.Context, v V) error {
	state, err := r.encodeState(v)
	if err != nil {
		return err
	}
	entry := logentry.NewEntry()
	entry.AddWrite(r.objID, logentry.LogOpWrite{State: state})
	_, err = r.rt.Append(ctx, entry)
	return err
}

// Read syncs with the log and returns the current value.
func (r *Register[V]) Read(ctx context.Context) (V, error) {
	if err := r.rt.Sync(ctx); err != nil {
		var zero V
		return zero, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, nil
}

// Apply implements runtime.Callback.
func (r *Register[V]) Apply(op logentry.LogOp) {
	var state logentry.State
	switch v := op.(type) {
	case logentry.LogOpWrite:
		state = v.State
	case logentry.LogOpSnapshot:
		state = v.State
	default:
		return
	}
	r.setFromState(state)
}

// ApplySnapshot implements runtime.SnapshotCallback.
func (r *Register[V]) ApplySnapshot(snap logentry.Snapshot) {
	r.setFromState(snap.Payload)
}

// Snapshot encodes the register's current value as a logentry.State, for
// a materializer to stamp into the log as a logentry.Snapshot.
func (r *Register[V]) Snapshot() (logentry.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.encodeState(r.value)
}

func (r *Register[V]) setFromState(state logentry.State) {
	decoded, err := r.decodeState(state)
	if err != nil {
		// A malformed entry here means the log itself is corrupt, or the
		// wrong encryptor is configured; there is no safe local recovery.
		failfast.Err(fmt.Errorf("objects: Register obj %d: %w", r.objID, err))
	}
	r.mu.Lock()
	r.value = decoded
	r.mu.Unlock()
}

func (r *Register[V]) encodeState(v V) (logentry.State, error) {
	encoded, err := r.conv.Encode(v)
	if err != nil {
		return nil, err
	}
	if secure := r.rt.Secure(); secure != nil {
		ct, err := secure.Auth.Encrypt([]byte(encoded))
		if err != nil {
			return nil, err
		}
		return logentry.EncryptedState{Data: ct}, nil
	}
	return logentry.EncodedState{Data: encoded}, nil
}

func (r *Register[V]) decodeState(state logentry.State) (V, error) {
	var zero V
	switch s := state.(type) {
	case logentry.EncryptedState:
		secure := r.rt.Secure()
		if secure == nil {
			return zero, fmt.Errorf("received encrypted state on an unencrypted runtime")
		}
		plain, err := secure.Auth.Decrypt(s.Data)
		if err != nil {
			return zero, err
		}
		return r.conv.Decode(string(plain))
	case logentry.EncodedState:
		return r.conv.Decode(s.Data)
	default:
		return zero, fmt.Errorf("unexpected state type %T for Register", state)
	}
}
