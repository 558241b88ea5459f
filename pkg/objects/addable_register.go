package objects

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/iuliatamas/cryptlog/pkg/core/failfast"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

// AddableRegister is an int64 register whose increments are folded into
// the log homomorphically: Inc appends a delta, and Apply adds that
// delta into the current ciphertext without ever decrypting it. Read is
// the only operation that needs the private key.
//
// On an unencrypted Runtime the same entries carry plaintext deltas
// instead of Add-cipher ciphertext, and folding is ordinary integer
// addition; the log format and replay logic are identical either way.
type AddableRegister struct {
	rt    *runtime.Runtime
	objID logentry.ObjID

	mu          sync.RWMutex
	plainValue  int64
	cipherValue []byte
	haveCipher  bool
}

// NewAddableRegister creates an AddableRegister seeded with initial and
// registers it with rt under objID.
func NewAddableRegister(rt *runtime.Runtime, objID logentry.ObjID, initial int64) *AddableRegister {
	failfast.NotNil(rt, "rt")
	r := &AddableRegister{rt: rt, objID: objID, plainValue: initial}
	if secure := rt.Secure(); secure != nil {
		ct, err := secure.Add.Encrypt(initial)
		failfast.Err(err)
		r.cipherValue = ct
		r.haveCipher = true
	}
	rt.RegisterObject(objID, r)
	return r
}

// Inc appends delta (positive or negative) to the register.
func (r *AddableRegister) Inc(ctx context.Context, delta int64) error {
	var state logentry.State
	if secure := r.rt.Secure(); secure != nil {
		ct, err := secure.Add.Encrypt(delta)
		if err != nil {
			return err
		}
		state = logentry.EncryptedState{Data: ct}
	} else {
		state = logentry.EncodedState{Data: strconv.FormatInt(delta, 10)}
	}
	entry := logentry.NewEntry()
	entry.AddWrite(r.objID, logentry.LogOpWrite{State: state})
	_, err := r.rt.Append(ctx, entry)
	return err
}

// Read syncs with the log and returns the current value, decrypting the
// running ciphertext total if the runtime is encrypted.
func (r *AddableRegister) Read(ctx context.Context) (int64, error) {
	if err := r.rt.Sync(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if secure := r.rt.Secure(); secure != nil {
		if !r.haveCipher {
			return 0, nil
		}
		return secure.Add.Decrypt(r.cipherValue)
	}
	return r.plainValue, nil
}

// Apply implements runtime.Callback: it folds LogOpWrite deltas in and
// treats LogOpSnapshot as an absolute replacement.
func (r *AddableRegister) Apply(op logentry.LogOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := op.(type) {
	case logentry.LogOpWrite:
		r.foldLocked(v.State)
	case logentry.LogOpSnapshot:
		r.replaceLocked(v.State)
	}
}

// ApplySnapshot implements runtime.SnapshotCallback.
func (r *AddableRegister) ApplySnapshot(snap logentry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceLocked(snap.Payload)
}

// Snapshot encodes the register's current running total as a
// logentry.State, for a materializer to stamp into the log.
func (r *AddableRegister) Snapshot() (logentry.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if secure := r.rt.Secure(); secure != nil {
		return logentry.EncryptedState{Data: r.cipherValue}, nil
	}
	return logentry.EncodedState{Data: strconv.FormatInt(r.plainValue, 10)}, nil
}

func (r *AddableRegister) foldLocked(state logentry.State) {
	secure := r.rt.Secure()
	switch s := state.(type) {
	case logentry.EncryptedState:
		failfast.If(secure != nil, "objects: AddableRegister obj %d received encrypted delta on unencrypted runtime", r.objID)
		if !r.haveCipher {
			r.cipherValue = s.Data
			r.haveCipher = true
			return
		}
		sum, err := secure.Add.Add(r.cipherValue, s.Data)
		failfast.Err(err)
		r.cipherValue = sum
	case logentry.EncodedState:
		delta, err := strconv.ParseInt(s.Data, 10, 64)
		failfast.Err(err)
		r.plainValue += delta
	default:
		failfast.Err(fmt.Errorf("objects: AddableRegister obj %d: unexpected state type %T", r.objID, state))
	}
}

func (r *AddableRegister) replaceLocked(state logentry.State) {
	secure := r.rt.Secure()
	switch s := state.(type) {
	case logentry.EncryptedState:
		failfast.If(secure != nil, "objects: AddableRegister obj %d received encrypted snapshot on unencrypted runtime", r.objID)
		r.cipherValue = s.Data
		r.haveCipher = true
	case logentry.EncodedState:
		n, err := strconv.ParseInt(s.Data, 10, 64)
		failfast.Err(err)
		r.plainValue = n
	default:
		failfast.Err(fmt.Errorf("objects: AddableRegister obj %d: unexpected state type %T", r.objID, state))
	}
}
