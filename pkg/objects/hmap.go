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

// HMap is a replicated hash map. Keys are encrypted with the runtime's Eq
// cipher (deterministic, so the same plaintext key always round-trips to
// the same lookup) and values with the Auth cipher. The whole map shares
// a single obj_id; each Insert appends one MapEntryState operation.
type HMap[K comparable, V any] struct {
	rt      *runtime.Runtime
	objID   logentry.ObjID
	keyConv converters.EqableConverter[K]
	valConv converters.Converter[V]

	mu      sync.RWMutex
	entries map[string]hmapEntry[K, V]
}

type hmapEntry[K comparable, V any] struct {
	key K
	val V
}

// NewHMap creates an empty HMap and registers it with rt under objID.
func NewHMap[K comparable, V any](rt *runtime.Runtime, objID logentry.ObjID, keyConv converters.EqableConverter[K], valConv converters.Converter[V]) *HMap[K, V] {
	failfast.NotNil(rt, "rt")
	failfast.NotNil(keyConv, "keyConv")
	failfast.NotNil(valConv, "valConv")
	m := &HMap[K, V]{
		rt:      rt,
		objID:   objID,
		keyConv: keyConv,
		valConv: valConv,
		entries: make(map[string]hmapEntry[K, V]),
	}
	rt.RegisterObject(objID, m)
	return m
}

// Insert sets key to val and appends the change to the log.
func (m *HMap[K, V]) Insert(ctx context.Context, key K, val V) error {
	mapState, err := m.encodeEntry(key, val)
	if err != nil {
		return err
	}
	entry := logentry.NewEntry()
	entry.AddWrite(m.objID, logentry.LogOpWrite{State: mapState})
	_, err = m.rt.Append(ctx, entry)
	return err
}

// Get syncs with the log and returns the value for key, if present.
func (m *HMap[K, V]) Get(ctx context.Context, key K) (val V, ok bool, err error) {
	if err = m.rt.Sync(ctx); err != nil {
		return val, false, err
	}
	encodedKey, err := m.keyConv.Encode(key)
	if err != nil {
		return val, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, present := m.entries[encodedKey]
	return e.val, present, nil
}

// Len syncs with the log and returns the number of entries.
func (m *HMap[K, V]) Len(ctx context.Context) (int, error) {
	if err := m.rt.Sync(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Apply implements runtime.Callback.
func (m *HMap[K, V]) Apply(op logentry.LogOp) {
	var state logentry.State
	switch v := op.(type) {
	case logentry.LogOpWrite:
		state = v.State
	case logentry.LogOpSnapshot:
		state = v.State
	default:
		return
	}
	if snap, ok := state.(logentry.MapSnapshotState); ok {
		m.replaceAll(snap.Entries)
		return
	}
	entryState, ok := state.(logentry.MapEntryState)
	failfast.If(ok, "objects: HMap obj %d: unexpected state type %T", m.objID, state)
	m.applyEntry(entryState)
}

// ApplySnapshot implements runtime.SnapshotCallback.
func (m *HMap[K, V]) ApplySnapshot(snap logentry.Snapshot) {
	ms, ok := snap.Payload.(logentry.MapSnapshotState)
	failfast.If(ok, "objects: HMap obj %d: unexpected snapshot payload type %T", m.objID, snap.Payload)
	m.replaceAll(ms.Entries)
}

// Snapshot re-encodes every current entry into a logentry.MapSnapshotState,
// for a materializer to stamp into the log.
func (m *HMap[K, V]) Snapshot() (logentry.State, error) {
	m.mu.RLock()
	entries := make([]hmapEntry[K, V], 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]logentry.MapEntryState, 0, len(entries))
	for _, e := range entries {
		es, err := m.encodeEntry(e.key, e.val)
		if err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return logentry.MapSnapshotState{Entries: out}, nil
}

func (m *HMap[K, V]) replaceAll(entries []logentry.MapEntryState) {
	decoded := make(map[string]hmapEntry[K, V], len(entries))
	for _, e := range entries {
		key, val, encodedKey, err := m.decodeEntry(e)
		failfast.Err(err)
		decoded[encodedKey] = hmapEntry[K, V]{key: key, val: val}
	}
	m.mu.Lock()
	m.entries = decoded
	m.mu.Unlock()
}

func (m *HMap[K, V]) applyEntry(e logentry.MapEntryState) {
	key, val, encodedKey, err := m.decodeEntry(e)
	failfast.Err(err)
	m.mu.Lock()
	m.entries[encodedKey] = hmapEntry[K, V]{key: key, val: val}
	m.mu.Unlock()
}

func (m *HMap[K, V]) encodeEntry(key K, val V) (logentry.MapEntryState, error) {
	encodedKey, err := m.keyConv.Encode(key)
	if err != nil {
		return logentry.MapEntryState{}, err
	}
	encodedVal, err := m.valConv.Encode(val)
	if err != nil {
		return logentry.MapEntryState{}, err
	}

	keyState, err := m.encodeKeyState(encodedKey)
	if err != nil {
		return logentry.MapEntryState{}, err
	}
	valState, err := m.encodeValState(encodedVal)
	if err != nil {
		return logentry.MapEntryState{}, err
	}
	return logentry.MapEntryState{Key: keyState, Val: valState}, nil
}

func (m *HMap[K, V]) encodeKeyState(encodedKey string) (logentry.State, error) {
	if secure := m.rt.Secure(); secure != nil {
		ct, err := secure.Eq.Encrypt([]byte(encodedKey))
		if err != nil {
			return nil, err
		}
		return logentry.EncryptedState{Data: ct}, nil
	}
	return logentry.EncodedState{Data: encodedKey}, nil
}

func (m *HMap[K, V]) encodeValState(encodedVal string) (logentry.State, error) {
	if secure := m.rt.Secure(); secure != nil {
		ct, err := secure.Auth.Encrypt([]byte(encodedVal))
		if err != nil {
			return nil, err
		}
		return logentry.EncryptedState{Data: ct}, nil
	}
	return logentry.EncodedState{Data: encodedVal}, nil
}

func (m *HMap[K, V]) decodeEntry(e logentry.MapEntryState) (key K, val V, encodedKey string, err error) {
	encodedKey, err = m.decodeKeyState(e.Key)
	if err != nil {
		return key, val, "", err
	}
	key, err = m.keyConv.Decode(encodedKey)
	if err != nil {
		return key, val, "", err
	}
	encodedVal, err := m.decodeValState(e.Val)
	if err != nil {
		return key, val, "", err
	}
	val, err = m.valConv.Decode(encodedVal)
	if err != nil {
		return key, val, "", err
	}
	return key, val, encodedKey, nil
}

func (m *HMap[K, V]) decodeKeyState(state logentry.State) (string, error) {
	switch s := state.(type) {
	case logentry.EncryptedState:
		secure := m.rt.Secure()
		if secure == nil {
			return "", fmt.Errorf("received encrypted key on an unencrypted runtime")
		}
		plain, err := secure.Eq.Decrypt(s.Data)
		if err != nil {
			return "", err
		}
		return string(plain), nil
	case logentry.EncodedState:
		return s.Data, nil
	default:
		return "", fmt.Errorf("unexpected key state type %T", state)
	}
}

func (m *HMap[K, V]) decodeValState(state logentry.State) (string, error) {
	switch s := state.(type) {
	case logentry.EncryptedState:
		secure := m.rt.Secure()
		if secure == nil {
			return "", fmt.Errorf("received encrypted value on an unencrypted runtime")
		}
		plain, err := secure.Auth.Decrypt(s.Data)
		if err != nil {
			return "", err
		}
		return string(plain), nil
	case logentry.EncodedState:
		return s.Data, nil
	default:
		return "", fmt.Errorf("unexpected value state type %T", state)
	}
}
