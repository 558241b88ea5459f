package objects

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iuliatamas/cryptlog/pkg/converters"
	"github.com/iuliatamas/cryptlog/pkg/core/failfast"
	"github.com/iuliatamas/cryptlog/pkg/cryptlogcrypto"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

// BTMap is a replicated ordered map. Entries are kept sorted by an
// Ord-cipher-encrypted sort key (see logentry.OrderedEntryState); the
// real key and value travel separately under the Auth cipher, so
// traversal order never depends on decrypting anything.
type BTMap[K comparable, V any] struct {
	rt      *runtime.Runtime
	objID   logentry.ObjID
	keyConv converters.Converter[K]
	ordConv converters.OrdKeyConverter[K]
	valConv converters.Converter[V]

	mu    sync.RWMutex
	byKey map[K]*btNode[K, V]
	order []*btNode[K, V] // always kept sorted by orderBytes
}

type btNode[K comparable, V any] struct {
	key        K
	val        V
	orderBytes []byte
}

// NewBTMap creates an empty BTMap and registers it with rt under objID.
func NewBTMap[K comparable, V any](rt *runtime.Runtime, objID logentry.ObjID, keyConv converters.Converter[K], ordConv converters.OrdKeyConverter[K], valConv converters.Converter[V]) *BTMap[K, V] {
	failfast.NotNil(rt, "rt")
	failfast.NotNil(keyConv, "keyConv")
	failfast.NotNil(ordConv, "ordConv")
	failfast.NotNil(valConv, "valConv")
	m := &BTMap[K, V]{
		rt:      rt,
		objID:   objID,
		keyConv: keyConv,
		ordConv: ordConv,
		valConv: valConv,
		byKey:   make(map[K]*btNode[K, V]),
	}
	rt.RegisterObject(objID, m)
	return m
}

// Insert sets key to val, appending the change to the log.
func (m *BTMap[K, V]) Insert(ctx context.Context, key K, val V) error {
	state, err := m.encodeEntry(key, val)
	if err != nil {
		return err
	}
	entry := logentry.NewEntry()
	entry.AddWrite(m.objID, logentry.LogOpWrite{State: state})
	_, err = m.rt.Append(ctx, entry)
	return err
}

// Get syncs with the log and returns the value for key, if present.
func (m *BTMap[K, V]) Get(ctx context.Context, key K) (val V, ok bool, err error) {
	if err = m.rt.Sync(ctx); err != nil {
		return val, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, present := m.byKey[key]
	if !present {
		return val, false, nil
	}
	return n.val, true, nil
}

// Len syncs with the log and returns the number of entries.
func (m *BTMap[K, V]) Len(ctx context.Context) (int, error) {
	if err := m.rt.Sync(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

// KeysInOrder syncs with the log and returns every key in ascending
// order, as determined by the ordered ciphertext comparison — never by
// decoding and comparing the real keys.
func (m *BTMap[K, V]) KeysInOrder(ctx context.Context) ([]K, error) {
	if err := m.rt.Sync(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, len(m.order))
	for i, n := range m.order {
		keys[i] = n.key
	}
	return keys, nil
}

// PopFirst removes and returns the lowest-order entry directly from
// local state, without appending a corresponding removal to the log.
// It exists only for tests that need to assert on traversal order; it
// is not part of the replicated operation set and other replicas never
// see its effect.
func (m *BTMap[K, V]) PopFirst() (key K, val V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return key, val, false
	}
	n := m.order[0]
	m.order = m.order[1:]
	delete(m.byKey, n.key)
	return n.key, n.val, true
}

// Apply implements runtime.Callback.
func (m *BTMap[K, V]) Apply(op logentry.LogOp) {
	var state logentry.State
	switch v := op.(type) {
	case logentry.LogOpWrite:
		state = v.State
	case logentry.LogOpSnapshot:
		state = v.State
	default:
		return
	}
	if snap, ok := state.(logentry.OrderedSnapshotState); ok {
		m.replaceAll(snap.Entries)
		return
	}
	entryState, ok := state.(logentry.OrderedEntryState)
	failfast.If(ok, "objects: BTMap obj %d: unexpected state type %T", m.objID, state)
	m.applyEntry(entryState)
}

// ApplySnapshot implements runtime.SnapshotCallback.
func (m *BTMap[K, V]) ApplySnapshot(snap logentry.Snapshot) {
	ms, ok := snap.Payload.(logentry.OrderedSnapshotState)
	failfast.If(ok, "objects: BTMap obj %d: unexpected snapshot payload type %T", m.objID, snap.Payload)
	m.replaceAll(ms.Entries)
}

// Snapshot re-encodes every current entry, in order, into a
// logentry.OrderedSnapshotState, for a materializer to stamp into the log.
func (m *BTMap[K, V]) Snapshot() (logentry.State, error) {
	m.mu.RLock()
	nodes := make([]*btNode[K, V], len(m.order))
	copy(nodes, m.order)
	m.mu.RUnlock()

	out := make([]logentry.OrderedEntryState, 0, len(nodes))
	for _, n := range nodes {
		es, err := m.encodeEntry(n.key, n.val)
		if err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return logentry.OrderedSnapshotState{Entries: out}, nil
}

func (m *BTMap[K, V]) replaceAll(entries []logentry.OrderedEntryState) {
	byKey := make(map[K]*btNode[K, V], len(entries))
	order := make([]*btNode[K, V], 0, len(entries))
	for _, e := range entries {
		n, err := m.decodeNode(e)
		failfast.Err(err)
		byKey[n.key] = n
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i].orderBytes, order[j].orderBytes) < 0
	})
	m.mu.Lock()
	m.byKey = byKey
	m.order = order
	m.mu.Unlock()
}

func (m *BTMap[K, V]) applyEntry(e logentry.OrderedEntryState) {
	n, err := m.decodeNode(e)
	failfast.Err(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[n.key]; ok {
		m.removeFromOrderLocked(existing)
	}
	m.byKey[n.key] = n
	pos := sort.Search(len(m.order), func(i int) bool {
		return bytes.Compare(m.order[i].orderBytes, n.orderBytes) >= 0
	})
	m.order = append(m.order, nil)
	copy(m.order[pos+1:], m.order[pos:])
	m.order[pos] = n
}

func (m *BTMap[K, V]) removeFromOrderLocked(target *btNode[K, V]) {
	pos := sort.Search(len(m.order), func(i int) bool {
		return bytes.Compare(m.order[i].orderBytes, target.orderBytes) >= 0
	})
	for i := pos; i < len(m.order) && bytes.Equal(m.order[i].orderBytes, target.orderBytes); i++ {
		if m.order[i] == target {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *BTMap[K, V]) encodeEntry(key K, val V) (logentry.OrderedEntryState, error) {
	sortKey, err := m.ordConv.SortKey(key)
	if err != nil {
		return logentry.OrderedEntryState{}, err
	}
	encodedKey, err := m.keyConv.Encode(key)
	if err != nil {
		return logentry.OrderedEntryState{}, err
	}
	encodedVal, err := m.valConv.Encode(val)
	if err != nil {
		return logentry.OrderedEntryState{}, err
	}

	var sortBytes []byte
	keyState, err := m.encodeAuthState(encodedKey)
	if err != nil {
		return logentry.OrderedEntryState{}, err
	}
	valState, err := m.encodeAuthState(encodedVal)
	if err != nil {
		return logentry.OrderedEntryState{}, err
	}

	if secure := m.rt.Secure(); secure != nil {
		sortBytes, err = secure.Ord.Encrypt(sortKey)
		if err != nil {
			return logentry.OrderedEntryState{}, err
		}
	} else {
		sortBytes = cryptlogcrypto.BiasedOrderBytes(sortKey)
	}

	return logentry.OrderedEntryState{SortKey: sortBytes, Key: keyState, Val: valState}, nil
}

func (m *BTMap[K, V]) encodeAuthState(encoded string) (logentry.State, error) {
	if secure := m.rt.Secure(); secure != nil {
		ct, err := secure.Auth.Encrypt([]byte(encoded))
		if err != nil {
			return nil, err
		}
		return logentry.EncryptedState{Data: ct}, nil
	}
	return logentry.EncodedState{Data: encoded}, nil
}

func (m *BTMap[K, V]) decodeAuthState(state logentry.State) (string, error) {
	switch s := state.(type) {
	case logentry.EncryptedState:
		secure := m.rt.Secure()
		if secure == nil {
			return "", fmt.Errorf("received encrypted state on an unencrypted runtime")
		}
		plain, err := secure.Auth.Decrypt(s.Data)
		if err != nil {
			return "", err
		}
		return string(plain), nil
	case logentry.EncodedState:
		return s.Data, nil
	default:
		return "", fmt.Errorf("unexpected state type %T", state)
	}
}

func (m *BTMap[K, V]) decodeNode(e logentry.OrderedEntryState) (*btNode[K, V], error) {
	encodedKey, err := m.decodeAuthState(e.Key)
	if err != nil {
		return nil, err
	}
	key, err := m.keyConv.Decode(encodedKey)
	if err != nil {
		return nil, err
	}
	encodedVal, err := m.decodeAuthState(e.Val)
	if err != nil {
		return nil, err
	}
	val, err := m.valConv.Decode(encodedVal)
	if err != nil {
		return nil, err
	}
	return &btNode[K, V]{key: key, val: val, orderBytes: e.SortKey}, nil
}
