// Package logentry defines the wire-level data model shared by every
// IndexedQueue backend: log indices, object identifiers, encrypted/plain
// state payloads, and the transactional entry format that the runtime
// appends and the materializer replays.
package logentry

import "fmt"

// LogIndex is a position in the shared log. Indices are assigned by the
// queue backend and are monotonically increasing starting at 0.
type LogIndex int64

// ObjID identifies one object (Register, HMap, BTMap, ...) within a log.
type ObjID int32

// State is the payload carried by an Operation or a Snapshot. Its leaf
// forms are ciphertext produced by a MetaEncryptor (Encrypted) or a plain
// encoded value for unencrypted runtimes (Encoded); the map variants
// below (MapEntryState, MapSnapshotState, OrderedEntryState,
// OrderedSnapshotState) combine leaf States.
type State interface {
	isState()
}

// EncryptedState wraps opaque ciphertext bytes.
type EncryptedState struct {
	Data []byte
}

func (EncryptedState) isState() {}

// EncodedState wraps a plain, already-serialized value (no encryption
// layer configured on the runtime).
type EncodedState struct {
	Data string
}

func (EncodedState) isState() {}

// LogOp is the operator carried by an Operation: either a full
// replacement of an object's state (Snapshot) or an incremental
// operation to fold into the object's current state (Write).
type LogOp interface {
	isLogOp()
}

// LogOpSnapshot replaces an object's materialized state outright.
type LogOpSnapshot struct {
	State State
}

func (LogOpSnapshot) isLogOp() {}

// LogOpWrite folds an incremental operation into an object's state.
type LogOpWrite struct {
	State State
}

func (LogOpWrite) isLogOp() {}

// MapEntryState is the payload for an HMap or BTMap insert: key and
// value are encrypted under separate ciphers (Eq or Ord for the key,
// Auth for the value), so they travel as two independent State blobs
// rather than one combined ciphertext.
type MapEntryState struct {
	Key State
	Val State
}

func (MapEntryState) isState() {}

// MapSnapshotState is the payload for a materialized HMap/BTMap
// snapshot: the full set of entries as of a given log index.
type MapSnapshotState struct {
	Entries []MapEntryState
}

func (MapSnapshotState) isState() {}

// OrderedEntryState is BTMap's insert payload. SortKey is an
// Ord-ciphertext (or, unencrypted, biased plaintext bytes) compared
// bytewise to place the entry in sorted order — it is never decoded
// back into a key. Key and Val carry the real key and value under the
// Auth cipher, recovered independently of SortKey.
type OrderedEntryState struct {
	SortKey []byte
	Key     State
	Val     State
}

func (OrderedEntryState) isState() {}

// OrderedSnapshotState is the payload for a materialized BTMap snapshot.
type OrderedSnapshotState struct {
	Entries []OrderedEntryState
}

func (OrderedSnapshotState) isState() {}

// Operation targets one object with one LogOp.
type Operation struct {
	ObjID    ObjID
	Operator LogOp
}

// TxType marks where an Entry sits relative to a multi-entry transaction.
type TxType int

const (
	TxNone TxType = iota
	TxBegin
	TxEnd
)

func (t TxType) String() string {
	switch t {
	case TxBegin:
		return "begin"
	case TxEnd:
		return "end"
	default:
		return "none"
	}
}

// TxState records whether a transaction committed, relevant only on
// entries carrying TxEnd.
type TxState int

const (
	TxStateNone TxState = iota
	TxAccepted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxAccepted:
		return "accepted"
	case TxAborted:
		return "aborted"
	default:
		return "none"
	}
}

// Entry is a single record appended to the shared log. Idx is nil until
// the backend assigns a position; Reads/Writes record the read-set and
// write-set, which backends store and transmit but do not validate, and
// Operations carries the actual per-object mutations.
type Entry struct {
	Idx        *LogIndex
	Reads      map[ObjID]LogIndex
	Writes     map[ObjID]struct{}
	Operations []Operation
	TxType     TxType
	TxState    TxState
}

// NewEntry builds an Entry with empty read/write sets, ready to have
// operations appended to it before Runtime.Append.
func NewEntry() Entry {
	return Entry{
		Reads:  make(map[ObjID]LogIndex),
		Writes: make(map[ObjID]struct{}),
	}
}

// AddRead records that idx was the version of obj observed before this
// entry was built. The read-set travels with the entry; no backend checks
// it for conflicts.
func (e *Entry) AddRead(obj ObjID, idx LogIndex) {
	e.Reads[obj] = idx
}

// AddWrite appends an operation and marks obj as written by this entry.
func (e *Entry) AddWrite(obj ObjID, op LogOp) {
	e.Writes[obj] = struct{}{}
	e.Operations = append(e.Operations, Operation{ObjID: obj, Operator: op})
}

// Snapshot is a materialized object state as of a specific log index,
// produced by the materializer and consumed by a SnapshotStore.
type Snapshot struct {
	ObjID   ObjID
	Idx     LogIndex
	Payload State
}

// LogData is the unit yielded by an IndexedQueue.Stream: either a regular
// appended Entry or a stored Snapshot standing in for a prefix of entries.
type LogData interface {
	isLogData()
	fmt.Stringer
}

// LogDataEntry wraps a streamed Entry.
type LogDataEntry struct {
	Entry Entry
}

func (LogDataEntry) isLogData() {}
func (d LogDataEntry) String() string {
	idx := int64(-1)
	if d.Entry.Idx != nil {
		idx = int64(*d.Entry.Idx)
	}
	return fmt.Sprintf("LogEntry(idx=%d, ops=%d)", idx, len(d.Entry.Operations))
}

// LogDataSnapshot wraps a streamed Snapshot.
type LogDataSnapshot struct {
	Snapshot Snapshot
}

func (LogDataSnapshot) isLogData() {}
func (d LogDataSnapshot) String() string {
	return fmt.Sprintf("LogSnapshot(obj=%d, idx=%d)", d.Snapshot.ObjID, d.Snapshot.Idx)
}
