// Package remotelog is the HTTP transport for indexedqueue.Store: a
// fasthttp server exposing one endpoint that accepts tagged JSON
// requests (append, append_snapshot, stream), and a client implementing
// indexedqueue.Store against it. The wire format mirrors the original
// HttpClient/HttpServer split, generalized from raw Entry bytes to the
// full State/LogOp/LogData sum types logentry defines.
package remotelog

import (
	"encoding/json"
	"fmt"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// stateDTO is a tagged encoding of logentry.State. Exactly one of the
// fields relevant to Kind is populated; this mirrors how the original
// Rust side leaned on serde's enum tagging, done by hand here since Go
// interfaces don't marshal on their own.
type stateDTO struct {
	Kind string `json:"kind"`

	// encrypted / encoded leaves
	Bytes []byte `json:"bytes,omitempty"`
	Text  string `json:"text,omitempty"`

	// map_entry
	Key *stateDTO `json:"key,omitempty"`
	Val *stateDTO `json:"val,omitempty"`

	// map_snapshot
	Entries []mapEntryDTO `json:"entries,omitempty"`

	// ordered_entry
	SortKey []byte `json:"sort_key,omitempty"`

	// ordered_snapshot
	OrderedEntries []orderedEntryDTO `json:"ordered_entries,omitempty"`
}

type mapEntryDTO struct {
	Key stateDTO `json:"key"`
	Val stateDTO `json:"val"`
}

type orderedEntryDTO struct {
	SortKey []byte   `json:"sort_key"`
	Key     stateDTO `json:"key"`
	Val     stateDTO `json:"val"`
}

func encodeState(s logentry.State) stateDTO {
	switch v := s.(type) {
	case logentry.EncryptedState:
		return stateDTO{Kind: "encrypted", Bytes: v.Data}
	case logentry.EncodedState:
		return stateDTO{Kind: "encoded", Text: v.Data}
	case logentry.MapEntryState:
		k, val := encodeState(v.Key), encodeState(v.Val)
		return stateDTO{Kind: "map_entry", Key: &k, Val: &val}
	case logentry.MapSnapshotState:
		entries := make([]mapEntryDTO, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = mapEntryDTO{Key: encodeState(e.Key), Val: encodeState(e.Val)}
		}
		return stateDTO{Kind: "map_snapshot", Entries: entries}
	case logentry.OrderedEntryState:
		k, val := encodeState(v.Key), encodeState(v.Val)
		return stateDTO{Kind: "ordered_entry", SortKey: v.SortKey, Key: &k, Val: &val}
	case logentry.OrderedSnapshotState:
		entries := make([]orderedEntryDTO, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = orderedEntryDTO{SortKey: e.SortKey, Key: encodeState(e.Key), Val: encodeState(e.Val)}
		}
		return stateDTO{Kind: "ordered_snapshot", OrderedEntries: entries}
	default:
		panic(fmt.Sprintf("remotelog: unknown State type %T", s))
	}
}

func decodeState(d stateDTO) (logentry.State, error) {
	switch d.Kind {
	case "encrypted":
		return logentry.EncryptedState{Data: d.Bytes}, nil
	case "encoded":
		return logentry.EncodedState{Data: d.Text}, nil
	case "map_entry":
		if d.Key == nil || d.Val == nil {
			return nil, fmt.Errorf("remotelog: map_entry missing key/val")
		}
		key, err := decodeState(*d.Key)
		if err != nil {
			return nil, err
		}
		val, err := decodeState(*d.Val)
		if err != nil {
			return nil, err
		}
		return logentry.MapEntryState{Key: key, Val: val}, nil
	case "map_snapshot":
		entries := make([]logentry.MapEntryState, len(d.Entries))
		for i, e := range d.Entries {
			key, err := decodeState(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := decodeState(e.Val)
			if err != nil {
				return nil, err
			}
			entries[i] = logentry.MapEntryState{Key: key, Val: val}
		}
		return logentry.MapSnapshotState{Entries: entries}, nil
	case "ordered_entry":
		if d.Key == nil || d.Val == nil {
			return nil, fmt.Errorf("remotelog: ordered_entry missing key/val")
		}
		key, err := decodeState(*d.Key)
		if err != nil {
			return nil, err
		}
		val, err := decodeState(*d.Val)
		if err != nil {
			return nil, err
		}
		return logentry.OrderedEntryState{SortKey: d.SortKey, Key: key, Val: val}, nil
	case "ordered_snapshot":
		entries := make([]logentry.OrderedEntryState, len(d.OrderedEntries))
		for i, e := range d.OrderedEntries {
			key, err := decodeState(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := decodeState(e.Val)
			if err != nil {
				return nil, err
			}
			entries[i] = logentry.OrderedEntryState{SortKey: e.SortKey, Key: key, Val: val}
		}
		return logentry.OrderedSnapshotState{Entries: entries}, nil
	default:
		return nil, fmt.Errorf("remotelog: unknown state kind %q", d.Kind)
	}
}

type logOpDTO struct {
	Kind  string   `json:"kind"` // write | snapshot
	State stateDTO `json:"state"`
}

func encodeLogOp(op logentry.LogOp) logOpDTO {
	switch v := op.(type) {
	case logentry.LogOpWrite:
		return logOpDTO{Kind: "write", State: encodeState(v.State)}
	case logentry.LogOpSnapshot:
		return logOpDTO{Kind: "snapshot", State: encodeState(v.State)}
	default:
		panic(fmt.Sprintf("remotelog: unknown LogOp type %T", op))
	}
}

func decodeLogOp(d logOpDTO) (logentry.LogOp, error) {
	state, err := decodeState(d.State)
	if err != nil {
		return nil, err
	}
	switch d.Kind {
	case "write":
		return logentry.LogOpWrite{State: state}, nil
	case "snapshot":
		return logentry.LogOpSnapshot{State: state}, nil
	default:
		return nil, fmt.Errorf("remotelog: unknown log_op kind %q", d.Kind)
	}
}

type operationDTO struct {
	ObjID    int32    `json:"obj_id"`
	Operator logOpDTO `json:"operator"`
}

type entryDTO struct {
	Idx        *int64             `json:"idx,omitempty"`
	Reads      map[int32]int64    `json:"reads,omitempty"`
	Writes     []int32            `json:"writes,omitempty"`
	Operations []operationDTO     `json:"operations"`
	TxType     int                `json:"tx_type"`
	TxState    int                `json:"tx_state"`
}

func encodeEntry(e logentry.Entry) entryDTO {
	d := entryDTO{TxType: int(e.TxType), TxState: int(e.TxState)}
	if e.Idx != nil {
		v := int64(*e.Idx)
		d.Idx = &v
	}
	if len(e.Reads) > 0 {
		d.Reads = make(map[int32]int64, len(e.Reads))
		for obj, idx := range e.Reads {
			d.Reads[int32(obj)] = int64(idx)
		}
	}
	for obj := range e.Writes {
		d.Writes = append(d.Writes, int32(obj))
	}
	d.Operations = make([]operationDTO, len(e.Operations))
	for i, op := range e.Operations {
		d.Operations[i] = operationDTO{ObjID: int32(op.ObjID), Operator: encodeLogOp(op.Operator)}
	}
	return d
}

func decodeEntry(d entryDTO) (logentry.Entry, error) {
	e := logentry.NewEntry()
	e.TxType = logentry.TxType(d.TxType)
	e.TxState = logentry.TxState(d.TxState)
	if d.Idx != nil {
		idx := logentry.LogIndex(*d.Idx)
		e.Idx = &idx
	}
	for obj, idx := range d.Reads {
		e.Reads[logentry.ObjID(obj)] = logentry.LogIndex(idx)
	}
	for _, obj := range d.Writes {
		e.Writes[logentry.ObjID(obj)] = struct{}{}
	}
	for _, opDTO := range d.Operations {
		op, err := decodeLogOp(opDTO.Operator)
		if err != nil {
			return logentry.Entry{}, err
		}
		e.Operations = append(e.Operations, logentry.Operation{ObjID: logentry.ObjID(opDTO.ObjID), Operator: op})
	}
	return e, nil
}

type snapshotDTO struct {
	ObjID   int32    `json:"obj_id"`
	Idx     int64    `json:"idx"`
	Payload stateDTO `json:"payload"`
}

func encodeSnapshot(s logentry.Snapshot) snapshotDTO {
	return snapshotDTO{ObjID: int32(s.ObjID), Idx: int64(s.Idx), Payload: encodeState(s.Payload)}
}

func decodeSnapshot(d snapshotDTO) (logentry.Snapshot, error) {
	payload, err := decodeState(d.Payload)
	if err != nil {
		return logentry.Snapshot{}, err
	}
	return logentry.Snapshot{ObjID: logentry.ObjID(d.ObjID), Idx: logentry.LogIndex(d.Idx), Payload: payload}, nil
}

type logDataDTO struct {
	Kind     string       `json:"kind"` // entry | snapshot
	Entry    *entryDTO    `json:"entry,omitempty"`
	Snapshot *snapshotDTO `json:"snapshot,omitempty"`
}

func encodeLogData(d logentry.LogData) logDataDTO {
	switch v := d.(type) {
	case logentry.LogDataEntry:
		e := encodeEntry(v.Entry)
		return logDataDTO{Kind: "entry", Entry: &e}
	case logentry.LogDataSnapshot:
		s := encodeSnapshot(v.Snapshot)
		return logDataDTO{Kind: "snapshot", Snapshot: &s}
	default:
		panic(fmt.Sprintf("remotelog: unknown LogData type %T", d))
	}
}

func decodeLogData(d logDataDTO) (logentry.LogData, error) {
	switch d.Kind {
	case "entry":
		if d.Entry == nil {
			return nil, fmt.Errorf("remotelog: entry log_data missing entry")
		}
		e, err := decodeEntry(*d.Entry)
		if err != nil {
			return nil, err
		}
		return logentry.LogDataEntry{Entry: e}, nil
	case "snapshot":
		if d.Snapshot == nil {
			return nil, fmt.Errorf("remotelog: snapshot log_data missing snapshot")
		}
		s, err := decodeSnapshot(*d.Snapshot)
		if err != nil {
			return nil, err
		}
		return logentry.LogDataSnapshot{Snapshot: s}, nil
	default:
		return nil, fmt.Errorf("remotelog: unknown log_data kind %q", d.Kind)
	}
}

// requestDTO is the single request shape the server endpoint accepts,
// tagged by Op, mirroring the original HttpRequest enum (Append | Stream).
type requestDTO struct {
	Op       string       `json:"op"` // append | append_snapshot | stream
	Entry    *entryDTO    `json:"entry,omitempty"`
	Snapshot *snapshotDTO `json:"snapshot,omitempty"`
	From     int64        `json:"from,omitempty"`
}

type responseDTO struct {
	Idx   int64  `json:"idx,omitempty"`
	Error string `json:"error,omitempty"`
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("remotelog: marshal %T: %v", v, err))
	}
	return data
}

// MarshalLogData serializes a single LogData item to JSON, using the same
// tagged-union encoding the HTTP wire protocol uses. Other transports
// (e.g. pkg/remotetable's conditional-put backends) reuse it so every
// backend stores and reads the identical wire representation.
func MarshalLogData(d logentry.LogData) []byte {
	return marshal(encodeLogData(d))
}

// UnmarshalLogData is the inverse of MarshalLogData.
func UnmarshalLogData(data []byte) (logentry.LogData, error) {
	var dto logDataDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("remotelog: unmarshal log data: %w", err)
	}
	return decodeLogData(dto)
}
