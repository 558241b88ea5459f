package materializer

import (
	"context"
	"sort"
	"sync"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// SnapshotStore answers "what is the latest snapshot for obj_id at or
// before index I", the index the hybrid VM.Stream needs to decide where
// to start tailing raw entries for a newly-joining client.
type SnapshotStore interface {
	Put(ctx context.Context, snap logentry.Snapshot) error
	Latest(ctx context.Context, obj logentry.ObjID, atOrBefore logentry.LogIndex) (logentry.Snapshot, bool, error)
	Objects() []logentry.ObjID
}

// skiplistStore is a per-object sorted slice of snapshots, indexed by
// binary search. Named after the original MapSkiplist it is grounded
// on: a skiplist and a sorted slice answer the same "latest at or
// before I" query with the same asymptotics for the append-mostly,
// rarely-pruned snapshot workload a VM produces, and the slice is far
// less code.
type skiplistStore struct {
	mu     sync.RWMutex
	byObj  map[logentry.ObjID][]logentry.Snapshot // kept sorted ascending by Idx
}

// NewSkiplistStore creates an empty, in-memory SnapshotStore.
func NewSkiplistStore() SnapshotStore {
	return &skiplistStore{byObj: make(map[logentry.ObjID][]logentry.Snapshot)}
}

func (s *skiplistStore) Put(ctx context.Context, snap logentry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byObj[snap.ObjID]
	pos := sort.Search(len(list), func(i int) bool { return list[i].Idx >= snap.Idx })
	if pos < len(list) && list[pos].Idx == snap.Idx {
		list[pos] = snap
	} else {
		list = append(list, logentry.Snapshot{})
		copy(list[pos+1:], list[pos:])
		list[pos] = snap
	}
	s.byObj[snap.ObjID] = list
	return nil
}

func (s *skiplistStore) Latest(ctx context.Context, obj logentry.ObjID, atOrBefore logentry.LogIndex) (logentry.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byObj[obj]
	// Largest index <= atOrBefore: first index strictly greater, then step back one.
	pos := sort.Search(len(list), func(i int) bool { return list[i].Idx > atOrBefore })
	if pos == 0 {
		return logentry.Snapshot{}, false, nil
	}
	return list[pos-1], true, nil
}

func (s *skiplistStore) Objects() []logentry.ObjID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]logentry.ObjID, 0, len(s.byObj))
	for obj := range s.byObj {
		out = append(out, obj)
	}
	return out
}
