package indexedqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// InMemoryStore is a single-process, in-memory Store. Entries live only as
// long as the process does; there is no persistence or rotation, unlike
// pkg/appendlog's segment files. It is the backend a single client uses
// when it does not need to share its log with anyone else.
//
// SharedStore (NewSharedStore) is the identical type: in the original
// design InMemoryQueue and SharedQueue differed only in whether the log
// was privately owned or handed to multiple runtimes through a shared
// reference. In Go a *InMemoryStore passed to more than one Runtime
// already gets that sharing for free via its internal mutex, so
// NewSharedStore is a thin, distinctly-named constructor rather than a
// second implementation.
type InMemoryStore struct {
	mu         sync.RWMutex
	cond       *sync.Cond
	log        []logentry.LogData
	closed     bool
	maxBacklog int // 0 means unbounded

	appended   int64
	snapshoted int64
	rejected   int64
	streams    int64
}

// NewInMemoryStore creates an empty store. maxBacklog bounds the number of
// buffered entries before Append starts failing with ErrBackpressure; 0
// means unbounded.
func NewInMemoryStore(maxBacklog int) *InMemoryStore {
	s := &InMemoryStore{maxBacklog: maxBacklog}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NewSharedStore returns a store meant to be handed to multiple Runtimes
// concurrently. See the type doc for why this is not a distinct type.
func NewSharedStore(maxBacklog int) *InMemoryStore {
	return NewInMemoryStore(maxBacklog)
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.maxBacklog > 0 && len(s.log) >= s.maxBacklog {
		atomic.AddInt64(&s.rejected, 1)
		return 0, ErrBackpressure
	}

	idx := logentry.LogIndex(len(s.log))
	entry.Idx = &idx
	s.log = append(s.log, logentry.LogDataEntry{Entry: entry})
	atomic.AddInt64(&s.appended, 1)
	s.cond.Broadcast()
	return idx, nil
}

func (s *InMemoryStore) AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.maxBacklog > 0 && len(s.log) >= s.maxBacklog {
		atomic.AddInt64(&s.rejected, 1)
		return 0, ErrBackpressure
	}

	idx := logentry.LogIndex(len(s.log))
	snap.Idx = idx
	s.log = append(s.log, logentry.LogDataSnapshot{Snapshot: snap})
	atomic.AddInt64(&s.snapshoted, 1)
	s.cond.Broadcast()
	return idx, nil
}

func (s *InMemoryStore) Len(ctx context.Context) (logentry.LogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return logentry.LogIndex(len(s.log)), nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *InMemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		AppendedEntries:   atomic.LoadInt64(&s.appended),
		AppendedSnapshots: atomic.LoadInt64(&s.snapshoted),
		RejectedAppends:   atomic.LoadInt64(&s.rejected),
		ActiveStreams:     atomic.LoadInt64(&s.streams),
		HighestIndex:      int64(len(s.log)) - 1,
	}
}

// Stream replays the backlog from `from` onward, then blocks for new
// appends. It closes the returned channel when ctx is canceled or the
// store is closed, after draining whatever backlog it had buffered.
func (s *InMemoryStore) Stream(ctx context.Context, from logentry.LogIndex) (<-chan logentry.LogData, error) {
	out := make(chan logentry.LogData, 64)
	atomic.AddInt64(&s.streams, 1)

	// Wake the consumer's cond.Wait when ctx is canceled; cond has no
	// native ctx support.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stopWatch:
		}
	}()

	go func() {
		defer close(out)
		defer close(stopWatch)
		defer atomic.AddInt64(&s.streams, -1)

		next := int(from)
		if next < 0 {
			next = 0
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for {
			for next < len(s.log) {
				item := s.log[next]
				next++
				s.mu.Unlock()
				select {
				case out <- item:
				case <-ctx.Done():
					s.mu.Lock()
					return
				}
				s.mu.Lock()
			}
			if s.closed {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.cond.Wait()
		}
	}()

	return out, nil
}
