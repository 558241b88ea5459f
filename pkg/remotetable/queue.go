package remotetable

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/remotelog"
)

// RemoteTableQueue implements indexedqueue.Store on top of any TableStore,
// retrying Append at successive indices on conflict rather than taking a
// lock: two writers racing for the same index resolve through the unique
// constraint instead of coordinating beforehand.
type RemoteTableQueue struct {
	table        TableStore
	pollInterval time.Duration

	mu       sync.Mutex
	nextHint int64 // local hint for the next index to try; advances past conflicts
}

// NewRemoteTableQueue wraps table. pollInterval controls how often Stream
// checks for new rows past the tail it has already delivered; 0 selects a
// sensible default.
func NewRemoteTableQueue(table TableStore, pollInterval time.Duration) *RemoteTableQueue {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &RemoteTableQueue{table: table, pollInterval: pollInterval}
}

// Append retries ConditionalPut at increasing indices until one succeeds,
// mirroring DynamoQueue's append loop: a conflict means another writer
// claimed that index first, so we just try the next one.
func (q *RemoteTableQueue) Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error) {
	return q.appendLogData(ctx, logentry.LogDataEntry{Entry: entry})
}

// AppendSnapshot records snap through the same conditional-put retry loop
// as Append, interleaved in the same row sequence as regular entries.
func (q *RemoteTableQueue) AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error) {
	return q.appendLogData(ctx, logentry.LogDataSnapshot{Snapshot: snap})
}

func (q *RemoteTableQueue) appendLogData(ctx context.Context, item logentry.LogData) (logentry.LogIndex, error) {
	data := remotelog.MarshalLogData(item)

	q.mu.Lock()
	idx := q.nextHint
	q.mu.Unlock()

	for {
		err := q.table.ConditionalPut(ctx, idx, data)
		if err == nil {
			q.mu.Lock()
			if idx+1 > q.nextHint {
				q.nextHint = idx + 1
			}
			q.mu.Unlock()
			return logentry.LogIndex(idx), nil
		}
		if errors.Is(err, ErrConflict) {
			idx++
			continue
		}
		return 0, err
	}
}

// Stream polls the table from `from` onward, delivering each row as it
// appears and blocking (via pollInterval) past the current tail, the way
// DynamoQueue::stream polls length()+get() in a loop instead of pushing.
func (q *RemoteTableQueue) Stream(ctx context.Context, from logentry.LogIndex) (<-chan logentry.LogData, error) {
	out := make(chan logentry.LogData, 64)
	go func() {
		defer close(out)
		next := int64(from)
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()
		for {
			data, ok, err := q.table.Get(ctx, next)
			if err != nil {
				return
			}
			if !ok {
				select {
				case <-ticker.C:
					continue
				case <-ctx.Done():
					return
				}
			}
			item, err := remotelog.UnmarshalLogData(data)
			if err != nil {
				return
			}
			select {
			case out <- item:
				next++
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len returns one past the highest row index written.
func (q *RemoteTableQueue) Len(ctx context.Context) (logentry.LogIndex, error) {
	n, err := q.table.Length(ctx)
	if err != nil {
		return 0, err
	}
	return logentry.LogIndex(n), nil
}

func (q *RemoteTableQueue) Close() error {
	return q.table.Close()
}

// Stats is not tracked by the underlying table; it returns a zero value.
func (q *RemoteTableQueue) Stats() indexedqueue.Stats {
	return indexedqueue.Stats{}
}

var _ indexedqueue.Store = (*RemoteTableQueue)(nil)
