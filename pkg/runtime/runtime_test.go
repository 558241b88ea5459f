package runtime

import (
	"context"
	"testing"

	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

type recordingCallback struct {
	applied []logentry.LogOp
}

func (c *recordingCallback) Apply(op logentry.LogOp) {
	c.applied = append(c.applied, op)
}

func TestRuntime_AppendAppliesToOwnCallback(t *testing.T) {
	q := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = q.Close() })
	rt := New(q, nil)

	cb := &recordingCallback{}
	rt.RegisterObject(1, cb)

	entry := logentry.NewEntry()
	entry.AddWrite(1, logentry.LogOpWrite{State: logentry.EncodedState{Data: "hello"}})

	ctx := context.Background()
	if _, err := rt.Append(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(cb.applied) != 1 {
		t.Fatalf("expected 1 applied op, got %d", len(cb.applied))
	}
	op, ok := cb.applied[0].(logentry.LogOpWrite)
	if !ok {
		t.Fatalf("expected LogOpWrite, got %T", cb.applied[0])
	}
	state, ok := op.State.(logentry.EncodedState)
	if !ok || state.Data != "hello" {
		t.Fatalf("unexpected state: %#v", op.State)
	}
}

func TestRuntime_SyncAppliesEntriesFromOtherClients(t *testing.T) {
	q := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = q.Close() })
	ctx := context.Background()

	writer := New(q, nil)
	reader := New(q, nil)

	cb := &recordingCallback{}
	reader.RegisterObject(7, cb)

	entry := logentry.NewEntry()
	entry.AddWrite(7, logentry.LogOpWrite{State: logentry.EncodedState{Data: "from-writer"}})
	if _, err := writer.Append(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(cb.applied) != 0 {
		t.Fatalf("expected reader to not yet see the write")
	}

	if err := reader.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(cb.applied) != 1 {
		t.Fatalf("expected 1 applied op after sync, got %d", len(cb.applied))
	}
}

func TestRuntime_RegisterObject_DuplicatePanics(t *testing.T) {
	q := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = q.Close() })
	rt := New(q, nil)
	rt.RegisterObject(1, &recordingCallback{})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate obj_id registration")
		}
	}()
	rt.RegisterObject(1, &recordingCallback{})
}
