package materializer_test

import (
	"context"
	"testing"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/converters"
	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/materializer"
	"github.com/iuliatamas/cryptlog/pkg/objects"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

// TestVM_SnapshotRoundThenTail writes 150 values to a plain register with
// a snapshot threshold of 100 and checks that a client joining from index
// 0 after the round sees one snapshot for the register, then raw entries
// for exactly the indices the round didn't cover.
func TestVM_SnapshotRoundThenTail(t *testing.T) {
	store := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	snapStore := materializer.NewSkiplistStore()
	cfg := materializer.Config{SnapshotThreshold: 100, PollInterval: 5 * time.Millisecond}
	vm := materializer.New(store, nil, snapStore, cfg)

	reg := objects.NewRegister[int64](vm.Runtime(), 0, converters.IntConverter{}, 0)
	vm.Track(0, reg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = vm.Run(ctx) }()

	writerRt := runtime.New(store, nil)
	writerReg := objects.NewRegister[int64](writerRt, 0, converters.IntConverter{}, 0)

	for i := int64(0); i < 150; i++ {
		if err := writerReg.Write(ctx, i); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	got, err := writerReg.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 149 {
		t.Fatalf("expected final value 149, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Stats().AppendedSnapshots == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for a snapshot round")
		}
		time.Sleep(5 * time.Millisecond)
	}

	streamCtx, streamCancel := context.WithTimeout(context.Background(), time.Second)
	defer streamCancel()
	ch, err := vm.Stream(streamCtx, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	first, ok := <-ch
	if !ok {
		t.Fatalf("stream closed before any item")
	}
	if _, isSnapshot := first.(logentry.LogDataSnapshot); !isSnapshot {
		t.Fatalf("expected first streamed item to be a snapshot, got %T", first)
	}

	var tailed int
	for item := range ch {
		entry, ok := item.(logentry.LogDataEntry)
		if !ok {
			t.Fatalf("expected raw entries after the snapshot, got %T", item)
		}
		if entry.Entry.Idx == nil {
			t.Fatalf("tailed entry missing index")
		}
		tailed++
	}
	if tailed == 0 {
		t.Fatalf("expected at least one tailed entry after the snapshot round")
	}
}

// TestVM_PassthroughBeforeAnyRound checks Stream behaves like the
// underlying store when no snapshot round has happened yet.
func TestVM_PassthroughBeforeAnyRound(t *testing.T) {
	store := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	snapStore := materializer.NewSkiplistStore()
	vm := materializer.New(store, nil, snapStore, materializer.Config{SnapshotThreshold: 1000, PollInterval: time.Second})

	reg := objects.NewRegister[int64](vm.Runtime(), 0, converters.IntConverter{}, 0)
	vm.Track(0, reg)

	writerRt := runtime.New(store, nil)
	writerReg := objects.NewRegister[int64](writerRt, 0, converters.IntConverter{}, 0)
	if err := writerReg.Write(context.Background(), 7); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ch, err := vm.Stream(ctx, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	item, ok := <-ch
	if !ok {
		t.Fatalf("stream closed with no items")
	}
	if _, isEntry := item.(logentry.LogDataEntry); !isEntry {
		t.Fatalf("expected a raw entry (no snapshot round has happened), got %T", item)
	}
}
