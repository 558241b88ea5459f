package indexedqueue

import (
	"context"
	"testing"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

func TestInMemoryStore_AppendAssignsMonotonicIndices(t *testing.T) {
	s := NewInMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	e1 := logentry.NewEntry()
	i1, err := s.Append(ctx, e1)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	e2 := logentry.NewEntry()
	i2, err := s.Append(ctx, e2)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if i2 <= i1 {
		t.Fatalf("expected monotonic indices, got %d then %d", i1, i2)
	}
}

func TestInMemoryStore_Backpressure(t *testing.T) {
	s := NewInMemoryStore(1)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if _, err := s.Append(ctx, logentry.NewEntry()); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.Append(ctx, logentry.NewEntry()); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if got := s.Stats().RejectedAppends; got != 1 {
		t.Fatalf("expected 1 rejected append, got %d", got)
	}
}

func TestInMemoryStore_StreamReplaysBacklogThenTails(t *testing.T) {
	s := NewInMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if _, err := s.Append(ctx, logentry.NewEntry()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, logentry.NewEntry()); err != nil {
		t.Fatalf("append: %v", err)
	}

	ch, err := s.Stream(ctx, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case item := <-ch:
			if item == nil {
				t.Fatalf("unexpected nil backlog item")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for backlog item %d", i)
		}
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = s.Append(context.Background(), logentry.NewEntry())
	}()

	select {
	case item := <-ch:
		if item == nil {
			t.Fatalf("unexpected nil tailed item")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for tailed append")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after ctx cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for stream channel to close")
	}
}

func TestInMemoryStore_CloseStopsStream(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	ch, err := s.Stream(ctx, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after store Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for stream channel to close on Close")
	}

	if _, err := s.Append(ctx, logentry.NewEntry()); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
