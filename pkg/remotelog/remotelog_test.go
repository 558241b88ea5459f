package remotelog

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// newInMemoryClient wires a remotelog.Client to a remotelog.Server over
// an in-memory listener, so the test exercises the real HTTP/JSON wire
// path without binding a real port.
func newInMemoryClient(t *testing.T, store indexedqueue.Store) (*Client, func()) {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := NewServer(store, ServerConfig{MaxConcurrentStreams: 10})

	done := make(chan struct{})
	go func() {
		_ = srv.srv.Serve(ln)
		close(done)
	}()

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	client := &Client{endpoint: "http://in-memory", http: httpClient}

	cleanup := func() {
		_ = ln.Close()
		_ = srv.Shutdown()
		<-done
	}
	return client, cleanup
}

func TestClient_AppendAndStream(t *testing.T) {
	store := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	client, cleanup := newInMemoryClient(t, store)
	t.Cleanup(cleanup)

	ctx := context.Background()
	entry := logentry.NewEntry()
	entry.AddWrite(0, logentry.LogOpWrite{State: logentry.EncodedState{Data: "7"}})

	idx, err := client.Append(ctx, entry)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected idx 0, got %d", idx)
	}

	snap := logentry.Snapshot{ObjID: 0, Idx: 0, Payload: logentry.EncodedState{Data: "7"}}
	snapIdx, err := client.AppendSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}
	if snapIdx != 1 {
		t.Fatalf("expected snapshot idx 1, got %d", snapIdx)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ch, err := client.Stream(streamCtx, 0)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	first, ok := <-ch
	if !ok {
		t.Fatal("stream closed before first item")
	}
	e, ok := first.(logentry.LogDataEntry)
	if !ok {
		t.Fatalf("expected first item to be an entry, got %T", first)
	}
	if len(e.Entry.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(e.Entry.Operations))
	}

	second, ok := <-ch
	if !ok {
		t.Fatal("stream closed before second item")
	}
	if _, ok := second.(logentry.LogDataSnapshot); !ok {
		t.Fatalf("expected second item to be a snapshot, got %T", second)
	}
}
