package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()
	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNATSNotifier_PublishSubscribe(t *testing.T) {
	s := runTestNATSServer(t)

	sub, err := NewNATSNotifier(NATSConfig{URL: s.ClientURL(), Subject: "test.wakeup"})
	if err != nil {
		t.Fatalf("NewNATSNotifier (sub): %v", err)
	}
	pub, err := NewNATSNotifier(NATSConfig{URL: s.ClientURL(), Subject: "test.wakeup"})
	if err != nil {
		t.Fatalf("NewNATSNotifier (pub): %v", err)
	}
	t.Cleanup(func() { _ = sub.Close(); _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := sub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// give the subscription time to register before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := pub.Notify(ctx, logentry.LogIndex(42)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case idx := <-ch:
		if idx != 42 {
			t.Errorf("got index %d, want 42", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wake-up")
	}
}

func TestWSHub_BroadcastsToClient(t *testing.T) {
	hub := NewWSHub(nil)
	t.Cleanup(func() { _ = hub.Close() })

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + server.URL[len("http"):]
	client, err := DialWS(wsURL)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client registration")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Notify(context.Background(), logentry.LogIndex(7)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case idx := <-ch:
		if idx != 7 {
			t.Errorf("got index %d, want 7", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}
