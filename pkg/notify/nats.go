package notify

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// NATSConfig configures a NATS-backed Notifier.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string
	// Subject wake-ups are published and subscribed on. Default:
	// "cryptlog.wakeup".
	Subject string
	// Name is an optional connection name, useful in nats server monitoring.
	Name string
}

// NATSNotifier publishes and subscribes to log wake-ups over a single
// NATS subject. Multiple processes sharing a subject fan out to each
// other automatically; there is no queue-group semantics here since
// every subscriber wants every wake-up.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "cryptlog.wakeup"
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notify: connect to nats at %s: %w", url, err)
	}
	return &NATSNotifier{nc: nc, subject: subject}, nil
}

// Notify publishes highestIndex as an 8-byte big-endian payload, the
// smallest wire format that carries the one thing a wake-up needs.
func (n *NATSNotifier) Notify(ctx context.Context, highestIndex logentry.LogIndex) error {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], uint64(highestIndex))
	return n.nc.Publish(n.subject, payload[:])
}

// Subscribe returns a channel fed by every wake-up published on the
// subject until ctx is canceled.
func (n *NATSNotifier) Subscribe(ctx context.Context) (<-chan logentry.LogIndex, error) {
	out := make(chan logentry.LogIndex, 16)
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		if len(msg.Data) != 8 {
			return
		}
		idx := logentry.LogIndex(binary.BigEndian.Uint64(msg.Data))
		select {
		case out <- idx:
		default:
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("notify: subscribe to %s: %w", n.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()
	return out, nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() error {
	n.nc.Drain()
	return nil
}

var _ Notifier = (*NATSNotifier)(nil)
