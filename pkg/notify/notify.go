// Package notify provides advisory wake-up pushes for clients tailing
// the shared log. A Notifier never carries log data itself — clients
// still pull entries through indexedqueue.Store.Stream, which is the
// only source of truth for ordering and durability. A notification
// only shortens how long a client waits before it re-checks the log;
// a client that never receives one still converges, just on its own
// poll cadence.
package notify

import (
	"context"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
)

// Notifier lets writers advertise "the log has grown to at least this
// index" and lets readers subscribe to those advertisements.
type Notifier interface {
	// Notify advertises that the log has grown to at least highestIndex.
	Notify(ctx context.Context, highestIndex logentry.LogIndex) error

	// Subscribe returns a channel of advertised indices. The channel is
	// closed when ctx is canceled. WSClient also closes it when its
	// connection closes; NATSNotifier's channel stays open after Close
	// until ctx is canceled.
	Subscribe(ctx context.Context) (<-chan logentry.LogIndex, error)

	Close() error
}
