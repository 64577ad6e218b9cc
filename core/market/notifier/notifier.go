// Package notifier implements the typed per-id event notifier of spec.md
// §4.8, grounded on original_source's negotiation::notifier::EventNotifier:
// callers register a Listener for a subscription or agreement id before
// waiting, so a notification sent between registration and the wait call is
// never lost.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Error distinguishes why a wait returned without an event, mirroring
// original_source's NotifierError<Type> variants.
type Error struct {
	ID     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("notifier: %s for id %q", e.Reason, e.ID)
}

func newError(id, reason string) *Error { return &Error{ID: id, Reason: reason} }

// IsTimeout reports whether err is a wait-timeout error.
func IsTimeout(err error) bool { return matches(err, "timeout") }

// IsUnsubscribed reports whether err signals the id stopped accepting events.
func IsUnsubscribed(err error) bool { return matches(err, "unsubscribed") }

// IsChannelClosed reports whether err signals the notifier itself was closed.
func IsChannelClosed(err error) bool { return matches(err, "channel closed") }

func matches(err error, reason string) bool {
	e, ok := err.(*Error)
	return ok && e.Reason == reason
}

type signal struct {
	stop bool
}

// Notifier fans out NewEvent/StopEvents signals to per-id listener sets.
// One Notifier instance is shared by every subscription or agreement id it
// serves; listeners register lazily.
type Notifier struct {
	mu        sync.Mutex
	listeners map[string]map[*Listener]chan signal
	closed    bool
}

// New constructs an empty Notifier.
func New() *Notifier {
	return &Notifier{listeners: make(map[string]map[*Listener]chan signal)}
}

// Listener collects events for a single id starting at the moment Listen
// was called, so no event is lost between registration and the first wait.
type Listener struct {
	n    *Notifier
	id   string
	ch   chan signal
	once sync.Once
}

// Listen registers a new listener for id. Call Close when done to release
// the subscription slot.
func (n *Notifier) Listen(id string) *Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan signal, 16)
	l := &Listener{n: n, id: id, ch: ch}
	if n.closed {
		close(ch)
		return l
	}
	set, ok := n.listeners[id]
	if !ok {
		set = make(map[*Listener]chan signal)
		n.listeners[id] = set
	}
	set[l] = ch
	return l
}

// Notify wakes every listener currently registered for id.
func (n *Notifier) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.listeners[id] {
		select {
		case ch <- signal{}:
		default:
		}
	}
}

// StopNotifying sends one stop signal to every listener currently registered
// for id; the next wait on each of them returns an Unsubscribed error.
// Listeners registered afterwards are not affected.
func (n *Notifier) StopNotifying(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.listeners[id] {
		select {
		case ch <- signal{stop: true}:
		default:
		}
	}
}

// Close shuts the notifier down; all pending and future waits return a
// ChannelClosed error.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id := range n.listeners {
		for l, ch := range n.listeners[id] {
			close(ch)
			delete(n.listeners[id], l)
		}
	}
}

func (n *Notifier) remove(l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.listeners[l.id]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(n.listeners, l.id)
	}
}

// Close releases l's subscription slot. Safe to call multiple times.
func (l *Listener) Close() {
	l.once.Do(func() { l.n.remove(l) })
}

// WaitForEvent blocks until an event is notified for l's id, the id is
// unsubscribed, the notifier is closed, or ctx is cancelled.
func (l *Listener) WaitForEvent(ctx context.Context) error {
	select {
	case sig, ok := <-l.ch:
		if !ok {
			return newError(l.id, "channel closed")
		}
		if sig.stop {
			return newError(l.id, "unsubscribed")
		}
		return nil
	case <-ctx.Done():
		return newError(l.id, "timeout")
	}
}

// WaitForEventWithTimeout is WaitForEvent bounded by timeout, per
// original_source's wait_for_event_with_timeout.
func (l *Listener) WaitForEventWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.WaitForEvent(ctx)
}
