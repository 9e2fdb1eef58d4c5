// Package sessionstate tracks whether the process currently holds an
// authenticated session and fans state transitions out to subscribers.
//
// The pipeline marks the state on refresh success, refresh failure and
// terminal 401s; the CLI marks it on login and logout. Subscribers drive
// user-facing behavior (the ambassador logs a login-required notice, a UI
// would navigate to its login screen).
package sessionstate

import (
	"sync"

	"github.com/medipanel/medigate/internal/credstore"
)

// Status is the authentication state of the process-wide session.
type Status string

const (
	StatusUnknown         Status = "unknown"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// Change describes one state transition.
type Change struct {
	Status Status
	// User is set for transitions into StatusAuthenticated.
	User credstore.User
	// Reason is set for transitions into StatusUnauthenticated
	// (e.g. "refresh failed", "session expired", "logout").
	Reason string
}

// Listener receives state transitions. Listeners run synchronously on the
// goroutine performing the transition and must not block.
type Listener func(Change)

// Tracker holds the current session state. Transitions are deduplicated: a
// mark that does not change the observable state notifies nobody, so a
// refresh failure followed by the terminal 401 it causes produces a single
// notification.
type Tracker struct {
	mu        sync.Mutex
	status    Status
	user      credstore.User
	listeners []Listener
}

// NewTracker creates a Tracker in StatusUnknown.
func NewTracker() *Tracker {
	return &Tracker{status: StatusUnknown}
}

// Subscribe registers a listener. Listeners are notified in registration
// order. Subscribe is not intended for use after transitions begin flowing;
// wiring happens at startup.
func (t *Tracker) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// MarkAuthenticated records that a session exists for user.
func (t *Tracker) MarkAuthenticated(user credstore.User) {
	t.transition(Change{Status: StatusAuthenticated, User: user})
}

// MarkUnauthenticated records that no usable session exists.
func (t *Tracker) MarkUnauthenticated(reason string) {
	t.transition(Change{Status: StatusUnauthenticated, Reason: reason})
}

// Current returns the tracked status and, when authenticated, the principal.
func (t *Tracker) Current() (Status, credstore.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.user
}

func (t *Tracker) transition(c Change) {
	t.mu.Lock()
	if t.status == c.Status && t.user == c.User {
		t.mu.Unlock()
		return
	}
	t.status = c.Status
	t.user = c.User
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	// Notify outside the lock so a listener reading Current cannot deadlock.
	for _, fn := range listeners {
		fn(c)
	}
}
