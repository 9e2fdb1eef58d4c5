package pipeline

import "sync"

// RefreshState is the coordinator's phase. There are only two: either a
// refresh cycle is running or it is not.
type RefreshState int

const (
	StateIdle RefreshState = iota
	StateRefreshing
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Outcome is what a released waiter receives: the result of the refresh
// cycle it waited on and its position in the release order.
type Outcome struct {
	// Seq is the waiter's release position within its cycle, counted from
	// zero in enqueue order.
	Seq int
	// Err is nil when the refresh succeeded. A failed cycle still releases
	// the queue; waiters proceed and let the server's response decide.
	Err error
}

// RefreshCoordinator serializes token refreshes. Of all the callers that
// want one, exactly one leads the network call while the rest queue for its
// outcome, so a burst of requests against an expired token produces a
// single refresh instead of a thundering herd.
//
// The check-and-transition in Enlist is one critical section: two callers
// can never both observe the idle state and both lead.
type RefreshCoordinator struct {
	mu    sync.Mutex
	state RefreshState
	queue []chan Outcome
}

func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// Enlist registers the caller in the current refresh cycle, starting one if
// none is running. lead reports whether the caller must now execute the
// refresh and call Finish; either way the caller is queued and the returned
// channel receives the cycle's outcome exactly once. The channel is
// buffered, so a waiter that stops listening blocks nobody.
func (c *RefreshCoordinator) Enlist() (lead bool, wait <-chan Outcome) {
	w := make(chan Outcome, 1)
	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateRefreshing
		lead = true
	}
	c.queue = append(c.queue, w)
	c.mu.Unlock()
	return lead, w
}

// Finish ends the running cycle: the state returns to idle and every queued
// waiter is released in enqueue order, each stamped with its release
// position. Callers that enlist after Finish belong to the next cycle.
func (c *RefreshCoordinator) Finish(err error) {
	c.mu.Lock()
	waiters := c.queue
	c.queue = nil
	c.state = StateIdle
	c.mu.Unlock()

	for i, w := range waiters {
		w <- Outcome{Seq: i, Err: err}
	}
}

// State returns the coordinator's current phase.
func (c *RefreshCoordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of callers queued for the running cycle.
func (c *RefreshCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
