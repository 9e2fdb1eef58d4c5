package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// retryLedger tracks which in-flight requests have already spent their one
// 401-driven retry. Entries are keyed by a correlation ID minted when the
// request enters the pipeline, so retry state lives here instead of being
// smuggled through mutated request objects.
type retryLedger struct {
	mu      sync.Mutex
	retried map[string]bool
}

func newRetryLedger() *retryLedger {
	return &retryLedger{retried: make(map[string]bool)}
}

// open admits a request and returns its correlation ID. The caller must
// drop the ID when the request leaves the pipeline.
func (l *retryLedger) open() string {
	id := uuid.NewString()
	l.mu.Lock()
	l.retried[id] = false
	l.mu.Unlock()
	return id
}

func (l *retryLedger) drop(id string) {
	l.mu.Lock()
	delete(l.retried, id)
	l.mu.Unlock()
}

// hasRetried reports whether the request already used its retry.
func (l *retryLedger) hasRetried(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retried[id]
}

// markRetried records the request's one retry. It reports false when the
// retry budget was already spent.
func (l *retryLedger) markRetried(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retried[id] {
		return false
	}
	l.retried[id] = true
	return true
}

// inFlight returns the number of requests currently traversing the
// pipeline.
func (l *retryLedger) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.retried)
}
