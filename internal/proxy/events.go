package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/medipanel/medigate/internal/sessionstate"
)

// heartbeatInterval paces SSE keepalive comments so intermediaries do not
// drop idle /events connections.
const heartbeatInterval = 25 * time.Second

// sessionEvent is the JSON document written to /events subscribers on every
// session-state transition.
type sessionEvent struct {
	Status string `json:"status"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// sessionEvents bridges tracker transitions onto open SSE connections. The
// last transition is replayed to new subscribers so a UI connecting late
// still learns the current state.
type sessionEvents struct {
	mu   sync.Mutex
	last *sessionEvent
	subs map[chan sessionEvent]struct{}
}

var _ http.Handler = (*sessionEvents)(nil)

func newSessionEvents(tracker *sessionstate.Tracker) *sessionEvents {
	e := &sessionEvents{subs: make(map[chan sessionEvent]struct{})}
	tracker.Subscribe(e.publish)
	return e
}

// publish fans a transition out to every subscriber. Tracker listeners must
// not block, so a subscriber with a full buffer is skipped; it catches up on
// the next transition.
func (e *sessionEvents) publish(c sessionstate.Change) {
	event := sessionEvent{Status: string(c.Status), Reason: c.Reason}
	if c.Status == sessionstate.StatusAuthenticated {
		event.Email = c.User.Email
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &event
	for ch := range e.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (e *sessionEvents) subscribe() (<-chan sessionEvent, func()) {
	ch := make(chan sessionEvent, 8)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	if e.last != nil {
		ch <- *e.last
	}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		delete(e.subs, ch)
		e.mu.Unlock()
	}
	return ch, cancel
}

// ServeHTTP streams session-state transitions until the client disconnects.
func (e *sessionEvents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	events, cancel := e.subscribe()
	defer cancel()

	// An immediate comment flushes the response headers so the client's
	// EventSource reports open without waiting for the first transition.
	if err := sse.WriteComment("session events"); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := sse.WriteData(event); err != nil {
				slog.DebugContext(ctx, "event subscriber dropped", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}

// commentReplacer escapes newlines in SSE comment fields to maintain protocol integrity.
// SSE protocol requires multi-line comments to prefix each line with ":".
var commentReplacer = strings.NewReplacer(
	"\n", "\n: ",
	"\r", "\\r",
)

// Pre-allocated byte slices for SSE formatting to eliminate allocations on every write.
var (
	sseDataPrefix    = []byte("data: ")
	sseCommentPrefix = []byte(": ")
	sseTerminator    = []byte("\n\n")
)

// SSEWriter wraps http.ResponseWriter with Server-Sent Events protocol methods.
// Handles JSON marshaling, event formatting, and flushing for streaming responses.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter validates flushing support and sets required SSE headers.
// Returns error if the ResponseWriter doesn't implement http.Flusher,
// which is required for streaming responses.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter doesn't implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream;charset=utf-8")
	w.Header().Set("Connection", "keep-alive")

	// Allow caller to override Cache-Control for custom caching strategies
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-cache")
	}

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteData marshals v to JSON and writes it as an SSE data event.
// Flushes immediately for real-time delivery.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	// Use direct Write() calls to avoid []byte→string conversion allocation
	if _, err := s.w.Write(sseDataPrefix); err != nil {
		return err
	}

	if _, err := s.w.Write(data); err != nil {
		return err
	}

	if _, err := s.w.Write(sseTerminator); err != nil {
		return err
	}

	s.flusher.Flush()
	return nil
}

// WriteComment writes an SSE comment line (begins with ':').
// Useful for errors, heartbeats, or debugging information.
// Comments are ignored by SSE clients but visible in network logs.
func (s *SSEWriter) WriteComment(comment string) error {
	if _, err := s.w.Write(sseCommentPrefix); err != nil {
		return err
	}

	if _, err := commentReplacer.WriteString(s.w, comment); err != nil {
		return err
	}

	if _, err := s.w.Write(sseTerminator); err != nil {
		return err
	}

	s.flusher.Flush()
	return nil
}
