package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenSourceRefreshesThroughThePipeline(t *testing.T) {
	store := seededStore(t, storedSession("stale-token", "refresh-0", time.Now()))
	refresher := &gatedRefresher{
		session: storedSession("fresh-token", "refresh-1", time.Now().Add(time.Hour)),
	}
	tr := newTransport(t, store, refresher)

	ts := tr.TokenSource(context.Background())
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "fresh-token" {
		t.Errorf("access token = %q, want the refreshed one", tok.AccessToken)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}

	// The stored token is fresh now, so no further exchange.
	if _, err := ts.Token(); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("refresh calls after second read = %d, want still 1", got)
	}
}

func TestTokenSourceWithoutSession(t *testing.T) {
	tr := newTransport(t, memoryStore(t), &gatedRefresher{})

	_, err := tr.TokenSource(context.Background()).Token()
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}
