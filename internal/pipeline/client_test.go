package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medipanel/medigate/internal/credstore"
)

func newTestPlatformMux(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jobs": [{"id": 12, "title": "Emergency physician"}]}`)
	})
	mux.HandleFunc("/v1/jobs/publish", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message": "doctor accounts cannot publish listings"}`)
	})
	mux.HandleFunc("/v1/applications", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"message": "validation failed", "errors": {"cover_letter": ["is required"]}}`)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message": "invalid email or password"}`)
	})
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message": "Hesabınız devre dışı bırakılmıştır", "code": "account_disabled"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) (*Client, *gatedRefresher, *httptest.Server) {
	t.Helper()
	srv := newTestPlatformMux(t)
	store := seededStore(t, storedSession("token-0", "refresh-0", time.Now().Add(time.Hour)))
	refresher := &gatedRefresher{}
	tr := newTransport(t, store, refresher)
	return NewClient(tr), refresher, srv
}

func do(t *testing.T, c *Client, method, url, body string) (*http.Response, error) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return c.Do(req)
}

func TestClientReturnsSuccessResponses(t *testing.T) {
	client, _, srv := newTestClient(t)

	resp, err := do(t, client, http.MethodGet, srv.URL+"/v1/jobs", "")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(b), "Emergency physician") {
		t.Errorf("body = %s, want the job listing", b)
	}
}

func TestClientForbiddenNeverRefreshes(t *testing.T) {
	client, refresher, srv := newTestClient(t)

	_, err := do(t, client, http.MethodPost, srv.URL+"/v1/jobs/publish", `{"title": "x"}`)
	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want *ForbiddenError", err)
	}
	if forbidden.Message != "doctor accounts cannot publish listings" {
		t.Errorf("message = %q", forbidden.Message)
	}
	if got := refresher.calls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0: a 403 is not an expired token", got)
	}
}

func TestClientValidationErrors(t *testing.T) {
	client, _, srv := newTestClient(t)

	_, err := do(t, client, http.MethodPost, srv.URL+"/v1/applications", `{}`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "cover_letter: is required" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClientLoginRejection(t *testing.T) {
	client, refresher, srv := newTestClient(t)

	_, err := do(t, client, http.MethodPost, srv.URL+"/auth/login", `{"email": "a", "password": "b"}`)
	var credErr *CredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("err = %v, want *CredentialsError", err)
	}
	if credErr.Message != "invalid email or password" {
		t.Errorf("message = %q", credErr.Message)
	}
	if got := refresher.calls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0", got)
	}
}

func TestClientAccountDisabled(t *testing.T) {
	client, _, srv := newTestClient(t)

	_, err := do(t, client, http.MethodPost, srv.URL+"/auth/register", `{"email": "a"}`)
	var disabled *AccountDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("err = %v, want *AccountDisabledError", err)
	}
}

func TestClientSurfacesTerminalAuthError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message": "token invalid"}`)
	}))
	t.Cleanup(upstream.Close)

	store := seededStore(t, storedSession("token-0", "refresh-0", time.Now().Add(time.Hour)))
	refresher := &gatedRefresher{
		session: storedSession("token-1", "refresh-1", time.Now().Add(time.Hour)),
	}
	client := NewClient(newTransport(t, store, refresher))

	_, err := do(t, client, http.MethodGet, upstream.URL+"/v1/jobs", "")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError after the retry also failed", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, credstore.ErrNoSession) {
		t.Error("terminal 401 through the client should clear the store")
	}
}

func TestClientNetworkFailure(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := gone.URL
	gone.Close()

	store := seededStore(t, storedSession("token-0", "refresh-0", time.Now().Add(time.Hour)))
	client := NewClient(newTransport(t, store, &gatedRefresher{}))

	_, err := do(t, client, http.MethodGet, base+"/v1/jobs", "")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if netErr.Kind != NetworkRefused {
		t.Errorf("kind = %s, want %s", netErr.Kind, NetworkRefused)
	}
}
