package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medipanel/medigate/internal/pipeline"
)

func grantJSON() string {
	return `{
		"accessToken": "access-2",
		"refreshToken": "refresh-2",
		"expiresIn": 900,
		"user": {"id": 7, "email": "dr.akin@example.com", "role": "doctor"}
	}`
}

func TestRefreshClientExchangesToken(t *testing.T) {
	var gotBody refreshRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != RefreshPath {
			t.Errorf("path = %s, want %s", r.URL.Path, RefreshPath)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(grantJSON()))
	}))
	defer server.Close()

	client, err := NewRefreshClient(server.URL)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}

	before := time.Now()
	session, err := client.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if gotBody.RefreshToken != "refresh-1" {
		t.Errorf("posted refresh token = %q, want refresh-1", gotBody.RefreshToken)
	}
	if session.Token.AccessToken != "access-2" {
		t.Errorf("access token = %q, want access-2", session.Token.AccessToken)
	}
	if session.Token.RefreshToken != "refresh-2" {
		t.Errorf("refresh token = %q, want refresh-2", session.Token.RefreshToken)
	}
	if session.Token.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", session.Token.TokenType)
	}
	wantExpiry := before.Add(900 * time.Second)
	if session.Token.Expiry.Before(wantExpiry.Add(-5*time.Second)) || session.Token.Expiry.After(wantExpiry.Add(5*time.Second)) {
		t.Errorf("expiry = %v, want about %v", session.Token.Expiry, wantExpiry)
	}
	if session.Principal.Email != "dr.akin@example.com" {
		t.Errorf("principal = %+v, want dr.akin", session.Principal)
	}
}

func TestRefreshClientRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "refresh token expired"}`))
	}))
	defer server.Close()

	client, err := NewRefreshClient(server.URL)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}

	_, err = client.Refresh(context.Background(), "refresh-1")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, want ErrRefreshRejected", err)
	}
	if got := err.Error(); !strings.Contains(got, "refresh token expired") {
		t.Errorf("err = %q, want the platform message included", got)
	}
}

func TestRefreshClientServerFailureIsNotRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewRefreshClient(server.URL)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}

	_, err = client.Refresh(context.Background(), "refresh-1")
	if err == nil {
		t.Fatal("Refresh succeeded on HTTP 503")
	}
	if errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, a 5xx is an outage, not a rejection", err)
	}
}

func TestRefreshClientIncompleteGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken": "access-2"}`))
	}))
	defer server.Close()

	client, err := NewRefreshClient(server.URL)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}

	if _, err := client.Refresh(context.Background(), "refresh-1"); err == nil {
		t.Fatal("Refresh accepted a grant with no refresh token")
	}
}

func TestRefreshClientRequiresToken(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client, err := NewRefreshClient(server.URL)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}

	if _, err := client.Refresh(context.Background(), ""); err == nil {
		t.Fatal("Refresh with empty token succeeded")
	}
	if hits.Load() != 0 {
		t.Errorf("endpoint hit %d times, want 0", hits.Load())
	}
}

func TestNewRefreshClientValidation(t *testing.T) {
	if _, err := NewRefreshClient(""); err == nil {
		t.Error("empty base URL accepted")
	}
	if _, err := NewRefreshClient("not-a-url"); err == nil {
		t.Error("relative base URL accepted")
	}
	if _, err := NewRefreshClient("https://api.example.com", WithRefreshTimeout(0)); err == nil {
		t.Error("zero timeout accepted")
	}
}

func TestClientLogin(t *testing.T) {
	var gotBody loginRequest
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(grantJSON()))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	grant, err := client.Login(context.Background(), "dr.akin@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if gotPath != LoginPath {
		t.Errorf("path = %s, want %s", gotPath, LoginPath)
	}
	if gotBody.Email != "dr.akin@example.com" || gotBody.Password != "hunter2" {
		t.Errorf("posted credentials = %+v", gotBody)
	}
	if grant.AccessToken != "access-2" {
		t.Errorf("access token = %q, want access-2", grant.AccessToken)
	}
	if grant.User.ID != 7 {
		t.Errorf("user = %+v, want ID 7", grant.User)
	}
}

func TestClientRegister(t *testing.T) {
	var gotBody Registration
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(grantJSON()))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	reg := Registration{Email: "clinic@example.com", Password: "pw", Name: "Acme Clinic", Role: "hospital"}
	if _, err := client.Register(context.Background(), reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if gotPath != RegisterPath {
		t.Errorf("path = %s, want %s", gotPath, RegisterPath)
	}
	if gotBody != reg {
		t.Errorf("posted registration = %+v, want %+v", gotBody, reg)
	}
}

func TestClientLogout(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotPath != LogoutPath {
		t.Errorf("path = %s, want %s", gotPath, LogoutPath)
	}
}

// doerFunc adapts a function to the Doer interface.
type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestClientPropagatesTypedErrors(t *testing.T) {
	client, err := NewClient("https://api.example.com", doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, &pipeline.CredentialsError{Message: "invalid email or password"}
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Login(context.Background(), "dr.akin@example.com", "wrong")
	var credErr *pipeline.CredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("err = %v, want *pipeline.CredentialsError", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("https://api.example.com", nil); err == nil {
		t.Error("nil Doer accepted")
	}
	if _, err := NewClient("", http.DefaultClient); err == nil {
		t.Error("empty base URL accepted")
	}
}

func TestTokenGrantSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	withLifetime := TokenGrant{AccessToken: "a", RefreshToken: "r", ExpiresIn: 600}
	session := withLifetime.Session(now)
	if want := now.Add(10 * time.Minute); !session.Token.Expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", session.Token.Expiry, want)
	}

	withoutLifetime := TokenGrant{AccessToken: "a", RefreshToken: "r"}
	if got := withoutLifetime.Session(now).Token.Expiry; !got.IsZero() {
		t.Errorf("expiry = %v, want zero when the platform omits expiresIn", got)
	}
}

func TestTokenGrantValidate(t *testing.T) {
	complete := TokenGrant{AccessToken: "a", RefreshToken: "r"}
	if err := complete.Validate(); err != nil {
		t.Errorf("complete grant rejected: %v", err)
	}
	if err := (TokenGrant{AccessToken: "a"}).Validate(); err == nil {
		t.Error("grant without refresh token accepted")
	}
	if err := (TokenGrant{RefreshToken: "r"}).Validate(); err == nil {
		t.Error("grant without access token accepted")
	}
}
