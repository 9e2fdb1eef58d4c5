package credstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := NewRedisBackend(client, "medigate:session")
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	return backend
}

func TestRedisBackendRoundTrip(t *testing.T) {
	backend := newTestRedisBackend(t)
	ctx := context.Background()

	if _, err := backend.Read(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Read before write = %v, want ErrNoSession", err)
	}

	doc := []byte(`{"token":{"access_token":"a","refresh_token":"r"}}`)
	if err := backend.Write(ctx, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := backend.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Read = %q, want %q", got, doc)
	}

	if err := backend.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := backend.Read(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Read after Delete = %v, want ErrNoSession", err)
	}
}

func TestRedisBackendThroughStore(t *testing.T) {
	store, err := NewStore(newTestRedisBackend(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	want := testSession("redis-access", "redis-refresh")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Token.AccessToken != want.Token.AccessToken {
		t.Errorf("access token = %q, want %q", got.Token.AccessToken, want.Token.AccessToken)
	}
}

func TestNewRedisBackendValidation(t *testing.T) {
	if _, err := NewRedisBackend(nil, "key"); err == nil {
		t.Fatal("NewRedisBackend(nil client) succeeded, want error")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()
	if _, err := NewRedisBackend(client, ""); err == nil {
		t.Fatal("NewRedisBackend with empty key succeeded, want error")
	}
}
