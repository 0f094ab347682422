package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, clock func() time.Time) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "", time.Minute, clock), server
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store, server := newRedisStore(t, clock.Now)
	ctx := context.Background()

	if _, err := store.Put(ctx, Session{ID: "42", Step: "items", Fields: map[string]string{"site": "North"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !server.Exists(DefaultKeyPrefix + "42") {
		t.Fatal("expected prefixed key")
	}
	if ttl := server.TTL(DefaultKeyPrefix + "42"); ttl != time.Minute {
		t.Fatalf("ttl = %v, want %v", ttl, time.Minute)
	}

	got, err := store.Get(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != "items" || got.Fields["site"] != "North" {
		t.Fatalf("session = %+v, want stored values", got)
	}

	if err := store.Delete(ctx, "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestRedisStoreKeyExpires(t *testing.T) {
	t.Parallel()

	store, server := newRedisStore(t, nil)
	ctx := context.Background()
	if _, err := store.Put(ctx, Session{ID: "42"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	server.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestRedisStorePutExpiredDeletes(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store, server := newRedisStore(t, clock.Now)
	ctx := context.Background()
	if _, err := store.Put(ctx, Session{ID: "42"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, Session{ID: "42", ExpiresAt: clock.now.Add(-time.Second)}); err != nil {
		t.Fatalf("put expired: %v", err)
	}
	if server.Exists(DefaultKeyPrefix + "42") {
		t.Fatal("expected expired session to be deleted")
	}
}
