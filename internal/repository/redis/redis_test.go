package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/repository"
)

func TestKeyPrefix(t *testing.T) {
	if got := Key("http_localhost_8080"); got != "faasdeck:session:http_localhost_8080" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestTTLFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if ttl, ok := ttlFor(domain.Session{Token: "t"}, now); !ok || ttl != 0 {
		t.Fatalf("expected no expiry, got %s ok=%v", ttl, ok)
	}
	live := domain.Session{Token: "t", TokenExpiresAt: now.Add(10 * time.Minute)}
	if ttl, ok := ttlFor(live, now); !ok || ttl != 10*time.Minute {
		t.Fatalf("expected 10m ttl, got %s ok=%v", ttl, ok)
	}
	expired := domain.Session{Token: "t", TokenExpiresAt: now.Add(-time.Second)}
	if _, ok := ttlFor(expired, now); ok {
		t.Fatal("expected expired session to be rejected")
	}
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(mr.Addr(), "", 0, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, mr, now
}

func TestStoreRoundTripWithTTL(t *testing.T) {
	store, mr, now := newTestStore(t)
	ctx := context.Background()
	slot := "http_localhost_8080"

	session := domain.Session{GatewayEndpoint: "http://localhost:8080", Username: "admin", Token: "tok", TokenExpiresAt: now.Add(10 * time.Minute)}
	if err := store.Save(ctx, slot, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, slot)
	if err != nil || got.Token != "tok" || got.Username != "admin" || !got.TokenExpiresAt.Equal(session.TokenExpiresAt) {
		t.Fatalf("unexpected load %+v err=%v", got, err)
	}
	if ttl := mr.TTL(Key(slot)); ttl != 10*time.Minute {
		t.Fatalf("expected ttl to match token lifetime, got %s", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := store.Load(ctx, slot); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected record to expire with its token, got %v", err)
	}
}

func TestStoreWithoutExpiryHasNoTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	if err := store.Save(context.Background(), "s", domain.Session{Token: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(Key("s")); ttl != 0 {
		t.Fatalf("expected no ttl, got %s", ttl)
	}
}

func TestStoreSaveExpiredDeletes(t *testing.T) {
	store, mr, now := newTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "s", domain.Session{Token: "live", TokenExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "s", domain.Session{Token: "dead", TokenExpiresAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if mr.Exists(Key("s")) {
		t.Fatal("expired record must not be stored")
	}
}

func TestStoreLoadMissingAndCorrupt(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Load(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mr.Set(Key("bad"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(ctx, "bad"); !errors.Is(err, repository.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if err := store.Delete(ctx, "bad"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(Key("bad")) {
		t.Fatal("expected key removed")
	}
	if err := store.Delete(ctx, "bad"); err != nil {
		t.Fatalf("deleting an empty slot is not an error: %v", err)
	}
}

func TestStoreServerFailure(t *testing.T) {
	store, mr, _ := newTestStore(t)
	mr.Close()
	_, err := store.Load(context.Background(), "s")
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := New(addr, "", 0, nil); err == nil {
		t.Fatal("expected ping failure")
	}
}
