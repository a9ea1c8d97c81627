package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/repository"
)

func sampleSession() domain.Session {
	return domain.Session{
		GatewayEndpoint: "http://localhost:8080",
		Username:        "admin",
		Token:           "token-1",
		TokenExpiresAt:  time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSaveLoadDelete(t *testing.T) {
	store, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Load(ctx, "slot"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}
	if err := store.Save(ctx, "slot", sampleSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "slot")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "token-1" || !got.TokenExpiresAt.Equal(sampleSession().TokenExpiresAt) {
		t.Fatalf("unexpected session %+v", got)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	if err := store.Delete(ctx, "slot"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "slot"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "slot"); err != nil {
		t.Fatalf("delete of empty slot: %v", err)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	store, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	a := sampleSession()
	b := sampleSession()
	b.Token = "token-2"
	if err := store.Save(ctx, "a", a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save(ctx, "b", b); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	got, err := store.Load(ctx, "b")
	if err != nil || got.Token != "token-2" {
		t.Fatalf("expected slot b to survive, got %+v err=%v", got, err)
	}
}

func TestCorruptFileReportedAndCleared(t *testing.T) {
	store, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Load(ctx, "slot"); !errors.Is(err, repository.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if err := store.Delete(ctx, "slot"); err != nil {
		t.Fatalf("delete corrupt: %v", err)
	}
	if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected corrupt file to be removed, got %v", err)
	}
}

func TestSealedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, "passphrase")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "slot", sampleSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(raw) == 0 || bytes.Contains(raw, []byte("token-1")) {
		t.Fatal("expected sealed contents on disk")
	}
	got, err := store.Load(ctx, "slot")
	if err != nil || got.Token != "token-1" {
		t.Fatalf("unexpected load %+v err=%v", got, err)
	}

	other, err := New(dir, "different")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := other.Load(ctx, "slot"); !errors.Is(err, repository.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt with wrong key, got %v", err)
	}
}
