package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	sealed, err := Seal("passphrase", []byte(`{"token":"abc"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("abc")) {
		t.Fatal("sealed payload leaks plaintext")
	}
	plain, err := Open("passphrase", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plain) != `{"token":"abc"}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenWrongSecret(t *testing.T) {
	sealed, err := Seal("passphrase", []byte("data"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open("other", sealed); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("expected ErrCiphertext, got %v", err)
	}
	if _, err := Open("passphrase", []byte("short")); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("expected ErrCiphertext for truncated payload, got %v", err)
	}
}
