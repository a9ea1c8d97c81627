package jwt

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestExpiresAtReadsClaim(t *testing.T) {
	token, expiresAt, err := GenerateToken("admin", "secret", 10*time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	got, err := ExpiresAt(token)
	if err != nil {
		t.Fatalf("expires at: %v", err)
	}
	if !got.Equal(expiresAt.Truncate(time.Second)) {
		t.Fatalf("expected expiry %s, got %s", expiresAt.Truncate(time.Second), got)
	}
}

func TestExpiresAtRejectsOpaqueToken(t *testing.T) {
	if _, err := ExpiresAt("c29tZS1vcGFxdWUtdG9rZW4"); !errors.Is(err, jwtlib.ErrTokenMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestExpiresAtWithoutClaim(t *testing.T) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{Subject: "admin"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ExpiresAt(signed); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, _, err := GenerateToken("admin", "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatal("expected signature validation to fail")
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Username != "admin" {
		t.Fatalf("unexpected username %q", claims.Username)
	}
}
