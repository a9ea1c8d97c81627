package repository

import (
	"context"
	"net/url"
	"strings"

	"github.com/splax/faasdeck/internal/domain"
)

// SessionRepository persists the session record for one gateway origin.
type SessionRepository interface {
	// Load returns the stored record. ErrNotFound means the slot is empty and
	// ErrCorrupt means the stored bytes did not decode.
	Load(ctx context.Context, slot string) (domain.Session, error)
	Save(ctx context.Context, slot string, session domain.Session) error
	// Delete removes the record. Deleting an empty slot is not an error.
	Delete(ctx context.Context, slot string) error
}

// LastSlot holds a record carrying only the endpoint of the most recent
// login. Slots of normalized endpoints start with the scheme, so it cannot
// collide with one.
const LastSlot = "last"

// SlotFor derives the slot name for a gateway endpoint from its origin
// (scheme and host), so paths and trailing slashes map to the same slot.
func SlotFor(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return sanitize(raw)
	}
	return sanitize(strings.ToLower(parsed.Scheme + "_" + parsed.Host))
}

func sanitize(value string) string {
	if value == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
