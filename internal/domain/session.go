package domain

import "time"

// Session is the authenticated state held for one gateway.
type Session struct {
	GatewayEndpoint string    `json:"gatewayEndpoint"`
	Username        string    `json:"username"`
	Token           string    `json:"token"`
	TokenExpiresAt  time.Time `json:"tokenExpiresAt,omitempty"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Expired reports whether the token expiry has passed at now. A zero expiry never expires.
func (s Session) Expired(now time.Time) bool {
	if s.TokenExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.TokenExpiresAt)
}

// Remaining returns the token lifetime left at now, and false when no expiry is known.
func (s Session) Remaining(now time.Time) (time.Duration, bool) {
	if s.TokenExpiresAt.IsZero() {
		return 0, false
	}
	return s.TokenExpiresAt.Sub(now), true
}
