package session

import "errors"

var (
	// ErrInvalidInput is returned when login input is incomplete.
	ErrInvalidInput = errors.New("session: invalid input")
	// ErrInvalidCredentials is returned when the gateway rejects a login.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	// ErrNotAuthenticated indicates there is no current session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrSessionExpired indicates the token lifetime has passed.
	ErrSessionExpired = errors.New("session: token expired")
	// ErrInactive is the end cause when the inactivity timeout elapses.
	ErrInactive = errors.New("session: ended after inactivity")
	// ErrRevoked is the end cause when the gateway rejects the current token.
	ErrRevoked = errors.New("session: token rejected by gateway")
	// ErrLoggedOut is the end cause of an explicit logout.
	ErrLoggedOut = errors.New("session: logged out")
)
