// Package session owns the authenticated state for one gateway: the login
// exchange, the persisted record, the inactivity timer and the cancellation
// signal shared with everything that runs on behalf of the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/faasdeck/internal/clock"
	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/repository"
	"github.com/splax/faasdeck/pkg/api/client"
	"github.com/splax/faasdeck/pkg/jwt"
)

// DefaultInactivityTimeout ends a session after this long without activity.
const DefaultInactivityTimeout = 30 * time.Minute

const logoutTimeout = 5 * time.Second

// Gateway is the slice of the gateway API the manager needs.
type Gateway interface {
	Login(ctx context.Context, username, password string) (client.LoginResponse, error)
	Logout(ctx context.Context, token string) error
}

// GatewayFactory returns a Gateway for a normalized endpoint.
type GatewayFactory func(endpoint string) (Gateway, error)

// ClientFactory builds gateway clients with opts.
func ClientFactory(opts ...client.Option) GatewayFactory {
	return func(endpoint string) (Gateway, error) {
		c, err := client.New(endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Notifier receives user-visible messages.
type Notifier func(message string)

// Config wires a Manager.
type Config struct {
	// Endpoint is the gateway resumed at startup.
	Endpoint          string
	InactivityTimeout time.Duration
	Repository        repository.SessionRepository
	Gateways          GatewayFactory
	Clock             clock.Clock
	Logger            *slog.Logger
	Notifier          Notifier
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	session  domain.Session
	gateway  Gateway
	ctx      context.Context
	cancel   context.CancelCauseFunc
	timer    clock.Timer
	timerSeq uint64
}

// NewManager returns a Manager with no current session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Repository == nil {
		return nil, errors.New("session repository is required")
	}
	if cfg.Gateways == nil {
		cfg.Gateways = ClientFactory()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	cfg.Endpoint = client.NormalizeBaseURL(cfg.Endpoint)
	m := &Manager{cfg: cfg}
	m.ctx, m.cancel = endedContext(ErrNotAuthenticated)
	return m, nil
}

// Login exchanges credentials for a token, persists the record and makes it
// the current session. The password is not retained.
func (m *Manager) Login(ctx context.Context, endpoint, username, password string) (domain.Session, error) {
	username = strings.TrimSpace(username)
	switch {
	case strings.TrimSpace(endpoint) == "":
		return domain.Session{}, fmt.Errorf("%w: gateway endpoint is required", ErrInvalidInput)
	case username == "":
		return domain.Session{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	case password == "":
		return domain.Session{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	endpoint = client.NormalizeBaseURL(endpoint)
	gw, err := m.cfg.Gateways(endpoint)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	resp, err := gw.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return domain.Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}

	sess := domain.Session{
		GatewayEndpoint: endpoint,
		Username:        username,
		Token:           resp.Token,
		TokenExpiresAt:  m.tokenExpiry(resp),
	}
	m.endCurrent(ctx)
	if err := m.cfg.Repository.Save(ctx, repository.SlotFor(endpoint), sess); err != nil {
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}
	if err := m.cfg.Repository.Save(ctx, repository.LastSlot, domain.Session{GatewayEndpoint: endpoint}); err != nil {
		m.cfg.Logger.Warn("record last gateway", "endpoint", endpoint, "error", err)
	}
	m.install(sess, gw)
	m.cfg.Logger.Info("session started", "endpoint", endpoint, "username", username, "expires_at", sess.TokenExpiresAt)
	return sess, nil
}

// Resume restores the persisted session for the configured endpoint. When
// that slot is empty it falls back to the gateway of the most recent login.
// A live session whose token matches the record is returned unchanged.
func (m *Manager) Resume(ctx context.Context) (domain.Session, error) {
	slot := repository.SlotFor(m.cfg.Endpoint)
	sess, err := m.cfg.Repository.Load(ctx, slot)
	if errors.Is(err, repository.ErrNotFound) {
		slot, sess, err = m.loadLast(ctx)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.Session{}, ErrNotAuthenticated
	case errors.Is(err, repository.ErrCorrupt):
		m.cfg.Logger.Debug("discarding unreadable session record", "slot", slot, "error", err)
		m.deleteRecord(ctx, slot)
		return domain.Session{}, ErrNotAuthenticated
	case err != nil:
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Authenticated() {
		m.deleteRecord(ctx, slot)
		return domain.Session{}, ErrNotAuthenticated
	}
	if sess.Expired(m.cfg.Clock.Now()) {
		m.deleteRecord(ctx, slot)
		return domain.Session{}, ErrSessionExpired
	}
	if sess.GatewayEndpoint == "" {
		sess.GatewayEndpoint = m.cfg.Endpoint
	}
	if current, ok := m.Current(); ok && current.Token == sess.Token {
		return current, nil
	}
	gw, err := m.cfg.Gateways(sess.GatewayEndpoint)
	if err != nil {
		m.deleteRecord(ctx, slot)
		return domain.Session{}, ErrNotAuthenticated
	}
	m.endCurrentExcept(ctx, slot)
	m.install(sess, gw)
	m.cfg.Logger.Debug("session resumed", "endpoint", sess.GatewayEndpoint, "username", sess.Username)
	return sess, nil
}

// Logout ends the current session, removes the persisted record and revokes
// the token on the gateway on a best-effort basis. Unless silent, the user is
// notified.
func (m *Manager) Logout(ctx context.Context, silent bool) error {
	m.mu.Lock()
	if !m.session.Authenticated() {
		m.mu.Unlock()
		return nil
	}
	ended, gw := m.endLocked(ErrLoggedOut)
	m.mu.Unlock()

	m.finish(ctx, ended, gw, true)
	if !silent && m.cfg.Notifier != nil {
		m.cfg.Notifier("Signed out of " + ended.GatewayEndpoint)
	}
	return nil
}

// Touch records user activity and restarts the inactivity timer.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Authenticated() {
		m.armLocked()
	}
}

// Authorized runs fn with the current token. The token is captured before
// the call and the inactivity timer restarts. When fn fails with a 401 or 403
// and the token is still current, the session ends silently.
func (m *Manager) Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	m.mu.Lock()
	if !m.session.Authenticated() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if m.session.Expired(m.cfg.Clock.Now()) {
		ended, gw := m.endLocked(ErrSessionExpired)
		m.mu.Unlock()
		m.finish(context.Background(), ended, gw, false)
		return ErrSessionExpired
	}
	token := m.session.Token
	m.armLocked()
	m.mu.Unlock()

	err := fn(ctx, token)
	if errors.Is(err, client.ErrUnauthorized) {
		m.invalidate(token)
	}
	return err
}

// Context returns a context cancelled when the current session ends. The
// cancellation cause is one of ErrLoggedOut, ErrInactive, ErrSessionExpired
// or ErrRevoked. Without a session the context is already done.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Current returns the current session.
func (m *Manager) Current() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session.Authenticated()
}

// Gateway returns the gateway of the current session.
func (m *Manager) Gateway() (Gateway, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateway, m.gateway != nil
}

// loadLast follows the last-login pointer to its session slot. A pointer
// to an empty slot is removed.
func (m *Manager) loadLast(ctx context.Context) (string, domain.Session, error) {
	ptr, err := m.cfg.Repository.Load(ctx, repository.LastSlot)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrCorrupt):
		return "", domain.Session{}, repository.ErrNotFound
	case err != nil:
		return "", domain.Session{}, err
	case ptr.GatewayEndpoint == "":
		m.deleteRecord(ctx, repository.LastSlot)
		return "", domain.Session{}, repository.ErrNotFound
	}
	slot := repository.SlotFor(ptr.GatewayEndpoint)
	sess, err := m.cfg.Repository.Load(ctx, slot)
	if errors.Is(err, repository.ErrNotFound) {
		m.deleteRecord(ctx, repository.LastSlot)
	}
	return slot, sess, err
}

// endCurrent ends a live session before another one replaces it, revoking
// its token and removing its record.
func (m *Manager) endCurrent(ctx context.Context) {
	m.endCurrentExcept(ctx, "")
}

// endCurrentExcept is endCurrent but leaves the record in keep untouched.
func (m *Manager) endCurrentExcept(ctx context.Context, keep string) {
	m.mu.Lock()
	if !m.session.Authenticated() {
		m.mu.Unlock()
		return
	}
	ended, gw := m.endLocked(ErrLoggedOut)
	m.mu.Unlock()

	m.cfg.Logger.Info("session replaced", "endpoint", ended.GatewayEndpoint)
	if slot := repository.SlotFor(ended.GatewayEndpoint); slot == keep {
		m.revoke(ctx, ended, gw)
		return
	}
	m.finish(ctx, ended, gw, true)
}

func (m *Manager) install(sess domain.Session, gw Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Authenticated() {
		m.cancel(ErrLoggedOut)
	}
	m.session = sess
	m.gateway = gw
	m.ctx, m.cancel = context.WithCancelCause(context.Background())
	m.armLocked()
}

// armLocked restarts the timer with min(inactivity timeout, remaining token lifetime).
func (m *Manager) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	delay := m.cfg.InactivityTimeout
	if remaining, ok := m.session.Remaining(m.cfg.Clock.Now()); ok && remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.cfg.Clock.AfterFunc(delay, func() { m.expire(seq) })
}

func (m *Manager) expire(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || !m.session.Authenticated() {
		m.mu.Unlock()
		return
	}
	cause := ErrInactive
	if m.session.Expired(m.cfg.Clock.Now()) {
		cause = ErrSessionExpired
	}
	ended, gw := m.endLocked(cause)
	m.mu.Unlock()

	m.cfg.Logger.Info("session ended", "endpoint", ended.GatewayEndpoint, "reason", cause)
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	m.finish(ctx, ended, gw, cause == ErrInactive)
}

// invalidate ends the session when token is still the current one.
func (m *Manager) invalidate(token string) {
	m.mu.Lock()
	if !m.session.Authenticated() || m.session.Token != token {
		m.mu.Unlock()
		m.cfg.Logger.Debug("ignoring rejection of a stale token")
		return
	}
	ended, gw := m.endLocked(ErrRevoked)
	m.mu.Unlock()

	m.cfg.Logger.Info("session ended", "endpoint", ended.GatewayEndpoint, "reason", ErrRevoked)
	m.finish(context.Background(), ended, gw, false)
}

// endLocked clears local state and cancels the session context.
func (m *Manager) endLocked(cause error) (domain.Session, Gateway) {
	ended, gw := m.session, m.gateway
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
	m.session = domain.Session{}
	m.gateway = nil
	m.cancel(cause)
	return ended, gw
}

// finish removes the persisted record and optionally revokes the token remotely.
func (m *Manager) finish(ctx context.Context, ended domain.Session, gw Gateway, revoke bool) {
	slot := repository.SlotFor(ended.GatewayEndpoint)
	m.deleteRecord(ctx, slot)
	if ptr, err := m.cfg.Repository.Load(ctx, repository.LastSlot); err == nil && repository.SlotFor(ptr.GatewayEndpoint) == slot {
		m.deleteRecord(ctx, repository.LastSlot)
	}
	if revoke {
		m.revoke(ctx, ended, gw)
	}
}

func (m *Manager) revoke(ctx context.Context, ended domain.Session, gw Gateway) {
	if gw == nil {
		return
	}
	if err := gw.Logout(ctx, ended.Token); err != nil {
		m.cfg.Logger.Debug("remote logout failed", "endpoint", ended.GatewayEndpoint, "error", err)
	}
}

func (m *Manager) deleteRecord(ctx context.Context, slot string) {
	if err := m.cfg.Repository.Delete(ctx, slot); err != nil {
		m.cfg.Logger.Warn("delete session record", "slot", slot, "error", err)
	}
}

// tokenExpiry prefers the reported expiry and falls back to the JWT exp claim.
func (m *Manager) tokenExpiry(resp client.LoginResponse) time.Time {
	if expiry, err := resp.Expiry(); err == nil && !expiry.IsZero() {
		return expiry
	} else if err != nil {
		m.cfg.Logger.Debug("unparsable token expiry", "value", resp.ExpiresAt, "error", err)
	}
	expiry, err := jwt.ExpiresAt(resp.Token)
	if err != nil {
		return time.Time{}
	}
	return expiry
}

func endedContext(cause error) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)
	return ctx, cancel
}
