// Package console wires the session manager, build history, source overlay
// and build stream into the operations a faasdeck front end performs.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/faasdeck/internal/clock"
	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/history"
	"github.com/splax/faasdeck/internal/overlay"
	"github.com/splax/faasdeck/internal/repository"
	"github.com/splax/faasdeck/internal/session"
	"github.com/splax/faasdeck/internal/stream"
	"github.com/splax/faasdeck/pkg/api/client"
	"github.com/splax/faasdeck/pkg/config"
)

// ValidationError reports input rejected before any network call.
type ValidationError = domain.ValidationError

// API is the gateway surface used by the console.
type API interface {
	session.Gateway
	SystemInfo(ctx context.Context, token string) (client.SystemInfo, error)
	SystemConfig(ctx context.Context, token string) (client.SystemConfig, error)
	ListFunctions(ctx context.Context, token string) ([]domain.Function, error)
	DeployFunction(ctx context.Context, token string, fn domain.FunctionDeployment) error
	UpdateFunction(ctx context.Context, token string, fn domain.FunctionDeployment) error
	DeleteFunction(ctx context.Context, token, name string) error
	ScaleFunction(ctx context.Context, token, name string, replicas int) error
	ListContainers(ctx context.Context, token, name string) ([]domain.Container, error)
	Logs(ctx context.Context, token, name string, tail int) (string, error)
	Invoke(ctx context.Context, token, name string, inv client.Invocation) (client.InvokeResult, error)
	InvokeAsync(ctx context.Context, token, name string, inv client.Invocation) (client.InvokeResult, error)
	Health(ctx context.Context) (client.Health, error)
	ListSecrets(ctx context.Context, token string) ([]domain.Secret, error)
	GetSecret(ctx context.Context, token, name string) (domain.Secret, error)
	CreateSecret(ctx context.Context, token, name, value string) error
	UpdateSecret(ctx context.Context, token, name, value string) error
	DeleteSecret(ctx context.Context, token, name string) error
	InspectBuild(ctx context.Context, token string, req client.BuildRequest) (client.InspectResponse, error)
	SubmitBuild(ctx context.Context, token string, req client.BuildRequest) (client.BuildResponse, error)
	ListBuilds(ctx context.Context, token string, opts client.ListBuildsOptions) ([]domain.BuildEntry, error)
	GetBuild(ctx context.Context, token, id string) (domain.BuildEntry, error)
	ClearBuilds(ctx context.Context, token string) error
	OpenBuildStream(ctx context.Context, token string) (io.ReadCloser, error)
}

// APIFactory returns the API for a normalized gateway endpoint.
type APIFactory func(endpoint string) (API, error)

// Options wires a Service. Only Config and Repository are required.
type Options struct {
	Config     config.ConsoleConfig
	Repository repository.SessionRepository
	APIs       APIFactory
	Clock      clock.Clock
	Logger     *slog.Logger
	Notifier   session.Notifier
	// Registerer receives the stream and history collectors when set.
	Registerer prometheus.Registerer
	// AutoStream starts the build stream on login and resume.
	AutoStream bool
}

// Service holds all console state for one operator.
type Service struct {
	cfg        config.ConsoleConfig
	logger     *slog.Logger
	clock      clock.Clock
	factory    APIFactory
	autoStream bool

	sessions *session.Manager
	history  *history.Store
	overlay  *overlay.Engine
	stream   *stream.Client

	mu   sync.Mutex
	apis map[string]API
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	cfg := opts.Config
	s := &Service{
		cfg:        cfg,
		logger:     opts.Logger,
		clock:      opts.Clock,
		factory:    opts.APIs,
		autoStream: opts.AutoStream,
		overlay:    overlay.New(),
		apis:       make(map[string]API),
	}
	if s.factory == nil {
		s.factory = func(endpoint string) (API, error) {
			c, err := client.New(endpoint, client.WithTimeout(cfg.RequestTimeout))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	var historyOpts []history.Option
	var streamMetrics *stream.Metrics
	if opts.Registerer != nil {
		historyOpts = append(historyOpts, history.WithMetrics(history.NewMetrics(opts.Registerer)))
		streamMetrics = stream.NewMetrics(opts.Registerer)
	}
	s.history = history.New(cfg.HistoryLimit, historyOpts...)

	sessions, err := session.NewManager(session.Config{
		Endpoint:          cfg.GatewayURL,
		InactivityTimeout: cfg.InactivityTimeout,
		Repository:        opts.Repository,
		Gateways:          func(endpoint string) (session.Gateway, error) { return s.apiFor(endpoint) },
		Clock:             opts.Clock,
		Logger:            opts.Logger.With("component", "session"),
		Notifier:          opts.Notifier,
	})
	if err != nil {
		return nil, err
	}
	s.sessions = sessions

	delay := cfg.StreamBackoff
	if delay <= 0 {
		delay = stream.DefaultBackoff
	}
	s.stream, err = stream.New(stream.Config{
		Open:    s.openStream,
		Sink:    pendingSink{s},
		Backoff: backoff.NewConstantBackOff(delay),
		Clock:   opts.Clock,
		Logger:  opts.Logger.With("component", "stream"),
		Metrics: streamMetrics,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions exposes the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// History exposes the build history store.
func (s *Service) History() *history.Store { return s.history }

// Overlay exposes the source overlay.
func (s *Service) Overlay() *overlay.Engine { return s.overlay }

// Stream exposes the build stream client.
func (s *Service) Stream() *stream.Client { return s.stream }

// Login authenticates against endpoint, or the configured gateway when empty.
func (s *Service) Login(ctx context.Context, endpoint, username, password string) (domain.Session, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = s.cfg.GatewayURL
	}
	switch {
	case strings.TrimSpace(username) == "":
		return domain.Session{}, domain.Invalid("username", "username is required")
	case password == "":
		return domain.Session{}, domain.Invalid("password", "password is required")
	}
	sess, err := s.sessions.Login(ctx, endpoint, username, password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			return domain.Session{}, domain.Invalid("endpoint", "%v", err)
		}
		return domain.Session{}, err
	}
	s.afterSessionStart()
	return sess, nil
}

// Resume restores the persisted session of the configured gateway.
func (s *Service) Resume(ctx context.Context) (domain.Session, error) {
	sess, err := s.sessions.Resume(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	s.afterSessionStart()
	return sess, nil
}

// Logout ends the session and drops the session scoped local state.
func (s *Service) Logout(ctx context.Context) error {
	s.stream.Stop()
	if err := s.sessions.Logout(ctx, false); err != nil {
		return err
	}
	s.history.Clear()
	s.overlay.Reset()
	return nil
}

// Touch records user activity.
func (s *Service) Touch() {
	s.sessions.Touch()
}

// Close stops the build stream.
func (s *Service) Close() {
	s.stream.Stop()
}

// SystemInfo describes the connected gateway.
func (s *Service) SystemInfo(ctx context.Context) (client.SystemInfo, error) {
	var info client.SystemInfo
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		info, err = api.SystemInfo(ctx, token)
		return err
	})
	return info, err
}

// SystemConfig returns the gateway limits shown to operators.
func (s *Service) SystemConfig(ctx context.Context) (client.SystemConfig, error) {
	var cfg client.SystemConfig
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		cfg, err = api.SystemConfig(ctx, token)
		return err
	})
	return cfg, err
}

// Health checks the gateway of the current session, or the configured one
// when signed out. It needs no token.
func (s *Service) Health(ctx context.Context) (client.Health, error) {
	endpoint := s.cfg.GatewayURL
	if current, ok := s.sessions.Current(); ok {
		endpoint = current.GatewayEndpoint
	}
	api, err := s.apiFor(endpoint)
	if err != nil {
		return client.Health{}, err
	}
	return api.Health(ctx)
}

func (s *Service) afterSessionStart() {
	if !s.autoStream {
		return
	}
	s.stream.Stop()
	s.stream.Start(s.sessions.Context())
}

// authorized runs fn with the API and token of the current session.
func (s *Service) authorized(ctx context.Context, fn func(ctx context.Context, api API, token string) error) error {
	current, ok := s.sessions.Current()
	if !ok {
		return session.ErrNotAuthenticated
	}
	api, err := s.apiFor(current.GatewayEndpoint)
	if err != nil {
		return err
	}
	return s.sessions.Authorized(ctx, func(ctx context.Context, token string) error {
		return fn(ctx, api, token)
	})
}

func (s *Service) openStream(ctx context.Context) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		body, err = api.OpenBuildStream(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Service) apiFor(endpoint string) (API, error) {
	endpoint = client.NormalizeBaseURL(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if api, ok := s.apis[endpoint]; ok {
		return api, nil
	}
	api, err := s.factory(endpoint)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}
	s.apis[endpoint] = api
	return api, nil
}
