// Package stream keeps a reconnecting subscription to the gateway build
// event stream and feeds each decoded build entry to a sink.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/splax/faasdeck/internal/clock"
	"github.com/splax/faasdeck/internal/domain"
)

// DefaultBackoff is the fixed delay between reconnect attempts.
const DefaultBackoff = 3000 * time.Millisecond

// State is a run loop state.
type State int32

const (
	// StateCancelled is both the initial and the terminal state.
	StateCancelled State = iota
	StateConnecting
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "cancelled"
	}
}

var allStates = []State{StateCancelled, StateConnecting, StateStreaming, StateBackoff}

// Opener opens the event stream. The returned body must be bound to ctx.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Sink receives decoded build entries.
type Sink interface {
	Upsert(entry domain.BuildEntry) bool
}

// Config wires a Client.
type Config struct {
	Open Opener
	Sink Sink
	// Backoff yields reconnect delays. Defaults to a constant DefaultBackoff.
	Backoff backoff.BackOff
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Client runs at most one subscription at a time.
type Client struct {
	cfg   Config
	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an idle Client.
func New(cfg Config) (*Client, error) {
	if cfg.Open == nil {
		return nil, errors.New("stream opener is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("stream sink is required")
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(DefaultBackoff)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{cfg: cfg}, nil
}

// Start begins the subscription bound to ctx. It reports false, doing
// nothing, when a subscription is already running.
func (c *Client) Start(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return false
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.setState(StateConnecting)
	go c.run(runCtx, done)
	return true
}

// Stop cancels the subscription and waits for the run loop to exit. No sink
// call happens after Stop returns. It must not be called from the sink.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current run loop exits. It is nil before Start.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// State reports the current loop state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateCancelled)

	policy := c.cfg.Backoff
	policy.Reset()
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		body, err := c.cfg.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.cfg.Metrics.connect("failed")
			c.cfg.Logger.Warn("build stream connect failed", "error", err)
		} else {
			c.cfg.Metrics.connect("connected")
			policy.Reset()
			c.setState(StateStreaming)
			err = c.consume(ctx, body)
			if ctx.Err() != nil {
				return
			}
			c.cfg.Logger.Info("build stream disconnected", "error", err)
		}

		c.setState(StateBackoff)
		delay := policy.NextBackOff()
		if delay == backoff.Stop || delay < 0 {
			delay = DefaultBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-c.cfg.Clock.After(delay):
		}
	}
}

// consume reads records until the body ends. Cancelling ctx closes the body
// so a blocked read returns.
func (c *Client) consume(ctx context.Context, body io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer func() {
		if stop() {
			_ = body.Close()
		}
	}()

	reader := NewReader(body)
	for {
		rec, err := reader.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handle(rec)
	}
}

func (c *Client) handle(rec Record) {
	payload := strings.TrimSpace(rec.Data)
	if payload == "" {
		return
	}
	var entry domain.BuildEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		c.cfg.Metrics.event("malformed")
		c.cfg.Logger.Debug("discarding malformed build event", "error", err)
		return
	}
	if strings.TrimSpace(entry.ID) == "" {
		c.cfg.Metrics.event("missing_id")
		c.cfg.Logger.Debug("discarding build event without id")
		return
	}
	if c.cfg.Sink.Upsert(entry) {
		c.cfg.Metrics.event("applied")
	} else {
		c.cfg.Metrics.event("ignored")
	}
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.cfg.Metrics.transition(s)
	c.cfg.Logger.Debug("build stream state", "from", prev.String(), "to", s.String())
}
