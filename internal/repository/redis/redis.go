// Package redis stores session records in Redis, expiring each record with
// its token.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/repository"
)

const keyPrefix = "faasdeck:session:"

// Store is a Redis backed SessionRepository.
type Store struct {
	client  *goredis.Client
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// New connects to Redis and verifies the connection with a ping.
func New(addr, password string, db int, logger *slog.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{client: client, logger: logger, timeout: 2 * time.Second, now: time.Now}
}

// Key returns the Redis key used for slot.
func Key(slot string) string {
	return keyPrefix + slot
}

// Load implements repository.SessionRepository.
func (s *Store) Load(ctx context.Context, slot string) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(ctx, Key(slot)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Session{}, repository.ErrNotFound
	}
	if err != nil {
		s.logger.Error("redis session store error", "op", "get", "error", err)
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", repository.ErrCorrupt, err)
	}
	return session, nil
}

// Save implements repository.SessionRepository. A record whose token has
// already expired is not written.
func (s *Store) Save(ctx context.Context, slot string, session domain.Session) error {
	ttl, ok := ttlFor(session, s.now())
	if !ok {
		return s.Delete(ctx, slot)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, Key(slot), data, ttl).Err(); err != nil {
		s.logger.Error("redis session store error", "op", "set", "error", err)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete implements repository.SessionRepository.
func (s *Store) Delete(ctx context.Context, slot string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, Key(slot)).Err(); err != nil {
		s.logger.Error("redis session store error", "op", "del", "error", err)
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ttlFor returns the key lifetime for session. Zero means no expiry; false
// means the token has already expired.
func ttlFor(session domain.Session, now time.Time) (time.Duration, bool) {
	remaining, ok := session.Remaining(now)
	if !ok {
		return 0, true
	}
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

var _ repository.SessionRepository = (*Store)(nil)
