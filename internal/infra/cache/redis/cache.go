// Package redis fronts a durable store with a read-through Redis cache of
// threshold profiles. Cache failures never fail a request; the store stays
// authoritative.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aquawatch/pkg/domain"
)

var _ domain.DurableStore = (*Store)(nil)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "aquawatch:profile:"
)

// Client is the subset of go-redis used by the cache. *goredis.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Logger receives cache failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Store decorates a DurableStore; every method except the profile pair is
// passed through unchanged.
type Store struct {
	domain.DurableStore
	client Client
	ttl    time.Duration
	logger Logger
	closer func() error
}

// Option configures the cache.
type Option func(*Store)

// WithTTL overrides the entry lifetime (default 5m).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClientCloser makes Close also release the client, e.g. the
// *goredis.Client returned by Dial.
func WithClientCloser(fn func() error) Option {
	return func(s *Store) { s.closer = fn }
}

// New wraps store with a profile cache backed by client.
func New(store domain.DurableStore, client Client, opts ...Option) *Store {
	s := &Store{DurableStore: store, client: client, ttl: defaultTTL, logger: noopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func profileKey(userID string) string { return keyPrefix + userID }

// LoadProfile serves from the cache and falls back to the store on a miss.
// ErrProfileNotFound is not cached so a later save is visible immediately.
func (s *Store) LoadProfile(ctx context.Context, userID string) (domain.ThresholdProfile, error) {
	key := profileKey(userID)
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile domain.ThresholdProfile
		if uerr := json.Unmarshal(data, &profile); uerr == nil {
			return profile, nil
		}
		s.logger.Warn("profile_cache_corrupt", "user_id", userID)
	case !errors.Is(err, goredis.Nil):
		s.logger.Warn("profile_cache_get_failed", "user_id", userID, "error", err)
	}
	profile, err := s.DurableStore.LoadProfile(ctx, userID)
	if err != nil {
		return profile, err
	}
	if data, merr := json.Marshal(profile); merr == nil {
		if serr := s.client.Set(ctx, key, data, s.ttl).Err(); serr != nil {
			s.logger.Warn("profile_cache_set_failed", "user_id", userID, "error", serr)
		}
	}
	return profile, nil
}

// SaveProfile writes through to the store and invalidates the cached entry.
func (s *Store) SaveProfile(ctx context.Context, userID string, profile domain.ThresholdProfile) error {
	if err := s.DurableStore.SaveProfile(ctx, userID, profile); err != nil {
		return err
	}
	if err := s.client.Del(ctx, profileKey(userID)).Err(); err != nil {
		s.logger.Warn("profile_cache_invalidate_failed", "user_id", userID, "error", err)
	}
	return nil
}

// Close closes the wrapped store and, when owned, the client.
func (s *Store) Close() error {
	err := s.DurableStore.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer())
	}
	return err
}
