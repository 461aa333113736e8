// Package redisstore keeps session records in Redis under "<cookie>_<id>" keys
// and provides the maintenance helpers that scan, clean and look them up.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

// Store is a sessions.Backend on Redis.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
	metrics *metrics.Metrics
}

var _ sessions.Backend = (*Store)(nil)

type Option func(*Store)

// WithNowFunc overrides the clock used by Clean.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithMetrics counts removed sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store for sessions of the named cookie.
func New(client redis.UniversalClient, cookieName string, opts ...Option) *Store {
	s := &Store{client: client, prefix: cookieName, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL, creates a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("[redisstore Connect] parse url: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connect to Redis")
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[redisstore Connect] could not connect to Redis server: %w", err)
	}
	return client, nil
}

// Client is the underlying Redis client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Key is the Redis key of session id.
func (s *Store) Key(id string) string {
	return s.prefix + "_" + id
}

// ID reverses Key.
func (s *Store) ID(key string) string {
	return strings.TrimPrefix(key, s.prefix+"_")
}

func (s *Store) Load(ctx context.Context, id string) (sessions.Record, error) {
	data, err := s.client.Get(ctx, s.Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessions.Record{}, errors.ErrSessionNotFound
		}
		return sessions.Record{}, fmt.Errorf("[Store Load] redis get: %w", err)
	}
	rec, err := sessions.DecodeRecord(data)
	if err != nil {
		return sessions.Record{}, fmt.Errorf("[Store Load] %s: %w", s.Key(id), err)
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, id string, rec sessions.Record, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("[Store Save] %w: session id is empty", errors.ErrInvalidArgument)
	}
	data, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("[Store Save] %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.Key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("[Store Save] redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.Key(id)).Err(); err != nil {
		return fmt.Errorf("[Store Delete] redis del: %w", err)
	}
	return nil
}
