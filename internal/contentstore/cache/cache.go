// Package cache is a Redis read-through cache in front of a content store.
// Payloads are immutable, so entries never need invalidation.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"certledger/internal/contentstore"
)

var (
	payloadCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_payload_cache_lookups_total",
		Help: "Payload cache lookups by result (hit, miss, error)",
	}, []string{"result"})
)

// Redis key prefix for cached payloads
const payloadKeyPrefix = "payload:"

// Store wraps a content store with a Redis cache. Cache failures are logged
// and never surface to callers.
type Store struct {
	next   contentstore.Client
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(next contentstore.Client, client *redis.Client, opts ...Option) *Store {
	s := &Store{
		next:   next,
		client: client,
		ttl:    24 * time.Hour,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Put writes through to the underlying store and warms the cache.
func (s *Store) Put(ctx context.Context, payload []byte) (string, error) {
	hash, err := s.next.Put(ctx, payload)
	if err != nil {
		return "", err
	}
	s.set(ctx, hash, payload)
	return hash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	cached, err := s.client.Get(ctx, payloadKeyPrefix+hash).Bytes()
	switch {
	case err == nil:
		payloadCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	case errors.Is(err, redis.Nil):
		payloadCacheLookups.WithLabelValues("miss").Inc()
	default:
		payloadCacheLookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "payload cache read failed", "content_hash", hash, "error", err)
	}

	payload, err := s.next.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	s.set(ctx, hash, payload)
	return payload, nil
}

func (s *Store) set(ctx context.Context, hash string, payload []byte) {
	if err := s.client.Set(ctx, payloadKeyPrefix+hash, payload, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "payload cache write failed", "content_hash", hash, "error", err)
	}
}
