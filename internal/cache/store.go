package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/l0p7/dashfeed/internal/metrics"
)

// DefaultTTL bounds how long a payload is served without a refetch.
const DefaultTTL = 30 * time.Minute

// DefaultKeyPrefix namespaces durable keys.
const DefaultKeyPrefix = "dashfeed_"

type Options struct {
	TTL       time.Duration
	KeyPrefix string
	// Durable is optional; nil keeps the store volatile only.
	Durable Durable
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Store is the two-tier report cache. The volatile tier always answers
// first; the durable tier survives restarts and is best-effort.
type Store struct {
	ttl     time.Duration
	prefix  string
	memory  *memoryTier
	durable Durable
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func New(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ttl:     ttl,
		prefix:  prefix,
		memory:  newMemoryTier(),
		durable: opts.Durable,
		clock:   clock,
		logger:  logger.With(slog.String("agent", "cache")),
		metrics: opts.Metrics,
	}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns a valid payload for key. Durable failures are logged and
// reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := s.clock.Now()
	entry, ok, expired := s.memory.lookup(key, now, s.ttl)
	switch {
	case ok:
		s.metrics.ObserveCache(metrics.CacheTierVolatile, metrics.CacheOperationLookup, metrics.CacheResultHit)
		return entry.Payload, true
	case expired:
		s.metrics.ObserveCache(metrics.CacheTierVolatile, metrics.CacheOperationLookup, metrics.CacheResultExpired)
	default:
		s.metrics.ObserveCache(metrics.CacheTierVolatile, metrics.CacheOperationLookup, metrics.CacheResultMiss)
	}

	if s.durable == nil {
		return nil, false
	}

	durableKey := s.prefix + key
	raw, found, err := s.durable.Get(ctx, durableKey)
	if err != nil {
		s.absorb(&StorageError{Op: "get", Key: durableKey, Err: err}, metrics.CacheOperationLookup)
		return nil, false
	}
	if !found {
		s.metrics.ObserveCache(metrics.CacheTierDurable, metrics.CacheOperationLookup, metrics.CacheResultMiss)
		return nil, false
	}
	entry, err = decodeEntry(raw)
	if err != nil {
		s.absorb(&StorageError{Op: "decode", Key: durableKey, Err: err}, metrics.CacheOperationLookup)
		return nil, false
	}
	if !entry.Valid(now, s.ttl) {
		s.metrics.ObserveCache(metrics.CacheTierDurable, metrics.CacheOperationLookup, metrics.CacheResultExpired)
		if err := s.durable.Delete(ctx, durableKey); err != nil {
			s.absorb(&StorageError{Op: "delete", Key: durableKey, Err: err}, metrics.CacheOperationInvalidate)
		}
		return nil, false
	}

	s.metrics.ObserveCache(metrics.CacheTierDurable, metrics.CacheOperationLookup, metrics.CacheResultHit)
	s.memory.store(key, entry)
	return bytes.Clone(entry.Payload), true
}

// Set writes payload to both tiers stamped with the current time. The
// volatile write always lands even when the durable tier fails.
func (s *Store) Set(ctx context.Context, key string, payload json.RawMessage) {
	entry := Entry{Payload: payload, StoredAt: s.clock.Now().UTC()}
	s.memory.store(key, entry)
	s.metrics.ObserveCache(metrics.CacheTierVolatile, metrics.CacheOperationStore, metrics.CacheResultStored)

	if s.durable == nil {
		return
	}

	durableKey := s.prefix + key
	encoded, err := encodeEntry(entry)
	if err != nil {
		s.absorb(&StorageError{Op: "encode", Key: durableKey, Err: err}, metrics.CacheOperationStore)
		return
	}
	if err := s.durable.Set(ctx, durableKey, encoded, s.ttl); err != nil {
		s.absorb(&StorageError{Op: "set", Key: durableKey, Err: err}, metrics.CacheOperationStore)
		return
	}
	s.metrics.ObserveCache(metrics.CacheTierDurable, metrics.CacheOperationStore, metrics.CacheResultStored)
}

// Invalidate removes key from both tiers.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.memory.delete(key)
	s.metrics.ObserveCache(metrics.CacheTierVolatile, metrics.CacheOperationInvalidate, metrics.CacheResultRemoved)

	if s.durable == nil {
		return
	}

	durableKey := s.prefix + key
	if err := s.durable.Delete(ctx, durableKey); err != nil {
		s.absorb(&StorageError{Op: "delete", Key: durableKey, Err: err}, metrics.CacheOperationInvalidate)
		return
	}
	s.metrics.ObserveCache(metrics.CacheTierDurable, metrics.CacheOperationInvalidate, metrics.CacheResultRemoved)
}

func (s *Store) Close(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	return s.durable.Close(ctx)
}

func (s *Store) absorb(err *StorageError, op metrics.CacheOperation) {
	s.metrics.ObserveCache(metrics.CacheTierDurable, op, metrics.CacheResultError)
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "durable cache operation failed",
		slog.String("op", err.Op),
		slog.String("key", err.Key),
		slog.Any("error", err.Err),
	)
}
