package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"breakout-radar/internal/domain"
)

// Result is a freshness-tagged read. Err holds the fetch failure behind a Stale
// or Unavailable result and is informational only.
type Result[T any] struct {
	Value      T
	Freshness  domain.Freshness
	CapturedAt time.Time
	Err        error
}

// Layer fronts a Store with TTL checks and last-good fallback.
type Layer struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewLayer wraps store. A nil store uses a fresh MemoryStore.
func NewLayer(store Store, logger zerolog.Logger) *Layer {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Layer{
		store:  store,
		logger: logger.With().Str("component", "cache").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (l *Layer) WithClock(now func() time.Time) *Layer {
	l.now = now
	return l
}

// GetOrFetch returns a cached value classified Fresh while within ttl. Otherwise it calls
// fetch: success is stored and returned Fresh; failure returns the last stored value
// tagged Stale with its original capture time, or Unavailable when nothing is stored.
func GetOrFetch[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fetch func(context.Context) (T, error)) Result[T] {
	prior, hasPrior := lookup[T](ctx, l, key)
	now := l.now()
	if hasPrior && !prior.entry.Expired(now) {
		return Result[T]{Value: prior.value, Freshness: domain.Fresh, CapturedAt: prior.entry.CapturedAt}
	}

	value, err := fetch(ctx)
	if err == nil {
		captured := l.now()
		if storeErr := store(ctx, l, key, ttl, captured, value); storeErr != nil {
			l.logger.Warn().Err(storeErr).Str("key", key).Msg("cache write failed")
		}
		return Result[T]{Value: value, Freshness: domain.Fresh, CapturedAt: captured}
	}

	if hasPrior {
		l.logger.Warn().Err(err).Str("key", key).Time("captured_at", prior.entry.CapturedAt).Msg("serving stale cache entry")
		return Result[T]{Value: prior.value, Freshness: domain.Stale, CapturedAt: prior.entry.CapturedAt, Err: err}
	}

	l.logger.Warn().Err(err).Str("key", key).Msg("no cached fallback available")
	var zero T
	return Result[T]{Value: zero, Freshness: domain.Unavailable, Err: err}
}

// ReadThrough returns the cached value while within ttl, otherwise loads, stores and
// returns it. Loader errors are returned unchanged and nothing is stored. A non-nil
// keep decides whether a loaded value is stored; rejected values are returned but
// loaded again on the next read.
func ReadThrough[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, load func(context.Context) (T, error), keep func(T) bool) (T, error) {
	if prior, ok := lookup[T](ctx, l, key); ok && !prior.entry.Expired(l.now()) {
		return prior.value, nil
	}
	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if keep != nil && !keep(value) {
		return value, nil
	}
	if storeErr := store(ctx, l, key, ttl, l.now(), value); storeErr != nil {
		l.logger.Warn().Err(storeErr).Str("key", key).Msg("read cache write failed")
	}
	return value, nil
}

type cached[T any] struct {
	entry Entry
	value T
}

func lookup[T any](ctx context.Context, l *Layer, key string) (cached[T], bool) {
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return cached[T]{}, false
	}
	if !ok {
		return cached[T]{}, false
	}
	var value T
	if err := json.Unmarshal(entry.Payload, &value); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return cached[T]{}, false
	}
	return cached[T]{entry: entry, value: value}, true
}

func store[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, captured time.Time, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, Entry{Payload: payload, CapturedAt: captured, TTL: ttl})
}
