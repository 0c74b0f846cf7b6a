// Package resources caches the user scoped documents (profile, settings,
// entitlements) behind the request deduplication cache.
package resources

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/dedup"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deps are shared by every loader of a session.
type Deps struct {
	Cache         *dedup.Cache
	Authenticated func() bool
	Metrics       *metrics.Metrics
	Logger        *zerolog.Logger
}

// Loader caches one resource. Without force a cached value is returned with
// no network call. With force the fetch always runs, after any in-flight one.
//
// On failure a loader with a fallback returns the fallback (uncached) and
// records a message; one without keeps its previous value.
type Loader[T any] struct {
	name     string
	fetch    func(ctx context.Context) (T, error)
	fallback func() T
	clone    func(T) T
	message  string
	deps     Deps
	logger   zerolog.Logger

	mu     sync.RWMutex
	value  T
	cached bool
	errMsg string
	epoch  uint64
}

func NewLoader[T any](name string, deps Deps, fetch func(ctx context.Context) (T, error)) *Loader[T] {
	l := &Loader[T]{
		name:   name,
		fetch:  fetch,
		deps:   deps,
		logger: log.Logger,
	}
	if deps.Logger != nil {
		l.logger = *deps.Logger
	}
	l.logger = l.logger.With().Str("resource", name).Logger()
	return l
}

// NewFallbackLoader returns a loader that normalizes failures to fallback()
// and records message for display.
func NewFallbackLoader[T any](name string, deps Deps, fetch func(ctx context.Context) (T, error), fallback func() T, message string) *Loader[T] {
	l := NewLoader(name, deps, fetch)
	l.fallback = fallback
	l.message = message
	return l
}

// WithClone makes the loader hand out clone(v) instead of the cached value,
// so callers cannot mutate the cache through what they receive.
func (l *Loader[T]) WithClone(clone func(T) T) *Loader[T] {
	l.clone = clone
	return l
}

func (l *Loader[T]) out(v T) T {
	if l.clone == nil {
		return v
	}
	return l.clone(v)
}

func (l *Loader[T]) Name() string {
	return l.name
}

// Load returns the resource and whether one is available. Nothing is fetched
// while the session is unauthenticated.
func (l *Loader[T]) Load(ctx context.Context, force bool) (T, bool) {
	var zero T
	if l.deps.Authenticated != nil && !l.deps.Authenticated() {
		l.deps.Metrics.ResourceLoad(l.name, metrics.OutcomeSkipped)
		return zero, false
	}

	l.mu.RLock()
	value, cached, epoch := l.value, l.cached, l.epoch
	l.mu.RUnlock()
	if cached && !force {
		l.deps.Metrics.ResourceLoad(l.name, metrics.OutcomeCached)
		return l.out(value), true
	}

	v, err := dedup.Do(ctx, l.deps.Cache, l.name, l.fetch, force)
	if err != nil {
		return l.failed(epoch, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.epoch != epoch {
		l.logger.Debug().Msg("discarding fetch that settled after the session was cleared")
		return zero, false
	}
	l.value, l.cached, l.errMsg = v, true, ""
	l.deps.Metrics.ResourceLoad(l.name, metrics.OutcomeSuccess)
	return l.out(v), true
}

func (l *Loader[T]) failed(epoch uint64, err error) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stale := l.epoch != epoch
	if l.fallback != nil {
		l.logger.Warn().Err(err).Msg("resource fetch failed, using fallback")
		l.deps.Metrics.ResourceLoad(l.name, metrics.OutcomeFallback)
		if !stale {
			l.errMsg = l.message
		}
		return l.fallback(), true
	}

	l.logger.Warn().Err(err).Msg("resource fetch failed, keeping previous value")
	l.deps.Metrics.ResourceLoad(l.name, metrics.OutcomeFailure)
	if stale {
		var zero T
		return zero, false
	}
	l.errMsg = err.Error()
	return l.out(l.value), l.cached
}

// Cached returns the cached value without fetching.
func (l *Loader[T]) Cached() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.out(l.value), l.cached
}

// ErrorMessage is the message recorded by the last failed load, empty after a success.
func (l *Loader[T]) ErrorMessage() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.errMsg
}

// Clear drops the cached value. Fetches already running will not repopulate it.
func (l *Loader[T]) Clear() {
	var zero T
	l.mu.Lock()
	l.value, l.cached, l.errMsg = zero, false, ""
	l.epoch++
	l.mu.Unlock()
}
