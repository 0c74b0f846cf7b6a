// Package dedup shares one in-flight fetch per resource key between concurrent callers.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/pkg/errors"
)

var errFetchAborted = errors.New("dedup: fetch aborted")

// Fetcher produces the value for a key.
type Fetcher func(ctx context.Context) (any, error)

type call struct {
	done chan struct{}
	val  any
	err  error
}

func (c *call) wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache maps a key to its in-flight fetch. An entry exists only while the
// fetch runs; it is removed before the result is handed back.
type Cache struct {
	mu       sync.Mutex
	inflight map[string]*call
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetchTimeout bounds each shared fetch. Zero leaves it unbounded.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

func New(m *metrics.Metrics, options ...Option) *Cache {
	c := &Cache{
		inflight: make(map[string]*call),
		metrics:  m,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Run returns the result of fetch for key.
//
// Without force, a caller arriving while a fetch for key is in flight shares
// that fetch's result. With force, the caller registers a new fetch that
// starts only after the in-flight one settles, so it always observes a fresh
// round trip. Callers arriving after a forced fetch registered share it.
//
// The fetch runs detached from ctx: cancelling ctx stops this caller waiting
// but not the fetch other callers share.
func (c *Cache) Run(ctx context.Context, key string, fetch Fetcher, force bool) (any, error) {
	c.mu.Lock()
	prev := c.inflight[key]
	if prev != nil && !force {
		c.mu.Unlock()
		c.metrics.Shared(key)
		return prev.wait(ctx)
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	go c.start(context.WithoutCancel(ctx), key, cl, prev, fetch)
	return cl.wait(ctx)
}

func (c *Cache) start(ctx context.Context, key string, cl *call, prev *call, fetch Fetcher) {
	val, err := any(nil), errFetchAborted
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, errors.Errorf("dedup: fetch for %q panicked: %v", key, r)
		}
		c.finish(key, cl, val, err)
	}()

	if prev != nil {
		<-prev.done
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	val, err = fetch(ctx)
}

func (c *Cache) finish(key string, cl *call, val any, err error) {
	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	cl.val, cl.err = val, err
	close(cl.done)
}

// InFlight reports whether a fetch for key is registered.
func (c *Cache) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// Clear forgets every in-flight registration. Running fetches still settle
// for the callers already waiting on them, but nobody new can join them.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.inflight = make(map[string]*call)
	c.mu.Unlock()
}

// Do is the typed form of Cache.Run.
func Do[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), force bool) (T, error) {
	var zero T
	v, err := c.Run(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, force)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("dedup: key %q holds %T", key, v)
	}
	return typed, nil
}
