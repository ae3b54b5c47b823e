// Package idempotency folds repeated top-up requests into a single gateway
// call.
//
// Requests are keyed by a Fingerprint built from the user hash, the
// normalised amount and a fixed time bucket. The first caller for a
// fingerprint inserts a Handle and performs the gateway call; every other
// caller in the same bucket waits on that Handle and observes the same
// redirect URI or the same error.
//
// Buckets are hard boundaries: two identical requests on either side of a
// bucket edge get two gateway calls.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Fingerprint identifies a logical top-up request within one dedup bucket.
// It is a comparable value and is used directly as a map key.
type Fingerprint struct {
	UserHash string
	Amount   string
	Bucket   int64
}

// NewFingerprint derives the bucket as at / window using integer division on
// millisecond timestamps.
func NewFingerprint(userHash, amount string, at time.Time, window time.Duration) Fingerprint {
	return Fingerprint{
		UserHash: userHash,
		Amount:   amount,
		Bucket:   at.UnixMilli() / window.Milliseconds(),
	}
}

// Handle is the shared result of an in-flight or completed top-up.
type Handle struct {
	createdAt time.Time
	done      chan struct{}
	once      sync.Once
	uri       string
	err       error
}

func newHandle(now time.Time) *Handle {
	return &Handle{createdAt: now, done: make(chan struct{})}
}

// Resolve publishes the outcome to all waiters. Only the first call has
// any effect.
func (h *Handle) Resolve(uri string, err error) {
	h.once.Do(func() {
		h.uri = uri
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the handle is resolved or ctx is done. Giving up on ctx
// does not affect the underlying gateway call.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.uri, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the handle resolves.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is a process-local map from fingerprint to Handle. Entries expire
// window after insertion and are swept lazily on every access.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[Fingerprint]*Handle
}

func NewCache(window time.Duration, opts ...Option) *Cache {
	c := &Cache{
		window:  window,
		now:     time.Now,
		entries: make(map[Fingerprint]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window is the dedup bucket size.
func (c *Cache) Window() time.Duration {
	return c.window
}

// GetOrCreate atomically returns the live handle for fp, or inserts a new
// one. When existing is false the caller owns the handle and must Resolve it.
func (c *Cache) GetOrCreate(fp Fingerprint) (existing bool, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if h, ok := c.entries[fp]; ok {
		return true, h
	}

	h = newHandle(now)
	c.entries[fp] = h
	return false, h
}

// Len returns the number of live entries after sweeping expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(c.now())
	return len(c.entries)
}

// Clear drops every entry. Handles already held by callers stay usable.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// sweepLocked must be called with mu held.
func (c *Cache) sweepLocked(now time.Time) {
	for fp, h := range c.entries {
		if !now.Before(h.createdAt.Add(c.window)) {
			delete(c.entries, fp)
		}
	}
}
