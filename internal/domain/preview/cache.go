package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

type entry struct {
	state     EntryState
	url       string
	timestamp time.Time
}

// Cache resolves tracks to preview URLs.
//
// At most one network request per track id is outstanding at any time; every
// concurrent caller for that id shares its result. Resolutions for distinct ids
// run in parallel. A Cache owns its in-flight, attempted and entry bookkeeping,
// so independent instances never share state.
type Cache struct {
	resolver Resolver
	store    *DurableStore

	successTTL time.Duration
	failureTTL time.Duration
	timeout    time.Duration
	lowLimit   int
	lowSpacing time.Duration
	now        func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	entries     map[string]entry
	pending     map[string]struct{}
	attempted   map[string]struct{}
	lowInFlight int
	generation  uint64
	stats       Stats

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option is a functional option for configuring the cache.
type Option func(*Cache)

// WithSuccessTTL sets how long a resolved URL stays valid.
func WithSuccessTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.successTTL = d
	}
}

// WithFailureTTL sets how long a "no preview" answer is cached.
func WithFailureTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.failureTTL = d
	}
}

// WithTimeout bounds each network resolution.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithLowPriorityLimit caps concurrent low-priority prefetches.
func WithLowPriorityLimit(n int) Option {
	return func(c *Cache) {
		c.lowLimit = n
	}
}

// WithLowPrioritySpacing sets the delay applied before each low-priority prefetch.
func WithLowPrioritySpacing(d time.Duration) Option {
	return func(c *Cache) {
		c.lowSpacing = d
	}
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache backed by resolver. store may be nil for a
// memory-only cache; otherwise its contents are loaded once here.
func NewCache(resolver Resolver, store *DurableStore, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		resolver:   resolver,
		store:      store,
		successTTL: DefaultSuccessTTL,
		failureTTL: DefaultFailureTTL,
		timeout:    DefaultTimeout,
		lowLimit:   DefaultLowPriorityLimit,
		lowSpacing: DefaultLowPrioritySpacing,
		now:        time.Now,
		entries:    make(map[string]entry),
		pending:    make(map[string]struct{}),
		attempted:  make(map[string]struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	if store != nil {
		loadedAt := c.now()
		for id, e := range store.All() {
			c.entries[id] = entry{state: StateResolved, url: e.URL, timestamp: loadedAt}
		}
	}

	return c
}

// Resolve returns track with its preview URL filled in, or unchanged when no
// URL could be obtained. It never returns an error: rate limiting, network
// failures and caller cancellation all yield the unchanged track.
func (c *Cache) Resolve(ctx context.Context, t track.Ref) track.Ref {
	if t.HasPreview() || t.ID == "" {
		return t
	}

	if e, ok := c.lookup(t.ID, true); ok {
		if e.state == StateResolved {
			if c.store != nil {
				c.store.Get(t.ID)
			}
			return t.WithPreview(e.url)
		}
		return t
	}

	url, err := c.resolveShared(ctx, t.ID)
	if err != nil || url == "" {
		return t
	}
	return t.WithPreview(url)
}

// IsCached reports whether a valid resolved URL is cached for id.
func (c *Cache) IsCached(id string) bool {
	e, ok := c.lookup(id, false)
	return ok && e.state == StateResolved
}

// HasNoPreview reports whether id is known, for now, to have no preview.
func (c *Cache) HasNoPreview(id string) bool {
	e, ok := c.lookup(id, false)
	return ok && e.state == StateNegative
}

// Lookup returns the cache's current knowledge about id without touching the network.
func (c *Cache) Lookup(id string) (Entry, bool) {
	c.mu.Lock()
	_, pending := c.pending[id]
	c.mu.Unlock()

	if e, ok := c.lookup(id, false); ok {
		return Entry{ID: id, State: e.state, URL: e.url, Timestamp: e.timestamp}, true
	}
	if pending {
		return Entry{ID: id, State: StatePending}, true
	}
	return Entry{}, false
}

// lookup returns a non-expired entry for id. Expired entries are dropped.
// When count is set the lookup is recorded as a hit or miss.
func (c *Cache) lookup(id string, count bool) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if ok && c.expired(e) {
		delete(c.entries, id)
		ok = false
	}

	if count {
		if ok {
			c.stats.Hits++
		} else {
			c.stats.Misses++
		}
	}

	return e, ok
}

func (c *Cache) expired(e entry) bool {
	ttl := c.successTTL
	if e.state == StateNegative {
		ttl = c.failureTTL
	}
	return c.now().Sub(e.timestamp) >= ttl
}

// resolveShared joins or starts the single in-flight request for id.
// The shared request is bounded by the cache's own timeout, not by ctx, so a
// caller giving up does not cancel the request for everyone else.
func (c *Cache) resolveShared(ctx context.Context, id string) (string, error) {
	ch := c.group.DoChan(id, func() (any, error) {
		return c.fetch(id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		url, _ := res.Val.(string)
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fetch performs one network resolution and records its outcome.
func (c *Cache) fetch(id string) (string, error) {
	// A previous flight for the same id may have completed between our cache
	// check and joining the group.
	if e, ok := c.lookup(id, false); ok {
		if e.state == StateResolved {
			return e.url, nil
		}
		return "", nil
	}

	c.mu.Lock()
	gen := c.generation
	started := c.now()
	c.pending[id] = struct{}{}
	c.stats.NetworkRequests++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.baseCtx, c.timeout)
	defer cancel()

	url, err := c.resolver.ResolvePreview(ctx, id)

	c.mu.Lock()
	// After a Clear the marker may belong to a newer flight for id.
	if gen == c.generation {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	switch {
	case err == nil && url != "":
		if c.commit(id, entry{state: StateResolved, url: url, timestamp: c.now()}, started, gen) && c.store != nil {
			c.store.Put(id, url)
		}
		log.Debug().Str("trackId", id).Msg("Preview resolved")
		return url, nil

	case err == nil:
		c.commit(id, entry{state: StateNegative, timestamp: c.now()}, started, gen)
		log.Debug().Str("trackId", id).Msg("No preview available")
		return "", nil

	case isCancellation(err):
		return "", err

	case errors.Is(err, ErrRateLimited):
		c.mu.Lock()
		c.stats.RateLimited++
		c.mu.Unlock()
		log.Warn().Str("trackId", id).Msg("Preview resolution rate limited")
		return "", err

	default:
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		log.Debug().Err(err).Str("trackId", id).Msg("Preview resolution failed")
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrNetwork) {
			err = errors.Join(ErrNetwork, err)
		}
		return "", err
	}
}

// commit applies a completed resolution unless the cache was cleared since the
// request started or a newer write for the same id already landed.
func (c *Cache) commit(id string, e entry, started time.Time, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}
	if existing, ok := c.entries[id]; ok && existing.timestamp.After(started) {
		return false
	}
	c.entries[id] = e
	return true
}

// Prefetch resolves t in the background. It never blocks and never fails.
//
// Each id is attempted at most once per cache instance. Low-priority requests
// are capped at the configured limit (excess requests are dropped, not queued)
// and delayed by a fixed spacing; high-priority requests fire immediately.
func (c *Cache) Prefetch(t track.Ref, priority Priority) {
	if t.HasPreview() || t.ID == "" {
		return
	}

	c.mu.Lock()
	if c.baseCtx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if _, done := c.attempted[t.ID]; done {
		c.stats.PrefetchSkipped++
		c.mu.Unlock()
		return
	}
	if _, busy := c.pending[t.ID]; busy {
		c.stats.PrefetchSkipped++
		c.mu.Unlock()
		return
	}
	if priority == PriorityLow {
		if c.lowInFlight >= c.lowLimit {
			c.stats.PrefetchDropped++
			c.mu.Unlock()
			log.Debug().Str("trackId", t.ID).Msg("Low priority prefetch dropped")
			return
		}
		c.lowInFlight++
	}
	c.attempted[t.ID] = struct{}{}
	c.stats.PrefetchStarted++
	c.wg.Add(1)
	c.mu.Unlock()

	go c.runPrefetch(t, priority)
}

func (c *Cache) runPrefetch(t track.Ref, priority Priority) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("trackId", t.ID).Msg("Prefetch panicked")
		}
	}()

	if priority == PriorityLow {
		defer func() {
			c.mu.Lock()
			c.lowInFlight--
			c.mu.Unlock()
		}()

		if c.lowSpacing > 0 {
			timer := time.NewTimer(c.lowSpacing)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-c.baseCtx.Done():
				return
			}
		}
	}

	c.Resolve(c.baseCtx, t)
}

// Clear flushes the memory cache, the durable store, the in-flight bookkeeping
// and the attempted set. Requests still in flight complete but are discarded.
func (c *Cache) Clear() {
	c.mu.Lock()
	for id := range c.pending {
		c.group.Forget(id)
	}
	c.entries = make(map[string]entry)
	c.pending = make(map[string]struct{})
	c.attempted = make(map[string]struct{})
	c.generation++
	c.mu.Unlock()

	if c.store != nil {
		c.store.Clear()
	}

	log.Info().Msg("Preview cache cleared")
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	s.Resolved, s.Negative = 0, 0
	for _, e := range c.entries {
		if e.state == StateResolved {
			s.Resolved++
		} else {
			s.Negative++
		}
	}
	s.Pending = len(c.pending)
	s.LowPriorityInFlight = c.lowInFlight
	if c.store != nil {
		s.Stored = c.store.Len()
		s.StoreDegraded = c.store.Degraded()
	}
	return s
}

// Close cancels outstanding requests and waits for background prefetches.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}
