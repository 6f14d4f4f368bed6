package preload

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

const (
	// DefaultMaxBuffers is the hard ceiling on held buffers.
	DefaultMaxBuffers = 20

	// DefaultConcurrency is the number of fetches PreloadMultiple runs at once.
	DefaultConcurrency = 2

	// DefaultTimeout bounds a single audio fetch.
	DefaultTimeout = 30 * time.Second
)

type item struct {
	id     string
	handle Handle
}

// Stats is a read-only diagnostic snapshot.
type Stats struct {
	Cached     int   `json:"cached"`
	Loading    int   `json:"loading"`
	MaxBuffers int   `json:"maxBuffers"`
	TotalBytes int64 `json:"totalBytes"`
	Loaded     int   `json:"loaded"`
	Failed     int   `json:"failed"`
	Evicted    int   `json:"evicted"`
	Hits       int   `json:"hits"`
	Misses     int   `json:"misses"`
}

// Preloader holds downloaded audio in a least-recently-used cache.
// When full, the least recently used half is evicted and released before a
// new buffer is inserted.
type Preloader struct {
	fetcher     Fetcher
	factory     HandleFactory
	maxBuffers  int
	concurrency int
	timeout     time.Duration

	mu         sync.Mutex
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	loading    map[string]struct{}
	generation uint64
	stats      Stats
}

// Option is a functional option for configuring the preloader.
type Option func(*Preloader)

// WithMaxBuffers sets the buffer ceiling.
func WithMaxBuffers(n int) Option {
	return func(p *Preloader) {
		if n > 0 {
			p.maxBuffers = n
		}
	}
}

// WithConcurrency sets how many fetches PreloadMultiple runs at once.
func WithConcurrency(n int) Option {
	return func(p *Preloader) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Preloader) {
		p.timeout = d
	}
}

// WithHandleFactory overrides how bytes become a playable handle.
func WithHandleFactory(f HandleFactory) Option {
	return func(p *Preloader) {
		p.factory = f
	}
}

// New creates a preloader that downloads through fetcher.
func New(fetcher Fetcher, opts ...Option) *Preloader {
	p := &Preloader{
		fetcher:     fetcher,
		factory:     NewBuffer,
		maxBuffers:  DefaultMaxBuffers,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		order:       list.New(),
		items:       make(map[string]*list.Element),
		loading:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Preload downloads url and caches it under id. It reports whether a buffer
// for id is cached afterwards. A call for an id that is already cached
// returns true and one for an id already loading returns false, neither
// touching the network. Failures and cancellation insert nothing.
func (p *Preloader) Preload(ctx context.Context, id, url string) bool {
	if id == "" || url == "" {
		return false
	}

	p.mu.Lock()
	if _, ok := p.items[id]; ok {
		p.mu.Unlock()
		return true
	}
	if _, ok := p.loading[id]; ok {
		p.mu.Unlock()
		return false
	}
	p.loading[id] = struct{}{}
	gen := p.generation
	p.mu.Unlock()

	handle, err := p.load(ctx, id, url)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen == p.generation {
		delete(p.loading, id)
	}

	if err != nil {
		if ctx.Err() == nil {
			p.stats.Failed++
			log.Debug().Err(err).Str("trackId", id).Msg("Preload failed")
		}
		return false
	}

	// Cleared while loading: the result belongs to a discarded generation.
	if gen != p.generation {
		handle.Release()
		return false
	}

	if len(p.items) >= p.maxBuffers {
		p.evictLocked(p.maxBuffers / 2)
	}

	p.items[id] = p.order.PushFront(&item{id: id, handle: handle})
	p.stats.Loaded++

	log.Debug().Str("trackId", id).Int("cached", len(p.items)).Msg("Preloaded audio")
	return true
}

func (p *Preloader) load(ctx context.Context, id, url string) (Handle, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return p.factory(id, data)
}

// PreloadMultiple preloads tracks with bounded concurrency, in order. A new
// fetch starts as soon as a slot frees. Tracks without a URL, already cached
// or already loading are skipped, and no new fetch starts once ctx is done.
// It returns the number of tracks cached when it finishes.
func (p *Preloader) PreloadMultiple(ctx context.Context, tracks []track.Ref) int {
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	var mu sync.Mutex
	loaded := 0

	for _, t := range tracks {
		if ctx.Err() != nil {
			break
		}
		if !t.HasPreview() || p.IsCached(t.ID) || p.IsLoading(t.ID) {
			continue
		}

		t := t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if p.Preload(ctx, t.ID, t.PreviewURL) {
				mu.Lock()
				loaded++
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return loaded
}

// Get returns the handle for id and marks it most recently used.
func (p *Preloader) Get(id string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.items[id]
	if !ok {
		p.stats.Misses++
		return nil, false
	}
	p.order.MoveToFront(el)
	p.stats.Hits++
	return el.Value.(*item).handle, true
}

// IsCached reports whether a buffer is held for id.
func (p *Preloader) IsCached(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[id]
	return ok
}

// IsLoading reports whether a fetch for id is in flight.
func (p *Preloader) IsLoading(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loading[id]
	return ok
}

// Clear releases every handle and empties the cache. Fetches still in flight
// complete but their results are released and discarded.
func (p *Preloader) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.order.Len()
	for el := p.order.Front(); el != nil; el = el.Next() {
		el.Value.(*item).handle.Release()
	}
	p.order.Init()
	p.items = make(map[string]*list.Element)
	p.loading = make(map[string]struct{})
	p.generation++

	log.Info().Int("released", n).Msg("Audio buffers cleared")
}

// Stats returns a diagnostic snapshot.
func (p *Preloader) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Cached = len(p.items)
	s.Loading = len(p.loading)
	s.MaxBuffers = p.maxBuffers
	for el := p.order.Front(); el != nil; el = el.Next() {
		if sz, ok := el.Value.(*item).handle.(sizer); ok {
			s.TotalBytes += int64(sz.Size())
		}
	}
	return s
}

// evictLocked releases and drops the n least recently used buffers. Must hold lock.
func (p *Preloader) evictLocked(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		el := p.order.Back()
		if el == nil {
			return
		}
		it := p.order.Remove(el).(*item)
		delete(p.items, it.id)
		it.handle.Release()
		p.stats.Evicted++
	}
	log.Debug().Int("evicted", n).Int("remaining", len(p.items)).Msg("Evicted audio buffers")
}
