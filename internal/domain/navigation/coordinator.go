// Package navigation serializes skip requests and couples each state
// transition with the preview resolution the new track needs.
package navigation

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/preview"
	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// Resolver fills in a track's preview URL. *preview.Cache satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, t track.Ref) track.Ref
}

// Prefetcher resolves tracks in the background. *preview.Cache satisfies it.
type Prefetcher interface {
	Prefetch(t track.Ref, priority preview.Priority)
}

// Preloader downloads audio in the background. *preload.Preloader satisfies it.
type Preloader interface {
	PreloadMultiple(ctx context.Context, tracks []track.Ref) int
}

// DefaultPreloadAhead is how many upcoming tracks have their audio preloaded.
const DefaultPreloadAhead = 2

// Coordinator drives the engine for skip and end-of-track events.
type Coordinator struct {
	engine     *player.Engine
	resolver   Resolver
	prefetcher Prefetcher
	preloader  Preloader
	ahead      int

	// mu is only ever acquired with TryLock: overlapping advances are dropped.
	mu sync.Mutex

	// bgMu orders background spawns against Close.
	bgMu    sync.Mutex
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option is a functional option for configuring the coordinator.
type Option func(*Coordinator)

// WithPrefetcher enables look-ahead preview prefetching.
func WithPrefetcher(p Prefetcher) Option {
	return func(c *Coordinator) {
		c.prefetcher = p
	}
}

// WithPreloader enables audio preloading of upcoming tracks.
func WithPreloader(p Preloader) Option {
	return func(c *Coordinator) {
		c.preloader = p
	}
}

// WithPreloadAhead sets how many upcoming tracks are preloaded.
func WithPreloadAhead(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.ahead = n
		}
	}
}

// New creates a coordinator over engine and resolver.
func New(engine *player.Engine, resolver Resolver, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		engine:   engine,
		resolver: resolver,
		ahead:    DefaultPreloadAhead,
		baseCtx:  ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Advance navigates one track in dir and makes sure the landed track has a
// playable URL. It reports whether a transition happened.
//
// A call made while another Advance is running is dropped, not queued. When
// the URL cannot be resolved the track stays unresolved and the engine
// reports it as unplayable.
func (c *Coordinator) Advance(ctx context.Context, dir player.Direction) (advanced bool) {
	if !c.mu.TryLock() {
		log.Debug().Str("direction", dir.String()).Msg("Advance already in progress, dropping")
		return false
	}
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Advance panicked")
			advanced = false
		}
	}()

	s, err := c.engine.NavigateInContext(dir)
	if err != nil {
		log.Debug().Err(err).Str("direction", dir.String()).Msg("Navigation rejected")
		return false
	}

	s = c.ensureResolved(ctx, s)
	c.lookAhead(s, preview.PriorityLow)
	return true
}

// PlayAt starts playback of the track at index in context ctxID, resolving
// its URL first. A track that cannot be resolved is still selected and
// reported as unplayable.
func (c *Coordinator) PlayAt(ctx context.Context, ctxID player.ContextID, index int) (player.State, error) {
	tracks, err := c.engine.Tracks(ctxID)
	if err != nil {
		return c.engine.State(), err
	}
	if index < 0 || index >= len(tracks) {
		return c.engine.State(), player.ErrInvalidIndex
	}

	resolved := c.resolver.Resolve(ctx, tracks[index])
	s, err := c.engine.PlayFromContext(ctxID, index, resolved)
	if err != nil {
		return s, err
	}
	if !s.Playable() {
		log.Warn().Str("trackId", resolved.ID).Msg("No playable URL for selected track")
	}

	c.lookAhead(s, preview.PriorityHigh)
	return s, nil
}

// TrackEnded handles the end of the current track. With repeat on it reports
// true and leaves state unchanged so the output replays the track from the
// start. Otherwise it advances to the next track.
func (c *Coordinator) TrackEnded(ctx context.Context) (repeat bool) {
	s := c.engine.State()
	if s.CurrentTrack == nil {
		return false
	}
	if s.Repeat {
		return true
	}
	c.Advance(ctx, player.Next)
	return false
}

// ensureResolved resolves the current track if needed and commits the URL.
func (c *Coordinator) ensureResolved(ctx context.Context, s player.State) player.State {
	if s.CurrentTrack == nil || s.CurrentTrack.HasPreview() {
		return s
	}

	resolved := c.resolver.Resolve(ctx, *s.CurrentTrack)
	if !resolved.HasPreview() {
		log.Warn().Str("trackId", resolved.ID).Msg("No playable URL after navigation")
		return s
	}

	committed, err := c.engine.CommitResolved(s.ActiveContext, s.CurrentIndex, resolved)
	if err != nil && !errors.Is(err, player.ErrStaleCommit) {
		log.Error().Err(err).Str("trackId", resolved.ID).Msg("Failed to commit resolved track")
	}
	return committed
}

// lookAhead warms caches for what is likely to play next: the up-next
// preview URL is prefetched, and the audio of the next few tracks is
// preloaded once their URLs resolve so the output can play them locally.
func (c *Coordinator) lookAhead(s player.State, priority preview.Priority) {
	if c.prefetcher != nil {
		if next, ok := s.UpNext(); ok && !next.HasPreview() {
			c.prefetcher.Prefetch(next, priority)
		}
	}

	if c.preloader == nil || s.CurrentTrack == nil {
		return
	}
	upcoming := s.Upcoming(c.ahead)
	if len(upcoming) == 0 {
		return
	}

	c.background(func(ctx context.Context) {
		playable := make([]track.Ref, 0, len(upcoming))
		for _, t := range upcoming {
			if !t.HasPreview() {
				t = c.resolver.Resolve(ctx, t)
			}
			if t.HasPreview() {
				playable = append(playable, t)
			}
		}
		if len(playable) == 0 {
			return
		}
		n := c.preloader.PreloadMultiple(ctx, playable)
		log.Debug().Int("requested", len(playable)).Int("cached", n).Msg("Preloaded upcoming tracks")
	})
}

// background runs fn on its own goroutine unless the coordinator is closed.
func (c *Coordinator) background(fn func(ctx context.Context)) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closed {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.baseCtx)
	}()
}

// Close cancels background work and waits for it. It is safe to call twice.
func (c *Coordinator) Close() {
	c.bgMu.Lock()
	c.closed = true
	c.bgMu.Unlock()

	c.cancel()
	c.wg.Wait()
}
