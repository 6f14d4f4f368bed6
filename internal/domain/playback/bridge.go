// Package playback keeps an audio output in step with the engine state.
package playback

import (
	"context"
	"math"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// Output is an audio sink. *mpd.Output satisfies it.
type Output interface {
	Play(ctx context.Context, url string) error
	Pause() error
	Resume() error
	Stop() error
	Restart() error
	SetVolume(vol int) error
	Ended() <-chan struct{}
}

// EndHandler decides what happens at end of track. It reports true when the
// same track should be replayed. *navigation.Coordinator satisfies it.
type EndHandler interface {
	TrackEnded(ctx context.Context) (repeat bool)
}

// BufferIndex reports which tracks have preloaded audio.
// *preload.Preloader satisfies it.
type BufferIndex interface {
	IsCached(id string) bool
}

// Bridge applies engine snapshots to an Output.
//
// Snapshots are coalesced: only the latest pending one is applied. A current
// track without a playable URL halts the output instead of playing nothing.
type Bridge struct {
	output  Output
	onEnd   EndHandler
	buffers BufferIndex
	// localBase, when set, is the URL prefix under which preloaded buffers are
	// served; tracks with a buffer play from there.
	localBase string

	mu      sync.Mutex
	pending *player.State
	wake    chan struct{}

	// applied output state, only touched by the Run goroutine
	trackID string
	url     string
	playing bool
	volume  int
}

// Option is a functional option for configuring the bridge.
type Option func(*Bridge)

// WithBuffers plays preloaded tracks from localBase + "/" + id.
func WithBuffers(buffers BufferIndex, localBase string) Option {
	return func(b *Bridge) {
		b.buffers = buffers
		b.localBase = strings.TrimRight(localBase, "/")
	}
}

// New creates a bridge.
func New(output Output, onEnd EndHandler, opts ...Option) *Bridge {
	b := &Bridge{
		output: output,
		onEnd:  onEnd,
		wake:   make(chan struct{}, 1),
		volume: -1,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Notify queues s to be applied. It never blocks; use it as the engine's
// change hook.
func (b *Bridge) Notify(s player.State) {
	b.mu.Lock()
	b.pending = &s
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run applies snapshots and handles end-of-track events until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.mu.Lock()
			s := b.pending
			b.pending = nil
			b.mu.Unlock()
			if s != nil {
				b.apply(ctx, *s)
			}
		case <-b.output.Ended():
			b.handleEnded(ctx)
		}
	}
}

func (b *Bridge) handleEnded(ctx context.Context) {
	if b.onEnd == nil {
		return
	}
	if b.onEnd.TrackEnded(ctx) {
		log.Debug().Str("trackId", b.trackID).Msg("Repeating track")
		if err := b.output.Restart(); err != nil {
			log.Warn().Err(err).Msg("Failed to restart track")
		}
		return
	}
	// The output has stopped. Forget the source so the snapshot the advance
	// produced is played even when it lands on the same track.
	b.url, b.playing = "", false
}

// apply brings the output in line with s.
func (b *Bridge) apply(ctx context.Context, s player.State) {
	b.applyVolume(s.Volume)

	switch s.Status() {
	case player.StatusStop:
		if b.trackID != "" {
			b.stop()
		}
		return

	case player.StatusUnplayable:
		if b.trackID != s.CurrentTrack.ID || b.url != "" {
			log.Warn().Str("trackId", s.CurrentTrack.ID).Msg("Current track has no playable URL, halting output")
			b.stop()
			b.trackID = s.CurrentTrack.ID
		}
		return
	}

	// The same track is never restarted, even if a preloaded buffer appeared.
	if s.CurrentTrack.ID != b.trackID || b.url == "" {
		src := b.sourceURL(*s.CurrentTrack)
		if err := b.output.Play(ctx, src); err != nil {
			log.Warn().Err(err).Str("trackId", s.CurrentTrack.ID).Msg("Output failed to play track")
			b.trackID, b.url, b.playing = "", "", false
			return
		}
		b.trackID, b.url, b.playing = s.CurrentTrack.ID, src, true
		log.Info().Str("trackId", b.trackID).Str("url", src).Msg("Playing")
	}

	if s.IsPlaying == b.playing {
		return
	}
	var err error
	if s.IsPlaying {
		err = b.output.Resume()
	} else {
		err = b.output.Pause()
	}
	if err != nil {
		log.Warn().Err(err).Bool("playing", s.IsPlaying).Msg("Output failed to change pause state")
		return
	}
	b.playing = s.IsPlaying
}

func (b *Bridge) stop() {
	if err := b.output.Stop(); err != nil {
		log.Warn().Err(err).Msg("Output failed to stop")
	}
	b.trackID, b.url, b.playing = "", "", false
}

func (b *Bridge) applyVolume(v float64) {
	vol := int(math.Round(v * 100))
	if vol == b.volume {
		return
	}
	if err := b.output.SetVolume(vol); err != nil {
		log.Warn().Err(err).Int("volume", vol).Msg("Output failed to set volume")
		return
	}
	b.volume = vol
}

// sourceURL prefers a locally served preloaded buffer over the remote URL.
func (b *Bridge) sourceURL(t track.Ref) string {
	if b.buffers != nil && b.localBase != "" && b.buffers.IsCached(t.ID) {
		return b.localBase + "/" + url.PathEscape(t.ID)
	}
	return t.PreviewURL
}
