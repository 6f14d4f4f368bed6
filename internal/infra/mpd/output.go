package mpd

import (
	"context"
	"sync"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// MPD player states as reported in the "state" status attribute.
const (
	statePlay  = "play"
	statePause = "pause"
	stateStop  = "stop"
)

// statusReader is the slice of Client that end-of-track detection needs.
type statusReader interface {
	Status() (mpd.Attrs, error)
}

// Output plays preview URLs on MPD and reports when a track ends on its own.
//
// A track has ended when MPD reports "stop" while we last asked it to play.
// Stops we issue ourselves clear that expectation first, so they never
// produce an end event.
type Output struct {
	client *Client
	status statusReader

	mu       sync.Mutex
	expected string // last state we commanded: play, pause or stop

	ended chan struct{}
}

// NewOutput creates an output over client.
func NewOutput(client *Client) *Output {
	return &Output{
		client:   client,
		status:   client,
		expected: stateStop,
		ended:    make(chan struct{}, 1),
	}
}

func (o *Output) expect(state string) {
	o.mu.Lock()
	o.expected = state
	o.mu.Unlock()
}

// Play replaces whatever is playing with url.
func (o *Output) Play(ctx context.Context, url string) error {
	o.expect(statePlay)
	if err := o.client.PlayURL(url); err != nil {
		o.expect(stateStop)
		return err
	}
	return nil
}

// Pause pauses playback.
func (o *Output) Pause() error {
	o.expect(statePause)
	return o.client.Pause(true)
}

// Resume resumes paused playback.
func (o *Output) Resume() error {
	o.expect(statePlay)
	return o.client.Pause(false)
}

// Stop halts playback.
func (o *Output) Stop() error {
	o.expect(stateStop)
	return o.client.Stop()
}

// Restart replays the current track from the start.
func (o *Output) Restart() error {
	o.expect(statePlay)
	return o.client.Restart()
}

// SetVolume sets the output volume (0-100).
func (o *Output) SetVolume(vol int) error {
	return o.client.SetVolume(vol)
}

// Ended receives one value each time a track finishes on its own.
func (o *Output) Ended() <-chan struct{} {
	return o.ended
}

// Run watches the MPD player subsystem until ctx is done.
func (o *Output) Run(ctx context.Context) error {
	events, err := o.client.Watch(ctx, "player")
	if err != nil {
		return err
	}

	log.Info().Str("addr", o.client.Addr()).Msg("Watching MPD player events")
	for range events {
		o.handlePlayerEvent()
	}
	return ctx.Err()
}

// handlePlayerEvent checks the MPD state after a player subsystem change.
func (o *Output) handlePlayerEvent() {
	attrs, err := o.status.Status()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read MPD status")
		return
	}

	o.mu.Lock()
	ended := o.expected == statePlay && attrs["state"] == stateStop
	if ended {
		o.expected = stateStop
	}
	o.mu.Unlock()

	if !ended {
		return
	}

	log.Debug().Msg("MPD track ended")
	select {
	case o.ended <- struct{}{}:
	default:
	}
}
