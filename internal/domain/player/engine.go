package player

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// ErrStaleCommit is returned by CommitResolved when the current track moved
// on while its URL was being resolved.
var ErrStaleCommit = errors.New("current track changed before commit")

// Engine is the playback context engine.
//
// Every operation applies synchronously under one mutex and returns the new
// snapshot. Rejected operations return the unchanged snapshot and an error.
type Engine struct {
	mu    sync.Mutex
	state State

	intn     func(n int) int
	now      func() time.Time
	newID    func() string
	onChange func(State)
}

// Option is a functional option for configuring the engine.
type Option func(*Engine)

// WithRand overrides the random source used by shuffle (useful for testing).
// intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(e *Engine) {
		e.intn = intn
	}
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides playlist id generation (useful for testing).
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithOnChange registers a hook called with the new snapshot after every
// successful operation. It runs outside the engine lock.
func WithOnChange(fn func(State)) Option {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// WithVolume sets the initial volume.
func WithVolume(v float64) Option {
	return func(e *Engine) {
		e.state.Volume = clampVolume(v)
	}
}

// NewEngine creates an engine with an empty queue as the active context.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		state: State{
			ActiveContext:     QueueContext,
			CurrentIndex:      -1,
			Volume:            1,
			Queue:             []track.Ref{},
			RecentlyPlayed:    []track.Ref{},
			Playlists:         []Playlist{},
			CommunityPlaylist: []track.Ref{},
		},
		intn:  rand.IntN,
		now:   time.Now,
		newID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// apply runs fn under the lock. fn must validate before mutating so that a
// returned error leaves state untouched.
func (e *Engine) apply(fn func(s *State) error) (State, error) {
	e.mu.Lock()
	err := fn(&e.state)
	snap := e.state.clone()
	hook := e.onChange
	e.mu.Unlock()

	if err != nil {
		return snap, err
	}
	if hook != nil {
		hook(snap)
	}
	return snap, nil
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Tracks returns a copy of the tracks of context c.
func (e *Engine) Tracks(c ContextID) ([]track.Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tracks, err := e.state.Tracks(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	return copyTracks(tracks), nil
}

// ActiveTracks returns a copy of the tracks of the active context.
func (e *Engine) ActiveTracks() []track.Ref {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyTracks(e.state.ActiveTracks())
}

// Playlist returns the playlist with the given id.
func (e *Engine) Playlist(id string) (Playlist, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.state.playlistIndex(id)
	if i < 0 {
		return Playlist{}, false
	}
	p := e.state.Playlists[i]
	p.Tracks = copyTracks(p.Tracks)
	return p, true
}

// CanModify reports whether c exists and accepts user mutations.
func (e *Engine) CanModify(c ContextID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.state.Tracks(c); err != nil {
		return false
	}
	return CanModify(c)
}

// SwitchContext makes c the active context. Current track, index and
// playing flag are left as they are so the user can browse without
// interrupting playback.
func (e *Engine) SwitchContext(c ContextID) (State, error) {
	return e.apply(func(s *State) error {
		if _, err := s.Tracks(c); err != nil {
			return fmt.Errorf("switch to %s: %w", c, err)
		}
		s.ActiveContext = c
		return nil
	})
}

// PlayFromContext activates c and starts playing the track at index.
//
// t is the track to play, typically the context entry with its preview URL
// resolved. A zero t plays the stored entry as is. A t whose id differs from
// the entry at index is rejected. A resolved URL is written back into the
// context so it is not resolved again.
func (e *Engine) PlayFromContext(c ContextID, index int, t track.Ref) (State, error) {
	return e.apply(func(s *State) error {
		return s.playFrom(c, index, t)
	})
}

// CommitResolved is PlayFromContext guarded against races: it applies only if
// c is still active and the current track is still the one at index.
func (e *Engine) CommitResolved(c ContextID, index int, t track.Ref) (State, error) {
	return e.apply(func(s *State) error {
		if s.ActiveContext != c || s.CurrentIndex != index || s.CurrentTrack == nil || s.CurrentTrack.ID != t.ID {
			return ErrStaleCommit
		}
		return s.playFrom(c, index, t)
	})
}

// NavigateInContext moves to the next or previous track of the active context
// and marks it playing.
//
// Without shuffle, next wraps from last to first and prev from first to last.
// With shuffle, a uniformly random index other than the current one is
// picked. Repeat does not affect navigation. Navigating within the recently
// played context does not reorder it.
func (e *Engine) NavigateInContext(dir Direction) (State, error) {
	return e.apply(func(s *State) error {
		if dir != Next && dir != Prev {
			return ErrInvalidDirection
		}
		tracks, err := s.Tracks(s.ActiveContext)
		if err != nil {
			return fmt.Errorf("navigate in %s: %w", s.ActiveContext, err)
		}
		n := len(tracks)
		if n == 0 {
			return ErrEmptyContext
		}

		cur := anchor(tracks, s.CurrentIndex, s.CurrentTrack)
		var next int
		switch {
		case s.Shuffle && n == 1:
			next = 0
		case s.Shuffle && cur < 0:
			next = e.intn(n)
		case s.Shuffle:
			next = e.intn(n - 1)
			if next >= cur {
				next++
			}
		case dir == Next && cur < 0:
			next = 0
		case dir == Next:
			next = (cur + 1) % n
		case cur < 0:
			next = n - 1
		default:
			next = (cur - 1 + n) % n
		}

		t := tracks[next]
		s.CurrentIndex = next
		s.CurrentTrack = &t
		s.IsPlaying = true
		// Walking the history leaves its order alone so next keeps moving back.
		if s.ActiveContext.Kind != KindRecentlyPlayed {
			s.pushRecent(t)
		}

		log.Debug().
			Str("context", s.ActiveContext.String()).
			Str("direction", dir.String()).
			Int("index", s.CurrentIndex).
			Str("trackId", t.ID).
			Msg("Navigated")
		return nil
	})
}

// AddToQueue adds t to the queue, removing any existing entry with the same
// id first. With playNext it goes right after the current track when the
// queue is active, otherwise to the head; without, to the tail. Adding the
// track currently playing from the queue is a no-op.
func (e *Engine) AddToQueue(t track.Ref, playNext bool) (State, error) {
	return e.apply(func(s *State) error {
		if t.ID == "" {
			return ErrInvalidTrack
		}

		active := s.ActiveContext.Kind == KindQueue
		cur := -1
		if active {
			cur = anchor(s.Queue, s.CurrentIndex, s.CurrentTrack)
		}

		q := s.Queue
		if existing := track.IndexOf(q, t.ID); existing >= 0 {
			if existing == cur {
				return nil
			}
			q = slices.Delete(q, existing, existing+1)
			if cur > existing {
				cur--
			}
		}

		pos := len(q)
		if playNext {
			pos = cur + 1
		}
		q = slices.Insert(q, pos, t)
		if cur >= pos {
			cur++
		}

		s.Queue = q
		if active && s.CurrentTrack != nil {
			s.CurrentIndex = cur
		}
		return nil
	})
}

// RemoveFromContext removes the entry at index from the active context,
// which must be mutable.
func (e *Engine) RemoveFromContext(index int) (State, error) {
	return e.apply(func(s *State) error {
		if !CanModify(s.ActiveContext) {
			return fmt.Errorf("remove from %s: %w", s.ActiveContext, ErrReadOnlyContext)
		}
		return s.removeAt(s.ActiveContext, index)
	})
}

// RemoveFromQueue removes the queue entry at index.
func (e *Engine) RemoveFromQueue(index int) (State, error) {
	return e.apply(func(s *State) error {
		return s.removeAt(QueueContext, index)
	})
}

// ReorderQueue moves the queue entry at oldIndex to newIndex. The current
// index follows the current track.
func (e *Engine) ReorderQueue(oldIndex, newIndex int) (State, error) {
	return e.apply(func(s *State) error {
		return s.move(QueueContext, oldIndex, newIndex)
	})
}

// ReorderPlaylistTracks moves a playlist entry. The current index follows the
// current track when the playlist is active.
func (e *Engine) ReorderPlaylistTracks(playlistID string, oldIndex, newIndex int) (State, error) {
	return e.apply(func(s *State) error {
		return s.move(PlaylistContext(playlistID), oldIndex, newIndex)
	})
}

// CreatePlaylist creates a playlist holding tracks, deduplicated by id.
func (e *Engine) CreatePlaylist(name string, tracks []track.Ref) (Playlist, State, error) {
	var created Playlist
	snap, err := e.apply(func(s *State) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrInvalidName
		}

		created = Playlist{
			ID:        e.newID(),
			Name:      name,
			CreatedAt: e.now(),
			Tracks:    dedupe(tracks),
		}
		s.Playlists = append(s.Playlists, created)
		return nil
	})
	if err != nil {
		return Playlist{}, snap, err
	}

	log.Info().Str("playlistId", created.ID).Str("name", created.Name).Msg("Playlist created")
	created.Tracks = copyTracks(created.Tracks)
	return created, snap, nil
}

// DeletePlaylist deletes a playlist. Deleting the active playlist switches to
// the queue.
func (e *Engine) DeletePlaylist(id string) (State, error) {
	return e.apply(func(s *State) error {
		i := s.playlistIndex(id)
		if i < 0 {
			return fmt.Errorf("delete playlist %q: %w", id, ErrUnknownContext)
		}
		s.Playlists = slices.Delete(s.Playlists, i, i+1)
		if s.ActiveContext == PlaylistContext(id) {
			s.ActiveContext = QueueContext
		}
		log.Info().Str("playlistId", id).Msg("Playlist deleted")
		return nil
	})
}

// RenamePlaylist renames a playlist.
func (e *Engine) RenamePlaylist(id, name string) (State, error) {
	return e.apply(func(s *State) error {
		i := s.playlistIndex(id)
		if i < 0 {
			return fmt.Errorf("rename playlist %q: %w", id, ErrUnknownContext)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrInvalidName
		}
		s.Playlists[i].Name = name
		return nil
	})
}

// AddToPlaylist appends t to a playlist unless it is already there.
func (e *Engine) AddToPlaylist(id string, t track.Ref) (State, error) {
	return e.apply(func(s *State) error {
		i := s.playlistIndex(id)
		if i < 0 {
			return fmt.Errorf("add to playlist %q: %w", id, ErrUnknownContext)
		}
		if t.ID == "" {
			return ErrInvalidTrack
		}
		if track.IndexOf(s.Playlists[i].Tracks, t.ID) >= 0 {
			return nil
		}
		s.Playlists[i].Tracks = append(s.Playlists[i].Tracks, t)
		return nil
	})
}

// RemoveFromPlaylist removes the playlist entry at index.
func (e *Engine) RemoveFromPlaylist(id string, index int) (State, error) {
	return e.apply(func(s *State) error {
		if s.playlistIndex(id) < 0 {
			return fmt.Errorf("remove from playlist %q: %w", id, ErrUnknownContext)
		}
		return s.removeAt(PlaylistContext(id), index)
	})
}

// SetAlbumContext replaces the album context. When the album context is
// active the current track is kept if the new album has it, otherwise
// playback stops.
func (e *Engine) SetAlbumContext(a Album) (State, error) {
	return e.apply(func(s *State) error {
		a.Tracks = dedupe(a.Tracks)
		s.Album = &a
		s.reanchor(AlbumContext)
		return nil
	})
}

// SetCommunityPlaylist replaces the community playlist, with the same
// current-track rule as SetAlbumContext.
func (e *Engine) SetCommunityPlaylist(tracks []track.Ref) (State, error) {
	return e.apply(func(s *State) error {
		s.CommunityPlaylist = dedupe(tracks)
		s.reanchor(CommunityContext)
		return nil
	})
}

// SetShuffle toggles shuffle navigation.
func (e *Engine) SetShuffle(on bool) (State, error) {
	return e.apply(func(s *State) error {
		s.Shuffle = on
		return nil
	})
}

// SetRepeat toggles repeat of the current track at end of track.
func (e *Engine) SetRepeat(on bool) (State, error) {
	return e.apply(func(s *State) error {
		s.Repeat = on
		return nil
	})
}

// SetVolume sets the volume, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) (State, error) {
	return e.apply(func(s *State) error {
		s.Volume = clampVolume(v)
		return nil
	})
}

// SetPlaying sets the playing flag. Playing requires a current track.
func (e *Engine) SetPlaying(playing bool) (State, error) {
	return e.apply(func(s *State) error {
		if playing && s.CurrentTrack == nil {
			return ErrNoCurrentTrack
		}
		s.IsPlaying = playing
		return nil
	})
}

// Stop clears the current track.
func (e *Engine) Stop() (State, error) {
	return e.apply(func(s *State) error {
		s.clearCurrent()
		return nil
	})
}

// --- state mutations, called with the engine lock held ---

func (s *State) playFrom(c ContextID, index int, t track.Ref) error {
	tracks, err := s.Tracks(c)
	if err != nil {
		return fmt.Errorf("play from %s: %w", c, err)
	}
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("play from %s at %d: %w", c, index, ErrInvalidIndex)
	}

	stored := tracks[index]
	switch {
	case t.ID == "":
		t = stored
	case t.ID != stored.ID:
		return fmt.Errorf("play %q at %s[%d]: %w", t.ID, c, index, ErrTrackMismatch)
	}
	if !t.HasPreview() && stored.HasPreview() {
		t = t.WithPreview(stored.PreviewURL)
	}
	if t.HasPreview() && !stored.HasPreview() {
		tracks[index] = stored.WithPreview(t.PreviewURL)
	}

	s.ActiveContext = c
	s.CurrentIndex = index
	s.CurrentTrack = &t
	s.IsPlaying = true
	s.pushRecent(t)
	return nil
}

// pushRecent moves t to the front of the history, keeping it unique and
// bounded. When the history is the active context the current index follows
// the current track.
func (s *State) pushRecent(t track.Ref) {
	recent := make([]track.Ref, 0, MaxRecentlyPlayed)
	recent = append(recent, t)
	for _, r := range s.RecentlyPlayed {
		if r.ID != t.ID && len(recent) < MaxRecentlyPlayed {
			recent = append(recent, r)
		}
	}
	s.RecentlyPlayed = recent

	if s.ActiveContext.Kind == KindRecentlyPlayed && s.CurrentTrack != nil {
		s.CurrentIndex = track.IndexOf(recent, s.CurrentTrack.ID)
	}
}

// tracksRef returns a pointer to the mutable track list of c.
func (s *State) tracksRef(c ContextID) (*[]track.Ref, error) {
	switch c.Kind {
	case KindQueue:
		return &s.Queue, nil
	case KindPlaylist:
		if i := s.playlistIndex(c.PlaylistID); i >= 0 {
			return &s.Playlists[i].Tracks, nil
		}
		return nil, ErrUnknownContext
	case KindRecentlyPlayed, KindAlbum, KindCommunityPlaylist:
		return nil, ErrReadOnlyContext
	}
	return nil, ErrUnknownContext
}

func (s *State) removeAt(c ContextID, index int) error {
	ref, err := s.tracksRef(c)
	if err != nil {
		return fmt.Errorf("remove from %s: %w", c, err)
	}
	tracks := *ref
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("remove from %s at %d: %w", c, index, ErrInvalidIndex)
	}

	active := s.ActiveContext == c && s.CurrentTrack != nil
	cur := -1
	if active {
		cur = anchor(tracks, s.CurrentIndex, s.CurrentTrack)
	}

	*ref = slices.Delete(tracks, index, index+1)

	if !active {
		return nil
	}
	switch {
	case index == cur:
		s.clearCurrent()
	case index < cur:
		s.CurrentIndex = cur - 1
	default:
		s.CurrentIndex = cur
	}
	return nil
}

func (s *State) move(c ContextID, oldIndex, newIndex int) error {
	ref, err := s.tracksRef(c)
	if err != nil {
		return fmt.Errorf("reorder %s: %w", c, err)
	}
	tracks := *ref
	n := len(tracks)
	if oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
		return fmt.Errorf("reorder %s %d->%d: %w", c, oldIndex, newIndex, ErrInvalidIndex)
	}
	if oldIndex == newIndex {
		return nil
	}

	active := s.ActiveContext == c && s.CurrentTrack != nil
	cur := -1
	if active {
		cur = anchor(tracks, s.CurrentIndex, s.CurrentTrack)
	}

	t := tracks[oldIndex]
	tracks = slices.Delete(tracks, oldIndex, oldIndex+1)
	*ref = slices.Insert(tracks, newIndex, t)

	if !active || cur < 0 {
		return nil
	}
	switch {
	case cur == oldIndex:
		cur = newIndex
	case oldIndex < cur && newIndex >= cur:
		cur--
	case oldIndex > cur && newIndex <= cur:
		cur++
	}
	s.CurrentIndex = cur
	return nil
}

// reanchor keeps the current index valid after a read-only context was
// replaced while active.
func (s *State) reanchor(c ContextID) {
	if s.ActiveContext != c || s.CurrentTrack == nil {
		return
	}
	tracks, _ := s.Tracks(c)
	i := track.IndexOf(tracks, s.CurrentTrack.ID)
	if i < 0 {
		s.clearCurrent()
		return
	}
	s.CurrentIndex = i
}

func (s *State) clearCurrent() {
	s.CurrentTrack = nil
	s.CurrentIndex = -1
	s.IsPlaying = false
}

func (s *State) playlistIndex(id string) int {
	for i, p := range s.Playlists {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func dedupe(tracks []track.Ref) []track.Ref {
	out := make([]track.Ref, 0, len(tracks))
	seen := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
