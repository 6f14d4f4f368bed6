// Package player implements the playback context engine: a state machine over
// several independent track lists, exactly one of which is active.
package player

import (
	"errors"
	"time"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// Status constants for player state
const (
	StatusPlay  = "play"
	StatusPause = "pause"
	StatusStop  = "stop"

	// StatusUnplayable means a current track is set but has no playable URL.
	// Outputs must halt rather than play an empty source.
	StatusUnplayable = "unplayable"
)

// MaxRecentlyPlayed caps the playback history.
const MaxRecentlyPlayed = 10

// Engine errors. Every rejected operation leaves state untouched.
var (
	ErrInvalidIndex     = errors.New("index out of range")
	ErrUnknownContext   = errors.New("unknown context")
	ErrReadOnlyContext  = errors.New("context is read-only")
	ErrEmptyContext     = errors.New("context has no tracks")
	ErrInvalidTrack     = errors.New("track has no id")
	ErrTrackMismatch    = errors.New("track does not match context position")
	ErrInvalidName      = errors.New("playlist name is empty")
	ErrNoCurrentTrack   = errors.New("no current track")
	ErrInvalidDirection = errors.New("invalid direction")
)

// Playlist is a user playlist.
type Playlist struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"createdAt"`
	Tracks    []track.Ref `json:"tracks"`
}

// Album is the album context supplied by the catalog layer.
type Album struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Artist string      `json:"artist,omitempty"`
	Tracks []track.Ref `json:"tracks"`
}

// State is an immutable snapshot of the engine.
//
// CurrentIndex is -1 when there is no current track. SwitchContext moves only
// the ActiveContext pointer, so right after a switch CurrentIndex may still
// describe the previous context; navigation re-anchors it by track id.
type State struct {
	ActiveContext     ContextID   `json:"activeContext"`
	CurrentIndex      int         `json:"currentIndex"`
	CurrentTrack      *track.Ref  `json:"currentTrack"`
	IsPlaying         bool        `json:"isPlaying"`
	Shuffle           bool        `json:"shuffle"`
	Repeat            bool        `json:"repeat"`
	Volume            float64     `json:"volume"`
	Queue             []track.Ref `json:"queue"`
	RecentlyPlayed    []track.Ref `json:"recentlyPlayed"`
	Playlists         []Playlist  `json:"playlists"`
	Album             *Album      `json:"album,omitempty"`
	CommunityPlaylist []track.Ref `json:"communityPlaylist"`
}

// Status derives the playback status from the snapshot.
func (s State) Status() string {
	switch {
	case s.CurrentTrack == nil:
		return StatusStop
	case !s.CurrentTrack.HasPreview():
		return StatusUnplayable
	case s.IsPlaying:
		return StatusPlay
	default:
		return StatusPause
	}
}

// Playable reports whether the current track can be handed to an output.
func (s State) Playable() bool {
	return s.CurrentTrack != nil && s.CurrentTrack.HasPreview()
}

// Tracks returns the track list of the given context.
func (s State) Tracks(c ContextID) ([]track.Ref, error) {
	switch c.Kind {
	case KindQueue:
		return s.Queue, nil
	case KindRecentlyPlayed:
		return s.RecentlyPlayed, nil
	case KindAlbum:
		if s.Album == nil {
			return nil, ErrUnknownContext
		}
		return s.Album.Tracks, nil
	case KindCommunityPlaylist:
		return s.CommunityPlaylist, nil
	case KindPlaylist:
		for _, p := range s.Playlists {
			if p.ID == c.PlaylistID {
				return p.Tracks, nil
			}
		}
	}
	return nil, ErrUnknownContext
}

// ActiveTracks returns the track list of the active context.
func (s State) ActiveTracks() []track.Ref {
	tracks, _ := s.Tracks(s.ActiveContext)
	return tracks
}

// UpNext returns the track that unshuffled next navigation would land on.
func (s State) UpNext() (track.Ref, bool) {
	tracks := s.ActiveTracks()
	if len(tracks) == 0 {
		return track.Ref{}, false
	}
	i := anchor(tracks, s.CurrentIndex, s.CurrentTrack)
	return tracks[(i+1)%len(tracks)], true
}

// Upcoming returns up to n tracks that unshuffled next navigation would visit,
// in order. The list wraps around the context but never reaches the current
// track again.
func (s State) Upcoming(n int) []track.Ref {
	tracks := s.ActiveTracks()
	i := anchor(tracks, s.CurrentIndex, s.CurrentTrack)
	limit := len(tracks)
	if i >= 0 {
		limit--
	}
	n = min(n, limit)
	if n <= 0 {
		return nil
	}

	out := make([]track.Ref, 0, n)
	for k := 1; k <= n; k++ {
		out = append(out, tracks[(i+k)%len(tracks)])
	}
	return out
}

// ContextInfo summarizes one context for listing.
type ContextInfo struct {
	ID         ContextID `json:"id"`
	Name       string    `json:"name"`
	Count      int       `json:"count"`
	Modifiable bool      `json:"modifiable"`
	Active     bool      `json:"active"`
}

// Contexts lists every existing context in a stable order.
func (s State) Contexts() []ContextInfo {
	infos := []ContextInfo{
		{ID: QueueContext, Name: "Queue", Count: len(s.Queue)},
		{ID: RecentlyPlayedContext, Name: "Recently Played", Count: len(s.RecentlyPlayed)},
	}
	if s.Album != nil {
		infos = append(infos, ContextInfo{ID: AlbumContext, Name: s.Album.Title, Count: len(s.Album.Tracks)})
	}
	infos = append(infos, ContextInfo{ID: CommunityContext, Name: "Community", Count: len(s.CommunityPlaylist)})
	for _, p := range s.Playlists {
		infos = append(infos, ContextInfo{ID: PlaylistContext(p.ID), Name: p.Name, Count: len(p.Tracks)})
	}

	for i := range infos {
		infos[i].Modifiable = CanModify(infos[i].ID)
		infos[i].Active = infos[i].ID == s.ActiveContext
	}
	return infos
}

// ToJSON returns the state as a map suitable for the pushState broadcast.
func (s State) ToJSON() map[string]interface{} {
	var current interface{}
	if s.CurrentTrack != nil {
		current = *s.CurrentTrack
	}

	return map[string]interface{}{
		"status":         s.Status(),
		"activeContext":  s.ActiveContext.String(),
		"currentIndex":   s.CurrentIndex,
		"currentTrack":   current,
		"isPlaying":      s.IsPlaying,
		"shuffle":        s.Shuffle,
		"repeat":         s.Repeat,
		"volume":         s.Volume,
		"recentlyPlayed": nonNil(s.RecentlyPlayed),
		"contexts":       s.Contexts(),
	}
}

// clone deep-copies every slice so snapshots never alias engine state.
func (s State) clone() State {
	out := s
	if s.CurrentTrack != nil {
		t := *s.CurrentTrack
		out.CurrentTrack = &t
	}
	out.Queue = copyTracks(s.Queue)
	out.RecentlyPlayed = copyTracks(s.RecentlyPlayed)
	out.CommunityPlaylist = copyTracks(s.CommunityPlaylist)
	if s.Album != nil {
		a := *s.Album
		a.Tracks = copyTracks(s.Album.Tracks)
		out.Album = &a
	}
	out.Playlists = make([]Playlist, len(s.Playlists))
	for i, p := range s.Playlists {
		p.Tracks = copyTracks(p.Tracks)
		out.Playlists[i] = p
	}
	return out
}

func copyTracks(tracks []track.Ref) []track.Ref {
	out := make([]track.Ref, len(tracks))
	copy(out, tracks)
	return out
}

func nonNil(tracks []track.Ref) []track.Ref {
	if tracks == nil {
		return []track.Ref{}
	}
	return tracks
}

// anchor returns the position of current within tracks. It trusts index when
// it still points at current, otherwise it searches by id. -1 when absent.
func anchor(tracks []track.Ref, index int, current *track.Ref) int {
	if current == nil {
		return -1
	}
	if index >= 0 && index < len(tracks) && tracks[index].ID == current.ID {
		return index
	}
	return track.IndexOf(tracks, current.ID)
}
