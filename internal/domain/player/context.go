package player

import (
	"fmt"
	"strings"
)

// ContextKind identifies a kind of track list.
type ContextKind int

const (
	// KindQueue is the user's play queue. Mutable.
	KindQueue ContextKind = iota
	// KindRecentlyPlayed is the playback history. Read-only.
	KindRecentlyPlayed
	// KindAlbum is the album currently being viewed. Read-only.
	KindAlbum
	// KindCommunityPlaylist is the shared community playlist. Read-only.
	KindCommunityPlaylist
	// KindPlaylist is a user playlist. Mutable.
	KindPlaylist
)

var kindNames = map[ContextKind]string{
	KindQueue:             "queue",
	KindRecentlyPlayed:    "recent",
	KindAlbum:             "album",
	KindCommunityPlaylist: "community",
	KindPlaylist:          "playlist",
}

// String returns the wire name of the kind.
func (k ContextKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k ContextKind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownContext, int(k))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ContextKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: kind %q", ErrUnknownContext, string(text))
}

// ContextID names one track list. PlaylistID is set only for KindPlaylist.
type ContextID struct {
	Kind       ContextKind `json:"kind"`
	PlaylistID string      `json:"playlistId,omitempty"`
}

// Convenience constructors.
var (
	QueueContext          = ContextID{Kind: KindQueue}
	RecentlyPlayedContext = ContextID{Kind: KindRecentlyPlayed}
	AlbumContext          = ContextID{Kind: KindAlbum}
	CommunityContext      = ContextID{Kind: KindCommunityPlaylist}
)

// PlaylistContext returns the context id of a user playlist.
func PlaylistContext(id string) ContextID {
	return ContextID{Kind: KindPlaylist, PlaylistID: id}
}

// String returns "playlist:<id>" for playlists and the kind name otherwise.
func (c ContextID) String() string {
	if c.Kind == KindPlaylist {
		return "playlist:" + c.PlaylistID
	}
	return c.Kind.String()
}

// ParseContextID is the inverse of String.
func ParseContextID(s string) (ContextID, error) {
	if id, ok := strings.CutPrefix(s, "playlist:"); ok {
		if id == "" {
			return ContextID{}, fmt.Errorf("%w: empty playlist id", ErrUnknownContext)
		}
		return PlaylistContext(id), nil
	}

	var k ContextKind
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return ContextID{}, err
	}
	if k == KindPlaylist {
		return ContextID{}, fmt.Errorf("%w: playlist without id", ErrUnknownContext)
	}
	return ContextID{Kind: k}, nil
}

// CanModify reports whether tracks in the context may be added, removed or
// reordered by the user. Only the queue and user playlists are mutable.
func CanModify(c ContextID) bool {
	return c.Kind == KindQueue || c.Kind == KindPlaylist
}

// Direction is a navigation direction.
type Direction int

const (
	Next Direction = iota
	Prev
)

// String returns "next" or "prev".
func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// ParseDirection parses "next" or "prev".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "next":
		return Next, nil
	case "prev", "previous":
		return Prev, nil
	default:
		return Next, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}
