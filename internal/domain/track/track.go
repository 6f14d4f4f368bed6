// Package track defines the track value object shared by the playback core.
package track

import "strings"

// Ref is the minimal identity of a playable track.
// Refs are value objects: two refs with the same ID are the same track.
type Ref struct {
	ID         string `json:"id"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// HasPreview reports whether the track already carries a playable URL.
func (r Ref) HasPreview() bool {
	return r.PreviewURL != ""
}

// WithPreview returns a copy of the track carrying the given preview URL.
func (r Ref) WithPreview(url string) Ref {
	r.PreviewURL = url
	return r
}

// Descriptor is a track as delivered by a catalog provider.
// Providers disagree on which field carries the identifier, so a descriptor
// must be normalized into a Ref before any cache operation.
type Descriptor struct {
	ID         string `json:"id,omitempty"`
	TrackID    string `json:"trackId,omitempty"`
	SongID     string `json:"songId,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Normalize converts a descriptor into a Ref.
// The first non-empty identifier wins, in the order id, trackId, songId, providerId.
// ok is false when the descriptor carries no identifier at all.
func Normalize(d Descriptor) (ref Ref, ok bool) {
	id := firstNonEmpty(d.ID, d.TrackID, d.SongID, d.ProviderID)
	if id == "" {
		return Ref{}, false
	}
	return Ref{
		ID:         id,
		PreviewURL: strings.TrimSpace(d.PreviewURL),
		Title:      d.Title,
		Artist:     d.Artist,
		Album:      d.Album,
		ArtworkURL: d.ArtworkURL,
	}, true
}

// NormalizeAll normalizes a list of descriptors, dropping those without an identifier.
func NormalizeAll(ds []Descriptor) []Ref {
	refs := make([]Ref, 0, len(ds))
	for _, d := range ds {
		if ref, ok := Normalize(d); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// IndexOf returns the index of the track with the given id, or -1.
func IndexOf(tracks []Ref, id string) int {
	for i, t := range tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
