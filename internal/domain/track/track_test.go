package track_test

import (
	"testing"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		input  track.Descriptor
		wantID string
		wantOK bool
	}{
		{"id field", track.Descriptor{ID: "a1"}, "a1", true},
		{"trackId field", track.Descriptor{TrackID: "t1"}, "t1", true},
		{"songId field", track.Descriptor{SongID: "s1"}, "s1", true},
		{"providerId field", track.Descriptor{ProviderID: "p1"}, "p1", true},
		{"id wins over trackId", track.Descriptor{ID: "a1", TrackID: "t1"}, "a1", true},
		{"blank id skipped", track.Descriptor{ID: "  ", SongID: "s1"}, "s1", true},
		{"no identifier", track.Descriptor{Title: "Untitled"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := track.Normalize(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Normalize ok = %v, want %v", ok, tt.wantOK)
			}
			if ref.ID != tt.wantID {
				t.Errorf("Normalize id = %q, want %q", ref.ID, tt.wantID)
			}
		})
	}
}

func TestNormalizeKeepsPreviewAndMetadata(t *testing.T) {
	ref, ok := track.Normalize(track.Descriptor{
		TrackID:    "42",
		PreviewURL: " https://cdn.example.com/42.mp3 ",
		Title:      "Something Heavy",
		Artist:     "Jacob Collier",
	})
	if !ok {
		t.Fatal("expected descriptor to normalize")
	}
	if ref.PreviewURL != "https://cdn.example.com/42.mp3" {
		t.Errorf("unexpected preview url %q", ref.PreviewURL)
	}
	if !ref.HasPreview() {
		t.Error("expected HasPreview to be true")
	}
	if ref.Title != "Something Heavy" || ref.Artist != "Jacob Collier" {
		t.Errorf("metadata not carried over: %+v", ref)
	}
}

func TestNormalizeAllDropsAnonymous(t *testing.T) {
	refs := track.NormalizeAll([]track.Descriptor{
		{ID: "a"},
		{Title: "no id"},
		{SongID: "b"},
	})
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if track.IndexOf(refs, "b") != 1 {
		t.Errorf("expected b at index 1")
	}
	if track.IndexOf(refs, "missing") != -1 {
		t.Errorf("expected -1 for missing id")
	}
}

func TestWithPreviewDoesNotMutateOriginal(t *testing.T) {
	orig := track.Ref{ID: "x"}
	resolved := orig.WithPreview("https://cdn.example.com/x.mp3")
	if orig.HasPreview() {
		t.Error("original ref should be unchanged")
	}
	if resolved.PreviewURL != "https://cdn.example.com/x.mp3" {
		t.Errorf("unexpected preview url %q", resolved.PreviewURL)
	}
}
