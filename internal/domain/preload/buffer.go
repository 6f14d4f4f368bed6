// Package preload speculatively downloads preview audio and holds it in a
// bounded LRU of releasable buffers.
package preload

import (
	"context"
	"sync"
)

// Fetcher downloads the raw audio at a URL.
// *resolver.AudioFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Handle is an opaque playable resource. Release frees it; the preloader calls
// Release exactly once per handle, at eviction or Clear.
type Handle interface {
	Release()
}

// HandleFactory wraps downloaded bytes into a playable handle.
type HandleFactory func(id string, data []byte) (Handle, error)

// Buffer is the default handle: the audio bytes held in memory.
type Buffer struct {
	id string

	mu       sync.Mutex
	data     []byte
	released bool
}

// NewBuffer is the default HandleFactory.
func NewBuffer(id string, data []byte) (Handle, error) {
	return &Buffer{id: id, data: data}, nil
}

// ID returns the track id the buffer was loaded for.
func (b *Buffer) ID() string {
	return b.id
}

// Bytes returns the audio bytes, or nil once released.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Size returns the number of bytes held.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release drops the reference to the audio bytes. Repeated calls are no-ops.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.data = nil
}

// sizer is implemented by handles that can report their memory footprint.
type sizer interface {
	Size() int
}
