package preview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// mockResolver implements Resolver for testing.
type mockResolver struct {
	mu      sync.Mutex
	urls    map[string]string
	errs    map[string]error
	calls   int32
	gate    chan struct{} // when non-nil, calls block until it is closed
	started chan string   // receives the id of every call, if non-nil
}

func newMockResolver() *mockResolver {
	return &mockResolver{
		urls: make(map[string]string),
		errs: make(map[string]error),
	}
}

func (m *mockResolver) SetURL(id, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[id] = url
}

func (m *mockResolver) SetError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id] = err
}

func (m *mockResolver) ResolvePreview(ctx context.Context, id string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.started != nil {
		m.started <- id
	}

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.errs[id]; ok {
		return "", err
	}
	return m.urls[id], nil
}

func (m *mockResolver) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memBackend implements Backend in memory.
type memBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	writes   int
	failRead bool
	failAll  bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

var errBackend = errors.New("disk on fire")

func (b *memBackend) Read(ns string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failRead || b.failAll {
		return nil, errBackend
	}
	return b.data[ns], nil
}

func (b *memBackend) Write(ns string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAll {
		return errBackend
	}
	b.writes++
	b.data[ns] = append([]byte(nil), value...)
	return nil
}

func (b *memBackend) Delete(ns string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAll {
		return errBackend
	}
	delete(b.data, ns)
	return nil
}
