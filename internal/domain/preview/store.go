package preview

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Backend persists one opaque value per namespace.
// *cache.DB satisfies it.
type Backend interface {
	Read(namespace string) ([]byte, error)
	Write(namespace string, value []byte) error
	Delete(namespace string) error
}

// StoredEntry is the persisted form of a resolved preview URL.
// Timestamps are unix milliseconds.
type StoredEntry struct {
	URL        string `json:"url"`
	CreatedAt  int64  `json:"createdAt"`
	LastUsedAt int64  `json:"lastUsedAt"`
}

// DurableStore is a capacity-bounded map from track id to preview URL that
// survives restarts. Overflow evicts the entry with the oldest LastUsedAt.
//
// The whole map is kept in memory and written back as one JSON document under
// a single namespace. When the backend fails, the store keeps working in
// memory only.
type DurableStore struct {
	mu        sync.Mutex
	backend   Backend
	namespace string
	maxItems  int
	entries   map[string]StoredEntry
	degraded  bool
	now       func() time.Time
}

// StoreOption is a functional option for configuring the durable store.
type StoreOption func(*DurableStore)

// WithMaxItems sets the store capacity.
func WithMaxItems(n int) StoreOption {
	return func(s *DurableStore) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithStoreClock overrides the time source (useful for testing).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *DurableStore) {
		s.now = now
	}
}

// NewDurableStore creates a store over backend and loads its contents once.
// A nil backend gives a memory-only store.
func NewDurableStore(backend Backend, namespace string, opts ...StoreOption) *DurableStore {
	s := &DurableStore{
		backend:   backend,
		namespace: namespace,
		maxItems:  DefaultMaxStorageItems,
		entries:   make(map[string]StoredEntry),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.load()
	return s
}

func (s *DurableStore) load() {
	if s.backend == nil {
		return
	}

	data, err := s.backend.Read(s.namespace)
	if err != nil {
		s.degrade(err, "Failed to read preview store, continuing in memory")
		return
	}
	if len(data) == 0 {
		return
	}

	var entries map[string]StoredEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("namespace", s.namespace).Msg("Discarding unreadable preview store")
		return
	}

	for id, e := range entries {
		if id == "" || e.URL == "" {
			continue
		}
		s.entries[id] = e
	}
	s.evictOverflow()

	log.Info().Int("count", len(s.entries)).Msg("Loaded preview store")
}

// Get returns the stored entry for id and marks it as used.
func (s *DurableStore) Get(id string) (StoredEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return StoredEntry{}, false
	}
	e.LastUsedAt = s.nowMillis()
	s.entries[id] = e
	s.persist()
	return e, true
}

// Put stores url for id, evicting least recently used entries beyond capacity.
func (s *DurableStore) Put(id, url string) {
	if id == "" || url == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	e, ok := s.entries[id]
	if !ok || e.URL != url {
		e.CreatedAt = now
	}
	e.URL = url
	e.LastUsedAt = now
	s.entries[id] = e

	s.evictOverflow()
	s.persist()
}

// Delete removes id from the store.
func (s *DurableStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	s.persist()
}

// Clear removes every entry, in memory and on the backend.
func (s *DurableStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]StoredEntry)
	if s.backend == nil || s.degraded {
		return
	}
	if err := s.backend.Delete(s.namespace); err != nil {
		s.degrade(err, "Failed to clear preview store, continuing in memory")
	}
}

// Len returns the number of stored entries.
func (s *DurableStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// All returns a copy of every stored entry.
func (s *DurableStore) All() map[string]StoredEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StoredEntry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Degraded reports whether the store has fallen back to memory-only operation.
func (s *DurableStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// evictOverflow drops oldest-used entries until the store fits. Must hold lock.
func (s *DurableStore) evictOverflow() {
	for len(s.entries) > s.maxItems {
		var oldestID string
		var oldest int64
		for id, e := range s.entries {
			if oldestID == "" || e.LastUsedAt < oldest || (e.LastUsedAt == oldest && id < oldestID) {
				oldestID = id
				oldest = e.LastUsedAt
			}
		}
		delete(s.entries, oldestID)
		log.Debug().Str("trackId", oldestID).Msg("Evicted preview store entry")
	}
}

// persist writes the map back to the backend. Must hold lock.
func (s *DurableStore) persist() {
	if s.backend == nil || s.degraded {
		return
	}

	data, err := json.Marshal(s.entries)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal preview store")
		return
	}
	if err := s.backend.Write(s.namespace, data); err != nil {
		s.degrade(err, "Failed to write preview store, continuing in memory")
	}
}

func (s *DurableStore) degrade(err error, msg string) {
	s.degraded = true
	log.Warn().Err(err).Str("namespace", s.namespace).Msg(msg)
}

func (s *DurableStore) nowMillis() int64 {
	return s.now().UnixMilli()
}
