// Package preview resolves tracks to playable preview URLs with request
// deduplication and tiered positive/negative caching.
package preview

import (
	"context"
	"errors"
	"time"
)

// Resolution failures reported by a Resolver.
var (
	// ErrRateLimited indicates the resolver asked us to back off. Never cached.
	ErrRateLimited = errors.New("preview resolver rate limited")

	// ErrNetwork indicates a transient transport or server failure. Never cached.
	// Timeouts are reported as ErrNetwork.
	ErrNetwork = errors.New("preview resolver network failure")
)

// IsRetryable reports whether a resolution error may be retried immediately
// without penalty. Rate limiting expects caller-side backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}

// isCancellation reports whether err is a caller cancellation, which is not a failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Resolver turns a track id into a preview URL over the network.
// An empty URL with a nil error means the track has no preview.
type Resolver interface {
	ResolvePreview(ctx context.Context, trackID string) (string, error)
}

// Priority controls how a prefetch is scheduled.
type Priority int

const (
	// PriorityLow prefetches are capped and spaced out to respect rate limits.
	PriorityLow Priority = iota
	// PriorityHigh prefetches bypass the cap and fire immediately.
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// ParsePriority maps "high" to PriorityHigh and anything else to PriorityLow.
func ParsePriority(s string) Priority {
	if s == "high" {
		return PriorityHigh
	}
	return PriorityLow
}

const (
	// DefaultSuccessTTL is how long a resolved URL stays valid in memory.
	DefaultSuccessTTL = 5 * time.Minute

	// DefaultFailureTTL is how long a "no preview" answer suppresses retries.
	DefaultFailureTTL = 30 * time.Second

	// DefaultTimeout bounds a single resolution request.
	DefaultTimeout = 30 * time.Second

	// DefaultLowPriorityLimit caps concurrent low-priority prefetches.
	DefaultLowPriorityLimit = 3

	// DefaultLowPrioritySpacing delays each low-priority prefetch.
	DefaultLowPrioritySpacing = time.Second

	// DefaultMaxStorageItems caps the durable store.
	DefaultMaxStorageItems = 1000
)

// EntryState is the state of a cached resolution.
type EntryState int

const (
	// StateResolved means a preview URL is known.
	StateResolved EntryState = iota + 1
	// StateNegative means the resolver answered that no preview exists.
	StateNegative
	// StatePending means a network call for the id is outstanding. Never persisted.
	StatePending
)

// String returns the state name.
func (s EntryState) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateNegative:
		return "negative"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Entry is a snapshot of the cache's knowledge about one track id.
type Entry struct {
	ID        string     `json:"id"`
	State     EntryState `json:"state"`
	URL       string     `json:"url,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Stats exposes counters for observability. It is not used for control flow.
type Stats struct {
	Entries             int  `json:"entries"`
	Resolved            int  `json:"resolved"`
	Negative            int  `json:"negative"`
	Pending             int  `json:"pending"`
	Stored              int  `json:"stored"`
	StoreDegraded       bool `json:"storeDegraded"`
	Hits                int  `json:"hits"`
	Misses              int  `json:"misses"`
	NetworkRequests     int  `json:"networkRequests"`
	RateLimited         int  `json:"rateLimited"`
	Failures            int  `json:"failures"`
	PrefetchStarted     int  `json:"prefetchStarted"`
	PrefetchDropped     int  `json:"prefetchDropped"`
	PrefetchSkipped     int  `json:"prefetchSkipped"`
	LowPriorityInFlight int  `json:"lowPriorityInFlight"`
}
