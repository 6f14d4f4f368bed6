package preview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCache_ResolveFillsPreview(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "https://cdn.example.com/t1.mp3")
	c := NewCache(resolver, nil)
	defer c.Close()

	got := c.Resolve(context.Background(), track.Ref{ID: "t1", Title: "Song"})

	if got.PreviewURL != "https://cdn.example.com/t1.mp3" {
		t.Errorf("expected preview url, got %q", got.PreviewURL)
	}
	if got.Title != "Song" {
		t.Error("Resolve should keep other track fields")
	}
	if !c.IsCached("t1") {
		t.Error("expected t1 to be cached")
	}
}

func TestCache_ResolveSkipsNetwork(t *testing.T) {
	tests := []struct {
		name  string
		track track.Ref
	}{
		{"already has preview", track.Ref{ID: "t1", PreviewURL: "https://x"}},
		{"empty id", track.Ref{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newMockResolver()
			c := NewCache(resolver, nil)
			defer c.Close()

			got := c.Resolve(context.Background(), tt.track)
			if got != tt.track {
				t.Errorf("expected track unchanged, got %+v", got)
			}
			if resolver.Calls() != 0 {
				t.Errorf("expected no network calls, got %d", resolver.Calls())
			}
		})
	}
}

func TestCache_ConcurrentResolvesShareOneRequest(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "https://cdn.example.com/t1.mp3")
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 16)
	c := NewCache(resolver, nil)
	defer c.Close()

	const n = 10
	results := make([]track.Ref, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Resolve(context.Background(), track.Ref{ID: "t1"})
		}(i)
	}

	<-resolver.started
	time.Sleep(20 * time.Millisecond)
	close(resolver.gate)
	wg.Wait()

	if resolver.Calls() != 1 {
		t.Errorf("expected exactly 1 network call, got %d", resolver.Calls())
	}
	for i, r := range results {
		if r.PreviewURL != "https://cdn.example.com/t1.mp3" {
			t.Errorf("caller %d got %q", i, r.PreviewURL)
		}
	}
}

func TestCache_DistinctIDsResolveInParallel(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("a", "url-a")
	resolver.SetURL("b", "url-b")
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 4)
	c := NewCache(resolver, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Resolve(context.Background(), track.Ref{ID: id})
		}(id)
	}

	// Both requests must be outstanding before either is released.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-resolver.started:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("distinct ids were not resolved in parallel")
		}
	}
	close(resolver.gate)
	wg.Wait()

	if !seen["a"] || !seen["b"] {
		t.Errorf("expected both ids to start, got %v", seen)
	}
}

func TestCache_NegativeEntryExpires(t *testing.T) {
	clock := newFakeClock()
	resolver := newMockResolver()
	c := NewCache(resolver, nil, WithClock(clock.Now))
	defer c.Close()

	got := c.Resolve(context.Background(), track.Ref{ID: "t1"})
	if got.PreviewURL != "" {
		t.Fatalf("expected no preview, got %q", got.PreviewURL)
	}
	if !c.HasNoPreview("t1") {
		t.Fatal("expected negative entry")
	}

	clock.Advance(DefaultFailureTTL - time.Second)
	c.Resolve(context.Background(), track.Ref{ID: "t1"})
	if resolver.Calls() != 1 {
		t.Errorf("negative entry should suppress retries, got %d calls", resolver.Calls())
	}

	clock.Advance(2 * time.Second)
	if c.HasNoPreview("t1") {
		t.Error("negative entry should have expired")
	}
	resolver.SetURL("t1", "url-now")
	got = c.Resolve(context.Background(), track.Ref{ID: "t1"})
	if resolver.Calls() != 2 {
		t.Errorf("expected a retry after expiry, got %d calls", resolver.Calls())
	}
	if got.PreviewURL != "url-now" {
		t.Errorf("expected url-now, got %q", got.PreviewURL)
	}
}

func TestCache_ResolvedEntryExpires(t *testing.T) {
	clock := newFakeClock()
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	c := NewCache(resolver, nil, WithClock(clock.Now), WithSuccessTTL(time.Minute))
	defer c.Close()

	c.Resolve(context.Background(), track.Ref{ID: "t1"})
	clock.Advance(59 * time.Second)
	c.Resolve(context.Background(), track.Ref{ID: "t1"})
	if resolver.Calls() != 1 {
		t.Fatalf("expected cache hit before expiry, got %d calls", resolver.Calls())
	}

	clock.Advance(time.Second)
	if c.IsCached("t1") {
		t.Error("resolved entry should have expired")
	}
	c.Resolve(context.Background(), track.Ref{ID: "t1"})
	if resolver.Calls() != 2 {
		t.Errorf("expected re-resolution after expiry, got %d calls", resolver.Calls())
	}
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRate  int
		wantFails int
	}{
		{"rate limited", ErrRateLimited, 2, 0},
		{"network", ErrNetwork, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newMockResolver()
			resolver.SetError("t1", tt.err)
			c := NewCache(resolver, nil)
			defer c.Close()

			for i := 0; i < 2; i++ {
				got := c.Resolve(context.Background(), track.Ref{ID: "t1"})
				if got.PreviewURL != "" {
					t.Fatalf("expected unchanged track, got %q", got.PreviewURL)
				}
			}

			if resolver.Calls() != 2 {
				t.Errorf("failures must not be cached, got %d calls", resolver.Calls())
			}
			if c.HasNoPreview("t1") || c.IsCached("t1") {
				t.Error("failure should leave no entry")
			}
			s := c.Stats()
			if s.RateLimited != tt.wantRate || s.Failures != tt.wantFails {
				t.Errorf("unexpected stats %+v", s)
			}
		})
	}
}

func TestCache_TimeoutCountsAsFailure(t *testing.T) {
	resolver := newMockResolver()
	resolver.gate = make(chan struct{})
	defer close(resolver.gate)
	c := NewCache(resolver, nil, WithTimeout(20*time.Millisecond))
	defer c.Close()

	got := c.Resolve(context.Background(), track.Ref{ID: "t1"})

	if got.PreviewURL != "" {
		t.Errorf("expected unchanged track, got %q", got.PreviewURL)
	}
	if c.Stats().Failures != 1 {
		t.Errorf("expected 1 failure, got %d", c.Stats().Failures)
	}
	if c.HasNoPreview("t1") {
		t.Error("timeout must not be cached as no preview")
	}
}

func TestCache_CallerCancellationKeepsSharedRequest(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 1)
	c := NewCache(resolver, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan track.Ref, 1)
	go func() {
		done <- c.Resolve(ctx, track.Ref{ID: "t1"})
	}()

	<-resolver.started
	cancel()

	got := <-done
	if got.PreviewURL != "" {
		t.Errorf("cancelled caller should get unchanged track, got %q", got.PreviewURL)
	}
	if c.Stats().Failures != 0 {
		t.Error("cancellation is not a failure")
	}

	close(resolver.gate)
	waitFor(t, "shared request to complete", func() bool { return c.IsCached("t1") })
}

func TestCache_PrefetchAttemptsOnce(t *testing.T) {
	resolver := newMockResolver()
	c := NewCache(resolver, nil, WithLowPrioritySpacing(0))
	defer c.Close()

	ref := track.Ref{ID: "t1"}
	c.Prefetch(ref, PriorityHigh)
	c.wg.Wait()

	// The id has a negative entry and is marked attempted.
	c.Prefetch(ref, PriorityHigh)
	c.Prefetch(ref, PriorityLow)
	c.wg.Wait()

	if resolver.Calls() != 1 {
		t.Errorf("expected 1 network call, got %d", resolver.Calls())
	}
	if s := c.Stats(); s.PrefetchSkipped != 2 {
		t.Errorf("expected 2 skipped prefetches, got %d", s.PrefetchSkipped)
	}
}

func TestCache_LowPriorityCap(t *testing.T) {
	resolver := newMockResolver()
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 16)
	c := NewCache(resolver, nil, WithLowPrioritySpacing(0), WithLowPriorityLimit(3))
	defer c.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		c.Prefetch(track.Ref{ID: id}, PriorityLow)
	}

	s := c.Stats()
	if s.PrefetchStarted != 3 || s.PrefetchDropped != 2 {
		t.Fatalf("expected 3 started and 2 dropped, got %+v", s)
	}
	if s.LowPriorityInFlight != 3 {
		t.Errorf("expected 3 low priority in flight, got %d", s.LowPriorityInFlight)
	}

	// High priority bypasses the cap.
	c.Prefetch(track.Ref{ID: "f"}, PriorityHigh)
	for i := 0; i < 4; i++ {
		select {
		case <-resolver.started:
		case <-time.After(2 * time.Second):
			t.Fatal("expected 4 requests to start")
		}
	}

	close(resolver.gate)
	c.wg.Wait()

	if got := c.Stats().LowPriorityInFlight; got != 0 {
		t.Errorf("expected low priority slots released, got %d", got)
	}

	// Dropped requests were never marked attempted.
	c.Prefetch(track.Ref{ID: "e"}, PriorityLow)
	c.wg.Wait()
	if resolver.Calls() != 5 {
		t.Errorf("expected dropped id to be prefetchable later, got %d calls", resolver.Calls())
	}
}

func TestCache_LowPriorityIsSpaced(t *testing.T) {
	const spacing = 200 * time.Millisecond
	resolver := newMockResolver()
	resolver.started = make(chan string, 4)
	c := NewCache(resolver, nil, WithLowPrioritySpacing(spacing))
	defer c.Close()

	begin := time.Now()
	c.Prefetch(track.Ref{ID: "low"}, PriorityLow)
	c.Prefetch(track.Ref{ID: "high"}, PriorityHigh)

	next := func() string {
		select {
		case id := <-resolver.started:
			return id
		case <-time.After(2 * time.Second):
			t.Fatal("expected a resolver call")
			return ""
		}
	}

	if id := next(); id != "high" {
		t.Fatalf("expected high priority to reach the resolver first, got %s", id)
	}
	if id := next(); id != "low" {
		t.Fatalf("expected low priority call, got %s", id)
	}
	if elapsed := time.Since(begin); elapsed < spacing {
		t.Errorf("low priority fired after %s, before the %s spacing", elapsed, spacing)
	}
}

func TestCache_CloseCancelsSpacedPrefetch(t *testing.T) {
	resolver := newMockResolver()
	c := NewCache(resolver, nil, WithLowPrioritySpacing(time.Hour))

	c.Prefetch(track.Ref{ID: "a"}, PriorityLow)
	if got := c.Stats().LowPriorityInFlight; got != 1 {
		t.Fatalf("expected the prefetch to be waiting, got %d in flight", got)
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the waiting prefetch")
	}

	if resolver.Calls() != 0 {
		t.Errorf("expected no network call, got %d", resolver.Calls())
	}
	if got := c.Stats().LowPriorityInFlight; got != 0 {
		t.Errorf("expected low priority slot released, got %d", got)
	}
}

// stepResolver hands each call to the test, which answers it explicitly.
type stepResolver struct {
	calls chan resolverCall
}

type resolverCall struct {
	id    string
	reply chan string
}

func (r *stepResolver) ResolvePreview(ctx context.Context, id string) (string, error) {
	call := resolverCall{id: id, reply: make(chan string)}
	r.calls <- call
	select {
	case url := <-call.reply:
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCache_StaleFlightKeepsNewerPendingMarker(t *testing.T) {
	resolver := &stepResolver{calls: make(chan resolverCall)}
	c := NewCache(resolver, nil)
	defer c.Close()

	resolveAsync := func() chan track.Ref {
		out := make(chan track.Ref, 1)
		go func() { out <- c.Resolve(context.Background(), track.Ref{ID: "a"}) }()
		return out
	}

	oldDone := resolveAsync()
	old := <-resolver.calls

	c.Clear()

	newDone := resolveAsync()
	fresh := <-resolver.calls

	old.reply <- "https://cdn/old.mp3"
	<-oldDone

	if e, ok := c.Lookup("a"); !ok || e.State != StatePending {
		t.Fatalf("expected a to stay pending while the newer request runs, got %+v (found=%v)", e, ok)
	}
	if got := c.Stats().Pending; got != 1 {
		t.Errorf("expected 1 pending, got %d", got)
	}

	fresh.reply <- "https://cdn/new.mp3"
	if got := <-newDone; got.PreviewURL != "https://cdn/new.mp3" {
		t.Errorf("expected the newer URL, got %q", got.PreviewURL)
	}
	if e, _ := c.Lookup("a"); e.URL != "https://cdn/new.mp3" {
		t.Errorf("expected the newer URL cached, got %+v", e)
	}
}

func TestCache_ClearDiscardsInFlight(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 1)
	backend := newMemBackend()
	c := NewCache(resolver, NewDurableStore(backend, "ns"))
	defer c.Close()

	c.Prefetch(track.Ref{ID: "t1"}, PriorityHigh)
	<-resolver.started

	c.Clear()
	close(resolver.gate)
	c.wg.Wait()

	if c.IsCached("t1") {
		t.Error("completion after Clear must be discarded")
	}
	if c.Stats().Stored != 0 {
		t.Error("completion after Clear must not reach the durable store")
	}

	// The attempted set was reset too.
	resolver.gate = nil
	c.Prefetch(track.Ref{ID: "t1"}, PriorityHigh)
	c.wg.Wait()
	if !c.IsCached("t1") {
		t.Error("expected t1 to be prefetchable again after Clear")
	}
}

func TestCache_DurableStoreIntegration(t *testing.T) {
	backend := newMemBackend()
	resolver := newMockResolver()
	resolver.SetURL("hit", "url-hit")
	c := NewCache(resolver, NewDurableStore(backend, "ns"))

	c.Resolve(context.Background(), track.Ref{ID: "hit"})
	c.Resolve(context.Background(), track.Ref{ID: "miss"})
	c.Close()

	if s := c.Stats(); s.Stored != 1 {
		t.Fatalf("only resolved urls should be persisted, got %d", s.Stored)
	}

	// A fresh cache over the same backend serves the url without the network.
	fresh := newMockResolver()
	reloaded := NewCache(fresh, NewDurableStore(backend, "ns"))
	defer reloaded.Close()

	got := reloaded.Resolve(context.Background(), track.Ref{ID: "hit"})
	if got.PreviewURL != "url-hit" {
		t.Errorf("expected persisted url, got %q", got.PreviewURL)
	}
	if fresh.Calls() != 0 {
		t.Errorf("expected no network call, got %d", fresh.Calls())
	}
}

func TestCache_DegradedStoreStillResolves(t *testing.T) {
	backend := newMemBackend()
	backend.failAll = true
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	c := NewCache(resolver, NewDurableStore(backend, "ns"))
	defer c.Close()

	got := c.Resolve(context.Background(), track.Ref{ID: "t1"})

	if got.PreviewURL != "url-1" {
		t.Errorf("expected url-1, got %q", got.PreviewURL)
	}
	if !c.Stats().StoreDegraded {
		t.Error("expected degraded store to be reported")
	}
}

func TestCache_InstancesAreIndependent(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	a := NewCache(resolver, nil)
	b := NewCache(resolver, nil)
	defer a.Close()
	defer b.Close()

	a.Prefetch(track.Ref{ID: "t1"}, PriorityHigh)
	a.wg.Wait()
	b.Prefetch(track.Ref{ID: "t1"}, PriorityHigh)
	b.wg.Wait()

	if resolver.Calls() != 2 {
		t.Errorf("each instance should track attempts separately, got %d calls", resolver.Calls())
	}
}

func TestCache_Lookup(t *testing.T) {
	resolver := newMockResolver()
	resolver.SetURL("t1", "url-1")
	resolver.gate = make(chan struct{})
	resolver.started = make(chan string, 1)
	c := NewCache(resolver, nil)
	defer c.Close()

	if _, ok := c.Lookup("t1"); ok {
		t.Fatal("expected unknown id")
	}

	c.Prefetch(track.Ref{ID: "t1"}, PriorityHigh)
	<-resolver.started

	e, ok := c.Lookup("t1")
	if !ok || e.State != StatePending {
		t.Errorf("expected pending entry, got %+v", e)
	}

	close(resolver.gate)
	c.wg.Wait()

	e, ok = c.Lookup("t1")
	if !ok || e.State != StateResolved || e.URL != "url-1" {
		t.Errorf("expected resolved entry, got %+v", e)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"high", PriorityHigh},
		{"low", PriorityLow},
		{"", PriorityLow},
		{"urgent", PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParsePriority(tt.in); got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
