package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// MaxFetchTime caps a single provider fetch regardless of TTL.
const MaxFetchTime = 30 * time.Second

// Config tunes the source cache.
type Config struct {
	MaxFetchTime time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		MaxFetchTime: MaxFetchTime,
	}
}

// slot is the mutable cache cell for one source. Only the single-flight
// owner writes it; everyone else reads a completed snapshot.
type slot struct {
	mu        sync.RWMutex
	data      any
	lastFetch time.Time
	populated bool
}

func (s *slot) snapshot() (any, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.lastFetch, s.populated
}

func (s *slot) store(data any, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.lastFetch = fetchedAt
	s.populated = true
}

func (s *slot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.lastFetch = time.Time{}
	s.populated = false
}

// SourceCache memoizes per-source fetches with TTL expiry, serves stale
// payloads when a refresh fails, and collapses concurrent demand for
// the same source into one in-flight fetch.
type SourceCache struct {
	registry *registry.Registry
	cfg      Config

	mu    sync.Mutex
	slots map[string]*slot

	group  singleflight.Group
	mirror *Mirror
}

// New creates a cache over the given registry.
func New(reg *registry.Registry, cfg Config) *SourceCache {
	if cfg.MaxFetchTime <= 0 {
		cfg.MaxFetchTime = MaxFetchTime
	}
	return &SourceCache{
		registry: reg,
		cfg:      cfg,
		slots:    make(map[string]*slot),
	}
}

// SetMirror attaches an optional Redis write-through mirror.
func (c *SourceCache) SetMirror(m *Mirror) {
	c.mirror = m
}

func (c *SourceCache) slotFor(name string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[name]
	if !ok {
		s = &slot{}
		c.slots[name] = s
	}
	return s
}

// fetchDeadline bounds one provider call: the source TTL or the global
// ceiling, whichever is shorter.
func (c *SourceCache) fetchDeadline(src registry.Source) time.Duration {
	ttl := src.TTL()
	if ttl < c.cfg.MaxFetchTime {
		return ttl
	}
	return c.cfg.MaxFetchTime
}

// FetchSource returns the payload for one source. The second return is
// false when the source is unknown or no payload could be produced.
// It never returns an error: fetch failures degrade to stale data or
// absence.
func (c *SourceCache) FetchSource(ctx context.Context, name string) (any, bool) {
	src, ok := c.registry.Source(name)
	if !ok {
		log.Warn().Str("source", name).Msg("fetch requested for unregistered source")
		return nil, false
	}

	s := c.slotFor(name)
	if data, age, ok := c.fresh(s, src); ok {
		log.Debug().Str("source", name).Dur("age", age).Msg("serving cached payload")
		metrics.RecordSourceFetch(name, metrics.OutcomeCached)
		return data, true
	}

	// Run the provider call on its own deadline, detached from the
	// caller's context: a waiter giving up must not cancel the shared
	// fetch, and a late completion still warms the cache.
	ch := c.group.DoChan(name, func() (any, error) {
		if data, age, ok := c.fresh(s, src); ok {
			log.Debug().Str("source", name).Dur("age", age).Msg("payload refreshed while waiting for flight")
			return data, nil
		}

		fctx, cancel := context.WithTimeout(context.Background(), c.fetchDeadline(src))
		defer cancel()

		payload, err := src.Fetch(fctx)
		if err != nil {
			return nil, err
		}

		fetchedAt := time.Now()
		s.store(payload, fetchedAt)
		if c.mirror != nil {
			c.mirror.WriteThrough(src, payload, fetchedAt)
		}
		return payload, nil
	})

	select {
	case <-ctx.Done():
		log.Warn().Str("source", name).Err(ctx.Err()).Msg("abandoned wait for in-flight fetch")
		return c.staleOrAbsent(s, name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return c.staleOrAbsent(s, name, res.Err)
		}
		metrics.RecordSourceFetch(name, metrics.OutcomeFresh)
		return res.Val, true
	}
}

// fresh returns the cached payload when it is inside the TTL window.
func (c *SourceCache) fresh(s *slot, src registry.Source) (any, time.Duration, bool) {
	data, lastFetch, populated := s.snapshot()
	if !populated {
		return nil, 0, false
	}
	age := time.Since(lastFetch)
	if age >= src.TTL() {
		return nil, age, false
	}
	return data, age, true
}

// staleOrAbsent applies the stale-on-error policy after a failed fetch.
func (c *SourceCache) staleOrAbsent(s *slot, name string, cause error) (any, bool) {
	data, lastFetch, populated := s.snapshot()
	if populated {
		log.Warn().
			Str("source", name).
			Dur("age", time.Since(lastFetch)).
			Err(cause).
			Msg("fetch failed, returning stale cache")
		metrics.RecordSourceFetch(name, metrics.OutcomeStale)
		return data, true
	}
	log.Warn().Str("source", name).Err(cause).Msg("fetch failed with no cached fallback")
	metrics.RecordSourceFetch(name, metrics.OutcomeMiss)
	return nil, false
}

// FetchSources fetches the named sources concurrently and assembles the
// SourceData map from those that produced a payload.
func (c *SourceCache) FetchSources(ctx context.Context, names []string) domain.SourceData {
	data := make(domain.SourceData, len(names))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			payload, ok := c.FetchSource(ctx, name)
			if !ok {
				return
			}
			mu.Lock()
			data[name] = payload
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return data
}

// FetchAllSources fetches every registered source.
func (c *SourceCache) FetchAllSources(ctx context.Context) domain.SourceData {
	sources := c.registry.Sources()
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name)
	}
	return c.FetchSources(ctx, names)
}

// ClearAllCaches drops every cached payload and fetch timestamp.
func (c *SourceCache) ClearAllCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		s.clear()
	}
}

// SlotInfo describes one cache slot for status reporting.
type SlotInfo struct {
	Source    string        `json:"source"`
	Populated bool          `json:"populated"`
	Age       time.Duration `json:"age,omitempty"`
}

// Snapshot reports the state of every known slot, sorted by the
// registry's source order.
func (c *SourceCache) Snapshot() []SlotInfo {
	var out []SlotInfo
	for _, src := range c.registry.Sources() {
		info := SlotInfo{Source: src.Name}
		c.mu.Lock()
		s, ok := c.slots[src.Name]
		c.mu.Unlock()
		if ok {
			_, lastFetch, populated := s.snapshot()
			info.Populated = populated
			if populated {
				info.Age = time.Since(lastFetch)
			}
		}
		out = append(out, info)
	}
	return out
}
