package cache

// Bounded is the per-kind entity store.
//
// It keeps a map for O(1) lookup and a container/list for insertion order. The
// order is FIFO: Set on a new key appends, Set on an existing key updates the
// value in place, and reads never move anything. When the policy limit is
// reached the oldest entry is evicted if RemoveOneOnFull is set; otherwise the
// write is dropped and counted as rejected.
//
// Concurrency: all operations are safe for concurrent access. Entity mutation
// itself is serialized by the Directory state lock, not by this type.

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// Unlimited disables the size bound.
const Unlimited = -1

// SweepUnlimited is returned by Sweep when the lifetime means "keep forever".
// It is distinct from 0, which means a sweep ran and found nothing to evict.
const SweepUnlimited = -1

// Policy is the admission policy of one Bounded cache.
type Policy struct {
	// Limit is the maximum size. Unlimited (or any negative value) disables the
	// bound and 0 turns Set into a no-op.
	Limit           int  `json:"limit" yaml:"limit"`
	RemoveOneOnFull bool `json:"remove_one_on_full" yaml:"remove_one_on_full"`
	Disabled        bool `json:"disabled" yaml:"disabled"`
}

// DefaultPolicy is unbounded with oldest-first eviction armed for when a limit is set.
func DefaultPolicy() Policy {
	return Policy{Limit: Unlimited, RemoveOneOnFull: true}
}

func (p Policy) bounded() bool { return p.Limit >= 0 }

type Bounded struct {
	mu     sync.RWMutex
	kind   entity.Kind
	scope  string
	policy Policy
	data   map[string]*entry
	order  *list.List
	now    func() time.Time

	// Metrics
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	rejected  atomic.Uint64
}

type entry struct {
	key      string
	value    entity.Entity
	cachedAt time.Time
	elem     *list.Element
}

// NewBounded creates an empty cache for kind. scope names the owner (guild or
// channel id) for scoped kinds and is informational only.
func NewBounded(kind entity.Kind, scope string, p Policy, now func() time.Time) *Bounded {
	if now == nil {
		now = time.Now
	}
	return &Bounded{
		kind:   kind,
		scope:  scope,
		policy: p,
		data:   make(map[string]*entry),
		order:  list.New(),
		now:    now,
	}
}

func (b *Bounded) Kind() entity.Kind { return b.kind }
func (b *Bounded) Scope() string     { return b.scope }

func (b *Bounded) Policy() Policy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.policy
}

// Get returns the entity for id. Reads never reorder entries.
func (b *Bounded) Get(id string) (entity.Entity, bool) {
	if id == "" {
		b.misses.Add(1)
		return nil, false
	}
	b.mu.RLock()
	e, ok := b.data[id]
	b.mu.RUnlock()
	if !ok {
		b.misses.Add(1)
		return nil, false
	}
	b.hits.Add(1)
	return e.value, true
}

// Has reports presence without touching the hit/miss counters.
func (b *Bounded) Has(id string) bool {
	b.mu.RLock()
	_, ok := b.data[id]
	b.mu.RUnlock()
	return ok
}

// Set stores v under id and refreshes its cachedAt. It returns the receiver.
func (b *Bounded) Set(id string, v entity.Entity) *Bounded {
	if id == "" || v == nil {
		return b
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.policy.Disabled || b.policy.Limit == 0 {
		return b
	}

	now := b.now()
	if e, ok := b.data[id]; ok {
		e.value = v
		e.cachedAt = now
		return b
	}

	if b.policy.bounded() && len(b.data) >= b.policy.Limit {
		if !b.policy.RemoveOneOnFull {
			b.rejected.Add(1)
			log.CacheLogger().Debug("Cache full, write dropped", "kind", string(b.kind), "scope", b.scope, "id", id, "limit", b.policy.Limit)
			return b
		}
		for len(b.data) >= b.policy.Limit {
			b.evictOldest()
		}
	}

	elem := b.order.PushBack(id)
	b.data[id] = &entry{key: id, value: v, cachedAt: now, elem: elem}
	return b
}

// Delete removes id and reports whether it was present.
func (b *Bounded) Delete(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[id]
	if !ok {
		return false
	}
	b.order.Remove(e.elem)
	delete(b.data, id)
	return true
}

// Clear removes every entry.
func (b *Bounded) Clear() {
	b.mu.Lock()
	clear(b.data)
	b.order.Init()
	b.mu.Unlock()
}

func (b *Bounded) Len() int {
	b.mu.RLock()
	n := len(b.data)
	b.mu.RUnlock()
	return n
}

// Keys returns the keys in insertion order.
func (b *Bounded) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for el := b.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

// Values returns the entities in insertion order.
func (b *Bounded) Values() []entity.Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]entity.Entity, 0, len(b.data))
	for el := b.order.Front(); el != nil; el = el.Next() {
		out = append(out, b.data[el.Value.(string)].value)
	}
	return out
}

// Each calls fn in insertion order until it returns false. fn runs on a
// snapshot, so it may call back into the cache.
func (b *Bounded) Each(fn func(id string, v entity.Entity) bool) {
	for _, v := range b.Values() {
		if !fn(v.Key(), v) {
			return
		}
	}
}

// CachedAt returns the last Set time of id.
func (b *Bounded) CachedAt(id string) (time.Time, bool) {
	b.mu.RLock()
	e, ok := b.data[id]
	b.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return e.cachedAt, true
}

// Sweep evicts entries whose age at now exceeds lifetime and returns how many
// were removed. Age is measured from the entity's own FreshAt when it has one,
// else from cachedAt. lifetime <= 0 evicts nothing and returns SweepUnlimited.
func (b *Bounded) Sweep(now time.Time, lifetime time.Duration) int {
	if lifetime <= 0 {
		return SweepUnlimited
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for el := b.order.Front(); el != nil; {
		next := el.Next()
		e := b.data[el.Value.(string)]
		if now.Sub(anchor(e)) > lifetime {
			b.order.Remove(el)
			delete(b.data, e.key)
			n++
		}
		el = next
	}
	if n > 0 {
		b.evictions.Add(uint64(n))
	}
	return n
}

func anchor(e *entry) time.Time {
	if f, ok := e.value.(entity.Freshness); ok {
		if at := f.FreshAt(); !at.IsZero() {
			return at
		}
	}
	return e.cachedAt
}

// SetPolicy replaces the policy. A lower limit evicts oldest entries until it is met.
func (b *Bounded) SetPolicy(p Policy) {
	b.mu.Lock()
	b.policy = p
	if p.Disabled || p.Limit == 0 {
		clear(b.data)
		b.order.Init()
	} else if p.bounded() {
		for len(b.data) > p.Limit {
			b.evictOldest()
		}
	}
	b.mu.Unlock()
}

// evictOldest removes the first inserted entry. Caller must hold b.mu (write lock).
func (b *Bounded) evictOldest() {
	front := b.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	b.order.Remove(front)
	delete(b.data, key)
	b.evictions.Add(1)
}

// Stats summarizes a cache's state and counters.
type Stats struct {
	Kind      entity.Kind `json:"kind"`
	Caches    int         `json:"caches"`
	Size      int         `json:"size"`
	Limit     int         `json:"limit"`
	Hits      uint64      `json:"hits"`
	Misses    uint64      `json:"misses"`
	Evictions uint64      `json:"evictions"`
	Rejected  uint64      `json:"rejected"`
	HitRate   float64     `json:"hit_rate"`
}

// Stats returns a snapshot of the counters. HitRate is computed when any
// lookups happened.
func (b *Bounded) Stats() Stats {
	p := b.Policy()
	s := Stats{
		Kind:      b.kind,
		Caches:    1,
		Size:      b.Len(),
		Limit:     p.Limit,
		Hits:      b.hits.Load(),
		Misses:    b.misses.Load(),
		Evictions: b.evictions.Load(),
		Rejected:  b.rejected.Load(),
	}
	s.computeRate()
	return s
}

func (s *Stats) computeRate() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0
	}
}

func (s *Stats) add(o Stats) {
	s.Caches += o.Caches
	s.Size += o.Size
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Evictions += o.Evictions
	s.Rejected += o.Rejected
	s.computeRate()
}
