package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// DirectoryConfig resolves the policy of every cache the directory creates.
type DirectoryConfig struct {
	// Default applies to kinds without an entry in PerKind. The zero value is
	// read as DefaultPolicy().
	Default       Policy
	PerKind       map[entity.Kind]Policy
	DisabledKinds []entity.Kind
	Sweepers      []JobConfig
	// Clock is used for cachedAt and sweep ages; nil means time.Now.
	Clock func() time.Time
}

// PolicyFor resolves the effective policy for kind.
func (c DirectoryConfig) PolicyFor(kind entity.Kind) Policy {
	p := c.Default
	if p == (Policy{}) {
		p = DefaultPolicy()
	}
	if kp, ok := c.PerKind[kind]; ok {
		p = kp
	}
	for _, k := range c.DisabledKinds {
		if k == kind {
			p.Disabled = true
		}
	}
	return p
}

type cacheID struct {
	kind  entity.Kind
	scope string
}

// Directory owns one Bounded cache per (kind, scope) and the Janitor that
// sweeps them. It also owns the state lock: every read-modify-write of cached
// entities, whether from dispatch, a manager write-back or a sweep, happens
// between Lock and Unlock.
type Directory struct {
	state sync.Mutex

	mu      sync.RWMutex
	cfg     DirectoryConfig
	caches  map[cacheID]*Bounded
	janitor *Janitor
	now     func() time.Time
}

// NewDirectory builds an empty directory and registers cfg.Sweepers on its
// janitor. Sweepers are not started.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	d := &Directory{
		cfg:    cfg,
		caches: make(map[cacheID]*Bounded),
		now:    now,
	}
	d.janitor = newJanitor(d)
	for _, jc := range cfg.Sweepers {
		if _, err := d.janitor.Add(jc); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Lock acquires the state lock.
func (d *Directory) Lock() { d.state.Lock() }

// Unlock releases the state lock.
func (d *Directory) Unlock() { d.state.Unlock() }

func (d *Directory) Janitor() *Janitor { return d.janitor }

func (d *Directory) Now() time.Time { return d.now() }

func (d *Directory) PolicyFor(kind entity.Kind) Policy {
	return d.cfg.PolicyFor(kind)
}

// ApplyPolicies replaces the default, per-kind and disabled settings with
// those of next and pushes the resolved policy into every live cache. Sweepers
// and Clock of next are ignored. It returns the kinds whose policy changed.
//
// It takes the state lock; callers must not hold it.
func (d *Directory) ApplyPolicies(next DirectoryConfig) []entity.Kind {
	d.state.Lock()
	defer d.state.Unlock()

	d.mu.Lock()
	prev := d.cfg
	d.cfg.Default = next.Default
	d.cfg.PerKind = next.PerKind
	d.cfg.DisabledKinds = next.DisabledKinds
	cfg := d.cfg
	caches := make([]*Bounded, 0, len(d.caches))
	for _, b := range d.caches {
		caches = append(caches, b)
	}
	d.mu.Unlock()

	var changed []entity.Kind
	for _, kind := range entity.AllKinds() {
		if prev.PolicyFor(kind) != cfg.PolicyFor(kind) {
			changed = append(changed, kind)
		}
	}
	for _, b := range caches {
		if p := cfg.PolicyFor(b.kind); b.Policy() != p {
			b.SetPolicy(p)
		}
	}
	if len(changed) > 0 {
		log.CacheLogger().Info("Cache policies applied", "kinds", changed, "caches", len(caches))
	}
	return changed
}

// New creates the cache for (kind, scope), or returns the existing one.
// A newly created cache is tracked by the sweep job declared for kind.
func (d *Directory) New(kind entity.Kind, scope string) *Bounded {
	id := cacheID{kind: kind, scope: scope}

	d.mu.RLock()
	b, ok := d.caches[id]
	d.mu.RUnlock()
	if ok {
		return b
	}

	d.mu.Lock()
	if b, ok = d.caches[id]; ok {
		d.mu.Unlock()
		return b
	}
	b = NewBounded(kind, scope, d.cfg.PolicyFor(kind), d.now)
	d.caches[id] = b
	d.mu.Unlock()

	if job := d.janitor.Job(kind); job != nil {
		job.Track(b)
	}
	return b
}

// Lookup returns the cache for (kind, scope) without creating it.
func (d *Directory) Lookup(kind entity.Kind, scope string) (*Bounded, bool) {
	d.mu.RLock()
	b, ok := d.caches[cacheID{kind: kind, scope: scope}]
	d.mu.RUnlock()
	return b, ok
}

// Drop clears and forgets the cache for (kind, scope). It reports whether one existed.
func (d *Directory) Drop(kind entity.Kind, scope string) bool {
	id := cacheID{kind: kind, scope: scope}
	d.mu.Lock()
	b, ok := d.caches[id]
	delete(d.caches, id)
	d.mu.Unlock()
	if !ok {
		return false
	}
	if job := d.janitor.Job(kind); job != nil {
		job.Untrack(b)
	}
	b.Clear()
	log.CacheLogger().Debug("Cache dropped", "kind", string(kind), "scope", scope)
	return true
}

// Caches returns every cache of kind.
func (d *Directory) Caches(kind entity.Kind) []*Bounded {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Bounded
	for id, b := range d.caches {
		if id.kind == kind {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].scope < out[k].scope })
	return out
}

// Scopes returns the scopes that have a cache of kind.
func (d *Directory) Scopes(kind entity.Kind) []string {
	caches := d.Caches(kind)
	out := make([]string, 0, len(caches))
	for _, b := range caches {
		out = append(out, b.scope)
	}
	return out
}

// Stats aggregates the caches of every kind that has at least one.
func (d *Directory) Stats() map[entity.Kind]Stats {
	d.mu.RLock()
	caches := make([]*Bounded, 0, len(d.caches))
	for _, b := range d.caches {
		caches = append(caches, b)
	}
	d.mu.RUnlock()

	out := make(map[entity.Kind]Stats)
	for _, b := range caches {
		s, ok := out[b.kind]
		if !ok {
			s = Stats{Kind: b.kind, Limit: b.Policy().Limit}
		}
		s.add(b.Stats())
		out[b.kind] = s
	}
	return out
}
