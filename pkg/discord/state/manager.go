package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
	"github.com/small-frappuccino/discordsync/pkg/errutil"
)

var (
	// ErrNoRequester is returned by REST methods of a State built without one.
	ErrNoRequester = errors.New("state has no REST requester")
	// ErrMissingKey is returned when a payload carries no usable id.
	ErrMissingKey = errors.New("payload has no id")
)

// Change is the result of an upsert. Old is a frozen pre-patch snapshot and is
// nil when the entity was created.
type Change[T entity.Entity] struct {
	Old     T
	New     T
	Created bool
}

// manager is the shared base of every typed manager: one (kind, scope) cache.
type manager[T entity.Entity] struct {
	st    *State
	kind  entity.Kind
	scope string
}

func newManager[T entity.Entity](s *State, kind entity.Kind, scope string) manager[T] {
	return manager[T]{st: s, kind: kind, scope: scope}
}

func (m manager[T]) Cache() *cache.Bounded { return m.st.dir.New(m.kind, m.scope) }

// Scope is the owning guild or channel id, empty for global managers.
func (m manager[T]) Scope() string { return m.scope }

// Get returns a borrowed view of the cached entity; it is valid until the next
// patch or delete of that id.
func (m manager[T]) Get(id string) (T, bool) {
	var zero T
	b, ok := m.st.dir.Lookup(m.kind, m.scope)
	if !ok {
		return zero, false
	}
	v, ok := b.Get(id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Resolve accepts an id or an entity of this kind and returns the cached entity.
func (m manager[T]) Resolve(v any) (T, bool) {
	var zero T
	id := m.ResolveID(v)
	if id == "" {
		return zero, false
	}
	return m.Get(id)
}

// ResolveID accepts an id or an entity of this kind and returns its id.
func (m manager[T]) ResolveID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case T:
		return x.Key()
	case entity.Entity:
		if x.Kind() == m.kind {
			return x.Key()
		}
	}
	return ""
}

func (m manager[T]) Len() int {
	b, ok := m.st.dir.Lookup(m.kind, m.scope)
	if !ok {
		return 0
	}
	return b.Len()
}

// Values returns the cached entities in insertion order.
func (m manager[T]) Values() []T {
	b, ok := m.st.dir.Lookup(m.kind, m.scope)
	if !ok {
		return nil
	}
	vals := b.Values()
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// upsert merges raw into the cached entity with the same key or caches a new
// one. construct is always run first to learn the key.
func (m manager[T]) upsert(raw json.RawMessage, construct func(json.RawMessage) (T, error)) (Change[T], error) {
	var ch Change[T]
	fresh, err := construct(raw)
	if err != nil {
		return ch, err
	}
	key := fresh.Key()
	if key == "" {
		return ch, fmt.Errorf("upsert %s: %w", m.kind, ErrMissingKey)
	}

	b := m.Cache()
	if cur, ok := b.Get(key); ok {
		if existing, ok := cur.(T); ok {
			old, _ := entity.Snapshot(existing).(T)
			if err := existing.Patch(raw); err != nil {
				return ch, err
			}
			b.Set(key, existing)
			return Change[T]{Old: old, New: existing}, nil
		}
	}
	b.Set(key, fresh)
	return Change[T]{New: fresh, Created: true}, nil
}

// remove marks the entity deleted, evicts it and freezes it.
func (m manager[T]) remove(id string) (T, bool) {
	var zero T
	b, ok := m.st.dir.Lookup(m.kind, m.scope)
	if !ok {
		return zero, false
	}
	v, ok := b.Get(id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	t.MarkDeleted()
	b.Delete(id)
	t.Freeze()
	return t, true
}

// clear drops every entity of this manager's cache without tombstoning.
func (m manager[T]) clear() {
	if b, ok := m.st.dir.Lookup(m.kind, m.scope); ok {
		b.Clear()
	}
}

// call runs a REST request with failure logging.
func (m manager[T]) call(ctx context.Context, op, method, path string, opts rest.Options) (json.RawMessage, error) {
	if m.st.rest == nil {
		return nil, ErrNoRequester
	}
	var body json.RawMessage
	err := errutil.HandleDiscordError(op, func() error {
		var err error
		body, err = m.st.rest.Request(ctx, method, path, opts)
		return err
	})
	return body, err
}

// fetchOne is the cache-first read used by every Fetch method: a cached entity
// is returned unless force is set; otherwise the REST result is upserted.
func (m manager[T]) fetchOne(ctx context.Context, id string, force bool, path string, query url.Values, upsert func(json.RawMessage) (T, error)) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("fetch %s: %w", m.kind, ErrMissingKey)
	}
	if !force {
		if v, ok := m.Get(id); ok {
			return v, nil
		}
	}
	body, err := m.call(ctx, "fetch "+string(m.kind), "GET", path, rest.Options{Query: query})
	if err != nil {
		return zero, err
	}
	return m.writeBack(body, upsert)
}

// writeBack upserts a REST body under the state lock.
func (m manager[T]) writeBack(body json.RawMessage, upsert func(json.RawMessage) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	m.st.locked(func() { out, err = upsert(body) })
	return out, err
}
