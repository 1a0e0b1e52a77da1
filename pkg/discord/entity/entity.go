package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrFrozen is returned by Patch on a frozen snapshot.
var ErrFrozen = errors.New("entity is frozen")

// Entity is any cacheable domain object.
//
// Patch copies only the fields present in the raw payload; everything else keeps
// its prior value. A deleted entity is frozen before it is handed to observers and
// must not be expected to receive further updates.
type Entity interface {
	Key() string
	Kind() Kind
	Patch(raw json.RawMessage) error
	Deleted() bool
	Frozen() bool
	MarkDeleted()
	Freeze()
}

// Freshness is implemented by kinds whose sweep age is anchored on their own
// timestamps instead of the cache insertion time.
type Freshness interface {
	// FreshAt returns the zero time when the entity has no usable timestamp.
	FreshAt() time.Time
}

type lifecycle struct {
	deleted bool
	frozen  bool
}

func (l *lifecycle) Deleted() bool { return l.deleted }
func (l *lifecycle) Frozen() bool  { return l.frozen }
func (l *lifecycle) MarkDeleted()  { l.deleted = true }
func (l *lifecycle) Freeze()       { l.frozen = true }

func (l *lifecycle) mutable(kind Kind) error {
	if l.frozen {
		return fmt.Errorf("patch %s: %w", kind, ErrFrozen)
	}
	return nil
}
