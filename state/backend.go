// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package state

import (
	"context"
	"fmt"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/store"
)

// A Key identifies a cached value within one entity category. Values that
// belong to a container, such as the members of a guild or the messages of a
// channel, use the container ID as the scope; top-level values have a zero
// scope. Keys are ordered by scope, then by ID.
type Key struct {
	Scope entity.ID
	ID    entity.ID
}

// IDKey returns the key for a top-level value.
func IDKey(id entity.ID) Key { return Key{ID: id} }

// ScopedKey returns the key for a value within a container.
func ScopedKey(scope, id entity.ID) Key { return Key{Scope: scope, ID: id} }

// ScopeRange returns the half-open key range [lo, hi) that spans every key
// with the given scope.
func ScopeRange(scope entity.ID) (lo, hi Key) {
	return Key{Scope: scope}, Key{Scope: scope + 1}
}

// Compare returns -1, 0, or 1 as k is less than, equal to, or greater than o.
func (k Key) Compare(o Key) int {
	if c := k.Scope.Compare(o.Scope); c != 0 {
		return c
	}
	return k.ID.Compare(o.ID)
}

// InRange reports whether k is in the half-open range [lo, hi).
func (k Key) InRange(lo, hi Key) bool { return k.Compare(lo) >= 0 && k.Compare(hi) < 0 }

func (k Key) String() string {
	if k.Scope == 0 {
		return k.ID.String()
	}
	return k.Scope.String() + "/" + k.ID.String()
}

// An Entry is a key-value pair from a backend.
type Entry struct {
	Key   Key
	Value any
}

// A Backend stores the values of one entity category. Values are pointers to
// the entity record type of the category (see NewValue). Methods that list
// values report them in key order.
//
// A Backend must be safe for concurrent use by multiple goroutines: a backend
// may be shared by every shard of a process.
type Backend interface {
	// Save stores value under key, replacing any existing value.
	Save(ctx context.Context, key Key, value any) error

	// Find reports the value stored under key, if any.
	Find(ctx context.Context, key Key) (any, bool, error)

	// FindInRange reports the values whose keys are in [lo, hi).
	FindInRange(ctx context.Context, lo, hi Key) ([]any, error)

	// Count reports the number of stored values.
	Count(ctx context.Context) (int64, error)

	// Keys, Values, and Entries enumerate the contents of the backend.
	Keys(ctx context.Context) ([]Key, error)
	Values(ctx context.Context) ([]any, error)
	Entries(ctx context.Context) ([]Entry, error)

	// Delete removes the value stored under key, if any.
	Delete(ctx context.Context, key Key) error

	// DeleteInRange removes the values whose keys are in [lo, hi).
	DeleteInRange(ctx context.Context, lo, hi Key) error

	// Invalidate removes all stored values.
	Invalidate(ctx context.Context) error
}

// A Factory provides backends for entity categories. Provide must return the
// same backend when asked for a category more than once, and must be safe for
// concurrent use.
type Factory interface {
	Provide(ctx context.Context, category store.Flag) (Backend, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(context.Context, store.Flag) (Backend, error)

// Provide implements the Factory interface.
func (f FactoryFunc) Provide(ctx context.Context, c store.Flag) (Backend, error) { return f(ctx, c) }

// NewValue returns a pointer to a new zero record of the entity type stored
// for category c. Backends that decode stored values use it to choose the
// target type.
func NewValue(c store.Flag) (any, error) {
	switch c {
	case store.FlagChannel:
		return new(entity.Channel), nil
	case store.FlagEmoji:
		return new(entity.Emoji), nil
	case store.FlagGuild:
		return new(entity.Guild), nil
	case store.FlagMember:
		return new(entity.Member), nil
	case store.FlagMessage:
		return new(entity.Message), nil
	case store.FlagPresence:
		return new(entity.Presence), nil
	case store.FlagRole:
		return new(entity.Role), nil
	case store.FlagUser:
		return new(entity.User), nil
	case store.FlagVoiceState:
		return new(entity.VoiceState), nil
	}
	return nil, fmt.Errorf("unknown category %v", c)
}

// Noop returns a backend that discards writes and reports empty reads.
func Noop() Backend { return noop{} }

type noop struct{}

func (noop) Save(context.Context, Key, any) error                 { return nil }
func (noop) Find(context.Context, Key) (any, bool, error)         { return nil, false, nil }
func (noop) FindInRange(context.Context, Key, Key) ([]any, error) { return nil, nil }
func (noop) Count(context.Context) (int64, error)                 { return 0, nil }
func (noop) Keys(context.Context) ([]Key, error)                  { return nil, nil }
func (noop) Values(context.Context) ([]any, error)                { return nil, nil }
func (noop) Entries(context.Context) ([]Entry, error)             { return nil, nil }
func (noop) Delete(context.Context, Key) error                    { return nil }
func (noop) DeleteInRange(context.Context, Key, Key) error        { return nil }
func (noop) Invalidate(context.Context) error                     { return nil }

// IsNoop reports whether b is the backend returned by Noop.
func IsNoop(b Backend) bool { _, ok := b.(noop); return ok }
