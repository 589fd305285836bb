// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package state provisions the per-category caches of a gateway client.
//
// A [Holder] is constructed once per client from a backend [Factory] and the
// negotiated intents. Categories whose events are gated by an intent absent
// from the set (emojis, presences, voice states) are backed by a no-op store
// that accepts writes and reports empty reads; every other category is
// backed by a store from the factory. The choice is fixed for the lifetime of
// the holder.
//
// A [View] exposes the read-only methods of a holder's stores, and a
// [Layout] adapts a holder to the [store.Layout] interface so that gateway
// events and read queries route to it.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/intent"
	"github.com/creachadair/gateway/store"
)

// Gate reports the intent required to cache category c, if any.
func Gate(c store.Flag) (intent.Intent, bool) {
	switch c {
	case store.FlagEmoji:
		return intent.GuildEmojis, true
	case store.FlagPresence:
		return intent.GuildPresences, true
	case store.FlagVoiceState:
		return intent.GuildVoiceStates, true
	}
	return 0, false
}

// A Store is a typed wrapper for the backend of one category. Its values are
// pointers to V.
type Store[V any] struct {
	category store.Flag
	backend  Backend
}

func newStore[V any](c store.Flag, b Backend) *Store[V] { return &Store[V]{category: c, backend: b} }

// Category reports the category stored by s.
func (s *Store[V]) Category() store.Flag { return s.category }

// Active reports whether s is backed by a real backend.
func (s *Store[V]) Active() bool { return !IsNoop(s.backend) }

// Backend returns the underlying backend of s.
func (s *Store[V]) Backend() Backend { return s.backend }

func (s *Store[V]) cast(v any) (*V, error) {
	if v == nil {
		return nil, nil
	}
	out, ok := v.(*V)
	if !ok {
		return nil, fmt.Errorf("%v store: unexpected value type %T", s.category, v)
	}
	return out, nil
}

func (s *Store[V]) castAll(vs []any) ([]*V, error) {
	out := make([]*V, 0, len(vs))
	for _, v := range vs {
		tv, err := s.cast(v)
		if err != nil {
			return nil, err
		}
		out = append(out, tv)
	}
	return out, nil
}

// Save stores v under key.
func (s *Store[V]) Save(ctx context.Context, key Key, v *V) error { return s.backend.Save(ctx, key, v) }

// Find returns the value stored under key, or nil if there is none.
func (s *Store[V]) Find(ctx context.Context, key Key) (*V, error) {
	v, ok, err := s.backend.Find(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return s.cast(v)
}

// FindInRange returns the values whose keys are in [lo, hi).
func (s *Store[V]) FindInRange(ctx context.Context, lo, hi Key) ([]*V, error) {
	vs, err := s.backend.FindInRange(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	return s.castAll(vs)
}

// FindInScope returns the values whose keys have the given scope.
func (s *Store[V]) FindInScope(ctx context.Context, scope entity.ID) ([]*V, error) {
	lo, hi := ScopeRange(scope)
	return s.FindInRange(ctx, lo, hi)
}

// Count reports the number of values stored.
func (s *Store[V]) Count(ctx context.Context) (int64, error) { return s.backend.Count(ctx) }

// Keys returns the keys of all stored values.
func (s *Store[V]) Keys(ctx context.Context) ([]Key, error) { return s.backend.Keys(ctx) }

// Values returns all stored values.
func (s *Store[V]) Values(ctx context.Context) ([]*V, error) {
	vs, err := s.backend.Values(ctx)
	if err != nil {
		return nil, err
	}
	return s.castAll(vs)
}

// An Item is a typed key-value pair.
type Item[V any] struct {
	Key   Key
	Value *V
}

// Entries returns all stored key-value pairs.
func (s *Store[V]) Entries(ctx context.Context) ([]Item[V], error) {
	es, err := s.backend.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item[V], 0, len(es))
	for _, e := range es {
		v, err := s.cast(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Item[V]{Key: e.Key, Value: v})
	}
	return out, nil
}

// Delete removes the value stored under key.
func (s *Store[V]) Delete(ctx context.Context, key Key) error { return s.backend.Delete(ctx, key) }

// DeleteInRange removes the values whose keys are in [lo, hi).
func (s *Store[V]) DeleteInRange(ctx context.Context, lo, hi Key) error {
	return s.backend.DeleteInRange(ctx, lo, hi)
}

// DeleteScope removes the values whose keys have the given scope.
func (s *Store[V]) DeleteScope(ctx context.Context, scope entity.ID) error {
	lo, hi := ScopeRange(scope)
	return s.backend.DeleteInRange(ctx, lo, hi)
}

// Invalidate removes all stored values.
func (s *Store[V]) Invalidate(ctx context.Context) error { return s.backend.Invalidate(ctx) }

// A Holder owns the stores of every cached entity category.
type Holder struct {
	intents intent.Set
	active  store.FlagSet

	channels    *Store[entity.Channel]
	emojis      *Store[entity.Emoji]
	guilds      *Store[entity.Guild]
	members     *Store[entity.Member]
	messages    *Store[entity.Message]
	presences   *Store[entity.Presence]
	roles       *Store[entity.Role]
	users       *Store[entity.User]
	voiceStates *Store[entity.VoiceState]
}

// NewHolder constructs a holder whose stores are provided by f, subject to
// the given intents. If log == nil, slog.Default is used.
func NewHolder(ctx context.Context, f Factory, intents intent.Set, log *slog.Logger) (*Holder, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &Holder{intents: intents}
	provide := func(c store.Flag) (Backend, error) {
		if need, ok := Gate(c); ok && !intents.Contains(need) {
			log.Debug("using no-op store", slog.String("category", c.String()), slog.String("intent", need.String()))
			return Noop(), nil
		}
		b, err := f.Provide(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("provide %v store: %w", c, err)
		}
		log.Debug("provisioned store", slog.String("category", c.String()), slog.String("backend", fmt.Sprintf("%T", b)))
		h.active |= store.Flags(c)
		return b, nil
	}

	var errs []error
	get := func(c store.Flag) Backend {
		b, err := provide(c)
		if err != nil {
			errs = append(errs, err)
			return Noop()
		}
		return b
	}
	h.channels = newStore[entity.Channel](store.FlagChannel, get(store.FlagChannel))
	h.emojis = newStore[entity.Emoji](store.FlagEmoji, get(store.FlagEmoji))
	h.guilds = newStore[entity.Guild](store.FlagGuild, get(store.FlagGuild))
	h.members = newStore[entity.Member](store.FlagMember, get(store.FlagMember))
	h.messages = newStore[entity.Message](store.FlagMessage, get(store.FlagMessage))
	h.presences = newStore[entity.Presence](store.FlagPresence, get(store.FlagPresence))
	h.roles = newStore[entity.Role](store.FlagRole, get(store.FlagRole))
	h.users = newStore[entity.User](store.FlagUser, get(store.FlagUser))
	h.voiceStates = newStore[entity.VoiceState](store.FlagVoiceState, get(store.FlagVoiceState))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return h, nil
}

// Intents reports the intents h was constructed with.
func (h *Holder) Intents() intent.Set { return h.intents }

// Flags reports the categories backed by a real store.
func (h *Holder) Flags() store.FlagSet { return h.active }

// Active reports whether category c is backed by a real store.
func (h *Holder) Active(c store.Flag) bool { return h.active.Has(c) }

func (h *Holder) Channels() *Store[entity.Channel]       { return h.channels }
func (h *Holder) Emojis() *Store[entity.Emoji]           { return h.emojis }
func (h *Holder) Guilds() *Store[entity.Guild]           { return h.guilds }
func (h *Holder) Members() *Store[entity.Member]         { return h.members }
func (h *Holder) Messages() *Store[entity.Message]       { return h.messages }
func (h *Holder) Presences() *Store[entity.Presence]     { return h.presences }
func (h *Holder) Roles() *Store[entity.Role]             { return h.roles }
func (h *Holder) Users() *Store[entity.User]             { return h.users }
func (h *Holder) VoiceStates() *Store[entity.VoiceState] { return h.voiceStates }

func (h *Holder) backends() []Backend {
	return []Backend{
		h.channels.backend, h.emojis.backend, h.guilds.backend, h.members.backend, h.messages.backend,
		h.presences.backend, h.roles.backend, h.users.backend, h.voiceStates.backend,
	}
}

// InvalidateStores removes all values from every store of h. It is safe to
// call more than once.
func (h *Holder) InvalidateStores(ctx context.Context) error {
	var errs []error
	for _, b := range h.backends() {
		if err := b.Invalidate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// View returns a read-only view of h.
func (h *Holder) View() *View { return &View{h: h} }

// A Reader is the read-only subset of the methods of a Store.
type Reader[V any] interface {
	Find(ctx context.Context, key Key) (*V, error)
	FindInRange(ctx context.Context, lo, hi Key) ([]*V, error)
	FindInScope(ctx context.Context, scope entity.ID) ([]*V, error)
	Count(ctx context.Context) (int64, error)
	Keys(ctx context.Context) ([]Key, error)
	Values(ctx context.Context) ([]*V, error)
	Entries(ctx context.Context) ([]Item[V], error)
}

// reader hides the mutating methods of a store.
type reader[V any] struct{ s *Store[V] }

func (r reader[V]) Find(ctx context.Context, key Key) (*V, error) { return r.s.Find(ctx, key) }
func (r reader[V]) FindInRange(ctx context.Context, lo, hi Key) ([]*V, error) {
	return r.s.FindInRange(ctx, lo, hi)
}
func (r reader[V]) FindInScope(ctx context.Context, scope entity.ID) ([]*V, error) {
	return r.s.FindInScope(ctx, scope)
}
func (r reader[V]) Count(ctx context.Context) (int64, error)       { return r.s.Count(ctx) }
func (r reader[V]) Keys(ctx context.Context) ([]Key, error)        { return r.s.Keys(ctx) }
func (r reader[V]) Values(ctx context.Context) ([]*V, error)       { return r.s.Values(ctx) }
func (r reader[V]) Entries(ctx context.Context) ([]Item[V], error) { return r.s.Entries(ctx) }

// A View is a read-only view of a Holder.
type View struct{ h *Holder }

// Intents reports the intents of the underlying holder.
func (v *View) Intents() intent.Set { return v.h.intents }

// Active reports whether category c is backed by a real store.
func (v *View) Active(c store.Flag) bool { return v.h.Active(c) }

func (v *View) Channels() Reader[entity.Channel]   { return reader[entity.Channel]{v.h.channels} }
func (v *View) Emojis() Reader[entity.Emoji]       { return reader[entity.Emoji]{v.h.emojis} }
func (v *View) Guilds() Reader[entity.Guild]       { return reader[entity.Guild]{v.h.guilds} }
func (v *View) Members() Reader[entity.Member]     { return reader[entity.Member]{v.h.members} }
func (v *View) Messages() Reader[entity.Message]   { return reader[entity.Message]{v.h.messages} }
func (v *View) Presences() Reader[entity.Presence] { return reader[entity.Presence]{v.h.presences} }
func (v *View) Roles() Reader[entity.Role]         { return reader[entity.Role]{v.h.roles} }
func (v *View) Users() Reader[entity.User]         { return reader[entity.User]{v.h.users} }
func (v *View) VoiceStates() Reader[entity.VoiceState] {
	return reader[entity.VoiceState]{v.h.voiceStates}
}
