// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package store implements the action routing layer between gateway
// sessions and cached state.
//
// An action is a typed request value: a read query such as [GetGuildByID],
// or a gateway update such as [GuildMemberAdd]. Each action type records its
// result type by embedding [Returns]. A [Mapper] routes each concrete action
// type to exactly one handler, and a [Store] executes actions against one or
// more mappers:
//
//	s, err := store.New(layout)
//	...
//	g, err := store.Execute(ctx, s, store.GetGuildByID{GuildID: id})
//
// An action with no handler is not an error: Execute reports the zero result.
// Callers must treat "no handler" and "no data" identically.
//
// # Building mappers
//
// Register handlers with [Map], which checks the handler signature against
// the action's result type at compile time:
//
//	b := store.NewBuilder()
//	store.Map(b, func(ctx context.Context, a store.GetUserByID) (*entity.User, error) {
//	   ...
//	})
//	m, err := b.Build()
//
// [Aggregate] combines mappers and fails if any action type is mapped more
// than once. [MergeFirst] combines mappers preferring the earliest handler
// for each type, for deliberate layered fallback.
//
// # Layouts
//
// A [Layout] bundles the handlers of one storage backend. [New] builds a
// store from a layout, and [FromLayoutSwitcher] routes actions to one of
// several layouts by predicate:
//
//	s, err := store.FromLayoutSwitcher(shared,
//	   store.When(store.GuildIn(isolated...), private),
//	)
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/mds/mapset"
)

// A Store executes actions by routing them to handlers. A Store is safe for
// concurrent use if its handlers are. The zero Store has no handlers.
type Store struct {
	conds    []Condition
	fallback *Mapper
}

// New constructs a store from the handlers of a single layout.
func New(l Layout) (*Store, error) { return FromLayouts(l) }

// FromLayouts constructs a store from the aggregated handlers of the given
// layouts. It reports an error if two layouts map the same action type.
func FromLayouts(ls ...Layout) (*Store, error) {
	m, err := layoutsMapper(ls)
	if err != nil {
		return nil, err
	}
	return &Store{fallback: m}, nil
}

// FromMapper constructs a store that routes every action through m.
func FromMapper(m *Mapper) *Store { return &Store{fallback: m} }

// NoOp returns a store that has no handlers.
func NoOp() *Store { return &Store{} }

func layoutsMapper(ls []Layout) (*Mapper, error) {
	parts := make([]*Mapper, 0, len(ls))
	for _, l := range ls {
		if l == nil {
			continue
		}
		m, err := LayoutMapper(l)
		if err != nil {
			return nil, fmt.Errorf("layout %T: %w", l, err)
		}
		parts = append(parts, m)
	}
	return Aggregate(parts...)
}

// A Condition pairs a predicate on actions with the layouts that handle the
// actions it matches. Use When to construct one.
type Condition struct {
	match   func(action any) bool
	layouts []Layout
	mapper  *Mapper
}

// When returns a condition that routes actions matching match to the
// aggregated handlers of layouts.
func When(match func(action any) bool, layouts ...Layout) Condition {
	return Condition{match: match, layouts: layouts}
}

// FromLayoutSwitcher constructs a store that routes each action to the first
// condition whose predicate matches it, or to fallback if none does. The
// fallback may be nil. The mapper of the matching condition alone decides
// the outcome: if it has no handler for the action, the result is empty.
//
// Session-wide actions ([Ready], [InvalidateShard] and [UserUpdate]) are not
// routed by predicate. They are executed by the fallback and by every
// condition that handles them, so that each layout tracks the shards and
// guilds it holds.
//
// It reports an error if the layouts of any one condition, or the fallback,
// map the same action type more than once.
func FromLayoutSwitcher(fallback Layout, conds ...Condition) (*Store, error) {
	s := &Store{conds: make([]Condition, len(conds))}
	for i, c := range conds {
		if c.match == nil {
			return nil, fmt.Errorf("condition %d has no predicate", i)
		}
		m, err := layoutsMapper(c.layouts)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		s.conds[i] = Condition{match: c.match, mapper: m}
	}
	if fallback != nil {
		m, err := LayoutMapper(fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		s.fallback = m
	}
	return s, nil
}

// route returns the mapper responsible for action.
func (s *Store) route(action any) *Mapper {
	for _, c := range s.conds {
		if c.match(action) {
			return c.mapper
		}
	}
	return s.fallback
}

// mappers returns the mappers that execute action, in order.
func (s *Store) mappers(action any) []*Mapper {
	if _, ok := action.(sessionWide); !ok || len(s.conds) == 0 {
		return []*Mapper{s.route(action)}
	}
	out := []*Mapper{s.fallback}
	for _, c := range s.conds {
		if !slices.Contains(out, c.mapper) {
			out = append(out, c.mapper)
		}
	}
	return out
}

// Handles reports whether s has a handler for action.
func (s *Store) Handles(action any) bool {
	if s == nil {
		return false
	}
	return slices.ContainsFunc(s.mappers(action), func(m *Mapper) bool { return m.Handles(action) })
}

// Dispatch executes action and returns its result. If no handler is mapped
// for action, Dispatch reports (nil, false, nil). A panic in the handler is
// recovered and reported as an error.
//
// A session-wide action runs on every mapper that handles it. The result is
// that of the first of them, and their errors are joined.
func (s *Store) Dispatch(ctx context.Context, action any) (any, bool, error) {
	if s == nil {
		return nil, false, nil
	}
	var result any
	var handled bool
	var errs []error
	for _, m := range s.mappers(action) {
		h, arg, ok := m.lookup(action)
		if !ok {
			continue
		}
		v, err := call(ctx, h, action, arg)
		if !handled {
			result, handled = v, true
		}
		errs = append(errs, err)
	}
	if len(errs) == 1 {
		return result, handled, errs[0]
	}
	return result, handled, errors.Join(errs...)
}

func call(ctx context.Context, h Handler, action, arg any) (_ any, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("handler for %T panicked (recovered): %v", action, x)
		}
	}()
	return h(ctx, arg)
}

// Execute executes action on s and returns its result. If no handler is
// mapped for action, Execute returns the zero result and no error.
func Execute[R any](ctx context.Context, s *Store, action Action[R]) (R, error) {
	var zero R
	v, ok, err := s.Dispatch(ctx, action)
	if err != nil || !ok {
		return zero, err
	}
	r, ok := v.(R)
	if !ok && v != nil {
		return zero, fmt.Errorf("handler for %T returned %T, want %v", action, v, reflect.TypeFor[R]())
	}
	return r, nil
}

// GuildIn returns a predicate matching guild-scoped actions for any of the
// given guild IDs.
func GuildIn(ids ...entity.ID) func(any) bool {
	set := mapset.New(ids...)
	return func(action any) bool {
		gs, ok := action.(GuildScoped)
		return ok && set.Has(gs.GuildScope())
	}
}

// ShardIn returns a predicate matching gateway actions received by any of
// the given shards.
func ShardIn(shards ...int) func(any) bool {
	set := mapset.New(shards...)
	return func(action any) bool {
		ss, ok := action.(ShardScoped)
		return ok && set.Has(ss.ShardIndex())
	}
}

// ActionIs returns a predicate matching actions of concrete type A.
func ActionIs[A any]() func(any) bool {
	return func(action any) bool {
		_, ok := action.(A)
		return ok
	}
}
