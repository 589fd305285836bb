// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Returns is embedded in an action type to record the type of its result.
// An action type A with result R satisfies Action[R] by embedding Returns[R]:
//
//	type GetWidget struct {
//	   store.Returns[*Widget]
//	   ID entity.ID
//	}
type Returns[R any] struct{}

func (Returns[R]) result(*R) {}

// An Action is a typed request routed through a Store to a handler. The
// concrete type of an action selects its handler, and R is the type of the
// value the handler returns.
type Action[R any] interface {
	result(*R)
}

// None is the result type of actions that report nothing but an error.
type None struct{}

// A Handler is the type-erased form of an action handler.
type Handler func(ctx context.Context, action any) (any, error)

// ErrDuplicate is reported when two handlers are registered for the same
// action type. The concrete error has type *DuplicateError.
var ErrDuplicate = errors.New("duplicate action mapping")

// DuplicateError reports the action types that were mapped more than once.
type DuplicateError struct {
	Types []reflect.Type
}

func (e *DuplicateError) Error() string {
	names := make([]string, len(e.Types))
	for i, t := range e.Types {
		names[i] = t.String()
	}
	return fmt.Sprintf("%v: %s", ErrDuplicate, strings.Join(names, ", "))
}

// Unwrap supports errors.Is for ErrDuplicate.
func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// A Mapper is an immutable routing table from action types to handlers.
// Construct one with a Builder, or by combining mappers with Aggregate or
// MergeFirst. A nil *Mapper is valid and empty.
type Mapper struct {
	handlers map[reflect.Type]Handler
}

// EmptyMapper returns a mapper with no handlers.
func EmptyMapper() *Mapper { return &Mapper{handlers: map[reflect.Type]Handler{}} }

// Len reports the number of action types mapped by m.
func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.handlers)
}

// Types returns the action types mapped by m, ordered by name.
func (m *Mapper) Types() []reflect.Type {
	if m == nil {
		return nil
	}
	out := make([]reflect.Type, 0, len(m.handlers))
	for t := range m.handlers {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b reflect.Type) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

// Handles reports whether m has a handler for the concrete type of action.
func (m *Mapper) Handles(action any) bool {
	_, _, ok := m.lookup(action)
	return ok
}

// lookup finds the handler for action. An action passed by pointer is
// matched against its pointer type first, then its element type.
func (m *Mapper) lookup(action any) (Handler, any, bool) {
	if m == nil || action == nil {
		return nil, nil, false
	}
	t := reflect.TypeOf(action)
	if h, ok := m.handlers[t]; ok {
		return h, action, true
	}
	if t.Kind() == reflect.Pointer {
		v := reflect.ValueOf(action)
		if v.IsNil() {
			return nil, nil, false
		}
		if h, ok := m.handlers[t.Elem()]; ok {
			return h, v.Elem().Interface(), true
		}
	}
	return nil, nil, false
}

// A Builder accumulates handler registrations for a Mapper. A zero Builder
// is ready for use. Use Map to register handlers, then Build.
type Builder struct {
	handlers map[reflect.Type]Handler
	dups     []reflect.Type
}

// NewBuilder returns a new empty builder.
func NewBuilder() *Builder { return new(Builder) }

// Map registers h as the handler for actions of type A in b, and returns b
// to allow chaining. Registering a second handler for the same type is an
// error reported by Build.
func Map[A Action[R], R any](b *Builder, h func(context.Context, A) (R, error)) *Builder {
	return b.add(reflect.TypeFor[A](), func(ctx context.Context, action any) (any, error) {
		return h(ctx, action.(A))
	})
}

// MapHandler registers an untyped handler for the type of the example
// action. It is intended for adapters that wrap existing handlers; prefer
// Map, which checks the handler signature at compile time.
func (b *Builder) MapHandler(example any, h Handler) *Builder {
	return b.add(reflect.TypeOf(example), h)
}

func (b *Builder) add(t reflect.Type, h Handler) *Builder {
	if b.handlers == nil {
		b.handlers = make(map[reflect.Type]Handler)
	}
	if _, ok := b.handlers[t]; ok {
		b.dups = append(b.dups, t)
		return b
	}
	b.handlers[t] = h
	return b
}

// Build returns a mapper with the handlers registered in b. It reports a
// *DuplicateError if any action type was registered more than once. The
// builder may not be reused after Build.
func (b *Builder) Build() (*Mapper, error) {
	if len(b.dups) != 0 {
		return nil, &DuplicateError{Types: b.dups}
	}
	m := &Mapper{handlers: b.handlers}
	if m.handlers == nil {
		m.handlers = make(map[reflect.Type]Handler)
	}
	b.handlers = nil
	return m, nil
}

// MustBuild is as Build, but panics on error.
func (b *Builder) MustBuild() *Mapper {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// Aggregate combines the given mappers into one. It reports a
// *DuplicateError if any action type is mapped by more than one input. Nil
// inputs are ignored.
func Aggregate(ms ...*Mapper) (*Mapper, error) {
	out := EmptyMapper()
	var dups []reflect.Type
	for _, m := range ms {
		if m == nil {
			continue
		}
		for t, h := range m.handlers {
			if _, ok := out.handlers[t]; ok {
				dups = append(dups, t)
				continue
			}
			out.handlers[t] = h
		}
	}
	if len(dups) != 0 {
		slices.SortFunc(dups, func(a, b reflect.Type) int { return cmp.Compare(a.String(), b.String()) })
		return nil, &DuplicateError{Types: dups}
	}
	return out, nil
}

// MergeFirst combines the given mappers into one. Where more than one input
// maps an action type, the handler from the earliest input is kept. Nil
// inputs are ignored.
func MergeFirst(ms ...*Mapper) *Mapper {
	out := EmptyMapper()
	for _, m := range ms {
		if m == nil {
			continue
		}
		for t, h := range m.handlers {
			if _, ok := out.handlers[t]; !ok {
				out.handlers[t] = h
			}
		}
	}
	return out
}
