// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package memory implements an in-memory state backend.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/creachadair/gateway/state"
	"github.com/creachadair/gateway/store"
)

// Factory provides in-memory backends. It returns the same backend each time
// a category is requested. A zero Factory is ready for use.
type Factory struct {
	μ      sync.Mutex
	stores map[store.Flag]*Store
}

// NewFactory constructs a new empty factory.
func NewFactory() *Factory { return new(Factory) }

// Provide implements the [state.Factory] interface.
func (f *Factory) Provide(_ context.Context, c store.Flag) (state.Backend, error) {
	f.μ.Lock()
	defer f.μ.Unlock()
	if s, ok := f.stores[c]; ok {
		return s, nil
	}
	if f.stores == nil {
		f.stores = make(map[store.Flag]*Store)
	}
	s := New()
	f.stores[c] = s
	return s, nil
}

// Store is an in-memory backend. It is safe for concurrent use. A zero Store
// is ready for use.
type Store struct {
	μ sync.RWMutex
	m map[state.Key]any
}

var _ state.Backend = (*Store)(nil)

// New constructs a new empty store.
func New() *Store { return &Store{m: make(map[state.Key]any)} }

// Len reports the number of values in s.
func (s *Store) Len() int {
	s.μ.RLock()
	defer s.μ.RUnlock()
	return len(s.m)
}

// sortedLocked returns the keys of s in order. The caller must hold a lock.
func (s *Store) sortedLocked(keep func(state.Key) bool) []state.Key {
	keys := make([]state.Key, 0, len(s.m))
	for k := range s.m {
		if keep == nil || keep(k) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, state.Key.Compare)
	return keys
}

func (s *Store) Save(_ context.Context, key state.Key, value any) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.m == nil {
		s.m = make(map[state.Key]any)
	}
	s.m[key] = value
	return nil
}

func (s *Store) Find(_ context.Context, key state.Key) (any, bool, error) {
	s.μ.RLock()
	defer s.μ.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Store) FindInRange(_ context.Context, lo, hi state.Key) ([]any, error) {
	s.μ.RLock()
	defer s.μ.RUnlock()
	keys := s.sortedLocked(func(k state.Key) bool { return k.InRange(lo, hi) })
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = s.m[k]
	}
	return out, nil
}

func (s *Store) Count(context.Context) (int64, error) { return int64(s.Len()), nil }

func (s *Store) Keys(context.Context) ([]state.Key, error) {
	s.μ.RLock()
	defer s.μ.RUnlock()
	return s.sortedLocked(nil), nil
}

func (s *Store) Values(context.Context) ([]any, error) {
	s.μ.RLock()
	defer s.μ.RUnlock()
	keys := s.sortedLocked(nil)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = s.m[k]
	}
	return out, nil
}

func (s *Store) Entries(context.Context) ([]state.Entry, error) {
	s.μ.RLock()
	defer s.μ.RUnlock()
	keys := s.sortedLocked(nil)
	out := make([]state.Entry, len(keys))
	for i, k := range keys {
		out[i] = state.Entry{Key: k, Value: s.m[k]}
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key state.Key) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Store) DeleteInRange(_ context.Context, lo, hi state.Key) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	for k := range s.m {
		if k.InRange(lo, hi) {
			delete(s.m, k)
		}
	}
	return nil
}

func (s *Store) Invalidate(context.Context) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	clear(s.m)
	return nil
}
