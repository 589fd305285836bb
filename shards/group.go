// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package shards provides support code for running and testing sessions
// across the shards of a gateway client.
package shards

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/gateway"
	"github.com/creachadair/taskgroup"
)

// A Group runs one session for each shard of a client.
type Group struct {
	sessions []*gateway.Session
}

// Shards returns the identities of the given shard indexes out of count
// shards. If no indexes are given, it returns every shard in order.
func Shards(count int, ids ...int) ([]gateway.ShardInfo, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid shard count %d", count)
	}
	if len(ids) == 0 {
		ids = make([]int, count)
		for i := range ids {
			ids[i] = i
		}
	}
	seen := make(map[int]bool)
	out := make([]gateway.ShardInfo, len(ids))
	for i, id := range ids {
		if id < 0 || id >= count {
			return nil, fmt.Errorf("shard %d out of range for %d shards", id, count)
		} else if seen[id] {
			return nil, fmt.Errorf("duplicate shard %d", id)
		}
		seen[id] = true
		out[i] = gateway.ShardInfo{Index: id, Count: count}
	}
	return out, nil
}

// NewGroup constructs sessions for every one of count shards. The options for
// each shard are produced by calling newOpts with the shard identity; the
// Shard field of the result is overwritten.
func NewGroup(count int, newOpts func(gateway.ShardInfo) gateway.Options) (*Group, error) {
	infos, err := Shards(count)
	if err != nil {
		return nil, err
	}
	return NewGroupOf(infos, newOpts)
}

// NewGroupOf constructs sessions for the given shards, as NewGroup. Session i
// of the group runs shards[i].
func NewGroupOf(shards []gateway.ShardInfo, newOpts func(gateway.ShardInfo) gateway.Options) (*Group, error) {
	if len(shards) == 0 {
		return nil, errors.New("no shards")
	}
	g := &Group{sessions: make([]*gateway.Session, len(shards))}
	for i, info := range shards {
		opts := newOpts(info)
		opts.Shard = info
		s, err := gateway.NewSession(opts)
		if err != nil {
			return nil, fmt.Errorf("shard %v: %w", info, err)
		}
		g.sessions[i] = s
	}
	return g, nil
}

// Len reports the number of shards in g.
func (g *Group) Len() int { return len(g.sessions) }

// Session returns the ith session of g.
func (g *Group) Session(i int) *gateway.Session { return g.sessions[i] }

// Sessions returns the sessions of g, in the order of their shards.
func (g *Group) Sessions() []*gateway.Session { return g.sessions }

// OnEvent registers f with every session of g. It returns g to permit
// chaining.
func (g *Group) OnEvent(f func(gateway.Event)) *Group {
	for _, s := range g.sessions {
		s.OnEvent(f)
	}
	return g
}

// OnDispatch registers f with every session of g. It returns g to permit
// chaining.
func (g *Group) OnDispatch(f func(*gateway.Dispatch)) *Group {
	for _, s := range g.sessions {
		s.OnDispatch(f)
	}
	return g
}

// Start starts every session of g. If any session fails to start, the
// sessions already started are stopped.
func (g *Group) Start(ctx context.Context) error {
	for i, s := range g.sessions {
		if err := s.Start(ctx); err != nil {
			for _, t := range g.sessions[:i] {
				t.Stop()
			}
			return fmt.Errorf("start shard %v: %w", s.Shard(), err)
		}
	}
	return nil
}

// each calls f concurrently for every session of g, and returns the errors
// reported, joined.
func (g *Group) each(f func(*gateway.Session) error) error {
	var μ sync.Mutex
	var errs []error
	tg := taskgroup.New(nil)
	for _, s := range g.sessions {
		tg.Go(func() error {
			if err := f(s); err != nil {
				μ.Lock()
				defer μ.Unlock()
				errs = append(errs, fmt.Errorf("shard %v: %w", s.Shard(), err))
			}
			return nil
		})
	}
	tg.Wait()
	return errors.Join(errs...)
}

// Wait blocks until every session of g has exited, and reports the errors
// that caused them to stop.
func (g *Group) Wait() error { return g.each((*gateway.Session).Wait) }

// Stop stops every session of g and blocks until they have exited.
func (g *Group) Stop() error { return g.each((*gateway.Session).Stop) }

// Close closes every session of g, as [gateway.Session.Close].
func (g *Group) Close(allowResume bool) error {
	return g.each(func(s *gateway.Session) error { return s.Close(allowResume) })
}
