// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/store"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

type actionA struct {
	store.Returns[string]
	GuildID entity.ID
}

func (a actionA) GuildScope() entity.ID { return a.GuildID }

type actionB struct{ store.Returns[int] }

type actionC struct{ store.Returns[string] }

// customLayout is a layout contributing only custom actions.
type customLayout struct{ m *store.Mapper }

func (customLayout) DataAccessor() store.DataAccessor             { return nil }
func (customLayout) GatewayDataUpdater() store.GatewayDataUpdater { return nil }
func (c customLayout) CustomActions() *store.Mapper               { return c.m }

func mapA(tag string) *store.Mapper {
	b := store.NewBuilder()
	store.Map(b, func(_ context.Context, a actionA) (string, error) { return tag, nil })
	return b.MustBuild()
}

func mapB(n int) *store.Mapper {
	b := store.NewBuilder()
	store.Map(b, func(context.Context, actionB) (int, error) { return n, nil })
	return b.MustBuild()
}

func TestBuilder(t *testing.T) {
	b := store.NewBuilder()
	store.Map(b, func(context.Context, actionA) (string, error) { return "one", nil })
	store.Map(b, func(context.Context, actionA) (string, error) { return "two", nil })
	m, err := b.Build()
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("Build with duplicate: got %v, %v; want %v", m, err, store.ErrDuplicate)
	}
	var de *store.DuplicateError
	if !errors.As(err, &de) {
		t.Fatalf("Build error %T is not a *DuplicateError", err)
	}
	var names []string
	for _, typ := range de.Types {
		names = append(names, typ.String())
	}
	if diff := cmp.Diff([]string{reflect.TypeFor[actionA]().String()}, names); diff != "" {
		t.Errorf("Duplicate types (-want, +got):\n%s", diff)
	}
	mtest.MustPanic(t, func() {
		b := store.NewBuilder()
		store.Map(b, func(context.Context, actionB) (int, error) { return 0, nil })
		store.Map(b, func(context.Context, actionB) (int, error) { return 1, nil })
		b.MustBuild()
	})
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("Disjoint", func(t *testing.T) {
		m, err := store.Aggregate(mapA("a"), nil, mapB(7))
		if err != nil {
			t.Fatalf("Aggregate: unexpected error: %v", err)
		}
		if m.Len() != 2 {
			t.Errorf("Len: got %d, want 2", m.Len())
		}
		s := store.FromMapper(m)
		if got, err := store.Execute(ctx, s, actionA{}); err != nil || got != "a" {
			t.Errorf("Execute A: got %q, %v; want a", got, err)
		}
		if got, err := store.Execute(ctx, s, actionB{}); err != nil || got != 7 {
			t.Errorf("Execute B: got %d, %v; want 7", got, err)
		}
	})

	t.Run("Overlap", func(t *testing.T) {
		m, err := store.Aggregate(mapA("a"), mapB(1), mapA("b"))
		if err == nil {
			t.Fatalf("Aggregate: got %v, want error", m)
		}
		if !errors.Is(err, store.ErrDuplicate) {
			t.Errorf("Aggregate: got %v, want %v", err, store.ErrDuplicate)
		}
		t.Logf("Error OK: %v", err)
	})

	t.Run("MergeFirst", func(t *testing.T) {
		s := store.FromMapper(store.MergeFirst(mapA("first"), mapA("second"), mapB(3)))
		if got, _ := store.Execute(ctx, s, actionA{}); got != "first" {
			t.Errorf("Execute A: got %q, want first", got)
		}
		if got, _ := store.Execute(ctx, s, actionB{}); got != 3 {
			t.Errorf("Execute B: got %d, want 3", got)
		}
	})
}

func TestUnmapped(t *testing.T) {
	ctx := context.Background()
	for _, s := range []*store.Store{nil, store.NoOp(), store.FromMapper(mapB(1))} {
		got, err := store.Execute(ctx, s, actionC{})
		if err != nil || got != "" {
			t.Errorf("Execute C: got %q, %v; want empty", got, err)
		}
		if _, ok, err := s.Dispatch(ctx, actionC{}); ok || err != nil {
			t.Errorf("Dispatch C: got ok=%v, err=%v; want false, nil", ok, err)
		}
		if s.Handles(actionC{}) {
			t.Error("Handles C: got true, want false")
		}
	}
}

func TestPointerAction(t *testing.T) {
	s := store.FromMapper(mapA("ptr"))
	got, err := store.Execute(context.Background(), s, &actionA{})
	if err != nil || got != "ptr" {
		t.Errorf("Execute *A: got %q, %v; want ptr", got, err)
	}
	var nilA *actionA
	if s.Handles(nilA) {
		t.Error("Handles nil pointer: got true")
	}
}

func TestPanicRecovered(t *testing.T) {
	b := store.NewBuilder()
	store.Map(b, func(context.Context, actionC) (string, error) { panic("boom") })
	s := store.FromMapper(b.MustBuild())
	if got, err := store.Execute(context.Background(), s, actionC{}); err == nil {
		t.Errorf("Execute: got %q, want error", got)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestLayoutSwitcher(t *testing.T) {
	ctx := context.Background()
	cond := customLayout{mapA("conditional")}
	fallback := customLayout{store.MergeFirst(mapB(99), mapA("fallback"))}

	s, err := store.FromLayoutSwitcher(fallback,
		store.When(store.ActionIs[actionA](), cond),
	)
	if err != nil {
		t.Fatalf("FromLayoutSwitcher: %v", err)
	}
	if got, _ := store.Execute(ctx, s, actionA{}); got != "conditional" {
		t.Errorf("Execute A: got %q, want conditional", got)
	}
	if got, _ := store.Execute(ctx, s, actionB{}); got != 99 {
		t.Errorf("Execute B: got %d, want 99", got)
	}
	if got, err := store.Execute(ctx, s, actionC{}); err != nil || got != "" {
		t.Errorf("Execute C: got %q, %v; want empty", got, err)
	}

	t.Run("GuildIn", func(t *testing.T) {
		s, err := store.FromLayoutSwitcher(fallback,
			store.When(store.GuildIn(10, 20), cond),
		)
		if err != nil {
			t.Fatalf("FromLayoutSwitcher: %v", err)
		}
		for _, tc := range []struct {
			guild entity.ID
			want  string
		}{{10, "conditional"}, {20, "conditional"}, {30, "fallback"}} {
			if got, _ := store.Execute(ctx, s, actionA{GuildID: tc.guild}); got != tc.want {
				t.Errorf("Execute A(guild %v): got %q, want %q", tc.guild, got, tc.want)
			}
		}
	})

	t.Run("NoFallback", func(t *testing.T) {
		s, err := store.FromLayoutSwitcher(nil, store.When(store.GuildIn(1), cond))
		if err != nil {
			t.Fatalf("FromLayoutSwitcher: %v", err)
		}
		if got, err := store.Execute(ctx, s, actionA{GuildID: 2}); err != nil || got != "" {
			t.Errorf("Execute unmatched: got %q, %v; want empty", got, err)
		}
	})

	t.Run("SessionWide", func(t *testing.T) {
		var got []string
		mapInvalidate := func(tag string) *store.Mapper {
			b := store.NewBuilder()
			store.Map(b, func(context.Context, store.InvalidateShard) (store.None, error) {
				got = append(got, tag)
				return store.None{}, nil
			})
			return b.MustBuild()
		}
		s, err := store.FromLayoutSwitcher(customLayout{mapInvalidate("fallback")},
			store.When(store.GuildIn(1), customLayout{mapInvalidate("one")}),
			store.When(store.ShardIn(0), cond),
			store.When(store.GuildIn(2), customLayout{mapInvalidate("two")}),
		)
		if err != nil {
			t.Fatalf("FromLayoutSwitcher: %v", err)
		}
		if !s.Handles(store.InvalidateShard{}) {
			t.Error("Handles InvalidateShard: got false, want true")
		}
		if _, err := store.Execute(ctx, s, store.InvalidateShard{Shard: 0}); err != nil {
			t.Fatalf("Execute InvalidateShard: %v", err)
		}
		if diff := cmp.Diff([]string{"fallback", "one", "two"}, got); diff != "" {
			t.Errorf("Handlers run (-want, +got):\n%s", diff)
		}
	})

	t.Run("SameBucketDuplicate", func(t *testing.T) {
		s, err := store.FromLayoutSwitcher(fallback,
			store.When(store.ActionIs[actionA](), cond, customLayout{mapA("other")}),
		)
		if !errors.Is(err, store.ErrDuplicate) {
			t.Errorf("FromLayoutSwitcher: got %v, %v; want %v", s, err, store.ErrDuplicate)
		}
	})

	t.Run("SeparateBuckets", func(t *testing.T) {
		_, err := store.FromLayoutSwitcher(fallback,
			store.When(store.GuildIn(1), cond),
			store.When(store.GuildIn(2), customLayout{mapA("other")}),
		)
		if err != nil {
			t.Errorf("FromLayoutSwitcher: unexpected error: %v", err)
		}
	})
}

func TestFlagSet(t *testing.T) {
	fs := store.AllFlags().Without(store.FlagPresence, store.FlagEmoji)
	if fs.Has(store.FlagPresence) || fs.Has(store.FlagEmoji) {
		t.Errorf("Without: %v still has removed flags", fs)
	}
	if !fs.Has(store.FlagGuild) {
		t.Errorf("Without: %v is missing guild", fs)
	}
	if got, want := store.Flags(store.FlagGuild, store.FlagUser).String(), "[guild user]"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}
