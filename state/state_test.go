// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/gateway/backend/memory"
	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/intent"
	"github.com/creachadair/gateway/state"
	"github.com/creachadair/gateway/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newHolder(t *testing.T, intents intent.Set) *state.Holder {
	t.Helper()
	h, err := state.NewHolder(context.Background(), memory.NewFactory(), intents, nil)
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	return h
}

func TestGating(t *testing.T) {
	h := newHolder(t, intent.Of(intent.Guilds, intent.GuildMessages))
	for _, c := range []store.Flag{
		store.FlagChannel, store.FlagGuild, store.FlagMember, store.FlagMessage, store.FlagRole, store.FlagUser,
	} {
		if !h.Active(c) {
			t.Errorf("Category %v is not active", c)
		}
	}
	for _, c := range []store.Flag{store.FlagEmoji, store.FlagPresence, store.FlagVoiceState} {
		if h.Active(c) {
			t.Errorf("Category %v is active without its intent", c)
		}
	}

	all := newHolder(t, intent.All())
	if got := all.Flags(); got != store.AllFlags() {
		t.Errorf("Flags with all intents: got %v, want %v", got, store.AllFlags())
	}
}

func TestNoopPresence(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, intent.NonPrivileged())
	ps := h.Presences()
	if ps.Active() {
		t.Fatal("Presence store is active without GUILD_PRESENCES")
	}
	key := state.ScopedKey(1, 2)
	if err := ps.Save(ctx, key, &entity.Presence{GuildID: 1, Status: "online"}); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}
	if p, err := ps.Find(ctx, key); err != nil || p != nil {
		t.Errorf("Find: got %+v, %v; want nil, nil", p, err)
	}
	if n, err := ps.Count(ctx); err != nil || n != 0 {
		t.Errorf("Count: got %d, %v; want 0", n, err)
	}
	if vs, err := ps.FindInScope(ctx, 1); err != nil || len(vs) != 0 {
		t.Errorf("FindInScope: got %v, %v; want empty", vs, err)
	}
	if err := ps.Invalidate(ctx); err != nil {
		t.Errorf("Invalidate: %v", err)
	}
}

func TestInvalidateStores(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, intent.Of(intent.Guilds))
	if err := h.Guilds().Save(ctx, state.IDKey(5), &entity.Guild{ID: 5}); err != nil {
		t.Fatal(err)
	}
	if err := h.Users().Save(ctx, state.IDKey(6), &entity.User{ID: 6}); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := h.InvalidateStores(ctx); err != nil {
			t.Fatalf("InvalidateStores: %v", err)
		}
	}
	v := h.View()
	if n, _ := v.Guilds().Count(ctx); n != 0 {
		t.Errorf("Guild count after invalidate: %d", n)
	}
	if n, _ := v.Users().Count(ctx); n != 0 {
		t.Errorf("User count after invalidate: %d", n)
	}
}

func TestProvideError(t *testing.T) {
	bad := state.FactoryFunc(func(_ context.Context, c store.Flag) (state.Backend, error) {
		if c == store.FlagRole {
			return nil, errors.New("no roles for you")
		}
		return memory.New(), nil
	})
	if h, err := state.NewHolder(context.Background(), bad, intent.All(), nil); err == nil {
		t.Errorf("NewHolder: got %+v, want error", h)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestView(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, intent.All())
	v := h.View()

	// The view must not expose mutating methods.
	if _, ok := v.Channels().(interface {
		Save(context.Context, state.Key, *entity.Channel) error
	}); ok {
		t.Error("View reader exposes Save")
	}

	if err := h.Roles().Save(ctx, state.ScopedKey(1, 10), &entity.Role{GuildID: 1, ID: 10, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Roles().Save(ctx, state.ScopedKey(2, 20), &entity.Role{GuildID: 2, ID: 20, Name: "b"}); err != nil {
		t.Fatal(err)
	}
	got, err := v.Roles().FindInScope(ctx, 1)
	if err != nil {
		t.Fatalf("FindInScope: %v", err)
	}
	if diff := cmp.Diff([]*entity.Role{{GuildID: 1, ID: 10, Name: "a"}}, got); diff != "" {
		t.Errorf("Roles in guild 1 (-want, +got):\n%s", diff)
	}
	items, err := v.Roles().Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(items) != 2 || items[1].Key != state.ScopedKey(2, 20) || items[1].Value.Name != "b" {
		t.Errorf("Entries: got %+v", items)
	}
}

func newStore(t *testing.T, intents intent.Set) (*store.Store, *state.Layout) {
	t.Helper()
	l := state.NewLayout(newHolder(t, intents))
	s, err := store.New(l)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s, l
}

func mustExec[R any](t *testing.T, s *store.Store, a store.Action[R]) R {
	t.Helper()
	r, err := store.Execute(context.Background(), s, a)
	if err != nil {
		t.Fatalf("Execute %T: %v", a, err)
	}
	return r
}

func testGuild() entity.Guild {
	return entity.Guild{
		ID: 100, Name: "test", OwnerID: 1, MemberCount: 2,
		Roles:    []entity.Role{{ID: 100, Name: "@everyone"}, {ID: 101, Name: "mod"}},
		Emojis:   []entity.Emoji{{ID: 300, Name: "wave"}},
		Channels: []entity.Channel{{ID: 200, Name: "general"}, {ID: 201, Name: "random"}},
		Members: []entity.Member{
			{User: &entity.User{ID: 1, Username: "owner"}, Roles: []entity.ID{101}},
			{User: &entity.User{ID: 2, Username: "guest"}},
		},
		Presences:   []entity.Presence{{User: entity.PartialRef{ID: 1}, Status: "online"}},
		VoiceStates: []entity.VoiceState{{UserID: 2, ChannelID: 201, SessionID: "v"}},
	}
}

func TestLayoutGuildLifecycle(t *testing.T) {
	s, l := newStore(t, intent.All())

	mustExec(t, s, store.Ready{Shard: 0, SessionID: "s", User: entity.User{ID: 9, Username: "bot"}, GuildIDs: []entity.ID{100}})
	mustExec(t, s, store.GuildCreate{Shard: 0, Guild: testGuild()})

	g := mustExec(t, s, store.GetGuildByID{GuildID: 100})
	if g == nil || g.Name != "test" {
		t.Fatalf("GetGuildByID: got %+v", g)
	}
	if g.Members != nil || g.Channels != nil {
		t.Errorf("Guild record retains content: %+v", g)
	}
	if n := mustExec(t, s, store.CountInGuild{Category: store.FlagChannel, GuildID: 100}); n != 2 {
		t.Errorf("Channels in guild: got %d, want 2", n)
	}
	if n := mustExec(t, s, store.CountInGuild{Category: store.FlagMember, GuildID: 100}); n != 2 {
		t.Errorf("Members in guild: got %d, want 2", n)
	}
	if n := mustExec(t, s, store.CountTotal{Category: store.FlagUser}); n != 3 {
		t.Errorf("Users: got %d, want 3", n)
	}
	m := mustExec(t, s, store.GetMemberByID{GuildID: 100, UserID: 1})
	if m == nil || m.GuildID != 100 || m.UserID != 1 {
		t.Errorf("GetMemberByID: got %+v", m)
	}
	if self := mustExec(t, s, store.GetSelfUser{}); self == nil || self.Username != "bot" {
		t.Errorf("GetSelfUser: got %+v", self)
	}
	vs := mustExec(t, s, store.GetVoiceStatesInChannel{GuildID: 100, ChannelID: 201})
	if len(vs) != 1 || vs[0].UserID != 2 {
		t.Errorf("GetVoiceStatesInChannel: got %+v", vs)
	}

	mustExec(t, s, store.MessageCreate{Message: entity.Message{ID: 1, ChannelID: 200, GuildID: 100, Content: "hi"}})
	old := mustExec(t, s, store.MessageUpdate{Message: entity.Message{ID: 1, ChannelID: 200, Content: "hello"}})
	if old == nil || old.Content != "hi" {
		t.Errorf("MessageUpdate old: got %+v", old)
	}
	msg := mustExec(t, s, store.GetMessageByID{ChannelID: 200, MessageID: 1})
	if msg == nil || msg.Content != "hello" || msg.GuildID != 100 {
		t.Errorf("GetMessageByID after update: got %+v", msg)
	}

	mustExec(t, s, store.GuildMemberAdd{GuildID: 100, Member: entity.Member{User: &entity.User{ID: 3}}})
	if g := mustExec(t, s, store.GetGuildByID{GuildID: 100}); g.MemberCount != 3 {
		t.Errorf("MemberCount after add: got %d, want 3", g.MemberCount)
	}
	if old := mustExec(t, s, store.GuildMemberRemove{GuildID: 100, User: entity.User{ID: 1}}); old == nil {
		t.Error("GuildMemberRemove: no previous member")
	}
	if p := mustExec(t, s, store.GetPresenceByID{GuildID: 100, UserID: 1}); p != nil {
		t.Errorf("Presence after member remove: got %+v", p)
	}

	if diff := cmp.Diff([]entity.ID{100}, l.ShardGuilds(0)); diff != "" {
		t.Errorf("ShardGuilds (-want, +got):\n%s", diff)
	}

	mustExec(t, s, store.GuildDelete{GuildID: 100, Unavailable: true})
	if g := mustExec(t, s, store.GetGuildByID{GuildID: 100}); g == nil || !g.Unavailable {
		t.Errorf("Guild after outage: got %+v", g)
	}
	if n := mustExec(t, s, store.CountTotal{Category: store.FlagMessage}); n != 0 {
		t.Errorf("Messages after guild delete: got %d", n)
	}
	mustExec(t, s, store.GuildDelete{GuildID: 100})
	if g := mustExec(t, s, store.GetGuildByID{GuildID: 100}); g != nil {
		t.Errorf("Guild after delete: got %+v", g)
	}
}

func TestLayoutIntentGated(t *testing.T) {
	s, _ := newStore(t, intent.Of(intent.Guilds, intent.GuildMembers))

	mustExec(t, s, store.GuildCreate{Guild: testGuild()})
	if s.Handles(store.GetPresenceByID{}) {
		t.Error("Presence query is mapped without GUILD_PRESENCES")
	}
	if p := mustExec(t, s, store.GetPresencesInGuild{GuildID: 100}); p != nil {
		t.Errorf("GetPresencesInGuild: got %+v, want nil", p)
	}
	if n := mustExec(t, s, store.CountTotal{Category: store.FlagPresence}); n != 0 {
		t.Errorf("Presence count: got %d, want 0", n)
	}
	if _, ok, err := s.Dispatch(context.Background(), store.PresenceUpdate{}); ok || err != nil {
		t.Errorf("PresenceUpdate dispatch: got ok=%v, err=%v", ok, err)
	}
	if n := mustExec(t, s, store.CountTotal{Category: store.FlagRole}); n != 2 {
		t.Errorf("Role count: got %d, want 2", n)
	}
}

func TestLayoutInvalidateShard(t *testing.T) {
	s, l := newStore(t, intent.All())
	g1, g2 := testGuild(), testGuild()
	g2.ID = 555
	g2.Channels = []entity.Channel{{ID: 700}}
	mustExec(t, s, store.GuildCreate{Shard: 0, Guild: g1})
	mustExec(t, s, store.GuildCreate{Shard: 1, Guild: g2})

	mustExec(t, s, store.InvalidateShard{Shard: 0, Cause: store.CauseReconnect})
	gs := mustExec(t, s, store.GetGuilds{})
	if diff := cmp.Diff([]entity.ID{555}, guildIDs(gs), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Guilds after invalidate (-want, +got):\n%s", diff)
	}
	if got := l.ShardGuilds(0); len(got) != 0 {
		t.Errorf("ShardGuilds(0) after invalidate: %v", got)
	}
	if n := mustExec(t, s, store.CountInGuild{Category: store.FlagRole, GuildID: 100}); n != 0 {
		t.Errorf("Roles of invalidated guild: got %d", n)
	}
}

func TestLayoutSwitcherIsolation(t *testing.T) {
	shared := state.NewLayout(newHolder(t, intent.All()))
	iso := state.NewLayout(newHolder(t, intent.All()))
	s, err := store.FromLayoutSwitcher(shared, store.When(store.GuildIn(100), iso))
	if err != nil {
		t.Fatalf("FromLayoutSwitcher: %v", err)
	}
	other := testGuild()
	other.ID = 555
	other.Channels = []entity.Channel{{ID: 700}}

	mustExec(t, s, store.Ready{Shard: 0, User: entity.User{ID: 9, Username: "bot"}, GuildIDs: []entity.ID{100, 555}})
	mustExec(t, s, store.GuildCreate{Shard: 0, Guild: testGuild()})
	mustExec(t, s, store.GuildCreate{Shard: 0, Guild: other})

	msg := entity.Message{ID: 1, ChannelID: 200, GuildID: 100, Content: "hi"}
	mustExec(t, s, store.MessageCreate{Message: msg})
	got := mustExec(t, s, store.GetMessageByID{GuildID: 100, ChannelID: 200, MessageID: 1})
	if got == nil || got.Content != "hi" {
		t.Errorf("GetMessageByID: got %+v, want %+v", got, msg)
	}
	if n := len(mustExec(t, s, store.GetMessagesInChannel{GuildID: 100, ChannelID: 200})); n != 1 {
		t.Errorf("GetMessagesInChannel: got %d messages, want 1", n)
	}
	if c := mustExec(t, s, store.GetChannelByID{GuildID: 100, ChannelID: 200}); c == nil || c.Name != "general" {
		t.Errorf("GetChannelByID: got %+v", c)
	}

	if old := mustExec(t, s, store.MessageDelete{GuildID: 100, ChannelID: 200, MessageID: 1}); old == nil {
		t.Error("MessageDelete: no previous message")
	}
	isoStore, err := store.New(iso)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if n := mustExec(t, isoStore, store.CountTotal{Category: store.FlagMessage}); n != 0 {
		t.Errorf("Isolated messages after delete: got %d, want 0", n)
	}

	mustExec(t, s, store.MessageCreate{Message: entity.Message{ID: 2, ChannelID: 200, GuildID: 100}})
	mustExec(t, s, store.MessageCreate{Message: entity.Message{ID: 3, ChannelID: 200, GuildID: 100}})
	if old := mustExec(t, s, store.MessageDeleteBulk{GuildID: 100, ChannelID: 200, MessageIDs: []entity.ID{2, 3}}); len(old) != 2 {
		t.Errorf("MessageDeleteBulk: got %d previous messages, want 2", len(old))
	}

	// Session-wide actions reach every layout.
	if self := mustExec(t, isoStore, store.GetSelfUser{}); self == nil || self.Username != "bot" {
		t.Errorf("Isolated self user: got %+v", self)
	}
	mustExec(t, s, store.InvalidateShard{Shard: 0, Cause: store.CauseReconnect})
	if gs := mustExec(t, isoStore, store.GetGuilds{}); len(gs) != 0 {
		t.Errorf("Isolated guilds after invalidate: got %v", guildIDs(gs))
	}
	if gs := mustExec(t, s, store.GetGuilds{}); len(gs) != 0 {
		t.Errorf("Shared guilds after invalidate: got %v", guildIDs(gs))
	}
}

func guildIDs(gs []*entity.Guild) []entity.ID {
	var out []entity.ID
	for _, g := range gs {
		out = append(out, g.ID)
	}
	return out
}
