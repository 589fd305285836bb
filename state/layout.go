// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package state

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/store"
	"github.com/creachadair/mds/mapset"
)

// A Layout implements [store.Layout] over the stores of a Holder. Its data
// accessor answers queries from the stores, and its gateway data updater
// applies events to them. Categories that are not active in the holder are
// omitted from the layout's flags, so a store built from it reports no
// result for their actions.
//
// A Layout is safe for concurrent use by multiple shards.
type Layout struct {
	h *Holder

	μ      sync.Mutex
	self   entity.ID                     // the logged-in user
	guilds map[int]mapset.Set[entity.ID] // shard → guilds received on it
}

// NewLayout constructs a layout over h.
func NewLayout(h *Holder) *Layout {
	return &Layout{h: h, guilds: make(map[int]mapset.Set[entity.ID])}
}

// Holder returns the holder underlying l.
func (l *Layout) Holder() *Holder { return l.h }

// DataAccessor implements part of the [store.Layout] interface.
func (l *Layout) DataAccessor() store.DataAccessor { return l }

// GatewayDataUpdater implements part of the [store.Layout] interface.
func (l *Layout) GatewayDataUpdater() store.GatewayDataUpdater { return l }

// CustomActions implements part of the [store.Layout] interface.
func (*Layout) CustomActions() *store.Mapper { return nil }

// Flags implements the [store.FlagSource] interface.
func (l *Layout) Flags() store.FlagSet { return l.h.Flags() }

// ShardGuilds returns the IDs of guilds recorded for the given shard.
func (l *Layout) ShardGuilds(shard int) []entity.ID {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.guilds[shard].Slice()
}

func (l *Layout) addGuild(shard int, id entity.ID) {
	l.μ.Lock()
	defer l.μ.Unlock()
	s, ok := l.guilds[shard]
	if !ok {
		s = mapset.New[entity.ID]()
		l.guilds[shard] = s
	}
	s.Add(id)
}

func (l *Layout) removeGuild(id entity.ID) {
	l.μ.Lock()
	defer l.μ.Unlock()
	for _, s := range l.guilds {
		s.Remove(id)
	}
}

func countScope[V any](ctx context.Context, s *Store[V], scope entity.ID) (int64, error) {
	vs, err := s.FindInScope(ctx, scope)
	return int64(len(vs)), err
}

func filter[V any](ctx context.Context, s *Store[V], keep func(*V) bool) ([]*V, error) {
	vs, err := s.Values(ctx)
	if err != nil {
		return nil, err
	}
	out := vs[:0]
	for _, v := range vs {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Count implements part of the [store.DataAccessor] interface.
func (l *Layout) Count(ctx context.Context, f store.Flag) (int64, error) {
	switch f {
	case store.FlagChannel:
		return l.h.channels.Count(ctx)
	case store.FlagEmoji:
		return l.h.emojis.Count(ctx)
	case store.FlagGuild:
		return l.h.guilds.Count(ctx)
	case store.FlagMember:
		return l.h.members.Count(ctx)
	case store.FlagMessage:
		return l.h.messages.Count(ctx)
	case store.FlagPresence:
		return l.h.presences.Count(ctx)
	case store.FlagRole:
		return l.h.roles.Count(ctx)
	case store.FlagUser:
		return l.h.users.Count(ctx)
	case store.FlagVoiceState:
		return l.h.voiceStates.Count(ctx)
	}
	return 0, nil
}

// CountInGuild implements part of the [store.DataAccessor] interface.
func (l *Layout) CountInGuild(ctx context.Context, f store.Flag, guildID entity.ID) (int64, error) {
	switch f {
	case store.FlagChannel:
		vs, err := l.ChannelsInGuild(ctx, guildID)
		return int64(len(vs)), err
	case store.FlagEmoji:
		return countScope(ctx, l.h.emojis, guildID)
	case store.FlagMember:
		return countScope(ctx, l.h.members, guildID)
	case store.FlagMessage:
		vs, err := filter(ctx, l.h.messages, func(m *entity.Message) bool { return m.GuildID == guildID })
		return int64(len(vs)), err
	case store.FlagPresence:
		return countScope(ctx, l.h.presences, guildID)
	case store.FlagRole:
		return countScope(ctx, l.h.roles, guildID)
	case store.FlagVoiceState:
		return countScope(ctx, l.h.voiceStates, guildID)
	}
	return 0, nil
}

func (l *Layout) Channels(ctx context.Context) ([]*entity.Channel, error) {
	return l.h.channels.Values(ctx)
}

func (l *Layout) ChannelsInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Channel, error) {
	return filter(ctx, l.h.channels, func(c *entity.Channel) bool { return c.GuildID == guildID })
}

func (l *Layout) Channel(ctx context.Context, channelID entity.ID) (*entity.Channel, error) {
	return l.h.channels.Find(ctx, IDKey(channelID))
}

func (l *Layout) EmojisInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Emoji, error) {
	return l.h.emojis.FindInScope(ctx, guildID)
}

func (l *Layout) Emoji(ctx context.Context, guildID, emojiID entity.ID) (*entity.Emoji, error) {
	return l.h.emojis.Find(ctx, ScopedKey(guildID, emojiID))
}

func (l *Layout) Guilds(ctx context.Context) ([]*entity.Guild, error) { return l.h.guilds.Values(ctx) }

func (l *Layout) Guild(ctx context.Context, guildID entity.ID) (*entity.Guild, error) {
	return l.h.guilds.Find(ctx, IDKey(guildID))
}

func (l *Layout) MembersInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Member, error) {
	return l.h.members.FindInScope(ctx, guildID)
}

func (l *Layout) Member(ctx context.Context, guildID, userID entity.ID) (*entity.Member, error) {
	return l.h.members.Find(ctx, ScopedKey(guildID, userID))
}

func (l *Layout) MessagesInChannel(ctx context.Context, channelID entity.ID) ([]*entity.Message, error) {
	return l.h.messages.FindInScope(ctx, channelID)
}

func (l *Layout) Message(ctx context.Context, channelID, messageID entity.ID) (*entity.Message, error) {
	return l.h.messages.Find(ctx, ScopedKey(channelID, messageID))
}

func (l *Layout) PresencesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Presence, error) {
	return l.h.presences.FindInScope(ctx, guildID)
}

func (l *Layout) Presence(ctx context.Context, guildID, userID entity.ID) (*entity.Presence, error) {
	return l.h.presences.Find(ctx, ScopedKey(guildID, userID))
}

func (l *Layout) RolesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Role, error) {
	return l.h.roles.FindInScope(ctx, guildID)
}

func (l *Layout) Role(ctx context.Context, guildID, roleID entity.ID) (*entity.Role, error) {
	return l.h.roles.Find(ctx, ScopedKey(guildID, roleID))
}

func (l *Layout) Users(ctx context.Context) ([]*entity.User, error) { return l.h.users.Values(ctx) }

func (l *Layout) User(ctx context.Context, userID entity.ID) (*entity.User, error) {
	return l.h.users.Find(ctx, IDKey(userID))
}

func (l *Layout) SelfUser(ctx context.Context) (*entity.User, error) {
	l.μ.Lock()
	self := l.self
	l.μ.Unlock()
	if self == 0 {
		return nil, nil
	}
	return l.User(ctx, self)
}

func (l *Layout) VoiceStatesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.VoiceState, error) {
	return l.h.voiceStates.FindInScope(ctx, guildID)
}

func (l *Layout) VoiceStatesInChannel(ctx context.Context, guildID, channelID entity.ID) ([]*entity.VoiceState, error) {
	vs, err := l.h.voiceStates.FindInScope(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := vs[:0]
	for _, v := range vs {
		if v.ChannelID == channelID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (l *Layout) VoiceState(ctx context.Context, guildID, userID entity.ID) (*entity.VoiceState, error) {
	return l.h.voiceStates.Find(ctx, ScopedKey(guildID, userID))
}

// OnReady implements part of the [store.GatewayDataUpdater] interface.
func (l *Layout) OnReady(ctx context.Context, a store.Ready) error {
	l.μ.Lock()
	l.self = a.User.ID
	l.μ.Unlock()
	for _, id := range a.GuildIDs {
		l.addGuild(a.Shard, id)
	}
	u := a.User
	return l.h.users.Save(ctx, IDKey(u.ID), &u)
}

// OnInvalidateShard implements part of the [store.GatewayDataUpdater]
// interface. It removes every guild received on the shard, with its content.
func (l *Layout) OnInvalidateShard(ctx context.Context, a store.InvalidateShard) error {
	l.μ.Lock()
	ids := l.guilds[a.Shard].Slice()
	delete(l.guilds, a.Shard)
	l.μ.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, l.deleteGuildContent(ctx, id), l.h.guilds.Delete(ctx, IDKey(id)))
	}
	return errors.Join(errs...)
}

func (l *Layout) OnChannelCreate(ctx context.Context, a store.ChannelCreate) error {
	c := a.Channel
	return l.h.channels.Save(ctx, IDKey(c.ID), &c)
}

func (l *Layout) OnChannelUpdate(ctx context.Context, a store.ChannelUpdate) (*entity.Channel, error) {
	old, err := l.h.channels.Find(ctx, IDKey(a.Channel.ID))
	if err != nil {
		return nil, err
	}
	c := a.Channel
	return old, l.h.channels.Save(ctx, IDKey(c.ID), &c)
}

func (l *Layout) OnChannelDelete(ctx context.Context, a store.ChannelDelete) (*entity.Channel, error) {
	key := IDKey(a.Channel.ID)
	old, err := l.h.channels.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return old, errors.Join(
		l.h.channels.Delete(ctx, key),
		l.h.messages.DeleteScope(ctx, a.Channel.ID),
	)
}

// OnGuildCreate implements part of the [store.GatewayDataUpdater] interface.
// The content delivered with the guild is saved to the stores for its
// categories, and the guild record itself is saved without it.
func (l *Layout) OnGuildCreate(ctx context.Context, a store.GuildCreate) error {
	g := a.Guild
	l.addGuild(a.Shard, g.ID)

	var errs []error
	save := func(err error) { errs = append(errs, err) }
	for _, r := range g.Roles {
		r.GuildID = g.ID
		save(l.h.roles.Save(ctx, ScopedKey(g.ID, r.ID), &r))
	}
	for _, e := range g.Emojis {
		e.GuildID = g.ID
		save(l.h.emojis.Save(ctx, ScopedKey(g.ID, e.ID), &e))
	}
	for _, c := range g.Channels {
		c.GuildID = g.ID
		save(l.h.channels.Save(ctx, IDKey(c.ID), &c))
	}
	for _, m := range g.Members {
		save(l.saveMember(ctx, g.ID, m))
	}
	for _, p := range g.Presences {
		p.GuildID = g.ID
		save(l.h.presences.Save(ctx, ScopedKey(g.ID, p.User.ID), &p))
	}
	for _, v := range g.VoiceStates {
		v.GuildID = g.ID
		save(l.h.voiceStates.Save(ctx, ScopedKey(g.ID, v.UserID), &v))
	}
	stripped := stripGuild(g)
	save(l.h.guilds.Save(ctx, IDKey(g.ID), &stripped))
	return errors.Join(errs...)
}

func stripGuild(g entity.Guild) entity.Guild {
	g.Roles, g.Emojis, g.Channels, g.Members, g.Presences, g.VoiceStates = nil, nil, nil, nil, nil, nil
	return g
}

func (l *Layout) saveMember(ctx context.Context, guildID entity.ID, m entity.Member) error {
	m.GuildID = guildID
	var uerr error
	if m.User != nil {
		m.UserID = m.User.ID
		u := *m.User
		uerr = l.h.users.Save(ctx, IDKey(u.ID), &u)
	}
	return errors.Join(uerr, l.h.members.Save(ctx, ScopedKey(guildID, m.UserID), &m))
}

func (l *Layout) OnGuildUpdate(ctx context.Context, a store.GuildUpdate) (*entity.Guild, error) {
	key := IDKey(a.Guild.ID)
	old, err := l.h.guilds.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	g := stripGuild(a.Guild)
	if old != nil && g.MemberCount == 0 {
		g.MemberCount = old.MemberCount
	}
	return old, l.h.guilds.Save(ctx, key, &g)
}

// OnGuildDelete implements part of the [store.GatewayDataUpdater] interface.
// The guild's content is removed. A guild that became unavailable is kept as
// a stub marked unavailable.
func (l *Layout) OnGuildDelete(ctx context.Context, a store.GuildDelete) (*entity.Guild, error) {
	key := IDKey(a.GuildID)
	old, err := l.h.guilds.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := l.deleteGuildContent(ctx, a.GuildID); err != nil {
		return old, err
	}
	if a.Unavailable {
		stub := entity.Guild{ID: a.GuildID, Unavailable: true}
		if old != nil {
			stub.Name, stub.OwnerID = old.Name, old.OwnerID
		}
		return old, l.h.guilds.Save(ctx, key, &stub)
	}
	l.removeGuild(a.GuildID)
	return old, l.h.guilds.Delete(ctx, key)
}

func (l *Layout) deleteGuildContent(ctx context.Context, guildID entity.ID) error {
	chans, err := l.ChannelsInGuild(ctx, guildID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range chans {
		errs = append(errs,
			l.h.messages.DeleteScope(ctx, c.ID),
			l.h.channels.Delete(ctx, IDKey(c.ID)),
		)
	}
	return errors.Join(append(errs,
		l.h.roles.DeleteScope(ctx, guildID),
		l.h.emojis.DeleteScope(ctx, guildID),
		l.h.members.DeleteScope(ctx, guildID),
		l.h.presences.DeleteScope(ctx, guildID),
		l.h.voiceStates.DeleteScope(ctx, guildID),
	)...)
}

func (l *Layout) OnGuildEmojisUpdate(ctx context.Context, a store.GuildEmojisUpdate) ([]*entity.Emoji, error) {
	old, err := l.h.emojis.FindInScope(ctx, a.GuildID)
	if err != nil {
		return nil, err
	}
	if err := l.h.emojis.DeleteScope(ctx, a.GuildID); err != nil {
		return old, err
	}
	var errs []error
	for _, e := range a.Emojis {
		e.GuildID = a.GuildID
		errs = append(errs, l.h.emojis.Save(ctx, ScopedKey(a.GuildID, e.ID), &e))
	}
	return old, errors.Join(errs...)
}

// adjustMemberCount adds delta to the member count of a cached guild.
func (l *Layout) adjustMemberCount(ctx context.Context, guildID entity.ID, delta int) error {
	g, err := l.h.guilds.Find(ctx, IDKey(guildID))
	if err != nil || g == nil {
		return err
	}
	cp := *g
	cp.MemberCount = max(0, cp.MemberCount+delta)
	return l.h.guilds.Save(ctx, IDKey(guildID), &cp)
}

func (l *Layout) OnGuildMemberAdd(ctx context.Context, a store.GuildMemberAdd) error {
	return errors.Join(
		l.saveMember(ctx, a.GuildID, a.Member),
		l.adjustMemberCount(ctx, a.GuildID, 1),
	)
}

func (l *Layout) OnGuildMemberUpdate(ctx context.Context, a store.GuildMemberUpdate) (*entity.Member, error) {
	m := a.Member
	if m.User != nil {
		m.UserID = m.User.ID
	}
	old, err := l.h.members.Find(ctx, ScopedKey(a.GuildID, m.UserID))
	if err != nil {
		return nil, err
	}
	if old != nil && m.JoinedAt.IsZero() {
		m.JoinedAt = old.JoinedAt
	}
	return old, l.saveMember(ctx, a.GuildID, m)
}

func (l *Layout) OnGuildMemberRemove(ctx context.Context, a store.GuildMemberRemove) (*entity.Member, error) {
	key := ScopedKey(a.GuildID, a.User.ID)
	old, err := l.h.members.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	var adjust error
	if old != nil {
		adjust = l.adjustMemberCount(ctx, a.GuildID, -1)
	}
	return old, errors.Join(
		l.h.members.Delete(ctx, key),
		l.h.presences.Delete(ctx, key),
		adjust,
	)
}

func (l *Layout) OnGuildMembersChunk(ctx context.Context, a store.GuildMembersChunk) error {
	var errs []error
	for _, m := range a.Members {
		errs = append(errs, l.saveMember(ctx, a.GuildID, m))
	}
	for _, p := range a.Presences {
		p.GuildID = a.GuildID
		errs = append(errs, l.h.presences.Save(ctx, ScopedKey(a.GuildID, p.User.ID), &p))
	}
	return errors.Join(errs...)
}

func (l *Layout) OnGuildRoleCreate(ctx context.Context, a store.GuildRoleCreate) error {
	r := a.Role
	r.GuildID = a.GuildID
	return l.h.roles.Save(ctx, ScopedKey(a.GuildID, r.ID), &r)
}

func (l *Layout) OnGuildRoleUpdate(ctx context.Context, a store.GuildRoleUpdate) (*entity.Role, error) {
	key := ScopedKey(a.GuildID, a.Role.ID)
	old, err := l.h.roles.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	r := a.Role
	r.GuildID = a.GuildID
	return old, l.h.roles.Save(ctx, key, &r)
}

func (l *Layout) OnGuildRoleDelete(ctx context.Context, a store.GuildRoleDelete) (*entity.Role, error) {
	key := ScopedKey(a.GuildID, a.RoleID)
	old, err := l.h.roles.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return old, l.h.roles.Delete(ctx, key)
}

func (l *Layout) OnMessageCreate(ctx context.Context, a store.MessageCreate) error {
	m := a.Message
	return l.h.messages.Save(ctx, ScopedKey(m.ChannelID, m.ID), &m)
}

// OnMessageUpdate implements part of the [store.GatewayDataUpdater]
// interface. Message updates may be partial; fields missing from the update
// are kept from the cached message.
func (l *Layout) OnMessageUpdate(ctx context.Context, a store.MessageUpdate) (*entity.Message, error) {
	key := ScopedKey(a.Message.ChannelID, a.Message.ID)
	old, err := l.h.messages.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	m := a.Message
	if old != nil {
		if m.Author == nil {
			m.Author = old.Author
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = old.Timestamp
		}
		if m.GuildID == 0 {
			m.GuildID = old.GuildID
		}
	}
	return old, l.h.messages.Save(ctx, key, &m)
}

func (l *Layout) OnMessageDelete(ctx context.Context, a store.MessageDelete) (*entity.Message, error) {
	key := ScopedKey(a.ChannelID, a.MessageID)
	old, err := l.h.messages.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return old, l.h.messages.Delete(ctx, key)
}

func (l *Layout) OnMessageDeleteBulk(ctx context.Context, a store.MessageDeleteBulk) ([]*entity.Message, error) {
	var old []*entity.Message
	var errs []error
	for _, id := range a.MessageIDs {
		m, err := l.OnMessageDelete(ctx, store.MessageDelete{
			Shard:     a.Shard,
			GuildID:   a.GuildID,
			ChannelID: a.ChannelID,
			MessageID: id,
		})
		if m != nil {
			old = append(old, m)
		}
		errs = append(errs, err)
	}
	return old, errors.Join(errs...)
}

func (l *Layout) OnPresenceUpdate(ctx context.Context, a store.PresenceUpdate) (*entity.Presence, error) {
	key := ScopedKey(a.Presence.GuildID, a.Presence.User.ID)
	old, err := l.h.presences.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	p := a.Presence
	return old, l.h.presences.Save(ctx, key, &p)
}

func (l *Layout) OnUserUpdate(ctx context.Context, a store.UserUpdate) (*entity.User, error) {
	key := IDKey(a.User.ID)
	old, err := l.h.users.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	u := a.User
	return old, l.h.users.Save(ctx, key, &u)
}

// OnVoiceStateUpdate implements part of the [store.GatewayDataUpdater]
// interface. A state with no channel removes the cached state.
func (l *Layout) OnVoiceStateUpdate(ctx context.Context, a store.VoiceStateUpdate) (*entity.VoiceState, error) {
	v := a.VoiceState
	key := ScopedKey(v.GuildID, v.UserID)
	old, err := l.h.voiceStates.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if v.ChannelID == 0 {
		return old, l.h.voiceStates.Delete(ctx, key)
	}
	return old, l.h.voiceStates.Save(ctx, key, &v)
}
