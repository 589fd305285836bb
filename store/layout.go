// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/creachadair/gateway/entity"
)

// A Flag names a category of cached entities.
type Flag int

// Entity categories.
const (
	FlagChannel Flag = iota
	FlagEmoji
	FlagGuild
	FlagMember
	FlagMessage
	FlagPresence
	FlagRole
	FlagUser
	FlagVoiceState

	numFlags
)

var flagNames = [...]string{
	"channel", "emoji", "guild", "member", "message", "presence", "role", "user", "voice_state",
}

func (f Flag) String() string {
	if f >= 0 && f < numFlags {
		return flagNames[f]
	}
	return fmt.Sprintf("Flag(%d)", int(f))
}

// A FlagSet is a set of entity categories.
type FlagSet uint32

// AllFlags returns the set of every category.
func AllFlags() FlagSet { return 1<<numFlags - 1 }

// Flags returns a set containing the given categories.
func Flags(fs ...Flag) FlagSet {
	var s FlagSet
	for _, f := range fs {
		s |= 1 << f
	}
	return s
}

// Has reports whether f is in s.
func (s FlagSet) Has(f Flag) bool { return f >= 0 && f < numFlags && s&(1<<f) != 0 }

// Without returns s without the given categories.
func (s FlagSet) Without(fs ...Flag) FlagSet { return s &^ Flags(fs...) }

func (s FlagSet) String() string {
	var names []string
	for f := range numFlags {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return "[" + strings.Join(names, " ") + "]"
}

// A DataAccessor answers read queries against cached state.
type DataAccessor interface {
	Count(ctx context.Context, f Flag) (int64, error)
	CountInGuild(ctx context.Context, f Flag, guildID entity.ID) (int64, error)

	Channels(ctx context.Context) ([]*entity.Channel, error)
	ChannelsInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Channel, error)
	Channel(ctx context.Context, channelID entity.ID) (*entity.Channel, error)

	EmojisInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Emoji, error)
	Emoji(ctx context.Context, guildID, emojiID entity.ID) (*entity.Emoji, error)

	Guilds(ctx context.Context) ([]*entity.Guild, error)
	Guild(ctx context.Context, guildID entity.ID) (*entity.Guild, error)

	MembersInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Member, error)
	Member(ctx context.Context, guildID, userID entity.ID) (*entity.Member, error)

	MessagesInChannel(ctx context.Context, channelID entity.ID) ([]*entity.Message, error)
	Message(ctx context.Context, channelID, messageID entity.ID) (*entity.Message, error)

	PresencesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Presence, error)
	Presence(ctx context.Context, guildID, userID entity.ID) (*entity.Presence, error)

	RolesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.Role, error)
	Role(ctx context.Context, guildID, roleID entity.ID) (*entity.Role, error)

	Users(ctx context.Context) ([]*entity.User, error)
	User(ctx context.Context, userID entity.ID) (*entity.User, error)
	SelfUser(ctx context.Context) (*entity.User, error)

	VoiceStatesInGuild(ctx context.Context, guildID entity.ID) ([]*entity.VoiceState, error)
	VoiceStatesInChannel(ctx context.Context, guildID, channelID entity.ID) ([]*entity.VoiceState, error)
	VoiceState(ctx context.Context, guildID, userID entity.ID) (*entity.VoiceState, error)
}

// A GatewayDataUpdater applies gateway events to cached state.
type GatewayDataUpdater interface {
	OnReady(context.Context, Ready) error
	OnInvalidateShard(context.Context, InvalidateShard) error

	OnChannelCreate(context.Context, ChannelCreate) error
	OnChannelUpdate(context.Context, ChannelUpdate) (*entity.Channel, error)
	OnChannelDelete(context.Context, ChannelDelete) (*entity.Channel, error)

	OnGuildCreate(context.Context, GuildCreate) error
	OnGuildUpdate(context.Context, GuildUpdate) (*entity.Guild, error)
	OnGuildDelete(context.Context, GuildDelete) (*entity.Guild, error)
	OnGuildEmojisUpdate(context.Context, GuildEmojisUpdate) ([]*entity.Emoji, error)

	OnGuildMemberAdd(context.Context, GuildMemberAdd) error
	OnGuildMemberUpdate(context.Context, GuildMemberUpdate) (*entity.Member, error)
	OnGuildMemberRemove(context.Context, GuildMemberRemove) (*entity.Member, error)
	OnGuildMembersChunk(context.Context, GuildMembersChunk) error

	OnGuildRoleCreate(context.Context, GuildRoleCreate) error
	OnGuildRoleUpdate(context.Context, GuildRoleUpdate) (*entity.Role, error)
	OnGuildRoleDelete(context.Context, GuildRoleDelete) (*entity.Role, error)

	OnMessageCreate(context.Context, MessageCreate) error
	OnMessageUpdate(context.Context, MessageUpdate) (*entity.Message, error)
	OnMessageDelete(context.Context, MessageDelete) (*entity.Message, error)
	OnMessageDeleteBulk(context.Context, MessageDeleteBulk) ([]*entity.Message, error)

	OnPresenceUpdate(context.Context, PresenceUpdate) (*entity.Presence, error)
	OnUserUpdate(context.Context, UserUpdate) (*entity.User, error)
	OnVoiceStateUpdate(context.Context, VoiceStateUpdate) (*entity.VoiceState, error)
}

// A Layout is a storage backend's contribution to a Store: a data accessor
// for read queries, a gateway data updater for events, and optional custom
// actions. Any of the three may be nil.
type Layout interface {
	DataAccessor() DataAccessor
	GatewayDataUpdater() GatewayDataUpdater
	CustomActions() *Mapper
}

// FlagSource is an optional interface a Layout may implement to restrict the
// categories it handles. Actions for categories outside the set are not
// mapped, so a Store reports no result for them. A layout that does not
// implement FlagSource handles every category.
type FlagSource interface {
	Flags() FlagSet
}

func layoutFlags(l Layout) FlagSet {
	if fs, ok := l.(FlagSource); ok {
		return fs.Flags()
	}
	return AllFlags()
}

// LayoutMapper returns the mapper contributed by l: the aggregate of its
// data accessor, gateway data updater, and custom actions.
func LayoutMapper(l Layout) (*Mapper, error) {
	flags := layoutFlags(l)
	var parts []*Mapper
	if da := l.DataAccessor(); da != nil {
		m, err := accessorMapper(da, flags)
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	if gu := l.GatewayDataUpdater(); gu != nil {
		m, err := updaterMapper(gu, flags)
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	parts = append(parts, l.CustomActions())
	return Aggregate(parts...)
}

func accessorMapper(da DataAccessor, flags FlagSet) (*Mapper, error) {
	b := NewBuilder()
	Map(b, func(ctx context.Context, a CountTotal) (int64, error) {
		if !flags.Has(a.Category) {
			return 0, nil
		}
		return da.Count(ctx, a.Category)
	})
	Map(b, func(ctx context.Context, a CountInGuild) (int64, error) {
		if !flags.Has(a.Category) {
			return 0, nil
		}
		return da.CountInGuild(ctx, a.Category, a.GuildID)
	})
	if flags.Has(FlagChannel) {
		Map(b, func(ctx context.Context, _ GetChannels) ([]*entity.Channel, error) { return da.Channels(ctx) })
		Map(b, func(ctx context.Context, a GetChannelsInGuild) ([]*entity.Channel, error) {
			return da.ChannelsInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetChannelByID) (*entity.Channel, error) {
			return da.Channel(ctx, a.ChannelID)
		})
	}
	if flags.Has(FlagEmoji) {
		Map(b, func(ctx context.Context, a GetEmojisInGuild) ([]*entity.Emoji, error) {
			return da.EmojisInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetEmojiByID) (*entity.Emoji, error) {
			return da.Emoji(ctx, a.GuildID, a.EmojiID)
		})
	}
	if flags.Has(FlagGuild) {
		Map(b, func(ctx context.Context, _ GetGuilds) ([]*entity.Guild, error) { return da.Guilds(ctx) })
		Map(b, func(ctx context.Context, a GetGuildByID) (*entity.Guild, error) { return da.Guild(ctx, a.GuildID) })
	}
	if flags.Has(FlagMember) {
		Map(b, func(ctx context.Context, a GetMembersInGuild) ([]*entity.Member, error) {
			return da.MembersInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetMemberByID) (*entity.Member, error) {
			return da.Member(ctx, a.GuildID, a.UserID)
		})
	}
	if flags.Has(FlagMessage) {
		Map(b, func(ctx context.Context, a GetMessagesInChannel) ([]*entity.Message, error) {
			return da.MessagesInChannel(ctx, a.ChannelID)
		})
		Map(b, func(ctx context.Context, a GetMessageByID) (*entity.Message, error) {
			return da.Message(ctx, a.ChannelID, a.MessageID)
		})
	}
	if flags.Has(FlagPresence) {
		Map(b, func(ctx context.Context, a GetPresencesInGuild) ([]*entity.Presence, error) {
			return da.PresencesInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetPresenceByID) (*entity.Presence, error) {
			return da.Presence(ctx, a.GuildID, a.UserID)
		})
	}
	if flags.Has(FlagRole) {
		Map(b, func(ctx context.Context, a GetRolesInGuild) ([]*entity.Role, error) {
			return da.RolesInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetRoleByID) (*entity.Role, error) {
			return da.Role(ctx, a.GuildID, a.RoleID)
		})
	}
	if flags.Has(FlagUser) {
		Map(b, func(ctx context.Context, _ GetUsers) ([]*entity.User, error) { return da.Users(ctx) })
		Map(b, func(ctx context.Context, a GetUserByID) (*entity.User, error) { return da.User(ctx, a.UserID) })
		Map(b, func(ctx context.Context, _ GetSelfUser) (*entity.User, error) { return da.SelfUser(ctx) })
	}
	if flags.Has(FlagVoiceState) {
		Map(b, func(ctx context.Context, a GetVoiceStatesInGuild) ([]*entity.VoiceState, error) {
			return da.VoiceStatesInGuild(ctx, a.GuildID)
		})
		Map(b, func(ctx context.Context, a GetVoiceStatesInChannel) ([]*entity.VoiceState, error) {
			return da.VoiceStatesInChannel(ctx, a.GuildID, a.ChannelID)
		})
		Map(b, func(ctx context.Context, a GetVoiceStateByID) (*entity.VoiceState, error) {
			return da.VoiceState(ctx, a.GuildID, a.UserID)
		})
	}
	return b.Build()
}

// none adapts an updater method that reports only an error.
func none[A any](f func(context.Context, A) error) func(context.Context, A) (None, error) {
	return func(ctx context.Context, a A) (None, error) { return None{}, f(ctx, a) }
}

func updaterMapper(gu GatewayDataUpdater, flags FlagSet) (*Mapper, error) {
	b := NewBuilder()
	Map(b, none(gu.OnReady))
	Map(b, none(gu.OnInvalidateShard))
	if flags.Has(FlagChannel) {
		Map(b, none(gu.OnChannelCreate))
		Map(b, gu.OnChannelUpdate)
		Map(b, gu.OnChannelDelete)
	}
	if flags.Has(FlagGuild) {
		Map(b, none(gu.OnGuildCreate))
		Map(b, gu.OnGuildUpdate)
		Map(b, gu.OnGuildDelete)
	}
	if flags.Has(FlagEmoji) {
		Map(b, gu.OnGuildEmojisUpdate)
	}
	if flags.Has(FlagMember) {
		Map(b, none(gu.OnGuildMemberAdd))
		Map(b, gu.OnGuildMemberUpdate)
		Map(b, gu.OnGuildMemberRemove)
		Map(b, none(gu.OnGuildMembersChunk))
	}
	if flags.Has(FlagRole) {
		Map(b, none(gu.OnGuildRoleCreate))
		Map(b, gu.OnGuildRoleUpdate)
		Map(b, gu.OnGuildRoleDelete)
	}
	if flags.Has(FlagMessage) {
		Map(b, none(gu.OnMessageCreate))
		Map(b, gu.OnMessageUpdate)
		Map(b, gu.OnMessageDelete)
		Map(b, gu.OnMessageDeleteBulk)
	}
	if flags.Has(FlagPresence) {
		Map(b, gu.OnPresenceUpdate)
	}
	if flags.Has(FlagUser) {
		Map(b, gu.OnUserUpdate)
	}
	if flags.Has(FlagVoiceState) {
		Map(b, gu.OnVoiceStateUpdate)
	}
	return b.Build()
}
