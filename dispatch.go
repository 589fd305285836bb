// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/gateway/store"
)

// A decoder translates the data of a dispatch event into a store action.
type decoder func(shard int, data json.RawMessage) (any, error)

// decodeAs returns a decoder that unmarshals the event data into a T and
// passes it to f.
func decodeAs[T any](f func(shard int, v T) any) decoder {
	return func(shard int, data json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return f(shard, v), nil
	}
}

type guildRef struct {
	ID          entity.ID `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

type guildEmojis struct {
	GuildID entity.ID      `json:"guild_id"`
	Emojis  []entity.Emoji `json:"emojis"`
}

type guildUser struct {
	GuildID entity.ID   `json:"guild_id"`
	User    entity.User `json:"user"`
}

type membersChunk struct {
	GuildID    entity.ID         `json:"guild_id"`
	Members    []entity.Member   `json:"members"`
	Presences  []entity.Presence `json:"presences"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkCount int               `json:"chunk_count"`
}

type guildRole struct {
	GuildID entity.ID   `json:"guild_id"`
	Role    entity.Role `json:"role"`
}

type guildRoleID struct {
	GuildID entity.ID `json:"guild_id"`
	RoleID  entity.ID `json:"role_id"`
}

type messageRef struct {
	ID        entity.ID `json:"id"`
	ChannelID entity.ID `json:"channel_id"`
	GuildID   entity.ID `json:"guild_id"`
}

type messageRefs struct {
	IDs       []entity.ID `json:"ids"`
	ChannelID entity.ID   `json:"channel_id"`
	GuildID   entity.ID   `json:"guild_id"`
}

func roleAction(ctor func(shard int, r guildRole) any) decoder {
	return decodeAs(func(shard int, r guildRole) any {
		r.Role.GuildID = r.GuildID
		return ctor(shard, r)
	})
}

var decoders = map[string]decoder{
	"READY": decodeAs(func(shard int, r Ready) any {
		ids := make([]entity.ID, len(r.Guilds))
		for i, g := range r.Guilds {
			ids[i] = g.ID
		}
		return store.Ready{Shard: shard, SessionID: r.SessionID, User: r.User, GuildIDs: ids}
	}),

	"CHANNEL_CREATE": decodeAs(func(shard int, c entity.Channel) any {
		return store.ChannelCreate{Shard: shard, Channel: c}
	}),
	"CHANNEL_UPDATE": decodeAs(func(shard int, c entity.Channel) any {
		return store.ChannelUpdate{Shard: shard, Channel: c}
	}),
	"CHANNEL_DELETE": decodeAs(func(shard int, c entity.Channel) any {
		return store.ChannelDelete{Shard: shard, Channel: c}
	}),

	"GUILD_CREATE": decodeAs(func(shard int, g entity.Guild) any {
		return store.GuildCreate{Shard: shard, Guild: g}
	}),
	"GUILD_UPDATE": decodeAs(func(shard int, g entity.Guild) any {
		return store.GuildUpdate{Shard: shard, Guild: g}
	}),
	"GUILD_DELETE": decodeAs(func(shard int, g guildRef) any {
		return store.GuildDelete{Shard: shard, GuildID: g.ID, Unavailable: g.Unavailable}
	}),
	"GUILD_EMOJIS_UPDATE": decodeAs(func(shard int, e guildEmojis) any {
		return store.GuildEmojisUpdate{Shard: shard, GuildID: e.GuildID, Emojis: e.Emojis}
	}),

	"GUILD_MEMBER_ADD": decodeAs(func(shard int, m entity.Member) any {
		return store.GuildMemberAdd{Shard: shard, GuildID: m.GuildID, Member: m}
	}),
	"GUILD_MEMBER_UPDATE": decodeAs(func(shard int, m entity.Member) any {
		return store.GuildMemberUpdate{Shard: shard, GuildID: m.GuildID, Member: m}
	}),
	"GUILD_MEMBER_REMOVE": decodeAs(func(shard int, u guildUser) any {
		return store.GuildMemberRemove{Shard: shard, GuildID: u.GuildID, User: u.User}
	}),
	"GUILD_MEMBERS_CHUNK": decodeAs(func(shard int, c membersChunk) any {
		return store.GuildMembersChunk{
			Shard:      shard,
			GuildID:    c.GuildID,
			Members:    c.Members,
			Presences:  c.Presences,
			ChunkIndex: c.ChunkIndex,
			ChunkCount: c.ChunkCount,
		}
	}),

	"GUILD_ROLE_CREATE": roleAction(func(shard int, r guildRole) any {
		return store.GuildRoleCreate{Shard: shard, GuildID: r.GuildID, Role: r.Role}
	}),
	"GUILD_ROLE_UPDATE": roleAction(func(shard int, r guildRole) any {
		return store.GuildRoleUpdate{Shard: shard, GuildID: r.GuildID, Role: r.Role}
	}),
	"GUILD_ROLE_DELETE": decodeAs(func(shard int, r guildRoleID) any {
		return store.GuildRoleDelete{Shard: shard, GuildID: r.GuildID, RoleID: r.RoleID}
	}),

	"MESSAGE_CREATE": decodeAs(func(shard int, m entity.Message) any {
		return store.MessageCreate{Shard: shard, Message: m}
	}),
	"MESSAGE_UPDATE": decodeAs(func(shard int, m entity.Message) any {
		return store.MessageUpdate{Shard: shard, Message: m}
	}),
	"MESSAGE_DELETE": decodeAs(func(shard int, m messageRef) any {
		return store.MessageDelete{Shard: shard, GuildID: m.GuildID, ChannelID: m.ChannelID, MessageID: m.ID}
	}),
	"MESSAGE_DELETE_BULK": decodeAs(func(shard int, m messageRefs) any {
		return store.MessageDeleteBulk{
			Shard:      shard,
			GuildID:    m.GuildID,
			ChannelID:  m.ChannelID,
			MessageIDs: m.IDs,
		}
	}),

	"PRESENCE_UPDATE": decodeAs(func(shard int, p entity.Presence) any {
		return store.PresenceUpdate{Shard: shard, Presence: p}
	}),
	"USER_UPDATE": decodeAs(func(shard int, u entity.User) any {
		return store.UserUpdate{Shard: shard, User: u}
	}),
	"VOICE_STATE_UPDATE": decodeAs(func(shard int, v entity.VoiceState) any {
		return store.VoiceStateUpdate{Shard: shard, VoiceState: v}
	}),
}

// DispatchAction translates a dispatch event received by the given shard into
// the corresponding store action. It returns nil without error for event
// types that have no store action.
func DispatchAction(shard int, eventType string, data json.RawMessage) (any, error) {
	dec, ok := decoders[eventType]
	if !ok {
		return nil, nil
	}
	action, err := dec(shard, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return action, nil
}

// HandlesEvent reports whether DispatchAction translates events of the given
// type.
func HandlesEvent(eventType string) bool {
	_, ok := decoders[eventType]
	return ok
}
