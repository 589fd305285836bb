// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package store

import "github.com/creachadair/gateway/entity"

// Gateway actions apply events received by a shard to cached state. Update
// and delete actions report the previous value, if it was cached.

// Ready records a completed identify.
type Ready struct {
	Returns[None]
	Shard     int
	SessionID string
	User      entity.User
	GuildIDs  []entity.ID // guilds that will be delivered by GuildCreate
}

// InvalidateShard discards the state contributed by a shard whose session
// could not be resumed.
type InvalidateShard struct {
	Returns[None]
	Shard int
	Cause InvalidationCause
}

// InvalidationCause records why a shard's state was invalidated.
type InvalidationCause int

const (
	// CauseLogout means the session was closed by the client.
	CauseLogout InvalidationCause = iota

	// CauseReconnect means the session will be replaced by a fresh identify.
	CauseReconnect
)

func (c InvalidationCause) String() string {
	if c == CauseLogout {
		return "logout"
	}
	return "reconnect"
}

// ChannelCreate adds a channel.
type ChannelCreate struct {
	Returns[None]
	Shard   int
	Channel entity.Channel
}

// ChannelUpdate replaces a channel.
type ChannelUpdate struct {
	Returns[*entity.Channel]
	Shard   int
	Channel entity.Channel
}

// ChannelDelete removes a channel and its messages.
type ChannelDelete struct {
	Returns[*entity.Channel]
	Shard   int
	Channel entity.Channel
}

// GuildCreate adds a guild and the content delivered with it.
type GuildCreate struct {
	Returns[None]
	Shard int
	Guild entity.Guild
}

// GuildUpdate replaces the top-level fields of a guild.
type GuildUpdate struct {
	Returns[*entity.Guild]
	Shard int
	Guild entity.Guild
}

// GuildDelete removes a guild and all of its content. If Unavailable is
// true, the guild is in an outage rather than removed from the client.
type GuildDelete struct {
	Returns[*entity.Guild]
	Shard       int
	GuildID     entity.ID
	Unavailable bool
}

// GuildEmojisUpdate replaces the emojis of a guild.
type GuildEmojisUpdate struct {
	Returns[[]*entity.Emoji]
	Shard   int
	GuildID entity.ID
	Emojis  []entity.Emoji
}

// GuildMemberAdd adds a member.
type GuildMemberAdd struct {
	Returns[None]
	Shard   int
	GuildID entity.ID
	Member  entity.Member
}

// GuildMemberUpdate replaces a member.
type GuildMemberUpdate struct {
	Returns[*entity.Member]
	Shard   int
	GuildID entity.ID
	Member  entity.Member
}

// GuildMemberRemove removes a member.
type GuildMemberRemove struct {
	Returns[*entity.Member]
	Shard   int
	GuildID entity.ID
	User    entity.User
}

// GuildMembersChunk adds a batch of members requested by the client.
type GuildMembersChunk struct {
	Returns[None]
	Shard      int
	GuildID    entity.ID
	Members    []entity.Member
	Presences  []entity.Presence
	ChunkIndex int
	ChunkCount int
}

// GuildRoleCreate adds a role.
type GuildRoleCreate struct {
	Returns[None]
	Shard   int
	GuildID entity.ID
	Role    entity.Role
}

// GuildRoleUpdate replaces a role.
type GuildRoleUpdate struct {
	Returns[*entity.Role]
	Shard   int
	GuildID entity.ID
	Role    entity.Role
}

// GuildRoleDelete removes a role.
type GuildRoleDelete struct {
	Returns[*entity.Role]
	Shard   int
	GuildID entity.ID
	RoleID  entity.ID
}

// MessageCreate adds a message.
type MessageCreate struct {
	Returns[None]
	Shard   int
	Message entity.Message
}

// MessageUpdate replaces a message. Fields absent from a partial update are
// kept from the cached value.
type MessageUpdate struct {
	Returns[*entity.Message]
	Shard   int
	Message entity.Message
}

// MessageDelete removes a message. GuildID is zero for a direct message.
type MessageDelete struct {
	Returns[*entity.Message]
	Shard     int
	GuildID   entity.ID
	ChannelID entity.ID
	MessageID entity.ID
}

// MessageDeleteBulk removes a batch of messages from one channel.
type MessageDeleteBulk struct {
	Returns[[]*entity.Message]
	Shard      int
	GuildID    entity.ID
	ChannelID  entity.ID
	MessageIDs []entity.ID
}

// PresenceUpdate replaces a presence.
type PresenceUpdate struct {
	Returns[*entity.Presence]
	Shard    int
	Presence entity.Presence
}

// UserUpdate replaces the user the client is logged in as.
type UserUpdate struct {
	Returns[*entity.User]
	Shard int
	User  entity.User
}

// VoiceStateUpdate replaces a voice state. A state with no channel means the
// user left voice.
type VoiceStateUpdate struct {
	Returns[*entity.VoiceState]
	Shard      int
	VoiceState entity.VoiceState
}

func (a ChannelCreate) GuildScope() entity.ID     { return a.Channel.GuildID }
func (a ChannelUpdate) GuildScope() entity.ID     { return a.Channel.GuildID }
func (a ChannelDelete) GuildScope() entity.ID     { return a.Channel.GuildID }
func (a GuildCreate) GuildScope() entity.ID       { return a.Guild.ID }
func (a GuildUpdate) GuildScope() entity.ID       { return a.Guild.ID }
func (a GuildDelete) GuildScope() entity.ID       { return a.GuildID }
func (a GuildEmojisUpdate) GuildScope() entity.ID { return a.GuildID }
func (a GuildMemberAdd) GuildScope() entity.ID    { return a.GuildID }
func (a GuildMemberUpdate) GuildScope() entity.ID { return a.GuildID }
func (a GuildMemberRemove) GuildScope() entity.ID { return a.GuildID }
func (a GuildMembersChunk) GuildScope() entity.ID { return a.GuildID }
func (a GuildRoleCreate) GuildScope() entity.ID   { return a.GuildID }
func (a GuildRoleUpdate) GuildScope() entity.ID   { return a.GuildID }
func (a GuildRoleDelete) GuildScope() entity.ID   { return a.GuildID }
func (a MessageCreate) GuildScope() entity.ID     { return a.Message.GuildID }
func (a MessageUpdate) GuildScope() entity.ID     { return a.Message.GuildID }
func (a MessageDelete) GuildScope() entity.ID     { return a.GuildID }
func (a MessageDeleteBulk) GuildScope() entity.ID { return a.GuildID }
func (a PresenceUpdate) GuildScope() entity.ID    { return a.Presence.GuildID }
func (a VoiceStateUpdate) GuildScope() entity.ID  { return a.VoiceState.GuildID }

// ShardScoped is implemented by gateway actions, which record the shard that
// received the event.
type ShardScoped interface {
	ShardIndex() int
}

func (a Ready) ShardIndex() int             { return a.Shard }
func (a InvalidateShard) ShardIndex() int   { return a.Shard }
func (a ChannelCreate) ShardIndex() int     { return a.Shard }
func (a ChannelUpdate) ShardIndex() int     { return a.Shard }
func (a ChannelDelete) ShardIndex() int     { return a.Shard }
func (a GuildCreate) ShardIndex() int       { return a.Shard }
func (a GuildUpdate) ShardIndex() int       { return a.Shard }
func (a GuildDelete) ShardIndex() int       { return a.Shard }
func (a GuildEmojisUpdate) ShardIndex() int { return a.Shard }
func (a GuildMemberAdd) ShardIndex() int    { return a.Shard }
func (a GuildMemberUpdate) ShardIndex() int { return a.Shard }
func (a GuildMemberRemove) ShardIndex() int { return a.Shard }
func (a GuildMembersChunk) ShardIndex() int { return a.Shard }
func (a GuildRoleCreate) ShardIndex() int   { return a.Shard }
func (a GuildRoleUpdate) ShardIndex() int   { return a.Shard }
func (a GuildRoleDelete) ShardIndex() int   { return a.Shard }
func (a MessageCreate) ShardIndex() int     { return a.Shard }
func (a MessageUpdate) ShardIndex() int     { return a.Shard }
func (a MessageDelete) ShardIndex() int     { return a.Shard }
func (a MessageDeleteBulk) ShardIndex() int { return a.Shard }
func (a PresenceUpdate) ShardIndex() int    { return a.Shard }
func (a UserUpdate) ShardIndex() int        { return a.Shard }
func (a VoiceStateUpdate) ShardIndex() int  { return a.Shard }

// sessionWide is implemented by actions that concern the whole session of a
// shard rather than one guild.
type sessionWide interface {
	sessionWide()
}

func (Ready) sessionWide()           {}
func (InvalidateShard) sessionWide() {}
func (UserUpdate) sessionWide()      {}
