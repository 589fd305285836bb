// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package store

import "github.com/creachadair/gateway/entity"

// Read actions query cached state. A query against a category that is not
// cached reports an empty result.

// CountTotal counts every cached entity of a category.
type CountTotal struct {
	Returns[int64]
	Category Flag
}

// CountInGuild counts the cached entities of a category in one guild.
type CountInGuild struct {
	Returns[int64]
	Category Flag
	GuildID  entity.ID
}

// GetChannels lists all cached channels.
type GetChannels struct{ Returns[[]*entity.Channel] }

// GetChannelsInGuild lists the cached channels of a guild.
type GetChannelsInGuild struct {
	Returns[[]*entity.Channel]
	GuildID entity.ID
}

// GetChannelByID finds one channel. GuildID is optional, and is used only to
// route the query to the layout holding the guild.
type GetChannelByID struct {
	Returns[*entity.Channel]
	GuildID   entity.ID
	ChannelID entity.ID
}

// GetEmojisInGuild lists the cached emojis of a guild.
type GetEmojisInGuild struct {
	Returns[[]*entity.Emoji]
	GuildID entity.ID
}

// GetEmojiByID finds one emoji.
type GetEmojiByID struct {
	Returns[*entity.Emoji]
	GuildID, EmojiID entity.ID
}

// GetGuilds lists all cached guilds.
type GetGuilds struct{ Returns[[]*entity.Guild] }

// GetGuildByID finds one guild.
type GetGuildByID struct {
	Returns[*entity.Guild]
	GuildID entity.ID
}

// GetMembersInGuild lists the cached members of a guild.
type GetMembersInGuild struct {
	Returns[[]*entity.Member]
	GuildID entity.ID
}

// GetMemberByID finds one member of a guild.
type GetMemberByID struct {
	Returns[*entity.Member]
	GuildID, UserID entity.ID
}

// GetMessagesInChannel lists the cached messages of a channel. GuildID is
// optional, as for GetChannelByID.
type GetMessagesInChannel struct {
	Returns[[]*entity.Message]
	GuildID   entity.ID
	ChannelID entity.ID
}

// GetMessageByID finds one message. GuildID is optional, as for
// GetChannelByID.
type GetMessageByID struct {
	Returns[*entity.Message]
	GuildID              entity.ID
	ChannelID, MessageID entity.ID
}

// GetPresencesInGuild lists the cached presences of a guild.
type GetPresencesInGuild struct {
	Returns[[]*entity.Presence]
	GuildID entity.ID
}

// GetPresenceByID finds the presence of one user in a guild.
type GetPresenceByID struct {
	Returns[*entity.Presence]
	GuildID, UserID entity.ID
}

// GetRolesInGuild lists the cached roles of a guild.
type GetRolesInGuild struct {
	Returns[[]*entity.Role]
	GuildID entity.ID
}

// GetRoleByID finds one role.
type GetRoleByID struct {
	Returns[*entity.Role]
	GuildID, RoleID entity.ID
}

// GetUsers lists all cached users.
type GetUsers struct{ Returns[[]*entity.User] }

// GetUserByID finds one user.
type GetUserByID struct {
	Returns[*entity.User]
	UserID entity.ID
}

// GetSelfUser finds the user the client is logged in as.
type GetSelfUser struct{ Returns[*entity.User] }

// GetVoiceStatesInGuild lists the cached voice states of a guild.
type GetVoiceStatesInGuild struct {
	Returns[[]*entity.VoiceState]
	GuildID entity.ID
}

// GetVoiceStatesInChannel lists the cached voice states of a voice channel.
type GetVoiceStatesInChannel struct {
	Returns[[]*entity.VoiceState]
	GuildID, ChannelID entity.ID
}

// GetVoiceStateByID finds the voice state of one user in a guild.
type GetVoiceStateByID struct {
	Returns[*entity.VoiceState]
	GuildID, UserID entity.ID
}

// GuildScoped is implemented by actions that concern a single guild.
type GuildScoped interface {
	GuildScope() entity.ID
}

func (a CountInGuild) GuildScope() entity.ID            { return a.GuildID }
func (a GetChannelsInGuild) GuildScope() entity.ID      { return a.GuildID }
func (a GetChannelByID) GuildScope() entity.ID          { return a.GuildID }
func (a GetEmojisInGuild) GuildScope() entity.ID        { return a.GuildID }
func (a GetEmojiByID) GuildScope() entity.ID            { return a.GuildID }
func (a GetGuildByID) GuildScope() entity.ID            { return a.GuildID }
func (a GetMembersInGuild) GuildScope() entity.ID       { return a.GuildID }
func (a GetMemberByID) GuildScope() entity.ID           { return a.GuildID }
func (a GetMessagesInChannel) GuildScope() entity.ID    { return a.GuildID }
func (a GetMessageByID) GuildScope() entity.ID          { return a.GuildID }
func (a GetPresencesInGuild) GuildScope() entity.ID     { return a.GuildID }
func (a GetPresenceByID) GuildScope() entity.ID         { return a.GuildID }
func (a GetRolesInGuild) GuildScope() entity.ID         { return a.GuildID }
func (a GetRoleByID) GuildScope() entity.ID             { return a.GuildID }
func (a GetVoiceStatesInGuild) GuildScope() entity.ID   { return a.GuildID }
func (a GetVoiceStatesInChannel) GuildScope() entity.ID { return a.GuildID }
func (a GetVoiceStateByID) GuildScope() entity.ID       { return a.GuildID }
