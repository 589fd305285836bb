// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package entity defines the identifiers and records cached from gateway
// events. The records carry the fields the cache layer indexes and the
// fields most commonly read back; the raw event remains available to
// subscribers for everything else.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// An ID is a snowflake identifier. The zero ID is not a valid identifier.
type ID uint64

// Epoch is the time origin of snowflake timestamps.
var Epoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseID parses a decimal snowflake.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return ID(v), nil
}

// String renders id in decimal.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// IsValid reports whether id is non-zero.
func (id ID) IsValid() bool { return id != 0 }

// Time returns the creation time encoded in id.
func (id ID) Time() time.Time { return Epoch.Add(time.Duration(id>>22) * time.Millisecond) }

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater than o.
func (id ID) Compare(o ID) int {
	switch {
	case id < o:
		return -1
	case id > o:
		return 1
	}
	return 0
}

// MarshalJSON encodes id as a JSON string, as the gateway does.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts a snowflake encoded as a JSON string or number. A
// JSON null decodes as zero.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if s == "" {
		*id = 0
		return nil
	}
	v, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// User is a user account.
type User struct {
	ID            ID     `json:"id" bson:"id"`
	Username      string `json:"username" bson:"username"`
	Discriminator string `json:"discriminator,omitempty" bson:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty" bson:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty" bson:"bot,omitempty"`
}

// Member is a user's membership in a guild.
type Member struct {
	GuildID  ID        `json:"guild_id,omitempty" bson:"guild_id"`
	User     *User     `json:"user,omitempty" bson:"-"`
	UserID   ID        `json:"-" bson:"user_id"`
	Nick     string    `json:"nick,omitempty" bson:"nick,omitempty"`
	Roles    []ID      `json:"roles" bson:"roles"`
	JoinedAt time.Time `json:"joined_at" bson:"joined_at"`
	Pending  bool      `json:"pending,omitempty" bson:"pending,omitempty"`
}

// Role is a guild role.
type Role struct {
	GuildID     ID     `json:"guild_id,omitempty" bson:"guild_id"`
	ID          ID     `json:"id" bson:"id"`
	Name        string `json:"name" bson:"name"`
	Color       int    `json:"color" bson:"color"`
	Position    int    `json:"position" bson:"position"`
	Permissions string `json:"permissions" bson:"permissions"`
	Managed     bool   `json:"managed,omitempty" bson:"managed,omitempty"`
}

// Emoji is a custom guild emoji.
type Emoji struct {
	GuildID  ID     `json:"guild_id,omitempty" bson:"guild_id"`
	ID       ID     `json:"id" bson:"id"`
	Name     string `json:"name" bson:"name"`
	Animated bool   `json:"animated,omitempty" bson:"animated,omitempty"`
}

// Channel is a guild or private channel.
type Channel struct {
	ID       ID     `json:"id" bson:"id"`
	Type     int    `json:"type" bson:"type"`
	GuildID  ID     `json:"guild_id,omitempty" bson:"guild_id,omitempty"`
	Name     string `json:"name,omitempty" bson:"name,omitempty"`
	Topic    string `json:"topic,omitempty" bson:"topic,omitempty"`
	Position int    `json:"position,omitempty" bson:"position,omitempty"`
	ParentID ID     `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
}

// Guild is a guild and, when it is delivered by a guild create event, the
// content that arrives with it.
type Guild struct {
	ID          ID     `json:"id" bson:"id"`
	Name        string `json:"name" bson:"name"`
	OwnerID     ID     `json:"owner_id" bson:"owner_id"`
	MemberCount int    `json:"member_count,omitempty" bson:"member_count,omitempty"`
	Large       bool   `json:"large,omitempty" bson:"large,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty" bson:"unavailable,omitempty"`

	Roles       []Role       `json:"roles,omitempty" bson:"-"`
	Emojis      []Emoji      `json:"emojis,omitempty" bson:"-"`
	Channels    []Channel    `json:"channels,omitempty" bson:"-"`
	Members     []Member     `json:"members,omitempty" bson:"-"`
	Presences   []Presence   `json:"presences,omitempty" bson:"-"`
	VoiceStates []VoiceState `json:"voice_states,omitempty" bson:"-"`
}

// Message is a channel message.
type Message struct {
	ID        ID        `json:"id" bson:"id"`
	ChannelID ID        `json:"channel_id" bson:"channel_id"`
	GuildID   ID        `json:"guild_id,omitempty" bson:"guild_id,omitempty"`
	Author    *User     `json:"author,omitempty" bson:"author,omitempty"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	EditedAt  time.Time `json:"edited_timestamp,omitzero" bson:"edited_timestamp,omitempty"`
}

// Activity is one entry of a user's presence.
type Activity struct {
	Name string `json:"name" bson:"name"`
	Type int    `json:"type" bson:"type"`
	URL  string `json:"url,omitempty" bson:"url,omitempty"`
}

// Presence is a user's status in a guild.
type Presence struct {
	GuildID    ID         `json:"guild_id,omitempty" bson:"guild_id"`
	User       PartialRef `json:"user" bson:"user"`
	Status     string     `json:"status" bson:"status"`
	Activities []Activity `json:"activities,omitempty" bson:"activities,omitempty"`
}

// PartialRef is a reference to a user carried by presence updates, which
// may omit everything but the ID.
type PartialRef struct {
	ID ID `json:"id" bson:"id"`
}

// VoiceState is a user's voice connection state in a guild.
type VoiceState struct {
	GuildID   ID     `json:"guild_id,omitempty" bson:"guild_id"`
	ChannelID ID     `json:"channel_id,omitempty" bson:"channel_id,omitempty"`
	UserID    ID     `json:"user_id" bson:"user_id"`
	SessionID string `json:"session_id" bson:"session_id"`
	SelfMute  bool   `json:"self_mute,omitempty" bson:"self_mute,omitempty"`
	SelfDeaf  bool   `json:"self_deaf,omitempty" bson:"self_deaf,omitempty"`
}

// UnmarshalJSON decodes a member, recording the ID of its user.
func (m *Member) UnmarshalJSON(data []byte) error {
	type plain Member
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	if m.User != nil {
		m.UserID = m.User.ID
	}
	return nil
}
