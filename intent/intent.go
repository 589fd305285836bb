// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package intent defines the capability flags negotiated with the gateway
// when a session identifies. The intents of a session determine which event
// categories the remote service delivers, and which local caches are
// provisioned for them.
//
// A [Set] is an immutable value; all operations return a new set:
//
//	s := intent.NonPrivileged().Or(intent.Of(intent.GuildMembers))
//	if s.Contains(intent.GuildPresences) { ... }
package intent

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// An Intent is a single capability flag. Its value is the bit position of the
// flag in the raw gateway intent mask.
type Intent uint

// Intent flags defined by the gateway protocol.
const (
	Guilds                      Intent = 0
	GuildMembers                Intent = 1
	GuildModeration             Intent = 2
	GuildEmojis                 Intent = 3
	GuildIntegrations           Intent = 4
	GuildWebhooks               Intent = 5
	GuildInvites                Intent = 6
	GuildVoiceStates            Intent = 7
	GuildPresences              Intent = 8
	GuildMessages               Intent = 9
	GuildMessageReactions       Intent = 10
	GuildMessageTyping          Intent = 11
	DirectMessages              Intent = 12
	DirectMessageReactions      Intent = 13
	DirectMessageTyping         Intent = 14
	MessageContent              Intent = 15
	GuildScheduledEvents        Intent = 16
	AutoModerationConfiguration Intent = 20
	AutoModerationExecution     Intent = 21
)

var intentNames = map[Intent]string{
	Guilds:                      "GUILDS",
	GuildMembers:                "GUILD_MEMBERS",
	GuildModeration:             "GUILD_MODERATION",
	GuildEmojis:                 "GUILD_EMOJIS",
	GuildIntegrations:           "GUILD_INTEGRATIONS",
	GuildWebhooks:               "GUILD_WEBHOOKS",
	GuildInvites:                "GUILD_INVITES",
	GuildVoiceStates:            "GUILD_VOICE_STATES",
	GuildPresences:              "GUILD_PRESENCES",
	GuildMessages:               "GUILD_MESSAGES",
	GuildMessageReactions:       "GUILD_MESSAGE_REACTIONS",
	GuildMessageTyping:          "GUILD_MESSAGE_TYPING",
	DirectMessages:              "DIRECT_MESSAGES",
	DirectMessageReactions:      "DIRECT_MESSAGE_REACTIONS",
	DirectMessageTyping:         "DIRECT_MESSAGE_TYPING",
	MessageContent:              "MESSAGE_CONTENT",
	GuildScheduledEvents:        "GUILD_SCHEDULED_EVENTS",
	AutoModerationConfiguration: "AUTO_MODERATION_CONFIGURATION",
	AutoModerationExecution:     "AUTO_MODERATION_EXECUTION",
}

// String returns the protocol name of the intent.
func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return fmt.Sprintf("INTENT_%d", uint(i))
}

// Parse returns the intent with the given protocol name. Matching ignores
// case, and the legacy name GUILD_BANS is accepted for GuildModeration.
func Parse(name string) (Intent, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	if want == "GUILD_BANS" {
		return GuildModeration, nil
	}
	for i, s := range intentNames {
		if s == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", name)
}

// A Set is an immutable set of intents. The zero value is the empty set.
type Set uint64

var all = func() Set {
	var s Set
	for i := range intentNames {
		s |= 1 << i
	}
	return s
}()

// None returns the empty set.
func None() Set { return 0 }

// All returns the set of every known intent.
func All() Set { return all }

// NonPrivileged returns the set of all intents that do not require special
// approval: All without GuildPresences, GuildMembers, and MessageContent.
func NonPrivileged() Set { return All().AndNot(Of(GuildPresences, GuildMembers, MessageContent)) }

// Of returns a set containing exactly the given intents.
func Of(intents ...Intent) Set {
	var s Set
	for _, i := range intents {
		s |= 1 << i
	}
	return s & all
}

// FromRaw returns the set described by a raw protocol mask. Bits that do not
// correspond to a known intent are discarded.
func FromRaw(raw uint64) Set { return Set(raw) & all }

// ParseSet parses a list of intent names into a set.
func ParseSet(names []string) (Set, error) {
	var s Set
	var errs []error
	for _, name := range names {
		i, err := Parse(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s |= Of(i)
	}
	return s, errors.Join(errs...)
}

// Raw returns the protocol mask for s.
func (s Set) Raw() uint64 { return uint64(s) }

// Contains reports whether i is in s.
func (s Set) Contains(i Intent) bool { return i < 64 && s&(1<<i) != 0 }

// ContainsAll reports whether every member of o is in s.
func (s Set) ContainsAll(o Set) bool { return s&o == o }

// And returns the intersection of s and o.
func (s Set) And(o Set) Set { return s & o }

// Or returns the union of s and o.
func (s Set) Or(o Set) Set { return s | o }

// Xor returns the symmetric difference of s and o.
func (s Set) Xor(o Set) Set { return s ^ o }

// AndNot returns the members of s that are not in o.
func (s Set) AndNot(o Set) Set { return s &^ o }

// Not returns the complement of s relative to All.
func (s Set) Not() Set { return all &^ s }

// Len reports the number of intents in s.
func (s Set) Len() int { return bits.OnesCount64(uint64(s)) }

// IsEmpty reports whether s has no members.
func (s Set) IsEmpty() bool { return s == 0 }

// Intents returns the members of s in increasing bit order.
func (s Set) Intents() []Intent {
	out := make([]Intent, 0, s.Len())
	for v := uint64(s); v != 0; v &= v - 1 {
		out = append(out, Intent(bits.TrailingZeros64(v)))
	}
	return out
}

// String renders s as a bracketed list of intent names.
func (s Set) String() string {
	names := make([]string, 0, s.Len())
	for _, i := range s.Intents() {
		names = append(names, i.String())
	}
	return "[" + strings.Join(names, " ") + "]"
}
