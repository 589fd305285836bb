// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package intent_test

import (
	"testing"

	"github.com/creachadair/gateway/intent"
	"github.com/google/go-cmp/cmp"
)

var every = []intent.Intent{
	intent.Guilds, intent.GuildMembers, intent.GuildModeration, intent.GuildEmojis,
	intent.GuildIntegrations, intent.GuildWebhooks, intent.GuildInvites,
	intent.GuildVoiceStates, intent.GuildPresences, intent.GuildMessages,
	intent.GuildMessageReactions, intent.GuildMessageTyping, intent.DirectMessages,
	intent.DirectMessageReactions, intent.DirectMessageTyping, intent.MessageContent,
	intent.GuildScheduledEvents, intent.AutoModerationConfiguration,
	intent.AutoModerationExecution,
}

func TestNone(t *testing.T) {
	s := intent.None()
	if n := s.Len(); n != 0 {
		t.Errorf("None().Len() = %d, want 0", n)
	}
	for _, i := range every {
		if s.Contains(i) {
			t.Errorf("None() contains %v", i)
		}
	}
	if !s.IsEmpty() {
		t.Error("None() is not empty")
	}
}

func TestAll(t *testing.T) {
	s := intent.All()
	if got, want := s.Len(), len(every); got != want {
		t.Errorf("All().Len() = %d, want %d", got, want)
	}
	for _, i := range every {
		if !s.Contains(i) {
			t.Errorf("All() is missing %v", i)
		}
		if s.AndNot(intent.Of(i)).Contains(i) {
			t.Errorf("All().AndNot(Of(%v)) contains %v", i, i)
		}
	}
	if got := s.Not(); !got.IsEmpty() {
		t.Errorf("All().Not() = %v, want empty", got)
	}
}

func TestNonPrivileged(t *testing.T) {
	s := intent.NonPrivileged()
	for _, i := range []intent.Intent{intent.GuildPresences, intent.GuildMembers, intent.MessageContent} {
		if s.Contains(i) {
			t.Errorf("NonPrivileged contains privileged %v", i)
		}
	}
	if got, want := s.Len(), len(every)-3; got != want {
		t.Errorf("NonPrivileged().Len() = %d, want %d", got, want)
	}
}

func TestOperations(t *testing.T) {
	a := intent.Of(intent.Guilds, intent.GuildMessages, intent.GuildPresences)
	b := intent.Of(intent.GuildMessages, intent.DirectMessages)

	tests := []struct {
		name string
		got  intent.Set
		want []intent.Intent
	}{
		{"And", a.And(b), []intent.Intent{intent.GuildMessages}},
		{"Or", a.Or(b), []intent.Intent{intent.Guilds, intent.GuildPresences, intent.GuildMessages, intent.DirectMessages}},
		{"Xor", a.Xor(b), []intent.Intent{intent.Guilds, intent.GuildPresences, intent.DirectMessages}},
		{"AndNot", a.AndNot(b), []intent.Intent{intent.Guilds, intent.GuildPresences}},
		{"Raw", intent.FromRaw(1<<0 | 1<<9 | 1<<63), []intent.Intent{intent.Guilds, intent.GuildMessages}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.got.Intents()); diff != "" {
				t.Errorf("Intents (-want, +got):\n%s", diff)
			}
		})
	}

	if !a.Or(b).ContainsAll(b) {
		t.Error("a|b does not contain b")
	}
	if got, want := intent.Of(intent.Guilds, intent.GuildMessages).Raw(), uint64(1|1<<9); got != want {
		t.Errorf("Raw = %d, want %d", got, want)
	}
}

func TestParseSet(t *testing.T) {
	s, err := intent.ParseSet([]string{"guilds", "GUILD_BANS", " message_content "})
	if err != nil {
		t.Fatalf("ParseSet: unexpected error: %v", err)
	}
	want := intent.Of(intent.Guilds, intent.GuildModeration, intent.MessageContent)
	if s != want {
		t.Errorf("ParseSet: got %v, want %v", s, want)
	}
	if _, err := intent.ParseSet([]string{"GUILDS", "BOGUS"}); err == nil {
		t.Error("ParseSet with unknown name: got nil error")
	} else {
		t.Logf("Error OK: %v", err)
	}
	if got, want := intent.Of(intent.Guilds, intent.DirectMessages).String(), "[GUILDS DIRECT_MESSAGES]"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}
