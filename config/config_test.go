// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/gateway"
	"github.com/creachadair/gateway/closecode"
	"github.com/creachadair/gateway/config"
	"github.com/creachadair/gateway/intent"
	"github.com/creachadair/gateway/state"
	"github.com/creachadair/gateway/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN", "env-token")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, config.DefaultURL, cfg.URL)
	assert.Equal(t, intent.NonPrivileged(), cfg.IntentSet())
	assert.Equal(t, []gateway.ShardInfo{{Index: 0, Count: 1}}, cfg.ShardInfo())
	assert.Equal(t, 2*time.Second, cfg.Reconnect.FirstBackoff)
	assert.Equal(t, "memory", cfg.Store.Backend)

	opts, err := cfg.SessionOptions(gateway.ShardInfo{Index: 0, Count: 1})
	require.NoError(t, err)
	assert.Nil(t, opts.Reconnect.MaxRetries)
	assert.Nil(t, opts.Closes)
	assert.NotNil(t, opts.Dialer)
	assert.Equal(t, gateway.DefaultOutboundLimit, opts.OutboundLimit)
	assert.Equal(t, time.Minute, opts.OutboundWindow)

	_, err = cfg.SessionOptions(gateway.ShardInfo{Index: 1, Count: 2})
	assert.Error(t, err)
}

func TestTOML(t *testing.T) {
	closes := writeFile(t, "closes.toml", mustEncode(t, closecode.New(9).Set(closecode.Fatal, 4004), closecode.TOML))
	path := writeFile(t, "gateway.toml", `
token = "file-token"
intents = ["guilds", "GUILD_MESSAGES", "message_content"]
large_threshold = 100
close_codes = "`+filepath.ToSlash(closes)+`"

[shards]
count = 4
ids = [1, 3]

[reconnect]
first_backoff = "5s"
max_backoff = "1m"
jitter = 0.25
max_retries = 3

[outbound]
limit = 60
window = "30s"

[log]
level = "debug"
color = false
`)
	t.Setenv("GATEWAY_LARGE_THRESHOLD", "200")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, 200, cfg.LargeThreshold)
	assert.Equal(t, intent.Of(intent.Guilds, intent.GuildMessages, intent.MessageContent), cfg.IntentSet())
	assert.Equal(t, []gateway.ShardInfo{{Index: 1, Count: 4}, {Index: 3, Count: 4}}, cfg.ShardInfo())

	opts, err := cfg.SessionOptions(gateway.ShardInfo{Index: 3, Count: 4})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, opts.Reconnect.FirstBackoff)
	assert.Equal(t, time.Minute, opts.Reconnect.MaxBackoff)
	assert.InDelta(t, 0.25, opts.Reconnect.JitterFactor, 1e-9)
	require.NotNil(t, opts.Reconnect.MaxRetries)
	assert.Equal(t, 3, *opts.Reconnect.MaxRetries)
	require.NotNil(t, opts.Closes)
	assert.Equal(t, 9, opts.Closes.Version())
	assert.Equal(t, closecode.Fatal, opts.Closes.Classify(4004))
	assert.Equal(t, 60, opts.OutboundLimit)
	assert.Equal(t, 30*time.Second, opts.OutboundWindow)

	var buf bytes.Buffer
	cfg.Logger(&buf).Debug("hello", "shard", 3)
	assert.Contains(t, buf.String(), "DEBUG [3] hello")
	assert.NotContains(t, buf.String(), "\x1b[")

	g, err := cfg.Group(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, gateway.ShardInfo{Index: 3, Count: 4}, g.Session(1).Shard())
}

func TestYAML(t *testing.T) {
	path := writeFile(t, "gateway.yaml", `
token: yaml-token
url: wss://example.com/gateway
store:
  backend: none
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/gateway", cfg.URL)

	f, closeFn, err := cfg.Factory(context.Background())
	require.NoError(t, err)
	defer closeFn(context.Background())

	b, err := f.Provide(context.Background(), store.FlagGuild)
	require.NoError(t, err)
	assert.True(t, state.IsNoop(b))
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"no token", `url = "x"`},
		{"bad intent", "token = \"x\"\nintents = [\"GUILD_PARTIES\"]"},
		{"bad shards", "token = \"x\"\n[shards]\ncount = 2\nids = [2]"},
		{"bad backoff", "token = \"x\"\n[reconnect]\nfirst_backoff = \"1s\""},
		{"bad window", "token = \"x\"\n[outbound]\nwindow = \"0s\""},
		{"bad level", "token = \"x\"\n[log]\nlevel = \"loud\""},
		{"bad backend", "token = \"x\"\n[store]\nbackend = \"redis\""},
		{"mongo without uri", "token = \"x\"\n[store]\nbackend = \"mongo\""},
		{"missing closes", "token = \"x\"\nclose_codes = \"nonesuch.toml\""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "gateway.toml", tc.content))
			require.Error(t, err)
			t.Logf("Error OK: %v", err)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestMemoryFactory(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN", "x")
	cfg, err := config.Load("")
	require.NoError(t, err)

	f, closeFn, err := cfg.Factory(context.Background())
	require.NoError(t, err)
	require.NoError(t, closeFn(context.Background()))

	h, err := state.NewHolder(context.Background(), f, cfg.IntentSet(), cfg.Logger(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.True(t, h.Active(store.FlagGuild))
}

func mustEncode(t *testing.T, tab *closecode.Table, f closecode.Format) string {
	t.Helper()
	data, err := tab.Encode(f)
	require.NoError(t, err)
	return string(data)
}
