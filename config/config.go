// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package config loads the settings of a gateway client from a file and the
// environment, and builds the session options, state backends, and logger
// they describe.
//
// Settings are read from an optional TOML or YAML file, and any setting can be
// overridden by an environment variable named with the prefix GATEWAY_ and
// the key in upper case with dots replaced by underscores, for example
// GATEWAY_TOKEN or GATEWAY_STORE_BACKEND.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/creachadair/gateway"
	"github.com/creachadair/gateway/backend/memory"
	"github.com/creachadair/gateway/backend/mongostore"
	"github.com/creachadair/gateway/backoff"
	"github.com/creachadair/gateway/channel"
	"github.com/creachadair/gateway/closecode"
	"github.com/creachadair/gateway/intent"
	"github.com/creachadair/gateway/logging"
	"github.com/creachadair/gateway/shards"
	"github.com/creachadair/gateway/state"
	"github.com/creachadair/gateway/store"
	"github.com/spf13/viper"
)

// DefaultURL is the gateway URL used when none is configured.
const DefaultURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Config is the settings of a gateway client.
type Config struct {
	Token          string   `mapstructure:"token"`
	URL            string   `mapstructure:"url"`
	Intents        []string `mapstructure:"intents"`
	LargeThreshold int      `mapstructure:"large_threshold"`
	CloseCodes     string   `mapstructure:"close_codes"` // path to a close code table

	Shards struct {
		Count int   `mapstructure:"count"`
		IDs   []int `mapstructure:"ids"` // empty for every shard
	} `mapstructure:"shards"`

	Reconnect struct {
		FirstBackoff time.Duration `mapstructure:"first_backoff"`
		MaxBackoff   time.Duration `mapstructure:"max_backoff"`
		Jitter       float64       `mapstructure:"jitter"`
		MaxRetries   int           `mapstructure:"max_retries"` // negative for no limit
	} `mapstructure:"reconnect"`

	Outbound struct {
		Limit  int           `mapstructure:"limit"` // negative for no limit
		Window time.Duration `mapstructure:"window"`
	} `mapstructure:"outbound"`

	Log struct {
		Level string `mapstructure:"level"`
		Color bool   `mapstructure:"color"`
	} `mapstructure:"log"`

	Store struct {
		Backend  string `mapstructure:"backend"` // memory, mongo, or none
		MongoURI string `mapstructure:"mongo_uri"`
		Database string `mapstructure:"database"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"store"`

	intents intent.Set
	closes  *closecode.Table
	level   slog.Level
}

var defaults = map[string]any{
	"token":                   "",
	"url":                     DefaultURL,
	"intents":                 []string{},
	"large_threshold":         0,
	"close_codes":             "",
	"shards.count":            1,
	"shards.ids":              []int{},
	"reconnect.first_backoff": 2 * time.Second,
	"reconnect.max_backoff":   120 * time.Second,
	"reconnect.jitter":        0.5,
	"reconnect.max_retries":   -1,
	"outbound.limit":          gateway.DefaultOutboundLimit,
	"outbound.window":         time.Minute,
	"log.level":               "info",
	"log.color":               true,
	"store.backend":           "memory",
	"store.mongo_uri":         "",
	"store.database":          "gateway",
	"store.prefix":            "",
}

// New returns a viper instance with the defaults and environment bindings of
// a gateway configuration.
func New() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path, if path is not empty, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if len(c.Intents) == 0 {
		c.intents = intent.NonPrivileged()
	} else if s, err := intent.ParseSet(c.Intents); err != nil {
		errs = append(errs, fmt.Errorf("intents: %w", err))
	} else {
		c.intents = s
	}
	if _, err := shards.Shards(c.Shards.Count, c.Shards.IDs...); err != nil {
		errs = append(errs, fmt.Errorf("shards: %w", err))
	}
	if _, err := backoff.New(c.backoffOptions()); err != nil {
		errs = append(errs, fmt.Errorf("reconnect: %w", err))
	}
	if c.Outbound.Window <= 0 {
		errs = append(errs, fmt.Errorf("outbound: window %v is not positive", c.Outbound.Window))
	}
	if lvl, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	} else {
		c.level = lvl
	}
	switch c.Store.Backend {
	case "memory", "none":
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store: mongo backend requires mongo_uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store.Backend))
	}
	if c.CloseCodes != "" {
		t, err := closecode.LoadFile(c.CloseCodes)
		if err != nil {
			errs = append(errs, fmt.Errorf("close codes: %w", err))
		}
		c.closes = t
	}
	return errors.Join(errs...)
}

func (c *Config) backoffOptions() backoff.Options {
	opts := backoff.Options{
		FirstBackoff: c.Reconnect.FirstBackoff,
		MaxBackoff:   c.Reconnect.MaxBackoff,
		JitterFactor: c.Reconnect.Jitter,
		NoJitter:     c.Reconnect.Jitter == 0,
	}
	if c.Reconnect.MaxRetries >= 0 {
		opts.MaxRetries = backoff.Retries(c.Reconnect.MaxRetries)
	}
	return opts
}

// IntentSet reports the intents requested by c.
func (c *Config) IntentSet() intent.Set { return c.intents }

// ShardInfo reports the identities of the shards run by c.
func (c *Config) ShardInfo() []gateway.ShardInfo {
	infos, _ := shards.Shards(c.Shards.Count, c.Shards.IDs...) // checked by validate
	return infos
}

// SessionOptions returns the options for a session running the given shard.
// The caller may set the Store and Logger fields before use.
func (c *Config) SessionOptions(shard gateway.ShardInfo) (gateway.Options, error) {
	if shard.Count != c.Shards.Count || shard.Index < 0 || shard.Index >= c.Shards.Count {
		return gateway.Options{}, fmt.Errorf("shard %v is not configured", shard)
	}
	return gateway.Options{
		Token:          c.Token,
		URL:            c.URL,
		Shard:          shard,
		Intents:        c.intents,
		LargeThreshold: c.LargeThreshold,
		Dialer:         channel.WebSocket{},
		Reconnect:      c.backoffOptions(),
		Closes:         c.closes,
		OutboundLimit:  c.Outbound.Limit,
		OutboundWindow: c.Outbound.Window,
	}, nil
}

// Factory opens the state backends selected by c. The returned close
// function releases any connection the factory holds.
func (c *Config) Factory(ctx context.Context) (state.Factory, func(context.Context) error, error) {
	nop := func(context.Context) error { return nil }
	switch c.Store.Backend {
	case "none":
		return state.FactoryFunc(func(context.Context, store.Flag) (state.Backend, error) {
			return state.Noop(), nil
		}), nop, nil
	case "mongo":
		f, err := mongostore.Open(ctx, c.Store.MongoURI, c.Store.Database, &mongostore.Options{
			Prefix: c.Store.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo store: %w", err)
		}
		return f, f.Close, nil
	default:
		return memory.NewFactory(), nop, nil
	}
}

// Logger returns a logger that writes to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(logging.NewHandler(w, &logging.Options{
		Level:   c.level,
		NoColor: !c.Log.Color,
	}))
}

// Group constructs sessions for the shards run by c, which share st and log.
func (c *Config) Group(st *store.Store, log *slog.Logger) (*shards.Group, error) {
	return shards.NewGroupOf(c.ShardInfo(), func(info gateway.ShardInfo) gateway.Options {
		opts, _ := c.SessionOptions(info) // shards come from c
		opts.Store, opts.Logger = st, log
		return opts
	})
}
