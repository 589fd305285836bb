// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package logging provides a compact, optionally colored [slog.Handler] for
// gateway clients. Each record is written on one line:
//
//	2024-05-01T12:30:00.000 INFO  [3] connected session=abc
//
// where the bracketed value is the "shard" attribute, if present.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ShardKey is the attribute key rendered in brackets before the message.
const ShardKey = "shard"

// Options are optional settings for a Handler. A nil *Options is ready for
// use and provides defaults as described.
type Options struct {
	// Level is the minimum level logged. If nil, the default is Info.
	Level slog.Leveler

	// NoColor disables color escapes in the output.
	NoColor bool

	// TimeFormat is the layout for record times. If empty, the default is
	// "2006-01-02T15:04:05.000". Records with zero times omit the time.
	TimeFormat string
}

func (o *Options) level() slog.Leveler {
	if o == nil || o.Level == nil {
		return slog.LevelInfo
	}
	return o.Level
}

func (o *Options) timeFormat() string {
	if o == nil || o.TimeFormat == "" {
		return "2006-01-02T15:04:05.000"
	}
	return o.TimeFormat
}

// palette holds the colors used by a handler.
type palette struct {
	time, key, shard       *color.Color
	debug, info, warn, err *color.Color
}

func newPalette(noColor bool) *palette {
	p := &palette{
		time:  color.New(color.FgGreen),
		key:   color.New(color.FgCyan),
		shard: color.New(color.FgHiWhite, color.Bold),
		debug: color.New(color.FgMagenta),
		info:  color.New(color.FgBlue),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{p.time, p.key, p.shard, p.debug, p.info, p.warn, p.err} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

func (p *palette) level(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return p.err
	case l >= slog.LevelWarn:
		return p.warn
	case l >= slog.LevelInfo:
		return p.info
	default:
		return p.debug
	}
}

// output is the destination shared by a handler and its derivatives.
type output struct {
	μ sync.Mutex
	w io.Writer
}

// Handler is a [slog.Handler] that writes one line per record.
type Handler struct {
	out   *output
	opts  Options
	pal   *palette
	shard string // preformatted shard attribute, or ""
	attrs string // preformatted attributes from WithAttrs
	group string // group prefix for keys, with a trailing dot
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler constructs a handler that writes records to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	h := &Handler{out: &output{w: w}, pal: newPalette(opts != nil && opts.NoColor)}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled implements part of [slog.Handler].
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.level().Level()
}

// Handle implements part of [slog.Handler].
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	if !r.Time.IsZero() {
		buf.WriteString(h.pal.time.Sprint(r.Time.Format(h.opts.timeFormat())))
		buf.WriteByte(' ')
	}
	buf.WriteString(h.pal.level(r.Level).Sprintf("%-5s", r.Level.String()))

	shard := h.shard
	var rest bytes.Buffer
	r.Attrs(func(a slog.Attr) bool {
		if h.group == "" && a.Key == ShardKey && shard == "" {
			shard = a.Value.Resolve().String()
			return true
		}
		h.appendAttr(&rest, h.group, a)
		return true
	})
	if shard != "" {
		buf.WriteString(" [" + h.pal.shard.Sprint(shard) + "]")
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.WriteString(h.attrs)
	buf.Write(rest.Bytes())
	buf.WriteByte('\n')

	h.out.μ.Lock()
	defer h.out.μ.Unlock()
	_, err := h.out.w.Write(buf.Bytes())
	return err
}

func (h *Handler) appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			h.appendAttr(buf, prefix, g)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(h.pal.key.Sprint(prefix + a.Key))
	buf.WriteByte('=')
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindString && (s == "" || strings.ContainsAny(s, " \t\n\"=")) {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// WithAttrs implements part of [slog.Handler].
func (h *Handler) WithAttrs(as []slog.Attr) slog.Handler {
	if len(as) == 0 {
		return h
	}
	c := *h
	var buf bytes.Buffer
	for _, a := range as {
		if c.group == "" && a.Key == ShardKey {
			c.shard = a.Value.Resolve().String()
			continue
		}
		h.appendAttr(&buf, c.group, a)
	}
	c.attrs += buf.String()
	return &c
}

// WithGroup implements part of [slog.Handler].
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group += name + "."
	return &c
}

// ParseLevel parses a level name such as "debug" or "WARN+2". An empty
// string is Info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
