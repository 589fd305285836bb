// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package closecode defines a versioned mapping from gateway close codes to
// their disconnect classification. The mapping is data, not code: a table can
// be loaded from a TOML or YAML file so that a change in the remote service's
// protocol version does not require changes to the session state machine.
//
// # Usage
//
// Start from the built-in table for the current protocol version:
//
//	tab := closecode.Default()
//
// Or build one explicitly. Set returns the table to allow chaining:
//
//	tab := closecode.New(10).
//	   Set(closecode.Fatal, 4004, 4014).
//	   Set(closecode.Reidentify, 4007, 4009)
//
// Codes are classified with Classify, which uses the fallback class for codes
// the table does not mention:
//
//	switch tab.Classify(4004) {
//	case closecode.Fatal:
//	   ...
//	}
//
// A table file has this shape (TOML shown; the YAML keys are the same):
//
//	version = 10
//	fallback = "resumable"
//	resumable = [4000, 4001]
//	reidentify = [4007, 4009]
//	fatal = [4004]
//
//	[names]
//	4004 = "authentication failed"
package closecode

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// A Class is the disconnect classification of a close code.
type Class int

const (
	// Resumable codes permit the client to reconnect and resume the session.
	Resumable Class = iota

	// Reidentify codes permit the client to reconnect, but the session is no
	// longer valid and must be replaced by a fresh identify.
	Reidentify

	// Fatal codes must not be retried.
	Fatal
)

var classNames = []string{"resumable", "reidentify", "fatal"}

func (c Class) String() string {
	if c >= 0 && int(c) < len(classNames) {
		return classNames[c]
	}
	return "Class(" + strconv.Itoa(int(c)) + ")"
}

// ParseClass parses the name of a class.
func ParseClass(s string) (Class, error) {
	i := slices.Index(classNames, strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return 0, fmt.Errorf("unknown class %q", s)
	}
	return Class(i), nil
}

// A Table maps close codes to classes for one protocol version.
//
// A Table is not safe for concurrent modification, but once populated it may
// be read concurrently.
type Table struct {
	version  int
	fallback Class
	codes    map[int]Class
	names    map[int]string
}

// New constructs a new empty table for the given protocol version. Its
// fallback class is Resumable.
func New(version int) *Table {
	return &Table{version: version, codes: make(map[int]Class), names: make(map[int]string)}
}

// Version reports the protocol version of t.
func (t *Table) Version() int { return t.version }

// Fallback reports the class assigned to codes not listed in t.
func (t *Table) Fallback() Class { return t.fallback }

// SetFallback sets the fallback class of t, and returns t to allow chaining.
func (t *Table) SetFallback(c Class) *Table { t.fallback = c; return t }

// Set assigns class c to each of the given codes, replacing any existing
// assignment. It returns t to allow chaining.
func (t *Table) Set(c Class, codes ...int) *Table {
	for _, code := range codes {
		t.codes[code] = c
	}
	return t
}

// Name assigns a human-readable description to code, and returns t to allow
// chaining.
func (t *Table) Name(code int, name string) *Table { t.names[code] = name; return t }

// Lookup reports the class explicitly assigned to code, if any.
func (t *Table) Lookup(code int) (Class, bool) {
	c, ok := t.codes[code]
	return c, ok
}

// Classify reports the class of code, using the fallback class if code is
// not listed in t.
func (t *Table) Classify(code int) Class {
	if c, ok := t.codes[code]; ok {
		return c
	}
	return t.fallback
}

// Describe returns the description of code, or "" if none is recorded.
func (t *Table) Describe(code int) string { return t.names[code] }

// Codes returns the codes assigned to class c, in increasing order.
func (t *Table) Codes(c Class) []int {
	var out []int
	for code, cc := range t.codes {
		if cc == c {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a copy of t that does not share storage with t.
func (t *Table) Clone() *Table {
	return &Table{
		version:  t.version,
		fallback: t.fallback,
		codes:    maps.Clone(t.codes),
		names:    maps.Clone(t.names),
	}
}

// Default returns the table for protocol version 10.
func Default() *Table {
	return New(10).
		Set(Resumable, 4000, 4001, 4002, 4003, 4005, 4008).
		Set(Reidentify, 1000, 1001, 4007, 4009).
		Set(Fatal, 4004, 4010, 4011, 4012, 4013, 4014).
		Name(1000, "normal closure").
		Name(1001, "going away").
		Name(1006, "abnormal closure").
		Name(4000, "unknown error").
		Name(4001, "unknown opcode").
		Name(4002, "decode error").
		Name(4003, "not authenticated").
		Name(4004, "authentication failed").
		Name(4005, "already authenticated").
		Name(4007, "invalid seq").
		Name(4008, "rate limited").
		Name(4009, "session timed out").
		Name(4010, "invalid shard").
		Name(4011, "sharding required").
		Name(4012, "invalid API version").
		Name(4013, "invalid intents").
		Name(4014, "disallowed intents")
}

// A Format names a table file encoding.
type Format string

// Supported table formats.
const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// tableFile is the file representation of a Table.
type tableFile struct {
	Version    int               `toml:"version" yaml:"version"`
	Fallback   string            `toml:"fallback,omitempty" yaml:"fallback,omitempty"`
	Resumable  []int             `toml:"resumable,omitempty" yaml:"resumable,omitempty"`
	Reidentify []int             `toml:"reidentify,omitempty" yaml:"reidentify,omitempty"`
	Fatal      []int             `toml:"fatal,omitempty" yaml:"fatal,omitempty"`
	Names      map[string]string `toml:"names,omitempty" yaml:"names,omitempty"`
}

// Encode encodes t in the specified format.
func (t *Table) Encode(f Format) ([]byte, error) {
	tf := tableFile{
		Version:    t.version,
		Fallback:   t.fallback.String(),
		Resumable:  t.Codes(Resumable),
		Reidentify: t.Codes(Reidentify),
		Fatal:      t.Codes(Fatal),
	}
	if len(t.names) != 0 {
		tf.Names = make(map[string]string, len(t.names))
		for code, name := range t.names {
			tf.Names[strconv.Itoa(code)] = name
		}
	}
	switch f {
	case TOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(tf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case YAML:
		return yaml.Marshal(tf)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

// Decode decodes a table from data in the specified format.
func Decode(data []byte, f Format) (*Table, error) {
	var tf tableFile
	var err error
	switch f {
	case TOML:
		err = toml.Unmarshal(data, &tf)
	case YAML:
		err = yaml.Unmarshal(data, &tf)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s table: %w", f, err)
	}
	if tf.Version <= 0 {
		return nil, fmt.Errorf("invalid table version %d", tf.Version)
	}

	t := New(tf.Version)
	if tf.Fallback != "" {
		fb, err := ParseClass(tf.Fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		t.SetFallback(fb)
	}
	seen := make(map[int]Class)
	for c, codes := range map[Class][]int{Resumable: tf.Resumable, Reidentify: tf.Reidentify, Fatal: tf.Fatal} {
		for _, code := range codes {
			if old, ok := seen[code]; ok && old != c {
				return nil, fmt.Errorf("code %d is listed as both %v and %v", code, old, c)
			}
			seen[code] = c
		}
		t.Set(c, codes...)
	}
	for key, name := range tf.Names {
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid code name key %q: %w", key, err)
		}
		t.Name(code, name)
	}
	return t, nil
}

// LoadFile reads a table from the file at path. The format is chosen from the
// file extension: ".toml" for TOML, ".yaml" or ".yml" for YAML.
func LoadFile(path string) (*Table, error) {
	var f Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		f = TOML
	case ".yaml", ".yml":
		f = YAML
	default:
		return nil, fmt.Errorf("unknown table format for %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Decode(data, f)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return t, nil
}
