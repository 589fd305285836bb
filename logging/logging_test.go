// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/gateway/logging"
	"github.com/google/go-cmp/cmp"
)

func TestHandler(t *testing.T) {
	var buf bytes.Buffer
	h := logging.NewHandler(&buf, &logging.Options{NoColor: true, Level: slog.LevelDebug})
	log := slog.New(h)

	log.Info("hello", "n", 1)
	log.With("shard", 3).Warn("reconnecting", "cause", "heartbeat not acknowledged")
	log.WithGroup("req").With("id", "x").Debug("sent", slog.Group("op", "code", 2), "empty", "")
	log.Error("failed", "shard", 7, "err", "boom")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	for i, line := range lines {
		// Strip the timestamp, which is the first field.
		_, rest, ok := strings.Cut(line, " ")
		if !ok {
			t.Fatalf("Line %d has no timestamp: %q", i, line)
		}
		lines[i] = rest
	}
	want := []string{
		`INFO  hello n=1`,
		`WARN  [3] reconnecting cause="heartbeat not acknowledged"`,
		`DEBUG sent req.id=x req.op.code=2 req.empty=""`,
		`ERROR [7] failed err=boom`,
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("Output (-want, +got):\n%s", diff)
	}
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	h := logging.NewHandler(&buf, &logging.Options{NoColor: true, Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info is enabled at level Warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error is not enabled at level Warn")
	}

	def := logging.NewHandler(&buf, nil)
	if def.Enabled(context.Background(), slog.LevelDebug) || !def.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Default level is not Info")
	}
}

func TestZeroTime(t *testing.T) {
	var buf bytes.Buffer
	h := logging.NewHandler(&buf, &logging.Options{NoColor: true})
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "bare", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got, want := buf.String(), "INFO  bare\n"; got != want {
		t.Errorf("Output: got %q, want %q", got, want)
	}
}

func TestColor(t *testing.T) {
	var buf bytes.Buffer
	slog.New(logging.NewHandler(&buf, nil)).Info("colorful")
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Output has no color escapes: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error+2", slog.LevelError + 2},
	}
	for _, tc := range tests {
		got, err := logging.ParseLevel(tc.input)
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %v", tc.input, err)
		} else if got != tc.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tc.input, got, tc.want)
		}
	}
	if _, err := logging.ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud): got nil, want error")
	} else {
		t.Logf("Error OK: %v", err)
	}
}
