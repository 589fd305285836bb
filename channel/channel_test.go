// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/creachadair/gateway"
	"github.com/creachadair/gateway/channel"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// exchange sends a payload from c to s and back, and checks that it arrives.
func exchange(t *testing.T, c, s gateway.Conn) {
	t.Helper()

	want, err := gateway.NewDispatch("MESSAGE_CREATE", 1, map[string]string{"content": "hello"})
	if err != nil {
		t.Fatalf("NewDispatch: %v", err)
	}
	g := taskgroup.New(nil)
	g.Go(func() error {
		if err := c.Send(want); err != nil {
			t.Errorf("A Send: %v", err)
		}
		got, err := c.Recv()
		if err != nil {
			t.Errorf("A Recv: %v", err)
		} else if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("A Recv (-want, +got):\n%s", diff)
		}
		return nil
	})
	g.Go(func() error {
		p, err := s.Recv()
		if err != nil {
			t.Errorf("B Recv: %v", err)
			return nil
		}
		if err := s.Send(p); err != nil {
			t.Errorf("B Send: %v", err)
		}
		return nil
	})
	g.Wait()
}

// checkClosed verifies that closing c with a status is reported to s.
func checkClosed(t *testing.T, c, s gateway.Conn) {
	t.Helper()

	want := gateway.CloseStatus{Code: 4000, Reason: "reconnecting"}
	if err := c.Close(want); err != nil {
		t.Errorf("Close: %v", err)
	}
	_, err := s.Recv()
	st, framed := gateway.CloseStatusOf(err)
	if !framed {
		t.Fatalf("Recv after close: got %v, want close error", err)
	}
	if st != want {
		t.Errorf("Close status: got %v, want %v", st, want)
	}
	t.Logf("Error OK: %v", err)

	if err := c.Send(new(gateway.Payload)); err == nil {
		t.Error("Send after close did not report an error")
	}
}

func TestDirect(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Close", func(t *testing.T) {
		c, s := channel.Direct()
		exchange(t, c, s)
		checkClosed(t, c, s)

		// The side that closed sees a plain error.
		if p, err := c.Recv(); !errors.Is(err, net.ErrClosed) {
			t.Errorf("c.Recv after close: got %v, %v; want %v", p, err, net.ErrClosed)
		}
		if err := s.Close(gateway.CloseStatus{Code: gateway.CloseNormal}); err != nil {
			t.Errorf("Second close: %v", err)
		}
	})

	t.Run("Abort", func(t *testing.T) {
		c, s := channel.Direct()
		if err := c.Abort(); err != nil {
			t.Fatalf("Abort: %v", err)
		}
		_, err := s.Recv()
		if _, framed := gateway.CloseStatusOf(err); framed {
			t.Errorf("Recv after abort: got %v, want no close frame", err)
		}
		if err := s.Send(nil); err == nil {
			t.Error("Send after abort did not report an error")
		}
	})
}

func TestIO(t *testing.T) {
	defer leaktest.Check(t)()

	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	c := channel.IO(ar, aw)
	s := channel.IO(br, bw)

	exchange(t, c, s)

	// Writes to a pipe block until read, so close concurrently.
	want := gateway.CloseStatus{Code: 4009, Reason: "timed out"}
	g := taskgroup.New(nil)
	g.Go(func() error { return c.Close(want) })
	_, err := s.Recv()
	if st, framed := gateway.CloseStatusOf(err); !framed || st != want {
		t.Errorf("Recv after close: got %v, want status %v", err, want)
	}
	if err := g.Wait(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Send(new(gateway.Payload)); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Send after close: got %v, want %v", err, net.ErrClosed)
	}
	s.Abort()
}

func TestWebSocket(t *testing.T) {
	defer leaktest.Check(t)()

	var up websocket.Upgrader
	accepted := make(chan gateway.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		accepted <- channel.NewWSConn(c)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := channel.WebSocket{}.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	s := <-accepted

	exchange(t, c, s)
	checkClosed(t, c, s)
	s.Abort()

	t.Run("DialError", func(t *testing.T) {
		_, err := channel.WebSocket{}.Dial(context.Background(), srv.URL+"/nonesuch")
		if err == nil {
			t.Fatal("Dial of a non-WebSocket URL did not report an error")
		}
		t.Logf("Error OK: %v", err)
	})
}
