// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the gateway.Conn interface.
package channel

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/creachadair/gateway"
)

// Direct constructs a connected pair of in-memory connections that pass
// payloads directly without encoding. Payloads sent to A are received by B
// and vice versa. Closing either side with a status causes the other side's
// Recv to report a *gateway.CloseError with that status; aborting either side
// causes it to report net.ErrClosed.
func Direct() (A, B gateway.Conn) {
	a2b := make(chan *gateway.Payload)
	b2a := make(chan *gateway.Payload)
	l := &link{done: make(chan struct{})}
	A = direct{l: l, side: 0, send: a2b, recv: b2a}
	B = direct{l: l, side: 1, send: b2a, recv: a2b}
	return
}

// A link is the shared state of a direct pair. It is shut once, by whichever
// side closes first.
type link struct {
	once   sync.Once
	done   chan struct{}
	closer int                  // the side that shut the link
	status *gateway.CloseStatus // nil if the link was aborted
}

func (l *link) shut(side int, st *gateway.CloseStatus) {
	l.once.Do(func() {
		l.closer, l.status = side, st
		close(l.done)
	})
}

// errFor reports the error seen by side after the link is shut.
func (l *link) errFor(side int) error {
	if l.status != nil && l.closer != side {
		return &gateway.CloseError{Status: *l.status}
	}
	return net.ErrClosed
}

type direct struct {
	l    *link
	side int
	send chan<- *gateway.Payload
	recv <-chan *gateway.Payload
}

// Send implements a method of the [gateway.Conn] interface.
func (d direct) Send(p *gateway.Payload) error {
	select {
	case <-d.l.done:
		return net.ErrClosed
	default:
	}
	select {
	case d.send <- p:
		return nil
	case <-d.l.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [gateway.Conn] interface.
func (d direct) Recv() (*gateway.Payload, error) {
	select {
	case p := <-d.recv:
		return p, nil
	case <-d.l.done:
		return nil, d.l.errFor(d.side)
	}
}

// Close implements a method of the [gateway.Conn] interface.
func (d direct) Close(st gateway.CloseStatus) error { d.l.shut(d.side, &st); return nil }

// Abort implements a method of the [gateway.Conn] interface.
func (d direct) Abort() error { d.l.shut(d.side, nil); return nil }

// IO constructs a connection that receives from r and sends to wc. Payloads
// are encoded as newline-delimited JSON objects, and a close is encoded as
// an object with a "close" field.
func IO(r io.Reader, wc io.WriteCloser) *IOConn {
	// N.B. The bufio package will reuse existing buffers if possible.
	return &IOConn{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOConn sends and receives payloads on a reader and a writer.
type IOConn struct {
	r *bufio.Reader

	μ sync.Mutex // protects w and closed
	w *bufio.Writer
	c io.Closer

	closed bool
}

type ioFrame struct {
	*gateway.Payload
	Close *ioClose `json:"close,omitempty"`
}

type ioClose struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func (c *IOConn) write(f ioFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.w.Write(data)
	c.w.WriteByte('\n')
	return c.w.Flush()
}

// Send implements a method of the [gateway.Conn] interface.
func (c *IOConn) Send(p *gateway.Payload) error { return c.write(ioFrame{Payload: p}) }

// Recv implements a method of the [gateway.Conn] interface.
func (c *IOConn) Recv() (*gateway.Payload, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var f ioFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, err
	}
	if f.Close != nil {
		return nil, &gateway.CloseError{Status: gateway.CloseStatus{Code: f.Close.Code, Reason: f.Close.Reason}}
	}
	if f.Payload == nil {
		f.Payload = new(gateway.Payload)
	}
	return f.Payload, nil
}

// Close implements a method of the [gateway.Conn] interface.
func (c *IOConn) Close(st gateway.CloseStatus) error {
	werr := c.write(ioFrame{Close: &ioClose{Code: st.Code, Reason: st.Reason}})
	if err := c.Abort(); err != nil {
		return err
	} else if werr == net.ErrClosed {
		return nil
	}
	return werr
}

// Abort implements a method of the [gateway.Conn] interface.
func (c *IOConn) Abort() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}
