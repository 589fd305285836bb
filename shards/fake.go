// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package shards

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/gateway"
	"github.com/creachadair/gateway/channel"
	"github.com/creachadair/gateway/entity"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// DefaultHeartbeatInterval is the heartbeat interval announced by a Fake
// whose HeartbeatInterval is zero.
const DefaultHeartbeatInterval = 41250 * time.Millisecond

// Fake is an in-memory gateway, suitable for testing sessions. Connections
// dialed through the Fake are served by goroutines that answer heartbeats,
// identifies, and resumes. The test drives everything else through the
// [Remote] for each connection.
//
// Sessions established by the Fake are remembered along with the dispatch
// events sent on them, so that a RESUME replays the events the client
// missed.
type Fake struct {
	HeartbeatInterval time.Duration
	User              entity.User    // the user reported by READY
	Guilds            []entity.Guild // delivered by GUILD_CREATE after READY

	tasks *taskgroup.Group

	μ        sync.Mutex
	sessions map[string]*fakeSession
	remotes  []*Remote
	failDial int                  // fail this many dials
	reject   *gateway.CloseStatus // close identifies with this status
	dropAcks bool
	arrived  chan struct{} // closed and replaced when a remote arrives
}

type fakeSession struct {
	shard int
	sent  []*gateway.Payload // dispatches, in sequence order
}

func (s *fakeSession) seq() int64 { return int64(len(s.sent)) }

// NewFake constructs a new fake gateway with default settings.
func NewFake() *Fake {
	return &Fake{
		User:     entity.User{ID: 1, Username: "fake"},
		tasks:    taskgroup.New(nil),
		sessions: make(map[string]*fakeSession),
		arrived:  make(chan struct{}),
	}
}

// ErrDialRefused is reported by the Fake dialer for scripted dial failures.
var ErrDialRefused = errors.New("dial refused")

// Dialer returns a dialer whose connections are served by f.
func (f *Fake) Dialer() gateway.Dialer {
	return gateway.DialFunc(func(ctx context.Context, url string) (gateway.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.μ.Lock()
		defer f.μ.Unlock()
		if f.failDial > 0 {
			f.failDial--
			return nil, ErrDialRefused
		}
		client, server := channel.Direct()
		r := &Remote{
			f:     f,
			URL:   url,
			conn:  server,
			wake:  make(chan struct{}, 1),
			ready: make(chan struct{}),
			done:  make(chan struct{}),
		}
		f.remotes = append(f.remotes, r)
		close(f.arrived)
		f.arrived = make(chan struct{})
		f.tasks.Go(func() error { r.write(); return nil })
		f.tasks.Go(func() error { r.serve(); return nil })
		return client, nil
	})
}

// FailDials causes the next n dials to report ErrDialRefused.
func (f *Fake) FailDials(n int) {
	f.μ.Lock()
	defer f.μ.Unlock()
	f.failDial = n
}

// RejectIdentify causes f to close each connection that sends IDENTIFY with
// the given status. Passing nil restores normal handling.
func (f *Fake) RejectIdentify(st *gateway.CloseStatus) {
	f.μ.Lock()
	defer f.μ.Unlock()
	f.reject = st
}

// DropAcks controls whether f ignores heartbeats instead of acknowledging
// them.
func (f *Fake) DropAcks(drop bool) {
	f.μ.Lock()
	defer f.μ.Unlock()
	f.dropAcks = drop
}

// Dials reports the number of connections f has accepted.
func (f *Fake) Dials() int {
	f.μ.Lock()
	defer f.μ.Unlock()
	return len(f.remotes)
}

// Remotes returns the connections f has accepted, in order.
func (f *Fake) Remotes() []*Remote {
	f.μ.Lock()
	defer f.μ.Unlock()
	return append([]*Remote(nil), f.remotes...)
}

// Last returns the most recent connection accepted by f, or nil.
func (f *Fake) Last() *Remote {
	f.μ.Lock()
	defer f.μ.Unlock()
	if len(f.remotes) == 0 {
		return nil
	}
	return f.remotes[len(f.remotes)-1]
}

// Next blocks until f has accepted more than n connections, or ctx ends, and
// returns connection n (zero-based).
func (f *Fake) Next(ctx context.Context, n int) (*Remote, error) {
	for {
		f.μ.Lock()
		if len(f.remotes) > n {
			r := f.remotes[n]
			f.μ.Unlock()
			return r, nil
		}
		arrived := f.arrived
		f.μ.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-arrived:
		}
	}
}

// Wait blocks until all the connections served by f have ended.
func (f *Fake) Wait() { f.tasks.Wait() }

// Session reports the last sequence number sent on the given session, and
// whether the session exists.
func (f *Fake) Session(id string) (int64, bool) {
	f.μ.Lock()
	defer f.μ.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return 0, false
	}
	return s.seq(), true
}

func (f *Fake) interval() time.Duration {
	if f.HeartbeatInterval <= 0 {
		return DefaultHeartbeatInterval
	}
	return f.HeartbeatInterval
}

// A Remote is the gateway side of a single connection to a Fake.
type Remote struct {
	f    *Fake
	URL  string // the URL the client dialed
	conn gateway.Conn

	wake      chan struct{}
	ready     chan struct{} // closed when the handshake completes
	readyOnce sync.Once
	done      chan struct{} // closed when the connection ends

	μ         sync.Mutex
	outq      []func() error
	session   *fakeSession
	sessionID string
	resumed   bool
	recv      []*gateway.Payload
}

// enqueue adds a write to the outbound queue. Writes are performed in order
// on a separate goroutine so that serving never blocks on the client.
func (r *Remote) enqueue(w func() error) {
	r.μ.Lock()
	r.outq = append(r.outq, w)
	r.μ.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Remote) write() {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}
		r.μ.Lock()
		ws := r.outq
		r.outq = nil
		r.μ.Unlock()
		for _, w := range ws {
			if err := w(); err != nil {
				return
			}
		}
	}
}

func (r *Remote) sendBody(op gateway.Opcode, body any) {
	p, err := gateway.NewPayload(op, body)
	if err != nil {
		panic(err)
	}
	r.enqueue(func() error { return r.conn.Send(p) })
}

// dispatchLocked assigns the next sequence number of the session to an event
// and enqueues it. The caller must hold f.μ.
func (r *Remote) dispatchLocked(sess *fakeSession, eventType string, body any) error {
	p, err := gateway.NewDispatch(eventType, sess.seq()+1, body)
	if err != nil {
		return err
	}
	sess.sent = append(sess.sent, p)
	r.enqueue(func() error { return r.conn.Send(p) })
	return nil
}

// serve handles the client's side of the protocol until the connection ends.
func (r *Remote) serve() {
	defer close(r.done)
	r.sendBody(gateway.OpHello, gateway.Hello{HeartbeatInterval: r.f.interval().Milliseconds()})

	for {
		p, err := r.conn.Recv()
		if err != nil {
			return
		}
		r.μ.Lock()
		r.recv = append(r.recv, p)
		r.μ.Unlock()

		switch p.Op {
		case gateway.OpHeartbeat:
			r.f.μ.Lock()
			drop := r.f.dropAcks
			r.f.μ.Unlock()
			if !drop {
				r.sendBody(gateway.OpHeartbeatAck, nil)
			}

		case gateway.OpIdentify:
			var id gateway.Identify
			if err := p.Decode(&id); err != nil {
				r.closeWith(gateway.CloseStatus{Code: 4002, Reason: "decode error"})
				continue
			}
			r.identify(id)

		case gateway.OpResume:
			var rs gateway.Resume
			if err := p.Decode(&rs); err != nil {
				r.closeWith(gateway.CloseStatus{Code: 4002, Reason: "decode error"})
				continue
			}
			r.resume(rs)
		}
	}
}

func (r *Remote) identify(id gateway.Identify) {
	r.f.μ.Lock()
	defer r.f.μ.Unlock()
	if r.f.reject != nil {
		r.closeWith(*r.f.reject)
		return
	}

	sid := uuid.NewString()
	sess := &fakeSession{shard: id.Shard[0]}
	r.f.sessions[sid] = sess
	r.μ.Lock()
	r.session, r.sessionID = sess, sid
	r.μ.Unlock()

	ready := gateway.Ready{
		Version:   10,
		User:      r.f.User,
		SessionID: sid,
		Shard:     id.Shard[:],
	}
	for _, g := range r.f.Guilds {
		ready.Guilds = append(ready.Guilds, gateway.ReadyGuild{ID: g.ID, Unavailable: true})
	}
	r.dispatchLocked(sess, "READY", ready)
	for _, g := range r.f.Guilds {
		r.dispatchLocked(sess, "GUILD_CREATE", g)
	}
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Remote) resume(rs gateway.Resume) {
	r.f.μ.Lock()
	defer r.f.μ.Unlock()
	sess, ok := r.f.sessions[rs.SessionID]
	if !ok || rs.Seq > sess.seq() {
		r.sendBody(gateway.OpInvalidSession, false)
		return
	}
	r.μ.Lock()
	r.session, r.sessionID, r.resumed = sess, rs.SessionID, true
	r.μ.Unlock()

	for _, p := range sess.sent[rs.Seq:] {
		r.enqueue(func() error { return r.conn.Send(p) })
	}
	r.dispatchLocked(sess, "RESUMED", struct{}{})
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Remote) closeWith(st gateway.CloseStatus) {
	r.enqueue(func() error {
		r.conn.Close(st)
		return net.ErrClosed
	})
}

// Ready blocks until the client has completed a handshake on r, or ctx ends.
func (r *Remote) Ready(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errors.New("connection ended before handshake")
	case <-r.ready:
		return nil
	}
}

// Done returns a channel that is closed when the connection ends.
func (r *Remote) Done() <-chan struct{} { return r.done }

// SessionID reports the session established on r, or "".
func (r *Remote) SessionID() string {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.sessionID
}

// Resumed reports whether the session on r was resumed.
func (r *Remote) Resumed() bool {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.resumed
}

// Received returns the payloads received from the client on r, in order.
func (r *Remote) Received() []*gateway.Payload {
	r.μ.Lock()
	defer r.μ.Unlock()
	return append([]*gateway.Payload(nil), r.recv...)
}

// Dispatch sends an event to the client with the next sequence number of the
// session. It reports an error if no session has been established on r.
func (r *Remote) Dispatch(eventType string, body any) error {
	r.f.μ.Lock()
	defer r.f.μ.Unlock()
	r.μ.Lock()
	sess := r.session
	r.μ.Unlock()
	if sess == nil {
		return fmt.Errorf("dispatch %s: no session", eventType)
	}
	return r.dispatchLocked(sess, eventType, body)
}

// Reconnect asks the client to reconnect and resume.
func (r *Remote) Reconnect() { r.sendBody(gateway.OpReconnect, nil) }

// InvalidSession tells the client its session is not valid.
func (r *Remote) InvalidSession(resumable bool) { r.sendBody(gateway.OpInvalidSession, resumable) }

// RequestHeartbeat asks the client to send a heartbeat immediately.
func (r *Remote) RequestHeartbeat() { r.sendBody(gateway.OpHeartbeat, nil) }

// Close closes the connection with st, after any pending writes.
func (r *Remote) Close(st gateway.CloseStatus) { r.closeWith(st) }

// Abort drops the connection without a close frame, after any pending
// writes.
func (r *Remote) Abort() {
	r.enqueue(func() error {
		r.conn.Abort()
		return net.ErrClosed
	})
}
