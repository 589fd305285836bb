// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/gateway/backoff"
	"github.com/creachadair/gateway/closecode"
	"github.com/creachadair/gateway/intent"
	"github.com/creachadair/gateway/store"
	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// A Phase is the connection phase of a session.
type Phase int32

const (
	PhaseDisconnected Phase = iota // no connection is open
	PhaseConnecting                // dialing, or waiting for HELLO
	PhaseIdentifying               // IDENTIFY sent, waiting for READY
	PhaseResuming                  // RESUME sent, waiting for RESUMED
	PhaseConnected                 // READY or RESUMED received
	PhaseClosing                   // the connection is being closed
)

var phaseNames = []string{"DISCONNECTED", "CONNECTING", "IDENTIFYING", "RESUMING", "CONNECTED", "CLOSING"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ShardInfo identifies the shard served by a session.
type ShardInfo struct {
	Index int
	Count int // zero means 1
}

func (s ShardInfo) count() int { return max(s.Count, 1) }

func (s ShardInfo) String() string { return fmt.Sprintf("%d/%d", s.Index, s.count()) }

// ResumeInfo is the state needed to resume a session on a new connection.
type ResumeInfo struct {
	SessionID string
	Seq       int64  // last sequence number received
	URL       string // resume gateway URL, if the gateway supplied one
}

// IsValid reports whether r describes a session that may be resumed.
func (r ResumeInfo) IsValid() bool { return r.SessionID != "" }

// Options configure a [Session].
type Options struct {
	Token string // required
	URL   string // gateway URL, required
	Shard ShardInfo

	Intents        intent.Set
	Presence       *UpdatePresence    // initial presence, optional
	LargeThreshold int                // 50..250, zero for the gateway default
	Properties     IdentifyProperties // zero fields are filled with defaults

	// Dialer opens connections to the gateway. It is required.
	Dialer Dialer

	// Reconnect configures the reconnect delay policy.
	Reconnect backoff.Options

	// Closes classifies gateway close codes. If nil, closecode.Default is used.
	Closes *closecode.Table

	// OutboundLimit is the number of presence, voice state and member
	// request payloads that may be sent in any OutboundWindow. Heartbeats,
	// IDENTIFY and RESUME are not counted. Zero means DefaultOutboundLimit,
	// and a negative value means no limit.
	OutboundLimit int

	// OutboundWindow is the period of OutboundLimit. Zero means 60s.
	OutboundWindow time.Duration

	// HeartbeatJitter, if set, reports the fraction of the heartbeat interval
	// to wait before the first heartbeat on a connection. If nil, the
	// fraction is drawn uniformly from [0, 1).
	HeartbeatJitter func() float64

	// Store receives the actions translated from dispatch events. Updates
	// are applied before subscribers observe the event. If nil, dispatch
	// events are delivered to subscribers only.
	Store *store.Store

	// Resume, if set, makes the first connection resume this session
	// instead of identifying.
	Resume *ResumeInfo

	// Logger receives diagnostic logs. If nil, slog.Default is used.
	Logger *slog.Logger
}

// DefaultOutboundLimit is the default number of outbound payloads allowed per
// minute. The gateway closes connections that send more than 120, and the
// difference leaves room for heartbeats.
const DefaultOutboundLimit = 115

var (
	// ErrStarted is reported by Start if the session is already running.
	ErrStarted = errors.New("session is already started")

	// ErrNotConnected is reported by outbound operations when the session
	// does not have a connected gateway connection.
	ErrNotConnected = errors.New("session is not connected")
)

// A Session maintains a gateway connection for a single shard.
//
// Call Start to begin connecting. Once started, a session runs until Stop or
// Close is called, the gateway closes the connection with a fatal code, or
// reconnect retries are exhausted. Connections that end for any other reason
// are reopened after a delay chosen by the reconnect policy, resuming the
// session where possible. Use Wait to wait for the session to exit and
// report its status.
//
// Lifecycle events and dispatch events are delivered to subscribers in the
// order they occur, on a goroutine separate from the connection.
type Session struct {
	opts     Options
	classify Classifier
	policy   *backoff.Policy
	limiter  *rate.Limiter // nil for no outbound limit
	log      *slog.Logger

	out struct {
		// Must hold the lock to send to or set conn.
		sync.Mutex
		conn Conn
	}

	μ sync.Mutex

	tasks    *taskgroup.Group
	halt     context.Context // ends when a stop is requested
	haltFn   context.CancelFunc
	stopping bool   // a stop has been requested
	stopAs   Origin // how the stop was requested
	err      error  // the reason the session ended
	phase    Phase
	resume   ResumeInfo
	latency  time.Duration
	events   *queue

	onEvent    []func(Event)
	onDispatch []func(*Dispatch)
	plog       PayloadLogger
	onExit     func(error)
}

// NewSession constructs a new unstarted session with the given options.
func NewSession(opts Options) (*Session, error) {
	switch {
	case opts.Token == "":
		return nil, errors.New("missing token")
	case opts.URL == "":
		return nil, errors.New("missing gateway URL")
	case opts.Dialer == nil:
		return nil, errors.New("missing dialer")
	case opts.Shard.Index < 0 || opts.Shard.Index >= opts.Shard.count():
		return nil, fmt.Errorf("invalid shard %v", opts.Shard)
	case opts.OutboundWindow < 0:
		return nil, fmt.Errorf("invalid outbound window %v", opts.OutboundWindow)
	}
	policy, err := backoff.New(opts.Reconnect)
	if err != nil {
		return nil, fmt.Errorf("reconnect policy: %w", err)
	}
	opts.Properties.OS = value.Cond(opts.Properties.OS == "", runtime.GOOS, opts.Properties.OS)
	opts.Properties.Browser = value.Cond(opts.Properties.Browser == "", "gateway", opts.Properties.Browser)
	opts.Properties.Device = value.Cond(opts.Properties.Device == "", "gateway", opts.Properties.Device)

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		opts:     opts,
		classify: Classifier{Table: opts.Closes},
		policy:   policy,
		limiter:  newLimiter(opts.OutboundLimit, opts.OutboundWindow),
		log:      log.With("shard", opts.Shard.Index),
	}
	if opts.Resume != nil {
		s.resume = *opts.Resume
	}
	return s, nil
}

// Shard reports the shard served by s.
func (s *Session) Shard() ShardInfo { return s.opts.Shard }

// Policy returns the reconnect policy of s.
func (s *Session) Policy() *backoff.Policy { return s.policy }

// Metrics returns the metrics map shared by all sessions. It is safe for the
// caller to add additional metrics to the map while sessions are active.
func (s *Session) Metrics() *expvar.Map { return rootMetrics.emap }

// Start starts the session connecting to the gateway. It does not block;
// call Wait to wait for the session to exit and report its status. The
// session also stops when ctx ends.
func (s *Session) Start(ctx context.Context) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.tasks != nil {
		return ErrStarted
	}

	g := taskgroup.New(nil)
	q := newQueue()
	s.tasks = g
	s.events = q
	s.halt, s.haltFn = context.WithCancel(context.Background())
	s.stopping = false
	s.err = nil
	s.policy.Clear()
	rootMetrics.sessionsActive.Add(1)

	g.Go(func() error {
		q.run(func(x any) { s.log.Error("subscriber panicked (recovered)", "panic", x) })
		return nil
	})
	g.Go(func() error {
		s.finish(s.run(ctx))
		q.close()
		return nil
	})
	return nil
}

// Stop closes the connection with a normal close, discarding the session, and
// blocks until the session has exited. It returns the same value as Wait.
func (s *Session) Stop() error { s.requestStop(OriginLogout); return s.Wait() }

// Close ends the session, and blocks until it has exited. If allowResume is
// true the connection is dropped without a close frame so that the gateway
// keeps the session, and ResumeInfo remains valid; otherwise Close behaves as
// Stop.
func (s *Session) Close(allowResume bool) error {
	s.requestStop(value.Cond(allowResume, OriginLogoutResumable, OriginLogout))
	return s.Wait()
}

func (s *Session) requestStop(o Origin) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.haltFn != nil && !s.stopping {
		s.stopping, s.stopAs = true, o
		s.haltFn()
	}
}

// Wait blocks until s terminates and reports the error that caused it to
// stop. After Wait completes it is safe to restart the session.
//
// If s is not running or was stopped by request, Wait returns nil. If the
// gateway closed the connection with a fatal code, the error has concrete
// type *FatalError. If reconnect retries were exhausted, the error wraps
// backoff.ErrRetriesExhausted.
func (s *Session) Wait() error {
	s.μ.Lock()
	t := s.tasks
	s.μ.Unlock()
	if t == nil {
		return nil // the session is not running
	}
	t.Wait()

	s.μ.Lock()
	defer s.μ.Unlock()
	if s.tasks == t {
		s.tasks = nil
		s.events = nil
	}
	return s.err
}

func (s *Session) finish(err error) {
	s.μ.Lock()
	s.err = err
	s.phase = PhaseDisconnected
	s.haltFn()
	onExit := s.onExit
	s.μ.Unlock()

	rootMetrics.sessionsActive.Add(-1)
	if err != nil {
		s.log.Error("session ended", "err", err)
	} else {
		s.log.Info("session ended")
	}
	if onExit != nil {
		onExit(err)
	}
}

// OnEvent registers a callback that will be invoked for each lifecycle event
// of the session. Callbacks are invoked in registration order on a single
// goroutine, in the order events occur. OnEvent returns s to permit chaining.
func (s *Session) OnEvent(f func(Event)) *Session {
	if f != nil {
		s.μ.Lock()
		defer s.μ.Unlock()
		s.onEvent = append(s.onEvent, f)
	}
	return s
}

// OnDispatch registers a callback that will be invoked for each dispatch
// event, after the event has been applied to the store. Dispatch callbacks
// share the delivery goroutine of OnEvent. OnDispatch returns s to permit
// chaining.
func (s *Session) OnDispatch(f func(*Dispatch)) *Session {
	if f != nil {
		s.μ.Lock()
		defer s.μ.Unlock()
		s.onDispatch = append(s.onDispatch, f)
	}
	return s
}

// LogPayloads registers a callback that will be invoked for each payload
// exchanged with the gateway. Passing nil disables payload logging. The
// logger is invoked synchronously, prior to sending or handling a payload.
func (s *Session) LogPayloads(log PayloadLogger) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.plog = log
	return s
}

// OnExit registers a callback to be invoked when the session terminates. The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by Wait. If f == nil the callback is removed.
func (s *Session) OnExit(f func(error)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onExit = f
	return s
}

// Phase reports the current connection phase of s.
func (s *Session) Phase() Phase {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.phase = p
}

// SessionID reports the current gateway session ID, or "" if s does not have
// a session.
func (s *Session) SessionID() string { return s.ResumeInfo().SessionID }

// Sequence reports the last dispatch sequence number received.
func (s *Session) Sequence() int64 { return s.ResumeInfo().Seq }

// ResumeInfo reports the state needed to resume the current session.
func (s *Session) ResumeInfo() ResumeInfo {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.resume
}

// Latency reports the round-trip time of the most recently acknowledged
// heartbeat.
func (s *Session) Latency() time.Duration {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.latency
}

// UpdatePresence sends a presence update. It reports ErrNotConnected if the
// session is not connected. It blocks until the outbound limit admits the
// payload or ctx ends.
func (s *Session) UpdatePresence(ctx context.Context, p UpdatePresence) error {
	return s.sendConnected(ctx, OpPresenceUpdate, p)
}

// UpdateVoiceState sends a voice state update. It reports ErrNotConnected if
// the session is not connected. It waits for the outbound limit as
// UpdatePresence does.
func (s *Session) UpdateVoiceState(ctx context.Context, v UpdateVoiceState) error {
	return s.sendConnected(ctx, OpVoiceStateUpdate, v)
}

// RequestGuildMembers sends a request for guild members, and returns the
// nonce that will be carried by the GUILD_MEMBERS_CHUNK responses. If r has
// no nonce, a random one is assigned. It waits for the outbound limit as
// UpdatePresence does.
func (s *Session) RequestGuildMembers(ctx context.Context, r RequestGuildMembers) (string, error) {
	if r.Nonce == "" {
		r.Nonce = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return r.Nonce, s.sendConnected(ctx, OpRequestGuildMembers, r)
}

// newLimiter returns a limiter admitting at most limit events in any window,
// up to a quarter of them at once. It returns nil if limit is negative.
func newLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit < 0 {
		return nil
	}
	limit = value.Cond(limit == 0, DefaultOutboundLimit, limit)
	window = value.Cond(window == 0, time.Minute, window)
	burst := max(1, limit/4)
	fill := max(1, limit-burst)
	return rate.NewLimiter(rate.Limit(float64(fill)/window.Seconds()), burst)
}

func (s *Session) sendConnected(ctx context.Context, op Opcode, body any) error {
	if s.Phase() != PhaseConnected {
		return ErrNotConnected
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("outbound limit: %w", err)
		}
		if s.Phase() != PhaseConnected {
			return ErrNotConnected
		}
	}
	return s.sendBody(op, body)
}

func (s *Session) sendBody(op Opcode, body any) error {
	p, err := NewPayload(op, body)
	if err != nil {
		return err
	}
	return s.send(p)
}

func (s *Session) send(p *Payload) error {
	s.out.Lock()
	defer s.out.Unlock()
	if s.out.conn == nil {
		return ErrNotConnected
	}
	s.logPayload(p, true)
	rootMetrics.payloadsSent.Add(1)
	return s.out.conn.Send(p)
}

func (s *Session) logPayload(p *Payload, sent bool) {
	s.μ.Lock()
	plog := s.plog
	s.μ.Unlock()
	if plog != nil {
		plog(PayloadInfo{Payload: redacted(p), Shard: s.opts.Shard.Index, Sent: sent})
	}
}

// notify delivers e to event subscribers in order.
func (s *Session) notify(e Event) {
	e.Shard = s.opts.Shard.Index
	s.μ.Lock()
	subs, q := s.onEvent, s.events
	s.μ.Unlock()
	s.log.Debug("session event", "event", e.Kind, "attempt", e.Attempt, "cause", e.Cause)
	if len(subs) == 0 || q == nil {
		return
	}
	q.push(func() {
		for _, f := range subs {
			f(e)
		}
	})
}

func (s *Session) cancelled() bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.stopping
}

func (s *Session) stopDecision() Decision {
	s.μ.Lock()
	o := s.stopAs
	s.μ.Unlock()
	return s.classify.Classify(CloseStatus{Code: CloseNormal, Reason: "logout"}, o)
}

// endSession discards the current session, if there is one, and reports
// whether there was one to discard. Stores are told to invalidate the data
// received by this shard.
func (s *Session) endSession(ctx context.Context, cause store.InvalidationCause) bool {
	s.μ.Lock()
	had := s.resume.IsValid()
	s.resume = ResumeInfo{}
	s.μ.Unlock()
	if !had {
		return false
	}
	action := store.InvalidateShard{Shard: s.opts.Shard.Index, Cause: cause}
	if _, _, err := s.opts.Store.Dispatch(context.WithoutCancel(ctx), action); err != nil {
		s.log.Warn("invalidating shard state failed", "err", err)
	}
	return true
}

// ContextSession returns the Session associated with the given context, or
// nil if none is defined. The context passed to store handlers for dispatch
// events has this value.
func ContextSession(ctx context.Context) *Session {
	if v := ctx.Value(sessionKey{}); v != nil {
		return v.(*Session)
	}
	return nil
}

type sessionKey struct{}

// run is the reconnect loop. It returns when the session must not reconnect.
func (s *Session) run(ctx context.Context) error {
	ctx = context.WithValue(ctx, sessionKey{}, s)
	s.μ.Lock()
	halt := s.halt.Done()
	s.μ.Unlock()

	retry := 0 // the reconnect attempt in progress, or 0
	for {
		o := s.connect(ctx, retry)
		if retry > 0 && !o.connected {
			s.notify(Event{Kind: EventReconnectFail, Attempt: retry, Cause: o.Cause})
		}
		if o.connected {
			retry = 0
		}
		s.disconnected(ctx, o)

		if !o.Behavior.Retries() {
			if o.Behavior == Stop && o.Cause != nil {
				return o.Cause
			}
			return nil
		}

		attempt, delay, err := s.policy.Backoff()
		if err != nil {
			return err
		}
		rootMetrics.reconnects.Add(1)
		retry = attempt
		kind := value.Cond(s.ResumeInfo().IsValid(), EventReconnectResumeStart, EventReconnectStart)
		s.notify(Event{Kind: kind, Attempt: attempt, Backoff: delay})
		s.log.Info("reconnecting", "attempt", attempt, "delay", delay, "cause", o.Cause)

		select {
		case <-time.After(delay):
		case <-halt:
			if !s.stopDecision().KeepSession {
				s.endSession(ctx, store.CauseLogout)
			}
			return nil
		case <-ctx.Done():
			s.endSession(ctx, store.CauseLogout)
			return nil
		}
	}
}

// disconnected reports the end of a connection to subscribers and discards
// the session if it cannot be resumed.
func (s *Session) disconnected(ctx context.Context, o outcome) {
	invalidated := false
	if !o.KeepSession {
		cause := value.Cond(o.Behavior.Retries(), store.CauseReconnect, store.CauseLogout)
		invalidated = s.endSession(ctx, cause)
	}
	if o.opened {
		kind := value.Cond(o.KeepSession, EventDisconnectedResume, EventDisconnected)
		s.notify(Event{Kind: kind, Status: o.Status, Cause: o.Cause})
	}
	if invalidated && o.Behavior.Retries() {
		s.notify(Event{Kind: EventSessionInvalidated, Cause: o.Cause})
	}
}

// An outcome is the result of a single connection.
type outcome struct {
	Decision
	opened    bool // the dial succeeded
	connected bool // the connection reached PhaseConnected
}

// closeStatusFor returns the status sent when closing a connection with a
// close frame for d. A normal close ends the session at the gateway, so any
// other close that keeps the session uses a non-normal code.
func closeStatusFor(d Decision) CloseStatus {
	if d.KeepSession {
		return CloseStatus{Code: 4000, Reason: "reconnecting"}
	}
	return CloseStatus{Code: CloseNormal, Reason: strings.ToLower(d.Behavior.String())}
}

// connect dials the gateway and serves a single connection until it ends.
func (s *Session) connect(ctx context.Context, retry int) outcome {
	s.setPhase(PhaseConnecting)
	defer s.setPhase(PhaseDisconnected)

	url := s.opts.URL
	if r := s.ResumeInfo(); r.IsValid() && r.URL != "" {
		url = r.URL
	}

	s.μ.Lock()
	halt := s.halt
	s.μ.Unlock()
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(halt, cancel)()

	conn, err := s.opts.Dialer.Dial(dctx, url)
	if err != nil {
		if s.cancelled() {
			return outcome{Decision: s.stopDecision()}
		} else if ctx.Err() != nil {
			return outcome{Decision: s.classify.Classify(CloseStatus{Code: CloseNormal}, OriginLogout)}
		}
		d := s.classify.Classify(Abnormal, OriginTransport)
		d.Cause = fmt.Errorf("dial: %w", err)
		return outcome{Decision: d}
	}
	s.log.Debug("connection open", "url", url)
	s.out.Lock()
	s.out.conn = conn
	s.out.Unlock()

	recv := make(chan *Payload)
	recvErr := make(chan error, 1)
	done := make(chan struct{})
	g := taskgroup.New(nil)
	g.Go(func() error {
		for {
			p, err := conn.Recv()
			if err != nil {
				recvErr <- err
				return nil
			}
			select {
			case recv <- p:
			case <-done:
				return nil
			}
		}
	})

	d, connected := s.serve(dctx, recv, recvErr, retry)
	close(done)
	s.setPhase(PhaseClosing)

	s.out.Lock()
	s.out.conn = nil
	s.out.Unlock()
	if d.Behavior.Abrupt() {
		conn.Abort()
	} else {
		conn.Close(closeStatusFor(d))
	}
	g.Wait()
	s.log.Debug("connection closed", "behavior", d.Behavior, "cause", d.Cause)
	return outcome{Decision: d, opened: true, connected: connected}
}

// serve runs the protocol on an open connection until it must be closed. It
// reports the decision for the close, and whether the connection reached
// the connected phase.
func (s *Session) serve(ctx context.Context, recv <-chan *Payload, recvErr <-chan error, retry int) (_ Decision, connected bool) {
	var beat <-chan time.Time
	var timer *time.Timer
	var interval time.Duration
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	acked := true       // the last heartbeat sent was acknowledged
	resetOnAck := false // reset the reconnect policy on the next acknowledgement
	var sentAt time.Time

	for {
		select {
		case <-ctx.Done():
			if s.cancelled() {
				return s.stopDecision(), connected
			}
			return s.classify.Classify(CloseStatus{Code: CloseNormal}, OriginLogout), connected

		case err := <-recvErr:
			if s.cancelled() {
				return s.stopDecision(), connected
			}
			st, framed := CloseStatusOf(err)
			d := s.classify.Classify(st, value.Cond(framed, OriginRemote, OriginTransport))
			if !framed {
				d.Cause = fmt.Errorf("receive: %w", err)
			}
			return d, connected

		case <-beat:
			if s.cancelled() {
				continue
			}
			if !acked {
				rootMetrics.zombies.Add(1)
				s.log.Warn("heartbeat not acknowledged, reconnecting")
				return s.classify.Classify(Abnormal, OriginZombie), connected
			}
			if err := s.heartbeat(); err != nil {
				return s.sendFailed(err), connected
			}
			acked, sentAt = false, time.Now()
			timer.Reset(interval)

		case p := <-recv:
			if s.cancelled() {
				continue
			}
			rootMetrics.payloadsRecv.Add(1)
			s.logPayload(p, false)

			switch p.Op {
			case OpHello:
				var h Hello
				if err := p.Decode(&h); err != nil {
					return s.protocolError(err), connected
				} else if h.Interval() <= 0 {
					return s.protocolError(fmt.Errorf("invalid heartbeat interval %d", h.HeartbeatInterval)), connected
				}
				if timer != nil {
					timer.Stop()
				}
				interval = h.Interval()
				timer = time.NewTimer(s.firstHeartbeat(interval))
				beat = timer.C
				if err := s.handshake(); err != nil {
					return s.sendFailed(err), connected
				}

			case OpHeartbeat:
				if err := s.heartbeat(); err != nil {
					return s.sendFailed(err), connected
				}

			case OpHeartbeatAck:
				rootMetrics.heartbeatAcks.Add(1)
				acked = true
				if !sentAt.IsZero() {
					s.μ.Lock()
					s.latency = time.Since(sentAt)
					s.μ.Unlock()
				}
				if resetOnAck {
					s.policy.Reset()
					resetOnAck = false
				}

			case OpReconnect:
				s.log.Info("gateway requested reconnect")
				return s.classify.Classify(CloseStatus{}, OriginReconnectRequest), connected

			case OpInvalidSession:
				var resumable bool
				p.Decode(&resumable) // a malformed body means false
				if resumable && s.ResumeInfo().IsValid() {
					s.log.Info("session invalidated, retrying resume")
					if err := s.sendResume(); err != nil {
						return s.sendFailed(err), connected
					}
					continue
				}
				s.log.Info("session invalidated")
				return s.classify.Classify(CloseStatus{}, OriginInvalidSession), connected

			case OpDispatch:
				if s.dispatch(ctx, p, retry) {
					connected, resetOnAck = true, true
				}

			default:
				s.log.Debug("ignoring payload", "op", p.Op)
			}
		}
	}
}

// firstHeartbeat reports the delay before the first heartbeat on a
// connection with the given interval.
func (s *Session) firstHeartbeat(interval time.Duration) time.Duration {
	f := rand.Float64()
	if s.opts.HeartbeatJitter != nil {
		f = min(max(s.opts.HeartbeatJitter(), 0), 1)
	}
	return time.Duration(float64(interval) * f)
}

func (s *Session) sendFailed(err error) Decision {
	d := s.classify.Classify(Abnormal, OriginTransport)
	d.Cause = fmt.Errorf("send: %w", err)
	return d
}

func (s *Session) protocolError(err error) Decision {
	s.log.Warn("protocol error", "err", err)
	d := s.classify.Classify(Abnormal, OriginTransport)
	d.Cause = err
	return d
}

// heartbeat sends a heartbeat carrying the last sequence number received.
func (s *Session) heartbeat() error {
	var body any // null until a dispatch has been received
	if seq := s.Sequence(); seq > 0 {
		body = seq
	}
	rootMetrics.heartbeatsSent.Add(1)
	return s.sendBody(OpHeartbeat, body)
}

// handshake sends RESUME if s has a resumable session, or IDENTIFY otherwise.
func (s *Session) handshake() error {
	if s.ResumeInfo().IsValid() {
		return s.sendResume()
	}
	s.setPhase(PhaseIdentifying)
	s.log.Debug("identifying", "intents", s.opts.Intents)
	return s.sendBody(OpIdentify, Identify{
		Token:          s.opts.Token,
		Properties:     s.opts.Properties,
		LargeThreshold: s.opts.LargeThreshold,
		Shard:          [2]int{s.opts.Shard.Index, s.opts.Shard.count()},
		Presence:       s.opts.Presence,
		Intents:        s.opts.Intents.Raw(),
	})
}

func (s *Session) sendResume() error {
	r := s.ResumeInfo()
	s.setPhase(PhaseResuming)
	s.log.Debug("resuming", "session", r.SessionID, "seq", r.Seq)
	return s.sendBody(OpResume, Resume{Token: s.opts.Token, SessionID: r.SessionID, Seq: r.Seq})
}

// advance records seq as the last sequence number received, and reports
// whether it is newer than any previously received.
func (s *Session) advance(seq int64) bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	if seq <= s.resume.Seq {
		return false
	}
	s.resume.Seq = seq
	return true
}

// dispatch handles a dispatch payload, and reports whether it completed the
// handshake of the connection.
func (s *Session) dispatch(ctx context.Context, p *Payload, retry int) (connected bool) {
	seq, hasSeq := p.Sequence()
	if hasSeq && !s.advance(seq) {
		s.log.Debug("dropping stale dispatch", "type", p.Type, "seq", seq)
		return false
	}
	rootMetrics.dispatches.Add(1)

	switch p.Type {
	case "READY":
		var r Ready
		if err := p.Decode(&r); err != nil {
			s.log.Warn("invalid READY", "err", err)
		}
		s.μ.Lock()
		s.resume.SessionID = r.SessionID
		s.resume.URL = r.ResumeGatewayURL
		s.phase = PhaseConnected
		s.μ.Unlock()
		s.log.Info("session ready", "session", r.SessionID, "guilds", len(r.Guilds))
		s.notify(Event{Kind: EventConnected})
		connected = true

	case "RESUMED":
		s.setPhase(PhaseConnected)
		s.log.Info("session resumed", "seq", seq)
		s.notify(Event{Kind: EventResumed})
		connected = true
	}
	if connected && retry > 0 {
		s.notify(Event{Kind: EventReconnectSuccess, Attempt: retry})
	}

	d := &Dispatch{Shard: s.opts.Shard.Index, Seq: seq, Type: p.Type, Data: p.Data}
	action, err := DispatchAction(d.Shard, p.Type, p.Data)
	if err != nil {
		s.log.Warn("invalid dispatch", "type", p.Type, "err", err)
	} else if action != nil {
		v, _, err := s.opts.Store.Dispatch(ctx, action)
		if err != nil {
			s.log.Warn("store update failed", "type", p.Type, "err", err)
		}
		d.Action, d.Result = action, v
	}

	s.μ.Lock()
	subs, q := s.onDispatch, s.events
	s.μ.Unlock()
	if len(subs) != 0 && q != nil {
		q.push(func() {
			for _, f := range subs {
				f(d)
			}
		})
	}
	return connected
}
