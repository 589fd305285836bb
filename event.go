// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// An EventKind identifies a session lifecycle event.
type EventKind int

const (
	EventConnected            EventKind = iota // READY received on a fresh session
	EventResumed                               // RESUMED received
	EventDisconnected                          // connection ended, session discarded
	EventDisconnectedResume                    // connection ended, session kept
	EventReconnectStart                        // waiting to reconnect with a fresh identify
	EventReconnectResumeStart                  // waiting to reconnect and resume
	EventReconnectSuccess                      // a reconnect reached the connected phase
	EventReconnectFail                         // a reconnect attempt failed
	EventSessionInvalidated                    // the session was discarded and its state invalidated
)

var eventNames = []string{
	"CONNECTED", "RESUMED", "DISCONNECTED", "DISCONNECTED_RESUME",
	"RECONNECT_START", "RECONNECT_RESUME_START", "RECONNECT_SUCCESS", "RECONNECT_FAIL",
	"SESSION_INVALIDATED",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// An Event reports a change in the lifecycle of a session.
type Event struct {
	Shard   int
	Kind    EventKind
	Attempt int           // reconnect attempt, for reconnect events
	Backoff time.Duration // delay before the attempt, for reconnect start events
	Status  CloseStatus   // for disconnect events
	Cause   error         // for disconnect and failure events
}

func (e Event) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Event(shard=%d, %v", e.Shard, e.Kind)
	if e.Attempt > 0 {
		fmt.Fprintf(&sb, ", attempt=%d", e.Attempt)
	}
	if e.Backoff > 0 {
		fmt.Fprintf(&sb, ", backoff=%v", e.Backoff)
	}
	if e.Status.Code != 0 {
		fmt.Fprintf(&sb, ", status=%v", e.Status)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ", cause=%v", e.Cause)
	}
	sb.WriteString(")")
	return sb.String()
}

// A Dispatch is a dispatch event delivered to subscribers after it has been
// applied to the session store.
type Dispatch struct {
	Shard  int
	Seq    int64
	Type   string
	Data   json.RawMessage
	Action any // the store action for the event, or nil
	Result any // the result of the store action, or nil
}

func (d *Dispatch) String() string {
	return fmt.Sprintf("Dispatch(shard=%d, %s, seq=%d)", d.Shard, d.Type, d.Seq)
}

// A PayloadLogger logs a payload exchanged with the gateway.
type PayloadLogger func(PayloadInfo)

// A PayloadInfo combines a payload and a flag indicating whether the payload
// was sent or received.
type PayloadInfo struct {
	*Payload
	Shard int
	Sent  bool
}

func (p PayloadInfo) dir() string {
	if p.Sent {
		return "send"
	}
	return "recv"
}

func (p PayloadInfo) String() string {
	return fmt.Sprintf("shard %d %v %v", p.Shard, p.dir(), p.Payload)
}

// A queue delivers notifications in order on a single goroutine. Pushing
// never blocks, so a slow subscriber cannot stall the connection loop.
type queue struct {
	μ      sync.Mutex
	items  []func()
	closed bool
	ready  chan struct{}
}

func newQueue() *queue { return &queue{ready: make(chan struct{}, 1)} }

// push adds f to the queue. Calls to push after close are discarded.
func (q *queue) push(f func()) {
	q.μ.Lock()
	defer q.μ.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, f)
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// close marks the queue closed. The run loop delivers any pending items and
// then returns.
func (q *queue) close() {
	q.μ.Lock()
	defer q.μ.Unlock()
	q.closed = true
	q.signal()
}

// run delivers queued notifications until the queue is closed and empty.
func (q *queue) run(onPanic func(any)) {
	for range q.ready {
		q.μ.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.μ.Unlock()

		for _, f := range items {
			deliver(f, onPanic)
		}
		if closed {
			return
		}
	}
}

func deliver(f func(), onPanic func(any)) {
	defer func() {
		if x := recover(); x != nil && onPanic != nil {
			onPanic(x)
		}
	}()
	f()
}
