// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"errors"
	"fmt"

	"github.com/creachadair/gateway/closecode"
)

// A Behavior describes what a session does after a connection ends.
type Behavior int

const (
	// Retry closes the connection with a close frame and reconnects.
	Retry Behavior = iota

	// RetryAbruptly drops the connection without a close frame and
	// reconnects. The session is kept so that it can be resumed.
	RetryAbruptly

	// Stop closes the connection with a close frame and ends the session.
	Stop

	// StopAbruptly drops the connection without a close frame and ends the
	// session, leaving it resumable by a later connection.
	StopAbruptly
)

var behaviorNames = []string{"RETRY", "RETRY_ABRUPTLY", "STOP", "STOP_ABRUPTLY"}

func (b Behavior) String() string {
	if b >= 0 && int(b) < len(behaviorNames) {
		return behaviorNames[b]
	}
	return fmt.Sprintf("Behavior(%d)", int(b))
}

// Retries reports whether b reconnects.
func (b Behavior) Retries() bool { return b == Retry || b == RetryAbruptly }

// Abrupt reports whether b drops the connection without a close frame.
func (b Behavior) Abrupt() bool { return b == RetryAbruptly || b == StopAbruptly }

// A DisconnectBehavior pairs a behavior with the error that caused it.
type DisconnectBehavior struct {
	Behavior Behavior
	Cause    error // nil for a requested stop
}

func (d DisconnectBehavior) String() string {
	if d.Cause == nil {
		return d.Behavior.String()
	}
	return fmt.Sprintf("%v (%v)", d.Behavior, d.Cause)
}

// An Origin identifies what ended a connection.
type Origin int

const (
	OriginRemote           Origin = iota // the remote sent a close frame
	OriginTransport                      // the connection failed without a close frame
	OriginReconnectRequest               // the remote sent RECONNECT
	OriginZombie                         // a heartbeat was not acknowledged
	OriginInvalidSession                 // the remote rejected the session
	OriginLogout                         // the client requested a stop
	OriginLogoutResumable                // the client requested a stop, keeping the session
)

var originNames = []string{
	"remote", "transport", "reconnect-request", "zombie", "invalid-session", "logout", "logout-resumable",
}

func (o Origin) String() string {
	if o >= 0 && int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Errors reported as the causes of disconnects.
var (
	ErrZombie         = errors.New("heartbeat not acknowledged")
	ErrReconnect      = errors.New("reconnect requested by gateway")
	ErrInvalidSession = errors.New("session invalidated by gateway")
	ErrConnectionLost = errors.New("connection lost")
)

// FatalError is reported when the gateway closes a connection with a code
// that must not be retried.
type FatalError struct {
	Status      CloseStatus
	Description string // from the close code table, may be empty
}

func (e *FatalError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("fatal close %v", e.Status)
	}
	return fmt.Sprintf("fatal close %v: %s", e.Status, e.Description)
}

// A Decision is the outcome of classifying a connection close.
type Decision struct {
	DisconnectBehavior

	Status      CloseStatus
	Origin      Origin
	KeepSession bool // whether the session may be resumed
}

// A Classifier maps connection closes to decisions. A zero Classifier uses
// [closecode.Default].
type Classifier struct {
	Table *closecode.Table
}

func (c Classifier) table() *closecode.Table {
	if c.Table == nil {
		return defaultCloses
	}
	return c.Table
}

var defaultCloses = closecode.Default()

// Classify returns the decision for a connection that ended with status st
// for the given origin.
func (c Classifier) Classify(st CloseStatus, o Origin) Decision {
	d := Decision{Status: st, Origin: o}
	switch o {
	case OriginRemote:
		switch class := c.table().Classify(st.Code); class {
		case closecode.Fatal:
			d.Behavior = Stop
			d.Cause = &FatalError{Status: st, Description: c.table().Describe(st.Code)}
		case closecode.Reidentify:
			d.Behavior = Retry
			d.Cause = &CloseError{Status: st}
		default:
			d.Behavior = RetryAbruptly
			d.Cause = &CloseError{Status: st}
			d.KeepSession = true
		}

	case OriginTransport:
		d.Status = Abnormal
		d.Behavior, d.Cause, d.KeepSession = Retry, ErrConnectionLost, true

	case OriginReconnectRequest:
		d.Behavior, d.Cause, d.KeepSession = RetryAbruptly, ErrReconnect, true

	case OriginZombie:
		d.Behavior, d.Cause, d.KeepSession = RetryAbruptly, ErrZombie, true

	case OriginInvalidSession:
		d.Behavior, d.Cause = Retry, ErrInvalidSession

	case OriginLogoutResumable:
		d.Behavior, d.KeepSession = StopAbruptly, true

	default: // OriginLogout
		d.Behavior = Stop
	}
	return d
}
