// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Close codes with fixed meanings. Gateway-specific codes (4000–4999) are
// classified by a closecode.Table.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006 // no close frame was received
)

// A CloseStatus is the code and optional reason of a connection close.
type CloseStatus struct {
	Code   int
	Reason string
}

// Abnormal is the status of a connection that ended without a close frame.
var Abnormal = CloseStatus{Code: CloseAbnormal, Reason: "no close frame"}

func (c CloseStatus) String() string {
	if c.Reason == "" {
		return strconv.Itoa(c.Code)
	}
	return strconv.Itoa(c.Code) + " " + c.Reason
}

// CloseError is reported by Conn.Recv when the remote peer closes the
// connection with a close frame.
type CloseError struct {
	Status CloseStatus
}

func (e *CloseError) Error() string { return fmt.Sprintf("connection closed: %v", e.Status) }

// CloseStatusOf reports the close status described by an error from
// Conn.Recv, and whether the remote sent a close frame. An error that is not
// a *CloseError is treated as an abnormal close.
func CloseStatusOf(err error) (CloseStatus, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Status, true
	}
	return Abnormal, false
}

// A Conn is a single duplex gateway connection.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver. Close and Abort may be called concurrently with
// Send and Recv, and must cause them to terminate.
type Conn interface {
	// Send the payload to the remote peer.
	Send(*Payload) error

	// Recv returns the next payload from the remote peer. If the remote
	// peer sent a close frame, Recv reports a *CloseError.
	Recv() (*Payload, error)

	// Close sends a close frame with the given status, then closes the
	// connection. Subsequent calls have no effect.
	Close(CloseStatus) error

	// Abort closes the connection without sending a close frame.
	Abort() error
}

// A Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements the Dialer interface.
func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }
