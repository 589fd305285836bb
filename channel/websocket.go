// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/gateway"
	"github.com/gorilla/websocket"
)

// WebSocket is a [gateway.Dialer] that opens WebSocket connections. A zero
// value uses websocket.DefaultDialer.
type WebSocket struct {
	Dialer *websocket.Dialer
	Header http.Header // additional request headers, optional
}

// Dial implements the [gateway.Dialer] interface.
func (w WebSocket) Dial(ctx context.Context, url string) (gateway.Conn, error) {
	d := w.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	c, rsp, err := d.DialContext(ctx, url, w.Header)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %s)", err, rsp.Status)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return NewWSConn(c), nil
}

// closeTimeout bounds the time spent writing a close frame.
const closeTimeout = time.Second

// A WSConn is a [gateway.Conn] that exchanges JSON text frames over a
// WebSocket connection.
type WSConn struct {
	c *websocket.Conn

	μ      sync.Mutex // serializes writes
	closed bool
}

// NewWSConn constructs a connection that communicates over c. The caller
// should not use c directly after this call.
func NewWSConn(c *websocket.Conn) *WSConn { return &WSConn{c: c} }

// Send implements a method of the [gateway.Conn] interface.
func (w *WSConn) Send(p *gateway.Payload) error {
	data, err := gateway.EncodePayload(p)
	if err != nil {
		return err
	}
	w.μ.Lock()
	defer w.μ.Unlock()
	return w.c.WriteMessage(websocket.TextMessage, data)
}

// Recv implements a method of the [gateway.Conn] interface. A close frame
// from the remote peer is reported as a *gateway.CloseError. A connection
// that ended without a close frame is reported as a plain error.
func (w *WSConn) Recv() (*gateway.Payload, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				return nil, &gateway.CloseError{Status: gateway.CloseStatus{Code: ce.Code, Reason: ce.Text}}
			}
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue // compressed binary frames are not supported
		}
		return gateway.DecodePayload(data)
	}
}

// Close implements a method of the [gateway.Conn] interface.
func (w *WSConn) Close(st gateway.CloseStatus) error {
	w.μ.Lock()
	if !w.closed {
		msg := websocket.FormatCloseMessage(st.Code, st.Reason)
		w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	}
	w.μ.Unlock()
	return w.Abort()
}

// Abort implements a method of the [gateway.Conn] interface.
func (w *WSConn) Abort() error {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.c.Close()
}
