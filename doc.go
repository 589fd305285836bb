// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package gateway implements a client for a sharded real-time event gateway
// in the style of the Discord gateway protocol.
//
// A client maintains one long-lived duplex connection per shard. Over that
// connection the gateway sends a HELLO carrying a heartbeat interval, the
// client identifies (or resumes a previous session), and thereafter the
// gateway streams sequenced dispatch events while the client sends
// heartbeats to prove liveness.
//
// # Sessions
//
// The core type defined by this package is the [Session]. A session owns the
// connection for one shard, and keeps it alive across disconnects:
//
//	s, err := gateway.NewSession(gateway.Options{
//	   Token:   token,
//	   URL:     "wss://gateway.discord.gg/?v=10&encoding=json",
//	   Intents: intent.Of(intent.Guilds, intent.GuildMessages),
//	   Dialer:  channel.WebSocket{},
//	   Store:   st,
//	})
//	if err != nil {
//	   log.Fatalf("NewSession: %v", err)
//	}
//	if err := s.Start(ctx); err != nil {
//	   log.Fatalf("Start: %v", err)
//	}
//
// A session runs until [Session.Stop] or [Session.Close] is called, until
// its context ends, the gateway closes the connection with a fatal code, or
// reconnect retries are exhausted. Call [Session.Wait] to wait for the
// session to exit and report its status:
//
//	if err := s.Wait(); err != nil {
//	   log.Fatalf("Session failed: %v", err)
//	}
//
// # Disconnects
//
// When a connection ends, the session classifies the close with a
// [Classifier] into a [Decision]: whether to reconnect, whether to send a
// close frame, and whether the session may be resumed. Gateway close codes
// are classified by a [closecode.Table]. Reconnects are delayed by a
// [backoff.Policy], which escalates across repeated failures and is reset
// once a new connection has proven healthy.
//
// # Events
//
// Use [Session.OnEvent] to observe lifecycle events such as connects,
// disconnects, and reconnect attempts, and [Session.OnDispatch] to observe
// dispatch events. Dispatch events are first translated to actions and
// applied to the session [store.Store], so a subscriber always observes the
// store with the event already applied. Subscribers are invoked in order on
// a single goroutine separate from the connection, and cannot stall it.
//
// # Connections
//
// The [Conn] interface defines the ability to send and receive payloads over
// a single connection. A [Dialer] opens connections. The channel package
// provides an in-memory implementation and a WebSocket implementation.
//
// # Metrics
//
// Sessions maintain a collection of metrics while running. Use the
// [Session.Metrics] method to obtain an [expvar.Map] containing the metrics.
// Metrics are shared globally among all sessions.
//
// The metrics currently exported include:
//
//   - payloads_received: counter of payloads received
//   - payloads_sent: counter of payloads sent
//   - dispatches: counter of dispatch events handled
//   - heartbeats_sent: counter of heartbeats sent
//   - heartbeat_acks: counter of heartbeat acknowledgements received
//   - zombies: counter of connections dropped for a missing acknowledgement
//   - reconnects: counter of reconnect attempts scheduled
//   - sessions_active: gauge of sessions currently running
//
// It is safe for the caller to modify the metrics map to add, update, and
// remove entries.
package gateway
