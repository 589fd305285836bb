// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import "expvar"

// sessionMetrics record session activity counters.
type sessionMetrics struct {
	payloadsRecv   expvar.Int
	payloadsSent   expvar.Int
	dispatches     expvar.Int // dispatch events applied
	heartbeatsSent expvar.Int
	heartbeatAcks  expvar.Int
	zombies        expvar.Int // connections dropped for a missing acknowledgement
	reconnects     expvar.Int // reconnect attempts scheduled
	sessionsActive expvar.Int // gauge

	emap *expvar.Map
}

var rootMetrics = newSessionMetrics()

func newSessionMetrics() *sessionMetrics {
	sm := &sessionMetrics{emap: new(expvar.Map)}
	sm.emap.Set("payloads_received", &sm.payloadsRecv)
	sm.emap.Set("payloads_sent", &sm.payloadsSent)
	sm.emap.Set("dispatches", &sm.dispatches)
	sm.emap.Set("heartbeats_sent", &sm.heartbeatsSent)
	sm.emap.Set("heartbeat_acks", &sm.heartbeatAcks)
	sm.emap.Set("zombies", &sm.zombies)
	sm.emap.Set("reconnects", &sm.reconnects)
	sm.emap.Set("sessions_active", &sm.sessionsActive)
	return sm
}
