// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/creachadair/gateway/entity"
)

// An Opcode identifies the kind of a gateway payload.
type Opcode int

// Gateway opcodes.
const (
	OpDispatch            Opcode = 0  // recv: a named event
	OpHeartbeat           Opcode = 1  // send/recv: keepalive, or a request for one
	OpIdentify            Opcode = 2  // send: start a new session
	OpPresenceUpdate      Opcode = 3  // send: update the client presence
	OpVoiceStateUpdate    Opcode = 4  // send: join, move, or leave voice
	OpResume              Opcode = 6  // send: resume a previous session
	OpReconnect           Opcode = 7  // recv: the client should reconnect and resume
	OpRequestGuildMembers Opcode = 8  // send: request guild member chunks
	OpInvalidSession      Opcode = 9  // recv: the session is not valid
	OpHello               Opcode = 10 // recv: sent on connect, carries the heartbeat interval
	OpHeartbeatAck        Opcode = 11 // recv: acknowledges a heartbeat
)

var opNames = map[Opcode]string{
	OpDispatch:            "DISPATCH",
	OpHeartbeat:           "HEARTBEAT",
	OpIdentify:            "IDENTIFY",
	OpPresenceUpdate:      "PRESENCE_UPDATE",
	OpVoiceStateUpdate:    "VOICE_STATE_UPDATE",
	OpResume:              "RESUME",
	OpReconnect:           "RECONNECT",
	OpRequestGuildMembers: "REQUEST_GUILD_MEMBERS",
	OpInvalidSession:      "INVALID_SESSION",
	OpHello:               "HELLO",
	OpHeartbeatAck:        "HEARTBEAT_ACK",
}

func (o Opcode) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "OP:" + strconv.Itoa(int(o))
}

// A Payload is a single gateway frame. Dispatch payloads carry an event type
// and a sequence number; control payloads carry only an opcode and data.
type Payload struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// NewPayload constructs a payload with the given opcode whose data is the
// JSON encoding of body.
func NewPayload(op Opcode, body any) (*Payload, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %v body: %w", op, err)
	}
	return &Payload{Op: op, Data: data}, nil
}

// RedactedToken replaces the token of IDENTIFY and RESUME payloads given
// to a PayloadLogger.
const RedactedToken = "[redacted]"

// redacted returns p, or a copy of p with its token replaced if p is an
// IDENTIFY or RESUME payload.
func redacted(p *Payload) *Payload {
	if p.Op != OpIdentify && p.Op != OpResume {
		return p
	}
	cp := *p
	cp.Data = json.RawMessage("null")
	var body map[string]json.RawMessage
	if err := json.Unmarshal(p.Data, &body); err != nil {
		return &cp
	}
	if _, ok := body["token"]; ok {
		body["token"], _ = json.Marshal(RedactedToken)
	}
	if data, err := json.Marshal(body); err == nil {
		cp.Data = data
	}
	return &cp
}

// NewDispatch constructs a dispatch payload for an event.
func NewDispatch(eventType string, seq int64, body any) (*Payload, error) {
	p, err := NewPayload(OpDispatch, body)
	if err != nil {
		return nil, err
	}
	p.Type, p.Seq = eventType, &seq
	return p, nil
}

// IsDispatch reports whether p is a dispatch payload.
func (p *Payload) IsDispatch() bool { return p.Op == OpDispatch }

// Sequence reports the sequence number of p, if it has one.
func (p *Payload) Sequence() (int64, bool) {
	if p.Seq == nil {
		return 0, false
	}
	return *p.Seq, true
}

// Decode decodes the data of p into v.
func (p *Payload) Decode(v any) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %v data: %w", p.label(), err)
	}
	return nil
}

func (p *Payload) label() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Op.String()
}

func (p *Payload) String() string {
	if p == nil {
		return "Payload(nil)"
	}
	if seq, ok := p.Sequence(); ok {
		return fmt.Sprintf("Payload(%v, seq=%d, %d bytes)", p.label(), seq, len(p.Data))
	}
	return fmt.Sprintf("Payload(%v, %d bytes)", p.label(), len(p.Data))
}

// EncodePayload encodes p as a JSON text frame.
func EncodePayload(p *Payload) ([]byte, error) { return json.Marshal(p) }

// DecodePayload decodes a JSON text frame.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// Hello is the data of a HELLO payload.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// Interval returns the heartbeat interval as a duration.
func (h Hello) Interval() time.Duration { return time.Duration(h.HeartbeatInterval) * time.Millisecond }

// IdentifyProperties describe the client connection.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the data of an IDENTIFY payload.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *UpdatePresence    `json:"presence,omitempty"`
	Intents        uint64             `json:"intents"`
}

// Resume is the data of a RESUME payload.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// ReadyGuild is an unavailable guild listed by a READY event.
type ReadyGuild struct {
	ID          entity.ID `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Ready is the data of a READY event.
type Ready struct {
	Version          int          `json:"v"`
	User             entity.User  `json:"user"`
	Guilds           []ReadyGuild `json:"guilds"`
	SessionID        string       `json:"session_id"`
	ResumeGatewayURL string       `json:"resume_gateway_url,omitempty"`
	Shard            []int        `json:"shard,omitempty"`
}

// UpdatePresence is the data of a PRESENCE_UPDATE payload sent by the client.
type UpdatePresence struct {
	Since      *int64            `json:"since"`
	Activities []entity.Activity `json:"activities"`
	Status     string            `json:"status"`
	AFK        bool              `json:"afk"`
}

// UpdateVoiceState is the data of a VOICE_STATE_UPDATE payload sent by the
// client. A nil ChannelID leaves voice.
type UpdateVoiceState struct {
	GuildID   entity.ID  `json:"guild_id"`
	ChannelID *entity.ID `json:"channel_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}

// RequestGuildMembers is the data of a REQUEST_GUILD_MEMBERS payload. The
// response arrives as GUILD_MEMBERS_CHUNK events carrying the same nonce.
type RequestGuildMembers struct {
	GuildID   entity.ID   `json:"guild_id"`
	Query     *string     `json:"query,omitempty"`
	Limit     int         `json:"limit"`
	Presences bool        `json:"presences,omitempty"`
	UserIDs   []entity.ID `json:"user_ids,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
}
