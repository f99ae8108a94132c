// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSetNickname       = "set_nickname"
	TypeStart             = "start"
	TypeNext              = "next"
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypeReport            = "report"
	TypeVideoCallRequest  = "video_call_request"
	TypeVideoCallResponse = "video_call_response"
	TypeVideoCallEnd      = "video_call_end"
	TypeWebRTCOffer       = "webrtc_offer"
	TypeWebRTCAnswer      = "webrtc_answer"
	TypeWebRTCICE         = "webrtc_ice_candidate"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated    = "session_created"
	TypeSearching         = "searching"
	TypeMatched           = "matched"
	TypePartnerLeft       = "partner_left"
	TypePartnerTyping     = "partner_typing"
	TypeReportSubmitted   = "report_submitted"
	TypePartnerBanned     = "partner_banned"
	TypeBanned            = "banned"
	TypeIncomingVideoCall = "incoming_video_call"
	TypeVideoCallEnded    = "video_call_ended"
	TypeError             = "error"
	TypePong              = "pong"
)

// Chat payload kinds carried in the "kind" field of a chat message.
const (
	KindText  = "text"
	KindImage = "image"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SetNicknameMsg is sent by the client to set its display name. The server
// trims whitespace and caps the name at 20 characters.
type SetNicknameMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// StartMsg is sent by the client to enter the matchmaking queue (or pair
// immediately if a valid partner is already waiting).
type StartMsg struct {
	Type string `json:"type"`
}

// NextMsg is sent by the client to skip the current partner and requeue.
type NextMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a chat message sent by the client within a pairing. Kind is
// "text" or "image"; Image carries an inline base64 payload for image
// messages.
type ChatMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Kind  string `json:"kind"`
	Image string `json:"image,omitempty"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// ReportMsg is sent by the client to report its current partner. Reason is
// free-form; recognized values include "spam", "harassment", "inappropriate"
// and "other", but unrecognized values pass through unchanged.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// VideoCallRequestMsg asks the partner to start a video call.
type VideoCallRequestMsg struct {
	Type string `json:"type"`
}

// VideoCallResponseMsg accepts or rejects a pending video call request.
type VideoCallResponseMsg struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

// VideoCallEndMsg ends an ongoing video call.
type VideoCallEndMsg struct {
	Type string `json:"type"`
}

// WebRTCOfferMsg carries an opaque SDP offer to be relayed to the partner.
// The server never inspects the payload.
type WebRTCOfferMsg struct {
	Type  string          `json:"type"`
	Offer json.RawMessage `json:"offer"`
}

// WebRTCAnswerMsg carries an opaque SDP answer to be relayed to the partner.
type WebRTCAnswerMsg struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
}

// WebRTCICEMsg carries an opaque ICE candidate to be relayed to the partner.
type WebRTCICEMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is
// established. The client uses the id to recognise its own messages in
// room echoes.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SearchingMsg confirms the client has entered the matchmaking queue.
type SearchingMsg struct {
	Type string `json:"type"`
}

// MatchedMsg is sent to both sides of a fresh pairing.
type MatchedMsg struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	PartnerNickname string `json:"partner_nickname"`
}

// PartnerLeftMsg is sent when the partner skipped away or disconnected.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// ServerChatMsg is a chat message delivered to both members of a pairing,
// including the sender.
type ServerChatMsg struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
	Kind     string `json:"kind"`
	Image    string `json:"image,omitempty"`
}

// PartnerTypingMsg relays the partner's typing indicator.
type PartnerTypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// ReportSubmittedMsg acknowledges a report to the reporter with the target's
// accumulated report count.
type ReportSubmittedMsg struct {
	Type   string `json:"type"`
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

// PartnerBannedMsg tells the reporter that its partner crossed the ban
// threshold and was removed.
type PartnerBannedMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// BannedMsg is sent to a banned connection just before its transport is
// severed.
type BannedMsg struct {
	Type string `json:"type"`
}

// IncomingVideoCallMsg notifies the partner of a video call request.
type IncomingVideoCallMsg struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Nickname string `json:"nickname"`
}

// ServerVideoCallResponseMsg relays the callee's accept/reject decision.
type ServerVideoCallResponseMsg struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	From     string `json:"from"`
}

// VideoCallEndedMsg notifies the partner that the call was ended.
type VideoCallEndedMsg struct {
	Type string `json:"type"`
}

// ServerWebRTCOfferMsg relays an SDP offer with the sender's id attached.
type ServerWebRTCOfferMsg struct {
	Type  string          `json:"type"`
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

// ServerWebRTCAnswerMsg relays an SDP answer with the sender's id attached.
type ServerWebRTCAnswerMsg struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

// ServerWebRTCICEMsg relays an ICE candidate with the sender's id attached.
type ServerWebRTCICEMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSetNickname:
		var m SetNicknameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStart:
		var m StartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoCallRequest:
		var m VideoCallRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoCallResponse:
		var m VideoCallResponseMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoCallEnd:
		var m VideoCallEndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCOffer:
		var m WebRTCOfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCAnswer:
		var m WebRTCAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCICE:
		var m WebRTCICEMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
