package coordinator

import (
	"encoding/json"

	"github.com/driftchat/drift/internal/metrics"
	"github.com/driftchat/drift/internal/protocol"
)

// Signaling relay: call-setup traffic is forwarded verbatim to the sender's
// current partner with the sender id attached. The coordinator never
// buffers, validates, or interprets these payloads; candidate buffering and
// negotiation state live entirely in the peers. Messages from unpaired
// connections are dropped silently. Signaling bypasses the rate limiter.

// RelayOffer forwards an SDP offer to the sender's partner.
func (c *Coordinator) RelayOffer(id string, offer json.RawMessage) {
	c.relay(id, "offer", protocol.TypeWebRTCOffer, protocol.ServerWebRTCOfferMsg{
		Offer: offer,
		From:  id,
	})
}

// RelayAnswer forwards an SDP answer to the sender's partner.
func (c *Coordinator) RelayAnswer(id string, answer json.RawMessage) {
	c.relay(id, "answer", protocol.TypeWebRTCAnswer, protocol.ServerWebRTCAnswerMsg{
		Answer: answer,
		From:   id,
	})
}

// RelayICECandidate forwards an ICE candidate to the sender's partner.
func (c *Coordinator) RelayICECandidate(id string, candidate json.RawMessage) {
	c.relay(id, "ice_candidate", protocol.TypeWebRTCICE, protocol.ServerWebRTCICEMsg{
		Candidate: candidate,
		From:      id,
	})
}

// CallRequest notifies the partner of an incoming video call, carrying the
// caller's display name.
func (c *Coordinator) CallRequest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partner, ok := c.pairs.PartnerOf(id)
	if !ok {
		return
	}
	metrics.SignalsTotal.WithLabelValues("call_request").Inc()
	c.emit(partner, protocol.TypeIncomingVideoCall, protocol.IncomingVideoCallMsg{
		From:     id,
		Nickname: c.nicknameLocked(id),
	})
}

// CallResponse relays the callee's accept/reject decision to the caller.
func (c *Coordinator) CallResponse(id string, accepted bool) {
	c.relay(id, "call_response", protocol.TypeVideoCallResponse, protocol.ServerVideoCallResponseMsg{
		Accepted: accepted,
		From:     id,
	})
}

// CallEnd notifies the partner that the video call was ended.
func (c *Coordinator) CallEnd(id string) {
	c.relay(id, "call_end", protocol.TypeVideoCallEnded, protocol.VideoCallEndedMsg{})
}

// relay resolves the sender's partner and forwards one signaling message,
// dropping it silently when no pairing exists.
func (c *Coordinator) relay(id, kind, msgType string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partner, ok := c.pairs.PartnerOf(id)
	if !ok {
		return
	}
	metrics.SignalsTotal.WithLabelValues(kind).Inc()
	c.emit(partner, msgType, payload)
}
