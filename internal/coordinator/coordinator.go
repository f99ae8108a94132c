// Package coordinator implements the session coordinator: the matchmaking
// queue, pairing state, abuse controls, and message fan-out for anonymous
// 1:1 chat. All shared tables are owned by one Coordinator instance and
// every event handler serializes on a single mutex, so overlapping start /
// report / disconnect events can never interleave partially.
package coordinator

import (
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/driftchat/drift/internal/abuse"
	"github.com/driftchat/drift/internal/matching"
	"github.com/driftchat/drift/internal/metrics"
	"github.com/driftchat/drift/internal/moderation"
	"github.com/driftchat/drift/internal/protocol"
	"github.com/driftchat/drift/internal/ratelimit"
)

const (
	// DefaultNickname is used for connections that never set a display name
	// or set a blank one.
	DefaultNickname = "Anonymous"

	// MaxNicknameChars caps display names.
	MaxNicknameChars = 20

	// DefaultMaxMessageChars caps chat text length. Oversize messages are
	// dropped silently.
	DefaultMaxMessageChars = 1000
)

// Transport is the outbound side of the coordinator: fire-and-forget frame
// delivery, forced severance, and liveness checks. The WebSocket server
// implements it; tests substitute a fake.
type Transport interface {
	// Send delivers a frame to a connection. It must never block; delivery
	// to a slow or gone peer may silently fail.
	Send(connID string, data []byte)

	// Disconnect forcibly severs a connection's transport. Cleanup runs
	// asynchronously through the normal disconnect path.
	Disconnect(connID string)

	// Connected reports whether the connection is still live.
	Connected(connID string) bool
}

// Config holds coordinator tunables.
type Config struct {
	MessageCooldown time.Duration // min interval between accepted chat messages
	MaxMessageChars int           // max chat text length in characters
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MessageCooldown: ratelimit.DefaultCooldown,
		MaxMessageChars: DefaultMaxMessageChars,
	}
}

// Coordinator owns all matchmaking and abuse-control state. A connection is
// in at most one of {queued, paired} at any time; the requeue procedure
// always clears one before attempting the other.
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	transport Transport

	names   map[string]string // connID -> display name
	queue   *matching.Queue
	pairs   *matching.PairTable
	ledger  *abuse.Ledger
	limiter *ratelimit.Limiter
}

// New creates a Coordinator with empty tables.
func New(cfg Config, transport Transport) *Coordinator {
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = DefaultMaxMessageChars
	}
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		names:     make(map[string]string),
		queue:     matching.NewQueue(),
		pairs:     matching.NewPairTable(),
		ledger:    abuse.NewLedger(),
		limiter:   ratelimit.NewLimiter(cfg.MessageCooldown),
	}
}

// Connect handles a freshly established connection. Connection ids are never
// reused, so a banned id showing up here means the transport recycled one;
// deny immediately.
func (c *Coordinator) Connect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enforceBanLocked(id) {
		log.Printf("[coordinator] banned conn=%s denied at connect", id)
	}
}

// SetNickname stores the connection's display name: trimmed, capped at
// MaxNicknameChars characters, defaulting to DefaultNickname when blank.
func (c *Coordinator) SetNickname(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enforceBanLocked(id) {
		return
	}

	c.names[id] = sanitizeNickname(name)
	log.Printf("[coordinator] conn=%s set nickname to %q", id, c.names[id])
}

// Start enters the matchmaking queue, pairing immediately if a valid partner
// is already waiting. When called while paired it acts as a skip: the former
// partner is notified and automatically requeued, never left idling.
func (c *Coordinator) Start(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enforceBanLocked(id) {
		return
	}

	former := ""
	if partner, ok := c.pairs.Unpair(id); ok {
		former = partner
		c.emit(partner, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		// The abandoned side rejoins the queue before the initiator so it
		// keeps its place at the head.
		c.requeueLocked(partner, id)
	}

	c.requeueLocked(id, former)
	c.updateGaugesLocked()
}

// Next skips the current partner. It is a synonym of Start; the split exists
// only to mirror the client surface.
func (c *Coordinator) Next(id string) {
	c.Start(id)
}

// Message delivers a chat message to both members of the sender's pairing,
// including the sender, so multi-tab echo stays consistent. Policy
// violations (no partner, oversize text, cooldown not elapsed) drop the
// message with no feedback to the sender.
func (c *Coordinator) Message(id, text, kind, image string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enforceBanLocked(id) {
		return
	}

	partner, ok := c.pairs.PartnerOf(id)
	if !ok {
		log.Printf("[coordinator] conn=%s sent message without a pairing", id)
		return
	}

	if kind == "" {
		kind = protocol.KindText
	}

	if utf8.RuneCountInString(text) > c.cfg.MaxMessageChars {
		metrics.MessagesTotal.WithLabelValues("oversize").Inc()
		log.Printf("[coordinator] dropped oversize message from conn=%s (%d chars)",
			id, utf8.RuneCountInString(text))
		return
	}

	// Neither an oversize nor a rate-limited drop updates the cooldown
	// timestamp, so checking length first is behavior-equivalent and lets
	// Allow record acceptance in one step.
	if !c.limiter.Allow(id) {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		log.Printf("[coordinator] rate limited conn=%s", id)
		return
	}

	// Shadow-mode screening: flagged traffic is logged for operators but
	// still delivered.
	if reason, flagged := moderation.Screen(text); flagged {
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
		log.Printf("[moderation] flagged conn=%s reason=%s", id, reason)
	}

	msg := protocol.ServerChatMsg{
		From:     id,
		Nickname: c.nicknameLocked(id),
		Text:     text,
		Kind:     kind,
		Image:    image,
	}
	c.emit(id, protocol.TypeMessage, msg)
	c.emit(partner, protocol.TypeMessage, msg)
	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
}

// Typing forwards the typing indicator to the current partner, if any.
// Fire-and-forget: no rate limit, no persistence.
func (c *Coordinator) Typing(id string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partner, ok := c.pairs.PartnerOf(id)
	if !ok {
		return
	}
	c.emit(partner, protocol.TypePartnerTyping, protocol.PartnerTypingMsg{IsTyping: isTyping})
}

// Report files an abuse report against the reporter's current partner. A
// connection may only report its own active partner; anything else is a
// silent no-op. Crossing the threshold bans the partner, severs it, and
// requeues the reporter. Reports are not deduplicated per reporter; a
// single partner can cross the threshold alone.
func (c *Coordinator) Report(id, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partner, ok := c.pairs.PartnerOf(id)
	if !ok {
		log.Printf("[coordinator] conn=%s tried to report without a partner", id)
		return
	}

	if reason == "" {
		reason = "other"
	}

	count := c.ledger.Report(partner)
	metrics.ReportsTotal.Inc()
	log.Printf("[coordinator] conn=%s reported %s reason=%q (%d/%d)",
		id, partner, reason, count, abuse.BanThreshold)

	c.emit(id, protocol.TypeReportSubmitted, protocol.ReportSubmittedMsg{
		Count:  count,
		Reason: reason,
	})

	if !c.ledger.ShouldBan(count) {
		return
	}

	c.ledger.Ban(partner)
	metrics.BansTotal.Inc()
	bannedName := c.nicknameLocked(partner)
	log.Printf("[coordinator] banned conn=%s (%s)", partner, bannedName)

	// Notify, then sever. The transport flushes the notice before closing;
	// the banned side's remaining state is cleaned up by its disconnect.
	c.emit(partner, protocol.TypeBanned, protocol.BannedMsg{})
	c.transport.Disconnect(partner)

	c.emit(id, protocol.TypePartnerBanned, protocol.PartnerBannedMsg{Nickname: bannedName})

	c.pairs.Unpair(id)
	c.requeueLocked(id, partner)
	c.updateGaugesLocked()
}

// Disconnect is the transport-initiated teardown. It always fires regardless
// of state: the connection leaves the queue, its partner (if any) is
// notified and automatically requeued, and all per-connection entries are
// removed. A ban set entry, if present, is retained.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Remove(id)

	if partner, ok := c.pairs.Unpair(id); ok {
		c.emit(partner, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		c.requeueLocked(partner, id)
	}

	delete(c.names, id)
	c.limiter.Forget(id)
	c.ledger.Forget(id)
	c.updateGaugesLocked()

	log.Printf("[coordinator] cleaned up conn=%s", id)
}

// ---------------------------------------------------------------------------
// Internals. All require c.mu to be held.
// ---------------------------------------------------------------------------

// requeueLocked runs the requeue procedure for id: drop any stale queue
// entry, then either pair with the first valid waiting connection or join
// the queue tail. exclude names a former partner to skip for this pass only
// (it stays queued), so a skip cannot immediately re-pair the same two
// connections.
func (c *Coordinator) requeueLocked(id, exclude string) {
	c.queue.Remove(id)

	found := c.queue.DequeueFirst(
		func(cand string) bool { return cand == id || (exclude != "" && cand == exclude) },
		func(cand string) bool { return !c.ledger.IsBanned(cand) && c.transport.Connected(cand) },
	)

	if found == "" {
		c.queue.Enqueue(id)
		c.emit(id, protocol.TypeSearching, protocol.SearchingMsg{})
		log.Printf("[coordinator] conn=%s searching (queue size: %d)", id, c.queue.Len())
		return
	}

	c.pairLocked(found, id)
}

// pairLocked records a pairing and notifies both sides with the partner's
// display name and the shared session id.
func (c *Coordinator) pairLocked(a, b string) {
	sessionID := c.pairs.Pair(a, b)

	c.emit(a, protocol.TypeMatched, protocol.MatchedMsg{
		SessionID:       sessionID,
		PartnerNickname: c.nicknameLocked(b),
	})
	c.emit(b, protocol.TypeMatched, protocol.MatchedMsg{
		SessionID:       sessionID,
		PartnerNickname: c.nicknameLocked(a),
	})

	log.Printf("[coordinator] paired %s (%s) with %s (%s) session=%s",
		a, c.nicknameLocked(a), b, c.nicknameLocked(b), sessionID)
}

// enforceBanLocked handles the hard terminal ban condition: a banned
// connection is told so and severed on any lifecycle event, regardless of
// current state. Returns true when the caller must stop processing.
func (c *Coordinator) enforceBanLocked(id string) bool {
	if !c.ledger.IsBanned(id) {
		return false
	}
	c.emit(id, protocol.TypeBanned, protocol.BannedMsg{})
	c.transport.Disconnect(id)
	return true
}

// nicknameLocked returns id's display name, defaulting to DefaultNickname.
func (c *Coordinator) nicknameLocked(id string) string {
	if name, ok := c.names[id]; ok && name != "" {
		return name
	}
	return DefaultNickname
}

// emit builds a server message and hands it to the transport. Fire-and-forget:
// the transport never blocks and delivery failures are its concern.
func (c *Coordinator) emit(id string, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[coordinator] failed to build %s for conn=%s: %v", msgType, id, err)
		return
	}
	c.transport.Send(id, data)
}

func (c *Coordinator) updateGaugesLocked() {
	metrics.QueueSize.Set(float64(c.queue.Len()))
	metrics.ActivePairs.Set(float64(c.pairs.Pairs()))
}

// sanitizeNickname trims whitespace, caps the result at MaxNicknameChars
// characters, and falls back to DefaultNickname when blank.
func sanitizeNickname(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultNickname
	}
	runes := []rune(trimmed)
	if len(runes) > MaxNicknameChars {
		trimmed = string(runes[:MaxNicknameChars])
	}
	return trimmed
}
