package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftchat/drift/internal/protocol"
)

// frame is one decoded server message captured by the fake transport.
type frame struct {
	Type string
	Body map[string]interface{}
}

// fakeTransport records every frame the coordinator emits, keyed by
// connection id. It satisfies the Transport interface.
type fakeTransport struct {
	mu           sync.Mutex
	frames       map[string][]frame
	live         map[string]bool
	disconnected []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(map[string][]frame),
		live:   make(map[string]bool),
	}
}

func (f *fakeTransport) online(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.live[id] = true
	}
}

func (f *fakeTransport) offline(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = false
}

func (f *fakeTransport) Send(id string, data []byte) {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		panic(fmt.Sprintf("fakeTransport: invalid frame for %s: %v", id, err))
	}
	msgType, _ := body["type"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[id] = append(f.frames[id], frame{Type: msgType, Body: body})
}

func (f *fakeTransport) Disconnect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = false
	f.disconnected = append(f.disconnected, id)
}

func (f *fakeTransport) Connected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

// typesFor returns the ordered list of message types sent to id.
func (f *fakeTransport) typesFor(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames[id]))
	for _, fr := range f.frames[id] {
		out = append(out, fr.Type)
	}
	return out
}

// last returns the most recent frame of the given type sent to id.
func (f *fakeTransport) last(id, msgType string) (frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.frames[id]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == msgType {
			return frames[i], true
		}
	}
	return frame{}, false
}

func (f *fakeTransport) count(id, msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames[id] {
		if fr.Type == msgType {
			n++
		}
	}
	return n
}

func (f *fakeTransport) wasDisconnected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.disconnected {
		if d == id {
			return true
		}
	}
	return false
}

func newTestCoordinator(t *testing.T, ids ...string) (*Coordinator, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	ft.online(ids...)
	return New(DefaultConfig(), ft), ft
}

// pairUp drives two connections through matchmaking and fails the test if
// they do not end up paired with each other.
func pairUp(t *testing.T, c *Coordinator, ft *fakeTransport, a, b string) {
	t.Helper()
	c.Start(a)
	c.Start(b)
	if partner, ok := c.pairs.PartnerOf(a); !ok || partner != b {
		t.Fatalf("setup: expected %s paired with %s", a, b)
	}
	if _, ok := ft.last(a, protocol.TypeMatched); !ok {
		t.Fatalf("setup: %s never received matched", a)
	}
}

// assertExclusive checks the core table invariant: a connection is never
// queued and paired at the same time.
func assertExclusive(t *testing.T, c *Coordinator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, paired := c.pairs.PartnerOf(id)
		if paired && c.queue.Contains(id) {
			t.Fatalf("conn %s is both queued and paired", id)
		}
	}
}

// ---------------------------------------------------------------------------
// Matchmaking
// ---------------------------------------------------------------------------

func TestStart_FirstConnectionSearches(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")

	c.Start("x")

	if _, ok := ft.last("x", protocol.TypeSearching); !ok {
		t.Error("expected searching acknowledgement")
	}
	if !c.queue.Contains("x") {
		t.Error("x should be queued")
	}
}

func TestStart_PairsTwoConnections(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	c.SetNickname("x", "Xavier")
	c.SetNickname("y", "Yuri")

	c.Start("x")
	c.Start("y")

	fx, okx := ft.last("x", protocol.TypeMatched)
	fy, oky := ft.last("y", protocol.TypeMatched)
	if !okx || !oky {
		t.Fatal("both sides should receive matched")
	}
	if fx.Body["partner_nickname"] != "Yuri" {
		t.Errorf("x sees partner %v, want Yuri", fx.Body["partner_nickname"])
	}
	if fy.Body["partner_nickname"] != "Xavier" {
		t.Errorf("y sees partner %v, want Xavier", fy.Body["partner_nickname"])
	}
	if fx.Body["session_id"] == "" || fx.Body["session_id"] != fy.Body["session_id"] {
		t.Errorf("session ids differ: %v vs %v", fx.Body["session_id"], fy.Body["session_id"])
	}

	if c.queue.Len() != 0 {
		t.Errorf("queue should be empty after pairing, got %d", c.queue.Len())
	}
	assertExclusive(t, c, "x", "y")
}

func TestStart_IdempotentWhileQueued(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")

	c.Start("x")
	c.Start("x")

	if c.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", c.queue.Len())
	}
	// Each start is acknowledged even when already queued.
	if got := ft.count("x", protocol.TypeSearching); got != 2 {
		t.Errorf("searching count = %d, want 2", got)
	}
}

func TestNext_RequeuesAbandonedPartner(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y", "z")
	pairUp(t, c, ft, "x", "y")

	c.Next("x")

	// y learns its partner left and rejoins the queue automatically.
	if _, ok := ft.last("y", protocol.TypePartnerLeft); !ok {
		t.Error("y should receive partner_left")
	}
	if _, ok := ft.last("y", protocol.TypeSearching); !ok {
		t.Error("y should be requeued automatically")
	}
	if _, ok := ft.last("x", protocol.TypeSearching); !ok {
		t.Error("x should be searching")
	}

	// With only these two waiting they must not re-pair with each other.
	if _, paired := c.pairs.PartnerOf("x"); paired {
		t.Fatal("x must not be re-paired with its former partner")
	}
	if !c.queue.Contains("x") || !c.queue.Contains("y") {
		t.Fatal("both x and y should be waiting")
	}

	// A fresh arrival matches the abandoned side, which kept queue-head
	// position.
	c.Start("z")

	if _, ok := ft.last("z", protocol.TypeMatched); !ok {
		t.Fatal("z should be matched")
	}
	if partner, _ := c.pairs.PartnerOf("z"); partner != "y" {
		t.Errorf("z paired with %q, want y", partner)
	}
	if _, ok := ft.last("y", protocol.TypeMatched); !ok {
		t.Error("y should be matched with z")
	}
	assertExclusive(t, c, "x", "y", "z")
}

func TestNext_FormerPartnerExclusionIsOneShot(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Next("x")

	// The exclusion only applies to the pass triggered by the skip. A later
	// explicit start may pair them again.
	c.Start("x")

	if partner, _ := c.pairs.PartnerOf("x"); partner != "y" {
		t.Errorf("x paired with %q, want y on a fresh start", partner)
	}
}

func TestStart_SkipsBannedQueueEntry(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")

	c.Start("x")
	c.ledger.Ban("x")

	c.Start("y")

	if _, ok := ft.last("y", protocol.TypeMatched); ok {
		t.Fatal("y must not match a banned connection")
	}
	if _, ok := ft.last("y", protocol.TypeSearching); !ok {
		t.Error("y should be searching")
	}
	// The banned entry is discarded during the pass, not retained.
	if c.queue.Contains("x") {
		t.Error("banned entry should be discarded from the queue")
	}
}

func TestStart_SkipsDeadQueueEntry(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")

	c.Start("x")
	ft.offline("x")

	c.Start("y")

	if _, ok := ft.last("y", protocol.TypeMatched); ok {
		t.Fatal("y must not match a dead connection")
	}
	if c.queue.Contains("x") {
		t.Error("dead entry should be discarded from the queue")
	}
	if !c.queue.Contains("y") {
		t.Error("y should be queued")
	}
}

func TestQueueAndPairsStayExclusive(t *testing.T) {
	c, _ := newTestCoordinator(t, "a", "b", "c", "d")
	ids := []string{"a", "b", "c", "d"}

	steps := []func(){
		func() { c.Start("a") },
		func() { c.Start("b") },
		func() { c.Start("c") },
		func() { c.Next("a") },
		func() { c.Start("d") },
		func() { c.Disconnect("b") },
		func() { c.Start("c") },
	}
	for i, step := range steps {
		step()
		for _, id := range ids {
			_, paired := c.pairs.PartnerOf(id)
			if paired && c.queue.Contains(id) {
				t.Fatalf("after step %d: conn %s is both queued and paired", i, id)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestMessage_DeliveredToBothSides(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	c.SetNickname("x", "Xavier")
	pairUp(t, c, ft, "x", "y")

	c.Message("x", "hello there", protocol.KindText, "")

	for _, id := range []string{"x", "y"} {
		fr, ok := ft.last(id, protocol.TypeMessage)
		if !ok {
			t.Fatalf("%s did not receive the message", id)
		}
		if fr.Body["text"] != "hello there" {
			t.Errorf("%s text = %v, want %q", id, fr.Body["text"], "hello there")
		}
		if fr.Body["from"] != "x" {
			t.Errorf("%s from = %v, want x", id, fr.Body["from"])
		}
		if fr.Body["nickname"] != "Xavier" {
			t.Errorf("%s nickname = %v, want Xavier", id, fr.Body["nickname"])
		}
		if fr.Body["kind"] != protocol.KindText {
			t.Errorf("%s kind = %v, want text", id, fr.Body["kind"])
		}
	}
}

func TestMessage_EmptyKindDefaultsToText(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Message("x", "hi", "", "")

	fr, ok := ft.last("y", protocol.TypeMessage)
	if !ok {
		t.Fatal("message not delivered")
	}
	if fr.Body["kind"] != protocol.KindText {
		t.Errorf("kind = %v, want text", fr.Body["kind"])
	}
}

func TestMessage_ImagePayload(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Message("x", "", protocol.KindImage, "ZGF0YQ==")

	fr, ok := ft.last("y", protocol.TypeMessage)
	if !ok {
		t.Fatal("image message not delivered")
	}
	if fr.Body["kind"] != protocol.KindImage {
		t.Errorf("kind = %v, want image", fr.Body["kind"])
	}
	if fr.Body["image"] != "ZGF0YQ==" {
		t.Errorf("image = %v, want payload intact", fr.Body["image"])
	}
}

func TestMessage_WithoutPartnerDropped(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")
	c.Start("x")

	c.Message("x", "hello?", protocol.KindText, "")

	if got := ft.count("x", protocol.TypeMessage); got != 0 {
		t.Errorf("unpaired message should be dropped, got %d frames", got)
	}
}

func TestMessage_OversizeDropped(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Message("x", strings.Repeat("a", 1001), protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 0 {
		t.Errorf("oversize message should be dropped, got %d frames", got)
	}

	// Exactly at the cap still passes.
	c.Message("x", strings.Repeat("a", 1000), protocol.KindText, "")
	if got := ft.count("y", protocol.TypeMessage); got != 1 {
		t.Errorf("message at the cap should be delivered, got %d frames", got)
	}
}

func TestMessage_OversizeCountsRunesNotBytes(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	// 1000 multibyte runes are within the cap even though the byte length
	// is far larger.
	c.Message("x", strings.Repeat("ã", 1000), protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 1 {
		t.Errorf("1000-rune message should be delivered, got %d frames", got)
	}
}

func TestMessage_RateLimited(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	now := time.Unix(1700000000, 0)
	c.limiter.SetClock(func() time.Time { return now })

	c.Message("x", "one", protocol.KindText, "")
	now = now.Add(100 * time.Millisecond)
	c.Message("x", "two", protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 1 {
		t.Fatalf("second message inside cooldown should be dropped, got %d frames", got)
	}

	now = now.Add(200 * time.Millisecond)
	c.Message("x", "three", protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 2 {
		t.Errorf("message after cooldown should be delivered, got %d frames", got)
	}
	fr, _ := ft.last("y", protocol.TypeMessage)
	if fr.Body["text"] != "three" {
		t.Errorf("delivered text = %v, want three", fr.Body["text"])
	}
}

func TestMessage_FlaggedContentStillDelivered(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	// Screening runs in shadow mode: suspicious traffic is logged but never
	// withheld.
	c.Message("x", "visit https://example.com now", protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 1 {
		t.Errorf("flagged message should still be delivered, got %d frames", got)
	}
}

func TestTyping_ForwardedToPartnerOnly(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Typing("x", true)

	fr, ok := ft.last("y", protocol.TypePartnerTyping)
	if !ok {
		t.Fatal("partner should receive the typing indicator")
	}
	if fr.Body["is_typing"] != true {
		t.Errorf("is_typing = %v, want true", fr.Body["is_typing"])
	}
	if got := ft.count("x", protocol.TypePartnerTyping); got != 0 {
		t.Errorf("sender must not receive its own typing indicator, got %d", got)
	}
}

func TestTyping_WithoutPartnerDropped(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")
	c.Start("x")

	c.Typing("x", true)

	if got := ft.count("x", protocol.TypePartnerTyping); got != 0 {
		t.Errorf("expected no frames, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Reports and bans
// ---------------------------------------------------------------------------

func TestReport_AcknowledgedWithCount(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Report("x", "spam")

	fr, ok := ft.last("x", protocol.TypeReportSubmitted)
	if !ok {
		t.Fatal("reporter should receive report_submitted")
	}
	if fr.Body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", fr.Body["count"])
	}
	if fr.Body["reason"] != "spam" {
		t.Errorf("reason = %v, want spam", fr.Body["reason"])
	}
}

func TestReport_EmptyReasonDefaultsToOther(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Report("x", "")

	fr, _ := ft.last("x", protocol.TypeReportSubmitted)
	if fr.Body["reason"] != "other" {
		t.Errorf("reason = %v, want other", fr.Body["reason"])
	}
}

func TestReport_TwoReportsDoNotBan(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	c.Report("x", "spam")
	c.Report("x", "spam")

	if c.ledger.IsBanned("y") {
		t.Fatal("two reports must not ban")
	}
	if _, ok := ft.last("y", protocol.TypeBanned); ok {
		t.Error("y must not receive banned")
	}
	if partner, _ := c.pairs.PartnerOf("x"); partner != "y" {
		t.Error("pairing should survive sub-threshold reports")
	}
}

func TestReport_ThirdReportBansPartner(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	c.SetNickname("y", "Yuri")
	pairUp(t, c, ft, "x", "y")

	c.Report("x", "spam")
	c.Report("x", "harassment")
	c.Report("x", "spam")

	if !c.ledger.IsBanned("y") {
		t.Fatal("y should be banned after three reports")
	}

	// The banned side is told, then severed.
	if _, ok := ft.last("y", protocol.TypeBanned); !ok {
		t.Error("y should receive banned before the transport closes")
	}
	if !ft.wasDisconnected("y") {
		t.Error("y's transport should be severed")
	}

	// The reporter learns the outcome and goes straight back to searching.
	fr, ok := ft.last("x", protocol.TypePartnerBanned)
	if !ok {
		t.Fatal("x should receive partner_banned")
	}
	if fr.Body["nickname"] != "Yuri" {
		t.Errorf("partner_banned nickname = %v, want Yuri", fr.Body["nickname"])
	}
	if _, ok := ft.last("x", protocol.TypeSearching); !ok {
		t.Error("x should be requeued after the ban")
	}

	if _, paired := c.pairs.PartnerOf("x"); paired {
		t.Error("pairing should be dissolved")
	}
	assertExclusive(t, c, "x", "y")
}

func TestReport_WithoutPartnerIgnored(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")
	c.Start("x")

	c.Report("x", "spam")

	if got := ft.count("x", protocol.TypeReportSubmitted); got != 0 {
		t.Errorf("report without a partner should be ignored, got %d acks", got)
	}
}

func TestBannedConnection_SeveredOnStart(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")
	c.ledger.Ban("x")

	c.Start("x")

	if _, ok := ft.last("x", protocol.TypeBanned); !ok {
		t.Error("banned connection should be told")
	}
	if !ft.wasDisconnected("x") {
		t.Error("banned connection should be severed")
	}
	if c.queue.Contains("x") {
		t.Error("banned connection must not enter the queue")
	}
}

func TestBannedConnection_SeveredOnMessage(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")
	c.ledger.Ban("x")

	c.Message("x", "hi", protocol.KindText, "")

	if got := ft.count("y", protocol.TypeMessage); got != 0 {
		t.Error("banned sender's message must not be delivered")
	}
	if !ft.wasDisconnected("x") {
		t.Error("banned sender should be severed")
	}
}

func TestBanSurvivesDisconnect(t *testing.T) {
	c, _ := newTestCoordinator(t, "x")
	c.ledger.Ban("x")

	c.Disconnect("x")

	if !c.ledger.IsBanned("x") {
		t.Error("ban must survive connection teardown")
	}
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

func TestDisconnect_RequeuesPartner(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	ft.offline("x")
	c.Disconnect("x")

	if _, ok := ft.last("y", protocol.TypePartnerLeft); !ok {
		t.Error("y should receive partner_left")
	}
	if _, ok := ft.last("y", protocol.TypeSearching); !ok {
		t.Error("y should be requeued")
	}
	if _, paired := c.pairs.PartnerOf("y"); paired {
		t.Error("y should no longer be paired")
	}
}

func TestDisconnect_CleansPerConnectionState(t *testing.T) {
	c, ft := newTestCoordinator(t, "x")
	c.SetNickname("x", "Xavier")
	c.Start("x")

	ft.offline("x")
	c.Disconnect("x")

	if c.queue.Contains("x") {
		t.Error("x should leave the queue")
	}
	if _, ok := c.names["x"]; ok {
		t.Error("nickname entry should be removed")
	}
}

func TestDisconnect_UnknownIDIsSafe(t *testing.T) {
	c, _ := newTestCoordinator(t)
	// Must not panic or corrupt state.
	c.Disconnect("ghost")
}

// ---------------------------------------------------------------------------
// Nicknames
// ---------------------------------------------------------------------------

func TestSanitizeNickname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Luna", "Luna"},
		{"  Luna  ", "Luna"},
		{"", DefaultNickname},
		{"   ", DefaultNickname},
		{strings.Repeat("a", 25), strings.Repeat("a", 20)},
		{strings.Repeat("ま", 25), strings.Repeat("ま", 20)},
		{"exactly-twenty-chars", "exactly-twenty-chars"},
	}
	for _, tt := range tests {
		if got := sanitizeNickname(tt.in); got != tt.want {
			t.Errorf("sanitizeNickname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNickname_DefaultInMatched(t *testing.T) {
	c, ft := newTestCoordinator(t, "x", "y")
	pairUp(t, c, ft, "x", "y")

	fr, _ := ft.last("x", protocol.TypeMatched)
	if fr.Body["partner_nickname"] != DefaultNickname {
		t.Errorf("partner_nickname = %v, want %q", fr.Body["partner_nickname"], DefaultNickname)
	}
}
