// Package abuse tracks report counts per connection and the set of banned
// connection ids. A connection accumulating BanThreshold reports is banned
// for the rest of its identifier's lifetime.
//
// Bans are keyed to the ephemeral connection id, not a durable identity, so
// a banned user can evade the ban by reconnecting under a new id. That is a
// known limitation inherited from the absence of any identity system.
package abuse

// BanThreshold is the number of reports that triggers an automatic ban.
const BanThreshold = 3

// Ledger holds report counters and the ban set. It is not safe for
// concurrent use; the session coordinator serializes access.
type Ledger struct {
	reports map[string]int
	banned  map[string]struct{}
}

// NewLedger creates an empty abuse ledger.
func NewLedger() *Ledger {
	return &Ledger{
		reports: make(map[string]int),
		banned:  make(map[string]struct{}),
	}
}

// Report increments the report counter for target and returns the new count.
// Reports are not deduplicated by reporter: the same reporter calling this
// repeatedly keeps incrementing the count.
func (l *Ledger) Report(target string) int {
	l.reports[target]++
	return l.reports[target]
}

// Count returns the accumulated report count for target.
func (l *Ledger) Count(target string) int {
	return l.reports[target]
}

// ShouldBan reports whether count has reached the ban threshold.
func (l *Ledger) ShouldBan(count int) bool {
	return count >= BanThreshold
}

// Ban adds id to the ban set. Idempotent.
func (l *Ledger) Ban(id string) {
	l.banned[id] = struct{}{}
}

// IsBanned reports whether id is in the ban set.
func (l *Ledger) IsBanned(id string) bool {
	_, ok := l.banned[id]
	return ok
}

// Banned returns the number of banned ids.
func (l *Ledger) Banned() int {
	return len(l.banned)
}

// Forget clears the report counter for id on disconnect. The ban set entry,
// if any, is retained: a ban must survive the banned connection's own
// disconnect so the id cannot slip back in before it is retired.
func (l *Ledger) Forget(id string) {
	delete(l.reports, id)
}
