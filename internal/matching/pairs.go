package matching

import "github.com/google/uuid"

// PairTable is the authoritative record of who is paired with whom. The
// partner relation is symmetric: if a's partner is b then b's partner is a,
// and both share one session id generated at pairing time.
type PairTable struct {
	partner map[string]string // id -> partner id
	session map[string]string // id -> shared session id
}

// NewPairTable creates an empty pairing table.
func NewPairTable() *PairTable {
	return &PairTable{
		partner: make(map[string]string),
		session: make(map[string]string),
	}
}

// Pair records a fresh pairing between a and b and returns the generated
// session id. Neither a nor b may already be paired; callers are expected to
// unpair first, so a violation here is a lifecycle bug and panics rather
// than corrupting the table.
func (p *PairTable) Pair(a, b string) string {
	if _, ok := p.partner[a]; ok {
		panic("matching: Pair called on already-paired connection " + a)
	}
	if _, ok := p.partner[b]; ok {
		panic("matching: Pair called on already-paired connection " + b)
	}

	sessionID := uuid.New().String()
	p.partner[a] = b
	p.partner[b] = a
	p.session[a] = sessionID
	p.session[b] = sessionID
	return sessionID
}

// PartnerOf returns the paired partner of id, or ok=false if id is not
// paired.
func (p *PairTable) PartnerOf(id string) (string, bool) {
	partner, ok := p.partner[id]
	return partner, ok
}

// SessionOf returns the session id shared by id's pairing, or ok=false if id
// is not paired.
func (p *PairTable) SessionOf(id string) (string, bool) {
	sessionID, ok := p.session[id]
	return sessionID, ok
}

// Unpair removes id and its partner (if any) from the table. It returns the
// partner id that was removed so the caller can notify it, or ok=false if id
// was not paired.
func (p *PairTable) Unpair(id string) (string, bool) {
	partner, ok := p.partner[id]
	if !ok {
		return "", false
	}
	delete(p.partner, id)
	delete(p.partner, partner)
	delete(p.session, id)
	delete(p.session, partner)
	return partner, true
}

// Pairs returns the number of active pairings.
func (p *PairTable) Pairs() int {
	return len(p.partner) / 2
}
