// Package halfopen bounds the number of TCP connects in flight.
package halfopen

// Gate issues tickets for outbound connection attempts. All methods are
// called from the session loop; the gate is not safe for concurrent use.
type Gate struct {
	limit int
	held  int
}

// New returns a Gate allowing limit concurrent attempts.
// A non-positive limit blocks all attempts until SetLimit is called.
func New(limit int) *Gate {
	return &Gate{limit: limit}
}

// Ticket is a held slot. Release is idempotent.
type Ticket struct {
	g    *Gate
	done bool
}

// TryEnter takes a slot if one is free.
func (g *Gate) TryEnter() (*Ticket, bool) {
	if g.held >= g.limit {
		return nil, false
	}
	g.held++
	return &Ticket{g: g}, true
}

// Release returns the slot to the gate.
func (t *Ticket) Release() {
	if t == nil || t.done {
		return
	}
	t.done = true
	t.g.held--
}

// Held returns the number of slots currently taken.
func (g *Gate) Held() int { return g.held }

// Limit returns the configured limit.
func (g *Gate) Limit() int { return g.limit }

// SetLimit changes the limit. Held tickets are unaffected; a lowered
// limit takes effect as tickets are released.
func (g *Gate) SetLimit(limit int) { g.limit = limit }
