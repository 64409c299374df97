package l2ib

import "fmt"

// Priority orders origins for the §3.2 write-arbitration rule: UNKNOWN <
// UNRELIABLE < CONFIGURED < RELIABLE.
type Priority int

const (
	Unknown Priority = iota
	Unreliable
	Configured
	Reliable
)

func (p Priority) String() string {
	switch p {
	case Unreliable:
		return "unreliable"
	case Configured:
		return "configured"
	case Reliable:
		return "reliable"
	default:
		return "unknown"
	}
}

// Origin identifies a writer into the L2IB: an ethernet listener, a DLEP
// session, a static config section, etc. (spec §3.2, §6.3).
type Origin struct {
	Name      string
	Priority  Priority
	Proactive bool // true if the origin pushes updates rather than being polled

	// lidIndex namespaces generate_lid's counters across origins so two
	// origins can never collide on the same (mac, link_id) unless they
	// share lidIndex (spec §4.1, resolved Open Question in DESIGN.md).
	lidIndex uint8
}

func (o *Origin) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", o.Name, o.Priority)
}

// priorityAllows reports whether a write from `by` may overwrite a cell
// currently owned by `current` (spec §3.2 write rule / T4): the cell is
// empty, or by's priority is >= current's priority. Equal-priority writes
// from the very same origin always succeed.
func priorityAllows(current, by *Origin) bool {
	if current == nil {
		return true
	}
	if current == by {
		return true
	}
	return by.Priority >= current.Priority
}
