// Package acl implements the accept/reject prefix-list classifier used for
// originator and routable-address classification (spec §1's "no ACL
// language beyond simple accept/reject prefix lists", §6.4 routable_acl and
// originator config keys).
package acl

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// Default is the decision applied when no configured prefix matches.
type Default bool

const (
	Reject Default = false
	Accept Default = true
)

// List is a longest-prefix-match accept/reject classifier over a set of
// configured rules, each narrower prefix overriding a broader one.
type List struct {
	table   bart.Table[bool]
	Default Default
}

// New builds an empty list that falls back to def when nothing matches.
func New(def Default) *List {
	return &List{Default: def}
}

// Add inserts one rule: addresses under pfx are accepted iff accept,
// subject to being overridden by a more specific rule added later.
func (l *List) Add(pfx netip.Prefix, accept bool) {
	l.table.Insert(pfx, accept)
}

// Allows reports whether ip is accepted under the longest matching rule,
// or the list's Default if no rule matches.
func (l *List) Allows(ip netip.Addr) bool {
	v, ok := l.table.Lookup(ip)
	if !ok {
		return bool(l.Default)
	}
	return v
}
