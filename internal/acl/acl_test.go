package acl

import (
	"net/netip"
	"testing"
)

func TestLongestPrefixWins(t *testing.T) {
	t.Parallel()

	l := New(Reject)
	l.Add(netip.MustParsePrefix("10.0.0.0/8"), true)
	l.Add(netip.MustParsePrefix("10.1.0.0/16"), false)

	if !l.Allows(netip.MustParseAddr("10.2.3.4")) {
		t.Error("10.2.3.4 should be accepted under the /8 rule")
	}
	if l.Allows(netip.MustParseAddr("10.1.2.3")) {
		t.Error("10.1.2.3 should be rejected by the more specific /16 rule")
	}
}

func TestDefaultAppliesWhenNoRuleMatches(t *testing.T) {
	t.Parallel()

	l := New(Accept)
	l.Add(netip.MustParsePrefix("192.168.0.0/16"), false)

	if !l.Allows(netip.MustParseAddr("8.8.8.8")) {
		t.Error("unmatched address should fall back to Accept default")
	}
}
