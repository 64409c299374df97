package topology

// AdvertisementGate implements the outbound TC advertisement-hold rule
// (spec §4.4): a node that is neither selected as MPR by anyone nor has any
// LAN to advertise stops sending TCs, but only after HoldFactor consecutive
// qualifying intervals — so a brief flap doesn't cause a topology blackout
// for its dependents.
type AdvertisementGate struct {
	// HoldFactor is advertisement_hold_time_factor (spec §6.4, 1..255).
	HoldFactor int

	suppressible int // consecutive intervals with nothing to justify a TC
}

// ShouldSend reports whether this interval's TC should actually go out.
// selected is true iff any neighbor has chosen us as MPR for some domain;
// hasLAN is true iff we have at least one locally attached network to
// advertise. The counter resets whenever either flips true (an Open
// Question resolved this way: see DESIGN.md).
func (g *AdvertisementGate) ShouldSend(selected, hasLAN bool) bool {
	if selected || hasLAN {
		g.suppressible = 0
		return true
	}
	g.suppressible++
	return g.suppressible <= g.HoldFactor
}
