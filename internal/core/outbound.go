package core

import (
	"context"
	"time"

	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/topology"
	"github.com/kuuji/meshrtr/internal/wire"
)

// floodHopLimit is the hop limit stamped on a freshly originated TC: large
// enough that MPR flooding, not this ceiling, decides how far it travels
// (spec §4.4/§4.6).
const floodHopLimit = 255

// helloLoop emits ic's outbound HELLO on its own interval (spec §4.2,
// §6.4's hello_interval/hello_validity).
func (e *Engine) helloLoop(ctx context.Context, ic InterfaceConfig) error {
	interval := ic.HelloInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.sendHello(ctx, ic)
		}
	}
}

func (e *Engine) sendHello(ctx context.Context, ic InterfaceConfig) {
	now := e.clock.Now()
	hello := e.nhdpEng.EmitHello(ic.Name, e.domIDs, ic.Willingness, ic.HelloValidity, ic.HelloInterval, now)
	out := helloToOutgoing(e.nextHelloSeq(), hello)

	pdus, err := e.codec.Encode(out)
	if err != nil {
		e.log.Warn("encoding outbound hello failed", "interface", ic.Name, "error", err)
		return
	}
	for _, pdu := range pdus {
		if err := ic.Transport.WriteTo(ctx, pdu, ic.Name); err != nil {
			e.log.Warn("sending hello failed", "interface", ic.Name, "error", err)
		}
	}
}

// helloToOutgoing builds the wire message for an outbound HELLO (spec
// §6.1): HELLOs are link-local and never MPR-forwarded, so the hop limit is
// 1.
func helloToOutgoing(seq uint16, msg nhdp.HelloMessage) wire.OutgoingMessage {
	out := wire.OutgoingMessage{
		Type:       wire.HelloMessageType,
		Originator: msg.Originator,
		Sequence:   seq,
		HopLimit:   1,
		TLVs: wire.MessageTLVs{
			ValidityTimeNanos: int64(msg.ValidityTime),
			HasValidity:       true,
			IntervalTimeNanos: int64(msg.IntervalTime),
			HasInterval:       true,
			Willingness:       willingnessTLV(msg.Willingness),
			HasWillingness:    true,
		},
	}

	for _, a := range msg.Addresses {
		oa := wire.OutgoingAddress{
			Address:    a.Addr,
			HasLocal:   true,
			Local:      a.Local,
			LinkMetric: make(map[uint8]wire.LinkMetricPair, len(a.Metric)),
		}
		if !a.Local {
			oa.HasLinkStatus = true
			oa.LinkStatus = int(a.Status)
		}
		if len(a.MPRSelector) > 0 {
			oa.MPRSelector = make(map[uint8]bool, len(a.MPRSelector))
			for d, v := range a.MPRSelector {
				oa.MPRSelector[uint8(d)] = v
			}
		}
		for d, c := range a.Metric {
			oa.LinkMetric[uint8(d)] = wire.LinkMetricPair{In: c.In, Out: c.Out}
		}
		out.Addresses = append(out.Addresses, oa)
	}

	return out
}

func willingnessTLV(m map[domain.ID]int) map[uint8]int {
	out := make(map[uint8]int, len(m))
	for d, w := range m {
		out[uint8(d)] = w
	}
	return out
}

// tcLoop emits this node's own TC, gated by the advertisement-hold rule
// (spec §4.4, §6.4's advertisement_hold_time_factor), on a fixed interval.
func (e *Engine) tcLoop(ctx context.Context) error {
	interval := e.cfg.TCInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.sendTC(ctx)
		}
	}
}

func (e *Engine) sendTC(ctx context.Context) {
	now := e.clock.Now()

	msg, selected := e.buildOutboundTC(now)
	hasLAN := len(e.cfg.LANs) > 0
	if !e.tcGate.ShouldSend(selected, hasLAN) {
		return
	}

	msg.ANSN = e.bumpANSNIfChanged(msg.Addresses)
	out := tcToOutgoing(msg)

	pdus, err := e.codec.Encode(out)
	if err != nil {
		e.log.Warn("encoding outbound tc failed", "error", err)
		return
	}
	for name, ic := range e.interfaces {
		for _, pdu := range pdus {
			if err := ic.Transport.WriteTo(ctx, pdu, name); err != nil {
				e.log.Warn("sending tc failed", "interface", name, "error", err)
			}
		}
	}
}

// buildOutboundTC assembles this node's own advertisable topology (spec
// §4.4): an edge to every SYM neighbor that has selected this node as its
// routing MPR for at least one domain, plus every locally attached network
// from cfg.LANs as a gateway entry. selected reports whether any neighbor
// currently selects this node as MPR for any domain, the input
// AdvertisementGate.ShouldSend needs to decide whether this TC is worth
// sending at all.
func (e *Engine) buildOutboundTC(now time.Time) (topology.TCMessage, bool) {
	msg := topology.TCMessage{
		Originator: e.self,
		Validity:   e.cfg.TCValidity,
		Interval:   e.cfg.TCInterval,
	}

	selected := false
	for _, n := range e.NHDP.Neighbors() {
		if n.SymCount == 0 {
			continue
		}
		neighSelectsUs := false
		ta := topology.TCAddr{
			Addr:          n.Originator,
			Originator:    true,
			LinkMetricOut: make(map[domain.ID]uint32),
			LinkMetricIn:  make(map[domain.ID]uint32),
		}
		for _, d := range e.domIDs {
			ds, ok := n.PerDomain[d]
			if !ok {
				continue
			}
			ta.LinkMetricOut[d] = ds.Out
			ta.LinkMetricIn[d] = ds.In
			if ds.NeighIsMPR {
				neighSelectsUs = true
			}
		}
		if !neighSelectsUs {
			continue
		}
		selected = true
		msg.Addresses = append(msg.Addresses, ta)
	}

	for _, lan := range e.cfg.LANs {
		entry := topology.TCAddr{
			Addr:           lan.Key.Dst,
			Gateway:        true,
			GatewayEntries: map[domain.ID]topology.GatewayEntry{},
		}
		for _, d := range lanDomains(lan, e.domIDs) {
			entry.GatewayEntries[d] = topology.GatewayEntry{Cost: lan.Metric, Distance: lan.Distance}
		}
		msg.Addresses = append(msg.Addresses, entry)
	}

	return msg, selected
}

// lanDomains expands a LAN advertised for domain.All into every configured
// domain, since TCAddr.GatewayEntries is keyed per concrete domain.
func lanDomains(lan domain.LAN, domains []domain.ID) []domain.ID {
	if lan.Domain != domain.All {
		return []domain.ID{lan.Domain}
	}
	return domains
}

// tcToOutgoing builds the wire message for an outbound TC (spec §6.1). The
// ANSN is carried as the message's sequence number, matching tcFromWire's
// reverse convention: OLSRv2 has no separate TC sequence field.
func tcToOutgoing(msg topology.TCMessage) wire.OutgoingMessage {
	out := wire.OutgoingMessage{
		Type:       wire.TCMessageType,
		Originator: msg.Originator,
		Sequence:   msg.ANSN,
		HopLimit:   floodHopLimit,
		TLVs: wire.MessageTLVs{
			ValidityTimeNanos: int64(msg.Validity),
			HasValidity:       true,
			IntervalTimeNanos: int64(msg.Interval),
			HasInterval:       true,
		},
	}

	for _, a := range msg.Addresses {
		oa := wire.OutgoingAddress{
			Address:    a.Addr,
			HasNbrAddr: true,
			Originator: a.Originator,
			Routable:   a.Routable,
			LinkMetric: make(map[uint8]wire.LinkMetricPair, len(a.LinkMetricOut)),
		}
		for d := range a.LinkMetricOut {
			oa.LinkMetric[uint8(d)] = wire.LinkMetricPair{In: a.LinkMetricIn[d], Out: a.LinkMetricOut[d]}
		}
		if a.Gateway {
			oa.HasGateway = true
			oa.Gateway = make(map[uint8]wire.GatewayEntry, len(a.GatewayEntries))
			for d, g := range a.GatewayEntries {
				oa.Gateway[uint8(d)] = wire.GatewayEntry{Cost: g.Cost, Distance: g.Distance}
			}
		}
		out.Addresses = append(out.Addresses, oa)
	}

	return out
}
