package core

import (
	"fmt"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/topology"
	"github.com/kuuji/meshrtr/internal/wire"
)

// helloFromWire converts a decoded wire.Message into the nhdp package's own
// HelloMessage shape (spec §6.1: the codec is an external collaborator; the
// core itself bridges the generic wire envelope to the type-specific shape
// nhdp.Engine.ProcessHello expects). source is the datagram's actual L3
// source address, supplied by the Transport rather than carried in the
// decoded message. domains is the configured domain list to query each
// address's LINK_METRIC TLV for, since wire.AddressBlock has no way to
// enumerate which domains it carries a metric for.
func helloFromWire(msg wire.Message, source addr.NetAddr, domains []domain.ID) (nhdp.HelloMessage, error) {
	originator, ok := msg.Originator()
	if !ok {
		return nhdp.HelloMessage{}, fmt.Errorf("core: hello message missing originator address")
	}

	tlvs := msg.TLVs()
	out := nhdp.HelloMessage{
		Originator:   originator,
		Source:       source,
		ValidityTime: durationFromTLV(tlvs.ValidityTimeNanos, tlvs.HasValidity),
		IntervalTime: durationFromTLV(tlvs.IntervalTimeNanos, tlvs.HasInterval),
		Willingness:  willingnessMap(tlvs),
	}

	for _, a := range msg.Addresses() {
		entry := nhdp.HelloAddr{
			Addr:        a.Address(),
			MPRSelector: make(map[domain.ID]bool),
			Metric:      make(map[domain.ID]nhdp.DomainCost),
		}
		if local, ok := a.Local(); ok {
			entry.Local = local
		}
		if status, ok := a.LinkStatus(); ok {
			entry.Status = nhdp.LinkStatus(status)
		}
		if sel, ok := a.MPRSelector(); ok {
			for d, v := range sel {
				entry.MPRSelector[domain.ID(d)] = v
			}
		}
		for _, d := range domains {
			if in, outCost, ok := a.LinkMetric(uint8(d)); ok {
				entry.Metric[d] = nhdp.DomainCost{In: in, Out: outCost}
			}
		}
		out.Addresses = append(out.Addresses, entry)
	}

	return out, nil
}

// tcFromWire converts a decoded wire.Message into topology's own TCMessage
// shape (spec §6.1). ANSN is carried on the wire as the message's sequence
// number: OLSRv2 defines no separate TC sequence field, so the RFC 5444
// message header's own <msg-seq-num> does double duty as the ANSN.
func tcFromWire(msg wire.Message, domains []domain.ID) (topology.TCMessage, error) {
	originator, ok := msg.Originator()
	if !ok {
		return topology.TCMessage{}, fmt.Errorf("core: tc message missing originator address")
	}
	ansn, ok := msg.SequenceNumber()
	if !ok {
		return topology.TCMessage{}, fmt.Errorf("core: tc message missing sequence number/ansn")
	}

	tlvs := msg.TLVs()
	out := topology.TCMessage{
		Originator: originator,
		ANSN:       ansn,
		Validity:   durationFromTLV(tlvs.ValidityTimeNanos, tlvs.HasValidity),
		Interval:   durationFromTLV(tlvs.IntervalTimeNanos, tlvs.HasInterval),
	}

	for _, a := range msg.Addresses() {
		entry := topology.TCAddr{
			Addr:          a.Address(),
			LinkMetricOut: make(map[domain.ID]uint32),
			LinkMetricIn:  make(map[domain.ID]uint32),
		}
		if originatorFlag, routable, ok := a.NbrAddrType(); ok {
			entry.Originator = originatorFlag
			entry.Routable = routable
		}
		for _, d := range domains {
			if in, outCost, ok := a.LinkMetric(uint8(d)); ok {
				entry.LinkMetricOut[d] = outCost
				entry.LinkMetricIn[d] = in
			}
		}
		if gw, ok := a.Gateway(); ok && len(gw) > 0 {
			entry.Gateway = true
			entry.GatewayEntries = make(map[domain.ID]topology.GatewayEntry, len(gw))
			for d, g := range gw {
				entry.GatewayEntries[domain.ID(d)] = topology.GatewayEntry{Cost: g.Cost, Distance: g.Distance}
			}
		}
		out.Addresses = append(out.Addresses, entry)
	}

	return out, nil
}

func durationFromTLV(nanos int64, has bool) time.Duration {
	if !has {
		return 0
	}
	return time.Duration(nanos)
}

// outgoingFromMessage rebuilds an OutgoingMessage from an inbound wire.Message
// for MPR forwarding (spec §4.6): the hop limit is decremented by one and a
// message with no hops left to give is not forwarded at all.
func outgoingFromMessage(m wire.Message, domains []domain.ID) (wire.OutgoingMessage, bool) {
	originator, ok := m.Originator()
	if !ok {
		return wire.OutgoingMessage{}, false
	}
	seq, ok := m.SequenceNumber()
	if !ok {
		return wire.OutgoingMessage{}, false
	}
	hopLimit, ok := m.HopLimit()
	if !ok || hopLimit <= 1 {
		return wire.OutgoingMessage{}, false
	}

	out := wire.OutgoingMessage{
		Type:       m.Type(),
		Originator: originator,
		Sequence:   seq,
		HopLimit:   hopLimit - 1,
		TLVs:       m.TLVs(),
	}

	for _, a := range m.Addresses() {
		oa := wire.OutgoingAddress{Address: a.Address()}
		if local, ok := a.Local(); ok {
			oa.HasLocal, oa.Local = true, local
		}
		if status, ok := a.LinkStatus(); ok {
			oa.HasLinkStatus, oa.LinkStatus = true, status
		}
		if sel, ok := a.MPRSelector(); ok {
			oa.MPRSelector = sel
		}
		if originatorFlag, routable, ok := a.NbrAddrType(); ok {
			oa.HasNbrAddr, oa.Originator, oa.Routable = true, originatorFlag, routable
		}
		if gw, ok := a.Gateway(); ok {
			oa.HasGateway, oa.Gateway = true, gw
		}
		oa.LinkMetric = make(map[uint8]wire.LinkMetricPair, len(domains))
		for _, d := range domains {
			if in, outCost, ok := a.LinkMetric(uint8(d)); ok {
				oa.LinkMetric[uint8(d)] = wire.LinkMetricPair{In: in, Out: outCost}
			}
		}
		out.Addresses = append(out.Addresses, oa)
	}

	return out, true
}

func willingnessMap(tlvs wire.MessageTLVs) map[domain.ID]int {
	out := make(map[domain.ID]int, len(tlvs.Willingness))
	if !tlvs.HasWillingness {
		return out
	}
	for d, w := range tlvs.Willingness {
		out[domain.ID(d)] = w
	}
	return out
}
