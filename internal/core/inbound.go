package core

import (
	"context"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/wire"
)

// handleInboundPDU decodes one inbound datagram and processes or forwards
// every message it contains (spec §4.3, §4.6).
func (e *Engine) handleInboundPDU(ifname string, pdu []byte, from addr.NetAddr, now time.Time) {
	msgs, err := e.codec.Decode(pdu)
	if err != nil {
		e.log.Warn("decoding inbound pdu failed", "interface", ifname, "error", err)
		return
	}
	for _, m := range msgs {
		e.handleMessage(ifname, m, from, now)
	}
}

// handleMessage applies the duplicate-entry gate (spec §4.3), dispatches a
// non-duplicate message to the matching engine, and separately decides
// whether to re-flood it via MPR forwarding (spec §4.6). Processing and
// forwarding are gated by two independent dupset.Sets, since a message can
// be a processing duplicate (we've already applied it) while still being a
// forwarding original (we haven't yet relayed it), or vice versa.
func (e *Engine) handleMessage(ifname string, m wire.Message, from addr.NetAddr, now time.Time) {
	originator, ok := m.Originator()
	if !ok {
		e.log.Debug("dropping message with no originator address", "interface", ifname)
		return
	}
	if originator.Equal(e.self) {
		return // spec §4.3: a message from the local originator is always dropped
	}
	seq, ok := m.SequenceNumber()
	if !ok {
		e.log.Debug("dropping message with no sequence number", "interface", ifname)
		return
	}

	validity := durationFromTLV(m.TLVs().ValidityTimeNanos, m.TLVs().HasValidity)
	mtype := byte(m.Type())

	// Each dupset's entry outlives the message's own vtime by that table's
	// configured hold time (spec §4.3), so a burst of re-forwarded/reordered
	// copies arriving shortly after vtime expires is still caught.
	forwardExpiry := now.Add(validity + e.cfg.ForwardHoldTime)
	processExpiry := now.Add(validity + e.cfg.ProcessingHoldTime)

	// The forwarding decision is made from a separate, "forwarded" dupset,
	// and evaluated before this message is recorded as processed (spec
	// §4.3: "the processing decision is made from a processed dupset", a
	// distinct table from the one forwarding gates on).
	shouldForward := e.forwardGate(ifname, m, from, mtype, originator, seq, forwardExpiry, now)

	processResult := e.processedDup.Add(mtype, originator, seq, processExpiry)
	if processResult.Forward() { // New/NewExpired/NewOld: worth processing
		e.dispatch(ifname, m, from, now)
	}

	if shouldForward {
		e.forward(ifname, m, now)
	}
}

func (e *Engine) dispatch(ifname string, m wire.Message, from addr.NetAddr, now time.Time) {
	switch m.Type() {
	case wire.HelloMessageType:
		hello, err := helloFromWire(m, from, e.domIDs)
		if err != nil {
			e.log.Warn("converting inbound hello", "interface", ifname, "error", err)
			return
		}
		e.nhdpEng.ProcessHello(ifname, hello, now)
	case wire.TCMessageType:
		tc, err := tcFromWire(m, e.domIDs)
		if err != nil {
			e.log.Warn("converting inbound tc", "error", err)
			return
		}
		e.topoEng.ProcessTC(tc, e.self, now)
	}
}

// forwardGate implements spec §4.6's forwarding criteria: the message must
// carry an origaddr/seqno (checked by the caller), must have arrived on a
// managed interface (true by construction: only managed interfaces feed
// handleMessage), must have arrived from a SYM neighbor's link address,
// that neighbor must have selected this node as its flooding MPR, and the
// "forwarded" dupset must say this is genuinely new.
func (e *Engine) forwardGate(ifname string, m wire.Message, from addr.NetAddr, mtype byte, originator addr.NetAddr, seq uint16, expiry time.Time, now time.Time) bool {
	link := linkForSource(e.NHDP, ifname, from, now)
	if link == nil || link.Neighbor == nil || !link.Neighbor.NeighIsFloodingMPR {
		return false
	}
	result := e.forwardedDup.Add(mtype, originator, seq, expiry)
	return result.Forward()
}

// linkForSource finds the SYM link on ifname whose valid source addresses
// include from (spec §4.6 item (iii)).
func linkForSource(db *nhdp.DB, ifname string, from addr.NetAddr, now time.Time) *nhdp.Link {
	for _, l := range db.LinksOnInterface(ifname) {
		if l.State(now) != nhdp.Sym {
			continue
		}
		if l.Originator.Equal(from) {
			return l
		}
		if _, ok := l.Addresses[from.AsKey()]; ok {
			return l
		}
	}
	return nil
}

// forward re-encodes m with a decremented hop limit and writes it out every
// managed interface except the one it arrived on (spec §4.6: MPR flooding
// relays to all interfaces, not just the one the sender used).
func (e *Engine) forward(arrivedOn string, m wire.Message, now time.Time) {
	out, ok := outgoingFromMessage(m, e.domIDs)
	if !ok {
		return
	}
	pdus, err := e.codec.Encode(out)
	if err != nil {
		e.log.Warn("encoding forwarded message failed", "error", err)
		return
	}
	for name, ic := range e.interfaces {
		if name == arrivedOn {
			continue
		}
		for _, pdu := range pdus {
			if err := ic.Transport.WriteTo(context.Background(), pdu, name); err != nil {
				e.log.Warn("forwarding message failed", "interface", name, "error", err)
			}
		}
	}
}
