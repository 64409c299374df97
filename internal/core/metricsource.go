package core

import (
	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

// l2ibMetricSource implements nhdp.MetricSource by looking up a neighbor's
// Layer-2 Information Base record on the given interface through
// DB.NeighQuery (the neighbor's own cell, else the net's per-neighbor
// default) and falling back to hopcount (spec §3.2). Every routing domain currently shares this one
// lookup; a domain-specific metric algorithm (domain.Params.MetricHandler)
// would plug in here, but no such handler is modeled yet — see DESIGN.md.
type l2ibMetricSource struct {
	db *l2ib.DB
}

func newL2IBMetricSource(db *l2ib.DB) *l2ibMetricSource {
	return &l2ibMetricSource{db: db}
}

// LinkCost reports neighbor's directional cost on ifname for domain d. With
// no matching L2IB neighbor, or no bitrate measurement on one that exists,
// it falls back to the hopcount default (cost 1 each way) rather than
// reporting !ok, since a link with no Layer-2 data at all is still usable
// at hopcount metric (spec §3.2).
func (m *l2ibMetricSource) LinkCost(ifname string, neighbor addr.NetAddr, d domain.ID) (in, out uint32, ok bool) {
	const hopcost = 1

	net, found := m.db.Net(ifname)
	if !found {
		return hopcost, hopcost, true
	}
	nb := findNeighborByIP(net, neighbor)
	if nb == nil {
		return hopcost, hopcost, true
	}

	out = bitrateCost(m.db.NeighQuery(net, nb.Key, metric.NeighTxBitrate, true))
	in = bitrateCost(m.db.NeighQuery(net, nb.Key, metric.NeighRxBitrate, true))
	return in, out, true
}

func findNeighborByIP(net *l2ib.Net, a addr.NetAddr) *l2ib.Neighbor {
	for _, nb := range net.Neighbors() {
		for _, ip := range nb.IPs() {
			if ip.Equal(a) {
				return nb
			}
		}
	}
	return nil
}

// bitrateCost turns a measured bitrate into a cost inversely proportional
// to it (faster links cost less), matching the airtime-style metrics the
// pluggable metric-handler contract (spec §9) is meant to support; an unset
// value falls back to the hopcount default.
func bitrateCost(v l2ib.Value) uint32 {
	if v.Kind != l2ib.KindI64 || v.I64 <= 0 {
		return 1
	}
	const referenceBitrate = 1_000_000 // 1 Mbit/s normalizes to cost 1
	cost := referenceBitrate / v.I64
	if cost < 1 {
		return 1
	}
	if cost >= metric.Infinite {
		return metric.Infinite - 1
	}
	return uint32(cost)
}
