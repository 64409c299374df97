package topology

import (
	"log/slog"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/dupset"
)

// Engine is the TC-Engine (spec §4.4): it parses inbound TC messages
// against a DB honoring ANSN ordering and the ANSN-driven cleanup rule
// (invariant I2). Outbound TC emission under the advertisement-hold rule is
// decided by AdvertisementGate, not by Engine.
type Engine struct {
	DB  *DB
	log *slog.Logger
}

// NewEngine constructs an Engine over db. logger may be nil.
func NewEngine(db *DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{DB: db, log: logger.With("component", "topology")}
}

// ProcessTC applies one inbound TC to the topology database (spec §4.4). A
// TC from the local originator is dropped; a TC whose ANSN is behind the
// node's current ANSN (RFC 1982 serial order, invariant I4) is dropped
// silently as stale.
func (e *Engine) ProcessTC(msg TCMessage, localOriginator addr.NetAddr, now time.Time) {
	if msg.Originator.Equal(localOriginator) {
		return
	}

	e.DB.mu.Lock()
	defer e.DB.mu.Unlock()

	node := e.DB.nodeEnsure(msg.Originator)
	if node.hasANSN && dupset.SerialLess(msg.ANSN, node.ANSN) {
		return
	}

	node.ANSN = msg.ANSN
	node.hasANSN = true
	node.Expiry = now.Add(msg.Validity)
	node.Interval = msg.Interval

	for _, a := range msg.Addresses {
		switch {
		case a.Originator:
			to := e.DB.nodeEnsure(a.Addr)
			edge := e.DB.edgeFor(node, to)
			for d, cost := range a.LinkMetricOut {
				edge.Cost[d] = cost
			}
			edge.Asserted = true
			edge.ANSN = node.ANSN
			// LINK_METRIC(IN) only refreshes the inverse if the inverse
			// peer hasn't yet spoken for itself (spec §4.4: "only if the
			// inverse is virtual"): once it does, it is authoritative for
			// its own outbound cost and this node's IN hint is ignored.
			if edge.Inverse != nil && !edge.Inverse.Asserted && len(a.LinkMetricIn) > 0 {
				for d, cost := range a.LinkMetricIn {
					edge.Inverse.Cost[d] = cost
				}
				edge.Inverse.ANSN = node.ANSN
			}
		case a.Routable:
			ep := endpointFor(node, addr.RouteKey{Dst: a.Addr}, RoutableNeighbor)
			for d, cost := range a.LinkMetricOut {
				ep.Cost[d] = cost
			}
			ep.ANSN = node.ANSN
		}

		if a.Gateway {
			ep := endpointFor(node, addr.RouteKey{Dst: a.Addr}, AttachedNetwork)
			for d, g := range a.GatewayEntries {
				ep.Cost[d] = g.Cost
				ep.Distance[d] = g.Distance
			}
			ep.ANSN = node.ANSN
		}
	}

	e.commit(node)
	e.DB.emit(Event{Kind: Changed, Originator: node.Originator})
}

func endpointFor(node *Node, key addr.RouteKey, kind EndpointKind) *Endpoint {
	ep, ok := node.Endpoints[key]
	if !ok {
		ep = &Endpoint{Key: key, Kind: kind, Cost: make(map[domain.ID]uint32), Distance: make(map[domain.ID]uint8)}
		node.Endpoints[key] = ep
	}
	return ep
}

// commit removes every edge and endpoint under node whose ansn differs from
// node's current ANSN (spec §4.4, invariant I2). A pruned edge's inverse
// reverts to virtual, since the direction it corroborated no longer speaks
// for itself.
func (e *Engine) commit(node *Node) {
	for key, edge := range node.Edges {
		if edge.ANSN == node.ANSN {
			continue
		}
		delete(node.Edges, key)
		edge.Asserted = false
	}
	for key, ep := range node.Endpoints {
		if ep.ANSN != node.ANSN {
			delete(node.Endpoints, key)
		}
	}
}
