// Package l2provider implements the two concrete L2IB origins named in
// spec §6.3: a static, config-driven origin and a DLEP router-session
// stub. Both only ever write into internal/l2ib through its public API;
// neither parses a wire protocol of its own (the DLEP wire codec is out of
// scope, per spec §1/§7 — only the session lifecycle and its effect on the
// L2IB are modeled).
//
// Grounded on original_source/src-plugins/generic/eth_listener/
// eth_listener.c for the shape of a single-origin, periodic-poll provider
// (register one origin at init, write values on a timer, clean up the
// origin on shutdown).
package l2provider

import (
	"log/slog"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

// StaticNetConfig is one interface's worth of operator-supplied layer-2
// values (spec §6.4's `[interface=X].layer2_config`), already decoded from
// TOML — this package has no opinion on the config file's grammar.
type StaticNetConfig struct {
	IfName string
	Type   l2ib.Type

	// NetValues holds per-interface metric overrides (bitrate, frequency,
	// ...), keyed by metric.NetIndex.
	NetValues map[metric.NetIndex]l2ib.Value

	// NeighDefaults holds the net's default-per-neighbor values, used when a
	// neighbor has no measured value of its own (spec §3.2's default-value
	// fallback).
	NeighDefaults map[metric.NeighIndex]l2ib.Value

	// LocalIPs are addresses this node itself owns on the interface
	// (l2net_ip).
	LocalIPs []addr.NetAddr

	// Neighbors statically declares an L2 neighbor's MAC along with its own
	// per-neighbor values, claimed IPs (l2neighbor_ip), and bridged
	// destinations (l2destination).
	Neighbors []StaticNeighborConfig
}

// StaticNeighborConfig is one statically configured neighbor's worth of
// layer-2 data (spec §6.4's l2neighbor/l2neighbor_ip/l2destination keys).
type StaticNeighborConfig struct {
	MAC [6]byte

	Values       map[metric.NeighIndex]l2ib.Value
	IPs          []addr.NetAddr
	Destinations []addr.NetAddr
}

// StaticOrigin writes operator-supplied layer-2 values into the L2IB once
// at startup (and again whenever config is reloaded). It registers at
// CONFIGURED priority: below a reliable live measurement (DLEP, a future
// radio driver) but above no value at all (spec §3.2's arbitration order).
type StaticOrigin struct {
	db     *l2ib.DB
	origin *l2ib.Origin
	log    *slog.Logger
}

// NewStaticOrigin registers the static origin against db. logger may be
// nil.
func NewStaticOrigin(db *l2ib.DB, logger *slog.Logger) (*StaticOrigin, error) {
	if logger == nil {
		logger = slog.Default()
	}
	origin, err := db.OriginRegister("static", l2ib.Configured, false)
	if err != nil {
		return nil, err
	}
	return &StaticOrigin{db: db, origin: origin, log: logger.With("component", "l2provider.static")}, nil
}

// Apply writes every interface in cfg into the L2IB, creating nets that
// don't exist yet and committing each one exactly once (spec §4.1).
func (s *StaticOrigin) Apply(cfg []StaticNetConfig) {
	for _, nc := range cfg {
		net := s.db.NetAdd(nc.IfName)
		if nc.Type != l2ib.TypeUndefined {
			net.Type = nc.Type
		}
		for idx, v := range nc.NetValues {
			if !net.DataSet(idx, s.origin, v) {
				s.log.Debug("static value rejected by priority arbitration",
					"interface", nc.IfName, "index", idx)
			}
		}
		for idx, v := range nc.NeighDefaults {
			if !net.DataSetDefault(idx, s.origin, v) {
				s.log.Debug("static neighbor default rejected by priority arbitration",
					"interface", nc.IfName, "index", idx)
			}
		}
		for _, ip := range nc.LocalIPs {
			if !s.db.AddNetIP(net, s.origin, ip) {
				s.log.Debug("static local IP rejected by priority arbitration",
					"interface", nc.IfName, "addr", ip)
			}
		}
		for _, nbc := range nc.Neighbors {
			nb := s.db.NeighAddByMAC(net, nbc.MAC)
			for idx, v := range nbc.Values {
				if !s.db.DataSet(nb, idx, s.origin, v) {
					s.log.Debug("static neighbor value rejected by priority arbitration",
						"interface", nc.IfName, "mac", nbc.MAC, "index", idx)
				}
			}
			for _, ip := range nbc.IPs {
				s.db.AddNeighIP(nb, ip)
			}
			for _, dest := range nbc.Destinations {
				s.db.AddDestination(nb, s.origin, dest)
			}
			s.db.NeighCommit(nb)
		}
		s.db.NetCommit(net)
	}
}

// Close removes every value this origin owns from the L2IB (spec §4.1
// origin_remove), for a clean config reload or shutdown.
func (s *StaticOrigin) Close() {
	s.db.OriginRemove(s.origin)
}
