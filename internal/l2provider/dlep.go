package l2provider

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

// SessionState mirrors dlep_router_interface.h's router-side session state
// machine: discovery (sending/awaiting a peer offer), connect (TCP/session
// handshake in progress), active (session up, metrics flowing).
type SessionState int

const (
	StateDiscovery SessionState = iota
	StateConnect
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateConnect:
		return "connect"
	case StateActive:
		return "active"
	default:
		return "discovery"
	}
}

// Session is the L2IB-facing half of a DLEP router session: it registers
// one RELIABLE, proactive origin per interface and translates the session
// lifecycle (up / metrics / destination-up / down, per dlep_router.c) into
// L2IB writes. The DLEP wire protocol itself — discovery PDUs, the
// session's TCP handshake, heartbeat framing — is an external collaborator
// (spec §1/§7); callers drive this type's lifecycle methods from wherever
// that codec lives.
type Session struct {
	ifName string
	db     *l2ib.DB
	origin *l2ib.Origin
	log    *slog.Logger

	state SessionState
	net   *l2ib.Net
	peer  *l2ib.Neighbor // the radio itself, once Up has been called

	heartbeatInterval time.Duration
	lastHeartbeat     time.Time
}

// NewSession registers a DLEP origin for ifName. logger may be nil. The
// session starts in StateDiscovery; call AdvanceConnect/Up/Down to drive
// it.
func NewSession(db *l2ib.DB, ifName string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	origin, err := db.OriginRegister(fmt.Sprintf("dlep/%s", ifName), l2ib.Reliable, true)
	if err != nil {
		return nil, err
	}
	return &Session{
		ifName: ifName,
		db:     db,
		origin: origin,
		log:    logger.With("component", "l2provider.dlep", "interface", ifName),
		state:  StateDiscovery,
	}, nil
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// AdvanceConnect transitions from discovery to connect once a peer offer
// has been received (dlep_router_interface.h's DLEP_ROUTER_CONNECT).
func (s *Session) AdvanceConnect() {
	if s.state == StateDiscovery {
		s.state = StateConnect
		s.log.Debug("dlep session entering connect state")
	}
}

// Up marks the session active and claims mac as the radio neighbor (the
// "up" message of the DLEP session lifecycle). heartbeatInterval is the
// remote side's negotiated heartbeat interval.
func (s *Session) Up(mac [6]byte, heartbeatInterval time.Duration, now time.Time) {
	s.net = s.db.NetAdd(s.ifName)
	s.net.Type = l2ib.TypeWireless
	s.net.DLEP = true

	s.peer = s.db.NeighAdd(s.net, mac, nil)
	s.heartbeatInterval = heartbeatInterval
	s.lastHeartbeat = now
	s.state = StateActive

	s.log.Info("dlep session up", "radio", fmt.Sprintf("%x", mac))
}

// Metrics applies one "metrics" message's values to the radio neighbor
// (link signal/bitrate measurements).
func (s *Session) Metrics(values map[metric.NeighIndex]l2ib.Value, now time.Time) {
	if s.state != StateActive || s.peer == nil {
		s.log.Warn("metrics message received outside active session, dropping")
		return
	}
	for idx, v := range values {
		s.peer.DataSet(idx, s.origin, v)
	}
	s.lastHeartbeat = now
	s.db.NeighCommit(s.peer)
}

// DestinationUp registers mac as a bridged destination reachable through
// the radio neighbor (DLEP's "destination-up" message).
func (s *Session) DestinationUp(mac addr.NetAddr) {
	if s.state != StateActive || s.peer == nil {
		s.log.Warn("destination-up received outside active session, dropping")
		return
	}
	s.db.AddDestination(s.peer, s.origin, mac)
	s.db.NeighCommit(s.peer)
}

// HeartbeatExpired reports whether the remote side has missed its
// negotiated heartbeat, per dlep_router_interface.h's remote_heartbeat_interval.
func (s *Session) HeartbeatExpired(now time.Time) bool {
	if s.state != StateActive || s.heartbeatInterval <= 0 {
		return false
	}
	return now.Sub(s.lastHeartbeat) > s.heartbeatInterval
}

// Down tears down the session (DLEP's "down" message, or a missed
// heartbeat): every value this origin wrote is removed from the L2IB and
// the session returns to discovery.
func (s *Session) Down() {
	s.db.OriginRemove(s.origin)
	s.peer = nil
	s.net = nil
	s.state = StateDiscovery
	s.log.Info("dlep session down")
}
