package config

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/kuuji/meshrtr/internal/acl"
	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/l2provider"
)

// InterfaceParams is one interface's resolved (non-transport) parameters:
// everything internal/core.InterfaceConfig needs except the Transport,
// which only cmd/meshrtrd can construct (it owns the socket).
type InterfaceParams struct {
	Name          string
	HelloInterval time.Duration
	HelloValidity time.Duration
	Willingness   map[domain.ID]int
}

// Node is the fully resolved, ready-to-wire form of a Config: every
// duration parsed, every ACL built, every domain/interface/LAN decoded
// into the primitives internal/core and internal/l2provider consume.
// cmd/meshrtrd still has to supply the runtime pieces a TOML file can't
// describe — wire.Transport/wire.Codec per interface, the L2IB DB, the FIB
// driver.
type Node struct {
	Originator addr.NetAddr

	Domains    []domain.Params
	LANs       []domain.LAN
	Interfaces []InterfaceParams

	RoutableACL   *acl.List
	OriginatorACL *acl.List
	NHDPRoutable  bool

	TCInterval         time.Duration
	TCValidity         time.Duration
	TCHoldFactor       int
	TickInterval       time.Duration
	ForwardHoldTime    time.Duration
	ProcessingHoldTime time.Duration

	// Codec names the wire.Codec cmd/meshrtrd should resolve via
	// wire.LookupCodec; the codec itself is an external collaborator.
	Codec string

	StaticLayer2 []l2provider.StaticNetConfig
}

// Build resolves a decoded Config into a Node, validating every address,
// duration, and cross-reference along the way.
func (c Config) Build() (Node, error) {
	var n Node
	var err error

	if c.OLSRv2.Originator == "" {
		return Node{}, fmt.Errorf("config: olsrv2.originator is required")
	}
	ip, err := netip.ParseAddr(c.OLSRv2.Originator)
	if err != nil {
		return Node{}, fmt.Errorf("config: parsing olsrv2.originator: %w", err)
	}
	n.Originator = addr.FromIP(ip)

	if n.TCInterval, err = parseDuration(c.OLSRv2.TCInterval); err != nil {
		return Node{}, err
	}
	if n.TCValidity, err = parseDuration(c.OLSRv2.TCValidity); err != nil {
		return Node{}, err
	}
	if n.TickInterval, err = parseDuration(c.OLSRv2.TickInterval); err != nil {
		return Node{}, err
	}
	if n.ForwardHoldTime, err = parseDuration(c.OLSRv2.ForwardHoldTime); err != nil {
		return Node{}, err
	}
	if n.ProcessingHoldTime, err = parseDuration(c.OLSRv2.ProcessingHoldTime); err != nil {
		return Node{}, err
	}
	n.TCHoldFactor = c.OLSRv2.AdvertisementHoldTimeFactor
	n.NHDPRoutable = c.OLSRv2.NHDPRoutable
	n.Codec = c.OLSRv2.Codec
	if n.Codec == "" {
		n.Codec = "rfc5444"
	}

	if n.RoutableACL, err = buildACL(c.OLSRv2.RoutableACL, acl.Reject); err != nil {
		return Node{}, fmt.Errorf("config: olsrv2.routable_acl: %w", err)
	}
	if n.OriginatorACL, err = buildACL(c.OLSRv2.OriginatorACL, acl.Accept); err != nil {
		return Node{}, fmt.Errorf("config: olsrv2.originator_acl: %w", err)
	}

	domainIDs := make(map[string]domain.ID, len(c.Domain))
	for _, key := range sortedKeys(c.Domain) {
		dc := c.Domain[key]
		id, perr := parseDomainID(key)
		if perr != nil {
			return Node{}, fmt.Errorf("config: domain.%s: %w", key, perr)
		}
		domainIDs[key] = domain.ID(id)
		n.Domains = append(n.Domains, domain.Params{
			ID:               domain.ID(id),
			MetricHandler:    dc.MetricHandler,
			MPRHandler:       dc.MPRHandler,
			ProtocolID:       dc.Protocol,
			KernelTableID:    dc.Table,
			Distance:         dc.Distance,
			UseSrcIPInRoutes: dc.SrcIPRoutes,
			SourceSpecific:   dc.SourceSpecific,
		})
	}

	if n.LANs, err = buildLANs(c.OLSRv2.LAN); err != nil {
		return Node{}, err
	}

	for _, name := range sortedKeys(c.Interface) {
		ic := c.Interface[name]
		ip, perr := buildInterface(name, ic, domainIDs)
		if perr != nil {
			return Node{}, perr
		}
		n.Interfaces = append(n.Interfaces, ip)

		layer2, lerr := buildLayer2(name, ic.Layer2)
		if lerr != nil {
			return Node{}, lerr
		}
		if layer2 != nil {
			n.StaticLayer2 = append(n.StaticLayer2, *layer2)
		}
	}

	return n, nil
}

func buildACL(rules []ACLRuleConfig, def acl.Default) (*acl.List, error) {
	l := acl.New(def)
	for _, r := range rules {
		pfx, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing prefix %q: %w", r.Prefix, err)
		}
		l.Add(pfx, r.Accept)
	}
	return l, nil
}

func buildLANs(cfgs []LANConfig) ([]domain.LAN, error) {
	var out []domain.LAN
	for _, lc := range cfgs {
		pfx, err := netip.ParsePrefix(lc.Prefix)
		if err != nil {
			return nil, fmt.Errorf("config: parsing lan prefix %q: %w", lc.Prefix, err)
		}
		dst := addr.FromPrefix(pfx)

		var src addr.NetAddr
		if lc.Src != "" {
			spfx, err := netip.ParsePrefix(lc.Src)
			if err != nil {
				return nil, fmt.Errorf("config: parsing lan src %q: %w", lc.Src, err)
			}
			src = addr.FromPrefix(spfx)
		}

		ids, err := lanDomainIDs(lc.Domain)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			out = append(out, domain.LAN{
				Domain:   id,
				Key:      addr.RouteKey{Dst: dst, Src: src},
				Metric:   lc.Metric,
				Distance: lc.Dist,
			})
		}
	}
	return out, nil
}

func lanDomainIDs(text string) ([]domain.ID, error) {
	if text == "" || text == "all" {
		return []domain.ID{domain.All}, nil
	}
	id, err := parseDomainID(text)
	if err != nil {
		return nil, fmt.Errorf("config: lan domain: %w", err)
	}
	return []domain.ID{domain.ID(id)}, nil
}

func buildInterface(name string, ic InterfaceConfig, domainIDs map[string]domain.ID) (InterfaceParams, error) {
	ip := InterfaceParams{Name: name, Willingness: map[domain.ID]int{}}
	var err error
	if ip.HelloInterval, err = parseDuration(ic.HelloInterval); err != nil {
		return InterfaceParams{}, fmt.Errorf("config: interface.%s: %w", name, err)
	}
	if ip.HelloValidity, err = parseDuration(ic.HelloValidity); err != nil {
		return InterfaceParams{}, fmt.Errorf("config: interface.%s: %w", name, err)
	}
	for key, w := range ic.Willingness {
		if key == "all" {
			for _, id := range domainIDs {
				ip.Willingness[id] = w
			}
			continue
		}
		id, perr := parseDomainID(key)
		if perr != nil {
			return InterfaceParams{}, fmt.Errorf("config: interface.%s.willingness: %w", name, perr)
		}
		ip.Willingness[domain.ID(id)] = w
	}
	return ip, nil
}

func buildLayer2(ifName string, lc Layer2Config) (*l2provider.StaticNetConfig, error) {
	if lc.Type == "" && len(lc.L2Net) == 0 && len(lc.L2NetIP) == 0 && len(lc.L2Default) == 0 &&
		len(lc.L2Neighbor) == 0 && len(lc.L2NeighborIP) == 0 && len(lc.L2Destination) == 0 {
		return nil, nil
	}

	nc := l2provider.StaticNetConfig{IfName: ifName, Type: parseL2Type(lc.Type)}

	var err error
	if nc.NetValues, err = parseNetValues(lc.L2Net); err != nil {
		return nil, fmt.Errorf("config: interface.%s.layer2_config: %w", ifName, err)
	}
	if nc.NeighDefaults, err = parseNeighValues(lc.L2Default); err != nil {
		return nil, fmt.Errorf("config: interface.%s.layer2_config: %w", ifName, err)
	}
	for _, ipText := range lc.L2NetIP {
		a, perr := parseHostAddr(ipText)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2net_ip: %w", ifName, perr)
		}
		nc.LocalIPs = append(nc.LocalIPs, a)
	}

	neighbors := map[string]*l2provider.StaticNeighborConfig{}
	order := []string{}
	neighFor := func(macText string) (*l2provider.StaticNeighborConfig, error) {
		if nb, ok := neighbors[macText]; ok {
			return nb, nil
		}
		mac, perr := parseMAC(macText)
		if perr != nil {
			return nil, perr
		}
		nb := &l2provider.StaticNeighborConfig{MAC: mac}
		neighbors[macText] = nb
		order = append(order, macText)
		return nb, nil
	}

	for _, nbc := range lc.L2Neighbor {
		nb, perr := neighFor(nbc.MAC)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2neighbor: %w", ifName, perr)
		}
		values, perr := parseNeighValues(nbc.Values)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2neighbor: %w", ifName, perr)
		}
		nb.Values = values
	}
	for _, ipc := range lc.L2NeighborIP {
		nb, perr := neighFor(ipc.MAC)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2neighbor_ip: %w", ifName, perr)
		}
		a, perr := parseHostAddr(ipc.IP)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2neighbor_ip: %w", ifName, perr)
		}
		nb.IPs = append(nb.IPs, a)
	}
	for _, dc := range lc.L2Destination {
		nb, perr := neighFor(dc.MAC)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2destination: %w", ifName, perr)
		}
		dest, perr := parseMACAddr(dc.Dest)
		if perr != nil {
			return nil, fmt.Errorf("config: interface.%s.layer2_config.l2destination: %w", ifName, perr)
		}
		nb.Destinations = append(nb.Destinations, dest)
	}
	for _, key := range order {
		nc.Neighbors = append(nc.Neighbors, *neighbors[key])
	}

	return &nc, nil
}

func parseL2Type(s string) l2ib.Type {
	switch s {
	case "wireless":
		return l2ib.TypeWireless
	case "ethernet":
		return l2ib.TypeEthernet
	case "tunnel":
		return l2ib.TypeTunnel
	default:
		return l2ib.TypeUndefined
	}
}

func parseHostAddr(s string) (addr.NetAddr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return addr.NetAddr{}, fmt.Errorf("parsing address %q: %w", s, err)
	}
	return addr.FromIP(ip), nil
}

func parseMAC(s string) ([6]byte, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return [6]byte{}, fmt.Errorf("parsing MAC %q: %w", s, err)
	}
	na, err := addr.FromMAC(hw)
	if err != nil {
		return [6]byte{}, err
	}
	var out [6]byte
	copy(out[:], na.Bytes())
	return out, nil
}

func parseMACAddr(s string) (addr.NetAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return addr.NetAddr{}, fmt.Errorf("parsing MAC %q: %w", s, err)
	}
	return addr.FromMAC(hw)
}
