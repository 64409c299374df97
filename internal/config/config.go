// Package config loads and saves the TOML configuration file that drives
// one meshrtrd node (spec §6.4): the [olsrv2] section, a [domain.N] table
// per routing domain, and an [interface.NAME] table (with a nested
// [interface.NAME.layer2_config] for operator-supplied Layer-2 values) per
// managed interface.
//
// Grounded on the teacher's internal/config/config.go for its general
// shape — a struct-per-section Config, toml struct tags with doc comments,
// a DefaultConfig/Load/Save trio, and a writeFile helper with explicit file
// modes — but without that file's public/secrets split: a routing daemon's
// configuration carries no credentials, so there is nothing to keep out of
// the main file (see DESIGN.md).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where LoadConfig/SaveConfig look by default.
const DefaultConfigPath = "/etc/meshrtrd/meshrtrd.toml"

// Config is the decoded form of the whole TOML file.
type Config struct {
	OLSRv2    OLSRv2Config               `toml:"olsrv2"`
	Domain    map[string]DomainConfig    `toml:"domain"`
	Interface map[string]InterfaceConfig `toml:"interface"`
}

// OLSRv2Config is the `[olsrv2]` section: node-wide timing, the
// routable/originator ACLs, and the locally attached networks this node
// advertises (spec §6.4).
type OLSRv2Config struct {
	Originator string `toml:"originator"`

	// TCInterval/TCValidity govern this node's own outbound TC emission
	// (spec §4.4's TC_INTERVAL/TC_VALIDITY).
	TCInterval string `toml:"tc_interval"`
	TCValidity string `toml:"tc_validity"`

	// ForwardHoldTime/ProcessingHoldTime size the forwarded/processed
	// dupset windows' practical retention (spec §4.3).
	ForwardHoldTime    string `toml:"forward_hold_time"`
	ProcessingHoldTime string `toml:"processing_hold_time"`

	// AdvertisementHoldTimeFactor is the advertisement-hold rule's
	// HoldFactor: an unselected, LAN-less node may still skip at most this
	// many consecutive TC_INTERVALs before it must send anyway (spec §4.4,
	// 1..255).
	AdvertisementHoldTimeFactor int `toml:"advertisement_hold_time_factor"`

	// NHDPRoutable, when true, installs routes to 1-hop neighbors reached
	// only via NHDP (no TC needed) into the FIB (spec §3.5).
	NHDPRoutable bool `toml:"nhdp_routable"`

	// RoutableACL/OriginatorACL classify which addresses this node treats
	// as routable destinations vs. rejects outright (spec §6.4).
	RoutableACL   []ACLRuleConfig `toml:"routable_acl"`
	OriginatorACL []ACLRuleConfig `toml:"originator_acl"`

	// LAN lists this node's own Locally Attached Networks (spec §3.4),
	// advertised in outbound TC as gateway entries.
	LAN []LANConfig `toml:"lan"`

	// TickInterval drives NHDP/topology housekeeping, MPR re-selection, and
	// route (re)computation (spec §5). Rarely needs changing.
	TickInterval string `toml:"tick_interval"`

	// Codec names the wire.Codec registered (via wire.RegisterCodec) for
	// this node to use. The RFC 5444 codec itself is an external
	// collaborator (spec §1); this only selects among whichever codec
	// packages were blank-imported into the running binary. Defaults to
	// "rfc5444".
	Codec string `toml:"codec,omitempty"`
}

// ACLRuleConfig is one `routable_acl`/`originator_acl` entry: a prefix and
// whether it is accepted (spec §6.4, internal/acl).
type ACLRuleConfig struct {
	Prefix string `toml:"prefix"`
	Accept bool   `toml:"accept"`
}

// LANConfig is one `[[olsrv2.lan]]` entry (spec §3.4).
type LANConfig struct {
	Prefix string `toml:"prefix"`
	Src    string `toml:"src,omitempty"`
	Metric uint32 `toml:"metric,omitempty"`
	Dist   uint8  `toml:"dist,omitempty"`
	// Domain is a decimal domain ID, or "all" (the default) to advertise
	// this LAN in every configured domain's gateway entries.
	Domain string `toml:"domain,omitempty"`
}

// DomainConfig is one `[domain.N]` table (spec §3.5, §6.4).
type DomainConfig struct {
	MetricHandler string `toml:"metric_handler,omitempty"`
	MPRHandler    string `toml:"mpr_handler,omitempty"`

	SrcIPRoutes    bool  `toml:"srcip_routes"`
	Protocol       uint8 `toml:"protocol"` // 1..254
	Table          uint8 `toml:"table"`    // 1..254
	Distance       uint8 `toml:"distance"` // 1..255
	SourceSpecific bool  `toml:"source_specific"`
}

// InterfaceConfig is one `[interface.NAME]` table (spec §6.4).
type InterfaceConfig struct {
	HelloInterval string `toml:"hello_interval"`
	HelloValidity string `toml:"hello_validity"`

	// Willingness maps a decimal domain ID (or "all") to that domain's MPR
	// willingness on this interface, 0..7 (spec §3.3, RFC 7181 WILLINGNESS).
	Willingness map[string]int `toml:"willingness,omitempty"`

	Layer2 Layer2Config `toml:"layer2_config"`
}

// Layer2Config is one interface's `layer2_config` sub-table: the six
// operator-supplied-value keys named in spec §6.4, all optional.
type Layer2Config struct {
	Type string `toml:"type,omitempty"` // "wireless" | "ethernet" | "tunnel"

	// L2Net holds per-interface metric overrides, keyed by the names in
	// netMetricNames (e.g. "bandwidth1", "frequency1").
	L2Net map[string]string `toml:"l2net,omitempty"`

	// L2NetIP is this node's own addresses on the interface.
	L2NetIP []string `toml:"l2net_ip,omitempty"`

	// L2Default holds this net's default per-neighbor values, used when a
	// neighbor has no measured value of its own (spec §3.2).
	L2Default map[string]string `toml:"l2default,omitempty"`

	// L2Neighbor statically declares per-neighbor metric values.
	L2Neighbor []L2NeighborConfig `toml:"l2neighbor,omitempty"`

	// L2NeighborIP statically declares addresses claimed by a neighbor.
	L2NeighborIP []L2NeighborIPConfig `toml:"l2neighbor_ip,omitempty"`

	// L2Destination statically declares bridged destinations reachable
	// through a neighbor.
	L2Destination []L2DestinationConfig `toml:"l2destination,omitempty"`
}

// L2NeighborConfig is one `layer2_config.l2neighbor` entry.
type L2NeighborConfig struct {
	MAC    string            `toml:"mac"`
	Values map[string]string `toml:"values"`
}

// L2NeighborIPConfig is one `layer2_config.l2neighbor_ip` entry.
type L2NeighborIPConfig struct {
	MAC string `toml:"mac"`
	IP  string `toml:"ip"`
}

// L2DestinationConfig is one `layer2_config.l2destination` entry: a
// bridged MAC reachable through the neighbor identified by MAC.
type L2DestinationConfig struct {
	MAC  string `toml:"mac"`
	Dest string `toml:"dest"`
}

// DefaultConfig returns the configuration a freshly installed node starts
// with: conservative timing, no domains, no interfaces — a usable node
// needs at least one of each added explicitly.
func DefaultConfig() Config {
	return Config{
		OLSRv2: OLSRv2Config{
			TCInterval:                  "5s",
			TCValidity:                  "15s",
			ForwardHoldTime:             "30s",
			ProcessingHoldTime:          "30s",
			AdvertisementHoldTimeFactor: 3,
			NHDPRoutable:                true,
			TickInterval:                "1s",
			Codec:                       "rfc5444",
		},
		Domain:    map[string]DomainConfig{},
		Interface: map[string]InterfaceConfig{},
	}
}

// LoadConfig reads and decodes the TOML file at path, applying
// DefaultConfig's values to any field the file doesn't set.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating parent directories as
// needed (mirrors the teacher's writeFile: an explicit, restrictive mode
// rather than relying on the umask).
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	return writeFile(path, 0644, cfg)
}

func writeFile(path string, mode os.FileMode, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return os.Chmod(path, mode)
}

// parseDuration parses a toml duration field, treating "" as zero rather
// than an error (every duration field has a DefaultConfig fallback, but a
// hand-edited file may still clear one).
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: parsing duration %q: %w", s, err)
	}
	return d, nil
}

// sortedKeys returns m's keys in sorted order, so building interface/domain
// slices out of the decoded maps is deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseDomainID(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("config: parsing domain id %q: %w", s, err)
	}
	return uint8(n), nil
}
