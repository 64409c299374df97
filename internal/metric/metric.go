// Package metric defines the pluggable metric handler contract (spec §9),
// the L2IB metric indices (spec §3.2), and the 16-bit exponent/mantissa
// compressed metric encoding (5-bit exponent, 11-bit mantissa).
package metric

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kuuji/meshrtr/internal/errkind"
)

// NetIndex enumerates the per-interface L2IB metric indices (spec §3.2).
type NetIndex int

const (
	NetFrequency1 NetIndex = iota
	NetFrequency2
	NetBandwidth1
	NetBandwidth2
	NetNoise
	NetChannelActive
	NetChannelBusy
	NetChannelRx
	NetChannelTx
	NetTxBcBitrate
	NetMTU
	NetMCSByProbing // bool
	NetRxOnlyUnicast
	NetTxOnlyUnicast
	NetRadioMultihop
	NetBandUpDown
	netIndexCount
)

// NeighIndex enumerates the per-neighbor L2IB metric indices (spec §3.2).
type NeighIndex int

const (
	NeighTxSignal NeighIndex = iota
	NeighRxSignal
	NeighTxBitrate
	NeighRxBitrate
	NeighTxMaxBitrate
	NeighRxMaxBitrate
	NeighTxBytes
	NeighRxBytes
	NeighTxFrames
	NeighRxFrames
	NeighTxThroughput
	NeighRxThroughput
	NeighTxRetries
	NeighRxRetries
	NeighTxFailed
	NeighRxFailed
	NeighTxRLQ
	NeighRxRLQ
	NeighRxBcBitrate
	NeighRxBcLoss
	NeighLatency
	NeighResources
	NeighRadioHopcount
	NeighIPHopcount
	neighIndexCount
)

// NetIndexCount / NeighIndexCount report the number of defined indices, used
// to size L2IB's fixed data-cell arrays.
func NetIndexCount() int   { return int(netIndexCount) }
func NeighIndexCount() int { return int(neighIndexCount) }

// Metadata describes the unit/fraction/binary constraints for parsing a
// metric's human-readable text form (spec §4.1's data_from_string), grounded
// on OONF's cfg_help.c unit table.
type Metadata struct {
	Unit     string // e.g. "bit/s", "dBm", "%"
	Fraction int    // number of decimal digits accepted after the unit is stripped
	Binary   bool   // true => base-1024 (Ki/Mi/Gi prefixes) instead of base-1000
	Min, Max int64  // inclusive bounds in the cell's native integer unit; Max==0 means unbounded
}

// NetMetadata / NeighMetadata hold the metadata table for each index,
// indexed by the NetIndex/NeighIndex enums above.
var NetMetadata = [netIndexCount]Metadata{
	NetFrequency1:    {Unit: "Hz", Fraction: 0},
	NetFrequency2:    {Unit: "Hz", Fraction: 0},
	NetBandwidth1:    {Unit: "bit/s", Fraction: 0, Binary: true},
	NetBandwidth2:    {Unit: "bit/s", Fraction: 0, Binary: true},
	NetNoise:         {Unit: "dBm", Fraction: 3},
	NetChannelActive: {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NetChannelBusy:   {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NetChannelRx:     {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NetChannelTx:     {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NetTxBcBitrate:   {Unit: "bit/s", Fraction: 0, Binary: true},
	NetMTU:           {Unit: "byte", Fraction: 0, Min: 0},
}

var NeighMetadata = [neighIndexCount]Metadata{
	NeighTxSignal:      {Unit: "dBm", Fraction: 3},
	NeighRxSignal:      {Unit: "dBm", Fraction: 3},
	NeighTxBitrate:     {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighRxBitrate:     {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighTxMaxBitrate:  {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighRxMaxBitrate:  {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighTxBytes:       {Unit: "byte", Fraction: 0},
	NeighRxBytes:       {Unit: "byte", Fraction: 0},
	NeighTxFrames:      {Unit: "", Fraction: 0},
	NeighRxFrames:      {Unit: "", Fraction: 0},
	NeighTxThroughput:  {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighRxThroughput:  {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighTxRetries:     {Unit: "", Fraction: 0},
	NeighRxRetries:     {Unit: "", Fraction: 0},
	NeighTxFailed:      {Unit: "", Fraction: 0},
	NeighRxFailed:      {Unit: "", Fraction: 0},
	NeighTxRLQ:         {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NeighRxRLQ:         {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NeighRxBcBitrate:   {Unit: "bit/s", Fraction: 0, Binary: true},
	NeighRxBcLoss:      {Unit: "o/oo", Fraction: 0, Min: 0, Max: 1000},
	NeighLatency:       {Unit: "s", Fraction: 6},
	NeighResources:     {Unit: "%", Fraction: 0, Min: 0, Max: 100},
	NeighRadioHopcount: {Unit: "", Fraction: 0, Min: 0},
	NeighIPHopcount:    {Unit: "", Fraction: 0, Min: 0},
}

// ParseValue parses human input text against md, returning the value scaled
// to the cell's native integer unit (e.g. "54 Mbit/s" against the base-1024
// bit/s metadata -> 56623104). Fails
// with errkind.Parse/errkind.ValueOutOfRange per spec §4.1.
func ParseValue(md Metadata, text string) (int64, error) {
	const op = "metric.ParseValue"
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, errkind.New(errkind.Parse, op, fmt.Errorf("empty input"))
	}

	s = strings.TrimSuffix(s, md.Unit)
	s = strings.TrimSpace(s)

	mult := 1.0
	if s != "" {
		base := 1000.0
		if md.Binary {
			base = 1024.0
		}
		switch {
		case strings.HasSuffix(s, "Ki") || strings.HasSuffix(s, "k"):
			mult = base
			s = trimLastN(s, suffixLen(s, "Ki", "k"))
		case strings.HasSuffix(s, "Mi") || strings.HasSuffix(s, "M"):
			mult = base * base
			s = trimLastN(s, suffixLen(s, "Mi", "M"))
		case strings.HasSuffix(s, "Gi") || strings.HasSuffix(s, "G"):
			mult = base * base * base
			s = trimLastN(s, suffixLen(s, "Gi", "G"))
		}
	}
	s = strings.TrimSpace(s)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errkind.New(errkind.Parse, op, fmt.Errorf("parsing numeric value %q: %w", s, err))
	}

	scaled := f * mult
	if md.Fraction > 0 {
		scaled *= math.Pow10(md.Fraction)
	}
	v := int64(math.Round(scaled))

	if md.Max != 0 && (v < md.Min || v > md.Max) {
		return 0, errkind.New(errkind.ValueOutOfRange, op,
			fmt.Errorf("value %d out of range [%d,%d]", v, md.Min, md.Max))
	}
	return v, nil
}

func suffixLen(s, a, b string) int {
	if strings.HasSuffix(s, a) {
		return len(a)
	}
	if strings.HasSuffix(s, b) {
		return len(b)
	}
	return 0
}

func trimLastN(s string, n int) string {
	if n <= 0 || n > len(s) {
		return s
	}
	return s[:len(s)-n]
}

// Infinite is the sentinel cost meaning "no edge", used by Dijkstra (spec
// §6.1: "decoder maps INFINITE to the sentinel used by Dijkstra").
const Infinite = math.MaxUint32

// EncodeRFC7181 packs a linear cost value into a 16-bit exponent/mantissa
// form: a 5-bit exponent a in the high bits and an 11-bit mantissa b in the
// low bits, value = b << a, with 0xFFFF reserved for Infinite. This is not
// RFC 7181's 12-bit LINK_METRIC layout. Encoding rounds up, so
// decode(encode(v)) >= v (cost is never under-estimated), which keeps R2
// up to quantization.
func EncodeRFC7181(value uint32) uint16 {
	if value == 0 {
		return 0
	}
	if value >= Infinite {
		return 0xFFFF
	}
	var a uint32
	b := value
	for b > 0x7FF { // mantissa must fit 11 bits
		b = (b + 1) >> 1 // round up when shifting right so we never under-quantize
		a++
		if a > 31 {
			return 0xFFFF
		}
	}
	return uint16(a<<11 | b)
}

// DecodeRFC7181 is the inverse of EncodeRFC7181. It returns Infinite for the
// reserved all-ones pattern and for any pattern whose value does not fit
// below Infinite.
func DecodeRFC7181(packed uint16) uint32 {
	if packed == 0xFFFF {
		return Infinite
	}
	a := uint32(packed) >> 11
	b := uint64(packed) & 0x7FF
	v := b << a
	if v >= Infinite {
		return Infinite
	}
	return uint32(v)
}

// Handler is the pluggable metric-handler capability set (spec §9): a
// domain's metric algorithm decides how raw L2IB/NHDP measurements become a
// single scalar cost, how costs compare, and what "no route" means.
type Handler interface {
	Name() string
	Encode(cost uint32) uint16
	Decode(packed uint16) uint32
	Cmp(a, b uint32) int
	InfiniteThreshold() uint32
}

// DefaultHandler implements Handler using EncodeRFC7181/DecodeRFC7181 and plain
// numeric comparison — the metric algorithm OLSRv2 ships when no
// domain-specific handler is configured.
type DefaultHandler struct{}

func (DefaultHandler) Name() string           { return "default" }
func (DefaultHandler) Encode(c uint32) uint16  { return EncodeRFC7181(c) }
func (DefaultHandler) Decode(p uint16) uint32  { return DecodeRFC7181(p) }
func (DefaultHandler) InfiniteThreshold() uint32 { return Infinite }
func (DefaultHandler) Cmp(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
