package config

import (
	"fmt"

	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

// netMetricNames / neighMetricNames map the snake_case key an operator
// writes under layer2_config.l2net/l2default/l2neighbor.values to the
// metric.NetIndex/NeighIndex it fills in. No such naming convention is
// carried by any retrieved reference implementation (nothing in the L2IB
// corpus ties a config-file key to an index), so this table is this
// package's own invention: plain snake_case renderings of the NetIndex/
// NeighIndex identifiers themselves (see DESIGN.md).
var netMetricNames = map[string]metric.NetIndex{
	"frequency1":      metric.NetFrequency1,
	"frequency2":      metric.NetFrequency2,
	"bandwidth1":      metric.NetBandwidth1,
	"bandwidth2":      metric.NetBandwidth2,
	"noise":           metric.NetNoise,
	"channel_active":  metric.NetChannelActive,
	"channel_busy":    metric.NetChannelBusy,
	"channel_rx":      metric.NetChannelRx,
	"channel_tx":      metric.NetChannelTx,
	"tx_bc_bitrate":   metric.NetTxBcBitrate,
	"mtu":             metric.NetMTU,
	"mcs_by_probing":  metric.NetMCSByProbing,
	"rx_only_unicast": metric.NetRxOnlyUnicast,
	"tx_only_unicast": metric.NetTxOnlyUnicast,
	"radio_multihop":  metric.NetRadioMultihop,
	"band_up_down":    metric.NetBandUpDown,
}

// netBoolIndices are the NetIndex values with no Metadata entry (spec
// §3.2's bool-valued net metrics): parsed as TOML/text booleans rather than
// through metric.ParseValue.
var netBoolIndices = map[metric.NetIndex]bool{
	metric.NetMCSByProbing:  true,
	metric.NetRxOnlyUnicast: true,
	metric.NetTxOnlyUnicast: true,
	metric.NetRadioMultihop: true,
	metric.NetBandUpDown:    true,
}

var neighMetricNames = map[string]metric.NeighIndex{
	"tx_signal":      metric.NeighTxSignal,
	"rx_signal":      metric.NeighRxSignal,
	"tx_bitrate":     metric.NeighTxBitrate,
	"rx_bitrate":     metric.NeighRxBitrate,
	"tx_max_bitrate": metric.NeighTxMaxBitrate,
	"rx_max_bitrate": metric.NeighRxMaxBitrate,
	"tx_bytes":       metric.NeighTxBytes,
	"rx_bytes":       metric.NeighRxBytes,
	"tx_frames":      metric.NeighTxFrames,
	"rx_frames":      metric.NeighRxFrames,
	"tx_throughput":  metric.NeighTxThroughput,
	"rx_throughput":  metric.NeighRxThroughput,
	"tx_retries":     metric.NeighTxRetries,
	"rx_retries":     metric.NeighRxRetries,
	"tx_failed":      metric.NeighTxFailed,
	"rx_failed":      metric.NeighRxFailed,
	"tx_rlq":         metric.NeighTxRLQ,
	"rx_rlq":         metric.NeighRxRLQ,
	"rx_bc_bitrate":  metric.NeighRxBcBitrate,
	"rx_bc_loss":     metric.NeighRxBcLoss,
	"latency":        metric.NeighLatency,
	"resources":      metric.NeighResources,
	"radio_hopcount": metric.NeighRadioHopcount,
	"ip_hopcount":    metric.NeighIPHopcount,
}

// parseNetValues decodes a layer2_config.l2net/l2default map's text values
// into l2ib.Values, keyed by metric.NetIndex.
func parseNetValues(m map[string]string) (map[metric.NetIndex]l2ib.Value, error) {
	out := make(map[metric.NetIndex]l2ib.Value, len(m))
	for name, text := range m {
		idx, ok := netMetricNames[name]
		if !ok {
			return nil, fmt.Errorf("config: unknown net metric %q", name)
		}
		v, err := parseCellValue(text, netBoolIndices[idx], metric.NetMetadata[:], int(idx))
		if err != nil {
			return nil, fmt.Errorf("config: net metric %q: %w", name, err)
		}
		out[idx] = v
	}
	return out, nil
}

// parseNeighValues decodes a layer2_config.l2neighbor entry's values map
// into l2ib.Values, keyed by metric.NeighIndex. No NeighIndex is bool-typed
// (every entry in metric.NeighMetadata has a Unit/Fraction), so every value
// parses through metric.ParseValue.
func parseNeighValues(m map[string]string) (map[metric.NeighIndex]l2ib.Value, error) {
	out := make(map[metric.NeighIndex]l2ib.Value, len(m))
	for name, text := range m {
		idx, ok := neighMetricNames[name]
		if !ok {
			return nil, fmt.Errorf("config: unknown neighbor metric %q", name)
		}
		n, err := metric.ParseValue(metric.NeighMetadata[idx], text)
		if err != nil {
			return nil, fmt.Errorf("config: neighbor metric %q: %w", name, err)
		}
		out[idx] = l2ib.I64Value(n)
	}
	return out, nil
}

// parseCellValue dispatches a net-metric's text form to a bool or i64
// l2ib.Value depending on whether idx has no Metadata (a bool-typed
// metric) or not.
func parseCellValue(text string, isBool bool, md []metric.Metadata, idx int) (l2ib.Value, error) {
	if isBool {
		switch text {
		case "true", "1", "yes":
			return l2ib.BoolValue(true), nil
		case "false", "0", "no":
			return l2ib.BoolValue(false), nil
		default:
			return l2ib.Value{}, fmt.Errorf("parsing bool value %q", text)
		}
	}
	n, err := metric.ParseValue(md[idx], text)
	if err != nil {
		return l2ib.Value{}, err
	}
	return l2ib.I64Value(n), nil
}
