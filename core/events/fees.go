package events

import (
	"strconv"

	"localmoney/core/types"
)

const (
	// TypeFeeDistribution marks the routing of escrow fees on release or
	// settlement.
	TypeFeeDistribution = "trade.fee_distribution"
)

// FeeDistribution records how the fees of a single payout were routed.
type FeeDistribution struct {
	TradeID           uint64
	Token             string
	Gross             uint64
	Net               uint64
	Burn              uint64
	Chain             uint64
	Warchest          uint64
	Conversion        uint64
	Slippage          uint64
	Arbitration       uint64
	ChainCollector    [20]byte
	WarchestCollector [20]byte
	Arbitrator        [20]byte
	Timestamp         int64
}

// EventType satisfies the events.Event interface.
func (FeeDistribution) EventType() string { return TypeFeeDistribution }

// Event converts the structured payload into a broadcastable event.
func (e FeeDistribution) Event() *types.Event {
	attrs := map[string]string{
		"tradeId":  strconv.FormatUint(e.TradeID, 10),
		"gross":    strconv.FormatUint(e.Gross, 10),
		"net":      strconv.FormatUint(e.Net, 10),
		"burn":     strconv.FormatUint(e.Burn, 10),
		"chain":    strconv.FormatUint(e.Chain, 10),
		"warchest": strconv.FormatUint(e.Warchest, 10),
	}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	if e.Conversion > 0 {
		attrs["conversion"] = strconv.FormatUint(e.Conversion, 10)
	}
	if e.Slippage > 0 {
		attrs["slippage"] = strconv.FormatUint(e.Slippage, 10)
	}
	if e.Arbitration > 0 {
		attrs["arbitration"] = strconv.FormatUint(e.Arbitration, 10)
	}
	if !zeroBytes(e.ChainCollector[:]) {
		attrs["chainCollector"] = formatAddress(e.ChainCollector)
	}
	if !zeroBytes(e.WarchestCollector[:]) {
		attrs["warchestCollector"] = formatAddress(e.WarchestCollector)
	}
	if !zeroBytes(e.Arbitrator[:]) {
		attrs["arbitrator"] = formatAddress(e.Arbitrator)
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatInt(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeFeeDistribution, Attributes: attrs}
}
