package events

import (
	"strconv"

	"localmoney/core/types"
)

const (
	TypeSecurityAlert = "trade.security_alert"
)

// SecurityAlert is raised when an input matches a degenerate byte pattern or a
// guarded call is rejected. It never blocks the action that produced it.
type SecurityAlert struct {
	Kind    string
	Subject string
	Details string
	Actor   [20]byte
	TradeID uint64
}

func (SecurityAlert) EventType() string { return TypeSecurityAlert }

func (a SecurityAlert) Event() *types.Event {
	attrs := map[string]string{}
	if a.Kind != "" {
		attrs["kind"] = a.Kind
	}
	if a.Subject != "" {
		attrs["subject"] = a.Subject
	}
	if a.Details != "" {
		attrs["details"] = a.Details
	}
	if !zeroBytes(a.Actor[:]) {
		attrs["actor"] = formatAddress(a.Actor)
	}
	if a.TradeID > 0 {
		attrs["tradeId"] = strconv.FormatUint(a.TradeID, 10)
	}
	return &types.Event{Type: TypeSecurityAlert, Attributes: attrs}
}
