package escrow

import (
	"strconv"
	"strings"

	"localmoney/core/events"
	"localmoney/core/types"
	"localmoney/crypto"
)

const (
	EventTypeTradeCreated    = "trade.created"
	EventTypeTradeAccepted   = "trade.accepted"
	EventTypeEscrowFunded    = "trade.escrow_funded"
	EventTypeFiatDeposited   = "trade.fiat_deposited"
	EventTypeTradeCompleted  = "trade.completed"
	EventTypeTradeCanceled   = "trade.canceled"
	EventTypeTradeExpired    = "trade.expired"
	EventTypeEscrowRefunded  = "trade.escrow_refunded"
	EventTypeTradeDisputed   = "trade.disputed"
	EventTypeDisputeResolved = "trade.dispute_resolved"
	EventTypeTradeClosed     = "trade.closed"
)

// eventTypeFor returns the event announcing entry into state.
func eventTypeFor(state TradeState) string {
	switch state {
	case StateRequestAccepted:
		return EventTypeTradeAccepted
	case StateEscrowFunded:
		return EventTypeEscrowFunded
	case StateFiatDeposited:
		return EventTypeFiatDeposited
	case StateEscrowReleased:
		return EventTypeTradeCompleted
	case StateRequestCanceled, StateEscrowCanceled:
		return EventTypeTradeCanceled
	case StateRequestExpired:
		return EventTypeTradeExpired
	case StateEscrowRefunded:
		return EventTypeEscrowRefunded
	case StateEscrowDisputed:
		return EventTypeTradeDisputed
	case StateSettledForMaker, StateSettledForTaker:
		return EventTypeDisputeResolved
	default:
		return EventTypeTradeCreated
	}
}

// NewTradeEvent renders the canonical attribute payload for a trade. Contact
// blobs are never included.
func NewTradeEvent(eventType string, t *Trade, actor [20]byte) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["tradeId"] = strconv.FormatUint(t.ID, 10)
	attrs["offerId"] = strconv.FormatUint(t.OfferID, 10)
	attrs["buyer"] = crypto.FormatAddress(t.Buyer)
	attrs["seller"] = crypto.FormatAddress(t.Seller)
	attrs["arbitrator"] = crypto.FormatAddress(t.Arbitrator)
	attrs["maker"] = t.Maker.String()
	attrs["token"] = t.Token
	attrs["amount"] = strconv.FormatUint(t.Amount, 10)
	attrs["fiat"] = string(t.Fiat)
	attrs["lockedPrice"] = strconv.FormatUint(t.LockedPrice, 10)
	attrs["state"] = t.State.String()
	attrs["createdAt"] = strconv.FormatInt(t.CreatedAt, 10)
	attrs["expiresAt"] = strconv.FormatInt(t.ExpiresAt, 10)
	if t.DisputeWindowAt > 0 {
		attrs["disputeWindowAt"] = strconv.FormatInt(t.DisputeWindowAt, 10)
	}
	if actor != ([20]byte{}) {
		attrs["actor"] = crypto.FormatAddress(actor)
	}
	if reason := strings.TrimSpace(t.SettlementReason); reason != "" && eventType == EventTypeDisputeResolved {
		attrs["reason"] = reason
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func tradeEvent(eventType string, t *Trade, actor [20]byte) events.Event {
	return events.Typed{Evt: NewTradeEvent(eventType, t, actor)}
}
