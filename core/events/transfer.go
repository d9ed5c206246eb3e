package events

import (
	"strconv"

	"localmoney/core/types"
)

const (
	// TypeTransfer is emitted for ledger balance movements.
	TypeTransfer = "ledger.transfer"
	// TypeBurn is emitted when fees are destroyed.
	TypeBurn = "ledger.burn"
	// TypeMint is emitted when the operator faucet credits an account.
	TypeMint = "ledger.mint"
)

type Transfer struct {
	Kind   string
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (t Transfer) EventType() string {
	if t.Kind == "" {
		return TypeTransfer
	}
	return t.Kind
}

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	if !zeroBytes(e.From[:]) {
		attrs["from"] = formatAddress(e.From)
	}
	if !zeroBytes(e.To[:]) {
		attrs["to"] = formatAddress(e.To)
	}
	attrs["amount"] = strconv.FormatUint(e.Amount, 10)
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}
