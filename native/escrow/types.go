package escrow

import (
	"fmt"
	"strings"

	"localmoney/core/types"
	"localmoney/native/authz"
	"localmoney/native/common"
	"localmoney/native/fees"
)

const (
	// HistoryCapacity bounds the transition log kept on every trade.
	HistoryCapacity = 20
	// MaxContactLength bounds the encrypted contact blob of each party.
	MaxContactLength = 200
	// MaxReasonLength bounds dispute and settlement reasons.
	MaxReasonLength = 500
)

// TradeState is the lifecycle phase of a trade.
type TradeState uint8

const (
	StateRequestCreated TradeState = iota + 1
	StateRequestAccepted
	StateEscrowFunded
	StateFiatDeposited
	StateEscrowReleased
	StateRequestCanceled
	StateRequestExpired
	StateEscrowRefunded
	StateEscrowCanceled
	StateEscrowDisputed
	StateSettledForMaker
	StateSettledForTaker
)

var tradeStateNames = map[TradeState]string{
	StateRequestCreated:  "request_created",
	StateRequestAccepted: "request_accepted",
	StateEscrowFunded:    "escrow_funded",
	StateFiatDeposited:   "fiat_deposited",
	StateEscrowReleased:  "escrow_released",
	StateRequestCanceled: "request_canceled",
	StateRequestExpired:  "request_expired",
	StateEscrowRefunded:  "escrow_refunded",
	StateEscrowCanceled:  "escrow_canceled",
	StateEscrowDisputed:  "escrow_disputed",
	StateSettledForMaker: "settled_for_maker",
	StateSettledForTaker: "settled_for_taker",
}

func (s TradeState) String() string {
	if name, ok := tradeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("trade_state(%d)", uint8(s))
}

// Valid reports whether the state value is supported.
func (s TradeState) Valid() bool {
	_, ok := tradeStateNames[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s.
func (s TradeState) IsTerminal() bool {
	switch s {
	case StateRequestCanceled, StateRequestExpired, StateEscrowRefunded,
		StateEscrowReleased, StateSettledForMaker, StateSettledForTaker:
		return true
	default:
		return false
	}
}

// holdsDisputeWindow reports whether trades in s carry a dispute window.
func (s TradeState) holdsDisputeWindow() bool {
	return s == StateEscrowFunded || s == StateFiatDeposited
}

// ParseTradeState accepts the snake_case names returned by String.
func ParseTradeState(raw string) (TradeState, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for state, name := range tradeStateNames {
		if name == normalized {
			return state, nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown trade state %q", raw)
}

// EscrowState tracks the custody of a trade's tokens.
type EscrowState uint8

const (
	EscrowCreated EscrowState = iota + 1
	EscrowFunded
	EscrowFiatReceived
	EscrowReleased
	EscrowRefunded
	EscrowDisputed
	EscrowSettledForBuyer
	EscrowSettledForSeller
)

func (s EscrowState) String() string {
	switch s {
	case EscrowCreated:
		return "created"
	case EscrowFunded:
		return "funded"
	case EscrowFiatReceived:
		return "fiat_received"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	case EscrowDisputed:
		return "disputed"
	case EscrowSettledForBuyer:
		return "settled_for_buyer"
	case EscrowSettledForSeller:
		return "settled_for_seller"
	default:
		return fmt.Sprintf("escrow_state(%d)", uint8(s))
	}
}

// holdsFunds reports whether the vault must contain the full amount.
func (s EscrowState) holdsFunds() bool {
	return s == EscrowFunded || s == EscrowFiatReceived || s == EscrowDisputed
}

// Winner names the side a dispute is settled for.
type Winner uint8

const (
	WinnerMaker Winner = iota + 1
	WinnerTaker
)

func (w Winner) String() string {
	switch w {
	case WinnerMaker:
		return "maker"
	case WinnerTaker:
		return "taker"
	default:
		return "unknown"
	}
}

// ParseWinner accepts "maker" or "taker".
func ParseWinner(raw string) (Winner, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "maker":
		return WinnerMaker, nil
	case "taker":
		return WinnerTaker, nil
	default:
		return 0, fmt.Errorf("escrow: unknown settlement winner %q", raw)
	}
}

// TransitionRecord is one entry of a trade's bounded history.
type TransitionRecord struct {
	Actor     [20]byte
	Role      authz.Role
	State     TradeState
	Timestamp int64
}

// Trade is the full record of a single P2P trade. Amounts are token base
// units; LockedPrice is fiat per whole token scaled by pricing.Scale.
type Trade struct {
	ID         uint64
	OfferID    uint64
	Buyer      [20]byte
	Seller     [20]byte
	Arbitrator [20]byte
	// Maker is the role of the offer owner.
	Maker       authz.Role
	Amount      uint64
	Token       string
	Fiat        types.FiatCurrency
	LockedPrice uint64
	// ValueUSD is the whole-dollar value computed at creation.
	ValueUSD         uint64
	State            TradeState
	CreatedAt        int64
	ExpiresAt        int64
	DisputeWindowAt  int64
	BuyerContact     string
	SellerContact    string
	DisputeReason    string
	SettlementReason string
	DisputedBy       [20]byte
	History          *common.HistoryLog[TransitionRecord]
}

// Parties returns the principals bound to the trade.
func (t *Trade) Parties(system [20]byte) authz.Parties {
	return authz.Parties{Buyer: t.Buyer, Seller: t.Seller, Arbitrator: t.Arbitrator, System: system}
}

// MakerAddress returns the offer owner's address.
func (t *Trade) MakerAddress() [20]byte {
	if t.Maker == authz.RoleBuyer {
		return t.Buyer
	}
	return t.Seller
}

// TakerAddress returns the address of the party that opened the trade.
func (t *Trade) TakerAddress() [20]byte {
	if t.Maker == authz.RoleBuyer {
		return t.Seller
	}
	return t.Buyer
}

// LastTransitionAt returns the timestamp of the newest history entry.
func (t *Trade) LastTransitionAt() int64 {
	if last, ok := t.History.Last(); ok {
		return last.Timestamp
	}
	return t.CreatedAt
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	if t.History != nil {
		clone.History = t.History.Clone()
	}
	return &clone
}

// Escrow is the custody companion of a trade, keyed by the same id.
type Escrow struct {
	TradeID uint64
	Amount  uint64
	Token   string
	State   EscrowState
	Vault   [20]byte
	// Fees is the hub schedule frozen when the escrow was funded.
	Fees      fees.Schedule
	TotalFees uint64
	NetAmount uint64
	// FeeVolumeUSD is the buyer volume used for tiered fees at funding.
	FeeVolumeUSD uint64
	FundedAt     uint64
}

// Clone returns a copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}
