// Package offers stores the maker offers that trades are opened against.
package offers

import (
	"fmt"
	"strings"

	coreerrors "localmoney/core/errors"
	"localmoney/core/types"
)

// OfferType is the side the maker takes.
type OfferType uint8

const (
	// OfferTypeBuy: the maker buys tokens, so the maker is the trade's buyer.
	OfferTypeBuy OfferType = iota + 1
	// OfferTypeSell: the maker sells tokens, so the maker is the trade's seller.
	OfferTypeSell
)

// ParseOfferType accepts "buy" or "sell".
func ParseOfferType(raw string) (OfferType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return OfferTypeBuy, nil
	case "sell":
		return OfferTypeSell, nil
	default:
		return 0, fmt.Errorf("%w: offer type %q", coreerrors.ErrInvalidOffer, raw)
	}
}

func (t OfferType) String() string {
	switch t {
	case OfferTypeBuy:
		return "buy"
	case OfferTypeSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OfferState controls whether new trades may reference an offer.
type OfferState uint8

const (
	OfferActive OfferState = iota + 1
	OfferPaused
	OfferArchived
)

// ParseOfferState accepts "active", "paused" or "archived".
func ParseOfferState(raw string) (OfferState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return OfferActive, nil
	case "paused":
		return OfferPaused, nil
	case "archived":
		return OfferArchived, nil
	default:
		return 0, fmt.Errorf("%w: offer state %q", coreerrors.ErrInvalidOffer, raw)
	}
}

func (s OfferState) String() string {
	switch s {
	case OfferActive:
		return "active"
	case OfferPaused:
		return "paused"
	case OfferArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// MaxDescriptionLength bounds the free-form offer description.
const MaxDescriptionLength = 140

// Offer is a maker's standing quote.
type Offer struct {
	ID    uint64
	Owner [20]byte
	Type  OfferType
	Token string
	Fiat  types.FiatCurrency
	Min   uint64
	Max   uint64
	// RateBps scales the market price: 10_000 trades at market, 10_200 at a
	// 2% premium.
	RateBps     uint32
	State       OfferState
	Description string
	CreatedAt   uint64
	UpdatedAt   uint64
}

// Validate checks the offer's static fields.
func (o *Offer) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil offer", coreerrors.ErrInvalidOffer)
	}
	if o.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", coreerrors.ErrInvalidOffer)
	}
	if o.Type != OfferTypeBuy && o.Type != OfferTypeSell {
		return fmt.Errorf("%w: offer type %d", coreerrors.ErrInvalidOffer, o.Type)
	}
	if types.NormalizeToken(o.Token) == "" {
		return fmt.Errorf("%w: empty token", coreerrors.ErrInvalidToken)
	}
	if !o.Fiat.Valid() {
		return fmt.Errorf("%w: %q", coreerrors.ErrInvalidFiatCurrency, o.Fiat)
	}
	if o.Min == 0 || o.Min > o.Max {
		return fmt.Errorf("%w: min %d max %d", coreerrors.ErrInvalidAmountRange, o.Min, o.Max)
	}
	if o.RateBps == 0 {
		return fmt.Errorf("%w: rate must be positive", coreerrors.ErrInvalidOffer)
	}
	if len(o.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", coreerrors.ErrValueTooLong, MaxDescriptionLength)
	}
	return nil
}

// Accepts reports whether amount falls inside the offer's range.
func (o *Offer) Accepts(amount uint64) error {
	if amount < o.Min || amount > o.Max {
		return fmt.Errorf("%w: %d outside [%d, %d]", coreerrors.ErrInvalidAmountRange, amount, o.Min, o.Max)
	}
	return nil
}
