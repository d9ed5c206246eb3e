package rpc

import (
	"strconv"
	"strings"

	"localmoney/crypto"
	"localmoney/native/arbitration"
	"localmoney/native/escrow"
	"localmoney/native/offers"
	"localmoney/native/reputation"
)

type TransitionResult struct {
	Actor     string `json:"actor"`
	Role      string `json:"role"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

type EscrowResult struct {
	Amount         string `json:"amount"`
	Token          string `json:"token"`
	State          string `json:"state"`
	Vault          string `json:"vault"`
	BurnBps        uint32 `json:"burnBps"`
	ChainBps       uint32 `json:"chainBps"`
	WarchestBps    uint32 `json:"warchestBps"`
	ArbitrationBps uint32 `json:"arbitrationBps"`
	TotalFees      string `json:"totalFees"`
	NetAmount      string `json:"netAmount"`
	FundedAt       uint64 `json:"fundedAt,omitempty"`
}

type TradeResult struct {
	ID               uint64             `json:"id"`
	OfferID          uint64             `json:"offerId"`
	Buyer            string             `json:"buyer"`
	Seller           string             `json:"seller"`
	Arbitrator       string             `json:"arbitrator"`
	Maker            string             `json:"maker"`
	Amount           string             `json:"amount"`
	Token            string             `json:"token"`
	Fiat             string             `json:"fiat"`
	LockedPrice      string             `json:"lockedPrice"`
	ValueUSD         uint64             `json:"valueUsd"`
	State            string             `json:"state"`
	CreatedAt        int64              `json:"createdAt"`
	ExpiresAt        int64              `json:"expiresAt"`
	DisputeWindowAt  int64              `json:"disputeWindowAt,omitempty"`
	BuyerContact     string             `json:"buyerContact,omitempty"`
	SellerContact    string             `json:"sellerContact,omitempty"`
	DisputeReason    string             `json:"disputeReason,omitempty"`
	SettlementReason string             `json:"settlementReason,omitempty"`
	DisputedBy       string             `json:"disputedBy,omitempty"`
	History          []TransitionResult `json:"history"`
	Escrow           *EscrowResult      `json:"escrow,omitempty"`
}

type BatchResponse struct {
	Succeeded []uint64          `json:"succeeded"`
	Failed    []uint64          `json:"failed"`
	Errors    map[uint64]string `json:"errors,omitempty"`
}

type OfferResult struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Type        string `json:"type"`
	Token       string `json:"token"`
	Fiat        string `json:"fiat"`
	Min         string `json:"min"`
	Max         string `json:"max"`
	RateBps     uint32 `json:"rateBps"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	CreatedAt   uint64 `json:"createdAt"`
	UpdatedAt   uint64 `json:"updatedAt"`
}

type ArbitratorResult struct {
	Address         string   `json:"address"`
	Fiats           []string `json:"fiats"`
	ReputationScore uint32   `json:"reputationScore"`
	ResolvedCases   uint64   `json:"resolvedCases"`
	Active          bool     `json:"active"`
	RegisteredAt    uint64   `json:"registeredAt"`
}

type ProfileResult struct {
	Address     string `json:"address"`
	Requested   uint64 `json:"requested"`
	Accepted    uint64 `json:"accepted"`
	Released    uint64 `json:"released"`
	Canceled    uint64 `json:"canceled"`
	Expired     uint64 `json:"expired"`
	Refunded    uint64 `json:"refunded"`
	Disputed    uint64 `json:"disputed"`
	SettledWon  uint64 `json:"settledWon"`
	SettledLost uint64 `json:"settledLost"`
	Active      uint64 `json:"active"`
	VolumeUSD   uint64 `json:"volumeUsd"`
	LastTradeAt uint64 `json:"lastTradeAt,omitempty"`
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func formatOptionalAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAddress(addr)
}

// newTradeResult renders t for viewer. Contact blobs are only shown to the
// trade's parties and its arbitrator.
func newTradeResult(t *escrow.Trade, esc *escrow.Escrow, viewer *Caller) *TradeResult {
	res := &TradeResult{
		ID:               t.ID,
		OfferID:          t.OfferID,
		Buyer:            crypto.FormatAddress(t.Buyer),
		Seller:           crypto.FormatAddress(t.Seller),
		Arbitrator:       crypto.FormatAddress(t.Arbitrator),
		Maker:            t.Maker.String(),
		Amount:           formatAmount(t.Amount),
		Token:            t.Token,
		Fiat:             string(t.Fiat),
		LockedPrice:      formatAmount(t.LockedPrice),
		ValueUSD:         t.ValueUSD,
		State:            t.State.String(),
		CreatedAt:        t.CreatedAt,
		ExpiresAt:        t.ExpiresAt,
		DisputeWindowAt:  t.DisputeWindowAt,
		DisputeReason:    t.DisputeReason,
		SettlementReason: t.SettlementReason,
		DisputedBy:       formatOptionalAddress(t.DisputedBy),
		History:          []TransitionResult{},
	}
	if viewer != nil && viewer.Operator || participant(t, viewer) {
		res.BuyerContact = t.BuyerContact
		res.SellerContact = t.SellerContact
	}
	if t.History != nil {
		for _, rec := range t.History.Items() {
			res.History = append(res.History, TransitionResult{
				Actor:     crypto.FormatAddress(rec.Actor),
				Role:      rec.Role.String(),
				State:     rec.State.String(),
				Timestamp: rec.Timestamp,
			})
		}
	}
	if esc != nil {
		res.Escrow = &EscrowResult{
			Amount:         formatAmount(esc.Amount),
			Token:          esc.Token,
			State:          esc.State.String(),
			Vault:          crypto.FormatAddress(esc.Vault),
			BurnBps:        esc.Fees.BurnBps,
			ChainBps:       esc.Fees.ChainBps,
			WarchestBps:    esc.Fees.WarchestBps,
			ArbitrationBps: esc.Fees.ArbitrationBps,
			TotalFees:      formatAmount(esc.TotalFees),
			NetAmount:      formatAmount(esc.NetAmount),
			FundedAt:       esc.FundedAt,
		}
	}
	return res
}

func participant(t *escrow.Trade, viewer *Caller) bool {
	if !viewer.HasAddress() {
		return false
	}
	return viewer.Address == t.Buyer || viewer.Address == t.Seller || viewer.Address == t.Arbitrator
}

func newBatchResponse(r escrow.BatchResult) *BatchResponse {
	out := &BatchResponse{Succeeded: []uint64{}, Failed: []uint64{}}
	out.Succeeded = append(out.Succeeded, r.Succeeded...)
	out.Failed = append(out.Failed, r.Failed...)
	if len(r.Errors) > 0 {
		out.Errors = make(map[uint64]string, len(r.Errors))
		for id, err := range r.Errors {
			out.Errors[id] = err.Error()
		}
	}
	return out
}

func newOfferResult(o *offers.Offer) *OfferResult {
	return &OfferResult{
		ID:          o.ID,
		Owner:       crypto.FormatAddress(o.Owner),
		Type:        o.Type.String(),
		Token:       o.Token,
		Fiat:        string(o.Fiat),
		Min:         formatAmount(o.Min),
		Max:         formatAmount(o.Max),
		RateBps:     o.RateBps,
		State:       o.State.String(),
		Description: o.Description,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func newArbitratorResult(a *arbitration.Arbitrator) *ArbitratorResult {
	fiats := make([]string, 0, len(a.Fiats))
	for _, fiat := range a.Fiats {
		fiats = append(fiats, string(fiat))
	}
	return &ArbitratorResult{
		Address:         crypto.FormatAddress(a.Address),
		Fiats:           fiats,
		ReputationScore: a.ReputationScore,
		ResolvedCases:   a.ResolvedCases,
		Active:          a.Active,
		RegisteredAt:    a.RegisteredAt,
	}
}

func newProfileResult(addr [20]byte, s *reputation.TradeStats) *ProfileResult {
	return &ProfileResult{
		Address:     crypto.FormatAddress(addr),
		Requested:   s.Requested,
		Accepted:    s.Accepted,
		Released:    s.Released,
		Canceled:    s.Canceled,
		Expired:     s.Expired,
		Refunded:    s.Refunded,
		Disputed:    s.Disputed,
		SettledWon:  s.SettledWon,
		SettledLost: s.SettledLost,
		Active:      s.Active,
		VolumeUSD:   s.VolumeUSD,
		LastTradeAt: s.LastTradeAt,
	}
}

func parseAmount(field, raw string) (uint64, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, &RPCError{Code: codeInvalidParams, Message: field + " is required"}
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, &RPCError{Code: codeInvalidParams, Message: "invalid " + field, Data: raw}
	}
	return value, nil
}

func parseAddressParam(field, raw string) ([20]byte, *RPCError) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: field + " is required"}
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "invalid " + field, Data: err.Error()}
	}
	return addr, nil
}
