package rpc

import (
	"context"

	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/native/common"
	"localmoney/native/offers"
)

// offersModule is the pause-guard name of the offer book.
const offersModule = "offers"

type offerCreateParams struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	Fiat        string `json:"fiat"`
	Min         string `json:"min"`
	Max         string `json:"max"`
	RateBps     uint32 `json:"rateBps"`
	Description string `json:"description,omitempty"`
}

type offerSetStateParams struct {
	ID    uint64 `json:"id"`
	State string `json:"state"`
}

type offerGetParams struct {
	ID uint64 `json:"id"`
}

type offerListParams struct {
	Owner string `json:"owner"`
}

func (s *Server) handleOfferCreate(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	if err := common.Guard(s.deps.Pauses, offersModule); err != nil {
		return nil, protocolError(err)
	}
	var params offerCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	offerType, err := offers.ParseOfferType(params.Type)
	if err != nil {
		return nil, protocolError(err)
	}
	fiat, err := types.ParseFiatCurrency(params.Fiat)
	if err != nil {
		return nil, protocolError(err)
	}
	minAmount, rpcErr := parseAmount("min", params.Min)
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxAmount, rpcErr := parseAmount("max", params.Max)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var created *offers.Offer
	err = s.deps.State.Atomic(func(tx *state.Tx) error {
		var createErr error
		created, createErr = s.deps.Offers.Create(tx, offers.Offer{
			Owner:       caller.Address,
			Type:        offerType,
			Token:       params.Token,
			Fiat:        fiat,
			Min:         minAmount,
			Max:         maxAmount,
			RateBps:     params.RateBps,
			Description: params.Description,
		})
		return createErr
	})
	if err != nil {
		return nil, protocolError(err)
	}
	return newOfferResult(created), nil
}

func (s *Server) handleOfferSetState(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	if err := common.Guard(s.deps.Pauses, offersModule); err != nil {
		return nil, protocolError(err)
	}
	var params offerSetStateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	next, err := offers.ParseOfferState(params.State)
	if err != nil {
		return nil, protocolError(err)
	}
	var updated *offers.Offer
	err = s.deps.State.Atomic(func(tx *state.Tx) error {
		var setErr error
		updated, setErr = s.deps.Offers.SetState(tx, params.ID, caller.Address, next)
		return setErr
	})
	if err != nil {
		return nil, protocolError(err)
	}
	return newOfferResult(updated), nil
}

func (s *Server) handleOfferGet(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params offerGetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	offer, err := offers.Get(s.deps.State, params.ID)
	if err != nil {
		return nil, protocolError(err)
	}
	return newOfferResult(offer), nil
}

func (s *Server) handleOfferList(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params offerListParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddressParam("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	list, err := offers.ListByOwner(s.deps.State, owner)
	if err != nil {
		return nil, protocolError(err)
	}
	out := make([]*OfferResult, 0, len(list))
	for _, offer := range list {
		out = append(out, newOfferResult(offer))
	}
	return out, nil
}
