package rpc

import (
	"context"

	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/native/arbitration"
	"localmoney/native/reputation"
)

type arbitratorRegisterParams struct {
	Address         string   `json:"address"`
	Fiats           []string `json:"fiats"`
	ReputationScore uint32   `json:"reputationScore"`
	Active          *bool    `json:"active,omitempty"`
}

type arbitratorSetActiveParams struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleArbitratorRegister(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params arbitratorRegisterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	arb := arbitration.Arbitrator{
		Address:         addr,
		ReputationScore: params.ReputationScore,
		Active:          true,
	}
	if params.Active != nil {
		arb.Active = *params.Active
	}
	for _, raw := range params.Fiats {
		fiat, err := types.ParseFiatCurrency(raw)
		if err != nil {
			return nil, protocolError(err)
		}
		arb.Fiats = append(arb.Fiats, fiat)
	}
	if err := arb.Validate(); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	var registered *arbitration.Arbitrator
	err := s.deps.State.Atomic(func(tx *state.Tx) error {
		var regErr error
		registered, regErr = arbitration.Register(tx, arb, s.nowFn().Unix())
		return regErr
	})
	if err != nil {
		return nil, protocolError(err)
	}
	return newArbitratorResult(registered), nil
}

func (s *Server) handleArbitratorSetActive(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params arbitratorSetActiveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var updated *arbitration.Arbitrator
	err := s.deps.State.Atomic(func(tx *state.Tx) error {
		var setErr error
		updated, setErr = arbitration.SetActive(tx, addr, params.Active)
		return setErr
	})
	if err != nil {
		return nil, protocolError(err)
	}
	return newArbitratorResult(updated), nil
}

func (s *Server) handleArbitratorGet(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	arb, err := arbitration.Get(s.deps.State, addr)
	if err != nil {
		return nil, protocolError(err)
	}
	return newArbitratorResult(arb), nil
}

func (s *Server) handleProfileGet(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	stats, err := reputation.LoadStats(s.deps.State, addr)
	if err != nil {
		return nil, protocolError(err)
	}
	return newProfileResult(addr, stats), nil
}
