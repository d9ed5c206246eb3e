package rpc

import (
	"context"
	"errors"

	coreerrors "localmoney/core/errors"
	"localmoney/native/escrow"
)

type tradeIDParams struct {
	ID uint64 `json:"id"`
}

type tradeCreateParams struct {
	OfferID uint64 `json:"offerId"`
	Amount  string `json:"amount"`
	Contact string `json:"contact,omitempty"`
}

type tradeAcceptParams struct {
	ID      uint64 `json:"id"`
	Contact string `json:"contact,omitempty"`
}

type tradeFundParams struct {
	ID     uint64 `json:"id"`
	Amount string `json:"amount"`
}

type tradeDisputeParams struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type tradeSettleParams struct {
	ID     uint64 `json:"id"`
	Winner string `json:"winner"`
	Reason string `json:"reason,omitempty"`
}

type tradeCloseParams struct {
	ID  uint64   `json:"id,omitempty"`
	IDs []uint64 `json:"ids,omitempty"`
}

type tradeListParams struct {
	Address string `json:"address,omitempty"`
}

type tradeSweepParams struct {
	Limit int `json:"limit,omitempty"`
}

func requireTradeID(id uint64) *RPCError {
	if id == 0 {
		return &RPCError{Code: codeInvalidParams, Message: "id is required"}
	}
	return nil
}

// tradeResult renders the committed trade together with its escrow.
func (s *Server) tradeResult(t *escrow.Trade, caller *Caller) (interface{}, *RPCError) {
	esc, err := s.deps.Engine.Escrow(t.ID)
	if err != nil && !errors.Is(err, coreerrors.ErrTradeNotFound) {
		return nil, protocolError(err)
	}
	return newTradeResult(t, esc, caller), nil
}

func (s *Server) handleTradeCreate(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.OfferID == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "offerId is required"}
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.CreateTrade(escrow.CreateRequest{
		OfferID: params.OfferID,
		Taker:   caller.Address,
		Amount:  amount,
		Contact: params.Contact,
	})
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeAccept(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeAcceptParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.Accept(params.ID, caller.Address, params.Contact)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeFund(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeFundParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.Fund(params.ID, caller.Address, amount)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

// simpleTradeAction decodes {"id"} and applies fn on behalf of the caller.
func (s *Server) simpleTradeAction(caller *Caller, req *RPCRequest, fn func(id uint64, actor [20]byte) (*escrow.Trade, error)) (interface{}, *RPCError) {
	var params tradeIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := fn(params.ID, caller.Address)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeMarkFiatDeposited(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	return s.simpleTradeAction(caller, req, s.deps.Engine.MarkFiatDeposited)
}

func (s *Server) handleTradeRelease(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	return s.simpleTradeAction(caller, req, s.deps.Engine.Release)
}

func (s *Server) handleTradeCancel(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	return s.simpleTradeAction(caller, req, s.deps.Engine.Cancel)
}

func (s *Server) handleTradeRefund(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	return s.simpleTradeAction(caller, req, s.deps.Engine.Refund)
}

func (s *Server) handleTradeDispute(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeDisputeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.Dispute(params.ID, caller.Address, params.Reason)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeSettle(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeSettleParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	winner, err := escrow.ParseWinner(params.Winner)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	trade, err := s.deps.Engine.Settle(params.ID, caller.Address, winner, params.Reason)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeClose(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeCloseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ids := params.IDs
	if params.ID != 0 {
		ids = append([]uint64{params.ID}, ids...)
	}
	if len(ids) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "id or ids required"}
	}
	if len(ids) == 1 {
		if err := s.deps.Engine.Close(ids[0], caller.Address); err != nil {
			return nil, protocolError(err)
		}
		return newBatchResponse(escrow.BatchResult{Succeeded: ids}), nil
	}
	// Batches report per-item failures instead of failing the call.
	return newBatchResponse(s.deps.Engine.CloseTrades(caller.Address, ids)), nil
}

func (s *Server) handleTradeGet(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.Trade(params.ID)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, caller)
}

func (s *Server) handleTradeList(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeListParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	party := caller.Address
	if params.Address != "" {
		addr, rpcErr := parseAddressParam("address", params.Address)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if addr != caller.Address && !caller.Operator {
			return nil, &RPCError{Code: codeForbidden, Message: "may only list own trades"}
		}
		party = addr
	}
	trades, err := s.deps.Engine.TradesOf(party)
	if err != nil {
		return nil, protocolError(err)
	}
	out := make([]*TradeResult, 0, len(trades))
	for _, trade := range trades {
		out = append(out, newTradeResult(trade, nil, caller))
	}
	return out, nil
}

func (s *Server) handleTradeExpire(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireTradeID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	trade, err := s.deps.Engine.Expire(params.ID, s.deps.System)
	if err != nil {
		return nil, protocolError(err)
	}
	return s.tradeResult(trade, &Caller{Operator: true})
}

func (s *Server) handleTradeSweep(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params tradeSweepParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if params.Limit < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "limit must not be negative"}
	}
	result, err := s.deps.Engine.SweepExpired(s.deps.System, params.Limit)
	if err != nil {
		return nil, protocolError(err)
	}
	return newBatchResponse(result), nil
}
