package rpc

import (
	"context"
	"errors"
	"strings"

	coreerrors "localmoney/core/errors"
	"localmoney/core/events"
	"localmoney/core/pricing"
	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/crypto"
	"localmoney/storage/eventlog"
)

type priceUpdateParams struct {
	Fiat       string `json:"fiat,omitempty"`
	Token      string `json:"token,omitempty"`
	Rate       string `json:"rate"`
	ObservedAt int64  `json:"observedAt,omitempty"`
}

type priceGetParams struct {
	Fiat  string `json:"fiat,omitempty"`
	Token string `json:"token,omitempty"`
}

type PriceResult struct {
	Fiat       string `json:"fiat,omitempty"`
	Token      string `json:"token,omitempty"`
	Rate       string `json:"rate"`
	Scale      uint64 `json:"scale"`
	ObservedAt int64  `json:"observedAt"`
	AgeSeconds uint32 `json:"ageSeconds"`
	Status     string `json:"status"`
}

type balanceParams struct {
	Address string `json:"address,omitempty"`
	Token   string `json:"token"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type faucetParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type eventsListParams struct {
	Type     string `json:"type,omitempty"`
	TradeID  uint64 `json:"tradeId,omitempty"`
	AfterSeq int64  `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) requirePrices() *RPCError {
	if s.deps.Prices == nil {
		return &RPCError{Code: codeUnavailable, Message: "price book not configured"}
	}
	return nil
}

func exactlyOne(fiat, token string) *RPCError {
	hasFiat := strings.TrimSpace(fiat) != ""
	hasToken := strings.TrimSpace(token) != ""
	if hasFiat == hasToken {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one of fiat or token is required"}
	}
	return nil
}

func (s *Server) handlePriceUpdate(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	if rpcErr := s.requirePrices(); rpcErr != nil {
		return nil, rpcErr
	}
	var params priceUpdateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := exactlyOne(params.Fiat, params.Token); rpcErr != nil {
		return nil, rpcErr
	}
	rate, rpcErr := parseAmount("rate", params.Rate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	observedAt := params.ObservedAt
	if observedAt <= 0 {
		observedAt = s.nowFn().Unix()
	}
	if params.Fiat != "" {
		fiat, err := types.ParseFiatCurrency(params.Fiat)
		if err != nil {
			return nil, protocolError(err)
		}
		if err := s.deps.Prices.SetFiatRate(fiat, rate, observedAt); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		quote, err := s.deps.Prices.USDRate(fiat)
		return priceResult(string(fiat), "", quote, err)
	}
	if err := s.deps.Prices.SetTokenPrice(params.Token, rate, observedAt); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	token := types.NormalizeToken(params.Token)
	quote, err := s.deps.Prices.TokenUSDPrice(token)
	return priceResult("", token, quote, err)
}

func (s *Server) handlePriceGet(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	if rpcErr := s.requirePrices(); rpcErr != nil {
		return nil, rpcErr
	}
	var params priceGetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := exactlyOne(params.Fiat, params.Token); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Fiat != "" {
		fiat, err := types.ParseFiatCurrency(params.Fiat)
		if err != nil {
			return nil, protocolError(err)
		}
		quote, err := s.deps.Prices.USDRate(fiat)
		return priceResult(string(fiat), "", quote, err)
	}
	token := types.NormalizeToken(params.Token)
	quote, err := s.deps.Prices.TokenUSDPrice(token)
	return priceResult("", token, quote, err)
}

// priceResult reports unhealthy quotes as errors so a stale submission is
// visible to the operator that made it.
func priceResult(fiat, token string, quote pricing.Quote, err error) (interface{}, *RPCError) {
	if err != nil {
		return nil, protocolError(err)
	}
	return &PriceResult{
		Fiat:       fiat,
		Token:      token,
		Rate:       formatAmount(quote.Rate),
		Scale:      pricing.Scale,
		ObservedAt: quote.ObservedAt,
		AgeSeconds: quote.AgeSeconds,
		Status:     string(quote.Status),
	}, nil
}

func (s *Server) handleBalanceGet(_ context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token := types.NormalizeToken(params.Token)
	if token == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "token is required"}
	}
	addr := caller.Address
	if params.Address != "" {
		parsed, rpcErr := parseAddressParam("address", params.Address)
		if rpcErr != nil {
			return nil, rpcErr
		}
		addr = parsed
	}
	balance, err := s.deps.State.Balance(addr, token)
	if err != nil {
		return nil, protocolError(err)
	}
	return &BalanceResult{Address: crypto.FormatAddress(addr), Token: token, Balance: formatAmount(balance)}, nil
}

func (s *Server) handleFaucetMint(_ context.Context, _ *Caller, req *RPCRequest) (interface{}, *RPCError) {
	var params faucetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token := types.NormalizeToken(params.Token)
	if token == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "token is required"}
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if amount == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "amount must be positive"}
	}
	var balance uint64
	err := s.deps.State.Atomic(func(tx *state.Tx) error {
		if err := tx.Mint(addr, token, amount); err != nil {
			return err
		}
		var balErr error
		balance, balErr = tx.Balance(addr, token)
		return balErr
	})
	if err != nil {
		return nil, protocolError(err)
	}
	if s.deps.Emitter != nil {
		s.deps.Emitter.Emit(events.Transfer{Kind: events.TypeMint, Asset: token, To: addr, Amount: amount})
	}
	return &BalanceResult{Address: crypto.FormatAddress(addr), Token: token, Balance: formatAmount(balance)}, nil
}

func (s *Server) handleEventsList(ctx context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Events == nil {
		return nil, &RPCError{Code: codeUnavailable, Message: "event journal not configured"}
	}
	var params eventsListParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if rpcErr := s.eventsVisible(caller, params.TradeID); rpcErr != nil {
		return nil, rpcErr
	}
	records, err := s.deps.Events.List(ctx, eventlog.Query{
		Type:     params.Type,
		TradeID:  params.TradeID,
		AfterSeq: params.AfterSeq,
		Limit:    params.Limit,
	})
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return records, nil
}

// eventsVisible limits non-operators to the journal of a trade they take part
// in.
func (s *Server) eventsVisible(caller *Caller, tradeID uint64) *RPCError {
	if caller.Operator {
		return nil
	}
	if tradeID == 0 {
		return &RPCError{Code: codeForbidden, Message: "tradeId is required"}
	}
	trade, err := s.deps.Engine.Trade(tradeID)
	if err != nil {
		if errors.Is(err, coreerrors.ErrTradeNotFound) {
			return &RPCError{Code: codeForbidden, Message: "trade not visible to caller"}
		}
		return protocolError(err)
	}
	if !participant(trade, caller) {
		return &RPCError{Code: codeForbidden, Message: "trade not visible to caller"}
	}
	return nil
}
