package rpc

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"localmoney/core/events"
	"localmoney/core/pricing"
	"localmoney/core/state"
	"localmoney/crypto"
	"localmoney/native/arbitration"
	"localmoney/native/authz"
	"localmoney/native/escrow"
	"localmoney/native/hub"
	"localmoney/native/offers"
	"localmoney/native/reputation"
	"localmoney/storage"
	"localmoney/storage/eventlog"
)

const (
	testJWTSecret        = "rpc-test-secret-0123"
	testJWTIssuer        = "rpc-tests"
	testCapabilitySecret = "capability-secret-0123"
	testOperator         = "ops"
)

type testEnv struct {
	server     *Server
	handler    http.Handler
	engine     *escrow.Engine
	mgr        *state.Manager
	journal    *eventlog.Store
	pauses     staticPauses
	buyer      [20]byte
	seller     [20]byte
	arbitrator [20]byte
	outsider   [20]byte
	system     [20]byte
}

type staticPauses map[string]bool

func (p staticPauses) IsPaused(module string) bool { return p[module] }

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		mgr:        state.NewManager(storage.NewMemDB()),
		pauses:     staticPauses{},
		buyer:      testAddress(0x01),
		seller:     testAddress(0x02),
		arbitrator: testAddress(0x03),
		outsider:   testAddress(0x04),
		system:     testAddress(0x0A),
	}
	settings := hub.DefaultSettings()
	settings.Collectors = hub.Collectors{Chain: testAddress(0x0C), Warchest: testAddress(0x0D)}
	static, err := hub.NewStatic(settings)
	require.NoError(t, err)

	journal, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	env.journal = journal

	verifier, err := authz.NewVerifier(testCapabilitySecret, reputation.Audience, escrow.ModuleName)
	require.NoError(t, err)
	sink, err := reputation.NewSink(verifier)
	require.NoError(t, err)
	issuer, err := authz.NewIssuer(testCapabilitySecret, escrow.ModuleName, time.Minute)
	require.NoError(t, err)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	prices := pricing.NewBook(pricing.Guard{})
	env.engine = escrow.NewEngine(env.mgr, static)
	env.engine.SetPriceFeed(prices)
	env.engine.SetSystem(env.system)
	env.engine.SetEmitter(journal)
	env.engine.SetSelector(arbitration.WeightedSelector{Source: arbitration.NewVRFSource(key)})
	require.NoError(t, env.engine.SetProfiles(sink, issuer))

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testJWTSecret
	}
	cfg.JWTIssuer = testJWTIssuer
	cfg.OperatorSubjects = []string{testOperator}
	env.server, err = NewServer(Deps{
		Engine:  env.engine,
		State:   env.mgr,
		Offers:  offers.NewBook(),
		Prices:  prices,
		Events:  journal,
		Pauses:  env.pauses,
		Emitter: events.Fanout{journal},
		System:  env.system,
	}, cfg)
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testJWTIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func userToken(t *testing.T, addr [20]byte) string {
	return signToken(t, testJWTSecret, crypto.FormatAddress(addr), time.Hour)
}

func operatorToken(t *testing.T) string {
	return signToken(t, testJWTSecret, testOperator, time.Hour)
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (env *testEnv) post(t *testing.T, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	return recorder
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (json.RawMessage, *RPCError, int) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		req.Params = []json.RawMessage{marshalParam(t, params)}
	}
	recorder := env.post(t, token, marshalParam(t, req))
	result, rpcErr := decodeRPCResponse(t, recorder)
	return result, rpcErr, recorder.Code
}

func (env *testEnv) mustCall(t *testing.T, token, method string, params interface{}, out interface{}) {
	t.Helper()
	result, rpcErr, _ := env.call(t, token, method, params)
	require.Nil(t, rpcErr, "%s failed: %+v", method, rpcErr)
	if out != nil {
		require.NoError(t, json.Unmarshal(result, out))
	}
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return resp.Result, resp.Error
}

// seedMarket registers the arbitrator, prices USDC and ARS, funds the seller
// and opens a sell offer, returning its id.
func (env *testEnv) seedMarket(t *testing.T) uint64 {
	t.Helper()
	ops := operatorToken(t)
	env.mustCall(t, ops, "arbitrator_register", map[string]interface{}{
		"address":         crypto.FormatAddress(env.arbitrator),
		"fiats":           []string{"ars"},
		"reputationScore": 5000,
	}, nil)
	env.mustCall(t, ops, "price_update", map[string]interface{}{"token": "USDC", "rate": "1000000"}, nil)
	env.mustCall(t, ops, "price_update", map[string]interface{}{"fiat": "ARS", "rate": "1000000000"}, nil)
	env.mustCall(t, ops, "faucet_mint", map[string]interface{}{
		"address": crypto.FormatAddress(env.seller),
		"token":   "USDC",
		"amount":  "5000000",
	}, nil)

	var offer OfferResult
	env.mustCall(t, userToken(t, env.seller), "offer_create", map[string]interface{}{
		"type":    "sell",
		"token":   "usdc",
		"fiat":    "ARS",
		"min":     "100",
		"max":     "2000000",
		"rateBps": 10000,
	}, &offer)
	require.Equal(t, "USDC", offer.Token)
	require.Equal(t, "active", offer.State)
	return offer.ID
}

func (env *testEnv) openTrade(t *testing.T, offerID uint64) TradeResult {
	t.Helper()
	var trade TradeResult
	env.mustCall(t, userToken(t, env.buyer), "trade_create", map[string]interface{}{
		"offerId": offerID,
		"amount":  "1000000",
		"contact": "enc:buyer",
	}, &trade)
	return trade
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{})
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestParseErrorAndUnknownMethod(t *testing.T) {
	env := newTestEnv(t, Config{})

	recorder := env.post(t, "", []byte("{not json"))
	_, rpcErr := decodeRPCResponse(t, recorder)
	require.NotNil(t, rpcErr)
	require.Equal(t, codeParseError, rpcErr.Code)
	require.NotEmpty(t, recorder.Header().Get(requestIDHeader))

	_, rpcErr, status := env.call(t, "", "trade_teleport", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, rpcErr.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"offer_get","params":[{"id":9}],"id":1}`)))
	req.Header.Set(requestIDHeader, "req-123")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, "req-123", recorder.Header().Get(requestIDHeader))
	_, rpcErr := decodeRPCResponse(t, recorder)
	require.Equal(t, codeNotFound, rpcErr.Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, rpcErr, status := env.call(t, "", "trade_get", map[string]interface{}{"id": 1})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	forged := signToken(t, "some-other-secret-0123", crypto.FormatAddress(env.buyer), time.Hour)
	_, rpcErr, _ = env.call(t, forged, "trade_get", map[string]interface{}{"id": 1})
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	expired := signToken(t, testJWTSecret, crypto.FormatAddress(env.buyer), -time.Hour)
	_, rpcErr, _ = env.call(t, expired, "trade_get", map[string]interface{}{"id": 1})
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	// Operator subjects are not account addresses.
	_, rpcErr, _ = env.call(t, operatorToken(t), "trade_get", map[string]interface{}{"id": 1})
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	_, rpcErr, status = env.call(t, userToken(t, env.buyer), "price_update", map[string]interface{}{"token": "USDC", "rate": "1"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, rpcErr.Code)
}

func TestFaucetRequiresDevFlag(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, rpcErr, _ := env.call(t, operatorToken(t), "faucet_mint", map[string]interface{}{
		"address": crypto.FormatAddress(env.seller), "token": "USDC", "amount": "1",
	})
	require.Equal(t, codeMethodNotFound, rpcErr.Code)
}

func TestTradeLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	buyer := userToken(t, env.buyer)
	seller := userToken(t, env.seller)

	trade := env.openTrade(t, offerID)
	require.Equal(t, "request_created", trade.State)
	require.Equal(t, crypto.FormatAddress(env.arbitrator), trade.Arbitrator)
	require.Equal(t, "seller", trade.Maker)
	require.Equal(t, "1000000000", trade.LockedPrice)
	require.Equal(t, "enc:buyer", trade.BuyerContact)

	env.mustCall(t, seller, "trade_accept", map[string]interface{}{"id": trade.ID, "contact": "enc:seller"}, &trade)
	require.Equal(t, "request_accepted", trade.State)

	env.mustCall(t, seller, "trade_fund", map[string]interface{}{"id": trade.ID, "amount": "1000000"}, &trade)
	require.Equal(t, "escrow_funded", trade.State)
	require.NotNil(t, trade.Escrow)
	require.Equal(t, uint32(100), trade.Escrow.BurnBps)
	require.NotZero(t, trade.DisputeWindowAt)

	env.mustCall(t, buyer, "trade_markFiatDeposited", map[string]interface{}{"id": trade.ID}, &trade)
	require.Equal(t, "fiat_deposited", trade.State)

	env.mustCall(t, seller, "trade_release", map[string]interface{}{"id": trade.ID}, &trade)
	require.Equal(t, "escrow_released", trade.State)
	require.Len(t, trade.History, 5)

	var balance BalanceResult
	env.mustCall(t, buyer, "balance_get", map[string]interface{}{"token": "usdc"}, &balance)
	require.Equal(t, "980000", balance.Balance)
	require.Equal(t, crypto.FormatAddress(env.buyer), balance.Address)

	var profile ProfileResult
	env.mustCall(t, "", "profile_get", map[string]interface{}{"address": crypto.FormatAddress(env.buyer)}, &profile)
	require.Equal(t, uint64(1), profile.Requested)
	require.Equal(t, uint64(1), profile.Released)

	var list []TradeResult
	env.mustCall(t, seller, "trade_list", nil, &list)
	require.Len(t, list, 1)
	require.Equal(t, trade.ID, list[0].ID)

	var records []eventlog.Record
	env.mustCall(t, buyer, "events_list", map[string]interface{}{"tradeId": trade.ID}, &records)
	require.NotEmpty(t, records)
	require.Equal(t, escrow.EventTypeTradeCreated, records[0].Type)

	_, rpcErr, _ := env.call(t, userToken(t, env.outsider), "events_list", map[string]interface{}{"tradeId": trade.ID})
	require.Equal(t, codeForbidden, rpcErr.Code)
}

func TestDisputeAndSettleOverRPC(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	buyer := userToken(t, env.buyer)
	seller := userToken(t, env.seller)

	trade := env.openTrade(t, offerID)
	env.mustCall(t, seller, "trade_accept", map[string]interface{}{"id": trade.ID}, nil)
	env.mustCall(t, seller, "trade_fund", map[string]interface{}{"id": trade.ID, "amount": "1000000"}, nil)
	env.mustCall(t, buyer, "trade_markFiatDeposited", map[string]interface{}{"id": trade.ID}, nil)

	// The dispute window opens a day after funding.
	_, rpcErr, status := env.call(t, buyer, "trade_dispute", map[string]interface{}{"id": trade.ID, "reason": "no release"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeTimingRejected, rpcErr.Code)
	data, ok := rpcErr.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "PrematureDisputeRequest", data["code"])
	require.Equal(t, true, data["recoverable"])

	_, rpcErr, _ = env.call(t, buyer, "trade_settle", map[string]interface{}{"id": trade.ID, "winner": "judge"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestProtocolErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	trade := env.openTrade(t, offerID)

	_, rpcErr, status := env.call(t, userToken(t, env.buyer), "trade_release", map[string]interface{}{"id": trade.ID})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeConflict, rpcErr.Code)

	_, rpcErr, _ = env.call(t, userToken(t, env.outsider), "trade_accept", map[string]interface{}{"id": trade.ID})
	require.Equal(t, codeForbidden, rpcErr.Code)

	_, rpcErr, _ = env.call(t, userToken(t, env.buyer), "trade_get", map[string]interface{}{"id": 999})
	require.Equal(t, codeNotFound, rpcErr.Code)

	_, rpcErr, _ = env.call(t, userToken(t, env.buyer), "trade_create", map[string]interface{}{"offerId": offerID, "amount": "5"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	_, rpcErr, _ = env.call(t, userToken(t, env.buyer), "trade_create", map[string]interface{}{"offerId": offerID, "amount": "-1"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	_, rpcErr, _ = env.call(t, userToken(t, env.buyer), "trade_get", map[string]interface{}{"id": trade.ID, "extra": true})
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestContactsHiddenFromOutsiders(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	trade := env.openTrade(t, offerID)

	var seen TradeResult
	env.mustCall(t, userToken(t, env.outsider), "trade_get", map[string]interface{}{"id": trade.ID}, &seen)
	require.Empty(t, seen.BuyerContact)
	require.Equal(t, "request_created", seen.State)

	env.mustCall(t, userToken(t, env.arbitrator), "trade_get", map[string]interface{}{"id": trade.ID}, &seen)
	require.Equal(t, "enc:buyer", seen.BuyerContact)

	_, rpcErr, _ := env.call(t, userToken(t, env.outsider), "trade_list", map[string]interface{}{"address": crypto.FormatAddress(env.buyer)})
	require.Equal(t, codeForbidden, rpcErr.Code)
}

func TestOfferPauseAndState(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	seller := userToken(t, env.seller)

	_, rpcErr, _ := env.call(t, userToken(t, env.buyer), "offer_setState", map[string]interface{}{"id": offerID, "state": "paused"})
	require.Equal(t, codeForbidden, rpcErr.Code)

	var offer OfferResult
	env.mustCall(t, seller, "offer_setState", map[string]interface{}{"id": offerID, "state": "paused"}, &offer)
	require.Equal(t, "paused", offer.State)

	_, rpcErr, _ = env.call(t, userToken(t, env.buyer), "trade_create", map[string]interface{}{"offerId": offerID, "amount": "1000000"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	var listed []OfferResult
	env.mustCall(t, "", "offer_list", map[string]interface{}{"owner": crypto.FormatAddress(env.seller)}, &listed)
	require.Len(t, listed, 1)

	env.pauses[offersModule] = true
	_, rpcErr, _ = env.call(t, seller, "offer_create", map[string]interface{}{
		"type": "sell", "token": "USDC", "fiat": "ARS", "min": "1", "max": "2", "rateBps": 10000,
	})
	require.Equal(t, codeInvalidParams, rpcErr.Code)
	require.Equal(t, "ModulePaused", rpcErr.Data.(map[string]interface{})["code"])
}

func TestOperatorSweep(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	offerID := env.seedMarket(t)
	env.openTrade(t, offerID)

	var batch BatchResponse
	env.mustCall(t, operatorToken(t), "trade_sweep", map[string]interface{}{"limit": 10}, &batch)
	require.Empty(t, batch.Succeeded)
	require.Empty(t, batch.Failed)
}

func TestPriceEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	ops := operatorToken(t)

	_, rpcErr, _ := env.call(t, ops, "price_update", map[string]interface{}{"token": "USDC", "fiat": "ARS", "rate": "1"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	_, rpcErr, status := env.call(t, "", "price_get", map[string]interface{}{"fiat": "BRL"})
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeUnavailable, rpcErr.Code)

	var price PriceResult
	env.mustCall(t, ops, "price_update", map[string]interface{}{"fiat": "brl", "rate": "5000000"}, &price)
	require.Equal(t, "BRL", price.Fiat)
	require.Equal(t, pricing.Scale, price.Scale)
	require.Equal(t, "ok", price.Status)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 0.001, RateBurst: 1})
	_, rpcErr, _ := env.call(t, "", "offer_get", map[string]interface{}{"id": 1})
	require.Equal(t, codeNotFound, rpcErr.Code)

	_, rpcErr, status := env.call(t, "", "offer_get", map[string]interface{}{"id": 1})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, rpcErr.Code)
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 16})
	recorder := env.post(t, "", []byte(`{"jsonrpc":"2.0","method":"offer_get","params":[{"id":1}],"id":1}`))
	require.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

func TestListenCapsConnections(t *testing.T) {
	env := newTestEnv(t, Config{MaxConnections: 1})
	ln, err := env.server.listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	for i := 0; i < 2; i++ {
		client, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer client.Close()
	}

	first, err := ln.Accept()
	require.NoError(t, err)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	select {
	case <-accepted:
		t.Fatal("second connection accepted while the first was open")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Close())
	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("second connection not accepted after the first closed")
	}
}
