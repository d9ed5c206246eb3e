// Package rpc serves the JSON-RPC 2.0 API of the trade daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"localmoney/core/events"
	"localmoney/core/pricing"
	"localmoney/core/state"
	"localmoney/native/common"
	"localmoney/native/escrow"
	"localmoney/native/offers"
	"localmoney/observability"
	"localmoney/observability/otel"
	"localmoney/storage/eventlog"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
	moduleName      = "rpc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeNotFound       = -32004
	codeTimingRejected = -32030
	codeArithmetic     = -32031
	codeUnavailable    = -32032
	codeConflict       = -32033
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// EventJournal pages through and follows the event journal.
type EventJournal interface {
	List(ctx context.Context, q eventlog.Query) ([]eventlog.Record, error)
	Subscribe(q eventlog.Query, buffer int) (<-chan eventlog.Record, func())
}

// Deps are the collaborators the handlers drive.
type Deps struct {
	Engine *escrow.Engine
	State  *state.Manager
	Offers *offers.Book
	Prices *pricing.Book
	Events EventJournal
	Pauses common.PauseView
	// Emitter receives ledger events raised outside the engine, such as
	// faucet mints.
	Emitter events.Emitter
	// System is the actor used for operator-initiated trade actions.
	System [20]byte
	Logger *slog.Logger
}

// Config tunes the HTTP surface.
type Config struct {
	JWTSecret        string
	JWTIssuer        string
	OperatorSubjects []string
	RateLimit        float64
	RateBurst        int
	MaxBodyBytes     int64
	// MaxConnections caps concurrently accepted connections; 0 is unlimited.
	MaxConnections int
	DevFaucet      bool
}

type access uint8

const (
	accessPublic access = iota
	accessUser
	accessOperator
)

type handlerFunc func(ctx context.Context, caller *Caller, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	access  access
	handler handlerFunc
}

type Server struct {
	deps     Deps
	cfg      Config
	auth     *authenticator
	limiter  *clientLimiter
	logger   *slog.Logger
	tracer   trace.Tracer
	methods  map[string]method
	maxBytes int64
	nowFn    func() time.Time
}

// NewServer validates deps and builds the method table.
func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Engine == nil || deps.State == nil {
		return nil, errors.New("rpc: engine and state are required")
	}
	if deps.Offers == nil {
		deps.Offers = offers.NewBook()
	}
	auth, err := newAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.OperatorSubjects)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = maxRequestBytes
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		auth:     auth,
		limiter:  newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:   logger.With(slog.String("component", moduleName)),
		tracer:   otel.Tracer("localmoney/rpc"),
		maxBytes: maxBytes,
		nowFn:    time.Now,
	}
	s.methods = s.routes()
	return s, nil
}

func (s *Server) routes() map[string]method {
	table := map[string]method{
		"trade_create":            {accessUser, s.handleTradeCreate},
		"trade_accept":            {accessUser, s.handleTradeAccept},
		"trade_fund":              {accessUser, s.handleTradeFund},
		"trade_markFiatDeposited": {accessUser, s.handleTradeMarkFiatDeposited},
		"trade_release":           {accessUser, s.handleTradeRelease},
		"trade_cancel":            {accessUser, s.handleTradeCancel},
		"trade_refund":            {accessUser, s.handleTradeRefund},
		"trade_dispute":           {accessUser, s.handleTradeDispute},
		"trade_settle":            {accessUser, s.handleTradeSettle},
		"trade_close":             {accessUser, s.handleTradeClose},
		"trade_get":               {accessUser, s.handleTradeGet},
		"trade_list":              {accessUser, s.handleTradeList},
		"trade_expire":            {accessOperator, s.handleTradeExpire},
		"trade_sweep":             {accessOperator, s.handleTradeSweep},
		"offer_create":            {accessUser, s.handleOfferCreate},
		"offer_setState":          {accessUser, s.handleOfferSetState},
		"offer_get":               {accessPublic, s.handleOfferGet},
		"offer_list":              {accessPublic, s.handleOfferList},
		"arbitrator_register":     {accessOperator, s.handleArbitratorRegister},
		"arbitrator_setActive":    {accessOperator, s.handleArbitratorSetActive},
		"arbitrator_get":          {accessPublic, s.handleArbitratorGet},
		"profile_get":             {accessPublic, s.handleProfileGet},
		"price_update":            {accessOperator, s.handlePriceUpdate},
		"price_get":               {accessPublic, s.handlePriceGet},
		"balance_get":             {accessUser, s.handleBalanceGet},
		"events_list":             {accessUser, s.handleEventsList},
	}
	if s.cfg.DevFaucet {
		table["faucet_mint"] = method{accessOperator, s.handleFaucetMint}
	}
	return table
}

// Handler returns the HTTP routes: POST / and /rpc for JSON-RPC, the
// websocket event stream, plus health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	rpcHandler := otelhttp.NewHandler(http.HandlerFunc(s.handle), "jsonrpc")
	r.Method(http.MethodPost, "/", rpcHandler)
	r.Method(http.MethodPost, "/rpc", rpcHandler)
	r.Get("/ws/events", s.handleEventStream)
	return r
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return errors.New("rpc: nil http server")
	}
	ln, err := s.listen(srv.Addr)
	if err != nil {
		return err
	}
	srv.Handler = s.Handler()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", slog.String("address", ln.Addr().String()),
			slog.Int("maxConnections", s.cfg.MaxConnections))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) listen(addr string) (net.Listener, error) {
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.maxBytes)
	defer func() {
		_ = reader.Close()
	}()

	requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to parse request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	source := clientSource(r)
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(moduleName, "rate")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", source)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	start := s.nowFn()
	caller, rpcErr := s.authorize(r, m.access)
	var result interface{}
	if rpcErr == nil {
		result, rpcErr = m.handler(ctx, caller, req)
	}
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.ModuleMetrics().Observe(moduleName, req.Method, code, time.Since(start))

	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		s.logger.Debug("rpc call failed",
			slog.String("method", req.Method),
			slog.String("requestid", requestID),
			slog.Int("code", rpcErr.Code),
			slog.String("error", rpcErr.Message))
		writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) authorize(r *http.Request, level access) (*Caller, *RPCError) {
	if level == accessPublic {
		return &Caller{}, nil
	}
	caller, err := s.auth.authenticate(r.Header.Get("Authorization"))
	if err != nil {
		return nil, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	if level == accessOperator {
		if !caller.Operator {
			return nil, &RPCError{Code: codeForbidden, Message: "operator privileges required"}
		}
		return caller, nil
	}
	if !caller.HasAddress() {
		return nil, &RPCError{Code: codeUnauthorized, Message: "token subject is not an account address"}
	}
	return caller, nil
}

func statusFor(code int) int {
	switch code {
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeForbidden:
		return http.StatusForbidden
	case codeMethodNotFound, codeNotFound:
		return http.StatusNotFound
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeConflict, codeTimingRejected:
		return http.StatusConflict
	case codeUnavailable:
		return http.StatusServiceUnavailable
	case codeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeParams unmarshals the single parameter object of req into out.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "parameter object required"}
	}
	decoder := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}
