// Package escrow implements the trade lifecycle engine: the state machine of a
// single P2P trade, custody of the seller's tokens, fee routing and dispute
// settlement.
package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	coreerrors "localmoney/core/errors"
	"localmoney/core/events"
	"localmoney/core/pricing"
	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/crypto"
	"localmoney/native/arbitration"
	"localmoney/native/authz"
	"localmoney/native/common"
	"localmoney/native/fees"
	"localmoney/native/hub"
	"localmoney/native/offers"
	"localmoney/native/reputation"
	"localmoney/native/safemath"
	"localmoney/observability/metrics"
)

// ModuleName is the pause-guard name of the trade engine.
const ModuleName = "trade"

const (
	defaultTokenDecimals uint8 = 6
	maxTokenDecimals     uint8 = 12
)

var errNilHub = errors.New("escrow: hub configuration not set")

// Backend is the state the engine runs its units of work against.
type Backend interface {
	reader
	Atomic(fn func(tx *state.Tx) error) error
}

// ProfileSink receives trade milestones. Implementations write through the
// supplied store so their records commit with the transition.
type ProfileSink interface {
	RecordTradeStat(store reputation.Store, capability string, actor [20]byte, event reputation.StatEvent) error
}

// Quotas are per-actor daily action caps. Zero disables a cap.
type Quotas struct {
	CreatePerDay  uint32
	DisputePerDay uint32
}

// Engine drives trades through their lifecycle. Every public action runs in a
// single atomic unit; events raised by the action are emitted only after the
// unit commits.
type Engine struct {
	store      Backend
	hub        hub.ConfigProvider
	prices     pricing.PriceFeed
	selector   arbitration.Selector
	calculator fees.Calculator
	profiles   ProfileSink
	issuer     *authz.Issuer
	calls      *authz.CallGuard
	emitter    events.Emitter
	pauses     common.PauseView
	quotas     Quotas
	system     [20]byte
	decimals   map[string]uint8
	fallback   uint8
	logger     *slog.Logger
	metrics    *metrics.TradeMetrics
	nowFn      func() int64
}

// NewEngine returns an engine over store configured by cfg. The percentage
// fee calculator and a no-op emitter are installed by default.
func NewEngine(store Backend, cfg hub.ConfigProvider) *Engine {
	return &Engine{
		store:      store,
		hub:        cfg,
		calculator: fees.PercentageCalculator{},
		calls:      authz.NewCallGuard(),
		emitter:    events.NoopEmitter{},
		decimals:   make(map[string]uint8),
		fallback:   defaultTokenDecimals,
		logger:     slog.Default(),
		metrics:    metrics.Trade(),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetPriceFeed configures the price collaborator consulted at creation.
func (e *Engine) SetPriceFeed(feed pricing.PriceFeed) { e.prices = feed }

// SetSelector configures how arbitrators are assigned.
func (e *Engine) SetSelector(selector arbitration.Selector) { e.selector = selector }

// SetCalculator overrides the fee calculator. Nil restores the percentage
// calculator.
func (e *Engine) SetCalculator(calc fees.Calculator) {
	if calc == nil {
		calc = fees.PercentageCalculator{}
	}
	e.calculator = calc
}

// SetProfiles wires the profile collaborator together with the issuer used to
// mint its capability tokens.
func (e *Engine) SetProfiles(sink ProfileSink, issuer *authz.Issuer) error {
	if sink != nil && issuer == nil {
		return errors.New("escrow: profile sink requires a capability issuer")
	}
	e.profiles = sink
	e.issuer = issuer
	return nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

func (e *Engine) SetQuotas(q Quotas) { e.quotas = q }

// SetSystem configures the operator identity allowed to submit system
// actions such as expiry and overdue refunds.
func (e *Engine) SetSystem(addr [20]byte) { e.system = addr }

// SetTokenDecimals records the base-unit precision of token used when
// converting amounts to USD. Unknown tokens use the default precision, six
// decimals unless SetDefaultTokenDecimals changed it.
func (e *Engine) SetTokenDecimals(token string, decimals uint8) error {
	if decimals > maxTokenDecimals {
		return fmt.Errorf("escrow: %d decimals exceeds %d", decimals, maxTokenDecimals)
	}
	normalized := types.NormalizeToken(token)
	if normalized == "" {
		return fmt.Errorf("%w: empty token", coreerrors.ErrInvalidToken)
	}
	e.decimals[normalized] = decimals
	return nil
}

// SetDefaultTokenDecimals changes the precision assumed for tokens without an
// explicit entry.
func (e *Engine) SetDefaultTokenDecimals(decimals uint8) error {
	if decimals > maxTokenDecimals {
		return fmt.Errorf("escrow: %d decimals exceeds %d", decimals, maxTokenDecimals)
	}
	e.fallback = decimals
	return nil
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// op is the context of one action's unit of work.
type op struct {
	tx    *state.Tx
	now   int64
	buf   events.Buffer
	moved []TradeState
	fees  []events.FeeDistribution
}

func (e *Engine) run(action string, fn func(o *op) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.hub == nil {
		return errNilHub
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		e.reject(action, err)
		return err
	}
	o := &op{now: e.now()}
	err := e.store.Atomic(func(tx *state.Tx) error {
		o.tx = tx
		return fn(o)
	})
	if err != nil {
		o.buf.Discard()
		e.reject(action, err)
		return err
	}
	for _, next := range o.moved {
		e.metrics.ObserveTransition(next.String())
	}
	for _, dist := range o.fees {
		e.metrics.ObserveFee("burn", dist.Token, dist.Burn)
		e.metrics.ObserveFee("chain", dist.Token, dist.Chain)
		e.metrics.ObserveFee("warchest", dist.Token, dist.Warchest)
		e.metrics.ObserveFee("conversion", dist.Token, dist.Conversion)
		e.metrics.ObserveFee("slippage", dist.Token, dist.Slippage)
		e.metrics.ObserveFee("arbitration", dist.Token, dist.Arbitration)
	}
	o.buf.Flush(e.emitter)
	return nil
}

func (e *Engine) reject(action string, err error) {
	code := coreerrors.Code(err)
	e.metrics.ObserveFailure(action, code)
	if errors.Is(err, coreerrors.ErrInvariantViolation) {
		e.logger.Error("trade invariant violated", "action", action, "error", err)
		return
	}
	e.logger.Info("trade action rejected", "action", action, "code", code, "error", err)
}

func (e *Engine) load(o *op, id uint64) (*Trade, *Escrow, error) {
	t, err := GetTrade(o.tx, id)
	if err != nil {
		return nil, nil, err
	}
	esc, err := GetEscrow(o.tx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, esc, nil
}

// transition validates from -> next against the matrix, the actor's role on
// this trade and the timing rule, then applies it to t.
func (e *Engine) transition(o *op, t *Trade, actor [20]byte, next TradeState) (authz.Role, error) {
	r, err := lookupRule(t.State, next)
	if err != nil {
		return authz.RoleNone, err
	}
	role, err := authz.RequireRole(t.Parties(e.system), actor, r.roles...)
	if err != nil {
		return authz.RoleNone, err
	}
	if err := checkTiming(t, r.timing, o.now); err != nil {
		return authz.RoleNone, err
	}
	switch {
	case next == StateEscrowFunded:
		window, err := safemath.Add(uint64(o.now), uint64(e.hub.Timers().DisputeSecs))
		if err != nil {
			return authz.RoleNone, err
		}
		if window > uint64(t.ExpiresAt) {
			window = uint64(t.ExpiresAt)
		}
		t.DisputeWindowAt = int64(window)
	case !next.holdsDisputeWindow():
		t.DisputeWindowAt = 0
	}
	t.State = next
	t.History.Push(TransitionRecord{Actor: actor, Role: role, State: next, Timestamp: o.now})
	o.moved = append(o.moved, next)
	return role, nil
}

// save re-checks every invariant and persists both records. Terminal trades
// leave the open index.
func (e *Engine) save(o *op, t *Trade, esc *Escrow, actor [20]byte) error {
	if err := checkInvariants(o.tx, t, esc); err != nil {
		return err
	}
	if err := putTrade(o.tx, t); err != nil {
		return err
	}
	if err := putEscrow(o.tx, esc); err != nil {
		return err
	}
	if t.State.IsTerminal() {
		if err := unindexOpen(o.tx, t.ID); err != nil {
			return err
		}
	}
	o.buf.Emit(tradeEvent(eventTypeFor(t.State), t, actor))
	return nil
}

func (e *Engine) recordStat(o *op, t *Trade, actor [20]byte, kind reputation.StatKind) error {
	if e.profiles == nil {
		return nil
	}
	capability, err := e.issuer.Issue(reputation.Audience, reputation.ActionRecordTradeStat)
	if err != nil {
		return err
	}
	leave, err := e.calls.Enter(ModuleName, reputation.Audience)
	if err != nil {
		return err
	}
	defer leave()
	return e.profiles.RecordTradeStat(o.tx, capability, actor, reputation.StatEvent{
		Kind:      kind,
		TradeID:   t.ID,
		VolumeUSD: t.ValueUSD,
		Timestamp: o.now,
	})
}

func (e *Engine) recordBoth(o *op, t *Trade, kind reputation.StatKind) error {
	if err := e.recordStat(o, t, t.Buyer, kind); err != nil {
		return err
	}
	return e.recordStat(o, t, t.Seller, kind)
}

// screen raises a security alert for degenerate free-form input. It never
// rejects the action.
func (e *Engine) screen(subject string, actor [20]byte, tradeID uint64, payload string) {
	if payload == "" {
		return
	}
	kind := authz.Screen(e.emitter, subject, actor, tradeID, []byte(payload))
	if kind == authz.PatternNone {
		return
	}
	e.metrics.ObserveSecurityAlert(kind)
	e.logger.Warn("degenerate input screened", "subject", subject, "kind", kind, "actor", crypto.FormatAddress(actor), "tradeId", tradeID)
}

// checkLength bounds value in characters, counted after NFC normalization so
// composed and decomposed forms of the same text measure alike.
func checkLength(field, value string, limit int) error {
	if utf8.RuneCountInString(norm.NFC.String(value)) > limit {
		return fmt.Errorf("%w: %s exceeds %d characters", coreerrors.ErrValueTooLong, field, limit)
	}
	return nil
}

// CreateRequest opens a trade against a standing offer. The taker is the
// party that does not own the offer.
type CreateRequest struct {
	OfferID uint64
	Taker   [20]byte
	Amount  uint64
	// Contact is the taker's encrypted contact blob.
	Contact string
}

// CreateTrade validates the request against the offer, the hub limits and the
// current prices, assigns an arbitrator and stores a RequestCreated trade.
func (e *Engine) CreateTrade(req CreateRequest) (*Trade, error) {
	e.screen("contact", req.Taker, 0, req.Contact)
	var created *Trade
	err := e.run("create", func(o *op) error {
		if req.Taker == ([20]byte{}) {
			return fmt.Errorf("%w: empty taker", coreerrors.ErrUnauthorized)
		}
		if err := checkLength("contact", req.Contact, MaxContactLength); err != nil {
			return err
		}
		offer, err := offers.RequireActive(o.tx, req.OfferID)
		if err != nil {
			return err
		}
		if err := offer.Accepts(req.Amount); err != nil {
			return err
		}
		t := &Trade{
			OfferID:   offer.ID,
			Amount:    req.Amount,
			Token:     types.NormalizeToken(offer.Token),
			Fiat:      offer.Fiat,
			State:     StateRequestCreated,
			CreatedAt: o.now,
			History:   common.NewHistoryLog[TransitionRecord](HistoryCapacity),
		}
		takerRole := authz.RoleBuyer
		switch offer.Type {
		case offers.OfferTypeSell:
			t.Seller, t.Buyer, t.Maker = offer.Owner, req.Taker, authz.RoleSeller
			t.BuyerContact = req.Contact
		case offers.OfferTypeBuy:
			t.Buyer, t.Seller, t.Maker = offer.Owner, req.Taker, authz.RoleBuyer
			t.SellerContact = req.Contact
			takerRole = authz.RoleSeller
		default:
			return fmt.Errorf("%w: offer type %d", coreerrors.ErrInvalidOffer, offer.Type)
		}
		if t.Buyer == t.Seller {
			return fmt.Errorf("%w: %s", coreerrors.ErrSelfTradeNotAllowed, crypto.FormatAddress(t.Buyer))
		}
		if err := consumeQuota(o.tx, "create", req.Taker, e.quotas.CreatePerDay, o.now); err != nil {
			return err
		}
		if t.ValueUSD, t.LockedPrice, err = e.quote(t.Token, t.Fiat, offer.RateBps, t.Amount); err != nil {
			return err
		}
		limits := e.hub.TradeLimits()
		if t.ValueUSD < limits.MinUSD || t.ValueUSD > limits.MaxUSD {
			return fmt.Errorf("%w: $%d outside [$%d, $%d]", coreerrors.ErrUSDValueOutOfRange, t.ValueUSD, limits.MinUSD, limits.MaxUSD)
		}
		expires, err := safemath.Add(uint64(o.now), uint64(e.hub.Timers().ExpirationSecs))
		if err != nil {
			return err
		}
		t.ExpiresAt = int64(expires)
		if t.ID, err = o.tx.NextSequence(tradeSequence); err != nil {
			return err
		}
		if t.Arbitrator, err = e.selectArbitrator(o, t); err != nil {
			return err
		}
		if err := authz.Distinct(t.Buyer, t.Seller, t.Arbitrator); err != nil {
			return err
		}
		t.History.Push(TransitionRecord{Actor: req.Taker, Role: takerRole, State: StateRequestCreated, Timestamp: o.now})
		o.moved = append(o.moved, StateRequestCreated)
		esc := &Escrow{
			TradeID: t.ID,
			Amount:  t.Amount,
			Token:   t.Token,
			State:   EscrowCreated,
			Vault:   authz.DeriveVault(t.ID, t.Token),
		}
		if err := indexTrade(o.tx, t); err != nil {
			return err
		}
		if err := e.recordStat(o, t, req.Taker, reputation.StatRequested); err != nil {
			return err
		}
		if err := e.save(o, t, esc, req.Taker); err != nil {
			return err
		}
		created = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("trade created", "tradeId", created.ID, "offerId", created.OfferID, "token", created.Token, "amount", created.Amount, "fiat", string(created.Fiat))
	return created, nil
}

func (e *Engine) selectArbitrator(o *op, t *Trade) ([20]byte, error) {
	if e.selector == nil {
		return [20]byte{}, fmt.Errorf("%w: no selector configured", coreerrors.ErrNoArbitratorAvailable)
	}
	return e.selector.Select(o.tx, arbitration.Request{TradeID: t.ID, Buyer: t.Buyer, Seller: t.Seller, Fiat: t.Fiat})
}

func (e *Engine) tokenUnit(token string) uint64 {
	decimals, ok := e.decimals[types.NormalizeToken(token)]
	if !ok {
		decimals = e.fallback
	}
	unit := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		unit *= 10
	}
	return unit
}

// quote converts amount to whole USD and locks the offer's fiat price per
// whole token.
func (e *Engine) quote(token string, fiat types.FiatCurrency, rateBps uint32, amount uint64) (uint64, uint64, error) {
	if e.prices == nil {
		return 0, 0, fmt.Errorf("%w: price feed not configured", coreerrors.ErrCollaboratorUnavailable)
	}
	tokenQuote, err := e.prices.TokenUSDPrice(token)
	if err != nil {
		return 0, 0, err
	}
	fiatQuote, err := e.prices.USDRate(fiat)
	if err != nil {
		return 0, 0, err
	}
	denominator, err := safemath.Mul(e.tokenUnit(token), pricing.Scale)
	if err != nil {
		return 0, 0, err
	}
	valueUSD, err := safemath.MulDiv(amount, tokenQuote.Rate, denominator)
	if err != nil {
		return 0, 0, err
	}
	market, err := safemath.MulDiv(tokenQuote.Rate, fiatQuote.Rate, pricing.Scale)
	if err != nil {
		return 0, 0, err
	}
	locked, err := safemath.MulDiv(market, uint64(rateBps), safemath.BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	return valueUSD, locked, nil
}

// Accept moves a request to RequestAccepted. The seller may attach a contact
// blob.
func (e *Engine) Accept(id uint64, caller [20]byte, contact string) (*Trade, error) {
	e.screen("contact", caller, id, contact)
	return e.step("accept", id, func(o *op, t *Trade, esc *Escrow) error {
		if err := checkLength("contact", contact, MaxContactLength); err != nil {
			return err
		}
		if _, err := e.transition(o, t, caller, StateRequestAccepted); err != nil {
			return err
		}
		if strings.TrimSpace(contact) != "" {
			t.SellerContact = contact
		}
		if err := e.recordStat(o, t, caller, reputation.StatAccepted); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}

// MarkFiatDeposited records the buyer's off-ledger payment.
func (e *Engine) MarkFiatDeposited(id uint64, caller [20]byte) (*Trade, error) {
	return e.step("fiat_deposited", id, func(o *op, t *Trade, esc *Escrow) error {
		if _, err := e.transition(o, t, caller, StateFiatDeposited); err != nil {
			return err
		}
		if esc.State != EscrowFunded {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		esc.State = EscrowFiatReceived
		return e.save(o, t, esc, caller)
	})
}

// Cancel withdraws a trade. Before funding the trade ends in RequestCanceled;
// after funding the buyer moves it to EscrowCanceled so the seller can refund
// at once.
func (e *Engine) Cancel(id uint64, caller [20]byte) (*Trade, error) {
	return e.step("cancel", id, func(o *op, t *Trade, esc *Escrow) error {
		next := StateRequestCanceled
		if t.State == StateEscrowFunded {
			next = StateEscrowCanceled
		}
		if _, err := e.transition(o, t, caller, next); err != nil {
			return err
		}
		if next == StateRequestCanceled {
			if err := e.recordBoth(o, t, reputation.StatCanceled); err != nil {
				return err
			}
		}
		return e.save(o, t, esc, caller)
	})
}

// Expire ends an unfunded request whose expiry has passed. System only.
func (e *Engine) Expire(id uint64, caller [20]byte) (*Trade, error) {
	return e.step("expire", id, func(o *op, t *Trade, esc *Escrow) error {
		if _, err := e.transition(o, t, caller, StateRequestExpired); err != nil {
			return err
		}
		if err := e.recordBoth(o, t, reputation.StatExpired); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}

// Close deletes a terminal trade once the close grace period has elapsed
// since its last transition.
func (e *Engine) Close(id uint64, caller [20]byte) error {
	return e.run("close", func(o *op) error {
		t, err := GetTrade(o.tx, id)
		if err != nil {
			return err
		}
		if _, err := authz.RequireRole(t.Parties(e.system), caller, authz.RoleBuyer, authz.RoleSeller); err != nil {
			return err
		}
		if !t.State.IsTerminal() {
			return fmt.Errorf("%w: trade %d is %s", coreerrors.ErrTradeNotTerminal, id, t.State)
		}
		grace := e.hub.Timers().CloseGraceSecs
		if o.now < t.LastTransitionAt()+grace {
			return fmt.Errorf("%w: trade %d closable from %d", coreerrors.ErrClosePeriodNotElapsed, id, t.LastTransitionAt()+grace)
		}
		if err := deleteTrade(o.tx, t); err != nil {
			return err
		}
		if err := unindexOpen(o.tx, id); err != nil {
			return err
		}
		o.buf.Emit(tradeEvent(EventTypeTradeClosed, t, caller))
		return nil
	})
}

// step loads a trade and its escrow, runs fn and returns the updated trade.
func (e *Engine) step(action string, id uint64, fn func(o *op, t *Trade, esc *Escrow) error) (*Trade, error) {
	var updated *Trade
	err := e.run(action, func(o *op) error {
		t, esc, err := e.load(o, id)
		if err != nil {
			return err
		}
		if err := fn(o, t, esc); err != nil {
			return err
		}
		updated = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Trade returns the committed trade with id.
func (e *Engine) Trade(id uint64) (*Trade, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	return GetTrade(e.store, id)
}

// Escrow returns the committed custody record of trade id.
func (e *Engine) Escrow(id uint64) (*Escrow, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	return GetEscrow(e.store, id)
}

// TradesOf lists the committed trades of party.
func (e *Engine) TradesOf(party [20]byte) ([]*Trade, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	return ListTrades(e.store, party)
}
