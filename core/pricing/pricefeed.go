package pricing

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	coreerrors "localmoney/core/errors"
	"localmoney/core/types"
	"localmoney/native/common"
)

// Scale is the fixed-point denominator of every rate: 1.0 == 1_000_000.
const Scale uint64 = 1_000_000

// PriceStatus captures the health classification assigned to a quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals the quote exceeded the configured freshness window.
	PriceStatusStale PriceStatus = "stale"
	// PriceStatusDeviant indicates the quote deviated from the recent average.
	PriceStatusDeviant PriceStatus = "deviant"
)

// Observation is a single submitted rate.
type Observation struct {
	Rate       uint64
	ObservedAt int64
}

// Quote is a guarded rate resolved at a given instant.
type Quote struct {
	Rate       uint64
	ObservedAt int64
	AgeSeconds uint32
	Status     PriceStatus
}

// Guard holds the freshness and deviation guardrails.
type Guard struct {
	MaxAgeSeconds   uint32
	MaxDeviationBps uint32
	// Window is the number of recent observations averaged for the deviation
	// check.
	Window int
}

const defaultWindow = 8

// PriceFeed is the price collaborator consumed at trade creation.
type PriceFeed interface {
	// USDRate returns fiat units per USD.
	USDRate(fiat types.FiatCurrency) (Quote, error)
	// TokenUSDPrice returns USD per whole token.
	TokenUSDPrice(token string) (Quote, error)
}

// Book is an in-process PriceFeed fed by operator price updates.
type Book struct {
	mu     sync.RWMutex
	guard  Guard
	fiat   map[types.FiatCurrency]*common.HistoryLog[Observation]
	tokens map[string]*common.HistoryLog[Observation]
	nowFn  func() time.Time
}

// NewBook returns an empty book enforcing guard.
func NewBook(guard Guard) *Book {
	if guard.Window <= 0 {
		guard.Window = defaultWindow
	}
	return &Book{
		guard:  guard,
		fiat:   make(map[types.FiatCurrency]*common.HistoryLog[Observation]),
		tokens: make(map[string]*common.HistoryLog[Observation]),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock. Passing nil restores time.Now.
func (b *Book) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	b.nowFn = now
}

// SetFiatRate records fiat units per USD.
func (b *Book) SetFiatRate(fiat types.FiatCurrency, rate uint64, observedAt int64) error {
	if !fiat.Valid() {
		return fmt.Errorf("%w: %q", coreerrors.ErrInvalidFiatCurrency, fiat)
	}
	if rate == 0 {
		return fmt.Errorf("pricing: zero rate for %s", fiat)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.fiat[fiat]
	if !ok {
		log = common.NewHistoryLog[Observation](b.guard.Window)
		b.fiat[fiat] = log
	}
	log.Push(Observation{Rate: rate, ObservedAt: observedAt})
	return nil
}

// SetTokenPrice records USD per whole token.
func (b *Book) SetTokenPrice(token string, price uint64, observedAt int64) error {
	token = types.NormalizeToken(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", coreerrors.ErrInvalidToken)
	}
	if price == 0 {
		return fmt.Errorf("pricing: zero price for %s", token)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.tokens[token]
	if !ok {
		log = common.NewHistoryLog[Observation](b.guard.Window)
		b.tokens[token] = log
	}
	log.Push(Observation{Rate: price, ObservedAt: observedAt})
	return nil
}

// USDRate implements PriceFeed.
func (b *Book) USDRate(fiat types.FiatCurrency) (Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolve("fiat "+string(fiat), b.fiat[fiat])
}

// TokenUSDPrice implements PriceFeed.
func (b *Book) TokenUSDPrice(token string) (Quote, error) {
	token = types.NormalizeToken(token)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolve("token "+token, b.tokens[token])
}

// Inspect returns the guarded quote without converting an unhealthy status into
// an error.
func (b *Book) Inspect(fiat types.FiatCurrency) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	log := b.fiat[fiat]
	if log == nil || log.Len() == 0 {
		return Quote{}, false
	}
	return b.classify(log), true
}

// resolve expects b.mu to be held.
func (b *Book) resolve(label string, log *common.HistoryLog[Observation]) (Quote, error) {
	if log == nil || log.Len() == 0 {
		return Quote{}, fmt.Errorf("%w: no %s price", coreerrors.ErrPriceUnavailable, label)
	}
	quote := b.classify(log)
	if quote.Status != PriceStatusOK {
		return quote, fmt.Errorf("%w: %s price is %s", coreerrors.ErrPriceUnavailable, label, quote.Status)
	}
	return quote, nil
}

func (b *Book) classify(log *common.HistoryLog[Observation]) Quote {
	latest, _ := log.Last()
	now := b.nowFn().UTC()
	quote := Quote{Rate: latest.Rate, ObservedAt: latest.ObservedAt, Status: PriceStatusOK}
	quote.AgeSeconds = computeAgeSeconds(time.Unix(latest.ObservedAt, 0), now)
	if b.guard.MaxAgeSeconds > 0 && (latest.ObservedAt == 0 || quote.AgeSeconds > b.guard.MaxAgeSeconds) {
		quote.Status = PriceStatusStale
		return quote
	}
	if b.guard.MaxDeviationBps > 0 && log.Len() > 1 {
		if deviatesBeyondThreshold(latest.Rate, average(log), b.guard.MaxDeviationBps) {
			quote.Status = PriceStatusDeviant
		}
	}
	return quote
}

func average(log *common.HistoryLog[Observation]) *big.Rat {
	sum := new(big.Int)
	log.Each(func(o Observation) bool {
		sum.Add(sum, new(big.Int).SetUint64(o.Rate))
		return true
	})
	return new(big.Rat).SetFrac(sum, big.NewInt(int64(log.Len())))
}

func computeAgeSeconds(observed, now time.Time) uint32 {
	if observed.IsZero() || now.IsZero() {
		return math.MaxUint32
	}
	observed = observed.UTC()
	now = now.UTC()
	if observed.After(now) {
		return 0
	}
	seconds := now.Sub(observed) / time.Second
	if seconds < 0 {
		return 0
	}
	if seconds > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(seconds)
}

func deviatesBeyondThreshold(spot uint64, average *big.Rat, thresholdBps uint32) bool {
	if average == nil || average.Sign() <= 0 {
		return false
	}
	diff := new(big.Rat).Sub(new(big.Rat).SetInt(new(big.Int).SetUint64(spot)), average)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	if diff.Sign() == 0 {
		return false
	}
	ratio := new(big.Rat).Quo(diff, average)
	ratio.Mul(ratio, big.NewRat(10000, 1))
	threshold := big.NewRat(int64(thresholdBps), 1)
	return ratio.Cmp(threshold) == 1
}
