package config

import (
	"fmt"
	"strings"
	"time"

	"localmoney/core/pricing"
	"localmoney/crypto"
	"localmoney/native/fees"
	"localmoney/native/hub"
)

// Module names understood by Pauses.IsPaused.
const (
	ModuleTrade  = "trade"
	ModuleOffers = "offers"
)

// IsPaused reports whether module is paused. It satisfies common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case ModuleTrade:
		return p.Trade
	case ModuleOffers:
		return p.Offers
	default:
		return false
	}
}

func parseOptionalAddress(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

// Schedule returns the configured fee schedule.
func (f Fees) Schedule() fees.Schedule {
	return fees.Schedule{
		BurnBps:         f.BurnBps,
		ChainBps:        f.ChainBps,
		WarchestBps:     f.WarchestBps,
		ArbitrationBps:  f.ArbitrationBps,
		SettlementToken: strings.TrimSpace(f.SettlementToken),
	}
}

// Calculator returns the fee calculator selected by Method.
func (f Fees) Calculator() (fees.Calculator, error) {
	method, err := fees.ParseMethod(f.Method)
	if err != nil {
		return nil, err
	}
	return fees.New(method)
}

// HubSettings assembles the runtime settings served to the trade engine.
func (c *Config) HubSettings() (hub.Settings, error) {
	chain, err := parseOptionalAddress("fees.ChainCollector", c.Fees.ChainCollector)
	if err != nil {
		return hub.Settings{}, err
	}
	warchest, err := parseOptionalAddress("fees.WarchestCollector", c.Fees.WarchestCollector)
	if err != nil {
		return hub.Settings{}, err
	}
	settings := hub.Settings{
		Fees:   c.Fees.Schedule(),
		Limits: hub.TradeLimits{MinUSD: c.Limits.MinUSD, MaxUSD: c.Limits.MaxUSD},
		Timers: hub.Timers{
			ExpirationSecs: c.Timers.ExpirationSecs,
			DisputeSecs:    c.Timers.DisputeSecs,
			CloseGraceSecs: c.Timers.CloseGraceSecs,
		},
		Collectors: hub.Collectors{Chain: chain, Warchest: warchest},
	}
	if err := settings.Validate(); err != nil {
		return hub.Settings{}, err
	}
	return settings, nil
}

// PriceGuard returns the guard rails of the price book.
func (c *Config) PriceGuard() pricing.Guard {
	return pricing.Guard{
		MaxAgeSeconds:   c.Prices.MaxAgeSeconds,
		MaxDeviationBps: c.Prices.MaxDeviationBps,
		Window:          c.Prices.Window,
	}
}

// DefaultArbitrator parses the hub-designated arbitrator, if any.
func (c *Config) DefaultArbitrator() ([20]byte, error) {
	return parseOptionalAddress("arbitration.DefaultArbitrator", c.Arbitration.DefaultArbitrator)
}

// System parses SystemAddress. An empty value returns the zero address and
// callers fall back to the operator key's address.
func (c *Config) System() ([20]byte, error) {
	return parseOptionalAddress("SystemAddress", c.SystemAddress)
}

// CapabilityTTL is the lifetime of internal capability tokens.
func (c *Config) CapabilityTTL() time.Duration {
	if c.Auth.CapabilityTTL <= 0 {
		return time.Minute
	}
	return time.Duration(c.Auth.CapabilityTTL) * time.Second
}

// SweepInterval is the sweeper period; zero disables it.
func (c *Config) SweepInterval() time.Duration {
	if c.Timers.SweepIntervalSecs <= 0 {
		return 0
	}
	return time.Duration(c.Timers.SweepIntervalSecs) * time.Second
}

// TokenDecimals returns the per-token decimal overrides keyed by symbol.
func (c *Config) TokenDecimals() map[string]uint8 {
	out := make(map[string]uint8, len(c.Tokens))
	for _, token := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			continue
		}
		out[symbol] = token.Decimals
	}
	return out
}
