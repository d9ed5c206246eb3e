// Package hub exposes the protocol-wide configuration read by the trade
// engine: fee schedule, trade limits, timers and fee collectors.
package hub

import (
	"fmt"
	"sync"

	"localmoney/native/fees"
)

// TradeLimits bound the USD value of a single trade, in whole dollars.
type TradeLimits struct {
	MinUSD uint64
	MaxUSD uint64
}

// Timers are expressed in seconds.
type Timers struct {
	ExpirationSecs int64
	DisputeSecs    int64
	CloseGraceSecs int64
}

// Collectors receive the chain and warchest fee components.
type Collectors struct {
	Chain    [20]byte
	Warchest [20]byte
}

// ConfigProvider is read at trade creation and escrow funding only; values
// captured at funding are never re-read for that trade.
type ConfigProvider interface {
	FeeSchedule() fees.Schedule
	TradeLimits() TradeLimits
	Timers() Timers
	Collectors() Collectors
}

// Settings is a snapshot of every hub value.
type Settings struct {
	Fees       fees.Schedule
	Limits     TradeLimits
	Timers     Timers
	Collectors Collectors
}

// DefaultSettings returns the production defaults: 1%/0.5%/0.5% fees, a two
// day request expiry and a 24 hour dispute window.
func DefaultSettings() Settings {
	return Settings{
		Fees:   fees.DefaultSchedule(),
		Limits: TradeLimits{MinUSD: 1, MaxUSD: 100_000},
		Timers: Timers{ExpirationSecs: 2 * 86_400, DisputeSecs: 86_400, CloseGraceSecs: 7 * 86_400},
	}
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if err := s.Fees.Validate(); err != nil {
		return err
	}
	if s.Limits.MinUSD > s.Limits.MaxUSD {
		return fmt.Errorf("hub: min usd %d exceeds max usd %d", s.Limits.MinUSD, s.Limits.MaxUSD)
	}
	if s.Timers.ExpirationSecs <= 0 || s.Timers.DisputeSecs <= 0 {
		return fmt.Errorf("hub: timers must be positive")
	}
	if s.Timers.DisputeSecs > s.Timers.ExpirationSecs {
		return fmt.Errorf("hub: dispute window %ds exceeds expiration %ds", s.Timers.DisputeSecs, s.Timers.ExpirationSecs)
	}
	if s.Timers.CloseGraceSecs < 0 {
		return fmt.Errorf("hub: close grace must not be negative")
	}
	return nil
}

// Static is an in-memory ConfigProvider. Update replaces the whole snapshot
// atomically.
type Static struct {
	mu       sync.RWMutex
	settings Settings
}

// NewStatic validates settings and returns a provider serving them.
func NewStatic(settings Settings) (*Static, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Static{settings: settings}, nil
}

// Update swaps in new settings.
func (s *Static) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

// Settings returns the current snapshot.
func (s *Static) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Static) FeeSchedule() fees.Schedule { return s.Settings().Fees }
func (s *Static) TradeLimits() TradeLimits   { return s.Settings().Limits }
func (s *Static) Timers() Timers             { return s.Settings().Timers }
func (s *Static) Collectors() Collectors     { return s.Settings().Collectors }
