package reputation

import (
	"errors"
	"fmt"

	"localmoney/native/safemath"
)

// StatKind enumerates the trade milestones counted on a profile.
type StatKind uint8

const (
	StatRequested StatKind = iota + 1
	StatAccepted
	StatReleased
	StatCanceled
	StatExpired
	StatRefunded
	StatDisputed
	StatSettledWon
	StatSettledLost
)

func (k StatKind) String() string {
	switch k {
	case StatRequested:
		return "requested"
	case StatAccepted:
		return "accepted"
	case StatReleased:
		return "released"
	case StatCanceled:
		return "canceled"
	case StatExpired:
		return "expired"
	case StatRefunded:
		return "refunded"
	case StatDisputed:
		return "disputed"
	case StatSettledWon:
		return "settled_won"
	case StatSettledLost:
		return "settled_lost"
	default:
		return "unknown"
	}
}

// StatEvent is a single milestone reported by the trade engine.
type StatEvent struct {
	Kind      StatKind
	TradeID   uint64
	VolumeUSD uint64
	Timestamp int64
}

// Validate ensures the event payload is well formed.
func (e StatEvent) Validate() error {
	if e.Kind < StatRequested || e.Kind > StatSettledLost {
		return fmt.Errorf("reputation: unknown stat kind %d", e.Kind)
	}
	if e.TradeID == 0 {
		return errors.New("reputation: trade id required")
	}
	if e.Timestamp <= 0 {
		return errors.New("reputation: timestamp must be positive")
	}
	return nil
}

// TradeStats are the running counters of a profile. Active counts trades that
// have been requested or accepted but not yet finished.
type TradeStats struct {
	Requested   uint64
	Accepted    uint64
	Released    uint64
	Canceled    uint64
	Expired     uint64
	Refunded    uint64
	Disputed    uint64
	SettledWon  uint64
	SettledLost uint64
	Active      uint64
	VolumeUSD   uint64
	LastTradeAt uint64
}

// Apply folds event into the counters.
func (s *TradeStats) Apply(event StatEvent) error {
	var err error
	switch event.Kind {
	case StatRequested:
		s.Requested++
		s.Active++
	case StatAccepted:
		s.Accepted++
	case StatReleased:
		s.Released++
		s.Active = safemath.SaturatingSub(s.Active, 1)
		if s.VolumeUSD, err = safemath.Add(s.VolumeUSD, event.VolumeUSD); err != nil {
			return err
		}
	case StatCanceled:
		s.Canceled++
		s.Active = safemath.SaturatingSub(s.Active, 1)
	case StatExpired:
		s.Expired++
		s.Active = safemath.SaturatingSub(s.Active, 1)
	case StatRefunded:
		s.Refunded++
		s.Active = safemath.SaturatingSub(s.Active, 1)
	case StatDisputed:
		s.Disputed++
	case StatSettledWon:
		s.SettledWon++
		s.Active = safemath.SaturatingSub(s.Active, 1)
	case StatSettledLost:
		s.SettledLost++
		s.Active = safemath.SaturatingSub(s.Active, 1)
	default:
		return fmt.Errorf("reputation: unknown stat kind %d", event.Kind)
	}
	if event.Timestamp > 0 {
		s.LastTradeAt = uint64(event.Timestamp)
	}
	return nil
}
