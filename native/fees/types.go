package fees

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/native/safemath"
)

const (
	// MaxComponentBps caps any single configured fee component at 10%.
	MaxComponentBps uint32 = 1_000
	// MaxComponentDivisor bounds every computed component to Original/10.
	MaxComponentDivisor uint64 = 10
)

// Schedule is the protocol fee configuration captured into an escrow when it
// is funded. Values are basis points of the escrowed amount.
type Schedule struct {
	BurnBps        uint32
	ChainBps       uint32
	WarchestBps    uint32
	ArbitrationBps uint32
	// SettlementToken is the asset fees are collected in. Empty means the
	// trade's own token, so no conversion is needed.
	SettlementToken string
}

// DefaultSchedule returns the production schedule: 1% burn, 0.5% chain and
// 0.5% warchest with no arbitration fee.
func DefaultSchedule() Schedule {
	return Schedule{BurnBps: 100, ChainBps: 50, WarchestBps: 50}
}

// TotalBps sums the configured components.
func (s Schedule) TotalBps() uint64 {
	return uint64(s.BurnBps) + uint64(s.ChainBps) + uint64(s.WarchestBps) + uint64(s.ArbitrationBps)
}

// Validate enforces the per-component ceiling and the aggregate ceiling.
func (s Schedule) Validate() error {
	checks := []struct {
		bps uint32
		err error
	}{
		{s.BurnBps, coreerrors.ErrExcessiveBurnFee},
		{s.ChainBps, coreerrors.ErrExcessiveChainFee},
		{s.WarchestBps, coreerrors.ErrExcessiveWarchestFee},
		{s.ArbitrationBps, coreerrors.ErrExcessiveArbitrationFee},
	}
	for _, check := range checks {
		if check.bps > MaxComponentBps {
			return fmt.Errorf("%w: %d bps exceeds %d", check.err, check.bps, MaxComponentBps)
		}
	}
	if s.TotalBps() > safemath.BpsDenominator {
		return fmt.Errorf("%w: schedule totals %d bps", coreerrors.ErrExcessiveFees, s.TotalBps())
	}
	return nil
}

// FeeInfo is the itemised fee obligation for a single escrow payout.
type FeeInfo struct {
	Original    uint64
	Burn        uint64
	Chain       uint64
	Warchest    uint64
	Conversion  uint64
	Slippage    uint64
	Arbitration uint64
}

// Total sums every component.
func (f FeeInfo) Total() (uint64, error) {
	return safemath.Sum(f.Burn, f.Chain, f.Warchest, f.Conversion, f.Slippage, f.Arbitration)
}

// Net returns Original minus Total, saturating at zero.
func (f FeeInfo) Net() uint64 {
	total, err := f.Total()
	if err != nil {
		return 0
	}
	return safemath.SaturatingSub(f.Original, total)
}

// Validate rejects fee sets whose total exceeds the original amount or whose
// individual components exceed a tenth of it.
func (f FeeInfo) Validate() error {
	total, err := f.Total()
	if err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrExcessiveFees, err)
	}
	if total > f.Original {
		return fmt.Errorf("%w: total %d exceeds amount %d", coreerrors.ErrExcessiveFees, total, f.Original)
	}
	ceiling := f.Original / MaxComponentDivisor
	components := []struct {
		value uint64
		err   error
	}{
		{f.Burn, coreerrors.ErrExcessiveBurnFee},
		{f.Chain, coreerrors.ErrExcessiveChainFee},
		{f.Warchest, coreerrors.ErrExcessiveWarchestFee},
		{f.Conversion, coreerrors.ErrExcessiveConversionFee},
		{f.Slippage, coreerrors.ErrExcessiveSlippageFee},
		{f.Arbitration, coreerrors.ErrExcessiveArbitrationFee},
	}
	for _, c := range components {
		if c.value > ceiling {
			return fmt.Errorf("%w: %d exceeds %d", c.err, c.value, ceiling)
		}
	}
	return nil
}
