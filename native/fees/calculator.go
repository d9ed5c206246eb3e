package fees

import (
	"fmt"
	"strings"

	"localmoney/native/safemath"
)

// Method selects the fee calculation strategy.
type Method string

const (
	MethodPercentage Method = "percentage"
	MethodDynamic    Method = "dynamic"
)

// ParseMethod canonicalises a configured method name. Empty selects the
// percentage calculator.
func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MethodPercentage:
		return MethodPercentage, nil
	case MethodDynamic:
		return MethodDynamic, nil
	default:
		return "", fmt.Errorf("fees: unknown calculation method %q", raw)
	}
}

// Side identifies whether the paying party owns the offer.
type Side uint8

const (
	SideTaker Side = iota
	SideMaker
)

// Request carries the inputs of a single fee computation.
type Request struct {
	Amount   uint64
	Schedule Schedule
	Side     Side
	// VolumeUSD is the payer's accumulated traded volume in whole USD.
	VolumeUSD uint64
	// RequiresConversion adds the conversion and slippage components.
	RequiresConversion bool
	// Settlement includes the arbitration component.
	Settlement bool
}

// Calculator computes the itemised fees for an escrow payout. Implementations
// must return FeeInfo values that pass Validate.
type Calculator interface {
	Method() Method
	Compute(req Request) (FeeInfo, error)
}

// New returns the calculator registered for method.
func New(method Method) (Calculator, error) {
	switch method {
	case MethodPercentage, "":
		return PercentageCalculator{}, nil
	case MethodDynamic:
		return NewDynamicCalculator(), nil
	default:
		return nil, fmt.Errorf("fees: unknown calculation method %q", method)
	}
}

// PercentageCalculator applies the schedule's basis points directly to the
// amount. Fractions are truncated so rounding dust stays in the net amount.
type PercentageCalculator struct{}

func (PercentageCalculator) Method() Method { return MethodPercentage }

func (PercentageCalculator) Compute(req Request) (FeeInfo, error) {
	info := FeeInfo{Original: req.Amount}
	var err error
	if info.Burn, err = safemath.Bps(req.Amount, req.Schedule.BurnBps); err != nil {
		return FeeInfo{}, err
	}
	if info.Chain, err = safemath.Bps(req.Amount, req.Schedule.ChainBps); err != nil {
		return FeeInfo{}, err
	}
	if info.Warchest, err = safemath.Bps(req.Amount, req.Schedule.WarchestBps); err != nil {
		return FeeInfo{}, err
	}
	if err := applyOptional(&info, req, DefaultConversionBps, DefaultSlippageBps); err != nil {
		return FeeInfo{}, err
	}
	if err := info.Validate(); err != nil {
		return FeeInfo{}, err
	}
	return info, nil
}

func applyOptional(info *FeeInfo, req Request, conversionBps, slippageBps uint32) error {
	var err error
	if req.Settlement && req.Schedule.ArbitrationBps > 0 {
		if info.Arbitration, err = safemath.Bps(req.Amount, req.Schedule.ArbitrationBps); err != nil {
			return err
		}
	}
	if req.RequiresConversion {
		if info.Conversion, err = safemath.Bps(req.Amount, conversionBps); err != nil {
			return err
		}
		if info.Slippage, err = safemath.Bps(req.Amount, slippageBps); err != nil {
			return err
		}
	}
	return nil
}
