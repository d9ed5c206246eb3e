package fees

import (
	"localmoney/native/safemath"
)

const (
	DefaultMakerBps      uint32 = 15
	DefaultTakerBps      uint32 = 25
	DefaultTierStepBps   uint32 = 5
	DefaultConversionBps uint32 = 10
	DefaultSlippageBps   uint32 = 50

	// MaxVolumeTier is the highest discount tier.
	MaxVolumeTier uint8 = 4
)

// volumeTierThresholds are the USD volume floors of tiers 1 through 4.
var volumeTierThresholds = [...]uint64{10_000, 50_000, 250_000, 1_000_000}

// VolumeTier maps accumulated USD volume onto a discount tier in [0, 4].
func VolumeTier(volumeUSD uint64) uint8 {
	var tier uint8
	for _, floor := range volumeTierThresholds {
		if volumeUSD < floor {
			break
		}
		tier++
	}
	return tier
}

// DynamicCalculator charges a maker or taker base rate discounted by volume
// tier and splits the result 50/25/25 across burn, chain and warchest.
type DynamicCalculator struct {
	MakerBps      uint32
	TakerBps      uint32
	TierStepBps   uint32
	ConversionBps uint32
	SlippageBps   uint32
}

// NewDynamicCalculator returns a calculator with the default rates.
func NewDynamicCalculator() DynamicCalculator {
	return DynamicCalculator{
		MakerBps:      DefaultMakerBps,
		TakerBps:      DefaultTakerBps,
		TierStepBps:   DefaultTierStepBps,
		ConversionBps: DefaultConversionBps,
		SlippageBps:   DefaultSlippageBps,
	}
}

func (DynamicCalculator) Method() Method { return MethodDynamic }

// EffectiveBps returns the discounted base rate for the request's side and
// volume, saturating at zero.
func (c DynamicCalculator) EffectiveBps(side Side, volumeUSD uint64) uint32 {
	base := c.TakerBps
	if side == SideMaker {
		base = c.MakerBps
	}
	discount := uint32(VolumeTier(volumeUSD)) * c.TierStepBps
	if discount >= base {
		return 0
	}
	return base - discount
}

func (c DynamicCalculator) Compute(req Request) (FeeInfo, error) {
	info := FeeInfo{Original: req.Amount}
	total, err := safemath.Bps(req.Amount, c.EffectiveBps(req.Side, req.VolumeUSD))
	if err != nil {
		return FeeInfo{}, err
	}
	info.Chain = total / 4
	info.Warchest = total / 4
	// Burn absorbs the remainder of the split.
	info.Burn = total - info.Chain - info.Warchest
	if err := applyOptional(&info, req, c.ConversionBps, c.SlippageBps); err != nil {
		return FeeInfo{}, err
	}
	if err := info.Validate(); err != nil {
		return FeeInfo{}, err
	}
	return info, nil
}
