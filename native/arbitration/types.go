// Package arbitration keeps the arbitrator registry and assigns an arbitrator
// to every new trade.
package arbitration

import (
	"errors"
	"fmt"

	"localmoney/core/types"
)

// MaxReputationScore is the top of the reputation scale.
const MaxReputationScore uint32 = 10_000

// Arbitrator is a registered dispute resolver.
type Arbitrator struct {
	Address         [20]byte
	Fiats           []types.FiatCurrency
	ReputationScore uint32
	ResolvedCases   uint64
	Active          bool
	RegisteredAt    uint64
}

// Validate checks the static fields of a registration.
func (a *Arbitrator) Validate() error {
	if a == nil {
		return errors.New("arbitration: nil arbitrator")
	}
	if a.Address == ([20]byte{}) {
		return errors.New("arbitration: address required")
	}
	if len(a.Fiats) == 0 {
		return errors.New("arbitration: at least one fiat currency required")
	}
	for _, fiat := range a.Fiats {
		if !fiat.Valid() {
			return fmt.Errorf("arbitration: unsupported fiat %q", fiat)
		}
	}
	if a.ReputationScore > MaxReputationScore {
		return fmt.Errorf("arbitration: reputation score %d exceeds %d", a.ReputationScore, MaxReputationScore)
	}
	return nil
}

// Serves reports whether the arbitrator handles fiat.
func (a *Arbitrator) Serves(fiat types.FiatCurrency) bool {
	for _, f := range a.Fiats {
		if f == fiat {
			return true
		}
	}
	return false
}

// Weight is the selection weight: reputation contributes up to 1000, each
// resolved case 10 up to 100 cases, and being active 500. The floor is 1.
func Weight(a *Arbitrator) uint64 {
	if a == nil {
		return 1
	}
	weight := uint64(1000) * uint64(a.ReputationScore) / uint64(MaxReputationScore)
	resolved := a.ResolvedCases
	if resolved > 100 {
		resolved = 100
	}
	weight += resolved * 10
	if a.Active {
		weight += 500
	}
	if weight == 0 {
		return 1
	}
	return weight
}

// Request describes the trade an arbitrator is being chosen for.
type Request struct {
	TradeID uint64
	Buyer   [20]byte
	Seller  [20]byte
	Fiat    types.FiatCurrency
}

func (r Request) excludes(addr [20]byte) bool {
	return addr == r.Buyer || addr == r.Seller
}
