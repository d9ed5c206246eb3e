package arbitration

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	coreerrors "localmoney/core/errors"
	"localmoney/core/state"
)

// Selector assigns an arbitrator at trade creation.
type Selector interface {
	Select(store Store, req Request) ([20]byte, error)
}

// DefaultSelector always assigns the hub-designated arbitrator.
type DefaultSelector struct {
	Arbitrator [20]byte
}

func (d DefaultSelector) Select(_ Store, req Request) ([20]byte, error) {
	if d.Arbitrator == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("%w: no default arbitrator configured", coreerrors.ErrNoArbitratorAvailable)
	}
	if req.excludes(d.Arbitrator) {
		return [20]byte{}, fmt.Errorf("%w: default arbitrator is a trade party", coreerrors.ErrInvalidArbitratorAssign)
	}
	return d.Arbitrator, nil
}

// WeightedSelector picks from the active pool with probability proportional
// to Weight.
type WeightedSelector struct {
	Source RandomnessSource
}

func (w WeightedSelector) Select(store Store, req Request) ([20]byte, error) {
	if w.Source == nil {
		return [20]byte{}, errors.New("arbitration: randomness source required")
	}
	pool, err := Pool(store, req)
	if err != nil {
		return [20]byte{}, err
	}
	seed, err := w.Source.Seed(store, req)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", coreerrors.ErrCollaboratorUnavailable, err)
	}
	return Pick(pool, seed, req.TradeID).Address, nil
}

// Pick maps seed onto the cumulative weight distribution of pool.
func Pick(pool []*Arbitrator, seed []byte, tradeID uint64) *Arbitrator {
	if len(pool) == 0 {
		return nil
	}
	var total uint64
	for _, arb := range pool {
		total += Weight(arb)
	}
	digest := blake3.Sum256(append(append([]byte(nil), seed...), state.EncodeID(tradeID)...))
	target := binary.BigEndian.Uint64(digest[:8]) % total
	for _, arb := range pool {
		weight := Weight(arb)
		if target < weight {
			return arb
		}
		target -= weight
	}
	return pool[len(pool)-1]
}
