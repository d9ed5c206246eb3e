package state

import (
	"fmt"

	"localmoney/core/types"
	"localmoney/native/safemath"
)

var tokenSupplyPrefix = []byte("token/supply/")

func tokenSupplyKey(symbol string) []byte {
	normalized := types.NormalizeToken(symbol)
	key := make([]byte, len(tokenSupplyPrefix)+len(normalized))
	copy(key, tokenSupplyPrefix)
	copy(key[len(tokenSupplyPrefix):], normalized)
	return key
}

// TokenSupply returns the persisted total supply for the provided token.
// Missing entries default to zero.
func (s kvStore) TokenSupply(symbol string) (uint64, error) {
	if types.NormalizeToken(symbol) == "" {
		return 0, fmt.Errorf("token symbol required")
	}
	var total uint64
	if _, err := s.KVGet(tokenSupplyKey(symbol), &total); err != nil {
		return 0, err
	}
	return total, nil
}

// AdjustTokenSupply grows or shrinks the stored total supply and returns the
// updated total.
func (s kvStore) AdjustTokenSupply(symbol string, delta uint64, increase bool) (uint64, error) {
	current, err := s.TokenSupply(symbol)
	if err != nil {
		return 0, err
	}
	var updated uint64
	if increase {
		updated, err = safemath.Add(current, delta)
	} else {
		updated, err = safemath.Sub(current, delta)
	}
	if err != nil {
		return 0, fmt.Errorf("token %s supply: %w", types.NormalizeToken(symbol), err)
	}
	if err := s.KVPut(tokenSupplyKey(symbol), updated); err != nil {
		return 0, err
	}
	return updated, nil
}
