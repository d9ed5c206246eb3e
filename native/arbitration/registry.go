package arbitration

import (
	"errors"
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/core/types"
)

var (
	arbitratorPrefix = []byte("arbitration/arbitrator/")
	poolPrefix       = []byte("arbitration/pool/")

	// ErrArbitratorNotFound marks unknown arbitrator addresses.
	ErrArbitratorNotFound = errors.New("arbitration: arbitrator not found")
)

// Store is the subset of state functionality the registry and the randomness
// sources need.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Reader is the read-only part of Store.
type Reader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
}

func arbitratorKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", arbitratorPrefix, addr))
}

func poolKey(fiat types.FiatCurrency) []byte {
	return append(append([]byte(nil), poolPrefix...), string(fiat)...)
}

// Register stores or replaces an arbitrator and indexes it under every fiat
// it serves. Resolved-case history survives re-registration.
func Register(store Store, arb Arbitrator, now int64) (*Arbitrator, error) {
	if err := arb.Validate(); err != nil {
		return nil, err
	}
	existing, err := Get(store, arb.Address)
	switch {
	case err == nil:
		arb.ResolvedCases = existing.ResolvedCases
		arb.RegisteredAt = existing.RegisteredAt
	case errors.Is(err, ErrArbitratorNotFound):
		arb.RegisteredAt = uint64(now)
	default:
		return nil, err
	}
	if err := store.KVPut(arbitratorKey(arb.Address), &arb); err != nil {
		return nil, err
	}
	for _, fiat := range arb.Fiats {
		if err := store.KVAppend(poolKey(fiat), arb.Address[:]); err != nil {
			return nil, err
		}
	}
	return &arb, nil
}

// Get loads an arbitrator.
func Get(store Reader, addr [20]byte) (*Arbitrator, error) {
	arb := new(Arbitrator)
	ok, err := store.KVGet(arbitratorKey(addr), arb)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrArbitratorNotFound, addr)
	}
	return arb, nil
}

// SetActive toggles whether the arbitrator takes new trades.
func SetActive(store Store, addr [20]byte, active bool) (*Arbitrator, error) {
	arb, err := Get(store, addr)
	if err != nil {
		return nil, err
	}
	arb.Active = active
	if err := store.KVPut(arbitratorKey(addr), arb); err != nil {
		return nil, err
	}
	return arb, nil
}

// RecordResolution increments the arbitrator's resolved-case counter.
// Unregistered arbitrators, such as a configured default, are ignored.
func RecordResolution(store Store, addr [20]byte) error {
	arb, err := Get(store, addr)
	if errors.Is(err, ErrArbitratorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	arb.ResolvedCases++
	return store.KVPut(arbitratorKey(addr), arb)
}

// Pool returns the active arbitrators serving fiat, excluding the trade's
// parties, in registration order.
func Pool(store Reader, req Request) ([]*Arbitrator, error) {
	var addrs [][]byte
	if err := store.KVGetList(poolKey(req.Fiat), &addrs); err != nil {
		return nil, err
	}
	pool := make([]*Arbitrator, 0, len(addrs))
	for _, raw := range addrs {
		if len(raw) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], raw)
		if req.excludes(addr) {
			continue
		}
		arb, err := Get(store, addr)
		if err != nil {
			return nil, err
		}
		if !arb.Active || !arb.Serves(req.Fiat) {
			continue
		}
		pool = append(pool, arb)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNoArbitratorAvailable, req.Fiat)
	}
	return pool, nil
}
