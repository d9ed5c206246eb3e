package reputation

import (
	"errors"
	"fmt"
)

// Store abstracts the subset of state manager functionality required by the
// profile ledger.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var statsPrefix = []byte("reputation/stats/")

func statsKey(profile [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", statsPrefix, profile))
}

var errStorageUnavailable = errors.New("reputation: storage unavailable")

// LoadStats returns the counters of profile, zero when none were recorded.
func LoadStats(store Store, profile [20]byte) (*TradeStats, error) {
	if store == nil {
		return nil, errStorageUnavailable
	}
	stats := new(TradeStats)
	if _, err := store.KVGet(statsKey(profile), stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func putStats(store Store, profile [20]byte, stats *TradeStats) error {
	if store == nil {
		return errStorageUnavailable
	}
	return store.KVPut(statsKey(profile), stats)
}
