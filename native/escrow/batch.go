package escrow

import (
	"fmt"

	coreerrors "localmoney/core/errors"
)

// BatchResult reports the outcome of a batch operation. Each item runs in its
// own unit of work, so one failure never rolls back another item.
type BatchResult struct {
	Succeeded []uint64
	Failed    []uint64
	Errors    map[uint64]error
}

func (r *BatchResult) record(id uint64, err error) {
	if err == nil {
		r.Succeeded = append(r.Succeeded, id)
		return
	}
	if r.Errors == nil {
		r.Errors = make(map[uint64]error)
	}
	r.Failed = append(r.Failed, id)
	r.Errors[id] = err
}

// CloseTrades closes each listed trade on behalf of caller.
func (e *Engine) CloseTrades(caller [20]byte, ids []uint64) BatchResult {
	var result BatchResult
	for _, id := range ids {
		result.record(id, e.Close(id, caller))
	}
	e.metrics.ObserveBatch("close", len(result.Succeeded), len(result.Failed))
	return result
}

// SweepExpired walks the open trades and, as the system actor, expires
// requests past their expiry, refunds funded escrows past their expiry and
// refunds escrows the buyer canceled. A positive limit caps the number of
// actions attempted.
func (e *Engine) SweepExpired(caller [20]byte, limit int) (BatchResult, error) {
	var result BatchResult
	if e == nil || e.store == nil {
		return result, errNilStore
	}
	if caller == ([20]byte{}) || caller != e.system {
		return result, fmt.Errorf("%w: sweep requires the system actor", coreerrors.ErrUnauthorized)
	}
	ids, err := OpenTradeIDs(e.store)
	if err != nil {
		return result, err
	}
	now := e.now()
	attempted := 0
	for _, id := range ids {
		if limit > 0 && attempted >= limit {
			break
		}
		t, err := GetTrade(e.store, id)
		if err != nil {
			result.record(id, err)
			attempted++
			continue
		}
		expired := now > t.ExpiresAt
		switch {
		case (t.State == StateRequestCreated || t.State == StateRequestAccepted) && expired:
			_, err = e.Expire(id, caller)
		case t.State == StateEscrowFunded && expired, t.State == StateEscrowCanceled:
			_, err = e.Refund(id, caller)
		default:
			continue
		}
		attempted++
		result.record(id, err)
	}
	e.metrics.ObserveBatch("sweep", len(result.Succeeded), len(result.Failed))
	if attempted > 0 {
		e.logger.Info("expired trades swept", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	}
	return result, nil
}
