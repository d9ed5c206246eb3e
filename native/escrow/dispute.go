package escrow

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/native/arbitration"
	"localmoney/native/reputation"
)

// Dispute escalates a funded trade to its arbitrator. Either party may open a
// dispute once the dispute window has opened.
func (e *Engine) Dispute(id uint64, caller [20]byte, reason string) (*Trade, error) {
	e.screen("dispute_reason", caller, id, reason)
	return e.step("dispute", id, func(o *op, t *Trade, esc *Escrow) error {
		if err := checkLength("dispute reason", reason, MaxReasonLength); err != nil {
			return err
		}
		if _, err := e.transition(o, t, caller, StateEscrowDisputed); err != nil {
			return err
		}
		if esc.State != EscrowFunded && esc.State != EscrowFiatReceived {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		if err := consumeQuota(o.tx, "dispute", caller, e.quotas.DisputePerDay, o.now); err != nil {
			return err
		}
		t.DisputeReason = reason
		t.DisputedBy = caller
		esc.State = EscrowDisputed
		if err := e.recordStat(o, t, caller, reputation.StatDisputed); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}

// Settle resolves a dispute for the maker or the taker. The winner receives
// the net amount; fees follow the frozen schedule plus the arbitration fee
// when one is configured.
func (e *Engine) Settle(id uint64, caller [20]byte, winner Winner, reason string) (*Trade, error) {
	return e.step("settle", id, func(o *op, t *Trade, esc *Escrow) error {
		if err := checkLength("settlement reason", reason, MaxReasonLength); err != nil {
			return err
		}
		var (
			next             TradeState
			recipient, loser [20]byte
		)
		switch winner {
		case WinnerMaker:
			next, recipient, loser = StateSettledForMaker, t.MakerAddress(), t.TakerAddress()
		case WinnerTaker:
			next, recipient, loser = StateSettledForTaker, t.TakerAddress(), t.MakerAddress()
		default:
			return fmt.Errorf("%w: %d", coreerrors.ErrInvalidSettlementWinner, winner)
		}
		if _, err := e.transition(o, t, caller, next); err != nil {
			return err
		}
		if esc.State != EscrowDisputed {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		info, err := e.computeFees(t, esc, recipient, true)
		if err != nil {
			return err
		}
		if err := e.payout(o, t, esc, recipient, info); err != nil {
			return err
		}
		t.SettlementReason = reason
		esc.State = escrowStateFor(t)
		if err := arbitration.RecordResolution(o.tx, t.Arbitrator); err != nil {
			return err
		}
		if err := e.recordStat(o, t, recipient, reputation.StatSettledWon); err != nil {
			return err
		}
		if err := e.recordStat(o, t, loser, reputation.StatSettledLost); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}
