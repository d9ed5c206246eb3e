package escrow

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/core/events"
	"localmoney/core/types"
	"localmoney/native/authz"
	"localmoney/native/fees"
	"localmoney/native/reputation"
)

// Fund moves the seller's tokens into the trade vault. The fee schedule is
// captured from the hub here and never re-read for this trade.
func (e *Engine) Fund(id uint64, caller [20]byte, amount uint64) (*Trade, error) {
	return e.step("fund", id, func(o *op, t *Trade, esc *Escrow) error {
		if _, err := e.transition(o, t, caller, StateEscrowFunded); err != nil {
			return err
		}
		if esc.State != EscrowCreated {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		if amount != t.Amount {
			return fmt.Errorf("%w: funding %d, trade amount %d", coreerrors.ErrInvalidAmountRange, amount, t.Amount)
		}
		schedule := e.hub.FeeSchedule()
		if err := schedule.Validate(); err != nil {
			return err
		}
		stats, err := reputation.LoadStats(o.tx, t.Buyer)
		if err != nil {
			return err
		}
		esc.Fees = schedule
		esc.FeeVolumeUSD = stats.VolumeUSD
		info, err := e.computeFees(t, esc, t.Buyer, false)
		if err != nil {
			return err
		}
		if esc.TotalFees, err = info.Total(); err != nil {
			return err
		}
		esc.NetAmount = info.Net()
		if err := e.verifyVault(t, esc); err != nil {
			return err
		}
		if err := e.move(o, t.Token, t.Seller, esc.Vault, amount); err != nil {
			return err
		}
		esc.State = EscrowFunded
		esc.FundedAt = uint64(o.now)
		return e.save(o, t, esc, caller)
	})
}

// Release pays the buyer the net amount and routes the fees once the seller
// confirms the fiat payment.
func (e *Engine) Release(id uint64, caller [20]byte) (*Trade, error) {
	return e.step("release", id, func(o *op, t *Trade, esc *Escrow) error {
		if _, err := e.transition(o, t, caller, StateEscrowReleased); err != nil {
			return err
		}
		if esc.State != EscrowFiatReceived {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		info, err := e.computeFees(t, esc, t.Buyer, false)
		if err != nil {
			return err
		}
		if info.Net() != esc.NetAmount {
			return fmt.Errorf("%w: trade %d net %d differs from funded net %d", coreerrors.ErrInvariantViolation, t.ID, info.Net(), esc.NetAmount)
		}
		if err := e.payout(o, t, esc, t.Buyer, info); err != nil {
			return err
		}
		esc.State = EscrowReleased
		if err := e.recordBoth(o, t, reputation.StatReleased); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}

// Refund returns the full escrowed amount to the seller. No fee is charged.
func (e *Engine) Refund(id uint64, caller [20]byte) (*Trade, error) {
	return e.step("refund", id, func(o *op, t *Trade, esc *Escrow) error {
		if _, err := e.transition(o, t, caller, StateEscrowRefunded); err != nil {
			return err
		}
		if esc.State != EscrowFunded {
			return fmt.Errorf("%w: escrow %s", coreerrors.ErrInvalidTradeState, esc.State)
		}
		if err := e.verifyVault(t, esc); err != nil {
			return err
		}
		if err := e.move(o, t.Token, esc.Vault, t.Seller, esc.Amount); err != nil {
			return err
		}
		esc.State = EscrowRefunded
		if err := e.recordBoth(o, t, reputation.StatRefunded); err != nil {
			return err
		}
		return e.save(o, t, esc, caller)
	})
}

// computeFees prices a payout to recipient from the frozen schedule.
func (e *Engine) computeFees(t *Trade, esc *Escrow, recipient [20]byte, settlement bool) (fees.FeeInfo, error) {
	side := fees.SideTaker
	if recipient == t.MakerAddress() {
		side = fees.SideMaker
	}
	return e.calculator.Compute(fees.Request{
		Amount:             esc.Amount,
		Schedule:           esc.Fees,
		Side:               side,
		VolumeUSD:          esc.FeeVolumeUSD,
		RequiresConversion: requiresConversion(esc),
		Settlement:         settlement,
	})
}

func requiresConversion(esc *Escrow) bool {
	settle := types.NormalizeToken(esc.Fees.SettlementToken)
	return settle != "" && settle != types.NormalizeToken(esc.Token)
}

// verifyVault fails closed when the stored custody account is not the
// derivation for this trade.
func (e *Engine) verifyVault(t *Trade, esc *Escrow) error {
	owner := authz.VaultOwner(t.ID)
	return authz.VerifyAccount(authz.AccountHandle{Address: esc.Vault, Owner: owner, Asset: t.Token}, owner)
}

func (e *Engine) move(o *op, token string, from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.calls.Touch(authz.ResourceToken); err != nil {
		return err
	}
	if err := o.tx.Transfer(token, from, to, amount); err != nil {
		return err
	}
	o.buf.Emit(events.Transfer{Kind: events.TypeTransfer, Asset: token, From: from, To: to, Amount: amount})
	return nil
}

func (e *Engine) burn(o *op, token string, from [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.calls.Touch(authz.ResourceToken); err != nil {
		return err
	}
	if err := o.tx.Burn(from, token, amount); err != nil {
		return err
	}
	o.buf.Emit(events.Transfer{Kind: events.TypeBurn, Asset: token, From: from, Amount: amount})
	return nil
}

// payout drains the vault: net to recipient, burn destroyed, chain plus any
// conversion and slippage to the chain collector, warchest to its collector
// and the arbitration fee to the trade's arbitrator.
func (e *Engine) payout(o *op, t *Trade, esc *Escrow, recipient [20]byte, info fees.FeeInfo) error {
	if err := e.verifyVault(t, esc); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}
	collectors := e.hub.Collectors()
	chainShare := info.Chain + info.Conversion + info.Slippage
	if chainShare > 0 && collectors.Chain == ([20]byte{}) {
		return fmt.Errorf("%w: chain fee collector not configured", coreerrors.ErrInvalidAccount)
	}
	if info.Warchest > 0 && collectors.Warchest == ([20]byte{}) {
		return fmt.Errorf("%w: warchest collector not configured", coreerrors.ErrInvalidAccount)
	}
	if err := e.move(o, t.Token, esc.Vault, recipient, info.Net()); err != nil {
		return err
	}
	if err := e.burn(o, t.Token, esc.Vault, info.Burn); err != nil {
		return err
	}
	if err := e.move(o, t.Token, esc.Vault, collectors.Chain, chainShare); err != nil {
		return err
	}
	if err := e.move(o, t.Token, esc.Vault, collectors.Warchest, info.Warchest); err != nil {
		return err
	}
	if err := e.move(o, t.Token, esc.Vault, t.Arbitrator, info.Arbitration); err != nil {
		return err
	}
	dist := events.FeeDistribution{
		TradeID:           t.ID,
		Token:             t.Token,
		Gross:             info.Original,
		Net:               info.Net(),
		Burn:              info.Burn,
		Chain:             info.Chain,
		Warchest:          info.Warchest,
		Conversion:        info.Conversion,
		Slippage:          info.Slippage,
		Arbitration:       info.Arbitration,
		ChainCollector:    collectors.Chain,
		WarchestCollector: collectors.Warchest,
		Timestamp:         o.now,
	}
	if info.Arbitration > 0 {
		dist.Arbitrator = t.Arbitrator
	}
	o.buf.Emit(dist)
	o.fees = append(o.fees, dist)
	return nil
}
