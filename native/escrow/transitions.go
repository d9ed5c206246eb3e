package escrow

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/native/authz"
)

// timing names the clock condition a transition requires.
type timing uint8

const (
	timingNone timing = iota
	// timingNotExpired requires now <= expires_at.
	timingNotExpired
	// timingExpired requires now > expires_at.
	timingExpired
	// timingRefund requires now > expires_at or an open dispute window.
	timingRefund
	// timingDispute requires an open dispute window and now <= expires_at.
	timingDispute
	// timingDisputeWindow requires an open dispute window only.
	timingDisputeWindow
)

type rule struct {
	roles  []authz.Role
	timing timing
}

var (
	buyerOnly      = []authz.Role{authz.RoleBuyer}
	sellerOnly     = []authz.Role{authz.RoleSeller}
	eitherParty    = []authz.Role{authz.RoleBuyer, authz.RoleSeller}
	systemOnly     = []authz.Role{authz.RoleSystem}
	arbitratorOnly = []authz.Role{authz.RoleArbitrator}
)

var transitions = map[TradeState]map[TradeState]rule{
	StateRequestCreated: {
		StateRequestAccepted: {sellerOnly, timingNotExpired},
		StateRequestCanceled: {buyerOnly, timingNone},
		StateRequestExpired:  {systemOnly, timingExpired},
	},
	StateRequestAccepted: {
		StateEscrowFunded:    {sellerOnly, timingNotExpired},
		StateRequestCanceled: {eitherParty, timingNone},
		StateRequestExpired:  {systemOnly, timingExpired},
	},
	StateEscrowFunded: {
		StateFiatDeposited:  {buyerOnly, timingNotExpired},
		StateEscrowRefunded: {[]authz.Role{authz.RoleBuyer, authz.RoleSeller, authz.RoleSystem}, timingRefund},
		StateEscrowCanceled: {buyerOnly, timingNone},
		StateEscrowDisputed: {eitherParty, timingDispute},
	},
	StateEscrowCanceled: {
		StateEscrowRefunded: {[]authz.Role{authz.RoleSeller, authz.RoleSystem}, timingNone},
	},
	StateFiatDeposited: {
		StateEscrowReleased: {sellerOnly, timingNone},
		StateEscrowDisputed: {eitherParty, timingDisputeWindow},
	},
	StateEscrowDisputed: {
		StateSettledForMaker: {arbitratorOnly, timingNone},
		StateSettledForTaker: {arbitratorOnly, timingNone},
	},
}

// CanTransition reports whether the matrix contains from -> to.
func CanTransition(from, to TradeState) bool {
	_, ok := transitions[from][to]
	return ok
}

func lookupRule(from, to TradeState) (rule, error) {
	if from.IsTerminal() {
		return rule{}, fmt.Errorf("%w: %s is terminal", coreerrors.ErrInvalidStateTransition, from)
	}
	r, ok := transitions[from][to]
	if !ok {
		return rule{}, fmt.Errorf("%w: %s -> %s", coreerrors.ErrInvalidStateTransition, from, to)
	}
	return r, nil
}

func checkTiming(t *Trade, cond timing, now int64) error {
	expired := now > t.ExpiresAt
	switch cond {
	case timingNotExpired:
		if expired {
			return fmt.Errorf("%w: trade %d expired at %d", coreerrors.ErrTradeExpired, t.ID, t.ExpiresAt)
		}
	case timingExpired:
		if !expired {
			return fmt.Errorf("%w: trade %d expires at %d", coreerrors.ErrTradeNotExpired, t.ID, t.ExpiresAt)
		}
	case timingRefund:
		if expired {
			return nil
		}
		if t.DisputeWindowAt == 0 || now < t.DisputeWindowAt {
			return fmt.Errorf("%w: trade %d refundable from %d", coreerrors.ErrRefundTooEarly, t.ID, t.DisputeWindowAt)
		}
	case timingDispute:
		if expired {
			return fmt.Errorf("%w: trade %d expired at %d", coreerrors.ErrTradeExpired, t.ID, t.ExpiresAt)
		}
		return checkDisputeWindow(t, now)
	case timingDisputeWindow:
		return checkDisputeWindow(t, now)
	}
	return nil
}

func checkDisputeWindow(t *Trade, now int64) error {
	if t.DisputeWindowAt == 0 {
		return fmt.Errorf("%w: trade %d", coreerrors.ErrDisputeWindowNotOpen, t.ID)
	}
	if now < t.DisputeWindowAt {
		return fmt.Errorf("%w: trade %d disputable from %d", coreerrors.ErrPrematureDisputeRequest, t.ID, t.DisputeWindowAt)
	}
	return nil
}

// escrowStateFor maps a trade state to the custody state it implies.
func escrowStateFor(t *Trade) EscrowState {
	switch t.State {
	case StateEscrowFunded, StateEscrowCanceled:
		return EscrowFunded
	case StateFiatDeposited:
		return EscrowFiatReceived
	case StateEscrowReleased:
		return EscrowReleased
	case StateEscrowRefunded:
		return EscrowRefunded
	case StateEscrowDisputed:
		return EscrowDisputed
	case StateSettledForMaker:
		if t.Maker == authz.RoleBuyer {
			return EscrowSettledForBuyer
		}
		return EscrowSettledForSeller
	case StateSettledForTaker:
		if t.Maker == authz.RoleBuyer {
			return EscrowSettledForSeller
		}
		return EscrowSettledForBuyer
	default:
		return EscrowCreated
	}
}
