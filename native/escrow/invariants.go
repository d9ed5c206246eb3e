package escrow

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/native/authz"
)

type balanceReader interface {
	Balance(addr [20]byte, token string) (uint64, error)
}

func violation(id uint64, format string, args ...interface{}) error {
	return fmt.Errorf("%w: trade %d: %s", coreerrors.ErrInvariantViolation, id, fmt.Sprintf(format, args...))
}

// checkInvariants verifies the trade and its escrow after every transition.
// Any violation aborts the surrounding unit of work.
func checkInvariants(ledger balanceReader, t *Trade, esc *Escrow) error {
	if t == nil || esc == nil {
		return fmt.Errorf("%w: missing record", coreerrors.ErrInvariantViolation)
	}
	if t.ID == 0 || esc.TradeID != t.ID {
		return violation(t.ID, "escrow keyed %d", esc.TradeID)
	}
	if !t.State.Valid() {
		return violation(t.ID, "unknown state %d", t.State)
	}
	if err := authz.Distinct(t.Buyer, t.Seller, t.Arbitrator); err != nil {
		return violation(t.ID, "parties not distinct: %v", err)
	}
	if t.Maker != authz.RoleBuyer && t.Maker != authz.RoleSeller {
		return violation(t.ID, "maker role %s", t.Maker)
	}
	if t.Amount == 0 || esc.Amount != t.Amount || esc.Token != t.Token {
		return violation(t.ID, "escrow %d %s does not mirror trade %d %s", esc.Amount, esc.Token, t.Amount, t.Token)
	}
	if t.ExpiresAt <= t.CreatedAt {
		return violation(t.ID, "expires_at %d not after created_at %d", t.ExpiresAt, t.CreatedAt)
	}
	if (t.DisputeWindowAt != 0) != t.State.holdsDisputeWindow() {
		return violation(t.ID, "dispute window %d in state %s", t.DisputeWindowAt, t.State)
	}
	if t.DisputeWindowAt > t.ExpiresAt {
		return violation(t.ID, "dispute window %d after expiry %d", t.DisputeWindowAt, t.ExpiresAt)
	}
	if t.History.Len() > HistoryCapacity {
		return violation(t.ID, "history holds %d entries", t.History.Len())
	}
	if last, ok := t.History.Last(); !ok || last.State != t.State {
		return violation(t.ID, "history does not end in %s", t.State)
	}
	if len(t.BuyerContact) > MaxContactLength || len(t.SellerContact) > MaxContactLength {
		return violation(t.ID, "contact too long")
	}
	if len(t.DisputeReason) > MaxReasonLength || len(t.SettlementReason) > MaxReasonLength {
		return violation(t.ID, "reason too long")
	}
	if want := escrowStateFor(t); esc.State != want {
		return violation(t.ID, "escrow %s in trade state %s, want %s", esc.State, t.State, want)
	}
	if esc.Vault != authz.DeriveVault(t.ID, t.Token) {
		return violation(t.ID, "vault is not the derived custody account")
	}
	if esc.State != EscrowCreated && esc.TotalFees+esc.NetAmount != esc.Amount {
		return violation(t.ID, "fees %d plus net %d differ from amount %d", esc.TotalFees, esc.NetAmount, esc.Amount)
	}
	if esc.State.holdsFunds() && ledger != nil {
		held, err := ledger.Balance(esc.Vault, esc.Token)
		if err != nil {
			return err
		}
		if held < esc.Amount {
			return violation(t.ID, "vault holds %d of %d", held, esc.Amount)
		}
	}
	return nil
}
