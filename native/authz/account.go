package authz

import (
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "localmoney/core/errors"
)

var accountDomain = []byte("localmoney/account")

// AccountHandle is a caller-supplied payout or custody account together with
// the owner it claims to belong to.
type AccountHandle struct {
	Address [20]byte
	Owner   [20]byte
	Asset   string
}

// DeriveAccount computes the canonical account of owner for asset.
func DeriveAccount(owner [20]byte, asset string) [20]byte {
	hash := ethcrypto.Keccak256(accountDomain, owner[:], []byte(strings.ToUpper(strings.TrimSpace(asset))))
	var out [20]byte
	copy(out[:], hash[len(hash)-20:])
	return out
}

// VaultOwner is the synthetic owner of a trade's custody account.
func VaultOwner(tradeID uint64) [20]byte {
	var owner [20]byte
	for i := 0; i < 8; i++ {
		owner[19-i] = byte(tradeID >> (8 * i))
	}
	owner[0] = 0xe5
	return owner
}

// DeriveVault computes the custody account that holds a trade's escrow.
func DeriveVault(tradeID uint64, asset string) [20]byte {
	return DeriveAccount(VaultOwner(tradeID), asset)
}

// VerifyAccount recomputes the derivation of handle and fails closed when the
// claimed owner or address does not match the expected owner.
func VerifyAccount(handle AccountHandle, expectedOwner [20]byte) error {
	if handle.Owner != expectedOwner {
		return fmt.Errorf("%w: claimed owner %x, expected %x", coreerrors.ErrInvalidAccountOwner, handle.Owner, expectedOwner)
	}
	if handle.Address != DeriveAccount(expectedOwner, handle.Asset) {
		return fmt.Errorf("%w: %x is not the %s account of %x", coreerrors.ErrInvalidTokenAccount, handle.Address, strings.ToUpper(handle.Asset), expectedOwner)
	}
	return nil
}
