package state

import (
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/core/types"
	"localmoney/native/safemath"
)

var accountPrefix = []byte("account/")

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

// GetAccount loads the ledger record of addr. Unknown addresses yield an empty
// account.
func (s kvStore) GetAccount(addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	ok, err := s.KVGet(accountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{}, nil
	}
	return account, nil
}

// PutAccount stores the ledger record of addr.
func (s kvStore) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		account = &types.Account{}
	}
	return s.KVPut(accountKey(addr), account)
}

// Balance returns the holding of token at addr.
func (s kvStore) Balance(addr [20]byte, token string) (uint64, error) {
	account, err := s.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return account.Balance(token), nil
}

// Credit adds amount of token to addr.
func (s kvStore) Credit(addr [20]byte, token string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	account, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	updated, err := safemath.Add(account.Balance(token), amount)
	if err != nil {
		return err
	}
	account.SetBalance(token, updated)
	return s.PutAccount(addr, account)
}

// Debit removes amount of token from addr, failing with ErrInsufficientFunds.
func (s kvStore) Debit(addr [20]byte, token string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	account, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	current := account.Balance(token)
	if current < amount {
		return fmt.Errorf("%w: %s balance %d below %d", coreerrors.ErrInsufficientFunds, types.NormalizeToken(token), current, amount)
	}
	account.SetBalance(token, current-amount)
	return s.PutAccount(addr, account)
}

// Transfer moves amount of token from one account to another.
func (s kvStore) Transfer(token string, from, to [20]byte, amount uint64) error {
	if from == to {
		return nil
	}
	if err := s.Debit(from, token, amount); err != nil {
		return err
	}
	return s.Credit(to, token, amount)
}

// Mint credits addr and grows the token supply.
func (s kvStore) Mint(addr [20]byte, token string, amount uint64) error {
	if _, err := s.AdjustTokenSupply(token, amount, true); err != nil {
		return err
	}
	return s.Credit(addr, token, amount)
}

// Burn debits addr and shrinks the token supply.
func (s kvStore) Burn(addr [20]byte, token string, amount uint64) error {
	if err := s.Debit(addr, token, amount); err != nil {
		return err
	}
	_, err := s.AdjustTokenSupply(token, amount, false)
	return err
}
