package types

import (
	"sort"
	"strings"
)

// TokenBalance is the holding of a single asset.
type TokenBalance struct {
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

// Account is the ledger record of a participant. Balances are kept sorted by
// token so the encoded form is deterministic.
type Account struct {
	Nonce    uint64         `json:"nonce"`
	Balances []TokenBalance `json:"balances"`
}

// NormalizeToken canonicalises an asset identifier.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Balance returns the holding of token.
func (a *Account) Balance(token string) uint64 {
	if a == nil {
		return 0
	}
	token = NormalizeToken(token)
	for _, b := range a.Balances {
		if b.Token == token {
			return b.Amount
		}
	}
	return 0
}

// SetBalance overwrites the holding of token. Zero balances are pruned.
func (a *Account) SetBalance(token string, amount uint64) {
	token = NormalizeToken(token)
	idx := sort.Search(len(a.Balances), func(i int) bool { return a.Balances[i].Token >= token })
	if idx < len(a.Balances) && a.Balances[idx].Token == token {
		if amount == 0 {
			a.Balances = append(a.Balances[:idx], a.Balances[idx+1:]...)
			return
		}
		a.Balances[idx].Amount = amount
		return
	}
	if amount == 0 {
		return
	}
	a.Balances = append(a.Balances, TokenBalance{})
	copy(a.Balances[idx+1:], a.Balances[idx:])
	a.Balances[idx] = TokenBalance{Token: token, Amount: amount}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := &Account{Nonce: a.Nonce}
	clone.Balances = append([]TokenBalance(nil), a.Balances...)
	return clone
}
