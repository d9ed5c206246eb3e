package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountBalancesStaySorted(t *testing.T) {
	acc := &Account{}
	acc.SetBalance("usdc", 10)
	acc.SetBalance(" btc ", 3)
	acc.SetBalance("ETH", 5)
	require.Equal(t, []TokenBalance{{"BTC", 3}, {"ETH", 5}, {"USDC", 10}}, acc.Balances)
	require.Equal(t, uint64(10), acc.Balance("USDC"))

	acc.SetBalance("eth", 0)
	require.Equal(t, []TokenBalance{{"BTC", 3}, {"USDC", 10}}, acc.Balances)
	require.Zero(t, acc.Balance("ETH"))

	clone := acc.Clone()
	clone.SetBalance("BTC", 99)
	require.Equal(t, uint64(3), acc.Balance("btc"))
}
