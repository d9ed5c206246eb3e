package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "localmoney/core/errors"
)

func TestStaticValidatesUpdates(t *testing.T) {
	provider, err := NewStatic(DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, uint32(100), provider.FeeSchedule().BurnBps)

	bad := DefaultSettings()
	bad.Fees.ChainBps = 2_000
	require.ErrorIs(t, provider.Update(bad), coreerrors.ErrExcessiveChainFee)
	require.Equal(t, uint32(50), provider.FeeSchedule().ChainBps)

	bad = DefaultSettings()
	bad.Timers.DisputeSecs = bad.Timers.ExpirationSecs + 1
	require.Error(t, provider.Update(bad))

	bad = DefaultSettings()
	bad.Limits = TradeLimits{MinUSD: 10, MaxUSD: 5}
	require.Error(t, provider.Update(bad))

	next := DefaultSettings()
	next.Fees.BurnBps = 200
	require.NoError(t, provider.Update(next))
	require.Equal(t, uint32(200), provider.FeeSchedule().BurnBps)
}
