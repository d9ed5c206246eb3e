package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "localmoney/core/errors"
	"localmoney/core/types"
)

func TestBookFreshQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	book := NewBook(Guard{MaxAgeSeconds: 900, MaxDeviationBps: 500})
	book.SetNowFunc(func() time.Time { return now })

	require.NoError(t, book.SetFiatRate(types.FiatARS, 1_000*Scale, now.Add(-30*time.Second).Unix()))
	quote, err := book.USDRate(types.FiatARS)
	require.NoError(t, err)
	require.Equal(t, PriceStatusOK, quote.Status)
	require.Equal(t, uint32(30), quote.AgeSeconds)
	require.Equal(t, 1_000*Scale, quote.Rate)
}

func TestBookMissingAndStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	book := NewBook(Guard{MaxAgeSeconds: 60})
	book.SetNowFunc(func() time.Time { return now })

	_, err := book.TokenUSDPrice("usdc")
	require.ErrorIs(t, err, coreerrors.ErrPriceUnavailable)
	require.True(t, coreerrors.IsRecoverable(err))

	require.NoError(t, book.SetTokenPrice("usdc", Scale, now.Add(-2*time.Minute).Unix()))
	quote, err := book.TokenUSDPrice("USDC")
	require.ErrorIs(t, err, coreerrors.ErrPriceUnavailable)
	require.Equal(t, PriceStatusStale, quote.Status)
}

func TestBookDeviation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	book := NewBook(Guard{MaxDeviationBps: 1_000, Window: 4})
	book.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		require.NoError(t, book.SetFiatRate(types.FiatBRL, 5*Scale, now.Unix()))
	}
	_, err := book.USDRate(types.FiatBRL)
	require.NoError(t, err)

	// 10 against an average of 6.25 deviates by 60%.
	require.NoError(t, book.SetFiatRate(types.FiatBRL, 10*Scale, now.Unix()))
	quote, err := book.USDRate(types.FiatBRL)
	require.ErrorIs(t, err, coreerrors.ErrPriceUnavailable)
	require.Equal(t, PriceStatusDeviant, quote.Status)

	inspected, ok := book.Inspect(types.FiatBRL)
	require.True(t, ok)
	require.Equal(t, PriceStatusDeviant, inspected.Status)
}

func TestBookRejectsInvalidInput(t *testing.T) {
	book := NewBook(Guard{})
	require.ErrorIs(t, book.SetFiatRate("XXX", Scale, 1), coreerrors.ErrInvalidFiatCurrency)
	require.Error(t, book.SetFiatRate(types.FiatUSD, 0, 1))
	require.ErrorIs(t, book.SetTokenPrice(" ", Scale, 1), coreerrors.ErrInvalidToken)
}
