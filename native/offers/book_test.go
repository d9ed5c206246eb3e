package offers

import (
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "localmoney/core/errors"
	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/storage"
)

func maker(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func sellOffer(owner [20]byte) Offer {
	return Offer{
		Owner:   owner,
		Type:    OfferTypeSell,
		Token:   "usdc",
		Fiat:    types.FiatARS,
		Min:     100,
		Max:     2_000_000,
		RateBps: 10_000,
	}
}

func TestBookCreateAndList(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	book := NewBook()
	book.SetNowFunc(func() int64 { return 1_700_000_000 })

	var created *Offer
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		var err error
		created, err = book.Create(tx, sellOffer(maker(1)))
		return err
	}))
	require.Equal(t, uint64(1), created.ID)
	require.Equal(t, "USDC", created.Token)
	require.Equal(t, OfferActive, created.State)

	loaded, err := RequireActive(mgr, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, loaded)
	require.NoError(t, loaded.Accepts(1_000_000))
	require.ErrorIs(t, loaded.Accepts(99), coreerrors.ErrInvalidAmountRange)
	require.ErrorIs(t, loaded.Accepts(2_000_001), coreerrors.ErrInvalidAmountRange)

	list, err := ListByOwner(mgr, maker(1))
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestBookStateChanges(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	book := NewBook()
	var created *Offer
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		var err error
		created, err = book.Create(tx, sellOffer(maker(1)))
		return err
	}))

	err := mgr.Atomic(func(tx *state.Tx) error {
		_, err := book.SetState(tx, created.ID, maker(2), OfferPaused)
		return err
	})
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := book.SetState(tx, created.ID, maker(1), OfferPaused)
		return err
	}))
	_, err = RequireActive(mgr, created.ID)
	require.ErrorIs(t, err, coreerrors.ErrOfferNotActive)

	_, err = RequireActive(mgr, 99)
	require.ErrorIs(t, err, coreerrors.ErrInvalidOffer)
}

func TestOfferValidate(t *testing.T) {
	offer := sellOffer(maker(1))
	offer.Min, offer.Max = 10, 5
	require.ErrorIs(t, offer.Validate(), coreerrors.ErrInvalidAmountRange)

	offer = sellOffer(maker(1))
	offer.Fiat = "XYZ"
	require.ErrorIs(t, offer.Validate(), coreerrors.ErrInvalidFiatCurrency)

	offer = sellOffer(maker(1))
	offer.Token = " "
	require.ErrorIs(t, offer.Validate(), coreerrors.ErrInvalidToken)

	_, err := ParseOfferType("swap")
	require.ErrorIs(t, err, coreerrors.ErrInvalidOffer)
}
