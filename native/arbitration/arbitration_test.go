package arbitration

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	coreerrors "localmoney/core/errors"
	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/storage"
)

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func register(t *testing.T, mgr *state.Manager, arbs ...Arbitrator) {
	t.Helper()
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		for _, arb := range arbs {
			if _, err := Register(tx, arb, 1_700_000_000); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestWeight(t *testing.T) {
	cases := []struct {
		name string
		arb  *Arbitrator
		want uint64
	}{
		{"top", &Arbitrator{ReputationScore: 10_000, ResolvedCases: 200, Active: true}, 2_500},
		{"capped cases", &Arbitrator{ReputationScore: 5_000, ResolvedCases: 100}, 1_500},
		{"fresh active", &Arbitrator{Active: true}, 500},
		{"floor", &Arbitrator{}, 1},
		{"nil", nil, 1},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, Weight(tc.arb), tc.name)
	}
}

func TestPoolFiltersPartiesAndInactive(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	register(t, mgr,
		Arbitrator{Address: addr(1), Fiats: []types.FiatCurrency{types.FiatARS}, Active: true},
		Arbitrator{Address: addr(2), Fiats: []types.FiatCurrency{types.FiatARS, types.FiatBRL}, Active: true},
		Arbitrator{Address: addr(3), Fiats: []types.FiatCurrency{types.FiatARS}, Active: false},
		Arbitrator{Address: addr(4), Fiats: []types.FiatCurrency{types.FiatBRL}, Active: true},
	)

	pool, err := Pool(mgr, Request{TradeID: 1, Buyer: addr(2), Seller: addr(9), Fiat: types.FiatARS})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.Equal(t, addr(1), pool[0].Address)

	_, err = Pool(mgr, Request{TradeID: 1, Buyer: addr(2), Seller: addr(4), Fiat: types.FiatBRL})
	require.ErrorIs(t, err, coreerrors.ErrNoArbitratorAvailable)

	_, err = Pool(mgr, Request{TradeID: 1, Fiat: types.FiatCOP})
	require.ErrorIs(t, err, coreerrors.ErrNoArbitratorAvailable)
}

func TestRegisterKeepsResolutionHistory(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	arb := Arbitrator{Address: addr(1), Fiats: []types.FiatCurrency{types.FiatARS}, ReputationScore: 100, Active: true}
	register(t, mgr, arb)
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		if err := RecordResolution(tx, addr(1)); err != nil {
			return err
		}
		return RecordResolution(tx, addr(7))
	}))

	arb.ReputationScore = 9_000
	register(t, mgr, arb)
	loaded, err := Get(mgr, addr(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.ResolvedCases)
	require.Equal(t, uint32(9_000), loaded.ReputationScore)
	require.Equal(t, uint64(1_700_000_000), loaded.RegisteredAt)

	_, err = Get(mgr, addr(7))
	require.ErrorIs(t, err, ErrArbitratorNotFound)

	invalid := Arbitrator{Address: addr(5), Fiats: []types.FiatCurrency{"XYZ"}}
	require.Error(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := Register(tx, invalid, 0)
		return err
	}))
}

func TestPickIsDeterministic(t *testing.T) {
	pool := []*Arbitrator{
		{Address: addr(1), Active: true},
		{Address: addr(2), ReputationScore: 10_000, ResolvedCases: 100, Active: true},
	}
	seed := []byte("seed")
	first := Pick(pool, seed, 42)
	for i := 0; i < 5; i++ {
		require.Equal(t, first.Address, Pick(pool, seed, 42).Address)
	}
	require.Nil(t, Pick(nil, seed, 1))

	counts := map[[20]byte]int{}
	for id := uint64(1); id <= 400; id++ {
		counts[Pick(pool, seed, id).Address]++
	}
	// Weights are 500 and 2500, so the heavier arbitrator dominates.
	require.Greater(t, counts[addr(2)], counts[addr(1)])
}

func TestDefaultSelector(t *testing.T) {
	req := Request{TradeID: 1, Buyer: addr(1), Seller: addr(2), Fiat: types.FiatARS}

	got, err := DefaultSelector{Arbitrator: addr(3)}.Select(nil, req)
	require.NoError(t, err)
	require.Equal(t, addr(3), got)

	_, err = DefaultSelector{Arbitrator: addr(1)}.Select(nil, req)
	require.ErrorIs(t, err, coreerrors.ErrInvalidArbitratorAssign)

	_, err = DefaultSelector{}.Select(nil, req)
	require.ErrorIs(t, err, coreerrors.ErrNoArbitratorAvailable)
}

func TestVRFProofVerifies(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	source := NewVRFSource(key)
	req := Request{TradeID: 9, Buyer: addr(1), Seller: addr(2), Fiat: types.FiatVES}

	output, proof, err := source.Prove(req)
	require.NoError(t, err)
	verified, err := VerifyVRF(ethcrypto.FromECDSAPub(&key.PublicKey), req, proof)
	require.NoError(t, err)
	require.Equal(t, output, verified)

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	_, err = VerifyVRF(ethcrypto.FromECDSAPub(&other.PublicKey), req, proof)
	require.Error(t, err)

	req.TradeID = 10
	_, err = VerifyVRF(ethcrypto.FromECDSAPub(&key.PublicKey), req, proof)
	require.Error(t, err)
}

func TestWeightedSelectorWithVRF(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	register(t, mgr,
		Arbitrator{Address: addr(1), Fiats: []types.FiatCurrency{types.FiatARS}, Active: true},
		Arbitrator{Address: addr(2), Fiats: []types.FiatCurrency{types.FiatARS}, Active: true, ReputationScore: 8_000},
	)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	selector := WeightedSelector{Source: NewVRFSource(key)}
	req := Request{TradeID: 3, Buyer: addr(8), Seller: addr(9), Fiat: types.FiatARS}

	var first, second [20]byte
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		var err error
		if first, err = selector.Select(tx, req); err != nil {
			return err
		}
		second, err = selector.Select(tx, req)
		return err
	}))
	require.Equal(t, first, second)
	require.Contains(t, [][20]byte{addr(1), addr(2)}, first)

	broken := WeightedSelector{Source: NewVRFSource(nil)}
	err = mgr.Atomic(func(tx *state.Tx) error {
		_, err := broken.Select(tx, req)
		return err
	})
	require.ErrorIs(t, err, coreerrors.ErrCollaboratorUnavailable)
}

func TestCommitRevealConsumesOnce(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	source := NewCommitRevealSource()
	req := Request{TradeID: 1, Fiat: types.FiatARS}

	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := source.Commit(tx, 1)
		return err
	}))
	require.Equal(t, 1, pendingCommits(t, mgr, source))

	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		seed, err := source.Seed(tx, req)
		if err != nil {
			return err
		}
		require.Len(t, seed, 32)
		return nil
	}))
	require.Zero(t, pendingCommits(t, mgr, source))

	err := mgr.Atomic(func(tx *state.Tx) error {
		_, err := source.Seed(tx, req)
		return err
	})
	require.Error(t, err)

	var pending [][]byte
	require.NoError(t, mgr.KVGetList(pendingCommitsKey, &pending))
	require.Empty(t, pending)
}

func pendingCommits(t *testing.T, mgr *state.Manager, source *CommitRevealSource) int {
	t.Helper()
	n, err := source.Pending(mgr)
	require.NoError(t, err)
	return n
}

func TestCommitRevealSurvivesRollback(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	source := NewCommitRevealSource()
	req := Request{TradeID: 2, Fiat: types.FiatARS}
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := source.Commit(tx, 1)
		return err
	}))

	var first []byte
	failed := errors.New("later step failed")
	err := mgr.Atomic(func(tx *state.Tx) error {
		seed, err := source.Seed(tx, req)
		if err != nil {
			return err
		}
		first = seed
		return failed
	})
	require.ErrorIs(t, err, failed)
	require.Equal(t, 1, pendingCommits(t, mgr, source))

	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		seed, err := source.Seed(tx, req)
		if err != nil {
			return err
		}
		require.Equal(t, first, seed)
		return nil
	}))
	require.Zero(t, pendingCommits(t, mgr, source))

	// The next Commit forgets the consumed secret.
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := source.Commit(tx, 0)
		return err
	}))
	require.Empty(t, source.secrets)
}

func TestCommitPrunesOrphanedCommitments(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	previous := NewCommitRevealSource()
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		_, err := previous.Commit(tx, 3)
		return err
	}))

	restarted := NewCommitRevealSource()
	require.Zero(t, pendingCommits(t, mgr, restarted))
	var fresh [][32]byte
	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		var err error
		fresh, err = restarted.Commit(tx, 2)
		return err
	}))

	var pending [][]byte
	require.NoError(t, mgr.KVGetList(pendingCommitsKey, &pending))
	require.Len(t, pending, 2)
	for i, raw := range pending {
		require.Equal(t, fresh[i][:], raw)
	}
	require.Equal(t, 2, pendingCommits(t, mgr, restarted))
}

func TestFallbackSource(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	reveal := NewCommitRevealSource()
	source := FallbackSource{NewVRFSource(nil), reveal}
	req := Request{TradeID: 5, Fiat: types.FiatBRL}

	require.NoError(t, mgr.Atomic(func(tx *state.Tx) error {
		if _, err := reveal.Commit(tx, 1); err != nil {
			return err
		}
		seed, err := source.Seed(tx, req)
		if err != nil {
			return err
		}
		require.NotEmpty(t, seed)
		return nil
	}))

	err := mgr.Atomic(func(tx *state.Tx) error {
		_, err := source.Seed(tx, req)
		return err
	})
	require.ErrorContains(t, err, "vrf")
	require.ErrorContains(t, err, "commit_reveal")

	_, err = FallbackSource{}.Seed(nil, req)
	require.Error(t, err)
}
