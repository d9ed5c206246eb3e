package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "localmoney/core/errors"
	"localmoney/storage"
)

type record struct {
	Name  string
	Value uint64
}

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestKVRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.KVPut([]byte("rec"), record{Name: "a", Value: 7}))

	var out record
	ok, err := mgr.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record{Name: "a", Value: 7}, out)

	ok, err = mgr.KVGet([]byte("missing"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVDelete([]byte("rec")))
	ok, err = mgr.KVGet([]byte("rec"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.KVGet(nil, &out)
	require.Error(t, err)
}

func TestKVListHelpers(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("index")
	require.NoError(t, mgr.KVAppend(key, []byte{1}))
	require.NoError(t, mgr.KVAppend(key, []byte{2}))
	require.NoError(t, mgr.KVAppend(key, []byte{1}))

	var list [][]byte
	require.NoError(t, mgr.KVGetList(key, &list))
	require.Equal(t, [][]byte{{1}, {2}}, list)

	require.NoError(t, mgr.KVRemove(key, []byte{1}))
	require.NoError(t, mgr.KVRemove(key, []byte{9}))
	require.NoError(t, mgr.KVGetList(key, &list))
	require.Equal(t, [][]byte{{2}}, list)

	require.NoError(t, mgr.KVRemove(key, []byte{2}))
	require.NoError(t, mgr.KVGetList(key, &list))
	require.Empty(t, list)
	require.NotNil(t, list)
}

func TestAtomicDiscardsWritesOnError(t *testing.T) {
	mgr, db := newTestManager(t)
	require.NoError(t, mgr.KVPut([]byte("kept"), uint64(1)))
	before := db.Len()

	boom := errors.New("boom")
	err := mgr.Atomic(func(tx *Tx) error {
		require.NoError(t, tx.KVPut([]byte("kept"), uint64(2)))
		require.NoError(t, tx.KVPut([]byte("new"), uint64(3)))

		// The unit observes its own writes.
		var v uint64
		ok, err := tx.KVGet([]byte("kept"), &v)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(2), v)

		// Committed state does not.
		ok, err = mgr.KVGet([]byte("kept"), &v)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1), v)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, before, db.Len())

	var v uint64
	_, err = mgr.KVGet([]byte("kept"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	ok, err := mgr.KVGet([]byte("new"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomicCommitsDeletes(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.KVPut([]byte("gone"), uint64(1)))
	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		require.NoError(t, tx.KVDelete([]byte("gone")))
		ok, err := tx.KVGet([]byte("gone"), nil)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 1, tx.Writes())
		return nil
	}))
	ok, err := mgr.KVGet([]byte("gone"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextSequence(t *testing.T) {
	mgr, _ := newTestManager(t)
	for want := uint64(1); want <= 3; want++ {
		var got uint64
		require.NoError(t, mgr.Atomic(func(tx *Tx) error {
			var err error
			got, err = tx.NextSequence("trade")
			return err
		}))
		require.Equal(t, want, got)
	}
	id, ok := DecodeID(EncodeID(42))
	require.True(t, ok)
	require.Equal(t, uint64(42), id)
}

func TestLedgerTransfersAndSupply(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice, bob := addr(1), addr(2)

	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		return tx.Mint(alice, "usdc", 1_000)
	}))
	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		return tx.Transfer("USDC", alice, bob, 400)
	}))
	err := mgr.Atomic(func(tx *Tx) error {
		return tx.Transfer("USDC", bob, alice, 401)
	})
	require.ErrorIs(t, err, coreerrors.ErrInsufficientFunds)

	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		return tx.Burn(bob, "USDC", 100)
	}))

	balance, err := mgr.Balance(alice, "usdc")
	require.NoError(t, err)
	require.Equal(t, uint64(600), balance)
	balance, err = mgr.Balance(bob, "usdc")
	require.NoError(t, err)
	require.Equal(t, uint64(300), balance)

	supply, err := mgr.TokenSupply("usdc")
	require.NoError(t, err)
	require.Equal(t, uint64(900), supply)
}
