package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localmoney/core/events"
	"localmoney/core/types"
)

type bareEvent string

func (b bareEvent) EventType() string { return string(b) }

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	store.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return store
}

func tradeEvent(eventType, tradeID string) events.Event {
	return events.Typed{Evt: &types.Event{Type: eventType, Attributes: map[string]string{"tradeId": tradeID, "state": "escrow_funded"}}}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestAppendAndListInOrder(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, tradeEvent("trade.created", "1"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, uint64(1), first.TradeID)

	store.Emit(tradeEvent("trade.escrow_funded", "1"))
	store.Emit(tradeEvent("trade.created", "2"))
	store.Emit(bareEvent("ledger.mint"))

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].Seq, all[i-1].Seq)
	}
	require.Equal(t, "escrow_funded", all[1].Attributes["state"])
	require.Empty(t, all[3].Attributes)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), all[0].CreatedAt)

	byTrade, err := store.List(ctx, Query{TradeID: 1})
	require.NoError(t, err)
	require.Len(t, byTrade, 2)

	byType, err := store.List(ctx, Query{Type: "trade.created"})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	page, err := store.List(ctx, Query{AfterSeq: all[1].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, all[2].ID, page[0].ID)
}

func TestListRejectsNegativeLimit(t *testing.T) {
	store := openStore(t)
	_, err := store.List(context.Background(), Query{Limit: -1})
	require.Error(t, err)
}

func TestAppendRejectsUntypedEvent(t *testing.T) {
	store := openStore(t)
	_, err := store.Append(context.Background(), bareEvent(""))
	require.Error(t, err)
}

func TestNilStore(t *testing.T) {
	var store *Store
	_, err := store.List(context.Background(), Query{})
	require.ErrorIs(t, err, errNotConfigured)
	require.NoError(t, store.Close())
}

func TestSubscribeReceivesMatchingRecords(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	store.Emit(tradeEvent("trade.created", "1"))
	updates, cancel := store.Subscribe(Query{TradeID: 1}, 4)
	defer cancel()

	store.Emit(tradeEvent("trade.created", "2"))
	store.Emit(tradeEvent("trade.escrow_funded", "1"))

	select {
	case record := <-updates:
		require.Equal(t, "trade.escrow_funded", record.Type)
		require.Equal(t, uint64(1), record.TradeID)
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}
	select {
	case record := <-updates:
		t.Fatalf("unexpected record %+v", record)
	default:
	}

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSubscribeDropsLaggingSubscriber(t *testing.T) {
	store := openStore(t)
	updates, cancel := store.Subscribe(Query{}, 1)

	store.Emit(tradeEvent("trade.created", "1"))
	store.Emit(tradeEvent("trade.created", "2"))

	record, ok := <-updates
	require.True(t, ok)
	require.Equal(t, uint64(1), record.TradeID)
	_, ok = <-updates
	require.False(t, ok)

	// Canceling an already dropped subscription is a no-op.
	cancel()
}

func TestCancelClosesSubscription(t *testing.T) {
	store := openStore(t)
	updates, cancel := store.Subscribe(Query{Type: "trade.created"}, 0)
	cancel()
	cancel()
	_, ok := <-updates
	require.False(t, ok)
}
