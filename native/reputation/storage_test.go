package reputation

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "localmoney/core/errors"
	"localmoney/native/authz"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func newTestSink(t *testing.T) (*Sink, *authz.Issuer) {
	t.Helper()
	verifier, err := authz.NewVerifier("capability-secret", Audience, "trade")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	sink, err := NewSink(verifier)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	issuer, err := authz.NewIssuer("capability-secret", "trade", time.Minute)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return sink, issuer
}

func TestSinkRecordsLifecycle(t *testing.T) {
	store := newMemoryStore()
	sink, issuer := newTestSink(t)
	token, err := issuer.Issue(Audience, ActionRecordTradeStat)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var profile [20]byte
	copy(profile[:], []byte("profile-address-0001"))
	now := time.Now().Unix()
	for _, evt := range []StatEvent{
		{Kind: StatRequested, TradeID: 1, Timestamp: now},
		{Kind: StatAccepted, TradeID: 1, Timestamp: now},
		{Kind: StatReleased, TradeID: 1, VolumeUSD: 250, Timestamp: now + 10},
		{Kind: StatRequested, TradeID: 2, Timestamp: now + 20},
	} {
		if err := sink.RecordTradeStat(store, token, profile, evt); err != nil {
			t.Fatalf("record %s: %v", evt.Kind, err)
		}
	}

	stats, err := LoadStats(store, profile)
	if err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if stats.Requested != 2 || stats.Released != 1 || stats.Active != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.VolumeUSD != 250 {
		t.Fatalf("expected volume 250, got %d", stats.VolumeUSD)
	}
	if stats.LastTradeAt != uint64(now+20) {
		t.Fatalf("unexpected last trade timestamp %d", stats.LastTradeAt)
	}
}

func TestSinkRejectsBadCapability(t *testing.T) {
	store := newMemoryStore()
	sink, issuer := newTestSink(t)
	wrongAction, err := issuer.Issue(Audience, "delete_profile")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var profile [20]byte
	profile[0] = 1
	err = sink.RecordTradeStat(store, wrongAction, profile, StatEvent{Kind: StatRequested, TradeID: 1, Timestamp: 1})
	if !errors.Is(err, coreerrors.ErrUnauthorizedCpiCall) {
		t.Fatalf("expected UnauthorizedCpiCall, got %v", err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected no writes after rejected capability")
	}
}

func TestStatEventValidate(t *testing.T) {
	if err := (StatEvent{Kind: 0, TradeID: 1, Timestamp: 1}).Validate(); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
	if err := (StatEvent{Kind: StatDisputed, Timestamp: 1}).Validate(); err == nil {
		t.Fatalf("expected missing trade id to fail")
	}
	stats := &TradeStats{}
	if err := stats.Apply(StatEvent{Kind: StatCanceled, TradeID: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.Active != 0 || stats.Canceled != 1 {
		t.Fatalf("active counter must saturate at zero: %+v", stats)
	}
}
