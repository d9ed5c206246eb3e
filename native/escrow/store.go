package escrow

import (
	"errors"
	"fmt"

	coreerrors "localmoney/core/errors"
	"localmoney/core/state"
	"localmoney/core/types"
	"localmoney/native/authz"
	"localmoney/native/common"
)

var (
	tradePrefix   = []byte("escrow/trade/")
	escrowPrefix  = []byte("escrow/custody/")
	partyPrefix   = []byte("escrow/party/")
	quotaPrefix   = []byte("escrow/quota/")
	openTradesKey = []byte("escrow/open")

	errNilStore = errors.New("escrow: store not configured")
)

const tradeSequence = "trades"

// reader is the read side of the state store.
type reader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
}

func tradeKey(id uint64) []byte {
	return append(append([]byte(nil), tradePrefix...), state.EncodeID(id)...)
}

func escrowKey(id uint64) []byte {
	return append(append([]byte(nil), escrowPrefix...), state.EncodeID(id)...)
}

func partyKey(addr [20]byte) []byte {
	return append(append([]byte(nil), partyPrefix...), addr[:]...)
}

func quotaKey(action string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%x", quotaPrefix, action, addr))
}

type storedTransition struct {
	Actor     [20]byte
	Role      uint8
	State     uint8
	Timestamp uint64
}

// storedTrade is the RLP form of Trade. The history ring is persisted as its
// ordered items and rebuilt on load.
type storedTrade struct {
	ID               uint64
	OfferID          uint64
	Buyer            [20]byte
	Seller           [20]byte
	Arbitrator       [20]byte
	Maker            uint8
	Amount           uint64
	Token            string
	Fiat             string
	LockedPrice      uint64
	ValueUSD         uint64
	State            uint8
	CreatedAt        uint64
	ExpiresAt        uint64
	DisputeWindowAt  uint64
	BuyerContact     string
	SellerContact    string
	DisputeReason    string
	SettlementReason string
	DisputedBy       [20]byte
	History          []storedTransition
}

func clampUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func newStoredTrade(t *Trade) *storedTrade {
	record := &storedTrade{
		ID:               t.ID,
		OfferID:          t.OfferID,
		Buyer:            t.Buyer,
		Seller:           t.Seller,
		Arbitrator:       t.Arbitrator,
		Maker:            uint8(t.Maker),
		Amount:           t.Amount,
		Token:            t.Token,
		Fiat:             string(t.Fiat),
		LockedPrice:      t.LockedPrice,
		ValueUSD:         t.ValueUSD,
		State:            uint8(t.State),
		CreatedAt:        clampUnix(t.CreatedAt),
		ExpiresAt:        clampUnix(t.ExpiresAt),
		DisputeWindowAt:  clampUnix(t.DisputeWindowAt),
		BuyerContact:     t.BuyerContact,
		SellerContact:    t.SellerContact,
		DisputeReason:    t.DisputeReason,
		SettlementReason: t.SettlementReason,
		DisputedBy:       t.DisputedBy,
	}
	t.History.Each(func(rec TransitionRecord) bool {
		record.History = append(record.History, storedTransition{
			Actor:     rec.Actor,
			Role:      uint8(rec.Role),
			State:     uint8(rec.State),
			Timestamp: clampUnix(rec.Timestamp),
		})
		return true
	})
	return record
}

func (r *storedTrade) trade() *Trade {
	t := &Trade{
		ID:               r.ID,
		OfferID:          r.OfferID,
		Buyer:            r.Buyer,
		Seller:           r.Seller,
		Arbitrator:       r.Arbitrator,
		Maker:            authz.Role(r.Maker),
		Amount:           r.Amount,
		Token:            r.Token,
		Fiat:             types.FiatCurrency(r.Fiat),
		LockedPrice:      r.LockedPrice,
		ValueUSD:         r.ValueUSD,
		State:            TradeState(r.State),
		CreatedAt:        int64(r.CreatedAt),
		ExpiresAt:        int64(r.ExpiresAt),
		DisputeWindowAt:  int64(r.DisputeWindowAt),
		BuyerContact:     r.BuyerContact,
		SellerContact:    r.SellerContact,
		DisputeReason:    r.DisputeReason,
		SettlementReason: r.SettlementReason,
		DisputedBy:       r.DisputedBy,
		History:          common.NewHistoryLog[TransitionRecord](HistoryCapacity),
	}
	for _, rec := range r.History {
		t.History.Push(TransitionRecord{
			Actor:     rec.Actor,
			Role:      authz.Role(rec.Role),
			State:     TradeState(rec.State),
			Timestamp: int64(rec.Timestamp),
		})
	}
	return t
}

// GetTrade loads a trade by id.
func GetTrade(store reader, id uint64) (*Trade, error) {
	if store == nil {
		return nil, errNilStore
	}
	record := new(storedTrade)
	ok, err := store.KVGet(tradeKey(id), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", coreerrors.ErrTradeNotFound, id)
	}
	return record.trade(), nil
}

// GetEscrow loads the custody record of a trade.
func GetEscrow(store reader, id uint64) (*Escrow, error) {
	if store == nil {
		return nil, errNilStore
	}
	esc := new(Escrow)
	ok, err := store.KVGet(escrowKey(id), esc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: escrow %d", coreerrors.ErrTradeNotFound, id)
	}
	return esc, nil
}

// ListTrades returns every stored trade the address is a party to, in
// creation order.
func ListTrades(store reader, party [20]byte) ([]*Trade, error) {
	if store == nil {
		return nil, errNilStore
	}
	var ids [][]byte
	if err := store.KVGetList(partyKey(party), &ids); err != nil {
		return nil, err
	}
	out := make([]*Trade, 0, len(ids))
	for _, raw := range ids {
		id, ok := state.DecodeID(raw)
		if !ok {
			continue
		}
		trade, err := GetTrade(store, id)
		if errors.Is(err, coreerrors.ErrTradeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, trade)
	}
	return out, nil
}

// OpenTradeIDs returns the ids of trades that are not yet terminal, oldest
// first.
func OpenTradeIDs(store reader) ([]uint64, error) {
	if store == nil {
		return nil, errNilStore
	}
	var raw [][]byte
	if err := store.KVGetList(openTradesKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		id, ok := state.DecodeID(entry)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func putTrade(tx *state.Tx, t *Trade) error {
	return tx.KVPut(tradeKey(t.ID), newStoredTrade(t))
}

func putEscrow(tx *state.Tx, esc *Escrow) error {
	return tx.KVPut(escrowKey(esc.TradeID), esc)
}

func indexTrade(tx *state.Tx, t *Trade) error {
	id := state.EncodeID(t.ID)
	for _, party := range [][20]byte{t.Buyer, t.Seller} {
		if err := tx.KVAppend(partyKey(party), id); err != nil {
			return err
		}
	}
	return tx.KVAppend(openTradesKey, id)
}

func unindexOpen(tx *state.Tx, id uint64) error {
	return tx.KVRemove(openTradesKey, state.EncodeID(id))
}

func deleteTrade(tx *state.Tx, t *Trade) error {
	id := state.EncodeID(t.ID)
	for _, party := range [][20]byte{t.Buyer, t.Seller} {
		if err := tx.KVRemove(partyKey(party), id); err != nil {
			return err
		}
	}
	if err := tx.KVDelete(escrowKey(t.ID)); err != nil {
		return err
	}
	return tx.KVDelete(tradeKey(t.ID))
}

func consumeQuota(tx *state.Tx, action string, actor [20]byte, limit uint32, now int64) error {
	if limit == 0 {
		return nil
	}
	key := quotaKey(action, actor)
	var prev common.DailyCounter
	if _, err := tx.KVGet(key, &prev); err != nil {
		return err
	}
	next, err := common.CheckDaily(limit, now, prev)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return tx.KVPut(key, &next)
}
