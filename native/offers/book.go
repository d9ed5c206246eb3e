package offers

import (
	"errors"
	"fmt"
	"time"

	coreerrors "localmoney/core/errors"
	"localmoney/core/state"
	"localmoney/core/types"
)

var (
	offerPrefix      = []byte("offers/record/")
	offerOwnerPrefix = []byte("offers/owner/")
	offerSequence    = "offers"

	// ErrOfferNotFound marks missing offer records.
	ErrOfferNotFound = errors.New("offers: offer not found")
)

// kvStore abstracts the subset of state functionality the book needs.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(name string) (uint64, error)
}

type reader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
}

func offerKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", offerPrefix, id))
}

func ownerKey(owner [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", offerOwnerPrefix, owner))
}

// Book creates and updates offers.
type Book struct {
	nowFn func() int64
}

// NewBook returns a book using the wall clock.
func NewBook() *Book {
	return &Book{nowFn: func() int64 { return time.Now().Unix() }}
}

// SetNowFunc overrides the clock. Passing nil restores the wall clock.
func (b *Book) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	b.nowFn = now
}

// Create validates and stores a new active offer, returning it with its id.
func (b *Book) Create(store kvStore, offer Offer) (*Offer, error) {
	offer.Token = types.NormalizeToken(offer.Token)
	offer.State = OfferActive
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	id, err := store.NextSequence(offerSequence)
	if err != nil {
		return nil, err
	}
	now := uint64(b.nowFn())
	offer.ID = id
	offer.CreatedAt = now
	offer.UpdatedAt = now
	if err := store.KVPut(offerKey(id), &offer); err != nil {
		return nil, err
	}
	if err := store.KVAppend(ownerKey(offer.Owner), state.EncodeID(id)); err != nil {
		return nil, err
	}
	return &offer, nil
}

// SetState changes the state of an offer owned by caller.
func (b *Book) SetState(store kvStore, id uint64, caller [20]byte, next OfferState) (*Offer, error) {
	if next < OfferActive || next > OfferArchived {
		return nil, fmt.Errorf("%w: offer state %d", coreerrors.ErrInvalidOffer, next)
	}
	offer, err := Get(store, id)
	if err != nil {
		return nil, err
	}
	if offer.Owner != caller {
		return nil, fmt.Errorf("%w: offer %d not owned by caller", coreerrors.ErrUnauthorized, id)
	}
	if offer.State == OfferArchived {
		return nil, fmt.Errorf("%w: offer %d archived", coreerrors.ErrOfferNotActive, id)
	}
	offer.State = next
	offer.UpdatedAt = uint64(b.nowFn())
	if err := store.KVPut(offerKey(id), offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// Get loads an offer by id.
func Get(store reader, id uint64) (*Offer, error) {
	offer := new(Offer)
	ok, err := store.KVGet(offerKey(id), offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOfferNotFound, id)
	}
	return offer, nil
}

// RequireActive loads an offer and fails unless it is active.
func RequireActive(store reader, id uint64) (*Offer, error) {
	offer, err := Get(store, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, fmt.Errorf("%w: offer %d", coreerrors.ErrInvalidOffer, id)
		}
		return nil, err
	}
	if offer.State != OfferActive {
		return nil, fmt.Errorf("%w: offer %d is %s", coreerrors.ErrOfferNotActive, id, offer.State)
	}
	return offer, nil
}

// ListByOwner returns the offers of owner in creation order.
func ListByOwner(store reader, owner [20]byte) ([]*Offer, error) {
	var ids [][]byte
	if err := store.KVGetList(ownerKey(owner), &ids); err != nil {
		return nil, err
	}
	out := make([]*Offer, 0, len(ids))
	for _, raw := range ids {
		id, ok := state.DecodeID(raw)
		if !ok {
			return nil, fmt.Errorf("offers: malformed owner index entry %x", raw)
		}
		offer, err := Get(store, id)
		if err != nil {
			return nil, err
		}
		out = append(out, offer)
	}
	return out, nil
}
