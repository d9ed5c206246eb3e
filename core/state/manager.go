package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"localmoney/storage"
)

var errNilDatabase = errors.New("state: database not configured")

// KV is the keyed record store shared by every module. Values are RLP encoded
// and keys are hashed with keccak256 before they reach the database.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// backend is the raw hashed-key store a kvStore reads and writes.
type backend interface {
	get(key []byte) ([]byte, error)
	put(key []byte, value []byte) error
	del(key []byte) error
}

// Manager owns the committed state. Writes happen through Atomic, which
// serialises writers and commits each unit of work with a single batch.
type Manager struct {
	kvStore
	db      storage.Database
	writeMu sync.Mutex
	readMu  sync.RWMutex
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	m := &Manager{db: db}
	m.kvStore = kvStore{b: committed{m: m}}
	return m
}

// Tx is the view handed to an atomic unit of work. Reads observe the unit's own
// writes; nothing reaches the database until the unit returns nil.
type Tx struct {
	kvStore
	journal *journal
}

// Atomic runs fn inside a unit of work. When fn returns an error every write it
// made is discarded; otherwise all writes are flushed in one batch.
func (m *Manager) Atomic(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	j := &journal{base: committed{m: m}, writes: make(map[string][]byte), deletes: make(map[string]struct{})}
	tx := &Tx{kvStore: kvStore{b: j}, journal: j}
	if err := fn(tx); err != nil {
		return err
	}
	if j.empty() {
		return nil
	}
	batch := m.db.NewBatch()
	for key, value := range j.writes {
		batch.Put([]byte(key), value)
	}
	for key := range j.deletes {
		batch.Delete([]byte(key))
	}
	m.readMu.Lock()
	defer m.readMu.Unlock()
	return batch.Write()
}

// Writes reports how many keys the unit has touched so far.
func (tx *Tx) Writes() int {
	return len(tx.journal.writes) + len(tx.journal.deletes)
}

type committed struct {
	m *Manager
}

func (c committed) get(key []byte) ([]byte, error) {
	c.m.readMu.RLock()
	defer c.m.readMu.RUnlock()
	value, err := c.m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (c committed) put(key []byte, value []byte) error {
	return c.m.Atomic(func(tx *Tx) error { return tx.journal.put(key, value) })
}

func (c committed) del(key []byte) error {
	return c.m.Atomic(func(tx *Tx) error { return tx.journal.del(key) })
}

type journal struct {
	base    backend
	writes  map[string][]byte
	deletes map[string]struct{}
}

func (j *journal) get(key []byte) ([]byte, error) {
	if value, ok := j.writes[string(key)]; ok {
		return value, nil
	}
	if _, ok := j.deletes[string(key)]; ok {
		return nil, nil
	}
	return j.base.get(key)
}

func (j *journal) put(key []byte, value []byte) error {
	delete(j.deletes, string(key))
	j.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (j *journal) del(key []byte) error {
	delete(j.writes, string(key))
	j.deletes[string(key)] = struct{}{}
	return nil
}

func (j *journal) empty() bool { return len(j.writes) == 0 && len(j.deletes) == 0 }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

type kvStore struct {
	b backend
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (s kvStore) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.b.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (s kvStore) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := s.b.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (s kvStore) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return s.b.del(kvKey(key))
}

func (s kvStore) loadList(hashed []byte) ([][]byte, error) {
	data, err := s.b.get(hashed)
	if err != nil {
		return nil, err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s kvStore) storeList(hashed []byte, list [][]byte) error {
	if len(list) == 0 {
		return s.b.del(hashed)
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return s.b.put(hashed, encoded)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (s kvStore) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := s.loadList(hashed)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return s.storeList(hashed, list)
}

// KVRemove drops value from the list stored under key. Missing values are
// ignored.
func (s kvStore) KVRemove(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := s.loadList(hashed)
	if err != nil {
		return err
	}
	for i, existing := range list {
		if bytes.Equal(existing, value) {
			list = append(list[:i], list[i+1:]...)
			return s.storeList(hashed, list)
		}
	}
	return nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (s kvStore) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := s.b.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

var sequencePrefix = []byte("sequence/")

// NextSequence increments and returns the named counter. The first value is 1.
func (s kvStore) NextSequence(name string) (uint64, error) {
	key := append(append([]byte(nil), sequencePrefix...), name...)
	var current uint64
	if _, err := s.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := s.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

// EncodeID renders a numeric identifier as an 8-byte big-endian key suffix.
func EncodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

// DecodeID is the inverse of EncodeID.
func DecodeID(raw []byte) (uint64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}
