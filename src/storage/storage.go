package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionMismatch = errors.New("database schema version mismatch")
)

// SchemaVersion is the on-disk layout version written to new databases
const SchemaVersion uint64 = 1

// Database prefixes for different data types
const (
	prefixState = "s:" // State data (accounts, storage, code)
	prefixMeta  = "m:" // Metadata
)

const metaVersion = "version"

// LevelDBStore is a persistent StateStore backed by LevelDB
type LevelDBStore struct {
	db   *leveldb.DB
	path string
	mu   sync.RWMutex
}

// NewLevelDBStore opens (or creates) the database at path
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	s := &LevelDBStore{
		db:   db,
		path: path,
	}
	if err := s.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDBStore) checkVersion() error {
	version, err := s.GetVersion()
	if err == ErrNotFound {
		return s.setVersion(SchemaVersion)
	}
	if err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, version, SchemaVersion)
	}
	return nil
}

// Path returns the database directory
func (s *LevelDBStore) Path() string {
	return s.path
}

// Close closes the database
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// --- Raw State Operations ---

// GetState retrieves a state value by key
func (s *LevelDBStore) GetState(key core.StateKey) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(key)
}

// SetState sets a state value
func (s *LevelDBStore) SetState(key core.StateKey, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Put(stateKey(key), value, nil)
}

// DeleteState deletes a state value
func (s *LevelDBStore) DeleteState(key core.StateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Delete(stateKey(key), nil)
}

func (s *LevelDBStore) get(key core.StateKey) ([]byte, error) {
	value, err := s.db.Get(stateKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

// --- Accounts ---

// GetAccount retrieves an account, returning a zero account if missing
func (s *LevelDBStore) GetAccount(address core.Address) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.account(address)
}

// SetAccount stores an account
func (s *LevelDBStore) SetAccount(account *core.Account) error {
	data, err := account.Serialize()
	if err != nil {
		return err
	}
	return s.SetState(core.MakeAccountKey(account.Address), data)
}

func (s *LevelDBStore) account(address core.Address) (*core.Account, error) {
	data, err := s.get(core.MakeAccountKey(address))
	if err != nil {
		if err == ErrNotFound {
			return core.NewAccount(address), nil
		}
		return nil, err
	}
	return core.DeserializeAccount(data)
}

// updateAccount performs a read-modify-write of one account under the write lock
func (s *LevelDBStore) updateAccount(address core.Address, fn func(*core.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(address)
	if err != nil {
		return err
	}
	if err := fn(acc); err != nil {
		return err
	}
	data, err := acc.Serialize()
	if err != nil {
		return err
	}
	return s.db.Put(stateKey(core.MakeAccountKey(address)), data, nil)
}

// GetBalance returns the account balance
func (s *LevelDBStore) GetBalance(address core.Address) (*uint256.Int, error) {
	acc, err := s.GetAccount(address)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// GetNonce returns the account nonce
func (s *LevelDBStore) GetNonce(address core.Address) (uint64, error) {
	acc, err := s.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// AddBalance credits the account
func (s *LevelDBStore) AddBalance(address core.Address, amount *uint256.Int) error {
	return s.updateAccount(address, func(acc *core.Account) error {
		return acc.AddBalance(amount)
	})
}

// SubBalance debits the account
func (s *LevelDBStore) SubBalance(address core.Address, amount *uint256.Int) error {
	return s.updateAccount(address, func(acc *core.Account) error {
		return acc.SubBalance(amount)
	})
}

// IncrementNonce bumps the account nonce
func (s *LevelDBStore) IncrementNonce(address core.Address) error {
	return s.updateAccount(address, func(acc *core.Account) error {
		acc.IncrementNonce()
		return nil
	})
}

// --- Code ---

// GetCode retrieves contract code, empty if none is deployed
func (s *LevelDBStore) GetCode(address core.Address) ([]byte, error) {
	code, err := s.GetState(core.MakeCodeKey(address))
	if err == ErrNotFound {
		return nil, nil
	}
	return code, err
}

// SetCode stores contract code and the account's code hash in one batch
func (s *LevelDBStore) SetCode(address core.Address, code []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(address)
	if err != nil {
		return err
	}
	acc.CodeHash = core.CodeHash(code)
	data, err := acc.Serialize()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(stateKey(core.MakeAccountKey(address)), data)
	if len(code) == 0 {
		batch.Delete(stateKey(core.MakeCodeKey(address)))
	} else {
		batch.Put(stateKey(core.MakeCodeKey(address)), code)
	}
	return s.db.Write(batch, nil)
}

// --- Storage Slots ---

// GetStorage retrieves a contract storage slot, zero if unset
func (s *LevelDBStore) GetStorage(contract core.Address, slot core.Hash) (core.Hash, error) {
	value, err := s.GetState(core.MakeStorageKey(contract, slot))
	if err == ErrNotFound {
		return core.Hash{}, nil
	}
	if err != nil {
		return core.Hash{}, err
	}
	return core.HashFromBytes(value), nil
}

// SetStorage sets a contract storage slot. Zero values delete the slot.
func (s *LevelDBStore) SetStorage(contract core.Address, slot, value core.Hash) error {
	key := core.MakeStorageKey(contract, slot)
	if value.IsEmpty() {
		return s.DeleteState(key)
	}
	return s.SetState(key, value.Bytes())
}

// --- Iteration ---

// IterateState iterates over all state entries with a given key type.
// key and value are only valid for the duration of fn.
func (s *LevelDBStore) IterateState(keyType byte, fn func(key core.StateKey, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iterPrefix := append([]byte(prefixState), keyType)
	iter := s.db.NewIterator(util.BytesPrefix(iterPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		key := core.StateKey(iter.Key()[len(prefixState):])
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}

	return iter.Error()
}

// --- Metadata ---

// GetVersion returns the schema version recorded in the database
func (s *LevelDBStore) GetVersion() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get([]byte(prefixMeta+metaVersion), nil)
	if err == leveldb.ErrNotFound {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return bytesToUint64(data), nil
}

func (s *LevelDBStore) setVersion(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Put([]byte(prefixMeta+metaVersion), uint64ToBytes(version), nil)
}

// --- Helper Functions ---

func stateKey(key core.StateKey) []byte {
	dbKey := make([]byte, 0, len(prefixState)+len(key))
	dbKey = append(dbKey, prefixState...)
	return append(dbKey, key...)
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	b[0] = byte(n >> 56)
	b[1] = byte(n >> 48)
	b[2] = byte(n >> 40)
	b[3] = byte(n >> 32)
	b[4] = byte(n >> 24)
	b[5] = byte(n >> 16)
	b[6] = byte(n >> 8)
	b[7] = byte(n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
