package storage

import (
	"bytes"
	"sync"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

// MemoryStore is a volatile StateStore backed by maps
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[core.Address]*core.Account
	code     map[core.Address][]byte
	slots    map[core.Address]map[core.Hash]core.Hash
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[core.Address]*core.Account),
		code:     make(map[core.Address][]byte),
		slots:    make(map[core.Address]map[core.Hash]core.Hash),
	}
}

// GetAccount returns a copy of the account, or a fresh zero account
func (m *MemoryStore) GetAccount(addr core.Address) (*core.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acc, ok := m.accounts[addr]; ok {
		return acc.Copy(), nil
	}
	return core.NewAccount(addr), nil
}

// SetAccount stores a copy of the account
func (m *MemoryStore) SetAccount(acc *core.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[acc.Address] = acc.Copy()
	return nil
}

// GetBalance returns the account balance
func (m *MemoryStore) GetBalance(addr core.Address) (*uint256.Int, error) {
	acc, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// GetNonce returns the account nonce
func (m *MemoryStore) GetNonce(addr core.Address) (uint64, error) {
	acc, err := m.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// GetCode returns a copy of the contract code
func (m *MemoryStore) GetCode(addr core.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return bytes.Clone(m.code[addr]), nil
}

// GetStorage returns a storage slot, zero if unset
func (m *MemoryStore) GetStorage(addr core.Address, key core.Hash) (core.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.slots[addr][key], nil
}

// SetStorage writes a storage slot. Zero values delete the slot.
func (m *MemoryStore) SetStorage(addr core.Address, key, value core.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.slots[addr]
	if !ok {
		if value.IsEmpty() {
			return nil
		}
		slots = make(map[core.Hash]core.Hash)
		m.slots[addr] = slots
	}
	if value.IsEmpty() {
		delete(slots, key)
		return nil
	}
	slots[key] = value
	return nil
}

// AddBalance credits the account
func (m *MemoryStore) AddBalance(addr core.Address, amount *uint256.Int) error {
	return m.update(addr, func(acc *core.Account) error {
		return acc.AddBalance(amount)
	})
}

// SubBalance debits the account
func (m *MemoryStore) SubBalance(addr core.Address, amount *uint256.Int) error {
	return m.update(addr, func(acc *core.Account) error {
		return acc.SubBalance(amount)
	})
}

// IncrementNonce bumps the account nonce
func (m *MemoryStore) IncrementNonce(addr core.Address) error {
	return m.update(addr, func(acc *core.Account) error {
		acc.IncrementNonce()
		return nil
	})
}

// SetCode stores contract code and records its hash on the account
func (m *MemoryStore) SetCode(addr core.Address, code []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(addr)
	acc.CodeHash = core.CodeHash(code)
	if len(code) == 0 {
		delete(m.code, addr)
	} else {
		m.code[addr] = bytes.Clone(code)
	}
	return nil
}

// update applies fn to the account under the write lock.
// The account is left untouched if fn fails.
func (m *MemoryStore) update(addr core.Address, fn func(*core.Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(addr).Copy()
	if err := fn(acc); err != nil {
		return err
	}
	m.accounts[addr] = acc
	return nil
}

// account returns the stored account, creating it if missing. Caller holds the lock.
func (m *MemoryStore) account(addr core.Address) *core.Account {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = core.NewAccount(addr)
		m.accounts[addr] = acc
	}
	return acc
}

// IterateState visits entries of one key type using the same key and value
// encoding as LevelDBStore. Order is unspecified.
func (m *MemoryStore) IterateState(keyType byte, fn func(key core.StateKey, value []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch keyType {
	case core.KeyTypeAccount:
		for addr, acc := range m.accounts {
			data, err := acc.Serialize()
			if err != nil {
				return err
			}
			if err := fn(core.MakeAccountKey(addr), data); err != nil {
				return err
			}
		}
	case core.KeyTypeStorage:
		for addr, slots := range m.slots {
			for slot, value := range slots {
				if err := fn(core.MakeStorageKey(addr, slot), value.Bytes()); err != nil {
					return err
				}
			}
		}
	case core.KeyTypeCode:
		for addr, code := range m.code {
			if err := fn(core.MakeCodeKey(addr), code); err != nil {
				return err
			}
		}
	}
	return nil
}
