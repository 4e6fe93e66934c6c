package storage

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

// StateDB is a write-buffering overlay over another StateStore.
//
// Reads fall through to the parent and are cached. Writes are applied to
// the cache and recorded in a journal that Commit replays onto the parent
// in order. Discard drops the journal, which gives callers rollback on top
// of a backend that commits every write immediately.
type StateDB struct {
	parent core.StateStore
	mu     sync.Mutex

	// Keys touched during execution
	readSet  map[string]struct{}
	writeSet map[string]struct{}

	accounts map[core.Address]*accountState
	code     map[core.Address][]byte
	slots    map[string]core.Hash

	journal []func(core.StateStore) error
}

type accountState struct {
	balance *uint256.Int
	nonce   uint64
}

// NewStateDB creates an overlay on top of parent
func NewStateDB(parent core.StateStore) *StateDB {
	s := &StateDB{parent: parent}
	s.reset()
	return s
}

func (s *StateDB) reset() {
	s.readSet = make(map[string]struct{})
	s.writeSet = make(map[string]struct{})
	s.accounts = make(map[core.Address]*accountState)
	s.code = make(map[core.Address][]byte)
	s.slots = make(map[string]core.Hash)
	s.journal = nil
}

// ReadSet returns the keys read from the parent, sorted
func (s *StateDB) ReadSet() []core.StateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.readSet)
}

// WriteSet returns the keys written since the last commit or discard, sorted
func (s *StateDB) WriteSet() []core.StateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.writeSet)
}

// Dirty reports whether there are uncommitted writes
func (s *StateDB) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal) > 0
}

// Commit replays buffered writes onto the parent and clears the overlay.
// A failing write stops the replay. Earlier writes stay applied and are
// dropped from the journal, so calling Commit again resumes at the failed write.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.journal)
	for i, apply := range s.journal {
		if err := apply(s.parent); err != nil {
			s.journal = s.journal[i:]
			return fmt.Errorf("commit entry %d of %d: %w", i+1, total, err)
		}
	}
	s.reset()
	return nil
}

// Discard drops buffered writes and cached reads
func (s *StateDB) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// --- Accounts ---

// account loads and caches balance and nonce. Caller holds the lock.
func (s *StateDB) account(addr core.Address) (*accountState, error) {
	if acc, ok := s.accounts[addr]; ok {
		return acc, nil
	}
	balance, err := s.parent.GetBalance(addr)
	if err != nil {
		return nil, err
	}
	nonce, err := s.parent.GetNonce(addr)
	if err != nil {
		return nil, err
	}
	acc := &accountState{balance: new(uint256.Int).Set(balance), nonce: nonce}
	s.accounts[addr] = acc
	s.readSet[string(core.MakeAccountKey(addr))] = struct{}{}
	return acc, nil
}

func (s *StateDB) write(key core.StateKey, apply func(core.StateStore) error) {
	s.writeSet[string(key)] = struct{}{}
	s.journal = append(s.journal, apply)
}

// GetBalance returns the balance of an account
func (s *StateDB) GetBalance(addr core.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(acc.balance), nil
}

// GetNonce returns the nonce of an account
func (s *StateDB) GetNonce(addr core.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(addr)
	if err != nil {
		return 0, err
	}
	return acc.nonce, nil
}

// AddBalance adds to the balance of an account
func (s *StateDB) AddBalance(addr core.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc.balance, amount)
	if overflow {
		return fmt.Errorf("balance overflow for %s", addr)
	}
	acc.balance = sum

	amt := new(uint256.Int).Set(amount)
	s.write(core.MakeAccountKey(addr), func(p core.StateStore) error {
		return p.AddBalance(addr, amt)
	})
	return nil
}

// SubBalance subtracts from the balance of an account
func (s *StateDB) SubBalance(addr core.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(addr)
	if err != nil {
		return err
	}
	if acc.balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, want %s", core.ErrInsufficientBalance, acc.balance.Dec(), amount.Dec())
	}
	acc.balance = new(uint256.Int).Sub(acc.balance, amount)

	amt := new(uint256.Int).Set(amount)
	s.write(core.MakeAccountKey(addr), func(p core.StateStore) error {
		return p.SubBalance(addr, amt)
	})
	return nil
}

// IncrementNonce increments the nonce of an account
func (s *StateDB) IncrementNonce(addr core.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.account(addr)
	if err != nil {
		return err
	}
	acc.nonce++

	s.write(core.MakeAccountKey(addr), func(p core.StateStore) error {
		return p.IncrementNonce(addr)
	})
	return nil
}

// --- Code ---

// GetCode returns the code of a contract
func (s *StateDB) GetCode(addr core.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.code[addr]; ok {
		return bytes.Clone(code), nil
	}
	code, err := s.parent.GetCode(addr)
	if err != nil {
		return nil, err
	}
	s.code[addr] = bytes.Clone(code)
	s.readSet[string(core.MakeCodeKey(addr))] = struct{}{}
	return code, nil
}

// SetCode sets the code of a contract
func (s *StateDB) SetCode(addr core.Address, code []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := bytes.Clone(code)
	s.code[addr] = stored
	s.write(core.MakeCodeKey(addr), func(p core.StateStore) error {
		return p.SetCode(addr, stored)
	})
	return nil
}

// --- Storage Slots ---

// GetStorage returns a storage slot value
func (s *StateDB) GetStorage(addr core.Address, key core.Hash) (core.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(core.MakeStorageKey(addr, key))
	if value, ok := s.slots[k]; ok {
		return value, nil
	}
	value, err := s.parent.GetStorage(addr, key)
	if err != nil {
		return core.Hash{}, err
	}
	s.slots[k] = value
	s.readSet[k] = struct{}{}
	return value, nil
}

// SetStorage sets a storage slot value
func (s *StateDB) SetStorage(addr core.Address, key, value core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := core.MakeStorageKey(addr, key)
	s.slots[string(sk)] = value
	s.write(sk, func(p core.StateStore) error {
		return p.SetStorage(addr, key, value)
	})
	return nil
}

func sortedKeys(set map[string]struct{}) []core.StateKey {
	raw := make([]string, 0, len(set))
	for k := range set {
		raw = append(raw, k)
	}
	slices.Sort(raw)

	keys := make([]core.StateKey, len(raw))
	for i, k := range raw {
		keys[i] = core.StateKey(k)
	}
	return keys
}
