package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

func setupTestStorage(t *testing.T) (*LevelDBStore, func()) {
	dbPath := filepath.Join(t.TempDir(), "testdb")
	store, err := NewLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	cleanup := func() {
		store.Close()
	}

	return store, cleanup
}

// testStateStore checks the StateStore contract shared by every backend
func testStateStore(t *testing.T, store core.StateStore) {
	t.Helper()

	addr := core.Address{0x01, 0x02, 0x03}

	balance, err := store.GetBalance(addr)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	if !balance.IsZero() {
		t.Error("Unknown account should have zero balance")
	}

	if err := store.AddBalance(addr, uint256.NewInt(1000)); err != nil {
		t.Fatalf("Failed to add balance: %v", err)
	}
	if err := store.SubBalance(addr, uint256.NewInt(400)); err != nil {
		t.Fatalf("Failed to sub balance: %v", err)
	}
	err = store.SubBalance(addr, uint256.NewInt(601))
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}
	balance, _ = store.GetBalance(addr)
	if balance.Uint64() != 600 {
		t.Errorf("Balance should be 600, got %s", balance.Dec())
	}

	for i := 0; i < 3; i++ {
		if err := store.IncrementNonce(addr); err != nil {
			t.Fatalf("Failed to increment nonce: %v", err)
		}
	}
	nonce, _ := store.GetNonce(addr)
	if nonce != 3 {
		t.Errorf("Nonce should be 3, got %d", nonce)
	}

	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	if err := store.SetCode(addr, code); err != nil {
		t.Fatalf("Failed to set code: %v", err)
	}
	retrieved, err := store.GetCode(addr)
	if err != nil {
		t.Fatalf("Failed to get code: %v", err)
	}
	if string(retrieved) != string(code) {
		t.Error("Code mismatch")
	}

	slot := core.Hash{0x01}
	value := core.HashFromUint256(uint256.NewInt(42))
	if err := store.SetStorage(addr, slot, value); err != nil {
		t.Fatalf("Failed to set storage: %v", err)
	}
	got, err := store.GetStorage(addr, slot)
	if err != nil {
		t.Fatalf("Failed to get storage: %v", err)
	}
	if got != value {
		t.Errorf("Slot value mismatch: got %s", got.Hex())
	}

	if err := store.SetStorage(addr, slot, core.Hash{}); err != nil {
		t.Fatalf("Failed to clear storage: %v", err)
	}
	got, _ = store.GetStorage(addr, slot)
	if !got.IsEmpty() {
		t.Error("Cleared slot should read as zero")
	}

	unset, _ := store.GetStorage(addr, core.Hash{0xff})
	if !unset.IsEmpty() {
		t.Error("Unset slot should read as zero")
	}
}

func TestLevelDBStoreContract(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	testStateStore(t, store)
}

func TestStateOperations(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	addr := core.Address{0x01, 0x02, 0x03}
	key := core.MakeAccountKey(addr)
	value := []byte("test value")

	// Set state
	err := store.SetState(key, value)
	if err != nil {
		t.Fatalf("Failed to set state: %v", err)
	}

	// Get state
	retrieved, err := store.GetState(key)
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}

	if string(retrieved) != string(value) {
		t.Errorf("Value mismatch: got %s, expected %s", retrieved, value)
	}

	// Delete state
	err = store.DeleteState(key)
	if err != nil {
		t.Fatalf("Failed to delete state: %v", err)
	}

	// Verify deleted
	_, err = store.GetState(key)
	if err != ErrNotFound {
		t.Error("Should return ErrNotFound after deletion")
	}
}

func TestAccountOperations(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	addr := core.Address{0x01, 0x02, 0x03}

	// Get non-existent account (should return new empty account)
	acc, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}

	if !acc.Balance.IsZero() {
		t.Error("New account should have zero balance")
	}

	// Modify and save account
	acc.AddBalance(uint256.NewInt(1000))
	acc.IncrementNonce()

	err = store.SetAccount(acc)
	if err != nil {
		t.Fatalf("Failed to save account: %v", err)
	}

	// Retrieve and verify
	retrieved, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}

	if retrieved.Balance.Uint64() != 1000 {
		t.Error("Balance mismatch")
	}

	if retrieved.Nonce != 1 {
		t.Errorf("Nonce should be 1, got %d", retrieved.Nonce)
	}
}

func TestSetCodeRecordsCodeHash(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	contractAddr := core.Address{0xCA, 0xFE}
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}

	if err := store.SetCode(contractAddr, code); err != nil {
		t.Fatalf("Failed to set contract code: %v", err)
	}

	acc, err := store.GetAccount(contractAddr)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if acc.CodeHash != core.HashData(code) {
		t.Errorf("Code hash mismatch: got %s", acc.CodeHash.Hex())
	}

	// Clearing code clears the hash
	if err := store.SetCode(contractAddr, nil); err != nil {
		t.Fatalf("Failed to clear code: %v", err)
	}
	acc, _ = store.GetAccount(contractAddr)
	if !acc.CodeHash.IsEmpty() {
		t.Error("Empty code should have the zero code hash")
	}
	retrieved, _ := store.GetCode(contractAddr)
	if len(retrieved) != 0 {
		t.Error("Code should be empty after clearing")
	}
}

func TestLevelDBPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb")
	addr := core.Address{0xAB}

	store, err := NewLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	if err := store.AddBalance(addr, uint256.NewInt(77)); err != nil {
		t.Fatalf("Failed to add balance: %v", err)
	}
	if err := store.SetStorage(addr, core.Hash{0x01}, core.Hash{0x02}); err != nil {
		t.Fatalf("Failed to set storage: %v", err)
	}
	store.Close()

	reopened, err := NewLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer reopened.Close()

	balance, _ := reopened.GetBalance(addr)
	if balance.Uint64() != 77 {
		t.Errorf("Balance should survive reopen, got %s", balance.Dec())
	}
	slot, _ := reopened.GetStorage(addr, core.Hash{0x01})
	if slot != (core.Hash{0x02}) {
		t.Error("Storage slot should survive reopen")
	}
}

func TestSchemaVersion(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	version, err := store.GetVersion()
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("Version should be %d, got %d", SchemaVersion, version)
	}

	if err := store.setVersion(SchemaVersion + 1); err != nil {
		t.Fatalf("Failed to write version: %v", err)
	}
	path := store.Path()
	store.Close()

	_, err = NewLevelDBStore(path)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Expected ErrVersionMismatch, got %v", err)
	}
}

func TestIterateState(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	contract := core.Address{0xCA}
	for i := byte(1); i <= 3; i++ {
		if err := store.SetStorage(contract, core.Hash{i}, core.Hash{i}); err != nil {
			t.Fatalf("Failed to set storage: %v", err)
		}
	}
	if err := store.AddBalance(contract, uint256.NewInt(1)); err != nil {
		t.Fatalf("Failed to add balance: %v", err)
	}

	count := 0
	err := store.IterateState(core.KeyTypeStorage, func(key core.StateKey, value []byte) error {
		addr, slot, ok := core.ParseStorageKey(key)
		if !ok {
			t.Errorf("Unexpected key in storage iteration: %s", key)
		}
		if addr != contract {
			t.Errorf("Unexpected contract %s", addr.Hex())
		}
		if core.HashFromBytes(value) != slot {
			t.Error("Value should equal slot in this fixture")
		}
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 storage entries, got %d", count)
	}
}

func TestUint64Conversion(t *testing.T) {
	tests := []uint64{0, 1, 255, 256, 65535, 1 << 32, 1<<64 - 1}

	for _, n := range tests {
		b := uint64ToBytes(n)
		if len(b) != 8 {
			t.Errorf("Expected 8 bytes, got %d", len(b))
		}
		if got := bytesToUint64(b); got != n {
			t.Errorf("Conversion mismatch: got %d, expected %d", got, n)
		}
	}

	if bytesToUint64([]byte{0x01}) != 0 {
		t.Error("Short input should decode to 0")
	}
}
