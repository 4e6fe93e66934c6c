package core

import (
	"bytes"
	"encoding/hex"
)

// Key type prefixes for the state database
const (
	KeyTypeAccount byte = 0x01 // Balance, nonce and code hash
	KeyTypeStorage byte = 0x02 // Contract storage slots
	KeyTypeCode    byte = 0x03 // Deployed contract code
)

const (
	accountKeyLen = 1 + 20
	storageKeyLen = 1 + 20 + 32
)

// StateKey identifies one entry in the state database.
// Overlays use it for read-set and write-set tracking.
type StateKey []byte

// String returns the hex representation for logs/debug
func (k StateKey) String() string {
	return hex.EncodeToString(k)
}

// Bytes returns the underlying byte slice
func (k StateKey) Bytes() []byte {
	return k
}

// Type returns the key type prefix
func (k StateKey) Type() byte {
	if len(k) == 0 {
		return 0
	}
	return k[0]
}

// Equal checks if two StateKeys are equal
func (k StateKey) Equal(other StateKey) bool {
	return bytes.Equal(k, other)
}

// Clone creates a copy of the StateKey
func (k StateKey) Clone() StateKey {
	if k == nil {
		return nil
	}
	return bytes.Clone(k)
}

// MakeAccountKey creates a key for account data.
// Format: 0x01 + Address
func MakeAccountKey(address Address) StateKey {
	return prefixedAddressKey(KeyTypeAccount, address)
}

// MakeStorageKey creates a key for a contract storage slot.
// Format: 0x02 + Address + Slot
func MakeStorageKey(contract Address, slot Hash) StateKey {
	k := make([]byte, storageKeyLen)
	k[0] = KeyTypeStorage
	copy(k[1:], contract[:])
	copy(k[21:], slot[:])
	return k
}

// MakeCodeKey creates a key for contract bytecode.
// Format: 0x03 + Address
func MakeCodeKey(contract Address) StateKey {
	return prefixedAddressKey(KeyTypeCode, contract)
}

func prefixedAddressKey(prefix byte, address Address) StateKey {
	k := make([]byte, accountKeyLen)
	k[0] = prefix
	copy(k[1:], address[:])
	return k
}

// ParseAccountKey extracts the address from an account key
func ParseAccountKey(k StateKey) (Address, bool) {
	if len(k) != accountKeyLen || k[0] != KeyTypeAccount {
		return Address{}, false
	}
	return AddressFromBytes(k[1:]), true
}

// ParseStorageKey extracts contract address and slot from a storage key
func ParseStorageKey(k StateKey) (Address, Hash, bool) {
	if len(k) != storageKeyLen || k[0] != KeyTypeStorage {
		return Address{}, Hash{}, false
	}
	return AddressFromBytes(k[1:21]), HashFromBytes(k[21:]), true
}

// ParseCodeKey extracts the address from a code key
func ParseCodeKey(k StateKey) (Address, bool) {
	if len(k) != accountKeyLen || k[0] != KeyTypeCode {
		return Address{}, false
	}
	return AddressFromBytes(k[1:]), true
}
