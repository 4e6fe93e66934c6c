package core

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ErrInvalidHex is returned when a hex string cannot be decoded
var ErrInvalidHex = errors.New("invalid hex string")

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents a 32-byte hash (Keccak256) or a 256-bit storage word
type Hash [HashLength]byte

// EmptyHash returns an empty hash
func EmptyHash() Hash {
	return Hash{}
}

// Bytes returns the hash as a byte slice
func (h Hash) Bytes() []byte {
	return h[:]
}

// Hex returns the hash as a hex string with 0x prefix
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements Stringer
func (h Hash) String() string {
	return h.Hex()
}

// IsEmpty returns true if the hash is all zeros
func (h Hash) IsEmpty() bool {
	return h == Hash{}
}

// Uint256 interprets the hash as a big-endian 256-bit integer
func (h Hash) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

// HashFromBytes creates a Hash from bytes
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) >= 32 {
		copy(h[:], b[:32])
	} else {
		copy(h[:], b)
	}
	return h
}

// HashFromUint256 returns the big-endian 32-byte form of v
func HashFromUint256(v *uint256.Int) Hash {
	return Hash(v.Bytes32())
}

// HashFromHex creates a Hash from a hex string (with or without 0x prefix)
func HashFromHex(s string) (Hash, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b), nil
}

// HashData computes the Keccak256 hash of data
func HashData(data []byte) Hash {
	return HashFromBytes(crypto.Keccak256(data))
}

// CodeHash returns the hash recorded for deployed code.
// Empty code has the zero hash.
func CodeHash(code []byte) Hash {
	if len(code) == 0 {
		return Hash{}
	}
	return HashData(code)
}

// Address represents a 20-byte Ethereum-compatible address
type Address [AddressLength]byte

// EmptyAddress returns an empty address
func EmptyAddress() Address {
	return Address{}
}

// Bytes returns the address as a byte slice
func (a Address) Bytes() []byte {
	return a[:]
}

// Hex returns the address as a hex string with 0x prefix
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements Stringer
func (a Address) String() string {
	return a.Hex()
}

// IsEmpty returns true if the address is all zeros
func (a Address) IsEmpty() bool {
	return a == Address{}
}

// AddressFromBytes creates an Address from bytes.
// Longer input keeps the last 20 bytes, shorter input is left-padded.
func AddressFromBytes(b []byte) Address {
	var addr Address
	if len(b) >= 20 {
		copy(addr[:], b[len(b)-20:])
	} else {
		copy(addr[20-len(b):], b)
	}
	return addr
}

// AddressFromHex creates an Address from a hex string (with or without 0x prefix)
func AddressFromHex(s string) (Address, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(b), nil
}

// DecodeHex decodes a hex string with or without 0x prefix.
// Odd-length input is treated as having a leading zero nibble.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Join(ErrInvalidHex, err)
	}
	return b, nil
}

// EncodeHex returns b as a 0x-prefixed hex string
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
