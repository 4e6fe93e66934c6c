package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestHashFromBytes(t *testing.T) {
	// Test with exact 32 bytes
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	hash := HashFromBytes(data)
	for i := range hash {
		if hash[i] != byte(i) {
			t.Errorf("Hash byte mismatch at index %d", i)
		}
	}

	// Test with less than 32 bytes
	shortData := []byte{1, 2, 3}
	shortHash := HashFromBytes(shortData)
	if shortHash[0] != 1 || shortHash[1] != 2 || shortHash[2] != 3 {
		t.Error("Short data not copied correctly")
	}

	// Test with more than 32 bytes
	longData := make([]byte, 64)
	for i := range longData {
		longData[i] = byte(i)
	}
	longHash := HashFromBytes(longData)
	for i := 0; i < 32; i++ {
		if longHash[i] != byte(i) {
			t.Errorf("Long data hash byte mismatch at index %d", i)
		}
	}
}

func TestHashFromHex(t *testing.T) {
	hexStr := "0x0102030405060708091011121314151617181920212223242526272829303132"
	hash, err := HashFromHex(hexStr)
	if err != nil {
		t.Fatalf("Failed to parse hex: %v", err)
	}

	if hash[0] != 0x01 || hash[31] != 0x32 {
		t.Error("Hash bytes not correct")
	}

	// Test without 0x prefix
	hash2, err := HashFromHex(hexStr[2:])
	if err != nil {
		t.Fatalf("Failed to parse hex without prefix: %v", err)
	}
	if hash != hash2 {
		t.Error("Hash should be same with or without 0x prefix")
	}
}

func TestHashHex(t *testing.T) {
	hash := Hash{0x01, 0x02, 0x03}
	hex := hash.Hex()
	if hex[:2] != "0x" {
		t.Error("Hex should start with 0x")
	}
	if len(hex) != 66 { // 0x + 64 hex chars
		t.Errorf("Hex length should be 66, got %d", len(hex))
	}
}

func TestHashIsEmpty(t *testing.T) {
	empty := EmptyHash()
	if !empty.IsEmpty() {
		t.Error("Empty hash should be empty")
	}

	notEmpty := Hash{0x01}
	if notEmpty.IsEmpty() {
		t.Error("Non-empty hash should not be empty")
	}
}

func TestAddressFromBytes(t *testing.T) {
	// Test with exact 20 bytes
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	addr := AddressFromBytes(data)
	for i := range addr {
		if addr[i] != byte(i) {
			t.Errorf("Address byte mismatch at index %d", i)
		}
	}

	// Test with more than 20 bytes (should take last 20)
	longData := make([]byte, 32)
	for i := range longData {
		longData[i] = byte(i)
	}
	longAddr := AddressFromBytes(longData)
	for i := 0; i < 20; i++ {
		if longAddr[i] != byte(i+12) {
			t.Errorf("Long data address byte mismatch at index %d: got %d, expected %d", i, longAddr[i], i+12)
		}
	}
}

func TestAddressFromHex(t *testing.T) {
	hexStr := "0x742d35Cc6634C0532925a3b844Bc9e7595f50000"
	addr, err := AddressFromHex(hexStr)
	if err != nil {
		t.Fatalf("Failed to parse address hex: %v", err)
	}

	// Address hex is lowercase, compare case-insensitively
	expected := "0x742d35cc6634c0532925a3b844bc9e7595f50000"
	if addr.Hex() != expected {
		t.Errorf("Address hex mismatch: got %s, expected %s", addr.Hex(), expected)
	}
}

func TestHashUint256RoundTrip(t *testing.T) {
	v := uint256.NewInt(0x1234)
	h := HashFromUint256(v)
	if h[30] != 0x12 || h[31] != 0x34 {
		t.Errorf("Hash should be big-endian, got %s", h.Hex())
	}
	if !h.Uint256().Eq(v) {
		t.Errorf("Round trip mismatch: got %s", h.Uint256().Dec())
	}
}

func TestHashData(t *testing.T) {
	// keccak256 of the empty string
	expected := "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got := HashData(nil).Hex(); got != expected {
		t.Errorf("HashData(nil) = %s, expected %s", got, expected)
	}
}

func TestCodeHash(t *testing.T) {
	if !CodeHash(nil).IsEmpty() {
		t.Error("Empty code should have the zero code hash")
	}
	code := []byte{0x60, 0x00}
	if CodeHash(code) != HashData(code) {
		t.Error("Code hash should be keccak256 of the code")
	}
}

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  []byte
		expectErr bool
	}{
		{"prefixed", "0x0102", []byte{0x01, 0x02}, false},
		{"unprefixed", "ff", []byte{0xff}, false},
		{"odd length", "0x123", []byte{0x01, 0x23}, false},
		{"empty", "0x", []byte{}, false},
		{"invalid", "0xzz", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHex(tt.input)
			if tt.expectErr {
				if !errors.Is(err, ErrInvalidHex) {
					t.Errorf("Expected ErrInvalidHex, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Got %x, expected %x", got, tt.expected)
			}
		})
	}
}

func TestEncodeHex(t *testing.T) {
	if got := EncodeHex([]byte{0xde, 0xad}); got != "0xdead" {
		t.Errorf("EncodeHex = %s, expected 0xdead", got)
	}
}
