package executor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

var testCreator = core.AddressFromBytes([]byte{0xC0})

// initCodeFor builds init code returning runtime, which must fit in a word
func initCodeFor(runtime []byte) []byte {
	n := byte(len(runtime))
	code := []byte{PUSH1 + n - 1}
	code = append(code, runtime...)
	return append(code,
		PUSH1, 0x00, // offset
		MSTORE,
		PUSH1, n, // size
		PUSH1, 32 - n, // offset
		RETURN,
	)
}

func TestCreateAddress(t *testing.T) {
	a0 := CreateAddress(testCreator, 0)
	if a0 != CreateAddress(testCreator, 0) {
		t.Error("CreateAddress is not deterministic")
	}
	if a0 == CreateAddress(testCreator, 1) {
		t.Error("Different nonces gave the same address")
	}
	if a0 == CreateAddress(testCaller, 0) {
		t.Error("Different creators gave the same address")
	}

	// keccak256(creator || 8-byte big-endian nonce)[12:]
	buf := append(testCreator.Bytes(), 0, 0, 0, 0, 0, 0, 0, 7)
	want := core.AddressFromBytes(core.HashData(buf).Bytes()[12:])
	if got := CreateAddress(testCreator, 7); got != want {
		t.Errorf("CreateAddress = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDeploy_ReturnsWordOfMemory(t *testing.T) {
	evm, store := setupTestEVM(t)

	code := []byte{
		PUSH1, 0xAB,
		PUSH1, 0x00,
		MSTORE,
		PUSH1, 0x20, // size
		PUSH1, 0x00, // offset
		RETURN,
	}
	value := uint256.NewInt(1000)

	addr, result, err := evm.Deploy(testCreator, code, value, 100000, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if addr != CreateAddress(testCreator, 0) {
		t.Errorf("Address = %s, want %s", addr.Hex(), CreateAddress(testCreator, 0).Hex())
	}
	if !result.Success || len(result.ReturnData) != 32 {
		t.Fatalf("Result = %+v", result)
	}

	acc, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acc.CodeHash != core.HashData(result.ReturnData) {
		t.Errorf("CodeHash = %s, want keccak256 of the returned word", acc.CodeHash.Hex())
	}
	if acc.Balance.Cmp(value) != 0 {
		t.Errorf("Balance = %s, want %s", acc.Balance.Dec(), value.Dec())
	}
	stored, _ := store.GetCode(addr)
	if !bytes.Equal(stored, result.ReturnData) {
		t.Errorf("Code = %x, want %x", stored, result.ReturnData)
	}
	if nonce, _ := store.GetNonce(testCreator); nonce != 1 {
		t.Errorf("Creator nonce = %d, want 1", nonce)
	}
}

func TestDeploy_RuntimeIsCallable(t *testing.T) {
	evm, _ := setupTestEVM(t)

	runtime := returnStackTop(PUSH1, 0x2A)
	addr, _, err := evm.Deploy(testCreator, initCodeFor(runtime), nil, 100000, nil)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	ctx := testContext(100000)
	ctx.Address = addr
	if got := resultToInt(t, evm.Call(ctx)); got.Uint64() != 0x2A {
		t.Errorf("Deployed contract returned %d, want 0x2A", got.Uint64())
	}

	// The next deployment gets a fresh address
	second, _, err := evm.Deploy(testCreator, initCodeFor(runtime), nil, 100000, nil)
	if err != nil {
		t.Fatalf("Second deploy failed: %v", err)
	}
	if second == addr || second != CreateAddress(testCreator, 1) {
		t.Errorf("Second address = %s", second.Hex())
	}
}

func TestDeploy_Failure(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		gas     uint64
		wantErr error
	}{
		{"revert", []byte{PUSH1, 0x00, PUSH1, 0x00, REVERT}, 100000, ErrExecutionReverted},
		{"out of gas", initCodeFor([]byte{0x01}), 10, ErrOutOfGas},
		{"invalid opcode", []byte{0xEF}, 100000, ErrInvalidOpcode},
		{"code too large", []byte{
			PUSH2, 0x60, 0x01, // MaxCodeSize + 1
			PUSH1, 0x00,
			RETURN,
		}, 1000000, ErrMaxCodeSizeExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evm, store := setupTestEVM(t)
			addr, result, err := evm.Deploy(testCreator, tt.code, uint256.NewInt(5), tt.gas, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Deploy error = %v, want %v", err, tt.wantErr)
			}
			if result == nil || result.Success {
				t.Fatalf("Result = %+v, want failure", result)
			}
			if !addr.IsEmpty() {
				t.Errorf("Failed deploy returned address %s", addr.Hex())
			}

			target := CreateAddress(testCreator, 0)
			if code, _ := store.GetCode(target); len(code) != 0 {
				t.Errorf("Failed deploy stored %d bytes of code", len(code))
			}
			if bal, _ := store.GetBalance(target); !bal.IsZero() {
				t.Errorf("Failed deploy credited %s", bal.Dec())
			}
			if nonce, _ := store.GetNonce(testCreator); nonce != 0 {
				t.Errorf("Failed deploy bumped nonce to %d", nonce)
			}
		})
	}
}

func TestDeploy_JournalingDropsInitWrites(t *testing.T) {
	evm, store := setupTestEVM(t, WithJournaling(true))

	_, _, err := evm.Deploy(testCreator, sstoreThen(PUSH1, 0x00, PUSH1, 0x00, REVERT), nil, 100000, nil)
	if !errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("Deploy error = %v, want ErrExecutionReverted", err)
	}
	slot, _ := store.GetStorage(CreateAddress(testCreator, 0), core.Hash{31: 0x01})
	if !slot.IsEmpty() {
		t.Errorf("Reverted init code persisted slot %s", slot.Hex())
	}
}

func TestDeploy_StartingBalanceIsValue(t *testing.T) {
	tests := []struct {
		name      string
		prefunded uint64
		value     uint64
	}{
		{"prefunded below value", 500, 1000},
		{"prefunded above value", 1500, 1000},
		{"prefunded without value", 700, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evm, store := setupTestEVM(t)
			addr := CreateAddress(testCreator, 0)
			if err := store.AddBalance(addr, uint256.NewInt(tt.prefunded)); err != nil {
				t.Fatalf("AddBalance failed: %v", err)
			}

			got, _, err := evm.Deploy(testCreator, initCodeFor([]byte{STOP}), uint256.NewInt(tt.value), 100000, uint256.NewInt(1))
			if err != nil {
				t.Fatalf("Deploy failed: %v", err)
			}
			if got != addr {
				t.Fatalf("Address = %s, want %s", got.Hex(), addr.Hex())
			}
			if bal, _ := store.GetBalance(addr); bal.Uint64() != tt.value {
				t.Errorf("Balance = %d, want %d", bal.Uint64(), tt.value)
			}
		})
	}
}
