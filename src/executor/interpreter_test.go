package executor

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/fairvm/go-fairvm/src/storage"
	"github.com/holiman/uint256"
)

var errBackend = errors.New("backend unavailable")

// brokenStore fails every slot access
type brokenStore struct {
	*storage.MemoryStore
}

func (s *brokenStore) GetStorage(addr core.Address, key core.Hash) (core.Hash, error) {
	return core.Hash{}, errBackend
}

func (s *brokenStore) SetStorage(addr core.Address, key, value core.Hash) error {
	return errBackend
}

func TestExecute_AddThenReturn(t *testing.T) {
	// PUSH1 3, PUSH1 5, ADD, PUSH1 0, PUSH1 32, RETURN as written returns
	// offset 32 with size 0, leaving the sum on the stack
	t.Run("literal", func(t *testing.T) {
		e, _ := newTestExecutor(nil, 10000)
		code := []byte{
			PUSH1, 0x03,
			PUSH1, 0x05,
			ADD,
			PUSH1, 0x00,
			PUSH1, 0x20,
			RETURN,
		}
		result := e.Execute(code)
		if !result.Success {
			t.Fatalf("Execution failed: %v", result.Err)
		}
		if len(result.ReturnData) != 0 {
			t.Errorf("ReturnData = %x, want empty", result.ReturnData)
		}
		top, err := e.Stack().Peek()
		if err != nil || top.Uint64() != 8 {
			t.Errorf("Stack top = %d (%v), want 8", top.Uint64(), err)
		}
	})

	t.Run("stored", func(t *testing.T) {
		code := []byte{
			PUSH1, 0x03,
			PUSH1, 0x05,
			ADD,
			PUSH1, 0x00,
			MSTORE,
			PUSH1, 0x20, // size
			PUSH1, 0x00, // offset
			RETURN,
		}
		result := executeCode(t, code, 10000)
		want := make([]byte, 32)
		want[31] = 8
		if !bytes.Equal(result.ReturnData, want) {
			t.Errorf("ReturnData = %x, want %x", result.ReturnData, want)
		}
	})
}

func TestExecute_JumpiContinues(t *testing.T) {
	tests := []struct {
		name   string
		target byte
		err    error
	}{
		// byte 5 is a PUSH1, not the JUMPDEST
		{"push opcode target", 0x05, ErrInvalidJump},
		{"jumpdest target", 0x07, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestExecutor(nil, 10000)
			code := []byte{
				PUSH1, 0x01, // 0 condition
				PUSH1, tt.target, // 2
				JUMPI,       // 4
				PUSH1, 0x00, // 5
				JUMPDEST,    // 7
				PUSH1, 0x02, // 8
			}
			result := e.Execute(code)
			if tt.err != nil {
				if !errors.Is(result.Err, tt.err) {
					t.Fatalf("Error = %v, want %v", result.Err, tt.err)
				}
				return
			}
			if !result.Success {
				t.Fatalf("Execution failed: %v", result.Err)
			}
			data := e.Stack().Data()
			if len(data) != 1 || data[0].Uint64() != 2 {
				t.Errorf("Stack = %v, want [2]", data)
			}
		})
	}
}

func TestExecute_JumpIntoPushData(t *testing.T) {
	code := []byte{
		PUSH1, 0x04, // 0
		JUMP,        // 2
		PUSH1, 0x5B, // 3, byte 4 equals JUMPDEST
		STOP,
	}
	result := executeCode(t, code, 10000)
	if !errors.Is(result.Err, ErrInvalidJump) {
		t.Errorf("Jump into push data error = %v, want ErrInvalidJump", result.Err)
	}

	// Out of range and oversized destinations
	for _, code := range [][]byte{
		{PUSH1, 0x10, JUMP},
		concat(push32(maxUint256()), []byte{JUMP}),
	} {
		result := executeCode(t, code, 10000)
		if !errors.Is(result.Err, ErrInvalidJump) {
			t.Errorf("Jump error = %v, want ErrInvalidJump", result.Err)
		}
	}
}

func TestJumpDestAnalysis(t *testing.T) {
	code := []byte{
		JUMPDEST,              // 0
		PUSH2, JUMPDEST, 0x00, // 1
		JUMPDEST,              // 4
		PUSH32,                // 5, operand runs past the end
		JUMPDEST, 0,           // 6, 7
	}
	bits := jumpDestAnalysis(code)
	codeLen := uint64(len(code))

	for pc, want := range map[uint64]bool{0: true, 1: false, 2: false, 4: true, 6: false, 100: false} {
		if got := validJumpdest(bits, codeLen, pc); got != want {
			t.Errorf("validJumpdest(%d) = %v, want %v", pc, got, want)
		}
	}
}

func TestExecute_OutOfGas(t *testing.T) {
	e, _ := newTestExecutor(nil, 8)
	result := e.Execute([]byte{PUSH1, 0x01, PUSH1, 0x02, ADD})
	if !errors.Is(result.Err, ErrOutOfGas) {
		t.Fatalf("Error = %v, want ErrOutOfGas", result.Err)
	}
	// The two pushes fit, ADD does not
	if result.GasUsed != 6 {
		t.Errorf("GasUsed = %d, want 6", result.GasUsed)
	}
	if e.PC() != 4 {
		t.Errorf("Stopped at pc %d, want 4", e.PC())
	}
	if e.Stack().Len() != 2 {
		t.Errorf("Stack length = %d, want 2", e.Stack().Len())
	}
}

func TestExecute_OutOfGasLoop(t *testing.T) {
	code := []byte{
		JUMPDEST,
		PUSH1, 0x00,
		JUMP,
	}
	for _, limit := range []uint64{0, 1, 11, 50, 1000} {
		result := executeCode(t, code, limit)
		if !errors.Is(result.Err, ErrOutOfGas) {
			t.Errorf("limit %d: error = %v, want ErrOutOfGas", limit, result.Err)
		}
		if result.GasUsed > limit {
			t.Errorf("limit %d: GasUsed = %d exceeds limit", limit, result.GasUsed)
		}
	}

	// Each iteration costs 11; the fifth JUMP cannot be paid
	if result := executeCode(t, code, 50); result.GasUsed != 47 {
		t.Errorf("GasUsed = %d, want 47", result.GasUsed)
	}
}

func TestExecute_DynamicGas(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		gas  uint64
	}{
		{"memory expansion", []byte{PUSH1, 0x01, PUSH1, 0x00, MSTORE}, 3 + 3 + 3 + 3},
		{"no second expansion", []byte{PUSH1, 0x01, PUSH1, 0x00, MSTORE, PUSH1, 0x00, MLOAD}, 12 + 3 + 3},
		{"keccak", []byte{PUSH1, 0x20, PUSH1, 0x00, KECCAK256}, 3 + 3 + 30 + 3 + 6},
		{"exp", []byte{PUSH1, 0x0A, PUSH1, 0x02, EXP}, 3 + 3 + 10 + 50},
		{"exp two bytes", []byte{PUSH2, 0x01, 0x00, PUSH1, 0x02, EXP}, 3 + 3 + 10 + 100},
		{"calldatacopy", []byte{PUSH1, 0x40, PUSH1, 0x00, PUSH1, 0x00, CALLDATACOPY}, 3*3 + 3 + 6 + 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := executeCode(t, tt.code, 100000)
			if result.Err != nil {
				t.Fatalf("Execution failed: %v", result.Err)
			}
			if result.GasUsed != tt.gas {
				t.Errorf("GasUsed = %d, want %d", result.GasUsed, tt.gas)
			}
		})
	}
}

func TestExecute_MemoryLimit(t *testing.T) {
	for _, code := range [][]byte{
		{PUSH4, 0xFF, 0xFF, 0xFF, 0xFF, MLOAD},
		concat(push32(maxUint256()), []byte{MLOAD}),
		{PUSH4, 0x01, 0x00, 0x00, 0x01, PUSH1, 0x00, RETURN},
	} {
		result := executeCode(t, code, DefaultGasLimit)
		if !errors.Is(result.Err, ErrMemoryLimit) {
			t.Errorf("Error = %v, want ErrMemoryLimit", result.Err)
		}
	}

	// A zero-size region never touches memory, whatever the offset
	code := concat([]byte{PUSH1, 0x00}, push32(maxUint256()), []byte{RETURN})
	if result := executeCode(t, code, 10000); !result.Success {
		t.Errorf("Zero-size RETURN failed: %v", result.Err)
	}
}

func TestExecute_StaticMode(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"SSTORE", []byte{PUSH1, 0x01, PUSH1, 0x01, SSTORE}},
		{"LOG0", []byte{PUSH1, 0x00, PUSH1, 0x00, LOG0}},
		{"LOG4", []byte{LOG4}},
		{"CREATE", []byte{CREATE}},
		{"CREATE2", []byte{CREATE2}},
		{"SELFDESTRUCT", []byte{SELFDESTRUCT}},
		{"CALL with value", callCode(CALL, IdentityAddress, 0xFFFF, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			e := NewExecutor(store, &ExecutionContext{Address: testAddress, GasLimit: 100000, IsStatic: true})
			result := e.Execute(tt.code)
			if !errors.Is(result.Err, ErrWriteProtection) {
				t.Fatalf("Error = %v, want ErrWriteProtection", result.Err)
			}
			val, _ := store.GetStorage(testAddress, core.Hash{31: 0x01})
			if !val.IsEmpty() {
				t.Errorf("Static run wrote storage: %s", val.Hex())
			}
		})
	}

	// Reads and value-free precompile calls are allowed
	e := NewExecutor(storage.NewMemoryStore(), &ExecutionContext{Address: testAddress, GasLimit: 100000, IsStatic: true})
	code := concat([]byte{PUSH1, 0x01, SLOAD, POP}, callCode(CALL, IdentityAddress, 0xFFFF, 0))
	if result := e.Execute(code); !result.Success {
		t.Errorf("Static read failed: %v", result.Err)
	}
}

func TestExecute_TruncatedPush(t *testing.T) {
	for _, code := range [][]byte{
		{PUSH1},
		{PUSH2, 0x01},
		{PUSH1, 0x01, PUSH32, 0x01, 0x02},
	} {
		result := executeCode(t, code, 10000)
		if !errors.Is(result.Err, ErrStopped) {
			t.Errorf("Code %x error = %v, want ErrStopped", code, result.Err)
		}
	}
}

func TestExecute_StackLimit(t *testing.T) {
	e, _ := newTestExecutor(nil, 10000, WithMaxStackDepth(2))
	result := e.Execute([]byte{PUSH1, 0x01, PUSH1, 0x02, PUSH1, 0x03})
	if !errors.Is(result.Err, ErrDepthLimitExceeded) || !errors.Is(result.Err, ErrStackOverflow) {
		t.Errorf("Error = %v, want ErrDepthLimitExceeded", result.Err)
	}
	if e.Stack().Len() != 2 {
		t.Errorf("Stack length = %d, want 2", e.Stack().Len())
	}
}

func TestExecute_StorageError(t *testing.T) {
	store := &brokenStore{MemoryStore: storage.NewMemoryStore()}
	e := NewExecutor(store, &ExecutionContext{Address: testAddress, GasLimit: 100000})

	for _, code := range [][]byte{
		{PUSH1, 0x01, SLOAD},
		{PUSH1, 0x01, PUSH1, 0x01, SSTORE},
	} {
		result := e.Execute(code)
		if !errors.Is(result.Err, ErrStorage) || !errors.Is(result.Err, errBackend) {
			t.Errorf("Error = %v, want ErrStorage wrapping the backend error", result.Err)
		}
	}
}

func TestExecute_ResetsBetweenRuns(t *testing.T) {
	e, _ := newTestExecutor(nil, 100000)
	code := returnStackTop(PUSH1, 0x00, MLOAD, PUSH1, 0x01, ADD)

	first := e.Execute(code)
	second := e.Execute(code)
	if !bytes.Equal(first.ReturnData, second.ReturnData) {
		t.Errorf("Runs differ: %x vs %x", first.ReturnData, second.ReturnData)
	}
	if first.GasUsed != second.GasUsed {
		t.Errorf("Gas differs: %d vs %d", first.GasUsed, second.GasUsed)
	}
	if got := new(uint256.Int).SetBytes(second.ReturnData); got.Uint64() != 1 {
		t.Errorf("Second run saw stale memory: %d", got.Uint64())
	}
}

func TestExecute_FailureDropsLogs(t *testing.T) {
	code := []byte{
		PUSH1, 0x00,
		PUSH1, 0x00,
		LOG0,
		PUSH1, 0x00,
		PUSH1, 0x00,
		REVERT,
	}
	result := executeCode(t, code, 10000)
	if !result.Reverted {
		t.Fatalf("Expected revert, got %v", result.Err)
	}
	if len(result.Logs) != 0 {
		t.Errorf("Reverted run kept %d logs", len(result.Logs))
	}
}

func TestExecute_EmptyCode(t *testing.T) {
	result := executeCode(t, nil, 0)
	if !result.Success || result.GasUsed != 0 || result.Error() != "" {
		t.Errorf("Empty code = %+v, want a free successful run", result)
	}
}

func TestExecute_Interrupt(t *testing.T) {
	loop := []byte{
		JUMPDEST,
		PUSH1, 0x00,
		JUMP,
	}

	closed := make(chan struct{})
	close(closed)
	e, _ := newTestExecutor(nil, 1<<62, WithInterrupt(closed))
	result := e.Execute(loop)
	if !errors.Is(result.Err, ErrExecutionAborted) {
		t.Fatalf("Error = %v, want ErrExecutionAborted", result.Err)
	}
	if result.GasUsed != 0 {
		t.Errorf("GasUsed = %d, want 0 when aborted before the first step", result.GasUsed)
	}

	// Closed mid-run
	done := make(chan struct{})
	timer := time.AfterFunc(20*time.Millisecond, func() { close(done) })
	defer timer.Stop()
	e, _ = newTestExecutor(nil, 1<<62, WithInterrupt(done))
	if result := e.Execute(loop); !errors.Is(result.Err, ErrExecutionAborted) {
		t.Fatalf("Error = %v, want ErrExecutionAborted", result.Err)
	}

	// An open channel leaves gas as the only bound
	e, _ = newTestExecutor(nil, 1000, WithInterrupt(make(chan struct{})))
	if result := e.Execute(loop); !errors.Is(result.Err, ErrOutOfGas) {
		t.Errorf("Error = %v, want ErrOutOfGas", result.Err)
	}
}
