package executor

import "fmt"

// Opcode byte values
const (
	// Stop and Arithmetic Operations
	STOP       byte = 0x00
	ADD        byte = 0x01
	MUL        byte = 0x02
	SUB        byte = 0x03
	DIV        byte = 0x04
	SDIV       byte = 0x05
	MOD        byte = 0x06
	SMOD       byte = 0x07
	ADDMOD     byte = 0x08
	MULMOD     byte = 0x09
	EXP        byte = 0x0A
	SIGNEXTEND byte = 0x0B

	// Comparison & Bitwise Logic Operations
	LT     byte = 0x10
	GT     byte = 0x11
	SLT    byte = 0x12
	SGT    byte = 0x13
	EQ     byte = 0x14
	ISZERO byte = 0x15
	AND    byte = 0x16
	OR     byte = 0x17
	XOR    byte = 0x18
	NOT    byte = 0x19
	BYTE   byte = 0x1A
	SHL    byte = 0x1B
	SHR    byte = 0x1C
	SAR    byte = 0x1D

	// Hashing
	KECCAK256 byte = 0x20

	// Environmental Information
	ADDRESS        byte = 0x30
	BALANCE        byte = 0x31
	ORIGIN         byte = 0x32
	CALLER         byte = 0x33
	CALLVALUE      byte = 0x34
	CALLDATALOAD   byte = 0x35
	CALLDATASIZE   byte = 0x36
	CALLDATACOPY   byte = 0x37
	CODESIZE       byte = 0x38
	CODECOPY       byte = 0x39
	GASPRICE       byte = 0x3A
	EXTCODESIZE    byte = 0x3B
	EXTCODECOPY    byte = 0x3C
	RETURNDATASIZE byte = 0x3D
	RETURNDATACOPY byte = 0x3E
	EXTCODEHASH    byte = 0x3F

	// Block Information
	BLOCKHASH   byte = 0x40
	COINBASE    byte = 0x41
	TIMESTAMP   byte = 0x42
	NUMBER      byte = 0x43
	DIFFICULTY  byte = 0x44 // PREVRANDAO after the merge
	GASLIMIT    byte = 0x45
	CHAINID     byte = 0x46
	SELFBALANCE byte = 0x47
	BASEFEE     byte = 0x48

	// Stack, Memory, Storage and Flow Operations
	POP      byte = 0x50
	MLOAD    byte = 0x51
	MSTORE   byte = 0x52
	MSTORE8  byte = 0x53
	SLOAD    byte = 0x54
	SSTORE   byte = 0x55
	JUMP     byte = 0x56
	JUMPI    byte = 0x57
	PC       byte = 0x58
	MSIZE    byte = 0x59
	GAS      byte = 0x5A
	JUMPDEST byte = 0x5B
	MCOPY    byte = 0x5E // EIP-5656 (Cancun)
	PUSH0    byte = 0x5F // EIP-3855 (Shanghai)

	// Push Operations
	PUSH1  byte = 0x60
	PUSH2  byte = 0x61
	PUSH3  byte = 0x62
	PUSH4  byte = 0x63
	PUSH5  byte = 0x64
	PUSH6  byte = 0x65
	PUSH7  byte = 0x66
	PUSH8  byte = 0x67
	PUSH9  byte = 0x68
	PUSH10 byte = 0x69
	PUSH11 byte = 0x6A
	PUSH12 byte = 0x6B
	PUSH13 byte = 0x6C
	PUSH14 byte = 0x6D
	PUSH15 byte = 0x6E
	PUSH16 byte = 0x6F
	PUSH17 byte = 0x70
	PUSH18 byte = 0x71
	PUSH19 byte = 0x72
	PUSH20 byte = 0x73
	PUSH21 byte = 0x74
	PUSH22 byte = 0x75
	PUSH23 byte = 0x76
	PUSH24 byte = 0x77
	PUSH25 byte = 0x78
	PUSH26 byte = 0x79
	PUSH27 byte = 0x7A
	PUSH28 byte = 0x7B
	PUSH29 byte = 0x7C
	PUSH30 byte = 0x7D
	PUSH31 byte = 0x7E
	PUSH32 byte = 0x7F

	// Duplication Operations
	DUP1  byte = 0x80
	DUP2  byte = 0x81
	DUP3  byte = 0x82
	DUP4  byte = 0x83
	DUP5  byte = 0x84
	DUP6  byte = 0x85
	DUP7  byte = 0x86
	DUP8  byte = 0x87
	DUP9  byte = 0x88
	DUP10 byte = 0x89
	DUP11 byte = 0x8A
	DUP12 byte = 0x8B
	DUP13 byte = 0x8C
	DUP14 byte = 0x8D
	DUP15 byte = 0x8E
	DUP16 byte = 0x8F

	// Exchange Operations
	SWAP1  byte = 0x90
	SWAP2  byte = 0x91
	SWAP3  byte = 0x92
	SWAP4  byte = 0x93
	SWAP5  byte = 0x94
	SWAP6  byte = 0x95
	SWAP7  byte = 0x96
	SWAP8  byte = 0x97
	SWAP9  byte = 0x98
	SWAP10 byte = 0x99
	SWAP11 byte = 0x9A
	SWAP12 byte = 0x9B
	SWAP13 byte = 0x9C
	SWAP14 byte = 0x9D
	SWAP15 byte = 0x9E
	SWAP16 byte = 0x9F

	// Logging Operations
	LOG0 byte = 0xA0
	LOG1 byte = 0xA1
	LOG2 byte = 0xA2
	LOG3 byte = 0xA3
	LOG4 byte = 0xA4

	// System Operations
	CREATE       byte = 0xF0
	CALL         byte = 0xF1
	CALLCODE     byte = 0xF2
	RETURN       byte = 0xF3
	DELEGATECALL byte = 0xF4
	CREATE2      byte = 0xF5
	STATICCALL   byte = 0xFA
	REVERT       byte = 0xFD
	INVALID      byte = 0xFE
	SELFDESTRUCT byte = 0xFF
)

// Opcode is one entry of the opcode table
type Opcode struct {
	Code       byte
	Name       string
	BaseGas    uint64 // static cost; dynamic parts are charged at dispatch
	Immediates int    // operand bytes following the opcode (PUSH1..PUSH32)
}

func (o *Opcode) String() string {
	return o.Name
}

var opcodeTable [256]*Opcode

func def(code byte, name string, gas uint64) {
	opcodeTable[code] = &Opcode{Code: code, Name: name, BaseGas: gas}
}

func init() {
	def(STOP, "STOP", 0)
	def(ADD, "ADD", 3)
	def(MUL, "MUL", 5)
	def(SUB, "SUB", 3)
	def(DIV, "DIV", 5)
	def(SDIV, "SDIV", 5)
	def(MOD, "MOD", 5)
	def(SMOD, "SMOD", 5)
	def(ADDMOD, "ADDMOD", 8)
	def(MULMOD, "MULMOD", 8)
	def(EXP, "EXP", 10)
	def(SIGNEXTEND, "SIGNEXTEND", 5)

	def(LT, "LT", 3)
	def(GT, "GT", 3)
	def(SLT, "SLT", 3)
	def(SGT, "SGT", 3)
	def(EQ, "EQ", 3)
	def(ISZERO, "ISZERO", 3)
	def(AND, "AND", 3)
	def(OR, "OR", 3)
	def(XOR, "XOR", 3)
	def(NOT, "NOT", 3)
	def(BYTE, "BYTE", 3)
	def(SHL, "SHL", 3)
	def(SHR, "SHR", 3)
	def(SAR, "SAR", 3)

	def(KECCAK256, "KECCAK256", 30)

	def(ADDRESS, "ADDRESS", 2)
	def(BALANCE, "BALANCE", 100)
	def(ORIGIN, "ORIGIN", 2)
	def(CALLER, "CALLER", 2)
	def(CALLVALUE, "CALLVALUE", 2)
	def(CALLDATALOAD, "CALLDATALOAD", 3)
	def(CALLDATASIZE, "CALLDATASIZE", 2)
	def(CALLDATACOPY, "CALLDATACOPY", 3)
	def(CODESIZE, "CODESIZE", 2)
	def(CODECOPY, "CODECOPY", 3)
	def(GASPRICE, "GASPRICE", 2)
	def(EXTCODESIZE, "EXTCODESIZE", 100)
	def(EXTCODECOPY, "EXTCODECOPY", 100)
	def(RETURNDATASIZE, "RETURNDATASIZE", 2)
	def(RETURNDATACOPY, "RETURNDATACOPY", 3)
	def(EXTCODEHASH, "EXTCODEHASH", 100)

	def(BLOCKHASH, "BLOCKHASH", 20)
	def(COINBASE, "COINBASE", 2)
	def(TIMESTAMP, "TIMESTAMP", 2)
	def(NUMBER, "NUMBER", 2)
	def(DIFFICULTY, "DIFFICULTY", 2)
	def(GASLIMIT, "GASLIMIT", 2)
	def(CHAINID, "CHAINID", 2)
	def(SELFBALANCE, "SELFBALANCE", 5)
	def(BASEFEE, "BASEFEE", 2)

	def(POP, "POP", 3)
	def(MLOAD, "MLOAD", 3)
	def(MSTORE, "MSTORE", 3)
	def(MSTORE8, "MSTORE8", 3)
	def(SLOAD, "SLOAD", 200)
	def(SSTORE, "SSTORE", 20000)
	def(JUMP, "JUMP", 8)
	def(JUMPI, "JUMPI", 10)
	def(PC, "PC", 2)
	def(MSIZE, "MSIZE", 2)
	def(GAS, "GAS", 2)
	def(JUMPDEST, "JUMPDEST", 0)
	def(MCOPY, "MCOPY", 3)
	def(PUSH0, "PUSH0", 2)

	for i := 0; i < 32; i++ {
		op := PUSH1 + byte(i)
		opcodeTable[op] = &Opcode{Code: op, Name: fmt.Sprintf("PUSH%d", i+1), BaseGas: 3, Immediates: i + 1}
	}
	for i := 0; i < 16; i++ {
		def(DUP1+byte(i), fmt.Sprintf("DUP%d", i+1), 3)
		def(SWAP1+byte(i), fmt.Sprintf("SWAP%d", i+1), 3)
	}
	for i := 0; i <= 4; i++ {
		def(LOG0+byte(i), fmt.Sprintf("LOG%d", i), 375*uint64(i+1))
	}

	def(CREATE, "CREATE", 32000)
	def(CALL, "CALL", 700)
	def(CALLCODE, "CALLCODE", 700)
	def(RETURN, "RETURN", 0)
	def(DELEGATECALL, "DELEGATECALL", 700)
	def(CREATE2, "CREATE2", 32000)
	def(STATICCALL, "STATICCALL", 700)
	def(REVERT, "REVERT", 0)
	def(INVALID, "INVALID", 0)
	def(SELFDESTRUCT, "SELFDESTRUCT", 5000)
}

// LookupOpcode decodes a byte. Unassigned values fail with *InvalidOpcodeError.
func LookupOpcode(b byte) (*Opcode, error) {
	if op := opcodeTable[b]; op != nil {
		return op, nil
	}
	return nil, &InvalidOpcodeError{Op: b}
}

// OpcodeName returns the human-readable name of an opcode
func OpcodeName(b byte) string {
	if op := opcodeTable[b]; op != nil {
		return op.Name
	}
	return "UNKNOWN"
}

// IsPush reports whether b is one of PUSH1..PUSH32
func IsPush(b byte) bool {
	return b >= PUSH1 && b <= PUSH32
}
