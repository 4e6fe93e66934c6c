package executor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

const (
	// DefaultGasLimit is the gas limit used when none is configured
	DefaultGasLimit = 10000000
	// MaxCodeSize is the maximum size of deployed contract code (24KB)
	MaxCodeSize = 24576

	interruptCheckInterval = 1024
)

// ExecutionContext is the immutable input of one run
type ExecutionContext struct {
	Caller   core.Address // Caller address
	Address  core.Address // Address of the executing code
	Value    *uint256.Int // Value sent with call
	Input    []byte       // Call input data
	GasLimit uint64       // Gas available to the run
	GasPrice *uint256.Int // Gas price
	IsStatic bool         // Forbid state modification
}

// BlockContext holds block-level environment values
type BlockContext struct {
	Origin     core.Address // Original transaction sender
	Coinbase   core.Address // Block producer
	Number     uint64       // Block number
	Time       uint64       // Block timestamp
	GasLimit   uint64       // Block gas limit
	ChainID    *uint256.Int
	BaseFee    *uint256.Int
	Difficulty *uint256.Int

	// GetHash returns the hash of a recent block. Optional.
	GetHash func(number uint64) core.Hash
}

// Log is an event emitted by LOG0..LOG4
type Log struct {
	Address core.Address
	Topics  []core.Hash
	Data    []byte
}

// ExecutionResult is the outcome of one run
type ExecutionResult struct {
	Success    bool   // Halted on STOP, RETURN or end of code
	GasUsed    uint64 // Gas consumed, never above the limit
	ReturnData []byte // RETURN or REVERT payload
	Err        error  // Execution error (if any)
	Reverted   bool   // Whether execution ended in REVERT
	Logs       []*Log // Logs emitted by a successful run
}

// Error returns the error message, or "" for a successful run
func (r *ExecutionResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Observer is notified of every instruction after its base gas is charged
type Observer interface {
	OnStep(pc uint64, op *Opcode, gasRemaining uint64)
}

// Option configures an Executor or an EVM
type Option func(*vmConfig)

type vmConfig struct {
	block       BlockContext
	observer    Observer
	maxDepth    int
	precompiles map[core.Address]PrecompiledContract
	interrupt   <-chan struct{}

	// EVM facade only
	logger     log.Logger
	journaling bool
}

func newVMConfig(opts []Option) vmConfig {
	cfg := vmConfig{
		maxDepth:    MaxStackSize,
		precompiles: DefaultPrecompiles(),
		logger:      log.Root(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithBlockContext sets the block environment
func WithBlockContext(block *BlockContext) Option {
	return func(c *vmConfig) {
		if block != nil {
			c.block = *block
		}
	}
}

// WithObserver attaches a step observer
func WithObserver(o Observer) Option {
	return func(c *vmConfig) {
		c.observer = o
	}
}

// WithMaxStackDepth overrides the stack depth limit
func WithMaxStackDepth(depth int) Option {
	return func(c *vmConfig) {
		c.maxDepth = depth
	}
}

// WithPrecompiles replaces the precompile set reachable by CALL and STATICCALL
func WithPrecompiles(p map[core.Address]PrecompiledContract) Option {
	return func(c *vmConfig) {
		c.precompiles = p
	}
}

// WithInterrupt aborts a run with ErrExecutionAborted once done is closed.
// The channel is polled every interruptCheckInterval steps.
func WithInterrupt(done <-chan struct{}) Option {
	return func(c *vmConfig) {
		c.interrupt = done
	}
}

// WithLogger sets the logger of an EVM
func WithLogger(logger log.Logger) Option {
	return func(c *vmConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJournaling makes an EVM run each execution on a StateDB overlay,
// committed only when the run succeeds
func WithJournaling(enabled bool) Option {
	return func(c *vmConfig) {
		c.journaling = enabled
	}
}

// Executor runs bytecode against a StateStore. One Executor serves one
// run at a time and is not safe for concurrent use.
type Executor struct {
	ctx         ExecutionContext
	block       BlockContext
	state       core.StateStore
	observer    Observer
	precompiles map[core.Address]PrecompiledContract
	interrupt   <-chan struct{}

	stack     *Stack
	memory    *Memory
	code      []byte
	jumpdests bitvec

	pc         uint64
	gasUsed    uint64
	gasLimit   uint64
	returnData []byte // output of the last call
	output     []byte // RETURN or REVERT payload
	logs       []*Log
}

// NewExecutor creates an executor for ctx
func NewExecutor(state core.StateStore, ctx *ExecutionContext, opts ...Option) *Executor {
	cfg := newVMConfig(opts)
	e := &Executor{
		ctx:         *ctx,
		block:       cfg.block,
		state:       state,
		observer:    cfg.observer,
		precompiles: cfg.precompiles,
		interrupt:   cfg.interrupt,
		stack:       NewStackWithDepth(cfg.maxDepth),
		memory:      NewMemory(),
	}
	if e.ctx.Value == nil {
		e.ctx.Value = new(uint256.Int)
	}
	if e.ctx.GasPrice == nil {
		e.ctx.GasPrice = new(uint256.Int)
	}
	return e
}

// Stack returns the operand stack of the last run
func (e *Executor) Stack() *Stack {
	return e.stack
}

// Memory returns the memory of the last run
func (e *Executor) Memory() *Memory {
	return e.memory
}

// PC returns the program counter where the last run stopped
func (e *Executor) PC() uint64 {
	return e.pc
}

// GasUsed returns gas consumed so far
func (e *Executor) GasUsed() uint64 {
	return e.gasUsed
}

// GasRemaining returns gas left in the current run
func (e *Executor) GasRemaining() uint64 {
	return e.gasLimit - e.gasUsed
}

// Execute runs code to completion and reports the outcome. Errors are
// returned in the result; the executor never panics on malformed code.
func (e *Executor) Execute(code []byte) *ExecutionResult {
	e.reset(code)

	err := e.run()
	result := &ExecutionResult{
		GasUsed: e.gasUsed,
		Err:     err,
	}
	switch {
	case err == nil:
		result.Success = true
		result.ReturnData = e.output
		result.Logs = e.logs
	case errors.Is(err, ErrExecutionReverted):
		result.Reverted = true
		result.ReturnData = e.output
	}
	return result
}

func (e *Executor) reset(code []byte) {
	e.code = code
	e.jumpdests = jumpDestAnalysis(code)
	e.stack.Clear()
	e.memory.Reset()
	e.pc = 0
	e.gasUsed = 0
	e.gasLimit = e.ctx.GasLimit
	e.returnData = nil
	e.output = nil
	e.logs = nil
}

// useGas charges amount, failing without charging if it exceeds the limit
func (e *Executor) useGas(amount uint64) error {
	if amount > e.gasLimit-e.gasUsed {
		return fmt.Errorf("%w: need %d, have %d", ErrOutOfGas, amount, e.gasLimit-e.gasUsed)
	}
	e.gasUsed += amount
	return nil
}

func (e *Executor) run() error {
	codeLen := uint64(len(e.code))

	for steps := uint64(0); e.pc < codeLen; steps++ {
		if e.interrupt != nil && steps%interruptCheckInterval == 0 {
			select {
			case <-e.interrupt:
				return fmt.Errorf("%w at pc %d", ErrExecutionAborted, e.pc)
			default:
			}
		}
		pc := e.pc
		op, err := LookupOpcode(e.code[pc])
		if err != nil {
			return err
		}
		if err := e.useGas(op.BaseGas); err != nil {
			return err
		}
		if e.observer != nil {
			e.observer.OnStep(pc, op, e.gasLimit-e.gasUsed)
		}

		e.pc = pc + 1
		halt, err := e.step(pc, op)
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}

	// Running off the end of code is an implicit STOP
	return nil
}

// step executes one decoded instruction at pc. e.pc already points past the opcode byte.
func (e *Executor) step(pc uint64, op *Opcode) (bool, error) {
	switch code := op.Code; {
	case code == STOP:
		return true, nil

	case code == ADD:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Add(x, y) })
	case code == MUL:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Mul(x, y) })
	case code == SUB:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Sub(x, y) })
	case code == DIV:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Div(x, y) })
	case code == SDIV:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.SDiv(x, y) })
	case code == MOD:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Mod(x, y) })
	case code == SMOD:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.SMod(x, y) })
	case code == ADDMOD:
		return false, e.opAddMod()
	case code == MULMOD:
		return false, e.opMulMod()
	case code == EXP:
		return false, e.opExp()
	case code == SIGNEXTEND:
		return false, e.binaryOp(func(back, num *uint256.Int) { num.ExtendSign(num, back) })

	case code == LT:
		return false, e.binaryOp(func(x, y *uint256.Int) { setBool(y, x.Lt(y)) })
	case code == GT:
		return false, e.binaryOp(func(x, y *uint256.Int) { setBool(y, x.Gt(y)) })
	case code == SLT:
		return false, e.binaryOp(func(x, y *uint256.Int) { setBool(y, x.Slt(y)) })
	case code == SGT:
		return false, e.binaryOp(func(x, y *uint256.Int) { setBool(y, x.Sgt(y)) })
	case code == EQ:
		return false, e.binaryOp(func(x, y *uint256.Int) { setBool(y, x.Eq(y)) })
	case code == ISZERO:
		return false, e.unaryOp(func(x *uint256.Int) { setBool(x, x.IsZero()) })
	case code == AND:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.And(x, y) })
	case code == OR:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Or(x, y) })
	case code == XOR:
		return false, e.binaryOp(func(x, y *uint256.Int) { y.Xor(x, y) })
	case code == NOT:
		return false, e.unaryOp(func(x *uint256.Int) { x.Not(x) })
	case code == BYTE:
		return false, e.binaryOp(func(th, val *uint256.Int) { val.Byte(th) })
	case code == SHL:
		return false, e.binaryOp(opShl)
	case code == SHR:
		return false, e.binaryOp(opShr)
	case code == SAR:
		return false, e.binaryOp(opSar)

	case code == KECCAK256:
		return false, e.opKeccak256()

	case code == ADDRESS:
		return false, e.pushAddress(e.ctx.Address)
	case code == BALANCE:
		return false, e.opBalance()
	case code == ORIGIN:
		return false, e.pushAddress(e.block.Origin)
	case code == CALLER:
		return false, e.pushAddress(e.ctx.Caller)
	case code == CALLVALUE:
		return false, e.stack.Push(e.ctx.Value)
	case code == CALLDATALOAD:
		return false, e.opCallDataLoad()
	case code == CALLDATASIZE:
		return false, e.pushUint64(uint64(len(e.ctx.Input)))
	case code == CALLDATACOPY:
		return false, e.opDataCopy(e.ctx.Input)
	case code == CODESIZE:
		return false, e.pushUint64(uint64(len(e.code)))
	case code == CODECOPY:
		return false, e.opDataCopy(e.code)
	case code == GASPRICE:
		return false, e.stack.Push(e.ctx.GasPrice)
	case code == EXTCODESIZE:
		return false, e.opExtCodeSize()
	case code == EXTCODECOPY:
		return false, e.opExtCodeCopy()
	case code == RETURNDATASIZE:
		return false, e.pushUint64(uint64(len(e.returnData)))
	case code == RETURNDATACOPY:
		return false, e.opReturnDataCopy()
	case code == EXTCODEHASH:
		return false, e.opExtCodeHash()

	case code == BLOCKHASH:
		return false, e.opBlockHash()
	case code == COINBASE:
		return false, e.pushAddress(e.block.Coinbase)
	case code == TIMESTAMP:
		return false, e.pushUint64(e.block.Time)
	case code == NUMBER:
		return false, e.pushUint64(e.block.Number)
	case code == DIFFICULTY:
		return false, e.pushOptional(e.block.Difficulty)
	case code == GASLIMIT:
		return false, e.pushUint64(e.block.GasLimit)
	case code == CHAINID:
		return false, e.pushOptional(e.block.ChainID)
	case code == SELFBALANCE:
		balance, err := e.state.GetBalance(e.ctx.Address)
		if err != nil {
			return false, storageError(err)
		}
		return false, e.stack.Push(balance)
	case code == BASEFEE:
		return false, e.pushOptional(e.block.BaseFee)

	case code == POP:
		_, err := e.stack.Pop()
		return false, err
	case code == MLOAD:
		return false, e.opMload()
	case code == MSTORE:
		return false, e.opMstore()
	case code == MSTORE8:
		return false, e.opMstore8()
	case code == SLOAD:
		return false, e.opSload()
	case code == SSTORE:
		return false, e.opSstore()
	case code == JUMP:
		return false, e.opJump()
	case code == JUMPI:
		return false, e.opJumpi()
	case code == PC:
		return false, e.pushUint64(pc)
	case code == MSIZE:
		return false, e.pushUint64(e.memory.Words() * wordSize)
	case code == GAS:
		return false, e.pushUint64(e.gasLimit - e.gasUsed)
	case code == JUMPDEST:
		return false, nil
	case code == MCOPY:
		return false, e.opMcopy()
	case code == PUSH0:
		return false, e.stack.Push(new(uint256.Int))

	case IsPush(code):
		return false, e.opPush(pc, op.Immediates)
	case code >= DUP1 && code <= DUP16:
		return false, e.stack.Dup(int(code - DUP1))
	case code >= SWAP1 && code <= SWAP16:
		return false, e.stack.Swap(int(code-SWAP1) + 1)
	case code >= LOG0 && code <= LOG4:
		return false, e.opLog(int(code - LOG0))

	case code == CALL, code == STATICCALL:
		return false, e.opCall(code)
	case code == RETURN:
		return true, e.opReturn()
	case code == REVERT:
		if err := e.opReturn(); err != nil {
			return true, err
		}
		return true, ErrExecutionReverted
	case code == CREATE, code == CREATE2, code == SELFDESTRUCT:
		if e.ctx.IsStatic {
			return false, ErrWriteProtection
		}
		return false, unsupported(code)
	case code == CALLCODE, code == DELEGATECALL:
		return false, unsupported(code)
	}

	// INVALID and anything the table holds without semantics
	return false, &InvalidOpcodeError{Op: op.Code}
}
