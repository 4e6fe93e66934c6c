package executor

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

const (
	expByteGas       = 50
	keccak256WordGas = 6
	copyGas          = 3
	logDataGas       = 8

	// blockHashWindow is how many recent block hashes BLOCKHASH can see
	blockHashWindow = 256
)

// binaryOp pops x, applies fn(x, y) in place on the second operand y and pushes y
func (e *Executor) binaryOp(fn func(x, y *uint256.Int)) error {
	x, err := e.stack.Pop()
	if err != nil {
		return err
	}
	y, err := e.stack.Pop()
	if err != nil {
		return err
	}
	fn(&x, &y)
	return e.stack.Push(&y)
}

func (e *Executor) unaryOp(fn func(x *uint256.Int)) error {
	x, err := e.stack.Pop()
	if err != nil {
		return err
	}
	fn(&x)
	return e.stack.Push(&x)
}

// popN pops n values, top first
func (e *Executor) popN(n int) ([]uint256.Int, error) {
	if e.stack.Len() < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrStackUnderflow, n, e.stack.Len())
	}
	vals := make([]uint256.Int, n)
	for i := range vals {
		vals[i], _ = e.stack.Pop()
	}
	return vals, nil
}

func setBool(z *uint256.Int, b bool) {
	if b {
		z.SetOne()
	} else {
		z.Clear()
	}
}

func (e *Executor) pushUint64(v uint64) error {
	return e.stack.Push(new(uint256.Int).SetUint64(v))
}

func (e *Executor) pushAddress(addr core.Address) error {
	return e.stack.PushBytes(addr.Bytes())
}

// pushOptional pushes v, or zero when the block did not set it
func (e *Executor) pushOptional(v *uint256.Int) error {
	if v == nil {
		return e.stack.Push(new(uint256.Int))
	}
	return e.stack.Push(v)
}

func toAddress(v *uint256.Int) core.Address {
	return core.Address(v.Bytes20())
}

// clampUint64 saturates values that do not fit in 64 bits
func clampUint64(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// getData returns size bytes of data starting at start, zero-padded past the end
func getData(data []byte, start, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end < start || end > length {
		end = length
	}
	out := make([]byte, size)
	copy(out, data[start:end])
	return out
}

// expandMemory charges for and grows memory to cover [offset, offset+size).
// A zero size touches nothing, whatever the offset.
func (e *Executor) expandMemory(offset, size *uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return 0, 0, fmt.Errorf("%w: offset %s size %s", ErrMemoryLimit, offset.Dec(), size.Dec())
	}
	return e.expandMemoryAt(offset.Uint64(), size.Uint64())
}

func (e *Executor) expandMemoryAt(offset, size uint64) (uint64, uint64, error) {
	cost, err := e.memory.ExpansionCost(offset, size)
	if err != nil {
		return 0, 0, err
	}
	if err := e.useGas(cost); err != nil {
		return 0, 0, err
	}
	if _, err := e.memory.Expand(offset, size); err != nil {
		return 0, 0, err
	}
	return offset, size, nil
}

func opShl(shift, value *uint256.Int) {
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
}

func opShr(shift, value *uint256.Int) {
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
}

func opSar(shift, value *uint256.Int) {
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
		return
	}
	value.SRsh(value, uint(shift.Uint64()))
}

func (e *Executor) opAddMod() error {
	vals, err := e.popN(3)
	if err != nil {
		return err
	}
	x, y, m := &vals[0], &vals[1], &vals[2]
	return e.stack.Push(new(uint256.Int).AddMod(x, y, m))
}

func (e *Executor) opMulMod() error {
	vals, err := e.popN(3)
	if err != nil {
		return err
	}
	x, y, m := &vals[0], &vals[1], &vals[2]
	return e.stack.Push(new(uint256.Int).MulMod(x, y, m))
}

func (e *Executor) opExp() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	base, exponent := &vals[0], &vals[1]
	if err := e.useGas(expByteGas * uint64((exponent.BitLen()+7)/8)); err != nil {
		return err
	}
	return e.stack.Push(new(uint256.Int).Exp(base, exponent))
}

func (e *Executor) opKeccak256() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	off, size, err := e.expandMemory(&vals[0], &vals[1])
	if err != nil {
		return err
	}
	if err := e.useGas(keccak256WordGas * toWords(size)); err != nil {
		return err
	}
	return e.stack.PushBytes(crypto.Keccak256(e.memory.Load(off, size)))
}

func (e *Executor) opBalance() error {
	addr, err := e.stack.Pop()
	if err != nil {
		return err
	}
	balance, err := e.state.GetBalance(toAddress(&addr))
	if err != nil {
		return storageError(err)
	}
	return e.stack.Push(balance)
}

func (e *Executor) opCallDataLoad() error {
	offset, err := e.stack.Pop()
	if err != nil {
		return err
	}
	var v uint256.Int
	if offset.IsUint64() {
		v.SetBytes32(getData(e.ctx.Input, offset.Uint64(), wordSize))
	}
	return e.stack.Push(&v)
}

// copyToMemory charges word gas and memory growth, then writes the
// size-byte window of data starting at dataOffset
func (e *Executor) copyToMemory(memOffset, dataOffset, length *uint256.Int, data []byte) error {
	off, size, err := e.expandMemory(memOffset, length)
	if err != nil {
		return err
	}
	if err := e.useGas(copyGas * toWords(size)); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	_, err = e.memory.Store(off, getData(data, clampUint64(dataOffset), size))
	return err
}

// opDataCopy implements CALLDATACOPY and CODECOPY
func (e *Executor) opDataCopy(data []byte) error {
	vals, err := e.popN(3)
	if err != nil {
		return err
	}
	return e.copyToMemory(&vals[0], &vals[1], &vals[2], data)
}

func (e *Executor) opExtCodeSize() error {
	addr, err := e.stack.Pop()
	if err != nil {
		return err
	}
	code, err := e.state.GetCode(toAddress(&addr))
	if err != nil {
		return storageError(err)
	}
	return e.pushUint64(uint64(len(code)))
}

func (e *Executor) opExtCodeCopy() error {
	vals, err := e.popN(4)
	if err != nil {
		return err
	}
	code, err := e.state.GetCode(toAddress(&vals[0]))
	if err != nil {
		return storageError(err)
	}
	return e.copyToMemory(&vals[1], &vals[2], &vals[3], code)
}

func (e *Executor) opExtCodeHash() error {
	addr, err := e.stack.Pop()
	if err != nil {
		return err
	}
	code, err := e.state.GetCode(toAddress(&addr))
	if err != nil {
		return storageError(err)
	}
	hash := core.CodeHash(code)
	return e.stack.PushBytes(hash.Bytes())
}

func (e *Executor) opReturnDataCopy() error {
	vals, err := e.popN(3)
	if err != nil {
		return err
	}
	memOffset, dataOffset, length := &vals[0], &vals[1], &vals[2]

	end, overflow := new(uint256.Int).AddOverflow(dataOffset, length)
	if overflow || !end.IsUint64() || end.Uint64() > uint64(len(e.returnData)) {
		return fmt.Errorf("%w: offset %s size %s, have %d", ErrReturnDataOutOfBounds,
			dataOffset.Dec(), length.Dec(), len(e.returnData))
	}
	return e.copyToMemory(memOffset, dataOffset, length, e.returnData)
}

func (e *Executor) opBlockHash() error {
	num, err := e.stack.Pop()
	if err != nil {
		return err
	}
	var hash core.Hash
	if e.block.GetHash != nil && num.IsUint64() {
		n, current := num.Uint64(), e.block.Number
		var lower uint64
		if current > blockHashWindow {
			lower = current - blockHashWindow
		}
		if n >= lower && n < current {
			hash = e.block.GetHash(n)
		}
	}
	return e.stack.PushBytes(hash.Bytes())
}

func (e *Executor) opMload() error {
	offset, err := e.stack.Pop()
	if err != nil {
		return err
	}
	off, _, err := e.expandMemory(&offset, uint256.NewInt(wordSize))
	if err != nil {
		return err
	}
	v := e.memory.Load32(off)
	return e.stack.Push(&v)
}

func (e *Executor) opMstore() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	off, _, err := e.expandMemory(&vals[0], uint256.NewInt(wordSize))
	if err != nil {
		return err
	}
	_, err = e.memory.Store32(off, &vals[1])
	return err
}

func (e *Executor) opMstore8() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	off, _, err := e.expandMemory(&vals[0], uint256.NewInt(1))
	if err != nil {
		return err
	}
	_, err = e.memory.StoreByte(off, byte(vals[1].Uint64()))
	return err
}

func (e *Executor) opMcopy() error {
	vals, err := e.popN(3)
	if err != nil {
		return err
	}
	dst, src, length := &vals[0], &vals[1], &vals[2]
	// Both spans are charged and made addressable
	if _, _, err := e.expandMemory(src, length); err != nil {
		return err
	}
	off, size, err := e.expandMemory(dst, length)
	if err != nil {
		return err
	}
	if err := e.useGas(copyGas * toWords(size)); err != nil {
		return err
	}
	_, err = e.memory.Copy(clampUint64(src), off, size)
	return err
}

func (e *Executor) opSload() error {
	key, err := e.stack.Pop()
	if err != nil {
		return err
	}
	val, err := e.state.GetStorage(e.ctx.Address, core.HashFromUint256(&key))
	if err != nil {
		return storageError(err)
	}
	return e.stack.Push(val.Uint256())
}

func (e *Executor) opSstore() error {
	if e.ctx.IsStatic {
		return ErrWriteProtection
	}
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	key, val := core.HashFromUint256(&vals[0]), core.HashFromUint256(&vals[1])
	return storageError(e.state.SetStorage(e.ctx.Address, key, val))
}

func (e *Executor) jumpTo(dest *uint256.Int) error {
	if !dest.IsUint64() || !validJumpdest(e.jumpdests, uint64(len(e.code)), dest.Uint64()) {
		return fmt.Errorf("%w: %s", ErrInvalidJump, dest.Dec())
	}
	e.pc = dest.Uint64()
	return nil
}

func (e *Executor) opJump() error {
	dest, err := e.stack.Pop()
	if err != nil {
		return err
	}
	return e.jumpTo(&dest)
}

func (e *Executor) opJumpi() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	if vals[1].IsZero() {
		return nil
	}
	return e.jumpTo(&vals[0])
}

// opPush reads n immediate bytes after pc. Operands cut short by the end
// of code stop execution instead of being zero-padded.
func (e *Executor) opPush(pc uint64, n int) error {
	start := pc + 1
	end := start + uint64(n)
	if end > uint64(len(e.code)) {
		return fmt.Errorf("%w: push data truncated at pc %d", ErrStopped, pc)
	}
	if err := e.stack.PushBytes(e.code[start:end]); err != nil {
		return err
	}
	e.pc = end
	return nil
}

func (e *Executor) opLog(n int) error {
	if e.ctx.IsStatic {
		return ErrWriteProtection
	}
	vals, err := e.popN(2 + n)
	if err != nil {
		return err
	}
	off, size, err := e.expandMemory(&vals[0], &vals[1])
	if err != nil {
		return err
	}
	if err := e.useGas(logDataGas * size); err != nil {
		return err
	}

	topics := make([]core.Hash, n)
	for i := range topics {
		topics[i] = core.HashFromUint256(&vals[2+i])
	}
	e.logs = append(e.logs, &Log{
		Address: e.ctx.Address,
		Topics:  topics,
		Data:    e.memory.Load(off, size),
	})
	return nil
}

func (e *Executor) opReturn() error {
	vals, err := e.popN(2)
	if err != nil {
		return err
	}
	off, size, err := e.expandMemory(&vals[0], &vals[1])
	if err != nil {
		return err
	}
	e.output = e.memory.Load(off, size)
	return nil
}

// opCall handles CALL and STATICCALL. Only precompiled contracts are
// reachable; the callee runs with at most all but one 64th of the
// remaining gas.
func (e *Executor) opCall(op byte) error {
	argc := 6
	if op == CALL {
		argc = 7
	}
	vals, err := e.popN(argc)
	if err != nil {
		return err
	}
	gas, target := &vals[0], toAddress(&vals[1])
	args := vals[2:]
	if op == CALL {
		value := &vals[2]
		if !value.IsZero() {
			if e.ctx.IsStatic {
				return ErrWriteProtection
			}
			return fmt.Errorf("%w: value transfer to %s", ErrUnsupported, target.Hex())
		}
		args = vals[3:]
	}

	p, ok := e.precompiles[target]
	if !ok {
		return fmt.Errorf("%w: %s to %s", ErrUnsupported, OpcodeName(op), target.Hex())
	}

	inOff, inSize, err := e.expandMemory(&args[0], &args[1])
	if err != nil {
		return err
	}
	retOff, retSize, err := e.expandMemory(&args[2], &args[3])
	if err != nil {
		return err
	}

	available := e.gasLimit - e.gasUsed
	callGas := available - available/64
	if gas.IsUint64() && gas.Uint64() < callGas {
		callGas = gas.Uint64()
	}

	out, used, err := RunPrecompiledContract(p, e.memory.Load(inOff, inSize), callGas)
	if err != nil {
		e.returnData = nil
		e.gasUsed += callGas
		return e.stack.Push(new(uint256.Int))
	}
	e.gasUsed += used
	e.returnData = out

	if n := min(uint64(len(out)), retSize); n > 0 {
		if _, err := e.memory.Store(retOff, out[:n]); err != nil {
			return err
		}
	}
	return e.stack.Push(uint256.NewInt(1))
}
