package executor

import (
	"errors"
	"fmt"

	"github.com/fairvm/go-fairvm/src/core"
)

var (
	ErrOutOfGas              = errors.New("out of gas")
	ErrInvalidJump           = errors.New("invalid jump destination")
	ErrWriteProtection       = errors.New("write protection")
	ErrExecutionReverted     = errors.New("execution reverted")
	ErrStopped               = errors.New("execution stopped")
	ErrInvalidOpcode         = errors.New("invalid opcode")
	ErrReturnDataOutOfBounds = errors.New("return data out of bounds")
	ErrStorage               = errors.New("storage access failed")
	ErrUnsupported           = errors.New("unsupported operation")
	ErrMaxCodeSizeExceeded   = errors.New("max code size exceeded")
	ErrExecutionAborted      = errors.New("execution aborted")
	ErrInsufficientBalance   = core.ErrInsufficientBalance
)

// InvalidOpcodeError reports a byte that is not in the opcode table
type InvalidOpcodeError struct {
	Op byte
}

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("%v: 0x%02x", ErrInvalidOpcode, e.Op)
}

// Is lets errors.Is(err, ErrInvalidOpcode) match
func (e *InvalidOpcodeError) Is(target error) bool {
	return target == ErrInvalidOpcode
}

// storageError wraps a collaborator failure. Balance shortfalls keep
// their own kind.
func storageError(err error) error {
	if err == nil || errors.Is(err, core.ErrInsufficientBalance) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func unsupported(op byte) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, OpcodeName(op))
}
