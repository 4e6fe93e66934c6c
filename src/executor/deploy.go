package executor

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
)

// CreateAddress derives a contract address as
// keccak256(creator || uint64 big-endian nonce)[12:]
func CreateAddress(creator core.Address, nonce uint64) core.Address {
	var buf [core.AddressLength + 8]byte
	copy(buf[:], creator[:])
	binary.BigEndian.PutUint64(buf[core.AddressLength:], nonce)
	return core.AddressFromBytes(crypto.Keccak256(buf[:])[12:])
}

// Deploy runs initCode as a contract creation by creator. The returned
// bytes of a successful run become the code of the new account, whose
// balance is set to value. Nothing is persisted when the run fails.
// Extra options apply to the init code run only.
func (evm *EVM) Deploy(creator core.Address, initCode []byte, value *uint256.Int, gasLimit uint64, gasPrice *uint256.Int, opts ...Option) (core.Address, *ExecutionResult, error) {
	state, finish := evm.begin()

	nonce, err := state.GetNonce(creator)
	if err != nil {
		finish(false)
		return core.Address{}, nil, storageError(err)
	}
	addr := CreateAddress(creator, nonce)

	ctx := &ExecutionContext{
		Caller:   creator,
		Address:  addr,
		Value:    value,
		Input:    initCode,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	}
	result := evm.run(state, ctx, initCode, opts)
	if result.Success && len(result.ReturnData) > MaxCodeSize {
		result.Success = false
		result.Logs = nil
		result.Err = fmt.Errorf("%w: %d bytes", ErrMaxCodeSizeExceeded, len(result.ReturnData))
	}
	if !result.Success {
		finish(false)
		evm.record(ctx, result)
		return core.Address{}, result, result.Err
	}

	if err := persistContract(state, creator, addr, result.ReturnData, value); err != nil {
		finish(false)
		return core.Address{}, result, err
	}
	if err := finish(true); err != nil {
		return core.Address{}, result, storageError(err)
	}

	deploymentCounter.Inc(1)
	evm.record(ctx, result)
	evm.logger.Debug("Deployed contract", "creator", creator, "address", addr,
		"nonce", nonce, "code", len(result.ReturnData), "gas", result.GasUsed)
	return addr, result, nil
}

func persistContract(state core.StateStore, creator, addr core.Address, code []byte, value *uint256.Int) error {
	if err := state.SetCode(addr, code); err != nil {
		return storageError(err)
	}
	if err := setBalance(state, addr, value); err != nil {
		return err
	}
	if err := state.IncrementNonce(creator); err != nil {
		return storageError(err)
	}
	return nil
}

// setBalance makes the balance of addr exactly value, discarding funds the
// address held before the deployment
func setBalance(state core.StateStore, addr core.Address, value *uint256.Int) error {
	if value == nil {
		value = new(uint256.Int)
	}
	current, err := state.GetBalance(addr)
	if err != nil {
		return storageError(err)
	}
	switch current.Cmp(value) {
	case -1:
		err = state.AddBalance(addr, new(uint256.Int).Sub(value, current))
	case 1:
		err = state.SubBalance(addr, new(uint256.Int).Sub(current, value))
	}
	if err != nil {
		return storageError(err)
	}
	return nil
}
