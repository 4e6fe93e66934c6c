package core

import "github.com/holiman/uint256"

// StateStore is the account and storage backend consumed by the executor.
//
// Every mutating call commits immediately. Implementations that want
// transactional behaviour must provide it themselves, for example by
// layering an overlay that buffers writes until commit.
type StateStore interface {
	GetBalance(addr Address) (*uint256.Int, error)
	GetNonce(addr Address) (uint64, error)
	GetCode(addr Address) ([]byte, error)
	GetStorage(addr Address, key Hash) (Hash, error)
	SetStorage(addr Address, key, value Hash) error

	AddBalance(addr Address, amount *uint256.Int) error
	// SubBalance fails with ErrInsufficientBalance if the balance is too low.
	SubBalance(addr Address, amount *uint256.Int) error
	IncrementNonce(addr Address) error
	SetCode(addr Address, code []byte) error
}
