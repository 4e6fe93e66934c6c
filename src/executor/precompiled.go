package executor

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the RIPEMD160 precompile
)

var (
	ErrPrecompileGasLimit = errors.New("precompile gas limit exceeded")
	ErrInvalidRecoveryID  = errors.New("invalid recovery id")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// Gas schedule of the built-in contracts: base + per 32-byte word of input
const (
	EcrecoverGas        = 3000
	Sha256BaseGas       = 60
	Sha256PerWordGas    = 12
	Ripemd160BaseGas    = 600
	Ripemd160PerWordGas = 120
	IdentityBaseGas     = 15
	IdentityPerWordGas  = 3

	ecrecoverInputLen = 128
)

// PrecompiledContract is a native contract at a fixed address
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
	Name() string
}

// Addresses of the built-in contracts
var (
	EcrecoverAddress = core.AddressFromBytes([]byte{0x01})
	Sha256Address    = core.AddressFromBytes([]byte{0x02})
	Ripemd160Address = core.AddressFromBytes([]byte{0x03})
	IdentityAddress  = core.AddressFromBytes([]byte{0x04})
)

// DefaultPrecompiles returns a fresh map of the built-in contracts
func DefaultPrecompiles() map[core.Address]PrecompiledContract {
	return map[core.Address]PrecompiledContract{
		EcrecoverAddress: &ecrecover{},
		Sha256Address:    &sha256hash{},
		Ripemd160Address: &ripemd160hash{},
		IdentityAddress:  &dataCopy{},
	}
}

// LookupPrecompile returns the built-in contract at addr
func LookupPrecompile(addr core.Address) (PrecompiledContract, bool) {
	p, ok := DefaultPrecompiles()[addr]
	return p, ok
}

// RunPrecompiledContract charges and runs p. The contract is not run when
// its cost exceeds gasLimit.
func RunPrecompiledContract(p PrecompiledContract, input []byte, gasLimit uint64) ([]byte, uint64, error) {
	cost := p.RequiredGas(input)
	if cost > gasLimit {
		return nil, 0, fmt.Errorf("%w: %s needs %d, have %d", ErrPrecompileGasLimit, p.Name(), cost, gasLimit)
	}
	out, err := p.Run(input)
	if err != nil {
		return nil, cost, err
	}
	return out, cost, nil
}

func wordGas(input []byte, base, perWord uint64) uint64 {
	return base + perWord*toWords(uint64(len(input)))
}

// ecrecover returns the left-padded address that signed hash.
// Input layout: hash[0:32] v[32:64] r[64:96] s[96:128].
type ecrecover struct{}

func (c *ecrecover) Name() string { return "ecrecover" }

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return EcrecoverGas
}

func (c *ecrecover) Run(input []byte) ([]byte, error) {
	if len(input) < ecrecoverInputLen {
		return make([]byte, 32), nil
	}

	var v uint256.Int
	v.SetBytes32(input[32:64])
	if !v.IsUint64() || (v.Uint64() != 27 && v.Uint64() != 28) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecoveryID, v.Dec())
	}
	recID := byte(v.Uint64() - 27)

	r := new(uint256.Int).SetBytes32(input[64:96])
	s := new(uint256.Int).SetBytes32(input[96:128])
	if !crypto.ValidateSignatureValues(recID, r.ToBig(), s.ToBig(), false) {
		return nil, ErrInvalidSignature
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[0:64], input[64:128])
	sig[64] = recID

	pub, err := crypto.Ecrecover(input[:32], sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	out := make([]byte, 32)
	copy(out[12:], crypto.Keccak256(pub[1:])[12:])
	return out, nil
}

type sha256hash struct{}

func (c *sha256hash) Name() string { return "sha256" }

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return wordGas(input, Sha256BaseGas, Sha256PerWordGas)
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// ripemd160hash returns the 20-byte digest right-aligned in a 32-byte word
type ripemd160hash struct{}

func (c *ripemd160hash) Name() string { return "ripemd160" }

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return wordGas(input, Ripemd160BaseGas, Ripemd160PerWordGas)
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	out := make([]byte, 32)
	copy(out[12:], h.Sum(nil))
	return out, nil
}

type dataCopy struct{}

func (c *dataCopy) Name() string { return "identity" }

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return wordGas(input, IdentityBaseGas, IdentityPerWordGas)
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	return append([]byte(nil), input...), nil
}
