package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance
var ErrInsufficientBalance = errors.New("insufficient balance")

// Account represents an account's state.
// Code and storage slots live under their own state keys.
type Account struct {
	Address  Address
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash Hash
}

type accountJSON struct {
	Address  Address `json:"address"`
	Balance  string  `json:"balance"`
	Nonce    uint64  `json:"nonce"`
	CodeHash Hash    `json:"codeHash"`
}

// NewAccount creates a new account with zero balance
func NewAccount(address Address) *Account {
	return &Account{
		Address: address,
		Balance: new(uint256.Int),
	}
}

// AddBalance adds to the account balance
func (a *Account) AddBalance(amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(a.Balance, amount)
	if overflow {
		return fmt.Errorf("balance overflow for %s", a.Address)
	}
	a.Balance = sum
	return nil
}

// SubBalance subtracts from the account balance
func (a *Account) SubBalance(amount *uint256.Int) error {
	if a.Balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, a.Balance.Dec(), amount.Dec())
	}
	a.Balance = new(uint256.Int).Sub(a.Balance, amount)
	return nil
}

// IncrementNonce increments the account nonce
func (a *Account) IncrementNonce() {
	a.Nonce++
}

// Copy returns a deep copy of the account
func (a *Account) Copy() *Account {
	cpy := *a
	cpy.Balance = new(uint256.Int).Set(a.Balance)
	return &cpy
}

// MarshalJSON encodes the balance as a decimal string
func (a *Account) MarshalJSON() ([]byte, error) {
	balance := "0"
	if a.Balance != nil {
		balance = a.Balance.Dec()
	}
	return json.Marshal(accountJSON{
		Address:  a.Address,
		Balance:  balance,
		Nonce:    a.Nonce,
		CodeHash: a.CodeHash,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Account) UnmarshalJSON(data []byte) error {
	var dec accountJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	balance := new(uint256.Int)
	if dec.Balance != "" {
		if err := balance.SetFromDecimal(dec.Balance); err != nil {
			return errors.New("invalid balance value: " + dec.Balance)
		}
	}
	a.Address = dec.Address
	a.Balance = balance
	a.Nonce = dec.Nonce
	a.CodeHash = dec.CodeHash
	return nil
}

// Serialize serializes the account to bytes
func (a *Account) Serialize() ([]byte, error) {
	return json.Marshal(a)
}

// DeserializeAccount deserializes an account from bytes
func DeserializeAccount(data []byte) (*Account, error) {
	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}
