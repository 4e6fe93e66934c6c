package executor

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MaxStackSize is the default maximum number of values on the stack
	MaxStackSize = 1024
)

var (
	ErrStackOverflow      = errors.New("stack overflow")
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrDepthLimitExceeded = fmt.Errorf("%w: depth limit exceeded", ErrStackOverflow)
	ErrInvalidStackIndex  = errors.New("invalid stack index")
)

// Stack is the bounded operand stack. The top is the last element.
type Stack struct {
	data     []uint256.Int
	maxDepth int
}

// NewStack creates a new empty stack with the default depth
func NewStack() *Stack {
	return NewStackWithDepth(MaxStackSize)
}

// NewStackWithDepth creates a stack holding at most maxDepth values
func NewStackWithDepth(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = MaxStackSize
	}
	return &Stack{
		data:     make([]uint256.Int, 0, maxDepth),
		maxDepth: maxDepth,
	}
}

// Push pushes a copy of val onto the stack
func (s *Stack) Push(val *uint256.Int) error {
	if len(s.data) >= s.maxDepth {
		return ErrDepthLimitExceeded
	}
	s.data = append(s.data, *val)
	return nil
}

// PushBytes pushes a big-endian byte slice of at most 32 bytes
func (s *Stack) PushBytes(b []byte) error {
	var v uint256.Int
	v.SetBytes(b)
	return s.Push(&v)
}

// Pop removes and returns the top value from the stack
func (s *Stack) Pop() (uint256.Int, error) {
	if len(s.data) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	val := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return val, nil
}

// Peek returns the top value without removing it
func (s *Stack) Peek() (uint256.Int, error) {
	if len(s.data) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	return s.data[len(s.data)-1], nil
}

// Get returns the value index positions below the top. Get(0) is the top.
func (s *Stack) Get(index int) (uint256.Int, error) {
	if err := s.checkIndex(index); err != nil {
		return uint256.Int{}, err
	}
	return s.data[len(s.data)-1-index], nil
}

// Set overwrites the value index positions below the top
func (s *Stack) Set(index int, val *uint256.Int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.data[len(s.data)-1-index] = *val
	return nil
}

// Dup pushes a copy of the value index positions below the top. Dup(0) duplicates the top.
func (s *Stack) Dup(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	val := s.data[len(s.data)-1-index]
	return s.Push(&val)
}

// Swap exchanges the top with the value index positions below it
func (s *Stack) Swap(index int) error {
	if index == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStackIndex, index)
	}
	if err := s.checkIndex(index); err != nil {
		return err
	}
	top := len(s.data) - 1
	s.data[top], s.data[top-index] = s.data[top-index], s.data[top]
	return nil
}

func (s *Stack) checkIndex(index int) error {
	if index < 0 || index >= len(s.data) {
		return fmt.Errorf("%w: %d (len %d)", ErrInvalidStackIndex, index, len(s.data))
	}
	return nil
}

// Len returns the current size of the stack
func (s *Stack) Len() int {
	return len(s.data)
}

// MaxDepth returns the configured depth limit
func (s *Stack) MaxDepth() int {
	return s.maxDepth
}

// Data returns a copy of the stack values, bottom first
func (s *Stack) Data() []uint256.Int {
	result := make([]uint256.Int, len(s.data))
	copy(result, s.data)
	return result
}

// Clear removes all values, keeping the reserved capacity
func (s *Stack) Clear() {
	s.data = s.data[:0]
}
