package executor

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MaxMemorySize is the maximum addressable memory (16MB)
	MaxMemorySize = 16 * 1024 * 1024

	memoryGasPerWord   = 3
	memoryQuadCoeffDiv = 512
	wordSize           = 32
)

var ErrMemoryLimit = errors.New("memory limit exceeded")

// Memory is the linear, auto-expanding byte memory of one run.
// The backing buffer always holds whole words; size tracks the furthest
// byte made addressable.
type Memory struct {
	data []byte
	size uint64
}

// NewMemory creates a new empty memory
func NewMemory() *Memory {
	return &Memory{}
}

// toWords rounds a byte count up to 32-byte words
func toWords(size uint64) uint64 {
	return (size + wordSize - 1) / wordSize
}

// memoryCost is the total cost of holding words words of memory
func memoryCost(words uint64) uint64 {
	return memoryGasPerWord*words + words*words/memoryQuadCoeffDiv
}

// spanEnd returns offset+size, failing on overflow or when past the memory limit
func spanEnd(offset, size uint64) (uint64, error) {
	end := offset + size
	if end < offset || end > MaxMemorySize {
		return 0, fmt.Errorf("%w: offset %d size %d", ErrMemoryLimit, offset, size)
	}
	return end, nil
}

// ExpansionCost returns the marginal gas needed to make offset+size bytes
// addressable without changing memory
func (m *Memory) ExpansionCost(offset, size uint64) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	end, err := spanEnd(offset, size)
	if err != nil {
		return 0, err
	}
	oldWords := m.Words()
	newWords := toWords(end)
	if newWords <= oldWords {
		return 0, nil
	}
	return memoryCost(newWords) - memoryCost(oldWords), nil
}

// Expand makes offset+size bytes addressable, zero-filling new bytes,
// and returns the marginal gas cost of the growth
func (m *Memory) Expand(offset, size uint64) (uint64, error) {
	cost, err := m.ExpansionCost(offset, size)
	if err != nil || size == 0 {
		return cost, err
	}
	end := offset + size
	if end > m.size {
		m.size = end
	}
	if need := toWords(end) * wordSize; need > uint64(len(m.data)) {
		grown := make([]byte, need)
		copy(grown, m.data)
		m.data = grown
	}
	return cost, nil
}

// Store writes value at offset, expanding as needed. An empty value is a
// no-op at any offset.
func (m *Memory) Store(offset uint64, value []byte) (uint64, error) {
	if len(value) == 0 {
		return 0, nil
	}
	cost, err := m.Expand(offset, uint64(len(value)))
	if err != nil {
		return 0, err
	}
	copy(m.data[offset:], value)
	return cost, nil
}

// Store32 writes val as a 32-byte big-endian word at offset
func (m *Memory) Store32(offset uint64, val *uint256.Int) (uint64, error) {
	cost, err := m.Expand(offset, wordSize)
	if err != nil {
		return 0, err
	}
	val.WriteToSlice(m.data[offset : offset+wordSize])
	return cost, nil
}

// StoreByte writes a single byte at offset
func (m *Memory) StoreByte(offset uint64, val byte) (uint64, error) {
	cost, err := m.Expand(offset, 1)
	if err != nil {
		return 0, err
	}
	m.data[offset] = val
	return cost, nil
}

// Load returns a copy of size bytes at offset. Bytes beyond the buffer
// read as zero. Requests larger than MaxMemorySize return nil.
func (m *Memory) Load(offset, size uint64) []byte {
	if size == 0 || size > MaxMemorySize {
		return nil
	}
	result := make([]byte, size)
	if offset < uint64(len(m.data)) {
		copy(result, m.data[offset:])
	}
	return result
}

// Load32 reads the 32-byte big-endian word at offset
func (m *Memory) Load32(offset uint64) uint256.Int {
	var v uint256.Int
	v.SetBytes32(m.Load(offset, wordSize))
	return v
}

// LoadByte reads one byte, zero if out of range
func (m *Memory) LoadByte(offset uint64) byte {
	if offset < uint64(len(m.data)) {
		return m.data[offset]
	}
	return 0
}

// Copy moves size bytes from src to dst. dst is expanded first; source
// bytes beyond the buffer copy as zero. Overlapping regions are handled.
func (m *Memory) Copy(src, dst, size uint64) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	cost, err := m.Expand(dst, size)
	if err != nil {
		return 0, err
	}
	copy(m.data[dst:dst+size], m.Load(src, size))
	return cost, nil
}

// Size returns the logical size in bytes
func (m *Memory) Size() uint64 {
	return m.size
}

// Words returns the number of 32-byte words backing memory
func (m *Memory) Words() uint64 {
	return uint64(len(m.data)) / wordSize
}

// Data returns a copy of the backing buffer
func (m *Memory) Data() []byte {
	result := make([]byte, len(m.data))
	copy(result, m.data)
	return result
}

// Reset empties memory
func (m *Memory) Reset() {
	m.data = m.data[:0]
	m.size = 0
}
