package storage

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fairvm/go-fairvm/src/core"
)

// SnapshotVersion is the format version written by ExportSnapshot
const SnapshotVersion = 1

var (
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
	ErrSnapshotCount   = errors.New("snapshot entries count mismatch")
	ErrSnapshotHash    = errors.New("snapshot hash mismatch")
	ErrSnapshotEntry   = errors.New("invalid snapshot entry")
	ErrSnapshotType    = errors.New("unknown snapshot entry type")
)

// Entry type names. Entries are typed so a reader can decode values
// without looking at the key prefix.
const (
	EntryAccount = "account"
	EntryStorage = "storage"
	EntryCode    = "code"
)

var snapshotKeyTypes = []byte{core.KeyTypeAccount, core.KeyTypeStorage, core.KeyTypeCode}

// SnapshotEntry is one state database entry
type SnapshotEntry struct {
	Type  string `json:"type"`
	Key   string `json:"key"`   // hex, without the state prefix
	Value string `json:"value"` // hex
}

// Snapshot is a typed JSON dump of world state
type Snapshot struct {
	Version      int             `json:"version"`
	Timestamp    int64           `json:"timestamp"`
	Hash         string          `json:"hash"`
	EntriesCount int             `json:"entriesCount"`
	Entries      []SnapshotEntry `json:"entries"`
}

// StateIterator is a store whose raw entries can be walked by key type.
// Both LevelDBStore and MemoryStore implement it.
type StateIterator interface {
	IterateState(keyType byte, fn func(key core.StateKey, value []byte) error) error
}

// StateImporter is a store that accepts whole account records
type StateImporter interface {
	core.StateStore
	SetAccount(acc *core.Account) error
}

func entryType(keyType byte) string {
	switch keyType {
	case core.KeyTypeAccount:
		return EntryAccount
	case core.KeyTypeStorage:
		return EntryStorage
	case core.KeyTypeCode:
		return EntryCode
	default:
		return ""
	}
}

// ExportSnapshot dumps accounts, storage slots and code from src.
// Entries are sorted by key so equal states produce equal snapshots.
func ExportSnapshot(src StateIterator) (*Snapshot, error) {
	var entries []SnapshotEntry
	for _, keyType := range snapshotKeyTypes {
		err := src.IterateState(keyType, func(key core.StateKey, value []byte) error {
			entries = append(entries, SnapshotEntry{
				Type:  entryType(keyType),
				Key:   hex.EncodeToString(key),
				Value: hex.EncodeToString(value),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s entries: %w", entryType(keyType), err)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	snap := &Snapshot{
		Version:      SnapshotVersion,
		Timestamp:    time.Now().Unix(),
		EntriesCount: len(entries),
		Entries:      entries,
	}
	snap.Hash = snap.CalculateHash().Hex()
	return snap, nil
}

// CalculateHash is keccak256 over the version, count and every entry.
// The timestamp is excluded so re-exporting the same state yields the same hash.
func (s *Snapshot) CalculateHash() core.Hash {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "v%dc%d", s.Version, s.EntriesCount)
	for _, entry := range s.Entries {
		buf.WriteString(entry.Type)
		buf.WriteString(entry.Key)
		buf.WriteString(entry.Value)
	}
	return core.HashData(buf.Bytes())
}

// Validate checks the version, entry count and hash
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	if s.EntriesCount != len(s.Entries) {
		return fmt.Errorf("%w: header says %d, found %d", ErrSnapshotCount, s.EntriesCount, len(s.Entries))
	}
	if got := s.CalculateHash().Hex(); got != s.Hash {
		return fmt.Errorf("%w: computed %s, header %s", ErrSnapshotHash, got, s.Hash)
	}
	return nil
}

// ImportSnapshot validates snap and writes every entry into dst.
// Accounts are written before code so the stored code hash wins.
func ImportSnapshot(dst StateImporter, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	entries := make([]SnapshotEntry, len(snap.Entries))
	copy(entries, snap.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	for i, entry := range entries {
		if err := importEntry(dst, entry); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

func importEntry(dst StateImporter, entry SnapshotEntry) error {
	rawKey, err := hex.DecodeString(entry.Key)
	if err != nil {
		return fmt.Errorf("%w: key: %v", ErrSnapshotEntry, err)
	}
	value, err := hex.DecodeString(entry.Value)
	if err != nil {
		return fmt.Errorf("%w: value: %v", ErrSnapshotEntry, err)
	}
	key := core.StateKey(rawKey)
	if entryType(key.Type()) != entry.Type {
		return fmt.Errorf("%w: %q", ErrSnapshotType, entry.Type)
	}

	switch entry.Type {
	case EntryAccount:
		addr, ok := core.ParseAccountKey(key)
		if !ok {
			return fmt.Errorf("%w: account key %s", ErrSnapshotEntry, entry.Key)
		}
		acc, err := core.DeserializeAccount(value)
		if err != nil {
			return fmt.Errorf("%w: account %s: %v", ErrSnapshotEntry, addr.Hex(), err)
		}
		acc.Address = addr
		return dst.SetAccount(acc)

	case EntryStorage:
		addr, slot, ok := core.ParseStorageKey(key)
		if !ok || len(value) != core.HashLength {
			return fmt.Errorf("%w: storage key %s", ErrSnapshotEntry, entry.Key)
		}
		return dst.SetStorage(addr, slot, core.HashFromBytes(value))

	default:
		addr, ok := core.ParseCodeKey(key)
		if !ok {
			return fmt.Errorf("%w: code key %s", ErrSnapshotEntry, entry.Key)
		}
		return dst.SetCode(addr, value)
	}
}

// WriteSnapshot writes snap as indented JSON
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ReadSnapshot loads a snapshot file without validating it
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}
