// Package kvstore provides the small durable key-value capability the
// dashboard injects where it needs state to survive a restart.
package kvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/peterbourgon/diskv/v3"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store reads and writes opaque values by key.
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Erase(key string) error
}

// Disk is a Store backed by diskv files under a base directory.
type Disk struct {
	d *diskv.Diskv
}

// OpenDisk creates (lazily) a diskv store rooted at basePath.
func OpenDisk(basePath string) (*Disk, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, fmt.Errorf("kvstore: base path is required")
	}
	d := diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 1 << 20,
	})
	return &Disk{d: d}, nil
}

// Read implements Store.
func (s *Disk) Read(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	val, err := s.d.Read(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kvstore: read %s: %w", key, err)
	}
	return val, nil
}

// Write implements Store.
func (s *Disk) Write(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.d.Write(key, value); err != nil {
		return fmt.Errorf("kvstore: write %s: %w", key, err)
	}
	return nil
}

// Erase implements Store. Erasing a missing key is not an error.
func (s *Disk) Erase(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.d.Erase(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("kvstore: erase %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process Store, used in tests and when no cache dir is set.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string][]byte{}}
}

// Read implements Store.
func (m *Memory) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

// Write implements Store.
func (m *Memory) Write(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Erase implements Store.
func (m *Memory) Erase(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("kvstore: key is required")
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("kvstore: key %q must not contain path separators", key)
	}
	return nil
}
