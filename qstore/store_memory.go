package qstore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryDataStore implements DataStore in process memory.
// Values are still sealed when asked, so callers see the same behavior as
// a durable store.
type MemoryDataStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	sealer Sealer
}

var _ DataStore = (*MemoryDataStore)(nil)

// NewMemoryDataStore returns an empty store. A nil sealer uses DefaultSealer.
func NewMemoryDataStore(sealer Sealer) *MemoryDataStore {
	if sealer == nil {
		sealer = DefaultSealer()
	}
	return &MemoryDataStore{data: make(map[string][]byte), sealer: sealer}
}

func (s *MemoryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if decrypt && len(data) > 0 {
		opened, err := s.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return opened, nil
	}
	return bytes.Clone(data), nil
}

func (s *MemoryDataStore) Set(key string, encrypt bool, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data := bytes.Clone(value)
	if encrypt {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = sealed
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryDataStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDataStore) Scan(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryDataStore) Path() string {
	return "memory"
}
