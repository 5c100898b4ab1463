//go:build windows

package qstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// RegistryDataStore implements DataStore with one binary value per key
// under a single registry key.
type RegistryDataStore struct {
	hive    registry.Key
	keyPath string
	sealer  Sealer
}

var _ DataStore = (*RegistryDataStore)(nil)

// NewRegistryDataStore creates a Windows registry-based data store.
// Path format: "HIVE/path/to/key" where HIVE is one of:
//   - LM or LOCAL_MACHINE for HKEY_LOCAL_MACHINE
//   - CU or CURRENT_USER for HKEY_CURRENT_USER
//
// Example: "CU/SOFTWARE/qkeychain". A nil sealer uses DPAPI.
func NewRegistryDataStore(path string, sealer Sealer) (*RegistryDataStore, error) {
	path = strings.ReplaceAll(path, "/", `\`)

	hiveStr, keyPath, found := strings.Cut(path, `\`)
	if !found {
		return nil, fmt.Errorf("invalid registry path: missing hive prefix (use LM/ or CU/)")
	}

	var hive registry.Key
	switch strings.ToUpper(hiveStr) {
	case "LM", "LOCAL_MACHINE":
		hive = registry.LOCAL_MACHINE
	case "CU", "CURRENT_USER":
		hive = registry.CURRENT_USER
	default:
		return nil, fmt.Errorf("invalid registry hive: %s (use LM, LOCAL_MACHINE, CU, or CURRENT_USER)", hiveStr)
	}

	key, _, err := registry.CreateKey(hive, keyPath, registry.ALL_ACCESS)
	if err != nil {
		return nil, fmt.Errorf("create registry key: %w", err)
	}
	key.Close()

	if sealer == nil {
		sealer = DefaultSealer()
	}
	return &RegistryDataStore{hive: hive, keyPath: keyPath, sealer: sealer}, nil
}

func (s *RegistryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	regKey, err := registry.OpenKey(s.hive, s.keyPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	data, _, err := regKey.GetBinaryValue(key)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if decrypt && len(data) > 0 {
		opened, err := s.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return opened, nil
	}
	return data, nil
}

func (s *RegistryDataStore) Set(key string, encrypt bool, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	regKey, _, err := registry.CreateKey(s.hive, s.keyPath, registry.ALL_ACCESS)
	if err != nil {
		return fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	data := value
	if encrypt {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = sealed
	}
	return regKey.SetBinaryValue(key, data)
}

func (s *RegistryDataStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	regKey, err := registry.OpenKey(s.hive, s.keyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	err = regKey.DeleteValue(key)
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}

func (s *RegistryDataStore) Scan(prefix string) ([]string, error) {
	regKey, err := registry.OpenKey(s.hive, s.keyPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	names, err := regKey.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RegistryDataStore) Path() string {
	var hiveStr string
	switch s.hive {
	case registry.LOCAL_MACHINE:
		hiveStr = "HKLM"
	case registry.CURRENT_USER:
		hiveStr = "HKCU"
	default:
		hiveStr = "UNKNOWN"
	}
	return hiveStr + `\` + s.keyPath
}
