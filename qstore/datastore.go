// Package qstore provides the durable key-value substrates a keychain
// persists its records in: files, bbolt, memory, and the Windows registry.
//
// Every operation on a single key is atomic. Values written with encrypt set
// are sealed by the store's Sealer before they reach the backing medium.
package qstore

import (
	"fmt"
)

// DataStore is a durable key-value substrate.
type DataStore interface {
	// Get retrieves a value by key. Returns nil, nil if not found.
	// If decrypt is true, the value is opened before returning.
	Get(key string, decrypt bool) ([]byte, error)

	// Set stores a value by key.
	// If encrypt is true, the value is sealed before storing.
	Set(key string, encrypt bool, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Scan returns the keys beginning with prefix in ascending order.
	Scan(prefix string) ([]string, error)

	// Path returns the storage location for display purposes.
	Path() string
}

// ValidateKey rejects keys that cannot be used as file or registry value names.
// Keys use lower-case letters, digits, '.', '-' and '_', and may not start with '.'.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("qstore: empty key")
	}
	if key[0] == '.' {
		return fmt.Errorf("qstore: key %q starts with '.'", key)
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			return fmt.Errorf("qstore: invalid character %q in key %q", c, key)
		}
	}
	return nil
}
