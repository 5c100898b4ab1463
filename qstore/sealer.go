package qstore

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer protects values at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SecretBox seals values with nacl/secretbox.
// Sealed values are nonce (24 bytes) + ciphertext.
type SecretBox struct {
	key [32]byte
}

var _ Sealer = (*SecretBox)(nil)

// NewSecretBox returns a sealer using a 32 byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secretbox key must be 32 bytes, got %d", len(key))
	}
	b := &SecretBox{}
	copy(b.key[:], key)
	return b, nil
}

// PassphraseSecretBox derives the key from a passphrase with Argon2id.
// The salt must be stable for the life of the store.
func PassphraseSecretBox(passphrase string, salt []byte) (*SecretBox, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt must be at least 16 bytes")
	}
	return NewSecretBox(argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32))
}

func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

func (b *SecretBox) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return nil, fmt.Errorf("decrypt failed")
	}
	return plaintext, nil
}
