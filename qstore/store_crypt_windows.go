//go:build windows

package qstore

import (
	"github.com/billgraziano/dpapi"
)

// DPAPI seals values with the Windows Data Protection API for the current user.
type DPAPI struct{}

func (DPAPI) Seal(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

func (DPAPI) Open(sealed []byte) ([]byte, error) {
	return dpapi.DecryptBytes(sealed)
}

// DefaultSealer returns the platform sealer used when none is configured.
func DefaultSealer() Sealer {
	return DPAPI{}
}
