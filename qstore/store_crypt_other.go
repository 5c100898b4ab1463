//go:build !windows

package qstore

// Embedded key for the default sealer. Anyone with the binary can extract it;
// it keeps private keys out of plain text, nothing more. Use
// PassphraseSecretBox for real protection.
var embeddedKey = [32]byte{
	0x4c, 0x91, 0x0e, 0xd7, 0x6a, 0x23, 0xf8, 0x15,
	0xb2, 0x5d, 0x87, 0xc4, 0x39, 0xee, 0x02, 0x7b,
	0x96, 0x48, 0xa1, 0x1f, 0xdc, 0x63, 0x2a, 0xb9,
	0x05, 0x7e, 0xc8, 0x34, 0xf1, 0x8d, 0x50, 0x6e,
}

// DefaultSealer returns the platform sealer used when none is configured.
func DefaultSealer() Sealer {
	return &SecretBox{key: embeddedKey}
}
