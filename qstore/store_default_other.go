//go:build !windows

package qstore

// DefaultPath is where the keychain lives when no path is configured.
const DefaultPath = "$HOME/.local/share/qkeychain"
