//go:build windows

package qstore

// DefaultPath is where the keychain lives when no path is configured.
// The "file" backend expands it under the user profile instead.
const DefaultPath = `CU\SOFTWARE\qkeychain`
