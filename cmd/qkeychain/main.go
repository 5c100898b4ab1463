// Command qkeychain manages a keychain of certificates, private keys and
// identities from the command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kardianos/qkeychain/qdef"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qkeychain:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the keychain status of err onto a process exit code so
// scripts can tell "not found" from a failure.
func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	switch qdef.StatusOf(err) {
	case qdef.StatusItemNotFound:
		return 3
	case qdef.StatusDuplicateItem:
		return 4
	case qdef.StatusParam, qdef.StatusDecode:
		return 2
	}
	return 1
}

// usageError marks errors in command line input.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }
