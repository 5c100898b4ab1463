//go:build !windows

package main

import (
	"fmt"

	"github.com/kardianos/qkeychain/qstore"
)

func openRegistry(string, qstore.Sealer) (qstore.DataStore, error) {
	return nil, fmt.Errorf("the registry backend is only available on windows")
}
