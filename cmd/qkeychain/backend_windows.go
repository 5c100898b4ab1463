//go:build windows

package main

import (
	"github.com/kardianos/qkeychain/qstore"
)

func openRegistry(path string, sealer qstore.Sealer) (qstore.DataStore, error) {
	return qstore.NewRegistryDataStore(path, sealer)
}
