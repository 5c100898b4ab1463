package main

import (
	"fmt"
	"io"

	"github.com/kardianos/qkeychain/qstore"
	"github.com/kardianos/qkeychain/qstore/qsqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openBackend opens the configured substrate. The closer releases it.
func openBackend(cfg *Config) (qstore.DataStore, io.Closer, error) {
	sealer, err := cfg.sealer()
	if err != nil {
		return nil, nil, err
	}
	path := cfg.dataPath()
	switch cfg.Backend {
	case backendFile:
		s, err := qstore.NewFileDataStore(path, sealer)
		return s, nopCloser{}, err
	case backendBolt:
		s, err := qstore.NewBoltDataStore(path, sealer)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case backendSQLite:
		s, err := qsqlite.Open(path, sealer)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case backendMemory:
		return qstore.NewMemoryDataStore(sealer), nopCloser{}, nil
	case backendRegistry:
		s, err := openRegistry(cfg.Data, sealer)
		return s, nopCloser{}, err
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
