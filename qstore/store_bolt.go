package qstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketItems = []byte("items")

// BoltDataStore implements DataStore in a single bbolt database file.
type BoltDataStore struct {
	db     *bbolt.DB
	sealer Sealer
}

var _ DataStore = (*BoltDataStore)(nil)

// NewBoltDataStore opens or creates the database at path.
// A nil sealer uses DefaultSealer.
func NewBoltDataStore(path string, sealer Sealer) (*BoltDataStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	path = os.Expand(path, os.Getenv)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketItems)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	if sealer == nil {
		sealer = DefaultSealer()
	}
	return &BoltDataStore{db: db, sealer: sealer}, nil
}

func (s *BoltDataStore) Get(key string, decrypt bool) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketItems).Get([]byte(key)); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}
	if decrypt && len(data) > 0 {
		opened, err := s.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return opened, nil
	}
	return data, nil
}

func (s *BoltDataStore) Set(key string, encrypt bool, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data := value
	if encrypt {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = sealed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).Put([]byte(key), data)
	})
}

func (s *BoltDataStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).Delete([]byte(key))
	})
}

func (s *BoltDataStore) Scan(prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketItems).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (s *BoltDataStore) Path() string {
	return s.db.Path()
}

// Close releases the database file lock.
func (s *BoltDataStore) Close() error {
	return s.db.Close()
}
