// Package qsqlite implements a keychain substrate in a SQLite database.
//
// It lives apart from qstore so that only programs selecting it link cgo.
package qsqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kardianos/qkeychain/qstore"
)

const schema = `CREATE TABLE IF NOT EXISTS items (
	key   TEXT PRIMARY KEY NOT NULL,
	value BLOB NOT NULL
) WITHOUT ROWID`

// Store implements qstore.DataStore in a single table.
type Store struct {
	db     *sql.DB
	path   string
	sealer qstore.Sealer
}

var _ qstore.DataStore = (*Store)(nil)

// Open creates or opens the database at path. A nil sealer uses
// qstore.DefaultSealer.
func Open(path string, sealer qstore.Sealer) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	path = os.Expand(path, os.Getenv)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	if sealer == nil {
		sealer = qstore.DefaultSealer()
	}
	return &Store{db: db, path: path, sealer: sealer}, nil
}

func (s *Store) Get(key string, decrypt bool) ([]byte, error) {
	if err := qstore.ValidateKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
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

func (s *Store) Set(key string, encrypt bool, value []byte) error {
	if err := qstore.ValidateKey(key); err != nil {
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
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(`INSERT INTO items (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, data)
	return err
}

func (s *Store) Delete(key string) error {
	if err := qstore.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM items WHERE key = ?`, key)
	return err
}

func (s *Store) Scan(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM items WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
