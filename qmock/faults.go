package qmock

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kardianos/qkeychain/qstore"
)

// ErrInjected is returned by FaultStore for failing operations.
var ErrInjected = fmt.Errorf("qmock: injected fault")

// FaultStore wraps a DataStore and fails writes or deletes whose key starts
// with a configured prefix.
type FaultStore struct {
	qstore.DataStore

	mu           sync.Mutex
	failSet      string
	failDelete   string
	failScan     bool
	sets, delete int
}

var _ qstore.DataStore = (*FaultStore)(nil)

// NewFaultStore wraps s with no faults armed.
func NewFaultStore(s qstore.DataStore) *FaultStore {
	return &FaultStore{DataStore: s}
}

// FailSet makes Set fail for keys beginning with prefix. An empty prefix disarms.
func (f *FaultStore) FailSet(prefix string) {
	f.mu.Lock()
	f.failSet = prefix
	f.mu.Unlock()
}

// FailDelete makes Delete fail for keys beginning with prefix. An empty prefix disarms.
func (f *FaultStore) FailDelete(prefix string) {
	f.mu.Lock()
	f.failDelete = prefix
	f.mu.Unlock()
}

// FailScan makes Scan fail.
func (f *FaultStore) FailScan(fail bool) {
	f.mu.Lock()
	f.failScan = fail
	f.mu.Unlock()
}

// Writes returns the number of successful Set and Delete calls.
func (f *FaultStore) Writes() (sets, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets, f.delete
}

func (f *FaultStore) Set(key string, encrypt bool, value []byte) error {
	f.mu.Lock()
	fail := f.failSet != "" && strings.HasPrefix(key, f.failSet)
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("set %s: %w", key, ErrInjected)
	}
	if err := f.DataStore.Set(key, encrypt, value); err != nil {
		return err
	}
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return nil
}

func (f *FaultStore) Delete(key string) error {
	f.mu.Lock()
	fail := f.failDelete != "" && strings.HasPrefix(key, f.failDelete)
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("delete %s: %w", key, ErrInjected)
	}
	if err := f.DataStore.Delete(key); err != nil {
		return err
	}
	f.mu.Lock()
	f.delete++
	f.mu.Unlock()
	return nil
}

func (f *FaultStore) Scan(prefix string) ([]string, error) {
	f.mu.Lock()
	fail := f.failScan
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("scan %s: %w", prefix, ErrInjected)
	}
	return f.DataStore.Scan(prefix)
}
