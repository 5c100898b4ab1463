// Package qkeychain is a persistent store of certificates, private keys and
// identities (a certificate joined with its private key).
//
// Items are found with structured predicates (qdef.Query) and named either by
// in-process handles (qdef.Ref) or by persistent tokens (qdef.PersistentRef)
// that survive a restart. Records live in a qstore.DataStore; an in-memory
// index is rebuilt from it on Open.
package qkeychain

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/kardianos/qkeychain/qdecode"
	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qindex"
	"github.com/kardianos/qkeychain/qref"
	"github.com/kardianos/qkeychain/qstate"
	"github.com/kardianos/qkeychain/qstore"
)

// Config configures a Keychain.
type Config struct {
	// Store holds the records. Required.
	Store qstore.DataStore

	// Decoder derives attributes from payloads. Defaults to qdecode.X509.
	Decoder qdef.Decoder

	// TieBreak picks one certificate when several share a key's join key,
	// and orders query results. Defaults to TieBreakNewest.
	TieBreak qdef.TieBreak

	// Logger receives debug and warning events. Defaults to discarding.
	Logger *slog.Logger

	// Now stamps records. Defaults to the wall clock in UTC.
	Now func() time.Time
}

// Keychain is a store of certificate and key rows with identity views.
// It is safe for concurrent use.
type Keychain struct {
	store    qstore.DataStore
	decoder  qdef.Decoder
	tieBreak qdef.TieBreak
	log      *slog.Logger
	now      func() time.Time
	state    *qstate.Machine[qstate.Lifecycle]

	mu    sync.RWMutex
	index *qindex.Index
	refs  *qref.Registry
	meta  storeMeta
}

// Open loads the keychain held in cfg.Store, initializing an empty store.
func Open(cfg Config) (*Keychain, error) {
	if cfg.Store == nil {
		return nil, qdef.ParamError{Option: "store", Reason: "required"}
	}
	k := &Keychain{
		store:    cfg.Store,
		decoder:  cfg.Decoder,
		tieBreak: cfg.TieBreak,
		log:      cfg.Logger,
		now:      cfg.Now,
		index:    qindex.New(),
	}
	if k.decoder == nil {
		k.decoder = qdecode.X509{}
	}
	if k.log == nil {
		k.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if k.now == nil {
		k.now = timeNow
	}
	k.log = k.log.With("store", cfg.Store.Path())
	k.state = qstate.NewLifecycle(func(from, to qstate.Lifecycle, name string) {
		k.log.Debug("keychain state", "from", from, "to", to, "transition", name)
	})

	if err := k.load(); err != nil {
		k.state.MustTransitionTo(qstate.Failed)
		return nil, err
	}
	k.state.MustTransitionTo(qstate.Ready)
	return k, nil
}

func (k *Keychain) load() error {
	raw, err := k.store.Get(metaKey, false)
	if err != nil {
		return qdef.InternalError{Op: "read meta", Err: err}
	}
	if raw == nil {
		k.meta = storeMeta{
			Format:    metaFormat,
			StoreID:   newStoreID(),
			NextRowID: 1,
			CreatedAt: k.now(),
		}
		if err := k.saveMeta(k.meta); err != nil {
			return err
		}
		k.log.Debug("initialized store")
	} else if err := cbor.Unmarshal(raw, &k.meta); err != nil {
		return qdef.InternalError{Op: "decode meta", Err: err}
	}
	if k.meta.Format != metaFormat {
		return qdef.InternalError{Op: "read meta", Err: fmt.Errorf("unsupported store format %d", k.meta.Format)}
	}
	id, err := k.meta.id()
	if err != nil {
		return qdef.InternalError{Op: "read meta", Err: err}
	}

	for _, class := range []qdef.Class{qdef.ClassCertificate, qdef.ClassKey} {
		if err := k.loadClass(class); err != nil {
			return err
		}
	}
	// A row persisted without its counter update must not be handed out again.
	if top := k.index.MaxRowID(); top >= k.meta.NextRowID {
		m := k.meta
		m.NextRowID = top + 1
		if err := k.saveMeta(m); err != nil {
			return err
		}
		k.meta = m
	}

	k.refs = qref.NewRegistry(id, indexRows{k})
	k.log.Debug("loaded keychain",
		"certificates", k.index.Len(qdef.ClassCertificate),
		"keys", k.index.Len(qdef.ClassKey),
		"next_row", k.meta.NextRowID)
	return nil
}

func (k *Keychain) loadClass(class qdef.Class) error {
	keys, err := k.store.Scan(rowPrefix(class))
	if err != nil {
		return qdef.InternalError{Op: "scan " + class.String(), Err: err}
	}
	for _, key := range keys {
		rowID, err := parseRowKey(key)
		if err != nil {
			k.log.Warn("skipping unrecognized entry", "key", key, "error", err)
			continue
		}
		data, err := k.store.Get(key, sealed(class))
		if err != nil {
			return qdef.InternalError{Op: "read " + key, Err: err}
		}
		r, err := decodeRecord(data)
		if err != nil || r.Class != class || r.RowID != rowID {
			k.log.Warn("skipping corrupt record", "key", key, "error", err)
			continue
		}
		k.index.Insert(r)
	}
	return nil
}

func newStoreID() []byte {
	id := uuid.New()
	return id[:]
}

func (k *Keychain) saveMeta(m storeMeta) error {
	data, err := encodeMeta(m)
	if err != nil {
		return qdef.InternalError{Op: "encode meta", Err: err}
	}
	if err := k.store.Set(metaKey, false, data); err != nil {
		return qdef.InternalError{Op: "write meta", Err: err}
	}
	return nil
}

// Close marks the keychain closed. Later calls fail with qdef.ErrClosed.
// The Store is owned by the caller and is not closed.
func (k *Keychain) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.state.TransitionTo(qstate.Closed); err != nil {
		return qdef.ErrClosed
	}
	return nil
}

// StoreID returns the instance id embedded in persistent references.
func (k *Keychain) StoreID() uuid.UUID {
	return k.refs.StoreID()
}

// Path returns the location of the backing store.
func (k *Keychain) Path() string {
	return k.store.Path()
}

// ready must be called with k.mu held.
func (k *Keychain) ready() error {
	if !k.state.In(qstate.Ready) {
		return qdef.ErrClosed
	}
	return nil
}

// indexRows answers qref.RowChecker from the index. Callers hold k.mu.
type indexRows struct {
	k *Keychain
}

func (r indexRows) HasRow(t qref.Target) bool {
	_, err := r.k.fromTarget(t)
	return err == nil
}
