// Package qref issues and resolves persistent references: stable,
// serializable tokens naming a stored row independent of in-process handles.
//
// A token is the bech32 encoding (prefix "kcref") of a version byte, the item
// class, the row id and the id of the store that issued it. Identity tokens
// (version 2) also carry the key row, so an identity token dies with either
// of its rows. Encoding is deterministic, so issuing twice for one target
// yields the same token. Row ids are never reused, so a token for a deleted
// row never resolves again.
package qref

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/kardianos/qkeychain/bech32"
	"github.com/kardianos/qkeychain/qdef"
)

// HRP is the human-readable prefix of every token.
const HRP = "kcref"

const (
	versionRow      = 1
	versionIdentity = 2

	rowPayloadSize      = 1 + 1 + 8 + 16
	identityPayloadSize = 1 + 1 + 8 + 8 + 16
)

// Target is what a token names. KeyRowID is set for identities only,
// where RowID is the certificate row.
type Target struct {
	Class    qdef.Class
	RowID    int64
	KeyRowID int64
}

// RowChecker reports whether a target's rows are still present.
type RowChecker interface {
	HasRow(t Target) bool
}

// Registry issues and resolves tokens for one store instance.
// It keeps no per-token state; validity is derived from the rows.
type Registry struct {
	store uuid.UUID
	rows  RowChecker
}

// NewRegistry returns a registry for the store identified by storeID.
func NewRegistry(storeID uuid.UUID, rows RowChecker) *Registry {
	return &Registry{store: storeID, rows: rows}
}

// StoreID returns the id embedded in issued tokens.
func (r *Registry) StoreID() uuid.UUID {
	return r.store
}

// Issue returns the token for a target.
func (r *Registry) Issue(t Target) qdef.PersistentRef {
	var payload []byte
	if t.Class == qdef.ClassIdentity {
		payload = make([]byte, identityPayloadSize)
		payload[0] = versionIdentity
		binary.BigEndian.PutUint64(payload[10:18], uint64(t.KeyRowID))
	} else {
		payload = make([]byte, rowPayloadSize)
		payload[0] = versionRow
	}
	payload[1] = byte(t.Class)
	binary.BigEndian.PutUint64(payload[2:10], uint64(t.RowID))
	copy(payload[len(payload)-16:], r.store[:])
	return qdef.PersistentRef(bech32.Encode(HRP, payload))
}

// Decode parses a token without checking that its rows exist.
//
// A token that does not parse is a ParamError. A well-formed token issued by
// a different store is reported as ErrItemNotFound.
func (r *Registry) Decode(token qdef.PersistentRef) (Target, error) {
	hrp, payload, err := bech32.Decode(string(token))
	if err != nil {
		return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: err.Error()}
	}
	if hrp != HRP {
		return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: fmt.Sprintf("unexpected prefix %q", hrp)}
	}
	if len(payload) < 2 {
		return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: "unsupported token"}
	}
	t := Target{Class: qdef.Class(payload[1])}
	switch {
	case payload[0] == versionRow && len(payload) == rowPayloadSize:
		if t.Class != qdef.ClassCertificate && t.Class != qdef.ClassKey {
			return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: fmt.Sprintf("unknown class %d", t.Class)}
		}
	case payload[0] == versionIdentity && len(payload) == identityPayloadSize:
		if t.Class != qdef.ClassIdentity {
			return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: fmt.Sprintf("unknown class %d", t.Class)}
		}
		t.KeyRowID = int64(binary.BigEndian.Uint64(payload[10:18]))
	default:
		return Target{}, qdef.ParamError{Option: qdef.OptPersistentRef, Reason: "unsupported token"}
	}
	t.RowID = int64(binary.BigEndian.Uint64(payload[2:10]))

	var issuer uuid.UUID
	copy(issuer[:], payload[len(payload)-16:])
	if issuer != r.store {
		return Target{}, fmt.Errorf("%w: token from store %s", qdef.ErrItemNotFound, issuer)
	}
	return t, nil
}

// Resolve decodes a token and confirms its rows still exist.
func (r *Registry) Resolve(token qdef.PersistentRef) (Target, error) {
	t, err := r.Decode(token)
	if err != nil {
		return Target{}, err
	}
	if !r.rows.HasRow(t) {
		return Target{}, fmt.Errorf("%w: %s", qdef.ErrItemNotFound, t)
	}
	return t, nil
}

func (t Target) String() string {
	if t.Class == qdef.ClassIdentity {
		return fmt.Sprintf("identity cert row %d key row %d", t.RowID, t.KeyRowID)
	}
	return fmt.Sprintf("%s row %d", t.Class, t.RowID)
}
