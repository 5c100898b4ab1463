package qkeychain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kardianos/qkeychain/qdecode"
	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qindex"
	"github.com/kardianos/qkeychain/qstate"
)

// Add stores a certificate, a key, or both halves of an identity.
//
// Payloads are decoded before the keychain is locked. Certificates are unique
// by DER value and keys by application label; an identity is rejected if
// either half already exists. An identity's key and certificate must share the
// join key. A failed add leaves the store unchanged and returns no token.
func (k *Keychain) Add(a qdef.Attributes) (qdef.AddResult, error) {
	if err := a.Validate(); err != nil {
		return qdef.AddResult{}, err
	}
	if !k.state.In(qstate.Ready) {
		return qdef.AddResult{}, qdef.ErrClosed
	}
	rows, err := k.decode(a)
	if err != nil {
		return qdef.AddResult{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ready(); err != nil {
		return qdef.AddResult{}, err
	}
	for _, r := range rows {
		if err := k.checkUnique(r); err != nil {
			return qdef.AddResult{}, err
		}
	}

	first, err := k.reserveRows(len(rows))
	if err != nil {
		return qdef.AddResult{}, err
	}
	now := k.now()
	for i, r := range rows {
		r.RowID = first + int64(i)
		r.CreatedAt = now
		r.ModifiedAt = now
	}
	if err := k.persist(rows); err != nil {
		return qdef.AddResult{}, err
	}
	for _, r := range rows {
		k.index.Insert(r)
	}

	it := item{class: a.Class}
	for _, r := range rows {
		if r.Class == qdef.ClassKey {
			it.key = r
		} else {
			it.cert = r
		}
	}
	k.log.Debug("added item", "class", a.Class, "row", it.primary().RowID)

	var res qdef.AddResult
	if a.ReturnRef {
		res.Ref = it.ref()
	}
	if a.ReturnPersistentRef {
		res.PersistentRef = k.refs.Issue(it.target())
	}
	return res, nil
}

// decode derives the records to store. For an identity the key comes first.
func (k *Keychain) decode(a qdef.Attributes) ([]*qdef.Record, error) {
	switch a.Class {
	case qdef.ClassCertificate:
		cert, err := k.decodeCertificate(a.Value, a.Label)
		if err != nil {
			return nil, err
		}
		return []*qdef.Record{cert}, nil
	case qdef.ClassKey:
		key, err := k.decodeKey(a.Value, a.KeyEncoding, a.ApplicationLabel, a.Label)
		if err != nil {
			return nil, err
		}
		return []*qdef.Record{key}, nil
	}

	cert, err := k.decodeCertificate(a.Value, a.Label)
	if err != nil {
		return nil, err
	}
	key, err := k.decodeKey(a.KeyValue, a.KeyEncoding, a.ApplicationLabel, cert.Label)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(key.ApplicationLabel, cert.PublicKeyHash) {
		return nil, qdef.ParamError{Option: "keyValue", Reason: "key does not match the certificate"}
	}
	return []*qdef.Record{key, cert}, nil
}

func (k *Keychain) decodeCertificate(der []byte, label string) (*qdef.Record, error) {
	info, err := k.decoder.DecodeCertificate(der)
	if err != nil {
		return nil, qdef.DecodeError{Class: qdef.ClassCertificate, Err: err}
	}
	if label == "" {
		label = info.CommonName
	}
	r := &qdef.Record{
		Class:            qdef.ClassCertificate,
		Value:            bytes.Clone(der),
		ApplicationLabel: info.PublicKeyHash,
		Label:            label,
		Issuer:           info.Issuer,
		Subject:          info.Subject,
		PublicKeyHash:    info.PublicKeyHash,
	}
	if info.SerialNumber != nil {
		r.SerialNumber = qdecode.SerialBytes(info.SerialNumber)
	}
	return r, nil
}

func (k *Keychain) decodeKey(der []byte, enc qdef.KeyEncoding, appLabel []byte, label string) (*qdef.Record, error) {
	info, err := k.decoder.DecodeKey(der, enc)
	if err != nil {
		return nil, qdef.DecodeError{Class: qdef.ClassKey, Err: err}
	}
	if appLabel == nil {
		appLabel = info.PublicKeyHash
	}
	return &qdef.Record{
		Class:            qdef.ClassKey,
		Value:            bytes.Clone(der),
		KeyEncoding:      info.Encoding,
		ApplicationLabel: bytes.Clone(appLabel),
		Label:            label,
		PublicKeyHash:    info.PublicKeyHash,
		KeyAlgorithm:     info.Algorithm,
	}, nil
}

// checkUnique must be called with the write lock held.
func (k *Keychain) checkUnique(r *qdef.Record) error {
	switch r.Class {
	case qdef.ClassCertificate:
		if old, ok := k.index.FindValue(qdef.ClassCertificate, r.Value); ok {
			return qdef.DuplicateItemError{Class: qdef.ClassCertificate, RowID: old.RowID}
		}
	case qdef.ClassKey:
		if old := k.index.Find(qdef.ClassKey, qindex.Filter{ApplicationLabel: r.ApplicationLabel}); len(old) > 0 {
			return qdef.DuplicateItemError{Class: qdef.ClassKey, RowID: old[0].RowID}
		}
	}
	return nil
}

// reserveRows advances the persisted row counter by n and returns the first
// reserved id. Reserved ids are never handed out again, even if the add fails.
func (k *Keychain) reserveRows(n int) (int64, error) {
	m := k.meta
	first := m.NextRowID
	m.NextRowID += int64(n)
	if err := k.saveMeta(m); err != nil {
		return 0, err
	}
	k.meta = m
	return first, nil
}

// persist writes rows in order, removing the ones already written if a later
// one fails.
func (k *Keychain) persist(rows []*qdef.Record) error {
	for i, r := range rows {
		if err := k.writeRow(r); err != nil {
			for _, done := range rows[:i] {
				if rerr := k.store.Delete(rowKey(done.Class, done.RowID)); rerr != nil {
					k.log.Warn("rollback failed", "class", done.Class, "row", done.RowID, "error", rerr)
				}
			}
			if i > 0 {
				k.log.Warn("rolled back partial add", "rows", i, "error", err)
			}
			return err
		}
	}
	return nil
}

func (k *Keychain) writeRow(r *qdef.Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return qdef.InternalError{Op: "encode " + r.Class.String(), Err: err}
	}
	key := rowKey(r.Class, r.RowID)
	if err := k.store.Set(key, sealed(r.Class), data); err != nil {
		return qdef.InternalError{Op: "write " + key, Err: err}
	}
	return nil
}

// Update applies changes to the single item located by q. For an identity
// both rows change. Row ids, application labels and tokens are unaffected.
//
// A locator with no ref and no attribute filter is rejected, as is one that
// matches more than one item.
func (k *Keychain) Update(q qdef.Query, c qdef.Changes) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if !q.HasRef() && !q.HasAttributes() {
		return qdef.ParamError{Reason: "update locator is empty"}
	}
	if c.IsEmpty() {
		return qdef.ParamError{Reason: "no changes"}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ready(); err != nil {
		return err
	}
	items, err := k.match(q)
	if err != nil {
		return err
	}
	if len(items) > 1 {
		return qdef.ParamError{Reason: fmt.Sprintf("update locator matches %d items", len(items))}
	}
	it := items[0]

	now := k.now()
	rows := it.rows()
	updated := make([]*qdef.Record, len(rows))
	for i, r := range rows {
		u := *r
		if c.Label != nil {
			u.Label = *c.Label
		}
		u.ModifiedAt = now
		updated[i] = &u
	}
	for i, u := range updated {
		if err := k.writeRow(u); err != nil {
			for _, old := range rows[:i] {
				if rerr := k.writeRow(old); rerr != nil {
					k.log.Warn("rollback failed", "class", old.Class, "row", old.RowID, "error", rerr)
				}
			}
			return err
		}
	}
	for _, u := range updated {
		k.index.SetLabel(u.Class, u.RowID, u.Label, u.ModifiedAt)
	}
	k.log.Debug("updated item", "class", it.class, "row", it.primary().RowID)
	return nil
}

// Delete removes every item q matches; q.Limit is ignored. Deleting an
// identity removes its key and certificate rows.
func (k *Keychain) Delete(q qdef.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q.Limit = qdef.MatchLimitAll

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ready(); err != nil {
		return err
	}
	items, err := k.match(q)
	if err != nil {
		return err
	}

	type rowID struct {
		class qdef.Class
		id    int64
	}
	seen := make(map[rowID]bool)
	var rows []*qdef.Record
	for _, it := range items {
		for _, r := range it.rows() {
			id := rowID{r.Class, r.RowID}
			if !seen[id] {
				seen[id] = true
				rows = append(rows, r)
			}
		}
	}

	for i, r := range rows {
		key := rowKey(r.Class, r.RowID)
		if err := k.store.Delete(key); err != nil {
			var errs []error
			for _, done := range rows[:i] {
				errs = append(errs, k.writeRow(done))
			}
			if rerr := errors.Join(errs...); rerr != nil {
				k.log.Warn("rollback failed", "error", rerr)
			} else if i > 0 {
				k.log.Warn("rolled back partial delete", "rows", i, "error", err)
			}
			return qdef.InternalError{Op: "delete " + key, Err: err}
		}
	}
	for _, r := range rows {
		k.index.Remove(r.Class, r.RowID)
	}
	k.log.Debug("deleted items", "class", q.Class, "items", len(items), "rows", len(rows))
	return nil
}
