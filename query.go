package qkeychain

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qindex"
	"github.com/kardianos/qkeychain/qref"
)

// CopyMatching returns the items matching q.
//
// By default one match is returned, the first in tie-break order; set q.Limit
// for more. A query that matches nothing fails with qdef.ErrItemNotFound.
// Every returned Ref has a reference count of one and must be released.
func (k *Keychain) CopyMatching(q qdef.Query) (qdef.Result, error) {
	if err := q.Validate(); err != nil {
		return qdef.Result{}, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if err := k.ready(); err != nil {
		return qdef.Result{}, err
	}

	items, err := k.match(q)
	if err != nil {
		return qdef.Result{}, err
	}
	if n := q.MaxMatches(); n >= 0 && len(items) > n {
		items = items[:n]
	}
	res := qdef.Result{Matches: make([]qdef.Match, 0, len(items))}
	for _, it := range items {
		res.Matches = append(res.Matches, k.buildMatch(q, it))
	}
	return res, nil
}

// ResolvePersistentRef returns a handle for a token, or qdef.ErrItemNotFound
// if its row has been deleted or it was issued by another store.
func (k *Keychain) ResolvePersistentRef(token qdef.PersistentRef) (qdef.Ref, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if err := k.ready(); err != nil {
		return qdef.Ref{}, err
	}
	it, err := k.fromToken(token)
	if err != nil {
		return qdef.Ref{}, err
	}
	return it.ref(), nil
}

// match returns every item q selects, ordered by the tie-break policy.
// Callers hold k.mu.
func (k *Keychain) match(q qdef.Query) ([]item, error) {
	var items []item
	switch {
	case !q.ValueRef.IsZero() || !q.PersistentRef.IsZero():
		var (
			it  item
			err error
		)
		if !q.ValueRef.IsZero() {
			it, err = k.fromRef(q.ValueRef)
		} else {
			it, err = k.fromToken(q.PersistentRef)
		}
		if err != nil {
			return nil, err
		}
		if q.Class != qdef.ClassUnspecified && q.Class != it.class {
			opt := qdef.OptPersistentRef
			if !q.ValueRef.IsZero() {
				opt = qdef.OptValueRef
			}
			return nil, qdef.ParamError{Option: opt, Reason: fmt.Sprintf("ref is %s, query class is %s", it.class, q.Class)}
		}
		if !matchItem(q, it) {
			return nil, fmt.Errorf("%w: %s does not match the query", qdef.ErrItemNotFound, it.ref())
		}
		items = []item{it}
	case q.Class == qdef.ClassIdentity:
		items = k.findIdentities(q)
	default:
		for _, r := range k.index.Find(q.Class, rowFilter(q)) {
			it := item{class: q.Class}
			if q.Class == qdef.ClassKey {
				it.key = r
			} else {
				it.cert = r
			}
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no %s matches the query", qdef.ErrItemNotFound, q.Class)
	}
	if k.tieBreak == qdef.TieBreakNewest {
		slices.Reverse(items)
	}
	return items, nil
}

func rowFilter(q qdef.Query) qindex.Filter {
	return qindex.Filter{
		ApplicationLabel: q.ApplicationLabel,
		Label:            q.Label,
		Issuer:           q.Issuer,
		Subject:          q.Subject,
		PublicKeyHash:    q.PublicKeyHash,
		SerialNumber:     q.SerialNumber,
	}
}

// matchItem applies the attribute filters of q to a single item.
func matchItem(q qdef.Query, it item) bool {
	if !q.HasAttributes() {
		return true
	}
	if it.class == qdef.ClassIdentity {
		f, ok := certFilter(q)
		return ok && f.Match(it.cert)
	}
	if it.class == qdef.ClassKey && (q.Issuer != nil || q.Subject != nil || q.SerialNumber != nil) {
		return false
	}
	return rowFilter(q).Match(it.primary())
}

// fromRef resolves a handle against the current rows. Callers hold k.mu.
func (k *Keychain) fromRef(ref qdef.Ref) (item, error) {
	if ref.IsZero() {
		return item{}, qdef.ParamError{Option: qdef.OptValueRef, Reason: "empty ref"}
	}
	return k.fromTarget(qref.Target{Class: ref.Class(), RowID: ref.RowID(), KeyRowID: ref.KeyRowID()})
}

// fromToken resolves a persistent token against the current rows.
// Callers hold k.mu.
func (k *Keychain) fromToken(token qdef.PersistentRef) (item, error) {
	t, err := k.refs.Resolve(token)
	if err != nil {
		return item{}, err
	}
	return k.fromTarget(t)
}

// fromTarget loads the exact rows a handle or token names. An identity needs
// both its certificate row and its key row. Callers hold k.mu.
func (k *Keychain) fromTarget(t qref.Target) (item, error) {
	notFound := fmt.Errorf("%w: %s", qdef.ErrItemNotFound, t)
	switch t.Class {
	case qdef.ClassCertificate:
		r, ok := k.index.Get(qdef.ClassCertificate, t.RowID)
		if !ok {
			return item{}, notFound
		}
		return item{class: qdef.ClassCertificate, cert: r}, nil
	case qdef.ClassKey:
		r, ok := k.index.Get(qdef.ClassKey, t.RowID)
		if !ok {
			return item{}, notFound
		}
		return item{class: qdef.ClassKey, key: r}, nil
	case qdef.ClassIdentity:
		cert, ok := k.index.Get(qdef.ClassCertificate, t.RowID)
		if !ok {
			return item{}, notFound
		}
		key, ok := k.index.Get(qdef.ClassKey, t.KeyRowID)
		if !ok || !bytes.Equal(key.ApplicationLabel, cert.PublicKeyHash) {
			return item{}, notFound
		}
		return item{class: qdef.ClassIdentity, cert: cert, key: key}, nil
	}
	return item{}, notFound
}

// buildMatch copies the requested parts of an item out of the index.
func (k *Keychain) buildMatch(q qdef.Query, it item) qdef.Match {
	var m qdef.Match
	if q.ReturnRef {
		m.Ref = it.ref()
	}
	if q.ReturnPersistentRef {
		m.PersistentRef = k.refs.Issue(it.target())
	}
	if q.ReturnData {
		m.Data = append([]byte(nil), it.primary().Value...)
	}
	if q.ReturnAttributes {
		attrs := it.primary().Attributes()
		if it.class == qdef.ClassIdentity {
			attrs.Class = qdef.ClassIdentity
			attrs.KeyRowID = it.key.RowID
			attrs.ApplicationLabel = append([]byte(nil), it.key.ApplicationLabel...)
			attrs.KeyAlgorithm = it.key.KeyAlgorithm
			attrs.KeyEncoding = it.key.KeyEncoding
		}
		m.Attributes = &attrs
	}
	return m
}
