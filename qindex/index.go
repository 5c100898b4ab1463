// Package qindex holds item records in memory and answers exact-match
// attribute lookups over them.
//
// An Index is not safe for concurrent use; the keychain serializes access.
package qindex

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"slices"
	"time"

	"github.com/kardianos/qkeychain/qdef"
)

type attr int

const (
	attrApplicationLabel attr = iota
	attrLabel
	attrIssuer
	attrSubject
	attrPublicKeyHash
	attrSerialNumber
	attrValue
)

type attrKey struct {
	class qdef.Class
	attr  attr
	value string
}

type rowSet map[int64]struct{}

// Filter is a conjunction of exact-match attribute tests. Unset fields match anything.
type Filter struct {
	ApplicationLabel []byte
	Label            *string
	Issuer           []byte
	Subject          []byte
	PublicKeyHash    []byte
	SerialNumber     []byte
}

// Empty reports whether the filter matches every row.
func (f Filter) Empty() bool {
	return f.ApplicationLabel == nil && f.Label == nil && f.Issuer == nil &&
		f.Subject == nil && f.PublicKeyHash == nil && f.SerialNumber == nil
}

// Match tests a single record.
func (f Filter) Match(r *qdef.Record) bool {
	switch {
	case f.ApplicationLabel != nil && !bytes.Equal(f.ApplicationLabel, r.ApplicationLabel):
		return false
	case f.Label != nil && *f.Label != r.Label:
		return false
	case f.Issuer != nil && !bytes.Equal(f.Issuer, r.Issuer):
		return false
	case f.Subject != nil && !bytes.Equal(f.Subject, r.Subject):
		return false
	case f.PublicKeyHash != nil && !bytes.Equal(f.PublicKeyHash, r.PublicKeyHash):
		return false
	case f.SerialNumber != nil && !bytes.Equal(f.SerialNumber, r.SerialNumber):
		return false
	}
	return true
}

func (f Filter) keys(class qdef.Class) []attrKey {
	var keys []attrKey
	add := func(a attr, v []byte) {
		if v != nil {
			keys = append(keys, attrKey{class: class, attr: a, value: string(v)})
		}
	}
	add(attrApplicationLabel, f.ApplicationLabel)
	if f.Label != nil {
		keys = append(keys, attrKey{class: class, attr: attrLabel, value: *f.Label})
	}
	add(attrIssuer, f.Issuer)
	add(attrSubject, f.Subject)
	add(attrPublicKeyHash, f.PublicKeyHash)
	add(attrSerialNumber, f.SerialNumber)
	return keys
}

// Index stores records by class and row id with secondary attribute maps.
type Index struct {
	rows  map[qdef.Class]map[int64]*qdef.Record
	attrs map[attrKey]rowSet
	max   int64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		rows: map[qdef.Class]map[int64]*qdef.Record{
			qdef.ClassCertificate: {},
			qdef.ClassKey:         {},
		},
		attrs: make(map[attrKey]rowSet),
	}
}

func recordKeys(r *qdef.Record) []attrKey {
	label := r.Label
	keys := Filter{
		ApplicationLabel: r.ApplicationLabel,
		Label:            &label,
		Issuer:           r.Issuer,
		Subject:          r.Subject,
		PublicKeyHash:    r.PublicKeyHash,
		SerialNumber:     r.SerialNumber,
	}.keys(r.Class)
	return append(keys, attrKey{class: r.Class, attr: attrValue, value: valueDigest(r.Value)})
}

func valueDigest(v []byte) string {
	sum := sha256.Sum256(v)
	return string(sum[:])
}

// Insert adds or replaces a record. Only stored classes are accepted.
func (x *Index) Insert(r *qdef.Record) {
	rows, ok := x.rows[r.Class]
	if !ok {
		panic("qindex: insert of non-stored class " + r.Class.String())
	}
	if old, ok := rows[r.RowID]; ok {
		x.unlink(old)
	}
	rows[r.RowID] = r
	x.link(r)
	if r.RowID > x.max {
		x.max = r.RowID
	}
}

func (x *Index) link(r *qdef.Record) {
	for _, k := range recordKeys(r) {
		set := x.attrs[k]
		if set == nil {
			set = make(rowSet)
			x.attrs[k] = set
		}
		set[r.RowID] = struct{}{}
	}
}

func (x *Index) unlink(r *qdef.Record) {
	for _, k := range recordKeys(r) {
		set := x.attrs[k]
		delete(set, r.RowID)
		if len(set) == 0 {
			delete(x.attrs, k)
		}
	}
}

// Remove deletes a row and returns it.
func (x *Index) Remove(class qdef.Class, rowID int64) (*qdef.Record, bool) {
	r, ok := x.rows[class][rowID]
	if !ok {
		return nil, false
	}
	x.unlink(r)
	delete(x.rows[class], rowID)
	return r, true
}

// Get returns a row.
func (x *Index) Get(class qdef.Class, rowID int64) (*qdef.Record, bool) {
	r, ok := x.rows[class][rowID]
	return r, ok
}

// SetLabel changes a row's label and keeps the label map in sync.
func (x *Index) SetLabel(class qdef.Class, rowID int64, label string, at time.Time) bool {
	r, ok := x.rows[class][rowID]
	if !ok {
		return false
	}
	x.unlink(r)
	r.Label = label
	r.ModifiedAt = at
	x.link(r)
	return true
}

// FindValue returns the row holding exactly this payload.
func (x *Index) FindValue(class qdef.Class, value []byte) (*qdef.Record, bool) {
	for rowID := range x.attrs[attrKey{class: class, attr: attrValue, value: valueDigest(value)}] {
		if r := x.rows[class][rowID]; bytes.Equal(r.Value, value) {
			return r, true
		}
	}
	return nil, false
}

// Find returns the rows of a class matching f, in ascending row id order.
func (x *Index) Find(class qdef.Class, f Filter) []*qdef.Record {
	var candidates rowSet
	for _, k := range f.keys(class) {
		set := x.attrs[k]
		if len(set) == 0 {
			return nil
		}
		if candidates == nil || len(set) < len(candidates) {
			candidates = set
		}
	}

	var out []*qdef.Record
	if candidates == nil {
		for _, r := range x.rows[class] {
			out = append(out, r)
		}
	} else {
		for rowID := range candidates {
			if r := x.rows[class][rowID]; f.Match(r) {
				out = append(out, r)
			}
		}
	}
	slices.SortFunc(out, func(a, b *qdef.Record) int {
		return cmp.Compare(a.RowID, b.RowID)
	})
	return out
}

// Len returns the number of rows of a class.
func (x *Index) Len(class qdef.Class) int {
	return len(x.rows[class])
}

// MaxRowID returns the highest row id ever inserted.
func (x *Index) MaxRowID() int64 {
	return x.max
}
