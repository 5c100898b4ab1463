package qdef

import (
	"fmt"
	"sync/atomic"
)

// Ref is an in-process handle to a stored item or an identity view.
//
// Copies made with Retain share one reference count. Releasing the last
// reference never deletes the stored row; only Delete does that.
// The zero Ref refers to nothing.
type Ref struct {
	h *refHandle
}

type refHandle struct {
	class    Class
	rowID    int64
	keyRowID int64
	count    atomic.Int32
}

// NewRef returns a handle with a reference count of one.
// For ClassIdentity, rowID is the certificate row and keyRowID the key row.
func NewRef(class Class, rowID, keyRowID int64) Ref {
	h := &refHandle{class: class, rowID: rowID, keyRowID: keyRowID}
	h.count.Store(1)
	return Ref{h: h}
}

// IsZero reports whether the ref refers to nothing.
func (r Ref) IsZero() bool {
	return r.h == nil
}

func (r Ref) Class() Class {
	if r.h == nil {
		return ClassUnspecified
	}
	return r.h.class
}

// RowID is the row of the item; the certificate row for an identity.
func (r Ref) RowID() int64 {
	if r.h == nil {
		return 0
	}
	return r.h.rowID
}

// KeyRowID is the key row of an identity, zero for other classes.
func (r Ref) KeyRowID() int64 {
	if r.h == nil {
		return 0
	}
	return r.h.keyRowID
}

// Retain adds a reference and returns a copy sharing the count.
func (r Ref) Retain() Ref {
	if r.h != nil {
		r.h.count.Add(1)
	}
	return r
}

// Release drops a reference.
func (r Ref) Release() {
	if r.h == nil {
		return
	}
	if r.h.count.Add(-1) < 0 {
		panic("qdef: Ref released more times than retained")
	}
}

// RefCount returns the number of outstanding references.
func (r Ref) RefCount() int32 {
	if r.h == nil {
		return 0
	}
	return r.h.count.Load()
}

// Equal reports whether both refs name the same item.
func (r Ref) Equal(o Ref) bool {
	return r.Class() == o.Class() && r.RowID() == o.RowID() && r.KeyRowID() == o.KeyRowID()
}

func (r Ref) String() string {
	switch {
	case r.h == nil:
		return "ref(nil)"
	case r.h.class == ClassIdentity:
		return fmt.Sprintf("ref(identity cert=%d key=%d)", r.h.rowID, r.h.keyRowID)
	default:
		return fmt.Sprintf("ref(%s %d)", r.h.class, r.h.rowID)
	}
}

// PersistentRef is an opaque, serializable token naming a stored row.
type PersistentRef string

func (p PersistentRef) IsZero() bool {
	return p == ""
}
