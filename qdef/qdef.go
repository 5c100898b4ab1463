package qdef

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound is returned when no stored item matches a query, locator or reference.
	ErrItemNotFound = fmt.Errorf("qkeychain: item not found")

	// ErrDuplicateItem is returned when an add would store an item that already exists.
	ErrDuplicateItem = fmt.Errorf("qkeychain: duplicate item")

	// ErrDecode is returned when a credential payload cannot be decoded.
	ErrDecode = fmt.Errorf("qkeychain: decode failed")

	// ErrParam is returned for a malformed or ambiguous predicate, locator or attribute set.
	ErrParam = fmt.Errorf("qkeychain: invalid parameter")

	// ErrInternal is returned when the durable substrate fails.
	ErrInternal = fmt.Errorf("qkeychain: internal error")

	// ErrClosed is returned when an operation is attempted on a closed keychain.
	ErrClosed = InternalError{Op: "use", Err: fmt.Errorf("keychain closed")}
)

// ParamError describes a rejected predicate option or attribute.
type ParamError struct {
	Option string
	Reason string
}

func (e ParamError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("%s: %s", ErrParam, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrParam, e.Option, e.Reason)
}

func (e ParamError) Unwrap() error {
	return ErrParam
}

// DecodeError is returned when the decoder rejects a certificate or key payload.
type DecodeError struct {
	Class Class
	Err   error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Class, e.Err)
}

func (e DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// DuplicateItemError reports the existing row that blocked an add.
type DuplicateItemError struct {
	Class Class
	RowID int64
}

func (e DuplicateItemError) Error() string {
	return fmt.Sprintf("%s: %s row %d", ErrDuplicateItem, e.Class, e.RowID)
}

func (e DuplicateItemError) Unwrap() error {
	return ErrDuplicateItem
}

// InternalError wraps a failure of the durable substrate.
type InternalError struct {
	Op  string
	Err error
}

func (e InternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInternal, e.Op, e.Err)
}

func (e InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

// Class is the kind of a stored or derived item.
type Class int

const (
	ClassUnspecified Class = iota
	ClassCertificate
	ClassKey
	ClassIdentity
)

func (c Class) String() string {
	switch c {
	case ClassCertificate:
		return "certificate"
	case ClassKey:
		return "key"
	case ClassIdentity:
		return "identity"
	default:
		return "unspecified"
	}
}

// Stored reports whether rows of this class exist in the substrate.
// Identity is a view and is never stored.
func (c Class) Stored() bool {
	return c == ClassCertificate || c == ClassKey
}

// ParseClass parses the names returned by Class.String.
func ParseClass(s string) (Class, error) {
	switch s {
	case "certificate", "cert":
		return ClassCertificate, nil
	case "key":
		return ClassKey, nil
	case "identity":
		return ClassIdentity, nil
	}
	return ClassUnspecified, ParamError{Option: "class", Reason: fmt.Sprintf("unknown class %q", s)}
}

// KeyEncoding tags the encoding of stored key material.
type KeyEncoding int

const (
	// KeyEncodingAuto lets the decoder try PKCS#1, SEC 1 and PKCS#8 in turn.
	KeyEncodingAuto KeyEncoding = iota
	KeyEncodingPKCS1
	KeyEncodingSEC1
	KeyEncodingPKCS8
)

func (e KeyEncoding) String() string {
	switch e {
	case KeyEncodingAuto:
		return "auto"
	case KeyEncodingPKCS1:
		return "pkcs1"
	case KeyEncodingSEC1:
		return "sec1"
	case KeyEncodingPKCS8:
		return "pkcs8"
	default:
		return "unknown"
	}
}

// ParseKeyEncoding parses the names returned by KeyEncoding.String.
func ParseKeyEncoding(s string) (KeyEncoding, error) {
	switch s {
	case "", "auto":
		return KeyEncodingAuto, nil
	case "pkcs1":
		return KeyEncodingPKCS1, nil
	case "sec1":
		return KeyEncodingSEC1, nil
	case "pkcs8":
		return KeyEncodingPKCS8, nil
	}
	return KeyEncodingAuto, ParamError{Option: "keyEncoding", Reason: fmt.Sprintf("unknown key encoding %q", s)}
}

// TieBreak selects one certificate when several share a key's join key.
type TieBreak int

const (
	// TieBreakNewest picks the highest row id.
	TieBreakNewest TieBreak = iota
	// TieBreakOldest picks the lowest row id.
	TieBreakOldest
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakNewest:
		return "newest"
	case TieBreakOldest:
		return "oldest"
	default:
		return "unknown"
	}
}

// ParseTieBreak parses the names returned by TieBreak.String.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "newest":
		return TieBreakNewest, nil
	case "oldest":
		return TieBreakOldest, nil
	}
	return TieBreakNewest, fmt.Errorf("unknown tie break %q", s)
}

// Prefer reports whether row a should be chosen over row b.
func (t TieBreak) Prefer(a, b int64) bool {
	if t == TieBreakOldest {
		return a < b
	}
	return a > b
}

// Status is the closed result taxonomy of keychain operations.
type Status int

const (
	StatusOK Status = iota
	StatusItemNotFound
	StatusDuplicateItem
	StatusDecode
	StatusParam
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusItemNotFound:
		return "item not found"
	case StatusDuplicateItem:
		return "duplicate item"
	case StatusDecode:
		return "decode error"
	case StatusParam:
		return "param error"
	case StatusInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// StatusOf maps an error returned by the keychain onto its Status.
// Errors outside the taxonomy are reported as StatusInternal.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrItemNotFound):
		return StatusItemNotFound
	case errors.Is(err, ErrDuplicateItem):
		return StatusDuplicateItem
	case errors.Is(err, ErrDecode):
		return StatusDecode
	case errors.Is(err, ErrParam):
		return StatusParam
	default:
		return StatusInternal
	}
}
