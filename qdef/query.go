package qdef

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// MatchLimitAll returns every match instead of the single default candidate.
const MatchLimitAll = -1

// Query option names, as accepted by ParseQuery.
const (
	OptClass               = "class"
	OptApplicationLabel    = "applicationLabel"
	OptLabel               = "label"
	OptIssuer              = "issuer"
	OptSubject             = "subject"
	OptPublicKeyHash       = "publicKeyHash"
	OptSerialNumber        = "serialNumber"
	OptValueRef            = "valueRef"
	OptPersistentRef       = "persistentRef"
	OptReturnRef           = "returnRef"
	OptReturnPersistentRef = "returnPersistentRef"
	OptReturnData          = "returnData"
	OptReturnAttributes    = "returnAttributes"
	OptLimit               = "limit"
)

// Query is a structured predicate over the keychain.
//
// Byte-valued filters are unset when nil. Label is unset when nil so an
// empty label can still be matched.
type Query struct {
	Class Class

	ApplicationLabel []byte
	Label            *string
	Issuer           []byte
	Subject          []byte
	PublicKeyHash    []byte
	SerialNumber     []byte

	ValueRef      Ref
	PersistentRef PersistentRef

	ReturnRef           bool
	ReturnPersistentRef bool
	ReturnData          bool
	ReturnAttributes    bool

	// Limit is the maximum number of matches. Zero means one.
	Limit int
}

// HasAttributes reports whether any attribute filter is set.
func (q Query) HasAttributes() bool {
	return q.ApplicationLabel != nil || q.Label != nil || q.Issuer != nil ||
		q.Subject != nil || q.PublicKeyHash != nil || q.SerialNumber != nil
}

// HasRef reports whether the query names an item by handle or token.
func (q Query) HasRef() bool {
	return !q.ValueRef.IsZero() || !q.PersistentRef.IsZero()
}

// MaxMatches resolves Limit into a count, or -1 for unbounded.
func (q Query) MaxMatches() int {
	switch {
	case q.Limit == MatchLimitAll:
		return -1
	case q.Limit <= 0:
		return 1
	default:
		return q.Limit
	}
}

// Validate checks the option combination independent of store contents.
func (q Query) Validate() error {
	if q.Limit < MatchLimitAll {
		return ParamError{Option: OptLimit, Reason: fmt.Sprintf("invalid limit %d", q.Limit)}
	}
	if !q.ValueRef.IsZero() && !q.PersistentRef.IsZero() {
		return ParamError{Option: OptValueRef, Reason: "cannot be combined with persistentRef"}
	}
	switch q.Class {
	case ClassUnspecified:
		if !q.HasRef() {
			return ParamError{Option: OptClass, Reason: "required without valueRef or persistentRef"}
		}
	case ClassCertificate, ClassIdentity:
	case ClassKey:
		switch {
		case q.Issuer != nil:
			return ParamError{Option: OptIssuer, Reason: "not an attribute of class key"}
		case q.Subject != nil:
			return ParamError{Option: OptSubject, Reason: "not an attribute of class key"}
		case q.SerialNumber != nil:
			return ParamError{Option: OptSerialNumber, Reason: "not an attribute of class key"}
		}
	default:
		return ParamError{Option: OptClass, Reason: fmt.Sprintf("unknown class %d", q.Class)}
	}
	if !q.ValueRef.IsZero() && q.Class != ClassUnspecified && q.Class != q.ValueRef.Class() {
		return ParamError{Option: OptValueRef, Reason: fmt.Sprintf("ref is %s, query class is %s", q.ValueRef.Class(), q.Class)}
	}
	return nil
}

// ParseQuery builds a Query from an option dictionary, such as one read from
// YAML or JSON. Unrecognized options are rejected.
//
// Byte options accept []byte or a hex string. limit accepts an int or "all".
func ParseQuery(opts map[string]any) (Query, error) {
	var q Query
	for _, name := range sortedKeys(opts) {
		v := opts[name]
		var err error
		switch name {
		case OptClass:
			switch c := v.(type) {
			case Class:
				q.Class = c
			case string:
				q.Class, err = ParseClass(c)
			default:
				err = typeError(name, v)
			}
		case OptApplicationLabel:
			q.ApplicationLabel, err = bytesOption(name, v)
		case OptLabel:
			s, ok := v.(string)
			if !ok {
				err = typeError(name, v)
				break
			}
			q.Label = &s
		case OptIssuer:
			q.Issuer, err = bytesOption(name, v)
		case OptSubject:
			q.Subject, err = bytesOption(name, v)
		case OptPublicKeyHash:
			q.PublicKeyHash, err = bytesOption(name, v)
		case OptSerialNumber:
			q.SerialNumber, err = bytesOption(name, v)
		case OptValueRef:
			r, ok := v.(Ref)
			if !ok {
				err = typeError(name, v)
				break
			}
			q.ValueRef = r
		case OptPersistentRef:
			switch p := v.(type) {
			case PersistentRef:
				q.PersistentRef = p
			case string:
				q.PersistentRef = PersistentRef(p)
			default:
				err = typeError(name, v)
			}
		case OptReturnRef:
			q.ReturnRef, err = boolOption(name, v)
		case OptReturnPersistentRef:
			q.ReturnPersistentRef, err = boolOption(name, v)
		case OptReturnData:
			q.ReturnData, err = boolOption(name, v)
		case OptReturnAttributes:
			q.ReturnAttributes, err = boolOption(name, v)
		case OptLimit:
			switch n := v.(type) {
			case int:
				q.Limit = n
			case string:
				if n != "all" {
					err = ParamError{Option: name, Reason: fmt.Sprintf("unknown limit %q", n)}
					break
				}
				q.Limit = MatchLimitAll
			default:
				err = typeError(name, v)
			}
		default:
			err = ParamError{Option: name, Reason: "unrecognized option"}
		}
		if err != nil {
			return Query{}, err
		}
	}
	return q, q.Validate()
}

// Changes lists the attributes an Update may modify.
type Changes struct {
	Label *string
}

// IsEmpty reports whether no change is requested.
func (c Changes) IsEmpty() bool {
	return c.Label == nil
}

// ParseChanges builds Changes from an attribute dictionary. Attributes that
// exist but are derived or part of an item's identity are rejected.
func ParseChanges(attrs map[string]any) (Changes, error) {
	var c Changes
	for _, name := range sortedKeys(attrs) {
		switch name {
		case OptLabel:
			s, ok := attrs[name].(string)
			if !ok {
				return Changes{}, typeError(name, attrs[name])
			}
			c.Label = &s
		case OptClass, OptApplicationLabel, OptIssuer, OptSubject, OptPublicKeyHash, OptSerialNumber:
			return Changes{}, ParamError{Option: name, Reason: "attribute is immutable"}
		default:
			return Changes{}, ParamError{Option: name, Reason: "unrecognized attribute"}
		}
	}
	return c, nil
}

// Attributes describes an item to add.
//
// For ClassIdentity, Value is the certificate and KeyValue the private key;
// both rows are added together or not at all.
type Attributes struct {
	Class            Class
	Value            []byte
	KeyValue         []byte
	KeyEncoding      KeyEncoding
	Label            string
	ApplicationLabel []byte

	ReturnRef           bool
	ReturnPersistentRef bool
}

// Validate checks the attribute combination before decoding.
func (a Attributes) Validate() error {
	switch a.Class {
	case ClassCertificate:
		if a.ApplicationLabel != nil {
			return ParamError{Option: OptApplicationLabel, Reason: "derived for certificates"}
		}
	case ClassKey:
	case ClassIdentity:
		if len(a.KeyValue) == 0 {
			return ParamError{Option: "keyValue", Reason: "identity requires key material"}
		}
	default:
		return ParamError{Option: OptClass, Reason: fmt.Sprintf("cannot add class %s", a.Class)}
	}
	if len(a.Value) == 0 {
		return ParamError{Option: "value", Reason: "empty"}
	}
	if a.ApplicationLabel != nil && len(a.ApplicationLabel) == 0 {
		return ParamError{Option: OptApplicationLabel, Reason: "empty; leave unset to use the public key hash"}
	}
	if a.Class != ClassIdentity && len(a.KeyValue) != 0 {
		return ParamError{Option: "keyValue", Reason: "only valid for identity"}
	}
	return nil
}

// Match is one query result. Fields are populated according to the Return options.
type Match struct {
	Ref           Ref
	PersistentRef PersistentRef
	Data          []byte
	Attributes    *ItemAttributes
}

// Result holds every match of a successful query; never empty.
type Result struct {
	Matches []Match
}

func (r Result) Len() int {
	return len(r.Matches)
}

// First returns the first match, the deterministic candidate.
func (r Result) First() Match {
	if len(r.Matches) == 0 {
		return Match{}
	}
	return r.Matches[0]
}

// Release drops every handle in the result.
func (r Result) Release() {
	for _, m := range r.Matches {
		m.Ref.Release()
	}
}

// AddResult is returned by a successful add.
type AddResult struct {
	Ref           Ref
	PersistentRef PersistentRef
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeError(name string, v any) error {
	return ParamError{Option: name, Reason: fmt.Sprintf("unexpected type %T", v)}
}

func bytesOption(name string, v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		out, err := hex.DecodeString(b)
		if err != nil {
			return nil, ParamError{Option: name, Reason: "invalid hex"}
		}
		return out, nil
	}
	return nil, typeError(name, v)
}

func boolOption(name string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, typeError(name, v)
	}
	return b, nil
}
