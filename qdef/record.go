package qdef

import (
	"time"
)

// Record is the stored unit of the keychain: one certificate or one key.
// Derived attributes are computed by the Decoder at insert time.
type Record struct {
	// Class is ClassCertificate or ClassKey.
	Class Class `cbor:"1,keyasint"`

	// RowID is assigned at insertion and never reused by the store.
	RowID int64 `cbor:"2,keyasint"`

	// Value is the DER certificate or DER key material.
	Value []byte `cbor:"3,keyasint"`

	// KeyEncoding tags Value for keys.
	KeyEncoding KeyEncoding `cbor:"4,keyasint,omitempty"`

	// ApplicationLabel is the join key for keys. For certificates it equals PublicKeyHash.
	ApplicationLabel []byte `cbor:"5,keyasint,omitempty"`

	// Label is a mutable display string.
	Label string `cbor:"6,keyasint,omitempty"`

	// Issuer and Subject are normalized DER names (certificates only).
	Issuer  []byte `cbor:"7,keyasint,omitempty"`
	Subject []byte `cbor:"8,keyasint,omitempty"`

	// PublicKeyHash is the SHA-1 of the public key bits.
	PublicKeyHash []byte `cbor:"9,keyasint,omitempty"`

	// SerialNumber is the DER INTEGER content octets of the certificate serial.
	SerialNumber []byte `cbor:"10,keyasint,omitempty"`

	// KeyAlgorithm names the key type, such as "rsa" or "ecdsa".
	KeyAlgorithm string `cbor:"11,keyasint,omitempty"`

	CreatedAt  time.Time `cbor:"12,keyasint"`
	ModifiedAt time.Time `cbor:"13,keyasint"`
}

// Attributes returns a detached snapshot of the record's attributes.
func (r *Record) Attributes() ItemAttributes {
	return ItemAttributes{
		Class:            r.Class,
		RowID:            r.RowID,
		KeyEncoding:      r.KeyEncoding,
		ApplicationLabel: clone(r.ApplicationLabel),
		Label:            r.Label,
		Issuer:           clone(r.Issuer),
		Subject:          clone(r.Subject),
		PublicKeyHash:    clone(r.PublicKeyHash),
		SerialNumber:     clone(r.SerialNumber),
		KeyAlgorithm:     r.KeyAlgorithm,
		CreatedAt:        r.CreatedAt,
		ModifiedAt:       r.ModifiedAt,
	}
}

// ItemAttributes is the attribute view returned by queries with ReturnAttributes.
// For an identity, the certificate attributes are reported with the key's
// ApplicationLabel and KeyRowID.
type ItemAttributes struct {
	Class            Class
	RowID            int64
	KeyRowID         int64
	KeyEncoding      KeyEncoding
	ApplicationLabel []byte
	Label            string
	Issuer           []byte
	Subject          []byte
	PublicKeyHash    []byte
	SerialNumber     []byte
	KeyAlgorithm     string
	CreatedAt        time.Time
	ModifiedAt       time.Time
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
