package qdef

import "math/big"

// Decoder parses credential payloads into the attributes the index needs.
// Implementations must be safe for concurrent use.
type Decoder interface {
	// DecodeCertificate parses a DER certificate.
	DecodeCertificate(der []byte) (CertificateInfo, error)

	// DecodeKey parses DER private key material in the given encoding.
	// KeyEncodingAuto tries every supported encoding.
	DecodeKey(der []byte, enc KeyEncoding) (KeyInfo, error)
}

// CertificateInfo holds the attributes derived from a certificate.
type CertificateInfo struct {
	PublicKeyHash []byte
	Subject       []byte
	Issuer        []byte
	SerialNumber  *big.Int
	CommonName    string
}

// KeyInfo holds the attributes derived from a private key.
type KeyInfo struct {
	PublicKeyHash []byte
	Algorithm     string

	// Encoding is the encoding the key was actually parsed with.
	Encoding KeyEncoding
}
