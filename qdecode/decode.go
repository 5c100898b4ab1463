// Package qdecode is the default qdef.Decoder, built on crypto/x509.
//
// Public key hashes are the SHA-1 of the subject public key bits, so a
// certificate and its private key hash to the same value: the PKCS#1
// RSAPublicKey for RSA, the uncompressed point for ECDSA and the raw key for
// Ed25519.
package qdecode

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/kardianos/qkeychain/qdef"
)

// ErrUnsupportedKey is returned for private key types the decoder cannot hash.
var ErrUnsupportedKey = errors.New("qdecode: unsupported key type")

// X509 decodes DER certificates and private keys.
type X509 struct{}

var _ qdef.Decoder = X509{}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// DecodeCertificate implements qdef.Decoder.
func (X509) DecodeCertificate(der []byte) (qdef.CertificateInfo, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return qdef.CertificateInfo{}, fmt.Errorf("parse certificate: %w", err)
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return qdef.CertificateInfo{}, fmt.Errorf("parse public key info: %w", err)
	}
	return qdef.CertificateInfo{
		PublicKeyHash: PublicKeyHash(spki.PublicKey.RightAlign()),
		Subject:       NormalizeName(cert.RawSubject),
		Issuer:        NormalizeName(cert.RawIssuer),
		SerialNumber:  cert.SerialNumber,
		CommonName:    cert.Subject.CommonName,
	}, nil
}

// DecodeKey implements qdef.Decoder.
func (X509) DecodeKey(der []byte, enc qdef.KeyEncoding) (qdef.KeyInfo, error) {
	switch enc {
	case qdef.KeyEncodingPKCS1:
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return qdef.KeyInfo{}, fmt.Errorf("parse pkcs1 key: %w", err)
		}
		return keyInfo(key, enc)
	case qdef.KeyEncodingSEC1:
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return qdef.KeyInfo{}, fmt.Errorf("parse sec1 key: %w", err)
		}
		return keyInfo(key, enc)
	case qdef.KeyEncodingPKCS8:
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return qdef.KeyInfo{}, fmt.Errorf("parse pkcs8 key: %w", err)
		}
		return keyInfo(key, enc)
	case qdef.KeyEncodingAuto:
		var errs []error
		for _, try := range []qdef.KeyEncoding{qdef.KeyEncodingPKCS1, qdef.KeyEncodingSEC1, qdef.KeyEncodingPKCS8} {
			info, err := X509{}.DecodeKey(der, try)
			if err == nil {
				return info, nil
			}
			errs = append(errs, err)
		}
		return qdef.KeyInfo{}, errors.Join(errs...)
	}
	return qdef.KeyInfo{}, fmt.Errorf("unknown key encoding %d", enc)
}

func keyInfo(key any, enc qdef.KeyEncoding) (qdef.KeyInfo, error) {
	var (
		bits []byte
		alg  string
	)
	switch k := key.(type) {
	case *rsa.PrivateKey:
		bits = x509.MarshalPKCS1PublicKey(&k.PublicKey)
		alg = "rsa"
	case *ecdsa.PrivateKey:
		pub, err := k.PublicKey.ECDH()
		if err != nil {
			return qdef.KeyInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		bits = pub.Bytes()
		alg = "ecdsa"
	case ed25519.PrivateKey:
		bits = k.Public().(ed25519.PublicKey)
		alg = "ed25519"
	default:
		return qdef.KeyInfo{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return qdef.KeyInfo{
		PublicKeyHash: PublicKeyHash(bits),
		Algorithm:     alg,
		Encoding:      enc,
	}, nil
}

// PublicKeyHash returns the SHA-1 of public key bits.
func PublicKeyHash(bits []byte) []byte {
	sum := sha1.Sum(bits)
	return sum[:]
}
