// Package qmock provides certificate fixtures and substrate fault injection
// for keychain tests.
package qmock

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kardianos/qkeychain/qdef"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

var serial atomic.Int64

// Name builds a subject with an optional email address attribute.
func Name(commonName, org, email string) pkix.Name {
	n := pkix.Name{CommonName: commonName}
	if org != "" {
		n.Organization = []string{org}
	}
	if email != "" {
		n.ExtraNames = []pkix.AttributeTypeAndValue{{Type: oidEmailAddress, Value: email}}
	}
	return n
}

// Fixture names shared by keychain tests.
var (
	PlutoCA     = Name("plutoCA", "Dwarf Planets", "pluto@ca.example")
	UranusLeaf  = Name("uranusLeaf", "Ice Giants", "uranus@leaf.example")
	NeptuneLeaf = Name("neptuneLeaf", "Ice Giants", "neptune@leaf.example")
)

// KeyType selects the leaf key algorithm.
type KeyType int

const (
	EC KeyType = iota
	RSA
	Ed25519
)

// CA signs fixture certificates.
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Leaf is an issued certificate and its private key as stored in a keychain.
type Leaf struct {
	Cert        *x509.Certificate
	CertDER     []byte
	KeyDER      []byte
	KeyEncoding qdef.KeyEncoding
	Key         crypto.Signer
}

// CertPEM returns the certificate in PEM form.
func (l *Leaf) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: l.CertDER})
}

// NewCA creates a self-signed ECDSA certificate authority.
func NewCA(name pkix.Name) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               name,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, Key: key}, nil
}

// Issue creates a leaf certificate for subject with a fresh key of type kt.
// EC keys are SEC1, RSA keys PKCS#1 and Ed25519 keys PKCS#8 encoded.
func (ca *CA) Issue(subject pkix.Name, kt KeyType) (*Leaf, error) {
	leaf := &Leaf{}
	var err error
	switch kt {
	case EC:
		k, gerr := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if gerr != nil {
			return nil, gerr
		}
		leaf.Key = k
		leaf.KeyEncoding = qdef.KeyEncodingSEC1
		leaf.KeyDER, err = x509.MarshalECPrivateKey(k)
	case RSA:
		k, gerr := rsa.GenerateKey(rand.Reader, 2048)
		if gerr != nil {
			return nil, gerr
		}
		leaf.Key = k
		leaf.KeyEncoding = qdef.KeyEncodingPKCS1
		leaf.KeyDER = x509.MarshalPKCS1PrivateKey(k)
	case Ed25519:
		_, k, gerr := ed25519.GenerateKey(rand.Reader)
		if gerr != nil {
			return nil, gerr
		}
		leaf.Key = k
		leaf.KeyEncoding = qdef.KeyEncodingPKCS8
		leaf.KeyDER, err = x509.MarshalPKCS8PrivateKey(k)
	default:
		return nil, fmt.Errorf("qmock: unknown key type %d", kt)
	}
	if err != nil {
		return nil, err
	}

	if err := ca.sign(leaf, subject); err != nil {
		return nil, err
	}
	return leaf, nil
}

// Reissue signs a new certificate for the key of an existing leaf.
func (ca *CA) Reissue(leaf *Leaf, subject pkix.Name) (*Leaf, error) {
	out := &Leaf{
		KeyDER:      leaf.KeyDER,
		KeyEncoding: leaf.KeyEncoding,
		Key:         leaf.Key,
	}
	if err := ca.sign(out, subject); err != nil {
		return nil, err
	}
	return out, nil
}

func (ca *CA) sign(leaf *Leaf, subject pkix.Name) error {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	var err error
	leaf.CertDER, err = x509.CreateCertificate(rand.Reader, template, ca.Cert, leaf.Key.Public(), ca.Key)
	if err != nil {
		return err
	}
	leaf.Cert, err = x509.ParseCertificate(leaf.CertDER)
	return err
}

// MustCA is NewCA for tests.
func MustCA(tb testing.TB, name pkix.Name) *CA {
	tb.Helper()
	ca, err := NewCA(name)
	if err != nil {
		tb.Fatalf("NewCA: %v", err)
	}
	return ca
}

// MustReissue is Reissue for tests.
func (ca *CA) MustReissue(tb testing.TB, leaf *Leaf, subject pkix.Name) *Leaf {
	tb.Helper()
	out, err := ca.Reissue(leaf, subject)
	if err != nil {
		tb.Fatalf("Reissue: %v", err)
	}
	return out
}

// MustIssue is Issue for tests.
func (ca *CA) MustIssue(tb testing.TB, subject pkix.Name, kt KeyType) *Leaf {
	tb.Helper()
	leaf, err := ca.Issue(subject, kt)
	if err != nil {
		tb.Fatalf("Issue: %v", err)
	}
	return leaf
}
