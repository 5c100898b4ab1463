package qdecode_test

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardianos/qkeychain/qdecode"
	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qmock"
)

func TestCertificateAndKeyHashMatch(t *testing.T) {
	ca := qmock.MustCA(t, qmock.PlutoCA)
	tests := []struct {
		name string
		typ  qmock.KeyType
		enc  qdef.KeyEncoding
	}{
		{"ecdsa", qmock.EC, qdef.KeyEncodingSEC1},
		{"rsa", qmock.RSA, qdef.KeyEncodingPKCS1},
		{"ed25519", qmock.Ed25519, qdef.KeyEncodingPKCS8},
	}
	var d qdecode.X509
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf := ca.MustIssue(t, qmock.UranusLeaf, tt.typ)
			cert, err := d.DecodeCertificate(leaf.CertDER)
			require.NoError(t, err)
			assert.Len(t, cert.PublicKeyHash, 20)
			assert.Equal(t, "uranusLeaf", cert.CommonName)
			assert.Equal(t, 0, leaf.Cert.SerialNumber.Cmp(cert.SerialNumber))
			assert.Equal(t, qdecode.NormalizeName(ca.Cert.RawSubject), cert.Issuer)

			key, err := d.DecodeKey(leaf.KeyDER, tt.enc)
			require.NoError(t, err)
			assert.Equal(t, cert.PublicKeyHash, key.PublicKeyHash)
			assert.Equal(t, tt.name, key.Algorithm)
			assert.Equal(t, tt.enc, key.Encoding)

			auto, err := d.DecodeKey(leaf.KeyDER, qdef.KeyEncodingAuto)
			require.NoError(t, err)
			assert.Equal(t, key, auto, "auto resolves the encoding")

			reissued := ca.MustReissue(t, leaf, qmock.NeptuneLeaf)
			again, err := d.DecodeCertificate(reissued.CertDER)
			require.NoError(t, err)
			assert.Equal(t, cert.PublicKeyHash, again.PublicKeyHash, "same key, same hash")
			assert.NotEqual(t, cert.Subject, again.Subject)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	var d qdecode.X509
	_, err := d.DecodeCertificate([]byte("not a certificate"))
	assert.Error(t, err)

	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)
	_, err = d.DecodeKey(leaf.KeyDER, qdef.KeyEncodingPKCS1)
	assert.Error(t, err, "wrong encoding")
	_, err = d.DecodeKey([]byte{1, 2, 3}, qdef.KeyEncodingAuto)
	assert.Error(t, err)
	_, err = d.DecodeKey(leaf.KeyDER, qdef.KeyEncoding(42))
	assert.Error(t, err)
}

func rawName(t *testing.T, n pkix.Name) []byte {
	b, err := asn1.Marshal(n.ToRDNSequence())
	require.NoError(t, err)
	return b
}

func TestNormalizeName(t *testing.T) {
	a := rawName(t, qmock.Name("uranusLeaf", "Ice Giants", ""))
	b := rawName(t, qmock.Name("URANUSLEAF", "  ice   giants ", ""))
	c := rawName(t, qmock.Name("neptuneLeaf", "Ice Giants", ""))

	assert.NotEqual(t, a, b)
	assert.Equal(t, qdecode.NormalizeName(a), qdecode.NormalizeName(b))
	assert.NotEqual(t, qdecode.NormalizeName(a), qdecode.NormalizeName(c))
	assert.Equal(t, qdecode.NormalizeName(a), qdecode.NormalizeName(qdecode.NormalizeName(a)), "idempotent")

	garbage := []byte{0xde, 0xad}
	out := qdecode.NormalizeName(garbage)
	assert.Equal(t, garbage, out)
	out[0] = 0
	assert.Equal(t, byte(0xde), garbage[0], "returns a copy")
}

func TestSerialBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "00"},
		{5, "05"},
		{-5, "fb"},
		{127, "7f"},
		{128, "0080"},
		{-128, "80"},
		{-129, "ff7f"},
	}
	for _, tt := range tests {
		got := qdecode.SerialBytes(big.NewInt(tt.n))
		assert.Equal(t, tt.want, hex.EncodeToString(got), "serial %d", tt.n)
	}
}
