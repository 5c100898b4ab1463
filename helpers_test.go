package qkeychain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qmock"
	"github.com/kardianos/qkeychain/qstore"
)

func openMemory(t *testing.T, opts ...func(*Config)) *Keychain {
	t.Helper()
	return openStore(t, qstore.NewMemoryDataStore(nil), opts...)
}

func openStore(t *testing.T, store qstore.DataStore, opts ...func(*Config)) *Keychain {
	t.Helper()
	cfg := Config{Store: store}
	for _, o := range opts {
		o(&cfg)
	}
	k, err := Open(cfg)
	require.NoError(t, err, "Open")
	t.Cleanup(func() { k.Close() })
	return k
}

func addCert(t *testing.T, k *Keychain, leaf *qmock.Leaf, label string) qdef.AddResult {
	t.Helper()
	res, err := k.Add(qdef.Attributes{
		Class:               qdef.ClassCertificate,
		Value:               leaf.CertDER,
		Label:               label,
		ReturnRef:           true,
		ReturnPersistentRef: true,
	})
	require.NoError(t, err, "Add certificate")
	return res
}

func addKey(t *testing.T, k *Keychain, leaf *qmock.Leaf, label string) qdef.AddResult {
	t.Helper()
	res, err := k.Add(qdef.Attributes{
		Class:               qdef.ClassKey,
		Value:               leaf.KeyDER,
		KeyEncoding:         leaf.KeyEncoding,
		Label:               label,
		ReturnRef:           true,
		ReturnPersistentRef: true,
	})
	require.NoError(t, err, "Add key")
	return res
}

func identityAttrs(leaf *qmock.Leaf, label string) qdef.Attributes {
	return qdef.Attributes{
		Class:               qdef.ClassIdentity,
		Value:               leaf.CertDER,
		KeyValue:            leaf.KeyDER,
		KeyEncoding:         leaf.KeyEncoding,
		Label:               label,
		ReturnRef:           true,
		ReturnPersistentRef: true,
	}
}

func addIdentity(t *testing.T, k *Keychain, leaf *qmock.Leaf, label string) qdef.AddResult {
	t.Helper()
	res, err := k.Add(identityAttrs(leaf, label))
	require.NoError(t, err, "Add identity")
	return res
}

func strptr(s string) *string {
	return &s
}

// hashOf is the join key of a leaf, as the decoder derives it.
func hashOf(t *testing.T, k *Keychain, leaf *qmock.Leaf) []byte {
	t.Helper()
	info, err := k.decoder.DecodeCertificate(leaf.CertDER)
	require.NoError(t, err)
	return info.PublicKeyHash
}

// count returns the number of items q matches, or 0 if none.
func count(t *testing.T, k *Keychain, q qdef.Query) int {
	t.Helper()
	q.Limit = qdef.MatchLimitAll
	res, err := k.CopyMatching(q)
	if qdef.StatusOf(err) == qdef.StatusItemNotFound {
		return 0
	}
	require.NoError(t, err)
	return res.Len()
}
