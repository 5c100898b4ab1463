package qkeychain

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qmock"
	"github.com/kardianos/qkeychain/qstore"
)

func TestAddDuplicate(t *testing.T) {
	k := openMemory(t)
	ca := qmock.MustCA(t, qmock.PlutoCA)
	leaf := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)

	cert := addCert(t, k, leaf, "")
	defer cert.Ref.Release()
	_, err := k.Add(qdef.Attributes{Class: qdef.ClassCertificate, Value: leaf.CertDER, Label: "other"})
	require.ErrorIs(t, err, qdef.ErrDuplicateItem)
	var de qdef.DuplicateItemError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, cert.Ref.RowID(), de.RowID)

	key := addKey(t, k, leaf, "")
	defer key.Ref.Release()
	_, err = k.Add(qdef.Attributes{Class: qdef.ClassKey, Value: leaf.KeyDER})
	assert.ErrorIs(t, err, qdef.ErrDuplicateItem, "same key, auto encoding")

	// Same key material under another application label is a distinct key.
	alt, err := k.Add(qdef.Attributes{Class: qdef.ClassKey, Value: leaf.KeyDER, ApplicationLabel: []byte("alt"), ReturnRef: true})
	require.NoError(t, err)
	alt.Ref.Release()
}

func TestAddIdentityTwice(t *testing.T) {
	k := openMemory(t)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	first := addIdentity(t, k, leaf, "")
	defer first.Ref.Release()
	require.False(t, first.PersistentRef.IsZero())

	second, err := k.Add(identityAttrs(leaf, ""))
	assert.ErrorIs(t, err, qdef.ErrDuplicateItem)
	assert.True(t, second.PersistentRef.IsZero(), "no token on duplicate")
	assert.True(t, second.Ref.IsZero(), "no ref on duplicate")

	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassCertificate}))
	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassKey}))
}

func TestAddIdentityRejectsExistingHalf(t *testing.T) {
	ca := qmock.MustCA(t, qmock.PlutoCA)
	t.Run("key", func(t *testing.T) {
		k := openMemory(t)
		leaf := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
		addKey(t, k, leaf, "").Ref.Release()
		_, err := k.Add(identityAttrs(leaf, ""))
		assert.ErrorIs(t, err, qdef.ErrDuplicateItem)
		assert.Equal(t, 0, count(t, k, qdef.Query{Class: qdef.ClassCertificate}))
	})
	t.Run("certificate", func(t *testing.T) {
		k := openMemory(t)
		leaf := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
		addCert(t, k, leaf, "").Ref.Release()
		_, err := k.Add(identityAttrs(leaf, ""))
		assert.ErrorIs(t, err, qdef.ErrDuplicateItem)
		assert.Equal(t, 0, count(t, k, qdef.Query{Class: qdef.ClassKey}))
	})
}

func TestAddDecodeError(t *testing.T) {
	store := qstore.NewMemoryDataStore(nil)
	k := openStore(t, store)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	tests := []struct {
		name string
		a    qdef.Attributes
	}{
		{"certificate", qdef.Attributes{Class: qdef.ClassCertificate, Value: []byte("not a certificate")}},
		{"key", qdef.Attributes{Class: qdef.ClassKey, Value: []byte("not a key")}},
		{"key wrong encoding", qdef.Attributes{Class: qdef.ClassKey, Value: leaf.KeyDER, KeyEncoding: qdef.KeyEncodingPKCS1}},
		{"identity key", qdef.Attributes{Class: qdef.ClassIdentity, Value: leaf.CertDER, KeyValue: []byte("junk")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := k.Add(tt.a)
			require.ErrorIs(t, err, qdef.ErrDecode)
			assert.Equal(t, qdef.StatusDecode, qdef.StatusOf(err))
			assert.True(t, res.PersistentRef.IsZero())
		})
	}
	keys, err := store.Scan("")
	require.NoError(t, err)
	assert.Equal(t, []string{metaKey}, keys, "nothing stored")
}

func TestAddIdentityMismatch(t *testing.T) {
	k := openMemory(t)
	ca := qmock.MustCA(t, qmock.PlutoCA)
	a := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
	b := ca.MustIssue(t, qmock.NeptuneLeaf, qmock.EC)

	_, err := k.Add(qdef.Attributes{Class: qdef.ClassIdentity, Value: a.CertDER, KeyValue: b.KeyDER})
	assert.ErrorIs(t, err, qdef.ErrParam)

	_, err = k.Add(qdef.Attributes{Class: qdef.ClassIdentity, Value: a.CertDER, KeyValue: a.KeyDER, ApplicationLabel: []byte("label")})
	assert.ErrorIs(t, err, qdef.ErrParam, "explicit label breaks the join")
}

func TestAddAttributeValidation(t *testing.T) {
	k := openMemory(t)
	tests := []struct {
		name string
		a    qdef.Attributes
	}{
		{"no class", qdef.Attributes{Value: []byte{1}}},
		{"empty value", qdef.Attributes{Class: qdef.ClassKey}},
		{"identity without key", qdef.Attributes{Class: qdef.ClassIdentity, Value: []byte{1}}},
		{"key value on certificate", qdef.Attributes{Class: qdef.ClassCertificate, Value: []byte{1}, KeyValue: []byte{1}}},
		{"application label on certificate", qdef.Attributes{Class: qdef.ClassCertificate, Value: []byte{1}, ApplicationLabel: []byte{1}}},
		{"empty application label", qdef.Attributes{Class: qdef.ClassKey, Value: []byte{1}, ApplicationLabel: []byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := k.Add(tt.a)
			assert.ErrorIs(t, err, qdef.ErrParam)
		})
	}
}

func TestApplicationLabelPersists(t *testing.T) {
	store := qstore.NewMemoryDataStore(nil)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	k1, err := Open(Config{Store: store})
	require.NoError(t, err)
	_, err = k1.Add(qdef.Attributes{
		Class:            qdef.ClassKey,
		Value:            leaf.KeyDER,
		KeyEncoding:      leaf.KeyEncoding,
		ApplicationLabel: []byte("app"),
	})
	require.NoError(t, err)
	require.NoError(t, k1.Close())

	k2 := openStore(t, store)
	assert.Equal(t, 1, count(t, k2, qdef.Query{Class: qdef.ClassKey, ApplicationLabel: []byte("app")}))
	assert.Equal(t, 0, count(t, k2, qdef.Query{Class: qdef.ClassKey, ApplicationLabel: hashOf(t, k2, leaf)}))
}

func TestAddIdentityRollback(t *testing.T) {
	fs := qmock.NewFaultStore(qstore.NewMemoryDataStore(nil))
	k := openStore(t, fs)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	fs.FailSet(certPrefix)
	res, err := k.Add(identityAttrs(leaf, ""))
	require.ErrorIs(t, err, qdef.ErrInternal)
	assert.ErrorIs(t, err, qmock.ErrInjected)
	assert.True(t, res.PersistentRef.IsZero())

	keys, err := fs.Scan(keyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys, "key row rolled back")
	assert.Equal(t, 0, count(t, k, qdef.Query{Class: qdef.ClassKey}))

	fs.FailSet("")
	addIdentity(t, k, leaf, "").Ref.Release()
	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassIdentity}))
}

func TestAddConcurrentDuplicate(t *testing.T) {
	k := openMemory(t)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = k.Add(qdef.Attributes{Class: qdef.ClassCertificate, Value: leaf.CertDER})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, qdef.ErrDuplicateItem)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassCertificate}))
}

func TestUpdateKeyLabel(t *testing.T) {
	k := openMemory(t)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)
	added := addKey(t, k, leaf, "before")
	defer added.Ref.Release()

	res, err := k.CopyMatching(qdef.Query{ValueRef: added.Ref, ReturnAttributes: true})
	require.NoError(t, err)
	before := *res.First().Attributes

	require.NoError(t, k.Update(qdef.Query{ValueRef: added.Ref}, qdef.Changes{Label: strptr("after")}))

	res, err = k.CopyMatching(qdef.Query{PersistentRef: added.PersistentRef, ReturnAttributes: true, ReturnRef: true})
	require.NoError(t, err, "token still resolves")
	defer res.Release()
	after := res.First().Attributes
	assert.Equal(t, "after", after.Label)
	assert.Equal(t, before.ApplicationLabel, after.ApplicationLabel)
	assert.Equal(t, before.PublicKeyHash, after.PublicKeyHash)
	assert.Equal(t, added.Ref.RowID(), res.First().Ref.RowID())

	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassKey, Label: strptr("after")}))
	assert.Equal(t, 0, count(t, k, qdef.Query{Class: qdef.ClassKey, Label: strptr("before")}))
}

func TestUpdatePersists(t *testing.T) {
	store := qstore.NewMemoryDataStore(nil)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)

	k1, err := Open(Config{Store: store})
	require.NoError(t, err)
	added := addIdentity(t, k1, leaf, "")
	added.Ref.Release()
	require.NoError(t, k1.Update(qdef.Query{PersistentRef: added.PersistentRef}, qdef.Changes{Label: strptr("renamed")}))
	require.NoError(t, k1.Close())

	k2 := openStore(t, store)
	assert.Equal(t, 1, count(t, k2, qdef.Query{Class: qdef.ClassKey, Label: strptr("renamed")}))
	assert.Equal(t, 1, count(t, k2, qdef.Query{Class: qdef.ClassCertificate, Label: strptr("renamed")}))
}

func TestUpdateErrors(t *testing.T) {
	k := openMemory(t)
	ca := qmock.MustCA(t, qmock.PlutoCA)
	addCert(t, k, ca.MustIssue(t, qmock.UranusLeaf, qmock.EC), "twin").Ref.Release()
	addCert(t, k, ca.MustIssue(t, qmock.NeptuneLeaf, qmock.EC), "twin").Ref.Release()
	label := qdef.Changes{Label: strptr("new")}

	err := k.Update(qdef.Query{Class: qdef.ClassCertificate}, label)
	assert.ErrorIs(t, err, qdef.ErrParam, "empty locator")

	err = k.Update(qdef.Query{Class: qdef.ClassCertificate, Label: strptr("twin")}, label)
	assert.ErrorIs(t, err, qdef.ErrParam, "ambiguous locator")

	err = k.Update(qdef.Query{Class: qdef.ClassCertificate, Label: strptr("nobody")}, label)
	assert.ErrorIs(t, err, qdef.ErrItemNotFound)

	err = k.Update(qdef.Query{Class: qdef.ClassCertificate, Label: strptr("twin")}, qdef.Changes{})
	assert.ErrorIs(t, err, qdef.ErrParam, "no changes")

	_, err = qdef.ParseChanges(map[string]any{"applicationLabel": "00"})
	assert.ErrorIs(t, err, qdef.ErrParam, "immutable attribute")

	assert.Equal(t, 2, count(t, k, qdef.Query{Class: qdef.ClassCertificate, Label: strptr("twin")}))
}

func TestUpdateRollback(t *testing.T) {
	fs := qmock.NewFaultStore(qstore.NewMemoryDataStore(nil))
	k := openStore(t, fs)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)
	added := addIdentity(t, k, leaf, "original")
	defer added.Ref.Release()

	fs.FailSet(certPrefix)
	err := k.Update(qdef.Query{ValueRef: added.Ref}, qdef.Changes{Label: strptr("changed")})
	require.ErrorIs(t, err, qdef.ErrInternal)
	fs.FailSet("")

	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassKey, Label: strptr("original")}))
	raw, err := fs.Get(rowKey(qdef.ClassKey, added.Ref.KeyRowID()), true)
	require.NoError(t, err)
	r, err := decodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "original", r.Label, "stored key row restored")
}

func TestDeleteIdentityCascades(t *testing.T) {
	k := openMemory(t)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)
	added := addIdentity(t, k, leaf, "")
	defer added.Ref.Release()
	hash := hashOf(t, k, leaf)

	require.NoError(t, k.Delete(qdef.Query{ValueRef: added.Ref}))

	_, err := k.CopyMatching(qdef.Query{Class: qdef.ClassCertificate, ApplicationLabel: hash})
	assert.ErrorIs(t, err, qdef.ErrItemNotFound)
	_, err = k.CopyMatching(qdef.Query{Class: qdef.ClassKey, ApplicationLabel: hash})
	assert.ErrorIs(t, err, qdef.ErrItemNotFound)
	_, err = k.ResolvePersistentRef(added.PersistentRef)
	assert.ErrorIs(t, err, qdef.ErrItemNotFound)

	assert.ErrorIs(t, k.Delete(qdef.Query{ValueRef: added.Ref}), qdef.ErrItemNotFound, "second delete")
}

func TestDeleteAllOfClass(t *testing.T) {
	k := openMemory(t)
	ca := qmock.MustCA(t, qmock.PlutoCA)
	a := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
	b := ca.MustIssue(t, qmock.NeptuneLeaf, qmock.EC)
	addCert(t, k, a, "").Ref.Release()
	addCert(t, k, b, "").Ref.Release()
	addKey(t, k, a, "").Ref.Release()

	require.NoError(t, k.Delete(qdef.Query{Class: qdef.ClassCertificate, Limit: 1}))
	assert.Equal(t, 0, count(t, k, qdef.Query{Class: qdef.ClassCertificate}), "limit is ignored")
	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassKey}))
}

func TestDeleteRollback(t *testing.T) {
	fs := qmock.NewFaultStore(qstore.NewMemoryDataStore(nil))
	k := openStore(t, fs)
	leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC)
	added := addIdentity(t, k, leaf, "")
	defer added.Ref.Release()

	fs.FailDelete(certPrefix)
	err := k.Delete(qdef.Query{ValueRef: added.Ref})
	require.ErrorIs(t, err, qdef.ErrInternal)
	fs.FailDelete("")

	assert.Equal(t, 1, count(t, k, qdef.Query{Class: qdef.ClassIdentity}))
	raw, err := fs.Get(rowKey(qdef.ClassKey, added.Ref.KeyRowID()), true)
	require.NoError(t, err)
	require.NotNil(t, raw, "key row restored")
	r, err := decodeRecord(raw)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(leaf.KeyDER, r.Value))
}

func TestDeleteMissing(t *testing.T) {
	k := openMemory(t)
	err := k.Delete(qdef.Query{Class: qdef.ClassKey, Label: strptr("ghost")})
	assert.ErrorIs(t, err, qdef.ErrItemNotFound)
	assert.Equal(t, qdef.StatusItemNotFound, qdef.StatusOf(err))
}
