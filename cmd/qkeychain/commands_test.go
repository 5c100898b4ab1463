package main

import (
	"bytes"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qmock"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T, backend string) *cli {
	clearEnv(t)
	return &cli{t: t, base: []string{"--backend", backend, "--data", filepath.Join(t.TempDir(), "store")}}
}

func (c *cli) run(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(append([]string{}, c.base...), args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	out, err := c.run(args...)
	require.NoError(c.t, err, "qkeychain %s", strings.Join(args, " "))
	return out
}

func writeLeaf(t *testing.T, leaf *qmock.Leaf) (certPath, keyPath string) {
	dir := t.TempDir()
	certPath = filepath.Join(dir, "leaf.crt")
	keyPath = filepath.Join(dir, "leaf.key")
	require.NoError(t, os.WriteFile(certPath, leaf.CertPEM(), 0600))

	typ := "PRIVATE KEY"
	switch leaf.KeyEncoding {
	case qdef.KeyEncodingPKCS1:
		typ = "RSA PRIVATE KEY"
	case qdef.KeyEncodingSEC1:
		typ = "EC PRIVATE KEY"
	}
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: leaf.KeyDER}), 0600))
	return certPath, keyPath
}

func decodeViews(t *testing.T, out string) []itemView {
	var v []itemView
	require.NoError(t, yaml.Unmarshal([]byte(out), &v))
	return v
}

func TestIdentityCommands(t *testing.T) {
	for _, backend := range []string{backendBolt, backendFile, backendSQLite} {
		t.Run(backend, func(t *testing.T) {
			c := newCLI(t, backend)
			leaf := qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.RSA)
			certPath, keyPath := writeLeaf(t, leaf)

			token := strings.TrimSpace(c.must("add", "identity", certPath, keyPath, "--label", "web"))
			assert.True(t, strings.HasPrefix(token, "kcref1"), token)

			found := decodeViews(t, c.must("find", "--class", "identity", "--label", "web"))
			require.Len(t, found, 1)
			assert.Equal(t, token, found[0].Ref)
			assert.Equal(t, "identity", found[0].Class)
			assert.Equal(t, "rsa", found[0].KeyAlgorithm)
			assert.Equal(t, "pkcs1", found[0].KeyEncoding)

			keys := decodeViews(t, c.must("find", "--class", "key", "--app-label", found[0].PublicKeyHash))
			require.Len(t, keys, 1)
			assert.Equal(t, "web", keys[0].Label)

			_, err := c.run("add", "identity", certPath, keyPath)
			assert.ErrorIs(t, err, qdef.ErrDuplicateItem)
			assert.Equal(t, 4, exitCode(err))

			c.must("label", "--ref", token, "api")
			resolved := decodeViews(t, c.must("resolve", token))
			require.Len(t, resolved, 1)
			assert.Equal(t, "api", resolved[0].Label)

			c.must("delete", "--ref", token)
			_, err = c.run("find", "--class", "certificate")
			assert.ErrorIs(t, err, qdef.ErrItemNotFound)
			assert.Equal(t, 3, exitCode(err))
			_, err = c.run("resolve", token)
			assert.Equal(t, 3, exitCode(err))
		})
	}
}

func TestFindPEMAndQueryFile(t *testing.T) {
	c := newCLI(t, backendBolt)
	ca := qmock.MustCA(t, qmock.PlutoCA)
	a := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
	b := ca.MustIssue(t, qmock.NeptuneLeaf, qmock.Ed25519)
	aCert, aKey := writeLeaf(t, a)
	bCert, _ := writeLeaf(t, b)

	c.must("add", "cert", aCert)
	c.must("add", "cert", bCert)
	c.must("add", "key", aKey, "--label", "uranus key")

	out := c.must("find", "--class", "certificate", "--label", "uranusLeaf", "--pem")
	block, rest := pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)
	assert.Equal(t, a.CertDER, block.Bytes)
	assert.Empty(t, bytes.TrimSpace(rest))

	out = c.must("find", "--class", "key", "--pem")
	block, _ = pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, "EC PRIVATE KEY", block.Type)
	assert.Equal(t, a.KeyDER, block.Bytes)

	qpath := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(qpath, []byte("class: certificate\nlimit: all\n"), 0600))
	assert.Len(t, decodeViews(t, c.must("find", "--query", qpath)), 2)

	// Flags override the file.
	assert.Len(t, decodeViews(t, c.must("find", "--query", qpath, "--label", "neptuneLeaf")), 1)

	var dump dumpView
	require.NoError(t, yaml.Unmarshal([]byte(c.must("dump")), &dump))
	assert.Len(t, dump.Certificates, 2)
	assert.Len(t, dump.Keys, 1)
	assert.Len(t, dump.Identities, 1)
	assert.NotEmpty(t, dump.StoreID)
}

func TestCommandErrors(t *testing.T) {
	c := newCLI(t, backendBolt)
	missing := filepath.Join(t.TempDir(), "missing.pem")
	_, keyPath := writeLeaf(t, qmock.MustCA(t, qmock.PlutoCA).MustIssue(t, qmock.UranusLeaf, qmock.EC))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no class", []string{"find"}, 2},
		{"bad class", []string{"find", "--class", "password"}, 2},
		{"bad hex", []string{"find", "--class", "key", "--app-label", "zz"}, 2},
		{"issuer on key", []string{"find", "--class", "key", "--issuer", "00"}, 2},
		{"bad token", []string{"resolve", "kcref1qqqq"}, 2},
		{"missing file", []string{"add", "cert", missing}, 1},
		{"bad encoding", []string{"add", "key", keyPath, "--encoding", "der"}, 2},
		{"empty update locator", []string{"label", "x", "--class", "key"}, 2},
		{"bad backend", []string{"--backend", "etcd", "dump"}, 2},
		{"bad log level", []string{"--log-level", "loud", "dump"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCode(err))
		})
	}
}

func TestReadPayloadEncoding(t *testing.T) {
	ca := qmock.MustCA(t, qmock.PlutoCA)
	for _, kt := range []struct {
		typ  qmock.KeyType
		want qdef.KeyEncoding
	}{
		{qmock.EC, qdef.KeyEncodingSEC1},
		{qmock.RSA, qdef.KeyEncodingPKCS1},
		{qmock.Ed25519, qdef.KeyEncodingPKCS8},
	} {
		leaf := ca.MustIssue(t, qmock.UranusLeaf, kt.typ)
		_, keyPath := writeLeaf(t, leaf)
		der, enc, err := readPayload(keyPath)
		require.NoError(t, err)
		assert.Equal(t, kt.want, enc)
		assert.Equal(t, leaf.KeyDER, der)
	}

	raw := filepath.Join(t.TempDir(), "leaf.der")
	leaf := ca.MustIssue(t, qmock.UranusLeaf, qmock.EC)
	require.NoError(t, os.WriteFile(raw, leaf.CertDER, 0600))
	der, enc, err := readPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, qdef.KeyEncodingAuto, enc)
	assert.Equal(t, leaf.CertDER, der)
}
