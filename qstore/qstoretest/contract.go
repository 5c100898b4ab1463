// Package qstoretest checks that a qstore.DataStore behaves as the keychain expects.
package qstoretest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardianos/qkeychain/qstore"
)

// Run exercises store behavior against fresh stores returned by open.
func Run(t *testing.T, open func(t *testing.T) qstore.DataStore) {
	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		v, err := s.Get("missing", false)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("SetGet", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set("cert.0000000000000001", false, []byte("plain")))
		v, err := s.Get("cert.0000000000000001", false)
		require.NoError(t, err)
		assert.Equal(t, []byte("plain"), v)

		require.NoError(t, s.Set("cert.0000000000000001", false, []byte("replaced")))
		v, err = s.Get("cert.0000000000000001", false)
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), v)
	})

	t.Run("Sealed", func(t *testing.T) {
		s := open(t)
		secret := []byte("private key material")
		require.NoError(t, s.Set("keys.0000000000000002", true, secret))

		raw, err := s.Get("keys.0000000000000002", false)
		require.NoError(t, err)
		assert.False(t, bytes.Contains(raw, secret), "sealed value stored in the clear")

		v, err := s.Get("keys.0000000000000002", true)
		require.NoError(t, err)
		assert.Equal(t, secret, v)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set("a", false, []byte("1")))
		require.NoError(t, s.Delete("a"))
		require.NoError(t, s.Delete("a"), "delete of missing key")
		v, err := s.Get("a", false)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("Scan", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"keys.02", "cert.02", "cert.01", "meta.store", "keys.01"} {
			require.NoError(t, s.Set(k, false, []byte(k)))
		}
		keys, err := s.Scan("cert.")
		require.NoError(t, err)
		assert.Equal(t, []string{"cert.01", "cert.02"}, keys)

		all, err := s.Scan("")
		require.NoError(t, err)
		assert.Equal(t, []string{"cert.01", "cert.02", "keys.01", "keys.02", "meta.store"}, all)

		none, err := s.Scan("nothing.")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"", "../escape", "Upper", ".hidden", `a\b`} {
			assert.Error(t, s.Set(k, false, []byte("x")), "key %q", k)
		}
	})
}
