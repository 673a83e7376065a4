package encryption_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"

	"github.com/wayfarer/wayfarer/internal/encryption"
)

// writeKeyset writes a fresh cleartext AES-256-GCM keyset to path.
func writeKeyset(t *testing.T, path string) {
	t.Helper()

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	require.NoError(t, insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)))
}

func TestLoadKeysetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	writeKeyset(t, path)

	a, err := encryption.LoadKeysetFile(path)
	require.NoError(t, err)

	cases := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{name: "cached token", plaintext: []byte(`{"value":"eyJ0eXAi","expiresAt":"2026-01-01T00:00:00Z"}`), aad: []byte("wayfarer:https://graph.microsoft.com/.default")},
		{name: "empty associated data", plaintext: []byte("some data"), aad: []byte{}},
		{name: "large plaintext", plaintext: make([]byte, 4096), aad: []byte("large")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := a.Encrypt(tc.plaintext, tc.aad)
			require.NoError(t, err)
			assert.NotEqual(t, tc.plaintext, ciphertext)

			decrypted, err := a.Decrypt(ciphertext, tc.aad)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)

			_, err = a.Decrypt(ciphertext, []byte("another key"))
			assert.Error(t, err)
		})
	}
}

func TestLoadKeysetFile_Failures(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not a keyset"), 0o600))

	cases := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "gone.json")},
		{name: "not a keyset", path: garbage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := encryption.LoadKeysetFile(tc.path)
			assert.Nil(t, a)
			assert.Error(t, err)
		})
	}
}

func TestRefreshableAEADFromFile_PicksUpRotatedKeyset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	writeKeyset(t, path)

	r, err := encryption.NewRefreshableAEADFromFile(t.Context(), path, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { assert.NoError(t, r.Close()) }()

	before, err := r.Encrypt([]byte("token"), []byte("key"))
	require.NoError(t, err)

	// a replaced keyset cannot decrypt values sealed with the old one
	writeKeyset(t, path)

	require.Eventually(t, func() bool {
		_, err := r.Decrypt(before, []byte("key"))
		return err != nil
	}, time.Second, 5*time.Millisecond)

	after, err := r.Encrypt([]byte("token"), []byte("key"))
	require.NoError(t, err)
	plaintext, err := r.Decrypt(after, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), plaintext)
}

func TestRefreshableAEADFromFile_MissingFile(t *testing.T) {
	r, err := encryption.NewRefreshableAEADFromFile(t.Context(), filepath.Join(t.TempDir(), "gone.json"), time.Hour)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "loading initial AEAD")
}
