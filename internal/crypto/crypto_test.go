package crypto

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Encrypt("whapi-token", key)
	require.NoError(t, err)
	assert.NotEqual(t, "whapi-token", ciphertext)

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "whapi-token", plaintext)
}

func TestDecryptWithWrongKey(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	ciphertext, err := Encrypt("secret", key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, other)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := Encrypt("x", []byte("short"))
	assert.True(t, errors.Is(err, ErrInvalidKeySize))
}

func TestKeyManagerFromEnv(t *testing.T) {
	key, _ := GenerateKey()
	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(key))

	km, err := NewKeyManager()
	require.NoError(t, err)

	enc, err := km.EncryptToken("tok")
	require.NoError(t, err)
	dec, err := km.DecryptToken(enc)
	require.NoError(t, err)
	assert.Equal(t, "tok", dec)

	empty, err := km.DecryptToken("")
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestKeyManagerMissingOrInvalidKey(t *testing.T) {
	t.Setenv("MASTER_KEY", "")
	_, err := NewKeyManager()
	assert.True(t, errors.Is(err, ErrMasterKeyNotSet))

	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString([]byte("too short")))
	_, err = NewKeyManager()
	assert.True(t, errors.Is(err, ErrInvalidMasterKey))
}

func TestKeyManagerDecryptGarbage(t *testing.T) {
	key, _ := GenerateKey()
	km, err := NewKeyManagerFromKey(key)
	require.NoError(t, err)

	_, err = km.DecryptToken("bm90IHJlYWxseQ==")
	assert.True(t, errors.Is(err, ErrTokenDecrypt))
}
