package crypto

import (
	"encoding/base64"
	"errors"
	"os"
)

var (
	ErrMasterKeyNotSet  = errors.New("master key not set in environment")
	ErrInvalidMasterKey = errors.New("invalid master key: must be base64 of 32 bytes")
	ErrTokenDecrypt     = errors.New("failed to decrypt provider token")
)

// KeyManager encrypts provider credentials at rest with the master key.
type KeyManager struct {
	masterKey []byte
}

// NewKeyManager creates a new key manager with master key from environment
func NewKeyManager() (*KeyManager, error) {
	masterKeyB64 := os.Getenv("MASTER_KEY")
	if masterKeyB64 == "" {
		return nil, ErrMasterKeyNotSet
	}

	masterKey, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, ErrInvalidMasterKey
	}
	return NewKeyManagerFromKey(masterKey)
}

// NewKeyManagerFromKey builds a KeyManager around a raw 32-byte key.
func NewKeyManagerFromKey(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidMasterKey
	}
	return &KeyManager{masterKey: masterKey}, nil
}

// EncryptToken returns the base64 ciphertext stored in configurations.token_encrypted.
func (km *KeyManager) EncryptToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	return Encrypt(token, km.masterKey)
}

// DecryptToken reverses EncryptToken. An empty column decrypts to "".
func (km *KeyManager) DecryptToken(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	token, err := Decrypt(encrypted, km.masterKey)
	if err != nil {
		return "", ErrTokenDecrypt
	}
	return token, nil
}
