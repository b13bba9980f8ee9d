// Package vault provides symmetric encryption of OAuth tokens at rest
// with a persisted master key.
//
// The master key is confined to a single initialized-once holder: callers
// only hand DataProtection.KeyDirectory to New, and the key itself is read
// and held only inside this package.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"autowatch/internal/corerr"
)

const keyFileName = "vault.key"

// Vault encrypts and decrypts opaque token bytes. Empty input maps to empty
// output on both sides so "empty" is never ambiguous with "absent".
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New loads (or, if absent, generates and persists) a master key from
// keyDir/vault.key. An empty keyDir produces an ephemeral in-memory key,
// suitable for development only.
func New(keyDir string) (*Vault, error) {
	var key []byte
	if keyDir == "" {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, corerr.AsFatal(fmt.Errorf("generating ephemeral vault key: %w", err))
		}
	} else {
		var err error
		key, err = loadOrCreateKey(keyDir)
		if err != nil {
			return nil, err
		}
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, corerr.AsFatal(fmt.Errorf("constructing AEAD cipher: %w", err))
	}
	return &Vault{aead: aead}, nil
}

func loadOrCreateKey(keyDir string) ([]byte, error) {
	path := filepath.Join(keyDir, keyFileName)
	if data, err := os.ReadFile(path); err == nil {
		key, decodeErr := hex.DecodeString(string(data))
		if decodeErr != nil || len(key) != chacha20poly1305.KeySize {
			return nil, corerr.AsCryptoError(fmt.Errorf("vault key file %s is corrupt", path))
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, corerr.AsFatal(fmt.Errorf("reading vault key %s: %w", path, err))
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, corerr.AsFatal(fmt.Errorf("generating vault key: %w", err))
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, corerr.AsFatal(fmt.Errorf("creating key directory %s: %w", keyDir, err))
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, corerr.AsFatal(fmt.Errorf("persisting vault key %s: %w", path, err))
	}
	return key, nil
}

// Encrypt returns an opaque ciphertext for plaintext. A fresh random nonce
// is used every call, so two encryptions of the same plaintext never match.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, corerr.AsCryptoError(fmt.Errorf("generating nonce: %w", err))
	}
	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt recovers the plaintext for an opaque produced by Encrypt. A
// corrupt, truncated, or wrong-key opaque returns a CryptoError; callers
// MUST treat this as non-retryable and disable automation for that user.
func (v *Vault) Decrypt(opaque []byte) ([]byte, error) {
	if len(opaque) == 0 {
		return nil, nil
	}
	nonceSize := v.aead.NonceSize()
	if len(opaque) < nonceSize {
		return nil, corerr.AsCryptoError(fmt.Errorf("opaque shorter than nonce size"))
	}
	nonce, ciphertext := opaque[:nonceSize], opaque[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, corerr.AsCryptoError(fmt.Errorf("decrypting opaque: %w", err))
	}
	return plaintext, nil
}
