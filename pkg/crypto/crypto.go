// Package crypto provides the field-level encryption used for secret-typed
// attributes: AES-256-GCM with a key derived from the database passphrase
// via HKDF-SHA256 over a per-database salt.
//
// The salt is generated once at database creation and stored in the
// manifest, so the same passphrase yields different keys across databases.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// keySize selects AES-256.
	keySize = 32

	// saltSize is the per-database HKDF salt length.
	saltSize = 16

	// hkdfInfo domain-separates the derived key from any other use of the
	// same passphrase. Changing it invalidates every stored secret.
	hkdfInfo = "s3db/field-encryption/v1"
)

// Cipher encrypts and decrypts individual field values. Safe for
// concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewSalt returns a fresh random salt for a new database.
func NewSalt() (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// New derives the database key from passphrase and the base64 salt stored
// in the manifest, and returns a ready Cipher.
func New(passphrase, salt string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}

	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), rawSalt, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
// Each call draws a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong passphrase, truncated value, or
// tampered ciphertext returns an error; callers surface it per-field, not
// per-batch.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}

	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
