// Package crypto encrypts small secrets, such as the session token, before
// they reach the key-value store. Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// keyInfo binds derived keys to this use so the same secret yields
// unrelated keys elsewhere.
const keyInfo = "avanzando/mobilecore token-at-rest v1"

// DeriveKey derives a 32-byte AES key from secret with HKDF-SHA256.
func DeriveKey(secret []byte) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	// hkdf cannot fail for 32 bytes of SHA-256 output
	_, _ = io.ReadFull(r, key)
	return key
}

func newGCM(secret []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext and returns base64(nonce || ciphertext).
func Encrypt(plaintext, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidKey
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// EncryptString encrypts a string to a base64-encoded string.
func EncryptString(plaintext, secret string) (string, error) {
	return Encrypt([]byte(plaintext), []byte(secret))
}

// DecryptString decrypts a base64-encoded string to a string.
func DecryptString(ciphertext, secret string) (string, error) {
	plaintext, err := Decrypt(ciphertext, []byte(secret))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
