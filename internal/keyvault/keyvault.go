// Package keyvault encrypts signing credentials at rest and rotates them
// between keys.
package keyvault

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	blobVersion = 1
	saltSize    = 16
	minKeySize  = 16
	hkdfInfo    = "backoffice keyvault v1"
)

var (
	ErrNoKeys         = errors.New("keyvault: no keys configured")
	ErrInvalidKey     = errors.New("keyvault: key must be at least 16 bytes")
	ErrMalformedBlob  = errors.New("keyvault: malformed blob")
	ErrDecrypt        = errors.New("keyvault: decryption failed")
	ErrNoMatchingKey  = errors.New("keyvault: no key could decrypt the blob")
	ErrVerifyRotation = errors.New("keyvault: re-encrypted blob did not verify")
)

// Result is the outcome of DecryptWithFallback.
type Result struct {
	Plaintext []byte
	// KeyIndex is the position in the candidate list of the key that matched.
	KeyIndex int
}

// Encrypt seals plaintext under key. The blob layout is
// version(1) | salt(16) | nonce(24) | ciphertext+tag. A fresh salt per blob
// derives a fresh XChaCha20-Poly1305 key through HKDF-SHA256.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) < minKeySize {
		return nil, ErrInvalidKey
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keyvault: failed to generate salt: %w", err)
	}
	aead, err := newAEAD(key, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyvault: failed to generate nonce: %w", err)
	}

	header := make([]byte, 0, 1+saltSize+len(nonce))
	header = append(header, blobVersion)
	header = append(header, salt...)
	header = append(header, nonce...)
	// The header is authenticated as additional data.
	return aead.Seal(header, nonce, plaintext, header), nil
}

// Decrypt opens a blob produced by Encrypt. It fails with ErrMalformedBlob for
// a truncated or unknown blob and ErrDecrypt for a wrong key or tampered data.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) < minKeySize {
		return nil, ErrInvalidKey
	}
	headerSize := 1 + saltSize + chacha20poly1305.NonceSizeX
	if len(blob) < headerSize+chacha20poly1305.Overhead || blob[0] != blobVersion {
		return nil, ErrMalformedBlob
	}
	header := blob[:headerSize]
	salt := header[1 : 1+saltSize]
	nonce := header[1+saltSize:]

	aead, err := newAEAD(key, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, blob[headerSize:], header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// DecryptWithFallback tries keys in order and returns the first success.
// An empty key list fails with ErrNoKeys before any attempt.
func DecryptWithFallback(blob []byte, keys [][]byte) (Result, error) {
	if len(keys) == 0 {
		return Result{}, ErrNoKeys
	}
	var errs []error
	for i, key := range keys {
		plaintext, err := Decrypt(blob, key)
		if err == nil {
			return Result{Plaintext: plaintext, KeyIndex: i}, nil
		}
		if errors.Is(err, ErrMalformedBlob) {
			return Result{}, err
		}
		errs = append(errs, fmt.Errorf("key %d: %w", i, err))
	}
	return Result{}, fmt.Errorf("%w: %w", ErrNoMatchingKey, errors.Join(errs...))
}

// ParseKeys decodes base64 keys as configured in KEYVAULT_KEYS, newest first.
func ParseKeys(encoded []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		k, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("keyvault: key %d is not valid base64: %w", i, err)
		}
		if len(k) < minKeySize {
			return nil, fmt.Errorf("keyvault: key %d: %w", i, ErrInvalidKey)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// SameKey reports whether a and b are the same key material.
func SameKey(a, b []byte) bool {
	return bytes.Equal(a, b)
}

func newAEAD(key, salt []byte) (cipher.AEAD, error) {
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("keyvault: failed to derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("keyvault: failed to init cipher: %w", err)
	}
	return aead, nil
}
