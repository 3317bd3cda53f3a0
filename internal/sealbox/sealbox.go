// Package sealbox authenticates robot provisioning secrets with
// AES-256-GCM. The ciphertext and tag travel as separate fields so either
// side can store them independently.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrKeySize   = errors.New("sealbox: key must be 32 bytes")
	ErrNonceSize = errors.New("sealbox: nonce must be 12 bytes")
	ErrTagSize   = errors.New("sealbox: tag must be 16 bytes")
	ErrAuth      = errors.New("sealbox: authentication failed")
)

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if len(nonce) != NonceSize {
		return nil, ErrNonceSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealbox: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns the ciphertext and the 16-byte
// authentication tag separately.
func Seal(key, nonce, plaintext, aad []byte) (ct, tag []byte, err error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], nil
}

// Open decrypts ct with its detached tag. A wrong key, nonce, tag or AAD,
// or corrupted ciphertext, yields ErrAuth.
func Open(key, nonce, ct, tag, aad []byte) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, ErrTagSize
	}
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuth
	}
	return pt, nil
}
