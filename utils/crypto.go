package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// sealedMagic prefixes sealed payloads so Open can pass plain ones through.
var sealedMagic = []byte("BKSEAL1:")

var ErrSealedNoKey = errors.New("payload is sealed but no key is configured")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM.
// Output is magic || nonce || ciphertext || tag.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedMagic)
}

// Open reverses Seal. Unsealed input is returned unchanged so older plain
// payloads stay readable.
func Open(data, key []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if key == nil {
		return nil, ErrSealedNoKey
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	raw := data[len(sealedMagic):]
	if len(raw) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
