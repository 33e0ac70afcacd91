// Package cryptoutil implements the symmetric-encryption primitives BBQ's
// on-disk payload format needs. It exposes two schemes:
//
//   - Legacy ECB: AES-256 in ECB mode with a key derived by zero-padding or
//     truncating the caller's secret to 32 bytes. Deterministic and
//     structure-revealing by construction; kept only for on-disk format
//     compatibility with existing queues (spec.md §9).
//   - Opt-in GCM: AES-256-GCM with an HKDF-SHA-256 derived key, nonce
//     prepended to the ciphertext. Not wire-compatible with the legacy mode.
//
// AES-ECB has no dedicated package anywhere in the wider Go ecosystem (it is
// intentionally absent from golang.org/x/crypto), so the legacy path is
// implemented directly against crypto/aes block-by-block rather than layered
// on a third-party cipher-mode library.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32 // AES-256
	blockSize = aes.BlockSize

	gcmHKDFInfo = "bbq-queue-payload-v1"
)

// ErrInvalidCiphertext is returned when decoding hex-encoded ciphertext fails
// or the ciphertext is shorter than the minimum valid length for the mode.
var ErrInvalidCiphertext = errors.New("cryptoutil: invalid ciphertext")

// DeriveECBKey right-pads secret with NUL bytes to 32 bytes, or truncates it
// to 32 bytes if longer, matching spec.md's on-disk key-derivation rule
// exactly (this is deliberately not a cryptographically sound KDF).
func DeriveECBKey(secret string) []byte {
	key := make([]byte, keySize)
	copy(key, secret) // copy truncates to len(key) if secret is longer
	return key
}

// EncryptECB encrypts plaintext under AES-256-ECB and returns the
// hex-encoded ciphertext, as spec.md requires for on-disk storage.
func EncryptECB(secret, plaintext string) (string, error) {
	key := DeriveECBKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}

	src := pkcs7Pad([]byte(plaintext), blockSize)
	dst := make([]byte, len(src))
	for off := 0; off < len(src); off += blockSize {
		block.Encrypt(dst[off:off+blockSize], src[off:off+blockSize])
	}
	return hex.EncodeToString(dst), nil
}

// DecryptECB reverses EncryptECB.
func DecryptECB(secret, hexCiphertext string) (string, error) {
	key := DeriveECBKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}

	src, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(src) == 0 || len(src)%blockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	dst := make([]byte, len(src))
	for off := 0; off < len(src); off += blockSize {
		block.Decrypt(dst[off:off+blockSize], src[off:off+blockSize])
	}

	plain, err := pkcs7Unpad(dst)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	pad := size - len(data)%size
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCiphertext
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > len(data) || pad > blockSize {
		return nil, ErrInvalidCiphertext
	}
	return data[:len(data)-pad], nil
}

// deriveGCMKey stretches secret into a 32-byte AES key via HKDF-SHA-256,
// grounded on dmitrymomot-saaskit/pkg/secrets's key-derivation approach.
func deriveGCMKey(secret string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(gcmHKDFInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptoutil: derive key: %w", err)
	}
	return key, nil
}

// EncryptGCM encrypts plaintext under AES-256-GCM with an HKDF-derived key
// and returns hex(nonce || ciphertext || tag).
func EncryptGCM(secret, plaintext string) (string, error) {
	key, err := deriveGCMKey(secret)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptoutil: read nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// DecryptGCM reverses EncryptGCM.
func DecryptGCM(secret, hexCiphertext string) (string, error) {
	key, err := deriveGCMKey(secret)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	raw, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
