// Package crypto provides the authenticated-encryption primitives used by the
// vault.
//
// Two AEAD schemes are supported, both keyed by a 256-bit key:
//
//   - AES-256-GCM with a random 96-bit nonce (default)
//   - XChaCha20-Poly1305 with a random 192-bit nonce
//
// # Example Usage
//
//	key, err := crypto.GenerateKey()
//
//	// Encrypt data bound to a context string
//	ciphertext, nonce, err := crypto.Encrypt(crypto.SchemeAESGCM, key, plaintext, []byte("api_credentials/openai"))
//
//	// Decrypt with the same context
//	plaintext, err := crypto.Decrypt(crypto.SchemeAESGCM, key, ciphertext, nonce, []byte("api_credentials/openai"))
//
//	// Derive an independent subkey for another purpose
//	macKey, err := crypto.DeriveSubkey(key, "audit-log-v1")
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLength is the length of encryption keys in bytes (256 bits).
const KeyLength = 32

// Scheme identifies an AEAD construction. The numeric value is persisted as
// the first byte of every encrypted blob and must never be renumbered.
type Scheme byte

const (
	// SchemeAESGCM is AES-256-GCM.
	SchemeAESGCM Scheme = 1
	// SchemeXChaCha20Poly1305 is XChaCha20-Poly1305.
	SchemeXChaCha20Poly1305 Scheme = 2
)

// String returns the configuration name of the scheme.
func (s Scheme) String() string {
	switch s {
	case SchemeAESGCM:
		return "aes-256-gcm"
	case SchemeXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("scheme(%d)", byte(s))
	}
}

// ParseScheme maps a configuration name to a Scheme. The empty string selects
// AES-256-GCM.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "", "aes-256-gcm", "aes-gcm":
		return SchemeAESGCM, nil
	case "xchacha20-poly1305", "xchacha20poly1305":
		return SchemeXChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// NonceLength returns the nonce size of the scheme, or 0 if unknown.
func (s Scheme) NonceLength() int {
	switch s {
	case SchemeAESGCM:
		return 12
	case SchemeXChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	default:
		return 0
	}
}

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce does not match the scheme.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrUnknownScheme indicates an unsupported scheme identifier.
	ErrUnknownScheme = errors.New("crypto: unknown encryption scheme")
)

// GenerateKey returns a fresh random 256-bit key from crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return key, nil
}

// newAEAD constructs the AEAD for scheme s.
func newAEAD(s Scheme, key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	switch s {
	case SchemeAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
		}
		return gcm, nil
	case SchemeXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, ErrUnknownScheme
	}
}

// Encrypt encrypts plaintext under key with scheme s.
//
// A fresh random nonce is generated for every call; the authentication tag is
// appended to the ciphertext. aad is authenticated but not encrypted and must
// be presented again to Decrypt.
func Encrypt(s Scheme, key, plaintext, aad []byte) (ciphertext []byte, nonce []byte, err error) {
	aead, err := newAEAD(s, key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt verifies and decrypts ciphertext produced by Encrypt.
//
// Returns ErrInvalidKeyLength, ErrUnknownScheme, ErrInvalidNonceLength,
// ErrCiphertextTooShort or ErrDecryptionFailed. Any tampering with the
// ciphertext, nonce or aad yields ErrDecryptionFailed.
func Decrypt(s Scheme, key, ciphertext, nonce, aad []byte) (plaintext []byte, err error) {
	aead, err := newAEAD(s, key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceLength
	}

	if len(ciphertext) < aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// DeriveSubkey derives a 256-bit key for a named purpose from master using
// HKDF-SHA256. Distinct purposes yield independent keys.
func DeriveSubkey(master []byte, purpose string) ([]byte, error) {
	if len(master) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	sub := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive %s key: %w", purpose, err)
	}
	return sub, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
