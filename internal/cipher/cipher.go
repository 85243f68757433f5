// Package cipher encrypts chat message bodies at rest with AES-256-GCM.
//
// A token is base64(nonce || tag || ciphertext), so everything Decrypt needs
// travels inside the token itself.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	KeySize          = 32
	NonceSize        = 12
	TagSize          = 16
	MaxPlaintextSize = 64 * 1024

	// DefaultSalt is used when no salt is configured.
	DefaultSalt = "salt"

	fallbackSecret = "default-chat-encryption-key-not-secure-change-in-production-DO-NOT-USE-IN-PRODUCTION"

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

var (
	// ErrCipher covers every reason a token cannot be opened.
	ErrCipher = errors.New("cipher: token cannot be decrypted")

	ErrPlaintextTooLarge = errors.New("cipher: plaintext too large")
)

// Key is a derived AES-256 key. It is immutable once created.
type Key struct {
	b [KeySize]byte
}

// DeriveKey stretches secret with scrypt. The same secret and salt always give
// the same key, which is what keeps old messages readable across restarts.
func DeriveKey(secret, salt string) (Key, error) {
	var k Key
	if salt == "" {
		salt = DefaultSalt
	}
	raw, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return k, fmt.Errorf("derive key: %w", err)
	}
	copy(k.b[:], raw)
	return k, nil
}

// KeyFromConfig derives the key for a configured secret. With no secret it falls
// back to a fixed, publicly known secret and reports insecure = true so the
// caller can warn.
func KeyFromConfig(secret, salt string) (key Key, insecure bool, err error) {
	if secret == "" {
		key, err = DeriveKey(fallbackSecret, salt)
		return key, true, err
	}
	key, err = DeriveKey(secret, salt)
	return key, false, err
}

// Cipher seals and opens message bodies. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

func New(key Key) (*Cipher, error) {
	block, err := aes.NewCipher(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt returns a fresh token for plaintext. Two calls with the same input
// never produce the same token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if len(plaintext) > MaxPlaintextSize {
		return "", ErrPlaintextTooLarge
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	// Seal returns ciphertext || tag.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrCipher
	}
	if len(raw) < NonceSize+TagSize {
		return "", ErrCipher
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ct := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCipher
	}
	return string(plain), nil
}
