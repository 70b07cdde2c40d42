// Package cipher encrypts pre-shared keys at rest.
//
// A single AES-256-GCM key is derived at startup from the configured
// passphrase and salt with Argon2id. Every ciphertext is
// nonce || sealed(plaintext), so equal plaintexts never produce equal blobs.
// Since the key is process-wide a ciphertext written for one device can be
// copied verbatim to another and still decrypt.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/nerrad567/devmgr/internal/infrastructure/config"
)

// Argon2id parameters (RFC 9106 second recommended option).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLength    = 32
)

var (
	// ErrMissingSecret is returned when passphrase or salt is empty.
	ErrMissingSecret = errors.New("cipher: passphrase and salt are required")

	// ErrCiphertextTooShort is returned for blobs shorter than a nonce.
	ErrCiphertextTooShort = errors.New("cipher: ciphertext too short")

	// ErrDecrypt is returned when authentication of a ciphertext fails.
	ErrDecrypt = errors.New("cipher: decryption failed")
)

// Cipher seals and opens secret attribute values.
//
// Thread Safety: safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the key from cfg and returns a ready Cipher.
func New(cfg config.SecretsConfig) (*Cipher, error) {
	if cfg.Passphrase == "" || cfg.Salt == "" {
		return nil, ErrMissingSecret
	}

	key := argon2.IDKey([]byte(cfg.Passphrase), []byte(cfg.Salt), argonTime, argonMemory, argonThreads, keyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext for plaintext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
