package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// ErrDecryptFailed is returned when stored key material cannot be decrypted
// (wrong key or tampered ciphertext).
var ErrDecryptFailed = errors.New("private key decryption failed")

// KeyCodec symmetrically encrypts session private keys for storage. It is an
// explicit codec applied at the session store boundary: rows hold ciphertext,
// everything above the store sees plaintext PEM.
type KeyCodec struct {
	aead cipher.AEAD
}

// NewKeyCodec returns a codec using AES-256-GCM with the given 32-byte key.
func NewKeyCodec(key []byte) (*KeyCodec, error) {
	if len(key) != 32 {
		return nil, errors.New("key codec requires a 32-byte key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &KeyCodec{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *KeyCodec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns ErrDecryptFailed for malformed input,
// a truncated blob, or an authentication failure.
func (c *KeyCodec) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
