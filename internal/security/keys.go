package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrKeyGenFailed is returned when RSA key pair generation fails. Callers
	// must treat it as a hard failure of the enclosing operation.
	ErrKeyGenFailed = errors.New("key pair generation failed")
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
	// ErrSignatureMismatch is returned when a signature does not verify
	// against the given public key.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// DefaultRSABits is the default modulus size for session key pairs.
const DefaultRSABits = 4096

// KeyPair holds a PEM-encoded RSA key pair generated for one session.
type KeyPair struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// KeyPairGenerator produces fresh RSA key pairs. Every call to Generate
// returns new key material; pairs are never cached or reused.
type KeyPairGenerator struct {
	bits int
}

// NewKeyPairGenerator returns a generator producing keys with the given
// modulus size. bits <= 0 selects DefaultRSABits.
func NewKeyPairGenerator(bits int) *KeyPairGenerator {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	return &KeyPairGenerator{bits: bits}
}

// Generate creates a fresh RSA key pair and returns it PEM-encoded (PKCS#8
// private key, PKIX public key). Returns an error wrapping ErrKeyGenFailed on
// any generation or encoding failure.
func (g *KeyPairGenerator) Generate() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, g.bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}

	return &KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key ("PUBLIC KEY" or
// "RSA PUBLIC KEY" block). Returns ErrInvalidKey for bad PEM or non-RSA keys.
func ParseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, ErrInvalidKey
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return pub, nil
	default:
		return nil, ErrInvalidKey
	}
}

// ParseRSAPrivateKey parses a PEM-encoded RSA private key ("PRIVATE KEY" or
// "RSA PRIVATE KEY" block). Returns ErrInvalidKey for bad PEM or non-RSA keys.
func ParseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, ErrInvalidKey
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return priv, nil
	default:
		return nil, ErrInvalidKey
	}
}

// SignSHA512 signs data with the PEM-encoded RSA private key using
// PKCS#1 v1.5 with SHA-512 (sha512WithRSAEncryption). Used by clients and
// tests; the server only verifies.
func SignSHA512(privateKeyPEM string, data []byte) ([]byte, error) {
	priv, err := ParseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum512(data)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA512, digest[:])
}

// VerifySHA512 verifies a PKCS#1 v1.5 SHA-512 signature over data against the
// PEM-encoded RSA public key. Returns nil when the signature verifies,
// ErrSignatureMismatch when it does not, and ErrInvalidKey when the key
// cannot be parsed.
func VerifySHA512(publicKeyPEM string, data, signature []byte) error {
	pub, err := ParseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return err
	}
	digest := sha512.Sum512(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest[:], signature); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}
