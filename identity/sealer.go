package identity

import (
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

const sealPrefix = "v1."

var errNotSealed = errors.New("token cache is not sealed")

// Sealer encrypts token cache blobs with XChaCha20-Poly1305 under a key derived
// from an application secret.
type Sealer struct {
	key []byte
}

// NewSealer derives the sealing key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("sealer secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("token-cache"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// IsSealed reports whether blob looks like the output of Seal.
func IsSealed(blob string) bool {
	return strings.HasPrefix(blob, sealPrefix)
}

// Seal encrypts plaintext and returns a printable blob.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("seal token cache: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal token cache: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(blob string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(blob, sealPrefix)
	if !ok {
		return nil, errNotSealed
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("open token cache: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("open token cache: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("open token cache: blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open token cache: %w", err)
	}
	return plaintext, nil
}
