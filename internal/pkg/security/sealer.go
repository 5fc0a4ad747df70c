package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

var (
	ErrNoKey        = errors.New("credential sealing key is not configured")
	ErrInvalidSeal  = errors.New("sealed value is malformed or was tampered with")
	ErrInvalidKey   = errors.New("credential sealing key must be 32 bytes hex encoded")
	errShortSealing = errors.New("sealed value too short")
)

// Sealer encrypts platform credentials before they are stored.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromEnv reads CREDENTIALS_KEY.
func NewSealerFromEnv() (*Sealer, error) {
	raw := strings.TrimSpace(env.GetEnv("CREDENTIALS_KEY", ""))
	if raw == "" {
		return nil, ErrNoKey
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return NewSealer(key)
}

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if s == nil {
		return "", ErrNoKey
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	if s == nil {
		return nil, ErrNoKey
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidSeal
	}
	if len(raw) < s.aead.NonceSize() {
		return nil, errShortSealing
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidSeal
	}
	return plain, nil
}
