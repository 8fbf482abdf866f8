package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/99designs/keyring"
)

const (
	encryptedPrefix = "enc:"
	keyringPrefix   = "keyring:"

	keyringService = "mailmind"
)

// Secrets resolves account password references
type Secrets struct {
	encryptionKey string
	openKeyring   func() (keyring.Keyring, error)
}

// NewSecrets creates a resolver; key may be empty when no enc: passwords are used
func NewSecrets(encryptionKey string) *Secrets {
	return &Secrets{
		encryptionKey: encryptionKey,
		openKeyring: func() (keyring.Keyring, error) {
			return keyring.Open(keyring.Config{ServiceName: keyringService})
		},
	}
}

// Resolve returns the plaintext password for a configured value:
// enc:<base64> is AES-256-GCM, keyring:<key> is read from the OS keyring,
// anything else is used as is.
func (s *Secrets) Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, encryptedPrefix):
		return s.Decrypt(strings.TrimPrefix(value, encryptedPrefix))
	case strings.HasPrefix(value, keyringPrefix):
		return s.fromKeyring(strings.TrimPrefix(value, keyringPrefix))
	default:
		return value, nil
	}
}

func (s *Secrets) fromKeyring(key string) (string, error) {
	ring, err := s.openKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read keyring item %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Encrypt encrypts a password using AES-256-GCM and returns an enc: value
func (s *Secrets) Encrypt(password string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(password), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64 AES-256-GCM payload
func (s *Secrets) Decrypt(encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (s *Secrets) gcm() (cipher.AEAD, error) {
	if s.encryptionKey == "" {
		return nil, errors.New("ENCRYPTION_KEY is not set")
	}

	block, err := aes.NewCipher([]byte(s.encryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
