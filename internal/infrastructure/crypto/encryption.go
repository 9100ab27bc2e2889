package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// SecretBox encrypts service API keys before they are stored.
type SecretBox interface {
	Seal(plaintext string) (ciphertext, nonce string, err error)
	Open(ciphertext, nonce string) (plaintext string, err error)
}

type AESSecretBox struct {
	aead cipher.AEAD
}

// NewAESSecretBox builds an AES-256-GCM box from a 64 character hex key.
func NewAESSecretBox(hexKey string) (*AESSecretBox, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.New("invalid encryption key format")
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (64 hex chars)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESSecretBox{aead: aead}, nil
}

func (b *AESSecretBox) Seal(plaintext string) (string, string, error) {
	if plaintext == "" {
		return "", "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", err
	}

	sealed := b.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce),
		nil
}

func (b *AESSecretBox) Open(ciphertextB64, nonceB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != b.aead.NonceSize() {
		return "", errors.New("invalid nonce size")
	}

	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
