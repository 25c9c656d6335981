package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	encPrefix = "enc:"
	saltSize  = 16
)

// Cipher seals setting values with AES-256-GCM under an Argon2id key derived
// from a passphrase. Each sealed value carries its own salt so values survive
// process restarts.
type Cipher struct {
	passphrase []byte
}

func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("settings: passphrase must not be empty")
	}
	return &Cipher{passphrase: []byte(passphrase)}, nil
}

// Seal returns "enc:" + base64(salt + nonce + ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := c.gcm(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the "enc:" prefix are returned as-is.
func (c *Cipher) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < saltSize {
		return "", errors.New("ciphertext too short")
	}

	gcm, err := c.gcm(data[:saltSize])
	if err != nil {
		return "", err
	}

	data = data[saltSize:]
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func IsSealed(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

func (c *Cipher) gcm(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.passphrase, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
