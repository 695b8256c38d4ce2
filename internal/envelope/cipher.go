// Package envelope seals small secrets (API keys, OAuth tokens) with AES-256-GCM
// under a single server-held key.
//
// Envelope format: hex(nonce) ":" hex(ciphertext) ":" hex(tag), lowercase hex.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16

	// associatedData is bound into every tag so envelopes cannot be reused in another context.
	associatedData = "llm-provider-key"

	// MaskToken replaces the hidden part of a secret in MaskForDisplay.
	MaskToken = "***"
)

// ErrDecryption is the only error Decrypt returns. The cause is deliberately not exposed.
var ErrDecryption = errors.New("envelope: decryption failed")

// Cipher encrypts and decrypts envelopes. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey accepts 64 hex characters, standard base64 of 32 bytes, or 32 raw bytes.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 2*KeySize {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == KeySize {
		return key, nil
	}
	if len(raw) == KeySize {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("envelope: key must be 32 bytes (raw, 64 hex chars or base64)")
}

// GenerateKey returns a fresh random key encoded as hex.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), []byte(associatedData))
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrDecryption
	}
	nonce, ok := decodeLowerHex(parts[0])
	if !ok || len(nonce) != nonceSize {
		return "", ErrDecryption
	}
	ct, ok := decodeLowerHex(parts[1])
	if !ok {
		return "", ErrDecryption
	}
	tag, ok := decodeLowerHex(parts[2])
	if !ok || len(tag) != tagSize {
		return "", ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), []byte(associatedData))
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// decodeLowerHex rejects uppercase so every envelope has exactly one textual form.
func decodeLowerHex(s string) ([]byte, bool) {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return nil, false
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// IsEncrypted is a structural check (three colon-separated segments). It is not a security boundary.
func IsEncrypted(value string) bool {
	return strings.Count(value, ":") == 2
}

// MaskForDisplay shows the first and last four characters. Secrets of eight characters or fewer are fully masked.
func MaskForDisplay(secret string) string {
	if secret == "" {
		return ""
	}
	r := []rune(secret)
	if len(r) <= 8 {
		return MaskToken
	}
	return string(r[:4]) + MaskToken + string(r[len(r)-4:])
}
