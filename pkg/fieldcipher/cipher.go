// Package fieldcipher encrypts individual sensitive columns with AES-256-GCM.
//
// Ciphertexts are stored as a single self-describing envelope
// "enc:v1:<nonce>:<tag>:<ciphertext>" where each part is standard base64.
package fieldcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	envelopePrefix = "enc:v1:"
	keySize        = 32
	nonceSize      = 12
	tagSize        = 16
)

// ErrInvalidKey is returned by ParseKey when the material does not decode to 32 bytes.
var ErrInvalidKey = errors.New("field encryption key must decode to 32 bytes")

// Cipher encrypts and decrypts field values. A Cipher without a key is an identity transform.
type Cipher struct {
	primary  cipher.AEAD
	previous []cipher.AEAD
}

// New builds a cipher from hex or base64 key material. When the primary key is missing or
// invalid the cipher runs in passthrough mode and says so once on the supplied logger.
func New(primaryKey string, previousKeys []string, logger *zap.Logger) *Cipher {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cipher{}
	key, err := ParseKey(primaryKey)
	if err != nil {
		logger.Warn("field encryption disabled, sensitive fields will be stored in plaintext", zap.Error(err))
		return c
	}
	c.primary = mustAEAD(key)

	for i, raw := range previousKeys {
		prev, err := ParseKey(raw)
		if err != nil {
			logger.Warn("ignoring previous field encryption key", zap.Int("index", i), zap.Error(err))
			continue
		}
		c.previous = append(c.previous, mustAEAD(prev))
	}
	return c
}

// ParseKey decodes 64-char hex or base64 key material into a 32-byte AES-256 key.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidKey
	}
	if len(raw) == keySize*2 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		if key, err := enc.DecodeString(raw); err == nil && len(key) == keySize {
			return key, nil
		}
	}
	return nil, ErrInvalidKey
}

// Enabled reports whether a valid key is loaded.
func (c *Cipher) Enabled() bool {
	return c != nil && c.primary != nil
}

// Encrypt seals plaintext into an envelope with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !c.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.primary.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return envelopePrefix + strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(body),
	}, ":"), nil
}

// Decrypt opens an envelope. Values that are not envelopes, or that no loaded key can open,
// are returned unchanged so legacy plaintext rows stay readable.
func (c *Cipher) Decrypt(value string) string {
	if value == "" || !c.Enabled() {
		return value
	}
	nonce, sealed, ok := splitEnvelope(value)
	if !ok {
		return value
	}

	for _, aead := range c.keys() {
		plain, err := aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			return string(plain)
		}
	}
	return value
}

// EncryptPtr encrypts optional fields, leaving nil untouched.
func (c *Cipher) EncryptPtr(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*value)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptPtr is the optional-field counterpart of Decrypt.
func (c *Cipher) DecryptPtr(value *string) *string {
	if value == nil {
		return nil
	}
	out := c.Decrypt(*value)
	return &out
}

// Reseal decrypts a stored value with any loaded key and encrypts it under the primary key.
// Plaintext input is encrypted. The second result is false when nothing changed.
func (c *Cipher) Reseal(value string) (string, bool, error) {
	if value == "" || !c.Enabled() {
		return value, false, nil
	}
	if IsEnvelope(value) {
		nonce, sealed, _ := splitEnvelope(value)
		if _, err := c.primary.Open(nil, nonce, sealed, nil); err == nil {
			return value, false, nil
		}
		plain := c.Decrypt(value)
		if plain == value {
			return value, false, errors.New("envelope cannot be opened with any loaded key")
		}
		value = plain
	}
	out, err := c.Encrypt(value)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// IsEnvelope reports whether value is a well-formed envelope.
func IsEnvelope(value string) bool {
	_, _, ok := splitEnvelope(value)
	return ok
}

func (c *Cipher) keys() []cipher.AEAD {
	return append([]cipher.AEAD{c.primary}, c.previous...)
}

func splitEnvelope(value string) (nonce, sealed []byte, ok bool) {
	if !strings.HasPrefix(value, envelopePrefix) {
		return nil, nil, false
	}
	parts := strings.Split(strings.TrimPrefix(value, envelopePrefix), ":")
	if len(parts) != 3 {
		return nil, nil, false
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, nil, false
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, false
	}
	body, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, false
	}
	return nonce, append(body, tag...), true
}

func mustAEAD(key []byte) cipher.AEAD {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(fmt.Sprintf("fieldcipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("fieldcipher: %v", err))
	}
	return aead
}
