package cryptlogcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// EqCipher produces deterministic, reversible ciphertext: encrypting the
// same plaintext twice under the same key always yields the same bytes.
// HMap keys are encrypted with this cipher so the server can locate a
// value by ciphertext equality without ever seeing the plaintext key.
//
// Determinism comes from a synthetic IV (SIV-style): the IV is the HMAC
// of the plaintext under a dedicated MAC key, so it never needs to be
// generated randomly or stored separately from the ciphertext it prefixes.
type EqCipher struct {
	encKey []byte
	macKey []byte
}

// NewEqCipher builds an EqCipher from two independent 32-byte subkeys.
func NewEqCipher(encKey, macKey []byte) (*EqCipher, error) {
	if len(encKey) != 32 || len(macKey) != 32 {
		return nil, fmt.Errorf("cryptlogcrypto: EqCipher keys must be 32 bytes")
	}
	return &EqCipher{encKey: encKey, macKey: macKey}, nil
}

// Encrypt returns iv||ciphertext, where iv = HMAC-SHA256(macKey, plaintext)[:16].
func (c *EqCipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(plaintext)
	iv := mac.Sum(nil)[:aes.BlockSize]

	out := make([]byte, aes.BlockSize+len(plaintext))
	copy(out, iv)
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out[aes.BlockSize:], plaintext)
	return out, nil
}

// Decrypt reverses Encrypt. It does not re-verify the synthetic IV against
// the plaintext it recovers; callers that need tamper-evidence should wrap
// values in AuthCipher instead, which is what HMap does for its values.
func (c *EqCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("cryptlogcrypto: EqCipher ciphertext too short")
	}
	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, err
	}
	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]
	out := make([]byte, len(body))
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out, body)
	return out, nil
}
