package cryptlogcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	pbkdf2Iterations = 100_000
	authKeyBytes     = 32 // AES-256
)

// AuthCipher provides confidentiality and tamper-detection (AES-256-GCM).
// It is the cipher used wherever a value only needs to be stored and
// later read back intact — Register's payload, HMap's values, BTMap's
// values — and where the server never needs to compare or compute on
// the ciphertext.
//
// Compare this to the deterministic, SIV-style construction in
// pkg/qri-io-qri/logbook (an MD5 hash of the key feeding aes.NewCipher
// directly): AuthCipher derives its key with PBKDF2 instead of a bare
// hash, and uses a fresh random nonce per call rather than a fixed one,
// since unlike EqCipher this cipher has no reason to be deterministic.
type AuthCipher struct {
	key []byte
}

// DeriveAuthKey derives a 32-byte AES key from a passphrase and salt.
func DeriveAuthKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, authKeyBytes, sha3.New256)
}

// NewAuthCipher builds an AuthCipher from an already-derived 32-byte key.
func NewAuthCipher(key []byte) (*AuthCipher, error) {
	if len(key) != authKeyBytes {
		return nil, fmt.Errorf("cryptlogcrypto: AuthCipher key must be %d bytes", authKeyBytes)
	}
	return &AuthCipher{key: key}, nil
}

// Encrypt returns nonce||ciphertext||tag.
func (c *AuthCipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt, failing if the tag does not verify.
func (c *AuthCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("cryptlogcrypto: AuthCipher ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
