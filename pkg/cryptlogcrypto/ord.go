package cryptlogcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
)

// OrdCipher encodes int64 values into fixed-width ciphertext that
// preserves numeric order: for plaintexts a < b, Encrypt(a) < Encrypt(b)
// as unsigned big-endian byte strings. BTMap keys are encrypted with
// this cipher so the server can keep entries sorted, and route
// range/ordering queries, without learning the plaintext keys.
//
// This is a keyed affine transform (ciphertext = plaintext*scale +
// offset, scale and offset derived from the key), not a
// cryptographically strong order-preserving encryption scheme such as
// Boldyreva et al.'s mutable OPE. It is order-preserving and
// key-dependent, which is what BTMap's replay needs, but an attacker
// who sees many ciphertexts can recover the affine parameters. A
// production system would swap this for a vetted OPE or ORE library
// without touching BTMap's code, since BTMap only ever compares
// ciphertext bytes.
type OrdCipher struct {
	scale  *big.Int
	offset *big.Int
}

const ordWidth = 24 // bytes; wide enough that scale*int64range+offset never overflows

// NewOrdCipher derives scale and offset deterministically from a 32-byte key.
func NewOrdCipher(key []byte) (*OrdCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptlogcrypto: OrdCipher key must be 32 bytes")
	}

	scaleMac := hmac.New(sha256.New, key)
	scaleMac.Write([]byte("cryptlog-ord-scale"))
	scaleBytes := scaleMac.Sum(nil)[:8]
	scale := new(big.Int).SetUint64(binary.BigEndian.Uint64(scaleBytes))
	// Keep the scale in [2^32, 2^33) so it is always positive, large
	// enough to separate adjacent plaintexts, and small enough that
	// scale * 2^64 fits comfortably in ordWidth bytes.
	scale.Mod(scale, big.NewInt(1<<32))
	scale.Add(scale, big.NewInt(1<<32))

	offsetMac := hmac.New(sha256.New, key)
	offsetMac.Write([]byte("cryptlog-ord-offset"))
	// A 128-bit offset keeps biased*scale+offset below 2^129, inside ordWidth.
	offset := new(big.Int).SetBytes(offsetMac.Sum(nil)[:16])

	return &OrdCipher{scale: scale, offset: offset}, nil
}

// biasedUint64 maps int64's full range onto uint64 while preserving order.
func biasedUint64(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func unbiasUint64(v uint64) int64 {
	return int64(v ^ (1 << 63))
}

// Encrypt returns a fixed-width (ordWidth-byte) big-endian ciphertext.
func (c *OrdCipher) Encrypt(plaintext int64) ([]byte, error) {
	biased := new(big.Int).SetUint64(biasedUint64(plaintext))
	ct := new(big.Int).Mul(biased, c.scale)
	ct.Add(ct, c.offset)

	raw := ct.Bytes()
	if len(raw) > ordWidth {
		return nil, fmt.Errorf("cryptlogcrypto: OrdCipher overflow encoding %d", plaintext)
	}
	out := make([]byte, ordWidth)
	copy(out[ordWidth-len(raw):], raw)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *OrdCipher) Decrypt(ciphertext []byte) (int64, error) {
	if len(ciphertext) != ordWidth {
		return 0, fmt.Errorf("cryptlogcrypto: OrdCipher ciphertext must be %d bytes", ordWidth)
	}
	ct := new(big.Int).SetBytes(ciphertext)
	ct.Sub(ct, c.offset)
	biased := new(big.Int).Div(ct, c.scale)
	if !biased.IsUint64() {
		return 0, fmt.Errorf("cryptlogcrypto: OrdCipher decode out of range")
	}
	return unbiasUint64(biased.Uint64()), nil
}

// BiasedOrderBytes encodes a plain (unencrypted) int64 sort key into
// fixed-width bytes whose unsigned lexicographic order matches the
// int64's numeric order. BTMap uses this on an unencrypted Runtime, so
// the same bytewise-Compare ordering logic works whether or not a
// MetaEncryptor is configured.
func BiasedOrderBytes(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, biasedUint64(v))
	return out
}

// Compare orders two ciphertexts without decrypting them, the whole
// point of an order-preserving cipher: BTMap's in-order traversal and
// pop-first semantics call this directly.
func Compare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
