// Package converters provides the generic encode/decode boundary between
// typed object values (ints, strings, application structs) and the
// string/byte payloads carried by logentry.State. Objects are generic
// over a Converter so the same Register, HMap, or BTMap implementation
// works for any value type the caller can serialize.
package converters

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Converter encodes a value of type V to its wire string form and back.
// Implementations must round-trip: Decode(Encode(v)) == v.
type Converter[V any] interface {
	Encode(v V) (string, error)
	Decode(s string) (V, error)
}

// EqableConverter is a Converter whose encoded form preserves equality:
// Encode(a) == Encode(b) iff a == b. HMap keys require this so an Eq
// cipher's deterministic ciphertext can be used as a lookup key.
type EqableConverter[K comparable] interface {
	Converter[K]
}

// StringConverter is the identity converter for string values.
type StringConverter struct{}

func (StringConverter) Encode(v string) (string, error) { return v, nil }
func (StringConverter) Decode(s string) (string, error) { return s, nil }

// IntConverter encodes int64 values as base-10 strings.
type IntConverter struct{}

func (IntConverter) Encode(v int64) (string, error) {
	return strconv.FormatInt(v, 10), nil
}

func (IntConverter) Decode(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("converters: decode int64: %w", err)
	}
	return n, nil
}

// OrdKeyConverter maps a key type onto the int64 domain an OrdCipher
// encrypts, preserving order: k1 < k2 (by K's natural order) must imply
// SortKey(k1) < SortKey(k2). It need not be invertible — BTMap recovers
// the real key through a separate Converter[K], and only ever uses
// SortKey to place an entry in sorted order.
type OrdKeyConverter[K any] interface {
	SortKey(k K) (int64, error)
}

// IntOrdKeyConverter orders int64 keys by their natural numeric order.
type IntOrdKeyConverter struct{}

func (IntOrdKeyConverter) SortKey(k int64) (int64, error) { return k, nil }

// StringOrdKeyConverter orders string keys by the lexicographic order of
// their first 7 bytes, packed big-endian into an int64 (the 8th/high
// byte is always zero so the result stays within int64's positive
// range). Keys that share a 7-byte prefix sort arbitrarily relative to
// each other; callers whose keys commonly share long prefixes should
// supply their own OrdKeyConverter instead.
type StringOrdKeyConverter struct{}

func (StringOrdKeyConverter) SortKey(k string) (int64, error) {
	var buf [8]byte
	n := len(k)
	if n > 7 {
		n = 7
	}
	copy(buf[1:1+n], k[:n])
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// FloatConverter encodes float64 values losslessly as base-10 text.
// Not Eqable: float equality does not match encoded equality (NaN never
// equals itself, and 0 and -0 are equal but encode as "0" and "-0"), so
// it is unsuited for HMap/BTMap keys but fine for Register/HMap values.
type FloatConverter struct{}

func (FloatConverter) Encode(v float64) (string, error) {
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

func (FloatConverter) Decode(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("converters: decode float64: %w", err)
	}
	return f, nil
}
