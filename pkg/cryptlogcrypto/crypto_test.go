package cryptlogcrypto

import (
	"bytes"
	"testing"
)

func testMetaEncryptor(t *testing.T) *MetaEncryptor {
	t.Helper()
	me, err := NewMetaEncryptor(Config{Passphrase: []byte("correct horse battery staple"), AddPrimeBits: 128})
	if err != nil {
		t.Fatalf("NewMetaEncryptor: %v", err)
	}
	return me
}

func TestEqCipher_Deterministic(t *testing.T) {
	me := testMetaEncryptor(t)

	c1, err := me.Eq.Encrypt([]byte("alice"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	c2, err := me.Eq.Encrypt([]byte("alice"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !bytes.Equal(c1, c2) {
		t.Fatalf("expected deterministic ciphertext for equal plaintexts")
	}

	c3, err := me.Eq.Encrypt([]byte("bob"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(c1, c3) {
		t.Fatalf("expected different ciphertext for different plaintexts")
	}

	got, err := me.Eq.Decrypt(c1)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != "alice" {
		t.Fatalf("expected round trip 'alice', got %q", got)
	}
}

func TestOrdCipher_PreservesOrder(t *testing.T) {
	me := testMetaEncryptor(t)

	values := []int64{-100, -1, 0, 1, 42, 1000, 1_000_000}
	ciphertexts := make([][]byte, len(values))
	for i, v := range values {
		ct, err := me.Ord.Encrypt(v)
		if err != nil {
			t.Fatalf("encrypt(%d): %v", v, err)
		}
		ciphertexts[i] = ct
	}
	for i := 1; i < len(ciphertexts); i++ {
		if Compare(ciphertexts[i-1], ciphertexts[i]) >= 0 {
			t.Fatalf("expected ciphertext[%d] < ciphertext[%d] for plaintexts %d < %d",
				i-1, i, values[i-1], values[i])
		}
	}

	for i, v := range values {
		got, err := me.Ord.Decrypt(ciphertexts[i])
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != v {
			t.Fatalf("expected round trip %d, got %d", v, got)
		}
	}
}

func TestAddCipher_HomomorphicAddition(t *testing.T) {
	me := testMetaEncryptor(t)

	c1, err := me.Add.Encrypt(7)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	c2, err := me.Add.Encrypt(35)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sum, err := me.Add.Add(c1, c2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := me.Add.Decrypt(sum)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestAddCipher_NegativeIncrement(t *testing.T) {
	me := testMetaEncryptor(t)

	c1, err := me.Add.Encrypt(10)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	c2, err := me.Add.Encrypt(-3)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sum, err := me.Add.Add(c1, c2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := me.Add.Decrypt(sum)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestAuthCipher_RoundTripAndTamperDetection(t *testing.T) {
	me := testMetaEncryptor(t)

	ct, err := me.Auth.Encrypt([]byte("top secret payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := me.Auth.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "top secret payload" {
		t.Fatalf("expected round trip, got %q", pt)
	}

	tampered := append([]byte{}, ct...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := me.Auth.Decrypt(tampered); err == nil {
		t.Fatalf("expected tamper detection to fail decryption")
	}
}
