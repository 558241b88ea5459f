package cryptlogcrypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// AddCipher is a Paillier-style additively homomorphic cipher: given two
// ciphertexts c1 = Encrypt(m1) and c2 = Encrypt(m2), Add(c1, c2) yields a
// ciphertext that decrypts to m1+m2, without either plaintext ever being
// recovered. AddableRegister.Inc uses this: the server folds an increment into
// the current ciphertext without decrypting it.
//
// This is the one cipher in the MetaEncryptor bundle built directly on
// the standard library (math/big, crypto/rand) rather than a
// third-party package: no library in the example pack, nor a
// widely-used idiomatic Go package, implements Paillier or another
// additively homomorphic scheme, so there is nothing suitable to wire
// in for this concern. The scheme itself (key generation, encrypt,
// decrypt, homomorphic add) follows the standard textbook construction
// with g = n+1, which lets Encrypt avoid a full modular exponentiation.
type AddCipher struct {
	pub  *addPublicKey
	priv *addPrivateKey
}

type addPublicKey struct {
	n    *big.Int
	nSq  *big.Int
}

type addPrivateKey struct {
	lambda *big.Int
	mu     *big.Int
}

// NewAddCipher generates a fresh Paillier keypair with primes of the
// given bit length (per prime; 256 is plenty for demonstrating the
// homomorphism, production use would want 1024+ per prime).
func NewAddCipher(primeBits int) (*AddCipher, error) {
	if primeBits < 128 {
		return nil, fmt.Errorf("cryptlogcrypto: AddCipher primeBits must be >= 128")
	}

	p, err := rand.Prime(rand.Reader, primeBits)
	if err != nil {
		return nil, fmt.Errorf("cryptlogcrypto: generate p: %w", err)
	}
	q, err := rand.Prime(rand.Reader, primeBits)
	if err != nil {
		return nil, fmt.Errorf("cryptlogcrypto: generate q: %w", err)
	}

	n := new(big.Int).Mul(p, q)
	nSq := new(big.Int).Mul(n, n)

	pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
	qMinus1 := new(big.Int).Sub(q, big.NewInt(1))
	lambda := lcm(pMinus1, qMinus1)

	// With g = n+1, L(g^lambda mod n^2) == lambda, so mu = lambda^-1 mod n.
	mu := new(big.Int).ModInverse(lambda, n)
	if mu == nil {
		return nil, fmt.Errorf("cryptlogcrypto: AddCipher key generation produced non-invertible lambda")
	}

	return &AddCipher{
		pub:  &addPublicKey{n: n, nSq: nSq},
		priv: &addPrivateKey{lambda: lambda, mu: mu},
	}, nil
}

func lcm(a, b *big.Int) *big.Int {
	g := new(big.Int).GCD(nil, nil, a, b)
	out := new(big.Int).Mul(a, b)
	return out.Div(out, g)
}

// Encrypt returns c = (1 + m*n) * r^n mod n^2 for random r coprime to n.
func (c *AddCipher) Encrypt(m int64) ([]byte, error) {
	plain := big.NewInt(m)
	// Negative plaintexts wrap modulo n, matching Paillier's Z_n group;
	// Decrypt below re-centers the result back into a signed int64.
	plain.Mod(plain, c.pub.n)

	r, err := rand.Int(rand.Reader, c.pub.n)
	if err != nil {
		return nil, err
	}
	for r.Sign() == 0 {
		r, err = rand.Int(rand.Reader, c.pub.n)
		if err != nil {
			return nil, err
		}
	}

	one := big.NewInt(1)
	gm := new(big.Int).Mul(plain, c.pub.n)
	gm.Add(gm, one) // g^m mod n^2 == 1 + m*n  (since g = n+1)

	rn := new(big.Int).Exp(r, c.pub.n, c.pub.nSq)

	ct := new(big.Int).Mul(gm, rn)
	ct.Mod(ct, c.pub.nSq)
	return ct.Bytes(), nil
}

// Add homomorphically combines two ciphertexts: Decrypt(Add(c1, c2)) ==
// Decrypt(c1) + Decrypt(c2). Paillier's homomorphism is multiplication
// of ciphertexts modulo n^2.
func (c *AddCipher) Add(c1, c2 []byte) ([]byte, error) {
	x1 := new(big.Int).SetBytes(c1)
	x2 := new(big.Int).SetBytes(c2)
	sum := new(big.Int).Mul(x1, x2)
	sum.Mod(sum, c.pub.nSq)
	return sum.Bytes(), nil
}

// Decrypt recovers m = L(c^lambda mod n^2) * mu mod n, where L(x) =
// (x-1)/n, then re-centers the result into [-n/2, n/2) so small negative
// increments round-trip correctly.
func (c *AddCipher) Decrypt(ciphertext []byte) (int64, error) {
	ct := new(big.Int).SetBytes(ciphertext)
	if ct.Cmp(c.pub.nSq) >= 0 {
		return 0, fmt.Errorf("cryptlogcrypto: AddCipher ciphertext out of range")
	}

	cl := new(big.Int).Exp(ct, c.priv.lambda, c.pub.nSq)
	l := new(big.Int).Sub(cl, big.NewInt(1))
	l.Div(l, c.pub.n)

	m := new(big.Int).Mul(l, c.priv.mu)
	m.Mod(m, c.pub.n)

	half := new(big.Int).Rsh(c.pub.n, 1)
	if m.Cmp(half) > 0 {
		m.Sub(m, c.pub.n)
	}

	if !m.IsInt64() {
		return 0, fmt.Errorf("cryptlogcrypto: AddCipher decrypted value out of int64 range")
	}
	return m.Int64(), nil
}
