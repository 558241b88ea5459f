// Package cryptlogcrypto implements the four-cipher bundle a CryptLog
// runtime optionally wraps objects in: a deterministic cipher for
// equality lookups, an order-preserving cipher for sorted traversal, an
// additively homomorphic cipher for increments, and an authenticated
// cipher for everything else. Runtime and Objects never operate on raw
// bytes directly; they go through a *MetaEncryptor so swapping it for
// nil (see runtime.New) cleanly disables encryption end to end.
package cryptlogcrypto

import "fmt"

// MetaEncryptor bundles the four ciphers a CryptLog object can be built
// over. A Register uses Add+Auth, an HMap uses Eq+Auth, a BTMap uses
// Ord+Auth.
type MetaEncryptor struct {
	Eq   *EqCipher
	Ord  *OrdCipher
	Add  *AddCipher
	Auth *AuthCipher
}

// Config controls key derivation and the Paillier prime size.
type Config struct {
	Passphrase []byte
	Salt       []byte
	// AddPrimeBits sizes each of the two Paillier primes. Defaults to 256.
	AddPrimeBits int
}

// NewMetaEncryptor derives the Eq, Ord and Auth keys from a single
// passphrase. Each of them gets independently-salted subkeys so
// compromising one cipher's key material does not help against the
// others. The Add cipher's Paillier keypair is not derived from the
// passphrase: it is freshly generated on every call, so two
// MetaEncryptors built from the same passphrase do not share it.
func NewMetaEncryptor(cfg Config) (*MetaEncryptor, error) {
	if len(cfg.Passphrase) == 0 {
		return nil, fmt.Errorf("cryptlogcrypto: passphrase must not be empty")
	}
	if cfg.AddPrimeBits == 0 {
		cfg.AddPrimeBits = 256
	}

	salted := func(label string) []byte {
		return append(append([]byte{}, cfg.Salt...), []byte(label)...)
	}

	eqEncKey := DeriveAuthKey(cfg.Passphrase, salted("eq-enc"))
	eqMacKey := DeriveAuthKey(cfg.Passphrase, salted("eq-mac"))
	ordKey := DeriveAuthKey(cfg.Passphrase, salted("ord"))
	authKey := DeriveAuthKey(cfg.Passphrase, salted("auth"))

	eq, err := NewEqCipher(eqEncKey, eqMacKey)
	if err != nil {
		return nil, err
	}
	ord, err := NewOrdCipher(ordKey)
	if err != nil {
		return nil, err
	}
	add, err := NewAddCipher(cfg.AddPrimeBits)
	if err != nil {
		return nil, err
	}
	auth, err := NewAuthCipher(authKey)
	if err != nil {
		return nil, err
	}

	return &MetaEncryptor{Eq: eq, Ord: ord, Add: add, Auth: auth}, nil
}
