// Package crypto defines the cryptographic capability consumed by the identity
// layer and ships the default SEA-style provider built on x/crypto primitives.
package crypto

import (
	"errors"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrDecrypt           = errors.New("could not decrypt")
	ErrUnsupportedWork   = errors.New("unsupported work algorithm")
	ErrIncompleteKeypair = errors.New("incomplete keypair")
)

const (
	WorkSHA256   = "SHA-256"
	WorkArgon2id = "argon2id"
)

// Keypair is a signing (Pub/Priv) plus encryption (EPub/EPriv) key set.
// All members are base58 encodings of raw key bytes.
type Keypair struct {
	Pub   string `json:"pub"`
	Priv  string `json:"priv"`
	EPub  string `json:"epub"`
	EPriv string `json:"epriv"`
}

// Complete reports whether every member of the pair is present.
func (k Keypair) Complete() bool {
	return strings.TrimSpace(k.Pub) != "" &&
		strings.TrimSpace(k.Priv) != "" &&
		strings.TrimSpace(k.EPub) != "" &&
		strings.TrimSpace(k.EPriv) != ""
}

func (k Keypair) Equal(other Keypair) bool {
	return k.Pub == other.Pub && k.Priv == other.Priv && k.EPub == other.EPub && k.EPriv == other.EPriv
}

// Public strips private members.
func (k Keypair) Public() Keypair {
	return Keypair{Pub: k.Pub, EPub: k.EPub}
}

// WorkOptions selects the one-way function used by Provider.Work.
// Zero Argon2 parameters fall back to the provider defaults.
type WorkOptions struct {
	Name     string
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// Provider is the cryptographic capability injected at construction time.
type Provider interface {
	// Pair generates a keypair. A non-empty seed makes generation deterministic.
	Pair(seed []byte) (Keypair, error)
	Work(input, salt string, opts WorkOptions) (string, error)
	Encrypt(payload []byte, key string) (string, error)
	Decrypt(ciphertext, key string) ([]byte, error)
	Secret(theirEPub string, mine Keypair) (string, error)
	Sign(data []byte, pair Keypair) (string, error)
	Verify(data []byte, signature, pub string) bool
}

// AdditiveDeriver is implemented by providers that can derive a child pair
// natively by offsetting the base private key with a seed.
type AdditiveDeriver interface {
	DerivePair(seed string, base Keypair) (Keypair, error)
}
