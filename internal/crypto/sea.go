package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning    = "graphauth/pair/signing/v1"
	hkdfInfoEncryption = "graphauth/pair/encryption/v1"
	hkdfInfoSecret     = "graphauth/secret/v1"

	ciphertextPrefix = "x1."
	pairSeedSize     = 32
)

// Argon2Params are the default cost parameters of WorkArgon2id.
type Argon2Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

// SEA is the default Provider: ed25519 signing keys, X25519 encryption keys,
// XChaCha20-Poly1305 symmetric encryption and SHA-256/argon2id work.
type SEA struct {
	argon Argon2Params
	rand  io.Reader
}

type Option func(*SEA)

func WithArgon2Params(p Argon2Params) Option {
	return func(s *SEA) {
		if p.Time > 0 {
			s.argon.Time = p.Time
		}
		if p.MemoryKB > 0 {
			s.argon.MemoryKB = p.MemoryKB
		}
		if p.Threads > 0 {
			s.argon.Threads = p.Threads
		}
	}
}

func WithRandom(r io.Reader) Option {
	return func(s *SEA) {
		if r != nil {
			s.rand = r
		}
	}
}

func NewSEA(opts ...Option) *SEA {
	s := &SEA{argon: DefaultArgon2Params(), rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SEA) Pair(seed []byte) (Keypair, error) {
	material := seed
	if len(material) == 0 {
		material = make([]byte, pairSeedSize)
		if _, err := io.ReadFull(s.rand, material); err != nil {
			return Keypair{}, err
		}
	}
	signingSeed, err := hkdfExpand(material, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return Keypair{}, err
	}
	encryptionSeed, err := hkdfExpand(material, hkdfInfoEncryption, curve25519.ScalarSize)
	if err != nil {
		return Keypair{}, err
	}
	defer zeroBytes(signingSeed)
	defer zeroBytes(encryptionSeed)

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)
	encryptionPub, err := curve25519.X25519(encryptionSeed, curve25519.Basepoint)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		Pub:   base58.Encode(signingPub),
		Priv:  base58.Encode(signingSeed),
		EPub:  base58.Encode(encryptionPub),
		EPriv: base58.Encode(encryptionSeed),
	}, nil
}

func (s *SEA) Work(input, salt string, opts WorkOptions) (string, error) {
	switch strings.TrimSpace(opts.Name) {
	case WorkSHA256, "sha256", "":
		if salt == "" {
			sum := sha256.Sum256([]byte(input))
			return base58.Encode(sum[:]), nil
		}
		mac := hmac.New(sha256.New, []byte(salt))
		mac.Write([]byte(input))
		return base58.Encode(mac.Sum(nil)), nil
	case WorkArgon2id:
		p := s.argon
		if opts.Time > 0 {
			p.Time = opts.Time
		}
		if opts.MemoryKB > 0 {
			p.MemoryKB = opts.MemoryKB
		}
		if opts.Threads > 0 {
			p.Threads = opts.Threads
		}
		key := argon2.IDKey([]byte(input), []byte(salt), p.Time, p.MemoryKB, p.Threads, 32)
		defer zeroBytes(key)
		return base58.Encode(key), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedWork, opts.Name)
	}
}

func (s *SEA) Encrypt(payload []byte, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrInvalidKey
	}
	aeadKey := sha256.Sum256([]byte(key))
	defer zeroBytes(aeadKey[:])
	aead, err := chacha20poly1305.NewX(aeadKey[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(payload)+aead.Overhead())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, payload, nil)
	return ciphertextPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *SEA) Decrypt(ciphertext, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}
	if !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return nil, ErrDecrypt
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ciphertext, ciphertextPrefix))
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX {
		return nil, ErrDecrypt
	}
	aeadKey := sha256.Sum256([]byte(key))
	defer zeroBytes(aeadKey[:])
	aead, err := chacha20poly1305.NewX(aeadKey[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (s *SEA) Secret(theirEPub string, mine Keypair) (string, error) {
	peer, err := decodeKey(theirEPub, curve25519.PointSize)
	if err != nil {
		return "", err
	}
	priv, err := decodeKey(mine.EPriv, curve25519.ScalarSize)
	if err != nil {
		return "", err
	}
	defer zeroBytes(priv)
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return "", err
	}
	defer zeroBytes(shared)
	out, err := hkdfExpand(shared, hkdfInfoSecret, 32)
	if err != nil {
		return "", err
	}
	return base58.Encode(out), nil
}

func (s *SEA) Sign(data []byte, pair Keypair) (string, error) {
	seed, err := decodeKey(pair.Priv, ed25519.SeedSize)
	if err != nil {
		return "", err
	}
	defer zeroBytes(seed)
	priv := ed25519.NewKeyFromSeed(seed)
	defer zeroBytes(priv)
	return base58.Encode(ed25519.Sign(priv, data)), nil
}

func (s *SEA) Verify(data []byte, signature, pub string) bool {
	pubBytes, err := decodeKey(pub, ed25519.PublicKeySize)
	if err != nil {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubBytes, data, sig)
}

// PublicKeyFromPrivate recomputes the signing public key of a base58 private seed.
func PublicKeyFromPrivate(priv string) (string, error) {
	seed, err := decodeKey(priv, ed25519.SeedSize)
	if err != nil {
		return "", err
	}
	defer zeroBytes(seed)
	key := ed25519.NewKeyFromSeed(seed)
	return base58.Encode(key.Public().(ed25519.PublicKey)), nil
}

func decodeKey(encoded string, size int) ([]byte, error) {
	raw, err := base58.Decode(strings.TrimSpace(encoded))
	if err != nil || len(raw) != size {
		return nil, ErrInvalidKey
	}
	return raw, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
