// Package securestore encrypts small state files at rest under a passphrase.
package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "GAENC1\n"
	kdfArgon2id     = "argon2id"
)

var (
	ErrAuthFailed    = errors.New("securestore authentication failed")
	ErrInvalid       = errors.New("securestore envelope is invalid")
	ErrPlaintextData = errors.New("securestore data is not encrypted")
	ErrNoPassphrase  = errors.New("securestore passphrase is required")
)

// KDFParams are the argon2id costs recorded in every envelope.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Sealer encrypts with fixed KDF costs. Decryption always uses the costs
// recorded in the envelope.
type Sealer struct {
	params KDFParams
}

func NewSealer(params KDFParams) *Sealer {
	def := DefaultKDFParams()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.MemoryKB == 0 {
		params.MemoryKB = def.MemoryKB
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	return &Sealer{params: params}
}

var defaultSealer = NewSealer(DefaultKDFParams())

func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	return defaultSealer.Encrypt(passphrase, plaintext)
}

func Decrypt(passphrase string, data []byte) ([]byte, error) {
	return defaultSealer.Decrypt(passphrase, data)
}

func (s *Sealer) Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	env, err := s.EncryptEnvelope(passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func (s *Sealer) EncryptEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrNoPassphrase
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, s.params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfArgon2id,
		KDFTime:     s.params.Time,
		KDFMemoryKB: s.params.MemoryKB,
		KDFThreads:  s.params.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func (s *Sealer) Decrypt(passphrase string, data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, ErrPlaintextData
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	return s.DecryptEnvelope(passphrase, &env)
}

func (s *Sealer) DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfArgon2id {
		return nil, ErrInvalid
	}
	if env.KDFTime == 0 || env.KDFMemoryKB == 0 || env.KDFThreads == 0 || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	key := deriveKey(passphrase, env.Salt, KDFParams{Time: env.KDFTime, MemoryKB: env.KDFMemoryKB, Threads: env.KDFThreads})
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// IsEncrypted reports whether data carries the envelope prefix.
func IsEncrypted(data []byte) bool {
	return strings.HasPrefix(string(data), filePrefix)
}

func deriveKey(passphrase string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
