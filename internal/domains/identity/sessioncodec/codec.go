// Package sessioncodec seals an authenticated keypair into a versioned,
// tamper-evident envelope and opens it again on restart.
package sessioncodec

import (
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"

	"github.com/mr-tron/base58/base58"
)

const (
	// CurrentVersion is the only envelope version Open accepts. Older
	// envelopes are discarded, never migrated.
	CurrentVersion = 2
	DefaultTTL     = 7 * 24 * time.Hour
	saltSize       = 16
)

type Envelope struct {
	Version   int    `json:"version"`
	Username  string `json:"username"`
	Pub       string `json:"pub"`
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
	Integrity string `json:"integrity"`
}

// Payload is the decrypted content of an envelope. It only lives in memory.
type Payload struct {
	Username  string         `json:"username"`
	Pair      crypto.Keypair `json:"pair"`
	Pub       string         `json:"pub"`
	ExpiresAt int64          `json:"expiresAt"`
}

func (p Payload) Expiry() time.Time {
	return time.UnixMilli(p.ExpiresAt)
}

type Option func(*Codec)

func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDeviceSecret keys the session key derivation with a secret that never
// leaves the device, so a copied envelope cannot be opened elsewhere.
func WithDeviceSecret(secret string) Option {
	return func(c *Codec) { c.deviceSecret = secret }
}

func WithWork(opts crypto.WorkOptions) Option {
	return func(c *Codec) {
		if strings.TrimSpace(opts.Name) != "" {
			c.work = opts
		}
	}
}

type Codec struct {
	provider     crypto.Provider
	deviceSecret string
	ttl          time.Duration
	now          func() time.Time
	work         crypto.WorkOptions
}

func New(provider crypto.Provider, opts ...Option) *Codec {
	if provider == nil {
		panic("sessioncodec: nil crypto provider")
	}
	c := &Codec{
		provider: provider,
		ttl:      DefaultTTL,
		now:      time.Now,
		work:     crypto.WorkOptions{Name: crypto.WorkSHA256},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// DeriveSessionKey derives the envelope key from username:salt:pub.
func (c *Codec) DeriveSessionKey(username, salt, pub string) (string, error) {
	return c.provider.Work(username+":"+salt+":"+pub, c.deviceSecret, c.work)
}

// Seal encrypts pair for username under a fresh salt.
func (c *Codec) Seal(username string, pair crypto.Keypair) (Envelope, error) {
	if !pair.Complete() {
		return Envelope{}, crypto.ErrIncompleteKeypair
	}
	saltBytes := make([]byte, saltSize)
	if _, err := rand.Read(saltBytes); err != nil {
		return Envelope{}, err
	}
	salt := base58.Encode(saltBytes)

	key, err := c.DeriveSessionKey(username, salt, pair.Pub)
	if err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(Payload{
		Username:  username,
		Pair:      pair,
		Pub:       pair.Pub,
		ExpiresAt: c.now().Add(c.ttl).UnixMilli(),
	})
	if err != nil {
		return Envelope{}, err
	}
	encrypted, err := c.provider.Encrypt(raw, key)
	zeroBytes(raw)
	if err != nil {
		return Envelope{}, err
	}
	integrity, err := c.integrity(encrypted)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:   CurrentVersion,
		Username:  username,
		Pub:       pair.Pub,
		Salt:      salt,
		Encrypted: encrypted,
		Integrity: integrity,
	}, nil
}

// Open verifies and decrypts env. Checks run in order: version, integrity,
// decryption, public key agreement, expiry.
func (c *Codec) Open(env Envelope) (Payload, error) {
	if env.Version != CurrentVersion {
		return Payload{}, &contracts.Error{Code: contracts.CodeSessionExpired, Message: "session envelope version is not supported"}
	}
	integrity, err := c.integrity(env.Encrypted)
	if err != nil || integrity != env.Integrity {
		return Payload{}, contracts.NewError(contracts.CodeIntegrityCheckFailed, "")
	}
	key, err := c.DeriveSessionKey(env.Username, env.Salt, env.Pub)
	if err != nil {
		return Payload{}, contracts.WrapError(contracts.CodeDecryptionFailed, err)
	}
	raw, err := c.provider.Decrypt(env.Encrypted, key)
	if err != nil {
		return Payload{}, contracts.WrapError(contracts.CodeDecryptionFailed, err)
	}
	defer zeroBytes(raw)
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, contracts.WrapError(contracts.CodeDecryptionFailed, err)
	}
	if p.Pub != env.Pub || p.Pair.Pub != env.Pub {
		return Payload{}, contracts.NewError(contracts.CodePubKeyMismatch, "")
	}
	if !c.now().Before(p.Expiry()) {
		return Payload{}, contracts.NewError(contracts.CodeSessionExpired, "")
	}
	return p, nil
}

func (c *Codec) integrity(ciphertext string) (string, error) {
	return c.provider.Work(ciphertext, "", crypto.WorkOptions{Name: crypto.WorkSHA256})
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
