package sessioncodec

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
)

// ReauthFunc re-authenticates a restored payload against the graph store and
// returns the public key the store bound.
type ReauthFunc func(ctx context.Context, p Payload) (string, error)

// Store persists one session envelope. Every failure to load or restore it
// clears the storage so a broken envelope is never retried.
type Store struct {
	codec   *Codec
	storage Storage
	logger  *slog.Logger
}

func NewStore(codec *Codec, storage Storage, logger *slog.Logger) *Store {
	if codec == nil {
		panic("sessioncodec: nil codec")
	}
	if storage == nil {
		panic("sessioncodec: nil storage")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{codec: codec, storage: storage, logger: logger.With("component", "identity.sessioncodec")}
}

func (s *Store) Save(username string, pair crypto.Keypair) error {
	env, err := s.codec.Seal(username, pair)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.storage.Save(raw); err != nil {
		return contracts.WrapError(contracts.CodeStorage, err)
	}
	return nil
}

// Load opens the persisted envelope. ErrNoSession means nothing is stored.
func (s *Store) Load() (Payload, error) {
	raw, err := s.storage.Load()
	if errors.Is(err, ErrNoSession) {
		return Payload{}, ErrNoSession
	}
	if err != nil {
		s.discard("unreadable", err)
		return Payload{}, contracts.WrapError(contracts.CodeStorage, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.discard("malformed", err)
		return Payload{}, contracts.WrapError(contracts.CodeDecryptionFailed, err)
	}
	p, err := s.codec.Open(env)
	if err != nil {
		s.discard(string(contracts.CodeOf(err)), err)
		return Payload{}, err
	}
	return p, nil
}

// Restore loads the envelope and re-authenticates it with reauth.
func (s *Store) Restore(ctx context.Context, reauth ReauthFunc) (Payload, error) {
	p, err := s.Load()
	if err != nil {
		return Payload{}, err
	}
	pub, err := reauth(ctx, p)
	if err != nil {
		s.discard(string(contracts.CodeAuthenticationFailed), err)
		return Payload{}, contracts.WrapError(contracts.CodeAuthenticationFailed, err)
	}
	if pub != p.Pub {
		s.discard(string(contracts.CodeVerificationFailed), nil)
		return Payload{}, contracts.NewError(contracts.CodeVerificationFailed, "")
	}
	return p, nil
}

func (s *Store) Clear() error {
	return s.storage.Clear()
}

func (s *Store) discard(reason string, cause error) {
	s.logger.Warn("discarding persisted session", "reason", reason, "error", cause)
	if err := s.storage.Clear(); err != nil {
		s.logger.Error("clear persisted session failed", "error", err)
	}
}
