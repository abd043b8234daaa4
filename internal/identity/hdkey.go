// Package identity derives key material from a master keypair: purpose-bound
// child keys, watch-only identifiers and recovery-phrase masters.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
)

const (
	hdChildLabel = "graphauth/hd/child/v1"
	hdWatchLabel = "graphauth/hd/watch/v1"
)

var ErrPurposeRequired = errors.New("derivation purpose is required")

// HDDeriver derives child keys deterministically from a master keypair.
type HDDeriver struct {
	provider crypto.Provider
	logger   *slog.Logger
}

func NewHDDeriver(provider crypto.Provider, logger *slog.Logger) *HDDeriver {
	if provider == nil {
		panic("identity: nil crypto provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HDDeriver{provider: provider, logger: logger}
}

// DeriveChildKey returns the child keypair of master for purpose. The same
// inputs always give the same keypair. When neither the provider's native
// derivation nor the seeded fallback yields a complete keypair the call fails
// with DerivationUnavailable instead of returning unrelated keys.
func (d *HDDeriver) DeriveChildKey(ctx context.Context, master crypto.Keypair, purpose string) (crypto.Keypair, error) {
	if err := ctx.Err(); err != nil {
		return crypto.Keypair{}, err
	}
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return crypto.Keypair{}, &contracts.Error{Code: contracts.CodeInvalidFormat, Err: ErrPurposeRequired}
	}
	if strings.TrimSpace(master.Priv) == "" {
		return crypto.Keypair{}, contracts.WrapError(contracts.CodeDerivationUnavailable, crypto.ErrIncompleteKeypair)
	}

	if native, ok := d.provider.(crypto.AdditiveDeriver); ok {
		child, err := native.DerivePair(purpose, master)
		if err == nil && child.Complete() {
			return child, nil
		}
		d.logger.Debug("native child derivation failed, using seeded derivation",
			"component", "identity.hdkey", "purpose", purpose, "error", err)
	}

	cause := crypto.ErrIncompleteKeypair
	seed, err := d.provider.Work(master.Priv+":"+purpose, hdChildLabel, crypto.WorkOptions{Name: crypto.WorkSHA256})
	if err == nil {
		child, pairErr := d.provider.Pair([]byte(seed))
		if pairErr == nil && child.Complete() {
			return child, nil
		}
		if pairErr != nil {
			cause = pairErr
		}
	} else {
		cause = err
	}

	d.logger.Warn("deterministic child key derivation unavailable",
		"component", "identity.hdkey", "purpose", purpose, "error", cause)
	return crypto.Keypair{}, contracts.WrapError(contracts.CodeDerivationUnavailable, cause)
}

// DeriveChildPublicKey returns a watch-only identifier for purpose that can be
// computed from the master public key alone.
func (d *HDDeriver) DeriveChildPublicKey(masterPub, purpose string) (string, error) {
	masterPub = strings.TrimSpace(masterPub)
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return "", &contracts.Error{Code: contracts.CodeInvalidFormat, Err: ErrPurposeRequired}
	}
	if masterPub == "" {
		return "", &contracts.Error{Code: contracts.CodeInvalidFormat, Message: "master public key is required"}
	}
	return d.provider.Work(masterPub+":"+purpose, hdWatchLabel, crypto.WorkOptions{Name: crypto.WorkSHA256})
}

// DeriveKeyHierarchy derives one child per purpose, in order. Duplicate
// purposes map to the same key.
func (d *HDDeriver) DeriveKeyHierarchy(ctx context.Context, master crypto.Keypair, purposes []string) (map[string]crypto.Keypair, error) {
	out := make(map[string]crypto.Keypair, len(purposes))
	for _, purpose := range purposes {
		if _, ok := out[purpose]; ok {
			continue
		}
		child, err := d.DeriveChildKey(ctx, master, purpose)
		if err != nil {
			return nil, err
		}
		out[purpose] = child
	}
	return out, nil
}
