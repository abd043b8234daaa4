package ports

import (
	"context"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/identity/registry"
	"graphauth/go-backend/internal/domains/identity/sessioncodec"
	"graphauth/go-backend/internal/platform/ratelimiter"
	"graphauth/go-backend/pkg/models"
)

type AttemptLimiter interface {
	Check(id, op string) ratelimiter.Decision
	Reset(id, op string)
}

type CredentialValidator interface {
	ValidateUsername(username string) error
	ValidatePasswordStrength(password string) error
}

type AliasRegistry interface {
	IsAliasAvailable(ctx context.Context, alias string, timeout time.Duration) bool
	Register(ctx context.Context, alias, pub string, timeout time.Duration) error
	Resolve(ctx context.Context, alias string) (registry.Resolution, bool, error)
	SaveProfile(ctx context.Context, p registry.Profile) error
	TouchLastLogin(ctx context.Context, pub string, at time.Time) error
}

type SessionStore interface {
	Save(username string, pair crypto.Keypair) error
	Restore(ctx context.Context, reauth sessioncodec.ReauthFunc) (sessioncodec.Payload, error)
	Clear() error
}

type KeyDeriver interface {
	DeriveChildKey(ctx context.Context, master crypto.Keypair, purpose string) (crypto.Keypair, error)
}

type EventHub interface {
	Publish(method string, payload any) models.NotificationEvent
	Subscribe(fromSeq int64) ([]models.NotificationEvent, <-chan models.NotificationEvent, func())
}

type Metrics interface {
	RecordAuthAttempt(operation, outcome string)
	RecordRateLimited(operation string)
	RecordRestore(outcome string)
	RecordFailure(operation, category string)
}
