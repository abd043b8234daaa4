package usecase

import (
	"context"
	"errors"

	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/domains/identity/sessioncodec"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/pkg/models"

	"go.opentelemetry.io/otel/attribute"
)

const (
	restoreOutcomeSuccess  = "success"
	restoreOutcomeNone     = "none"
	restoreOutcomeDisabled = "disabled"
)

// RestoreSession re-authenticates the persisted session envelope. It never
// returns an error; failures are reported in the result and the stored
// envelope is discarded.
func (s *Service) RestoreSession(ctx context.Context) models.RestoreResult {
	ctx, span := s.tracer.Start(ctx, "identity.RestoreSession")
	defer span.End()
	logger := s.operationLogger("restore")

	if s.sessions == nil {
		s.metrics.RecordRestore(restoreOutcomeDisabled)
		return models.RestoreResult{Error: "session persistence is not configured"}
	}

	payload, err := s.sessions.Restore(ctx, func(ctx context.Context, p sessioncodec.Payload) (string, error) {
		actx, cancel := context.WithTimeout(ctx, s.authTimeout)
		defer cancel()
		ack, err := s.client.Authenticate(actx, graph.Credentials{Alias: p.Username, Pair: &p.Pair})
		if err != nil {
			return "", err
		}
		return ack.Pub, nil
	})
	if errors.Is(err, sessioncodec.ErrNoSession) {
		s.metrics.RecordRestore(restoreOutcomeNone)
		return models.RestoreResult{}
	}
	if err != nil {
		code := string(contracts.CodeOf(err))
		if code == "" {
			code = string(contracts.CodeStorage)
		}
		span.SetAttributes(attribute.String("identity.error_code", code))
		s.metrics.RecordRestore(code)
		logger.Warn("session restore failed", "error", err)
		return models.RestoreResult{Error: err.Error()}
	}

	user := s.newUser(payload.Username, payload.Pair, models.AuthMethodRecall)
	s.setCurrent(user, payload.Pair)
	s.metrics.RecordRestore(restoreOutcomeSuccess)
	s.publish(models.EventAuthLogin, user)
	logger.Info("session restored", "user_pub", user.Pub)
	return models.RestoreResult{Success: true, UserPub: payload.Pub, Username: payload.Username}
}

// Logout leaves the user space, clears the persisted session and emits
// auth:logout when a session was active.
func (s *Service) Logout(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "identity.Logout")
	defer span.End()

	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	s.leave()
	if s.sessions != nil {
		if err := s.sessions.Clear(); err != nil {
			s.logger.Error("clear persisted session failed", "operation", "logout", "error", err)
		}
	}
	if cur != nil {
		s.publish(models.EventAuthLogout, cur.user)
	}
}
