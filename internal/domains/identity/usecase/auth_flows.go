package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
	identitypolicy "graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/domains/identity/registry"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/platform/ratelimiter"
	"graphauth/go-backend/pkg/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SignUp creates the account in the graph user space, registers the alias
// and binds the new session.
func (s *Service) SignUp(ctx context.Context, username, password string, pair *crypto.Keypair) (res models.SignUpResult, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.SignUp")
	defer func() {
		s.finish(span, ratelimiter.OperationSignup, err)
		if err != nil {
			res = models.SignUpResult{Error: err.Error()}
		}
	}()
	logger := s.operationLogger(ratelimiter.OperationSignup)

	alias := identitypolicy.NormalizeUsername(username)
	if err := s.gate(alias, ratelimiter.OperationSignup); err != nil {
		return res, err
	}
	if err := s.validator.ValidateUsername(alias); err != nil {
		return res, err
	}
	if err := s.validator.ValidatePasswordStrength(password); err != nil {
		return res, err
	}
	if !s.registry.IsAliasAvailable(ctx, alias, 0) {
		return res, contracts.NewError(contracts.CodeAliasUnavailable, "")
	}

	actx, cancel := context.WithTimeout(ctx, s.authTimeout)
	defer cancel()
	created, err := s.client.CreateUser(actx, alias, password, pair)
	if err != nil {
		logger.Warn("user space create failed", "alias", alias, "error", err)
		return res, createError(err)
	}

	creds := graph.Credentials{Alias: alias, Password: password}
	method := models.AuthMethodPassword
	if pair != nil {
		creds = graph.Credentials{Alias: alias, Pair: pair}
		method = models.AuthMethodPair
	}
	ack, err := s.client.Authenticate(actx, creds)
	if err != nil || ack.Pub == "" {
		logger.Warn("authentication after create failed", "alias", alias, "error", err)
		s.withdrawClaim(logger, alias, created.Pub)
		return res, invalidCredentials()
	}

	if err := s.registry.Register(ctx, alias, ack.Pub, s.registerTimeout); err != nil {
		logger.Warn("alias registration failed", "alias", alias, "user_pub", ack.Pub, "error", err)
		s.leave()
		s.withdrawClaim(logger, alias, ack.Pub)
		return res, err
	}
	if err := s.registry.SaveProfile(ctx, registry.Profile{
		Username:  alias,
		Pub:       ack.Pub,
		EPub:      ack.Pair.EPub,
		CreatedAt: s.now(),
	}); err != nil {
		logger.Warn("profile write failed", "user_pub", ack.Pub, "error", err)
	}

	user := s.bind(logger, alias, ack.Pair, method)
	s.limiter.Reset(alias, ratelimiter.OperationSignup)
	s.publish(models.EventAuthSignup, user)
	logger.Info("signup completed", "alias", alias, "user_pub", user.Pub)
	return models.SignUpResult{Success: true, User: user}, nil
}

// Login authenticates with a password, or with pair when it is not nil.
func (s *Service) Login(ctx context.Context, username, password string, pair *crypto.Keypair) (models.AuthResult, error) {
	if pair != nil {
		return s.login(ctx, username, "", pair)
	}
	return s.login(ctx, username, password, nil)
}

func (s *Service) LoginWithPair(ctx context.Context, username string, pair crypto.Keypair) (models.AuthResult, error) {
	return s.login(ctx, username, "", &pair)
}

func (s *Service) login(ctx context.Context, username, password string, pair *crypto.Keypair) (res models.AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Login")
	defer func() {
		s.finish(span, ratelimiter.OperationLogin, err)
		if err != nil {
			res = models.AuthResult{Error: err.Error()}
		}
	}()
	logger := s.operationLogger(ratelimiter.OperationLogin)

	alias := identitypolicy.NormalizeUsername(username)
	if err := s.gate(alias, ratelimiter.OperationLogin); err != nil {
		return res, err
	}
	if err := s.validator.ValidateUsername(alias); err != nil {
		return res, err
	}

	creds := graph.Credentials{Alias: alias, Password: password}
	method := models.AuthMethodPassword
	if pair != nil {
		if err := s.verifyAliasOwner(ctx, alias, pair.Pub); err != nil {
			logger.Info("pair login rejected", "alias", alias, "error", err)
			return res, invalidCredentials()
		}
		creds = graph.Credentials{Alias: alias, Pair: pair}
		method = models.AuthMethodPair
	} else if strings.TrimSpace(password) == "" {
		return res, invalidCredentials()
	}

	actx, cancel := context.WithTimeout(ctx, s.authTimeout)
	defer cancel()
	ack, err := s.client.Authenticate(actx, creds)
	if err != nil || ack.Pub == "" || !ack.Pair.Complete() {
		logger.Info("login rejected", "alias", alias, "error", err)
		return res, invalidCredentials()
	}
	if pair == nil {
		if err := s.verifyAliasOwner(ctx, alias, ack.Pub); err != nil {
			logger.Info("password login rejected", "alias", alias, "user_pub", ack.Pub, "error", err)
			s.leave()
			return res, invalidCredentials()
		}
	}

	user := s.bind(logger, alias, ack.Pair, method)
	if err := s.registry.TouchLastLogin(ctx, user.Pub, user.AuthenticatedAt); err != nil {
		logger.Warn("last login update failed", "user_pub", user.Pub, "error", err)
	}
	s.limiter.Reset(alias, ratelimiter.OperationLogin)
	s.publish(models.EventAuthLogin, user)
	return models.AuthResult{Success: true, User: user}, nil
}

// verifyAliasOwner requires the registry to resolve alias to pub. A pair or
// a user-space account alone proves key possession, not alias ownership.
func (s *Service) verifyAliasOwner(ctx context.Context, alias, pub string) error {
	resolved, found, err := s.registry.Resolve(ctx, alias)
	switch {
	case err != nil:
		return err
	case !found:
		return contracts.NewError(contracts.CodeAliasNotFound, "")
	case resolved.Pub != pub:
		return errors.New("alias is registered to another key")
	}
	return nil
}

// bind makes pair the active session and persists it when session storage
// is configured. A persistence failure only costs the next restore.
func (s *Service) bind(logger *slog.Logger, alias string, pair crypto.Keypair, method string) models.User {
	user := s.newUser(alias, pair, method)
	s.setCurrent(user, pair)
	if s.sessions != nil {
		if err := s.sessions.Save(alias, pair); err != nil {
			logger.Warn("session persist failed", "user_pub", pair.Pub, "error", err)
		}
	}
	return user
}

func (s *Service) newUser(alias string, pair crypto.Keypair, method string) models.User {
	user := models.User{
		Username:        alias,
		Pub:             pair.Pub,
		EPub:            pair.EPub,
		Method:          method,
		AuthenticatedAt: s.now().UTC(),
	}
	if id, err := identitypolicy.BuildIdentityID(pair.Pub); err == nil {
		user.IdentityID = id
	}
	return user
}

func (s *Service) gate(alias, op string) error {
	decision := s.limiter.Check(alias, op)
	if decision.Allowed {
		return nil
	}
	s.metrics.RecordRateLimited(op)
	return &contracts.Error{
		Code:       contracts.CodeRateLimited,
		Message:    decision.Message,
		RetryAfter: decision.RetryAfter,
	}
}

func (s *Service) finish(span trace.Span, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		category := contracts.ErrorCategory(err)
		span.SetAttributes(
			attribute.String("identity.error_code", string(contracts.CodeOf(err))),
			attribute.String("identity.error_category", category),
		)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordFailure(op, category)
	}
	s.metrics.RecordAuthAttempt(op, outcome)
	span.End()
}

// withdrawClaim removes pub from the user-space alias node, so an account
// whose alias never got registered cannot log in under it or block the alias.
func (s *Service) withdrawClaim(logger *slog.Logger, alias, pub string) {
	if pub == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.authTimeout)
	defer cancel()
	if err := s.client.Write(ctx, graph.AliasPath(alias), graph.Node{graph.AccountPath(pub): nil}); err != nil {
		logger.Warn("alias claim rollback failed", "alias", alias, "user_pub", pub, "error", err)
	}
}

func (s *Service) leave() {
	if user := s.client.User(); user != nil {
		user.Leave()
	}
}

func invalidCredentials() error {
	return contracts.NewError(contracts.CodeAuthenticationFailed, "")
}

func createError(err error) error {
	switch {
	case errors.Is(err, graph.ErrUserExists):
		return contracts.NewError(contracts.CodeAliasUnavailable, "")
	case errors.Is(err, graph.ErrInvalidPair):
		return &contracts.Error{Code: contracts.CodeInvalidFormat, Message: "keypair is incomplete or invalid", Err: err}
	case errors.Is(err, graph.ErrTimeout):
		return contracts.WrapError(contracts.CodeTimeout, err)
	default:
		return contracts.WrapError(contracts.CodeStorage, err)
	}
}
