package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
	identityports "graphauth/go-backend/internal/domains/identity/ports"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/pkg/models"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultAuthTimeout = 10 * time.Second

// Deps are the collaborators of Service. Client, Validator, Limiter and
// Registry are required; the rest degrade to no-ops when nil.
type Deps struct {
	Client    *graph.Client
	Validator identityports.CredentialValidator
	Limiter   identityports.AttemptLimiter
	Registry  identityports.AliasRegistry
	Sessions  identityports.SessionStore
	Deriver   identityports.KeyDeriver
	Events    identityports.EventHub
	Metrics   identityports.Metrics
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Now       func() time.Time

	AuthTimeout     time.Duration
	RegisterTimeout time.Duration
}

type activeSession struct {
	user models.User
	pair crypto.Keypair
}

// Service is the identity session orchestrator: signup, login, restore and
// logout over the graph user space, with lifecycle events.
type Service struct {
	client    *graph.Client
	validator identityports.CredentialValidator
	limiter   identityports.AttemptLimiter
	registry  identityports.AliasRegistry
	sessions  identityports.SessionStore
	deriver   identityports.KeyDeriver
	events    identityports.EventHub
	metrics   identityports.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	authTimeout     time.Duration
	registerTimeout time.Duration

	mu      sync.RWMutex
	current *activeSession

	listenersMu  sync.Mutex
	listeners    map[int]func(models.AuthEvent)
	nextListener int
}

func NewService(deps Deps) *Service {
	switch {
	case deps.Client == nil:
		panic("identity usecase: nil graph client")
	case deps.Validator == nil:
		panic("identity usecase: nil credential validator")
	case deps.Limiter == nil:
		panic("identity usecase: nil attempt limiter")
	case deps.Registry == nil:
		panic("identity usecase: nil alias registry")
	}
	s := &Service{
		client:          deps.Client,
		validator:       deps.Validator,
		limiter:         deps.Limiter,
		registry:        deps.Registry,
		sessions:        deps.Sessions,
		deriver:         deps.Deriver,
		events:          deps.Events,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		tracer:          deps.Tracer,
		now:             deps.Now,
		authTimeout:     deps.AuthTimeout,
		registerTimeout: deps.RegisterTimeout,
		listeners:       make(map[int]func(models.AuthEvent)),
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "identity.session")
	if s.tracer == nil {
		s.tracer = otel.Tracer("graphauth/identity")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.authTimeout <= 0 {
		s.authTimeout = defaultAuthTimeout
	}
	if s.sessions != nil {
		if user := s.client.User(); user != nil {
			user.Recall(graph.RecallOptions{SessionStorage: true})
		}
	}
	return s
}

func (s *Service) IsLoggedIn() bool {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return false
	}
	user := s.client.User()
	if user == nil {
		return false
	}
	ack, ok := user.Is()
	return ok && ack.Pub == cur.user.Pub
}

func (s *Service) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.User{}, false
	}
	return s.current.user, true
}

// OnAuth registers cb for every successful authentication, including
// signups and restored sessions.
func (s *Service) OnAuth(cb func(models.AuthEvent)) (unsubscribe func()) {
	if cb == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = cb
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Events subscribes to auth:login, auth:signup and auth:logout.
func (s *Service) Events(fromSeq int64) ([]models.NotificationEvent, <-chan models.NotificationEvent, func()) {
	if s.events == nil {
		ch := make(chan models.NotificationEvent)
		close(ch)
		return nil, ch, func() {}
	}
	return s.events.Subscribe(fromSeq)
}

// DeriveChildKey derives a purpose-specific keypair from the active session.
func (s *Service) DeriveChildKey(ctx context.Context, purpose string) (crypto.Keypair, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return crypto.Keypair{}, &contracts.Error{Code: contracts.CodeAuthenticationFailed, Message: "not logged in", Err: graph.ErrNotAuthed}
	}
	if s.deriver == nil {
		return crypto.Keypair{}, contracts.NewError(contracts.CodeDerivationUnavailable, "")
	}
	return s.deriver.DeriveChildKey(ctx, cur.pair, purpose)
}

func (s *Service) setCurrent(user models.User, pair crypto.Keypair) {
	s.mu.Lock()
	s.current = &activeSession{user: user, pair: pair}
	s.mu.Unlock()
}

func (s *Service) notifyAuth(event models.AuthEvent) {
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	cbs := make([]func(models.AuthEvent), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, s.listeners[id])
	}
	s.listenersMu.Unlock()
	for _, cb := range cbs {
		cb(event)
	}
}

func (s *Service) publish(method string, user models.User) {
	event := models.AuthEvent{UserPub: user.Pub, Username: user.Username, Method: user.Method}
	if s.events != nil {
		s.events.Publish(method, event)
	}
	if method != models.EventAuthLogout {
		s.notifyAuth(event)
	}
}

func (s *Service) operationLogger(operation string) *slog.Logger {
	return s.logger.With("operation", operation, "correlation_id", ulid.Make().String())
}

type nopMetrics struct{}

func (nopMetrics) RecordAuthAttempt(string, string) {}
func (nopMetrics) RecordRateLimited(string)         {}
func (nopMetrics) RecordRestore(string)             {}
func (nopMetrics) RecordFailure(string, string)     {}
