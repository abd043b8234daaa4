package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"graphauth/go-backend/internal/app"
	"graphauth/go-backend/internal/bootstrap/graphconfig"
	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/identity"
	"graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/domains/identity/registry"
	"graphauth/go-backend/internal/domains/identity/sessioncodec"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/graph/memgraph"
	"graphauth/go-backend/internal/graph/sqlitegraph"
	"graphauth/go-backend/internal/graph/userspace"
	hdidentity "graphauth/go-backend/internal/identity"
	"graphauth/go-backend/internal/platform/metrics"
	"graphauth/go-backend/internal/platform/ratelimiter"
	"graphauth/go-backend/internal/securestore"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

const eventBacklog = 256

// Runtime is a fully wired identity session and the resources behind it.
type Runtime struct {
	Config   graphconfig.Config
	Provider crypto.Provider
	Client   *graph.Client
	Registry *registry.Registry
	Sessions *sessioncodec.Store
	Events   *app.NotificationHub
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Service  *identity.Service

	log     *slog.Logger
	closers []func() error
}

// Build composes the graph backend, alias registry, session persistence and
// the identity service from cfg. The caller owns the runtime and must Close it.
func Build(ctx context.Context, cfg graphconfig.Config, logger *slog.Logger) (*Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = app.DefaultLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	rt := &Runtime{Config: cfg, log: logger}
	provider := crypto.NewSEA(crypto.WithArgon2Params(cfg.Crypto))
	rt.Provider = provider

	store, err := openGraph(cfg, provider, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, c.Close)
	}
	rt.Client = graph.NewClient(store)

	reg := prometheus.NewRegistry()
	rt.Gatherer = reg
	rt.Metrics = metrics.NewCollector(reg)

	tracer := otel.Tracer("graphauth/identity")
	rt.Registry = registry.New(rt.Client, cfg.Registry,
		registry.WithLogger(logger),
		registry.WithObserver(rt.Metrics),
		registry.WithTracer(tracer),
	)

	secret, err := DeviceSecret(cfg.DataDir)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("resolve device secret: %w", err)
	}
	passphrase := ""
	if cfg.Session.EncryptAtRest {
		passphrase = secret
	}
	codec := sessioncodec.New(provider,
		sessioncodec.WithDeviceSecret(secret),
		sessioncodec.WithTTL(cfg.Session.TTL),
	)
	sealer := securestore.NewSealer(securestore.KDFParams(cfg.Crypto))
	sessionFile := sessioncodec.NewFileStorage(cfg.SessionPath(), passphrase, sealer)
	rt.Sessions = sessioncodec.NewStore(codec, sessionFile, logger)

	rt.Events = app.NewNotificationHub(eventBacklog)
	rt.Service = identity.NewService(identity.Deps{
		Client:          rt.Client,
		Validator:       policy.NewValidator(cfg.Password, cfg.Username),
		Limiter:         ratelimiter.NewAttemptLimiter(cfg.RateLimit),
		Registry:        rt.Registry,
		Sessions:        rt.Sessions,
		Deriver:         hdidentity.NewHDDeriver(provider, logger),
		Events:          rt.Events,
		Metrics:         rt.Metrics,
		Logger:          logger,
		Tracer:          tracer,
		AuthTimeout:     cfg.Auth.Timeout,
		RegisterTimeout: cfg.Registry.RegisterTimeout,
	})

	logger.Info("identity runtime ready",
		"component", "composition.daemon",
		"graph_backend", cfg.Graph.Backend,
		"session_file", sessionFile.Path(),
		"session_encrypted", cfg.Session.EncryptAtRest,
		"unknown_policy", string(cfg.Registry.UnknownPolicy),
	)
	return rt, nil
}

func openGraph(cfg graphconfig.Config, provider crypto.Provider, logger *slog.Logger) (graph.Store, error) {
	spaceOpts := []userspace.Option{userspace.WithLogger(logger)}
	switch cfg.Graph.Backend {
	case graphconfig.BackendMemory:
		return memgraph.New(provider, memgraph.WithUserSpaceOptions(spaceOpts...)), nil
	case graphconfig.BackendSQLite:
		store, err := sqlitegraph.Open(cfg.GraphPath(), provider,
			sqlitegraph.WithLogger(logger),
			sqlitegraph.WithUserSpaceOptions(spaceOpts...),
		)
		if err != nil {
			return nil, fmt.Errorf("open graph store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported graph backend %q", cfg.Graph.Backend)
	}
}

func (r *Runtime) logger() *slog.Logger {
	if r.log == nil {
		return slog.Default()
	}
	return r.log
}

// Close releases the graph backend. The persisted session is kept.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}
