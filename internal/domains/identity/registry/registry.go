// Package registry maps aliases to public keys on top of an
// eventually-consistent graph store.
//
// Nothing in the store enforces uniqueness, so registration is a
// check-reserve-write-confirm sequence and resolution falls back across
// several key layouts. Two writers racing on the same alias inside the
// replication window can still both succeed; the earliest reservation and the
// frozen record decide which mapping readers prefer afterwards.
package registry

import (
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	"graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/platform/ratelimiter"

	"github.com/mr-tron/base58/base58"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
)

const (
	UsernamesSpace    = "usernames"
	FrozenSpace       = "frozen/usernames"
	ReservationsSpace = "reservations"
	ProfilesSpace     = "users"
)

// Source names the strategy that produced a Resolution.
type Source string

const (
	SourceFrozen    Source = "frozen"
	SourceDirect    Source = "direct"
	SourceAlternate Source = "alternate"
	SourceScan      Source = "scan"
)

type Availability int

const (
	AvailabilityUnknown Availability = iota
	Available
	Taken
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Taken:
		return "taken"
	default:
		return "unknown"
	}
}

// UnknownPolicy decides how an unanswered availability read is treated.
type UnknownPolicy string

const (
	UnknownPessimistic UnknownPolicy = "pessimistic"
	UnknownOptimistic  UnknownPolicy = "optimistic"
)

type Config struct {
	FrozenTimeout       time.Duration `yaml:"frozenTimeout"`
	DirectTimeout       time.Duration `yaml:"directTimeout"`
	AlternateTimeout    time.Duration `yaml:"alternateTimeout"`
	ScanTimeout         time.Duration `yaml:"scanTimeout"`
	EnrichTimeout       time.Duration `yaml:"enrichTimeout"`
	AvailabilityTimeout time.Duration `yaml:"availabilityTimeout"`
	RegisterTimeout     time.Duration `yaml:"registerTimeout"`
	ReservationTTL      time.Duration `yaml:"reservationTTL"`
	UnknownPolicy       UnknownPolicy `yaml:"unknownPolicy"`
	WritesPerMinute     float64       `yaml:"writesPerMinute"`
	WriteBurst          int           `yaml:"writeBurst"`
}

func DefaultConfig() Config {
	return Config{
		FrozenTimeout:       3 * time.Second,
		DirectTimeout:       1500 * time.Millisecond,
		AlternateTimeout:    1500 * time.Millisecond,
		ScanTimeout:         3 * time.Second,
		EnrichTimeout:       time.Second,
		AvailabilityTimeout: 2 * time.Second,
		RegisterTimeout:     3 * time.Second,
		ReservationTTL:      30 * time.Second,
		UnknownPolicy:       UnknownPessimistic,
		WritesPerMinute:     6,
		WriteBurst:          3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FrozenTimeout <= 0 {
		c.FrozenTimeout = d.FrozenTimeout
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = d.DirectTimeout
	}
	if c.AlternateTimeout <= 0 {
		c.AlternateTimeout = d.AlternateTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = d.EnrichTimeout
	}
	if c.AvailabilityTimeout <= 0 {
		c.AvailabilityTimeout = d.AvailabilityTimeout
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = d.RegisterTimeout
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = d.ReservationTTL
	}
	if c.UnknownPolicy != UnknownOptimistic {
		c.UnknownPolicy = UnknownPessimistic
	}
	if c.WritesPerMinute <= 0 {
		c.WritesPerMinute = d.WritesPerMinute
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = d.WriteBurst
	}
	return c
}

// Budget is the worst-case latency of one Resolve call without enrichment.
func (c Config) Budget() time.Duration {
	c = c.withDefaults()
	return c.FrozenTimeout + c.DirectTimeout + c.AlternateTimeout + c.ScanTimeout
}

// Observer receives per-strategy outcomes.
type Observer interface {
	StrategyResult(strategy string, hit bool, elapsed time.Duration)
}

type Profile struct {
	Username  string
	Pub       string
	EPub      string
	CreatedAt time.Time
	LastLogin time.Time
}

type Resolution struct {
	Pub       string
	Username  string
	Source    Source
	Immutable bool
	Profile   *Profile
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

type Registry struct {
	client   *graph.Client
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	throttle *ratelimiter.MapLimiter
	observer Observer
	tracer   trace.Tracer

	entropyMu sync.Mutex
	entropy   io.Reader
}

func New(client *graph.Client, cfg Config, opts ...Option) *Registry {
	if client == nil {
		panic("registry: nil graph client")
	}
	cfg = cfg.withDefaults()
	r := &Registry{
		client:   client,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		throttle: ratelimiter.NewMapLimiter(cfg.WritesPerMinute, cfg.WriteBurst, 10*time.Minute),
		tracer:   otel.Tracer("graphauth/registry"),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "identity.registry")
	return r
}

func (r *Registry) Config() Config {
	return r.cfg
}

func DirectPath(alias string) string {
	return graph.Join(UsernamesSpace, "@"+policy.NormalizeUsername(alias))
}

func AlternatePath(alias string) string {
	return graph.Join(UsernamesSpace, policy.NormalizeUsername(alias))
}

// FrozenDigest is the content address of an immutable alias record.
func FrozenDigest(alias, pub string) string {
	sum := blake2b.Sum256([]byte(policy.NormalizeUsername(alias) + ":" + pub))
	return base58.Encode(sum[:])
}

func FrozenPath(alias, pub string) string {
	return graph.Join(FrozenSpace, FrozenDigest(alias, pub))
}

func ReservationsPath(alias string) string {
	return graph.Join(ReservationsSpace, policy.NormalizeUsername(alias))
}

func ProfilePath(pub string) string {
	return graph.Join(ProfilesSpace, pub)
}

func (r *Registry) newReservationID(at time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), r.entropy).String()
}

func (r *Registry) observe(strategy Source, hit bool, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.StrategyResult(string(strategy), hit, elapsed)
	}
}
