package graphconfig

import (
	"strings"
	"time"

	"graphauth/go-backend/internal/domains/identity/registry"
	platformconfig "graphauth/go-backend/internal/platform/config"
	"graphauth/go-backend/internal/platform/ratelimiter"
)

// FileConfig is the YAML layout. Zero values and nil pointers leave the
// default in place.
type FileConfig struct {
	DataDir   string                      `yaml:"dataDir"`
	Password  PasswordSection             `yaml:"password"`
	Username  UsernameSection             `yaml:"username"`
	RateLimit map[string]RateLimitSection `yaml:"rateLimit"`
	Registry  RegistrySection             `yaml:"registry"`
	Session   SessionSection              `yaml:"session"`
	Graph     GraphSection                `yaml:"graph"`
	Crypto    CryptoSection               `yaml:"crypto"`
	Auth      AuthSection                 `yaml:"auth"`
	Metrics   MetricsSection              `yaml:"metrics"`
}

type PasswordSection struct {
	MinLength     int   `yaml:"minLength"`
	MaxLength     int   `yaml:"maxLength"`
	RequireUpper  *bool `yaml:"requireUpper"`
	RequireLower  *bool `yaml:"requireLower"`
	RequireDigit  *bool `yaml:"requireDigit"`
	RequireSymbol *bool `yaml:"requireSymbol"`
}

type UsernameSection struct {
	MinLength int `yaml:"minLength"`
	MaxLength int `yaml:"maxLength"`
}

type RateLimitSection struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

type RegistrySection struct {
	FrozenTimeout       time.Duration `yaml:"frozenTimeout"`
	DirectTimeout       time.Duration `yaml:"directTimeout"`
	AlternateTimeout    time.Duration `yaml:"alternateTimeout"`
	ScanTimeout         time.Duration `yaml:"scanTimeout"`
	EnrichTimeout       time.Duration `yaml:"enrichTimeout"`
	AvailabilityTimeout time.Duration `yaml:"availabilityTimeout"`
	RegisterTimeout     time.Duration `yaml:"registerTimeout"`
	ReservationTTL      time.Duration `yaml:"reservationTTL"`
	UnknownPolicy       string        `yaml:"unknownPolicy"`
	WritesPerMinute     float64       `yaml:"writesPerMinute"`
	WriteBurst          int           `yaml:"writeBurst"`
}

type SessionSection struct {
	TTL           time.Duration `yaml:"ttl"`
	File          string        `yaml:"file"`
	EncryptAtRest *bool         `yaml:"encryptAtRest"`
}

type GraphSection struct {
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	Peers   []string `yaml:"peers"`
}

type CryptoSection struct {
	Argon2Time     uint32 `yaml:"argon2Time"`
	Argon2MemoryKB uint32 `yaml:"argon2MemoryKB"`
	Argon2Threads  uint8  `yaml:"argon2Threads"`
}

type AuthSection struct {
	Timeout time.Duration `yaml:"timeout"`
}

type MetricsSection struct {
	Addr string `yaml:"addr"`
}

func Merge(dst *Config, src FileConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}

	if src.Password.MinLength != 0 {
		dst.Password.MinLength = src.Password.MinLength
	}
	if src.Password.MaxLength != 0 {
		dst.Password.MaxLength = src.Password.MaxLength
	}
	if src.Password.RequireUpper != nil {
		dst.Password.RequireUpper = *src.Password.RequireUpper
	}
	if src.Password.RequireLower != nil {
		dst.Password.RequireLower = *src.Password.RequireLower
	}
	if src.Password.RequireDigit != nil {
		dst.Password.RequireDigit = *src.Password.RequireDigit
	}
	if src.Password.RequireSymbol != nil {
		dst.Password.RequireSymbol = *src.Password.RequireSymbol
	}
	if src.Username.MinLength != 0 {
		dst.Username.MinLength = src.Username.MinLength
	}
	if src.Username.MaxLength != 0 {
		dst.Username.MaxLength = src.Username.MaxLength
	}

	for op, section := range src.RateLimit {
		op = strings.ToLower(strings.TrimSpace(op))
		if dst.RateLimit == nil {
			dst.RateLimit = map[string]ratelimiter.Policy{}
		}
		current := dst.RateLimit[op]
		if section.MaxAttempts != 0 {
			current.MaxAttempts = section.MaxAttempts
		}
		if section.Cooldown != 0 {
			current.Cooldown = section.Cooldown
		}
		dst.RateLimit[op] = current
	}

	mergeRegistry(&dst.Registry, src.Registry)

	if src.Session.TTL != 0 {
		dst.Session.TTL = src.Session.TTL
	}
	if src.Session.File != "" {
		dst.Session.File = src.Session.File
	}
	if src.Session.EncryptAtRest != nil {
		dst.Session.EncryptAtRest = *src.Session.EncryptAtRest
	}

	if src.Graph.Backend != "" {
		dst.Graph.Backend = strings.ToLower(src.Graph.Backend)
	}
	if src.Graph.Path != "" {
		dst.Graph.Path = src.Graph.Path
	}
	if src.Graph.Peers != nil {
		dst.Graph.Peers = src.Graph.Peers
	}

	if src.Crypto.Argon2Time != 0 {
		dst.Crypto.Time = src.Crypto.Argon2Time
	}
	if src.Crypto.Argon2MemoryKB != 0 {
		dst.Crypto.MemoryKB = src.Crypto.Argon2MemoryKB
	}
	if src.Crypto.Argon2Threads != 0 {
		dst.Crypto.Threads = src.Crypto.Argon2Threads
	}
	if src.Auth.Timeout != 0 {
		dst.Auth.Timeout = src.Auth.Timeout
	}
	if src.Metrics.Addr != "" {
		dst.Metrics.Addr = src.Metrics.Addr
	}
}

func mergeRegistry(dst *registry.Config, src RegistrySection) {
	if src.FrozenTimeout != 0 {
		dst.FrozenTimeout = src.FrozenTimeout
	}
	if src.DirectTimeout != 0 {
		dst.DirectTimeout = src.DirectTimeout
	}
	if src.AlternateTimeout != 0 {
		dst.AlternateTimeout = src.AlternateTimeout
	}
	if src.ScanTimeout != 0 {
		dst.ScanTimeout = src.ScanTimeout
	}
	if src.EnrichTimeout != 0 {
		dst.EnrichTimeout = src.EnrichTimeout
	}
	if src.AvailabilityTimeout != 0 {
		dst.AvailabilityTimeout = src.AvailabilityTimeout
	}
	if src.RegisterTimeout != 0 {
		dst.RegisterTimeout = src.RegisterTimeout
	}
	if src.ReservationTTL != 0 {
		dst.ReservationTTL = src.ReservationTTL
	}
	if src.UnknownPolicy != "" {
		dst.UnknownPolicy = registry.UnknownPolicy(strings.ToLower(src.UnknownPolicy))
	}
	if src.WritesPerMinute != 0 {
		dst.WritesPerMinute = src.WritesPerMinute
	}
	if src.WriteBurst != 0 {
		dst.WriteBurst = src.WriteBurst
	}
}

// EnvOverrides are the GRAPHAUTH_* variables applied after the file.
type EnvOverrides struct {
	DataDir           string        `env:"GRAPHAUTH_DATA_DIR"`
	GraphBackend      string        `env:"GRAPHAUTH_GRAPH_BACKEND"`
	GraphPath         string        `env:"GRAPHAUTH_GRAPH_PATH"`
	GraphPeers        []string      `env:"GRAPHAUTH_GRAPH_PEERS" envSeparator:","`
	SessionTTL        time.Duration `env:"GRAPHAUTH_SESSION_TTL"`
	SessionFile       string        `env:"GRAPHAUTH_SESSION_FILE"`
	SessionEncrypt    *bool         `env:"GRAPHAUTH_SESSION_ENCRYPT"`
	UnknownPolicy     string        `env:"GRAPHAUTH_REGISTRY_UNKNOWN_POLICY"`
	LoginMaxAttempts  int           `env:"GRAPHAUTH_LOGIN_MAX_ATTEMPTS"`
	LoginCooldown     time.Duration `env:"GRAPHAUTH_LOGIN_COOLDOWN"`
	SignupMaxAttempts int           `env:"GRAPHAUTH_SIGNUP_MAX_ATTEMPTS"`
	SignupCooldown    time.Duration `env:"GRAPHAUTH_SIGNUP_COOLDOWN"`
	PasswordMinLength int           `env:"GRAPHAUTH_PASSWORD_MIN_LENGTH"`
	AuthTimeout       time.Duration `env:"GRAPHAUTH_AUTH_TIMEOUT"`
	MetricsAddr       string        `env:"GRAPHAUTH_METRICS_ADDR"`
}

func ApplyEnvOverrides(cfg *Config) error {
	var env EnvOverrides
	if err := platformconfig.ParseEnv(&env); err != nil {
		return err
	}
	Merge(cfg, FileConfig{
		DataDir:  env.DataDir,
		Password: PasswordSection{MinLength: env.PasswordMinLength},
		RateLimit: map[string]RateLimitSection{
			ratelimiter.OperationLogin:  {MaxAttempts: env.LoginMaxAttempts, Cooldown: env.LoginCooldown},
			ratelimiter.OperationSignup: {MaxAttempts: env.SignupMaxAttempts, Cooldown: env.SignupCooldown},
		},
		Registry: RegistrySection{UnknownPolicy: env.UnknownPolicy},
		Session:  SessionSection{TTL: env.SessionTTL, File: env.SessionFile, EncryptAtRest: env.SessionEncrypt},
		Graph:    GraphSection{Backend: env.GraphBackend, Path: env.GraphPath, Peers: env.GraphPeers},
		Auth:     AuthSection{Timeout: env.AuthTimeout},
		Metrics:  MetricsSection{Addr: env.MetricsAddr},
	})
	return nil
}
