package graphconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/domains/identity/registry"
	"graphauth/go-backend/internal/platform/ratelimiter"

	"github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	DefaultDataDir = "graphauth-data"
)

type Config struct {
	DataDir   string
	Password  policy.PasswordPolicy
	Username  policy.UsernamePolicy
	RateLimit map[string]ratelimiter.Policy
	Registry  registry.Config
	Session   SessionConfig
	Graph     GraphConfig
	Crypto    crypto.Argon2Params
	Auth      AuthConfig
	Metrics   MetricsConfig
}

type SessionConfig struct {
	TTL           time.Duration
	File          string
	EncryptAtRest bool
}

type GraphConfig struct {
	Backend string
	Path    string
	Peers   []string
}

type AuthConfig struct {
	Timeout time.Duration
}

type MetricsConfig struct {
	Addr string
}

func Default() Config {
	return Config{
		DataDir:   DefaultDataDir,
		Password:  policy.DefaultPasswordPolicy(),
		Username:  policy.DefaultUsernamePolicy(),
		RateLimit: ratelimiter.DefaultPolicies(),
		Registry:  registry.DefaultConfig(),
		Session: SessionConfig{
			TTL:           7 * 24 * time.Hour,
			EncryptAtRest: true,
		},
		Graph:   GraphConfig{Backend: BackendSQLite},
		Crypto:  crypto.DefaultArgon2Params(),
		Auth:    AuthConfig{Timeout: 10 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// GraphPath is the sqlite file, defaulting to <dataDir>/graph.db.
func (c Config) GraphPath() string {
	if p := strings.TrimSpace(c.Graph.Path); p != "" {
		return p
	}
	return filepath.Join(c.DataDir, "graph.db")
}

// SessionPath is the session envelope file, defaulting to <dataDir>/session.json.
func (c Config) SessionPath() string {
	if p := strings.TrimSpace(c.Session.File); p != "" {
		return p
	}
	return filepath.Join(c.DataDir, "session.json")
}

// PeerAddrs parses the configured relay peers.
func (c Config) PeerAddrs() ([]multiaddr.Multiaddr, error) {
	out := make([]multiaddr.Multiaddr, 0, len(c.Graph.Peers))
	for _, raw := range c.Graph.Peers {
		addr, err := multiaddr.NewMultiaddr(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("graph peer %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Graph.Backend {
	case BackendMemory, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("graph backend %q is not one of %s, %s", c.Graph.Backend, BackendMemory, BackendSQLite))
	}
	if _, err := c.PeerAddrs(); err != nil {
		errs = append(errs, err)
	}
	if c.Password.MinLength <= 0 || c.Password.MaxLength < c.Password.MinLength {
		errs = append(errs, fmt.Errorf("password length bounds %d..%d are invalid", c.Password.MinLength, c.Password.MaxLength))
	}
	if c.Username.MaxLength <= 0 {
		errs = append(errs, errors.New("username max length must be positive"))
	}
	for op, p := range c.RateLimit {
		if p.MaxAttempts <= 0 || p.Cooldown <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %q needs positive maxAttempts and cooldown", op))
		}
	}
	switch c.Registry.UnknownPolicy {
	case registry.UnknownPessimistic, registry.UnknownOptimistic:
	default:
		errs = append(errs, fmt.Errorf("registry unknownPolicy %q is invalid", c.Registry.UnknownPolicy))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	return errors.Join(errs...)
}

// LoadFromPath reads configPath, or the first default candidate that exists,
// merges it over the defaults and applies GRAPHAUTH_* environment overrides.
// An explicit path that cannot be read is an error; missing default
// candidates are not.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"graphauth.yaml", "configs/graphauth.yaml"}
	explicit := strings.TrimSpace(configPath) != ""
	if explicit {
		candidates = []string{configPath}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
