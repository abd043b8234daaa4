package daemon

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	platformconfig "graphauth/go-backend/internal/platform/config"

	"github.com/mr-tron/base58/base58"
)

const (
	deviceSecretEnv     = "GRAPHAUTH_DEVICE_SECRET"
	deviceKeyWrappedEnv = "GRAPHAUTH_DEVICE_KEY_WRAPPED"
	deviceKeyFile       = "device.key"
)

var ErrInsecureDeviceKeyMode = errors.New("insecure device key mode is forbidden in production")

type secretEnv struct {
	Secret  string `env:"GRAPHAUTH_DEVICE_SECRET"`
	Wrapped bool   `env:"GRAPHAUTH_DEVICE_KEY_WRAPPED"`
	Env     string `env:"GRAPHAUTH_ENV"`
}

func loadSecretEnv() (secretEnv, error) {
	var env secretEnv
	if err := platformconfig.ParseEnv(&env); err != nil {
		return secretEnv{}, err
	}
	return env, nil
}

// DeviceSecret returns the secret that binds session envelopes to this
// device. GRAPHAUTH_DEVICE_SECRET wins; otherwise <dataDir>/device.key is
// read, or generated on first use outside production.
func DeviceSecret(dataDir string) (string, error) {
	env, err := loadSecretEnv()
	if err != nil {
		return "", err
	}
	if secret := strings.TrimSpace(env.Secret); secret != "" {
		return secret, nil
	}

	keyPath := filepath.Join(dataDir, deviceKeyFile)
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			if policyErr := enforceDeviceKeyPolicy(env, "file"); policyErr != nil {
				return "", policyErr
			}
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if policyErr := enforceDeviceKeyPolicy(env, "auto-generate"); policyErr != nil {
		return "", policyErr
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base58.Encode(buf)
	if err := WriteDeviceKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func WriteDeviceKey(dataDir, secret string) error {
	env, err := loadSecretEnv()
	if err != nil {
		return err
	}
	if policyErr := enforceDeviceKeyPolicy(env, "write-file"); policyErr != nil {
		return policyErr
	}
	keyPath := filepath.Join(dataDir, deviceKeyFile)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}

func enforceDeviceKeyPolicy(env secretEnv, source string) error {
	if !isProductionEnv(env.Env) {
		return nil
	}
	if source == "auto-generate" {
		return fmt.Errorf(
			"%w: production requires %s or a wrapped key; raw %s generation is disabled",
			ErrInsecureDeviceKeyMode,
			deviceSecretEnv,
			deviceKeyFile,
		)
	}
	if env.Wrapped {
		return nil
	}
	return fmt.Errorf(
		"%w: raw %s is forbidden in production; set %s or enable the wrapped key flow (%s=true)",
		ErrInsecureDeviceKeyMode,
		deviceKeyFile,
		deviceSecretEnv,
		deviceKeyWrappedEnv,
	)
}

func isProductionEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}
