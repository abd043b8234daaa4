package securestore

import (
	"os"
	"path/filepath"
	"strings"
)

// IsStorageConfigured reports whether encrypted persistence is configured.
func IsStorageConfigured(path, secret string) bool {
	return strings.TrimSpace(path) != "" && strings.TrimSpace(secret) != ""
}

// ReadFile reads path and decrypts it when secret is set. Encrypted content
// without a secret, or plaintext content with one, is rejected.
func (s *Sealer) ReadFile(path, secret string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(secret) == "" {
		if IsEncrypted(raw) {
			return nil, ErrNoPassphrase
		}
		return raw, nil
	}
	return s.Decrypt(secret, raw)
}

// WriteFile encrypts payload when secret is set and replaces path atomically
// with owner-only permissions.
func (s *Sealer) WriteFile(path, secret string, payload []byte) error {
	data := payload
	if strings.TrimSpace(secret) != "" {
		encrypted, err := s.Encrypt(secret, payload)
		if err != nil {
			return err
		}
		data = encrypted
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
