// Package privacylog wraps slog handlers so credentials never reach the log
// and account identifiers appear only as per-process fingerprints.
package privacylog

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

var (
	// fingerprintKey changes on every start, so fingerprints correlate lines
	// of one process and nothing else.
	fingerprintKey = newFingerprintKey()

	identifierKeys = map[string]struct{}{
		"alias":       {},
		"username":    {},
		"pub":         {},
		"epub":        {},
		"identity_id": {},
		"path":        {},
	}
	credentialKeyParts = []string{"token", "secret", "password", "passphrase", "priv", "salt", "mnemonic", "phrase", "auth"}
)

type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAll(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts credential-like keys, replaces identifier keys by
// <key>_fp fingerprints and descends into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	value := attr.Value.Resolve()
	lower := strings.ToLower(key)
	switch {
	case isCredentialKey(lower):
		return slog.String(key, redactedValue)
	case isIdentifierKey(lower):
		return slog.String(fingerprintKeyName(key), FingerprintID(value.String()))
	case value.Kind() == slog.KindGroup:
		return slog.Attr{Key: key, Value: slog.GroupValue(sanitizeAll(value.Group())...)}
	default:
		return slog.Attr{Key: key, Value: value}
	}
}

// FingerprintID is a short keyed digest of an identifier, stable for the
// lifetime of the process. Blank input gives "".
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	h, err := blake2b.New(8, fingerprintKey)
	if err != nil {
		panic("privacylog: " + err.Error())
	}
	_, _ = h.Write([]byte(trimmed))
	return "fp_" + base58.Encode(h.Sum(nil))
}

func sanitizeAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return out
}

func isIdentifierKey(key string) bool {
	if _, ok := identifierKeys[key]; ok {
		return true
	}
	return strings.HasSuffix(key, "_pub") || strings.HasSuffix(key, "_alias")
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func isCredentialKey(key string) bool {
	for _, part := range credentialKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func newFingerprintKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("privacylog: read random key: " + err.Error())
	}
	return key
}
