package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWrapCategorizedError_NewErrorUsesProvidedCategory(t *testing.T) {
	wrapped := WrapCategorizedError(ErrorCategoryCrypto, errors.New("boom"))
	var classified *CategorizedError
	if !errors.As(wrapped, &classified) {
		t.Fatalf("expected categorized error, got %T", wrapped)
	}
	if classified.Category != ErrorCategoryCrypto {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryCrypto, classified.Category)
	}
}

func TestWrapCategorizedError_NormalizesUnknownCategoryToAPI(t *testing.T) {
	wrapped := WrapCategorizedError("unknown", errors.New("boom"))
	if got := ErrorCategory(wrapped); got != ErrorCategoryAPI {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestErrorCategory_DefaultsToAPIForRegularErrors(t *testing.T) {
	if got := ErrorCategory(errors.New("plain")); got != ErrorCategoryAPI {
		t.Fatalf("expected default category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("login: %w", &Error{Code: CodeRateLimited, Message: "retry in 15 minutes", RetryAfter: 15 * time.Minute})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limited sentinel match")
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Fatal("unexpected authentication sentinel match")
	}
	if got := CodeOf(err); got != CodeRateLimited {
		t.Fatalf("unexpected code: %q", got)
	}
	if got := ErrorCategory(err); got != ErrorCategoryRateLimit {
		t.Fatalf("unexpected category: %q", got)
	}
}

func TestErrorMessageFallsBackToSentinelText(t *testing.T) {
	err := WrapError(CodeStorage, errors.New("disk full"))
	if got := err.Error(); got != "storage failure: disk full" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, ErrStorage) {
		t.Fatal("expected storage sentinel match")
	}
	if WrapError(CodeStorage, nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestCodeOfPlainSentinel(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", ErrSessionExpired)); got != CodeSessionExpired {
		t.Fatalf("unexpected code: %q", got)
	}
	if got := CodeOf(errors.New("other")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
}
