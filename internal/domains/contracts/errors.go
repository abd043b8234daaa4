package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ErrorCategoryAPI        = "api"
	ErrorCategoryCrypto     = "crypto"
	ErrorCategoryStorage    = "storage"
	ErrorCategoryNetwork    = "network"
	ErrorCategoryValidation = "validation"
	ErrorCategoryRateLimit  = "rate_limit"
	ErrorCategoryAuth       = "auth"
	ErrorCategorySession    = "session"
)

// Code identifies one failure kind of the identity layer.
type Code string

const (
	CodeInvalidFormat         Code = "invalid_format"
	CodeWeakPassword          Code = "weak_password"
	CodeRateLimited           Code = "rate_limited"
	CodeAliasUnavailable      Code = "alias_unavailable"
	CodeAliasNotFound         Code = "alias_not_found"
	CodeAuthenticationFailed  Code = "authentication_failed"
	CodeIntegrityCheckFailed  Code = "integrity_check_failed"
	CodeDecryptionFailed      Code = "decryption_failed"
	CodePubKeyMismatch        Code = "pubkey_mismatch"
	CodeSessionExpired        Code = "session_expired"
	CodeVerificationFailed    Code = "verification_failed"
	CodeDerivationUnavailable Code = "derivation_unavailable"
	CodeTimeout               Code = "timeout"
	CodeStorage               Code = "storage"
)

var (
	ErrInvalidFormat         = errors.New("invalid format")
	ErrWeakPassword          = errors.New("weak password")
	ErrRateLimited           = errors.New("too many attempts")
	ErrAliasUnavailable      = errors.New("alias already exists")
	ErrAliasNotFound         = errors.New("alias not found")
	ErrAuthenticationFailed  = errors.New("invalid credentials or user not found")
	ErrIntegrityCheckFailed  = errors.New("session integrity check failed")
	ErrDecryptionFailed      = errors.New("session decryption failed")
	ErrPubKeyMismatch        = errors.New("session public key mismatch")
	ErrSessionExpired        = errors.New("session expired")
	ErrVerificationFailed    = errors.New("session verification failed")
	ErrDerivationUnavailable = errors.New("deterministic key derivation unavailable")
	ErrTimeout               = errors.New("operation timed out")
	ErrStorage               = errors.New("storage failure")
)

var codeSentinels = map[Code]error{
	CodeInvalidFormat:         ErrInvalidFormat,
	CodeWeakPassword:          ErrWeakPassword,
	CodeRateLimited:           ErrRateLimited,
	CodeAliasUnavailable:      ErrAliasUnavailable,
	CodeAliasNotFound:         ErrAliasNotFound,
	CodeAuthenticationFailed:  ErrAuthenticationFailed,
	CodeIntegrityCheckFailed:  ErrIntegrityCheckFailed,
	CodeDecryptionFailed:      ErrDecryptionFailed,
	CodePubKeyMismatch:        ErrPubKeyMismatch,
	CodeSessionExpired:        ErrSessionExpired,
	CodeVerificationFailed:    ErrVerificationFailed,
	CodeDerivationUnavailable: ErrDerivationUnavailable,
	CodeTimeout:               ErrTimeout,
	CodeStorage:               ErrStorage,
}

var codeCategories = map[Code]string{
	CodeInvalidFormat:         ErrorCategoryValidation,
	CodeWeakPassword:          ErrorCategoryValidation,
	CodeRateLimited:           ErrorCategoryRateLimit,
	CodeAliasUnavailable:      ErrorCategoryAPI,
	CodeAliasNotFound:         ErrorCategoryAPI,
	CodeAuthenticationFailed:  ErrorCategoryAuth,
	CodeIntegrityCheckFailed:  ErrorCategorySession,
	CodeDecryptionFailed:      ErrorCategorySession,
	CodePubKeyMismatch:        ErrorCategorySession,
	CodeSessionExpired:        ErrorCategorySession,
	CodeVerificationFailed:    ErrorCategorySession,
	CodeDerivationUnavailable: ErrorCategoryCrypto,
	CodeTimeout:               ErrorCategoryNetwork,
	CodeStorage:               ErrorCategoryStorage,
}

// Error is the typed failure returned by identity operations.
// errors.Is matches it against the Err* sentinel of its Code.
type Error struct {
	Code       Code
	Message    string
	Rule       string
	RetryAfter time.Duration
	Err        error
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: strings.TrimSpace(message)}
}

func WrapError(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if sentinel, ok := codeSentinels[e.Code]; ok {
			msg = sentinel.Error()
		} else {
			msg = string(e.Code)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if sentinel, ok := codeSentinels[e.Code]; ok && sentinel == target {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code && other.Message == "" && other.Err == nil
	}
	return false
}

// Category reports the logging/metrics bucket of the code.
func (e *Error) Category() string {
	if c, ok := codeCategories[e.Code]; ok {
		return c
	}
	return ErrorCategoryAPI
}

// CodeOf extracts the Code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// CategorizedError tags an infrastructure error with a coarse category.
type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryCrypto:
		return ErrorCategoryCrypto
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	case ErrorCategoryNetwork:
		return ErrorCategoryNetwork
	case ErrorCategoryValidation:
		return ErrorCategoryValidation
	case ErrorCategoryRateLimit:
		return ErrorCategoryRateLimit
	case ErrorCategoryAuth:
		return ErrorCategoryAuth
	case ErrorCategorySession:
		return ErrorCategorySession
	default:
		return ErrorCategoryAPI
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Category()
	}
	return ErrorCategoryAPI
}
