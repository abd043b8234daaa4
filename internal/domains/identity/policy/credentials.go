package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"graphauth/go-backend/internal/domains/contracts"
)

// Rules reported in contracts.Error.Rule, in evaluation order.
const (
	RuleRequired  = "required"
	RuleMinLength = "min_length"
	RuleUpper     = "uppercase"
	RuleLower     = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
	RuleMaxLength = "max_length"
	RuleCharset   = "charset"
)

// SpecialCharacters is the symbol set accepted by the symbol rule.
const SpecialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

type PasswordPolicy struct {
	MinLength     int  `yaml:"minLength"`
	MaxLength     int  `yaml:"maxLength"`
	RequireUpper  bool `yaml:"requireUpper"`
	RequireLower  bool `yaml:"requireLower"`
	RequireDigit  bool `yaml:"requireDigit"`
	RequireSymbol bool `yaml:"requireSymbol"`
}

type UsernamePolicy struct {
	MinLength int `yaml:"minLength"`
	MaxLength int `yaml:"maxLength"`
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     8,
		MaxLength:     256,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

func DefaultUsernamePolicy() UsernamePolicy {
	return UsernamePolicy{MinLength: 1, MaxLength: 48}
}

// Validator checks credentials against a fixed policy. It holds no state.
type Validator struct {
	password PasswordPolicy
	username UsernamePolicy
}

func NewValidator(password PasswordPolicy, username UsernamePolicy) *Validator {
	defPassword := DefaultPasswordPolicy()
	if password.MinLength <= 0 {
		password.MinLength = defPassword.MinLength
	}
	if password.MaxLength <= 0 {
		password.MaxLength = defPassword.MaxLength
	}
	defUsername := DefaultUsernamePolicy()
	if username.MinLength <= 0 {
		username.MinLength = defUsername.MinLength
	}
	if username.MaxLength <= 0 {
		username.MaxLength = defUsername.MaxLength
	}
	return &Validator{password: password, username: username}
}

// NormalizeUsername returns the canonical identity key of u.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

func (v *Validator) ValidateUsername(u string) error {
	n := NormalizeUsername(u)
	switch {
	case n == "":
		return invalidUsername(RuleRequired, "username is required")
	case utf8.RuneCountInString(n) < v.username.MinLength:
		return invalidUsername(RuleMinLength, fmt.Sprintf("username must be at least %d characters", v.username.MinLength))
	case utf8.RuneCountInString(n) > v.username.MaxLength:
		return invalidUsername(RuleMaxLength, fmt.Sprintf("username must be at most %d characters", v.username.MaxLength))
	case !usernamePattern.MatchString(n):
		return invalidUsername(RuleCharset, "username may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

// ValidatePasswordStrength reports the first unmet rule only.
func (v *Validator) ValidatePasswordStrength(p string) error {
	length := utf8.RuneCountInString(p)
	if length < v.password.MinLength {
		return weakPassword(RuleMinLength, fmt.Sprintf("password must be at least %d characters", v.password.MinLength))
	}
	if length > v.password.MaxLength {
		return weakPassword(RuleMaxLength, fmt.Sprintf("password must be at most %d characters", v.password.MaxLength))
	}

	var upper, lower, digit, symbol bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			symbol = true
		}
	}

	switch {
	case v.password.RequireUpper && !upper:
		return weakPassword(RuleUpper, "password must contain an uppercase letter")
	case v.password.RequireLower && !lower:
		return weakPassword(RuleLower, "password must contain a lowercase letter")
	case v.password.RequireDigit && !digit:
		return weakPassword(RuleDigit, "password must contain a digit")
	case v.password.RequireSymbol && !symbol:
		return weakPassword(RuleSymbol, "password must contain a special character")
	}
	return nil
}

func invalidUsername(rule, msg string) error {
	return &contracts.Error{Code: contracts.CodeInvalidFormat, Message: msg, Rule: rule}
}

func weakPassword(rule, msg string) error {
	return &contracts.Error{Code: contracts.CodeWeakPassword, Message: msg, Rule: rule}
}
