package models

import (
	"strings"
	"time"
)

const (
	AuthMethodPassword = "password"
	AuthMethodPair     = "pair"
	AuthMethodRecall   = "recall"
)

const (
	EventAuthLogin  = "auth:login"
	EventAuthSignup = "auth:signup"
	EventAuthLogout = "auth:logout"
)

func NormalizeAuthMethod(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case AuthMethodPair:
		return AuthMethodPair
	case AuthMethodRecall:
		return AuthMethodRecall
	default:
		return AuthMethodPassword
	}
}

// User is the public view of the authenticated account.
type User struct {
	Username        string    `json:"username"`
	Pub             string    `json:"pub"`
	EPub            string    `json:"epub,omitempty"`
	IdentityID      string    `json:"identity_id,omitempty"`
	Method          string    `json:"method"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

type AuthResult struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Error   string `json:"error,omitempty"`
}

type SignUpResult struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Error   string `json:"error,omitempty"`
}

type RestoreResult struct {
	Success  bool   `json:"success"`
	UserPub  string `json:"user_pub,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AuthEvent is the payload of the auth:* lifecycle events.
type AuthEvent struct {
	UserPub  string `json:"user_pub"`
	Username string `json:"username"`
	Method   string `json:"method"`
}

type NotificationEvent struct {
	Seq       int64     `json:"seq"`
	Method    string    `json:"method"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type AliasResolution struct {
	Alias     string    `json:"alias"`
	Pub       string    `json:"pub"`
	Source    string    `json:"source"`
	Immutable bool      `json:"immutable"`
	EPub      string    `json:"epub,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	LastLogin time.Time `json:"last_login,omitempty"`
}
