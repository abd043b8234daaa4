// Package graph defines the primitive surface of the replicated graph store
// and a blocking, context-aware adapter over its callback API.
package graph

import (
	"errors"
	"strconv"
	"strings"

	"graphauth/go-backend/internal/crypto"
)

var (
	ErrTimeout      = errors.New("graph operation timed out")
	ErrNoUserSpace  = errors.New("graph store has no user space")
	ErrUserExists   = errors.New("user already created")
	ErrWrongUser    = errors.New("wrong user or password")
	ErrInvalidPair  = errors.New("invalid keypair")
	ErrInvalidPath  = errors.New("invalid graph path")
	ErrStoreClosed  = errors.New("graph store is closed")
	ErrNotAuthed    = errors.New("user is not authenticated")
	ErrAliasMissing = errors.New("alias is required")
)

// EventAuth is the only user-space event name.
const EventAuth = "auth"

// Node is a flat graph record. Values are JSON-compatible scalars.
type Node map[string]any

func (n Node) String(key string) string {
	switch v := n[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return ""
	}
}

func (n Node) Bool(key string) bool {
	switch v := n[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (n Node) Int64(key string) int64 {
	switch v := n[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	default:
		return 0
	}
}

func (n Node) Clone() Node {
	if n == nil {
		return nil
	}
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// Primitives are the raw, callback-based graph operations.
//
// Once fires cb(node, true) when a value is observed and cb(nil, false) on an
// explicit miss. A replica may also never answer, and some stores have been
// observed to answer twice; callers must not rely on exactly one callback.
type Primitives interface {
	Put(path string, node Node, ack func(error))
	Set(path string, node Node, ack func(key string, err error))
	Once(path string, cb func(node Node, found bool))
	Map(path string, each func(key string, node Node), done func(error))
}

// Store is a graph store with a user-authentication space.
type Store interface {
	Primitives
	User() User
}

// Credentials authenticate either by alias/password or by an existing pair.
type Credentials struct {
	Alias    string
	Password string
	Pair     *crypto.Keypair
}

// AuthAck is the answer of the user-space auth primitives.
type AuthAck struct {
	Alias string
	Pub   string
	Pair  crypto.Keypair
	Err   error
}

// RecallOptions mirror the store's session recall switches.
type RecallOptions struct {
	SessionStorage bool
}

// User is the user-authentication primitive bound to one store handle.
type User interface {
	Auth(creds Credentials, ack func(AuthAck))
	Create(alias, password string, pair *crypto.Keypair, ack func(AuthAck))
	Leave()
	Recall(opts RecallOptions)
	On(event string, cb func(AuthAck)) (unsubscribe func())
	Is() (AuthAck, bool)
}

// Join builds a slash separated graph path, skipping empty parts.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Parent returns the parent path and the last segment of path.
func Parent(path string) (string, string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// AliasPath is the user-space node listing the accounts claiming an alias.
func AliasPath(alias string) string {
	return "~@" + alias
}

// AccountPath is the user-space node of one account.
func AccountPath(pub string) string {
	return "~" + pub
}
