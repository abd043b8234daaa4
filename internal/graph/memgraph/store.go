// Package memgraph is an in-memory graph store that reproduces the failure
// modes of an eventually-consistent replica: delayed visibility of writes,
// reads that never answer, and callbacks delivered more than once.
package memgraph

import (
	"crypto/rand"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/graph/userspace"

	"github.com/oklog/ulid/v2"
)

type version struct {
	fields    graph.Node
	visibleAt time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLag delays the visibility of every write by d on the store clock.
func WithLag(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lag = d
		}
	}
}

// WithLatency delays every callback by d of wall time.
func WithLatency(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.latency = d
		}
	}
}

// WithSilentMisses makes reads of absent nodes never answer.
func WithSilentMisses() Option {
	return func(s *Store) { s.silentMiss = true }
}

// WithDuplicateCallbacks delivers every callback twice.
func WithDuplicateCallbacks() Option {
	return func(s *Store) { s.duplicate = true }
}

func WithUserSpaceOptions(opts ...userspace.Option) Option {
	return func(s *Store) { s.userOpts = append(s.userOpts, opts...) }
}

type Store struct {
	mu         sync.RWMutex
	nodes      map[string][]version
	hung       map[string]struct{}
	now        func() time.Time
	lag        time.Duration
	latency    time.Duration
	silentMiss bool
	duplicate  bool
	entropy    io.Reader
	userOpts   []userspace.Option
	user       *userspace.Space
}

var _ graph.Store = (*Store)(nil)

func New(provider crypto.Provider, opts ...Option) *Store {
	s := &Store{
		nodes:   make(map[string][]version),
		hung:    make(map[string]struct{}),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.user = userspace.New(s, provider, s.userOpts...)
	return s
}

func (s *Store) User() graph.User {
	return s.user
}

// Hang makes reads and scans at or below prefix never answer until Resume.
func (s *Store) Hang(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hung[strings.Trim(prefix, "/")] = struct{}{}
}

func (s *Store) Resume(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hung, strings.Trim(prefix, "/"))
}

func (s *Store) Put(path string, node graph.Node, ack func(error)) {
	path = strings.Trim(path, "/")
	if path == "" {
		s.deliver(func() { callAck(ack, graph.ErrInvalidPath) })
		return
	}
	s.mu.Lock()
	s.nodes[path] = append(s.nodes[path], version{fields: node.Clone(), visibleAt: s.now().Add(s.lag)})
	s.mu.Unlock()
	s.deliver(func() { callAck(ack, nil) })
}

func (s *Store) Set(path string, node graph.Node, ack func(string, error)) {
	path = strings.Trim(path, "/")
	if path == "" {
		s.deliver(func() {
			if ack != nil {
				ack("", graph.ErrInvalidPath)
			}
		})
		return
	}
	s.mu.Lock()
	key := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
	child := graph.Join(path, key)
	s.nodes[child] = append(s.nodes[child], version{fields: node.Clone(), visibleAt: s.now().Add(s.lag)})
	s.mu.Unlock()
	s.deliver(func() {
		if ack != nil {
			ack(key, nil)
		}
	})
}

func (s *Store) Once(path string, cb func(graph.Node, bool)) {
	path = strings.Trim(path, "/")
	s.mu.RLock()
	if s.isHung(path) {
		s.mu.RUnlock()
		return
	}
	node := s.view(path)
	s.mu.RUnlock()

	if node == nil {
		if s.silentMiss {
			return
		}
		s.deliver(func() { cb(nil, false) })
		return
	}
	s.deliver(func() { cb(node.Clone(), true) })
}

func (s *Store) Map(path string, each func(string, graph.Node), done func(error)) {
	path = strings.Trim(path, "/")
	s.mu.RLock()
	if s.isHung(path) {
		s.mu.RUnlock()
		return
	}
	children := make(map[string]graph.Node)
	for p := range s.nodes {
		parent, leaf := graph.Parent(p)
		if parent != path {
			continue
		}
		if node := s.view(p); node != nil {
			children[leaf] = node
		}
	}
	s.mu.RUnlock()

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.deliver(func() {
		for _, k := range keys {
			each(k, children[k].Clone())
		}
		if done != nil {
			done(nil)
		}
	})
}

// view merges the versions of path visible at the current store time.
// Callers hold s.mu.
func (s *Store) view(path string) graph.Node {
	versions := s.nodes[path]
	if len(versions) == 0 {
		return nil
	}
	now := s.now()
	var out graph.Node
	for _, v := range versions {
		if v.visibleAt.After(now) {
			continue
		}
		if out == nil {
			out = graph.Node{}
		}
		for k, val := range v.fields {
			if val == nil {
				delete(out, k)
				continue
			}
			out[k] = val
		}
	}
	return out
}

func (s *Store) isHung(path string) bool {
	for prefix := range s.hung {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func (s *Store) deliver(fn func()) {
	go func() {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		fn()
		if s.duplicate {
			fn()
		}
	}()
}

func callAck(ack func(error), err error) {
	if ack != nil {
		ack(err)
	}
}
