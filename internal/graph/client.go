package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"graphauth/go-backend/internal/crypto"
)

// settler delivers the first value it is given and drops the rest.
type settler[T any] struct {
	done    atomic.Bool
	ch      chan T
	dropped *atomic.Int64
}

func newSettler[T any](dropped *atomic.Int64) *settler[T] {
	return &settler[T]{ch: make(chan T, 1), dropped: dropped}
}

func (s *settler[T]) resolve(v T) bool {
	if !s.done.CompareAndSwap(false, true) {
		if s.dropped != nil {
			s.dropped.Add(1)
		}
		return false
	}
	s.ch <- v
	return true
}

func (s *settler[T]) wait(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		// Lost the race to a resolver that is about to send.
		if !s.done.CompareAndSwap(false, true) {
			return <-s.ch, nil
		}
		return zero, contextErr(ctx)
	}
}

func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

type readResult struct {
	node  Node
	found bool
}

type setResult struct {
	key string
	err error
}

// Client turns the callback primitives of a store into blocking calls bound
// to a context. Every call settles exactly once: on the first callback, or on
// context expiry. Late and repeated callbacks are ignored.
type Client struct {
	prims   Primitives
	user    User
	dropped atomic.Int64
}

func NewClient(store Store) *Client {
	if store == nil {
		panic("graph: nil store")
	}
	return &Client{prims: store, user: store.User()}
}

// NewPrimitiveClient wraps a store without a user space.
func NewPrimitiveClient(prims Primitives) *Client {
	if prims == nil {
		panic("graph: nil primitives")
	}
	return &Client{prims: prims}
}

// Dropped reports how many callbacks arrived after their call had settled.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) User() User {
	return c.user
}

// Read performs a one-shot read. found is false on an explicit miss; a store
// that never answers surfaces as ErrTimeout once ctx expires.
func (c *Client) Read(ctx context.Context, path string) (Node, bool, error) {
	if path == "" {
		return nil, false, ErrInvalidPath
	}
	s := newSettler[readResult](&c.dropped)
	c.prims.Once(path, func(node Node, found bool) {
		s.resolve(readResult{node: node.Clone(), found: found && node != nil})
	})
	res, err := s.wait(ctx)
	if err != nil {
		return nil, false, err
	}
	return res.node, res.found, nil
}

func (c *Client) Write(ctx context.Context, path string, node Node) error {
	if path == "" {
		return ErrInvalidPath
	}
	s := newSettler[error](&c.dropped)
	c.prims.Put(path, node.Clone(), func(err error) {
		s.resolve(err)
	})
	ackErr, err := s.wait(ctx)
	if err != nil {
		return err
	}
	return ackErr
}

// Append adds node under a store-generated key of path and returns the key.
func (c *Client) Append(ctx context.Context, path string, node Node) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	s := newSettler[setResult](&c.dropped)
	c.prims.Set(path, node.Clone(), func(key string, err error) {
		s.resolve(setResult{key: key, err: err})
	})
	res, err := s.wait(ctx)
	if err != nil {
		return "", err
	}
	return res.key, res.err
}

// Scan iterates the children of path. fn returning false stops the scan early.
// Children reported after Scan returns are ignored.
func (c *Client) Scan(ctx context.Context, path string, fn func(key string, node Node) bool) error {
	if path == "" {
		return ErrInvalidPath
	}
	var (
		mu     sync.Mutex
		closed bool
	)
	s := newSettler[error](&c.dropped)
	c.prims.Map(path, func(key string, node Node) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if !fn(key, node.Clone()) {
			closed = true
			s.resolve(nil)
		}
	}, func(err error) {
		mu.Lock()
		closed = true
		mu.Unlock()
		s.resolve(err)
	})
	doneErr, err := s.wait(ctx)
	mu.Lock()
	closed = true
	mu.Unlock()
	if err != nil {
		return err
	}
	return doneErr
}

// Collect scans path into a map.
func (c *Client) Collect(ctx context.Context, path string) (map[string]Node, error) {
	out := map[string]Node{}
	err := c.Scan(ctx, path, func(key string, node Node) bool {
		out[key] = node
		return true
	})
	return out, err
}

func (c *Client) Authenticate(ctx context.Context, creds Credentials) (AuthAck, error) {
	if c.user == nil {
		return AuthAck{}, ErrNoUserSpace
	}
	s := newSettler[AuthAck](&c.dropped)
	c.user.Auth(creds, func(ack AuthAck) {
		s.resolve(ack)
	})
	ack, err := s.wait(ctx)
	if err != nil {
		return AuthAck{}, err
	}
	return ack, ack.Err
}

func (c *Client) CreateUser(ctx context.Context, alias, password string, pair *crypto.Keypair) (AuthAck, error) {
	if c.user == nil {
		return AuthAck{}, ErrNoUserSpace
	}
	s := newSettler[AuthAck](&c.dropped)
	c.user.Create(alias, password, pair, func(ack AuthAck) {
		s.resolve(ack)
	})
	ack, err := s.wait(ctx)
	if err != nil {
		return AuthAck{}, err
	}
	return ack, ack.Err
}
