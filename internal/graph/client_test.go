package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"graphauth/go-backend/internal/crypto"
)

type scriptedStore struct {
	nodes    map[string]Node
	children map[string]map[string]Node
	silent   bool
	twice    bool
	user     User
}

func (s *scriptedStore) Put(path string, node Node, ack func(error)) {
	if s.nodes == nil {
		s.nodes = map[string]Node{}
	}
	s.nodes[path] = node
	if s.silent {
		return
	}
	ack(nil)
	if s.twice {
		ack(errors.New("second ack"))
	}
}

func (s *scriptedStore) Set(path string, node Node, ack func(string, error)) {
	if s.silent {
		return
	}
	ack("k1", nil)
	if s.twice {
		ack("k2", nil)
	}
}

func (s *scriptedStore) Once(path string, cb func(Node, bool)) {
	if s.silent {
		return
	}
	node, ok := s.nodes[path]
	go func() {
		cb(node, ok)
		if s.twice {
			cb(Node{"late": true}, true)
		}
	}()
}

func (s *scriptedStore) Map(path string, each func(string, Node), done func(error)) {
	for k, v := range s.children[path] {
		each(k, v)
	}
	if !s.silent {
		done(nil)
	}
}

func (s *scriptedStore) User() User { return s.user }

func TestClientReadFoundAndMiss(t *testing.T) {
	store := &scriptedStore{nodes: map[string]Node{"usernames/@alice": {"pub": "P1"}}}
	c := NewClient(store)

	node, found, err := c.Read(context.Background(), "usernames/@alice")
	if err != nil || !found {
		t.Fatalf("expected found node, got found=%v err=%v", found, err)
	}
	if node.String("pub") != "P1" {
		t.Fatalf("unexpected node: %#v", node)
	}

	_, found, err = c.Read(context.Background(), "usernames/@bob")
	if err != nil {
		t.Fatalf("miss must not error: %v", err)
	}
	if found {
		t.Fatal("expected explicit miss")
	}
}

func TestClientReadTimesOutOnSilentStore(t *testing.T) {
	c := NewClient(&scriptedStore{silent: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := c.Read(ctx, "usernames/@alice")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClientCancelledContextIsNotTimeout(t *testing.T) {
	c := NewClient(&scriptedStore{silent: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Write(ctx, "a", Node{"x": 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientSettlesOnceOnDuplicateCallbacks(t *testing.T) {
	store := &scriptedStore{twice: true, nodes: map[string]Node{"a": {"v": "first"}}}
	c := NewClient(store)

	if err := c.Write(context.Background(), "b", Node{"v": 1}); err != nil {
		t.Fatalf("first ack must win, got %v", err)
	}
	key, err := c.Append(context.Background(), "list", Node{"v": 1})
	if err != nil || key != "k1" {
		t.Fatalf("expected first set key, got %q err=%v", key, err)
	}
	node, _, err := c.Read(context.Background(), "a")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if node.String("v") != "first" {
		t.Fatalf("expected first callback value, got %#v", node)
	}

	deadline := time.Now().Add(time.Second)
	for c.Dropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := c.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped callbacks, got %d", got)
	}
}

func TestClientScanStopsEarlyAndTimesOut(t *testing.T) {
	store := &scriptedStore{children: map[string]map[string]Node{
		"usernames": {"@alice": {"pub": "P1"}, "@bob": {"pub": "P2"}, "carol": {"pub": "P3"}},
	}}
	c := NewClient(store)

	seen := 0
	err := c.Scan(context.Background(), "usernames", func(string, Node) bool {
		seen++
		return false
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected scan to stop after first child, saw %d", seen)
	}

	all, err := c.Collect(context.Background(), "usernames")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 children, got %d err=%v", len(all), err)
	}

	store.silent = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	partial, err := c.Collect(ctx, "usernames")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(partial) != 3 {
		t.Fatalf("children seen before timeout should be kept, got %d", len(partial))
	}
}

func TestClientWithoutUserSpace(t *testing.T) {
	c := NewPrimitiveClient(&scriptedStore{})
	if _, err := c.Authenticate(context.Background(), Credentials{Alias: "a"}); !errors.Is(err, ErrNoUserSpace) {
		t.Fatalf("expected ErrNoUserSpace, got %v", err)
	}
	if _, err := c.CreateUser(context.Background(), "a", "b", &crypto.Keypair{}); !errors.Is(err, ErrNoUserSpace) {
		t.Fatalf("expected ErrNoUserSpace, got %v", err)
	}
}

func TestClientRejectsEmptyPath(t *testing.T) {
	c := NewClient(&scriptedStore{})
	if _, _, err := c.Read(context.Background(), ""); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestNewClientPanicsOnNilStore(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewClient(nil)
}

func TestJoinAndParent(t *testing.T) {
	if got := Join("usernames", "", "/@alice/"); got != "usernames/@alice" {
		t.Fatalf("unexpected join: %q", got)
	}
	parent, leaf := Parent("reservations/alice/01H")
	if parent != "reservations/alice" || leaf != "01H" {
		t.Fatalf("unexpected parent split: %q %q", parent, leaf)
	}
	if AliasPath("alice") != "~@alice" || AccountPath("P") != "~P" {
		t.Fatal("unexpected user-space paths")
	}
}
