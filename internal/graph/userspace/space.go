// Package userspace implements the graph store's user-authentication
// primitive on top of raw graph operations and a crypto provider.
//
// An account is a pair of nodes: ~@<alias> lists the public keys claiming the
// alias and ~<pub> holds the account record whose auth field is the keypair
// encrypted under a password proof. Nothing prevents two accounts from
// claiming the same alias; callers that need uniqueness layer it on top.
package userspace

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/graph"

	"github.com/mr-tron/base58/base58"
)

const (
	defaultTimeout = 5 * time.Second
	saltSize       = 16
	pairChallenge  = "graphauth/userspace/pair/v1"
)

type Option func(*Space)

// WithWork sets the password proof function.
func WithWork(opts crypto.WorkOptions) Option {
	return func(s *Space) {
		if strings.TrimSpace(opts.Name) != "" {
			s.work = opts
		}
	}
}

// WithTimeout bounds every graph read or write made on behalf of one call.
func WithTimeout(d time.Duration) Option {
	return func(s *Space) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Space) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Space is bound to one store handle and holds at most one authenticated user.
type Space struct {
	client   *graph.Client
	provider crypto.Provider
	work     crypto.WorkOptions
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	current   *graph.AuthAck
	recall    graph.RecallOptions
	listeners map[uint64]func(graph.AuthAck)
	nextID    uint64
}

var _ graph.User = (*Space)(nil)

func New(prims graph.Primitives, provider crypto.Provider, opts ...Option) *Space {
	if prims == nil {
		panic("userspace: nil primitives")
	}
	if provider == nil {
		panic("userspace: nil crypto provider")
	}
	s := &Space{
		client:    graph.NewPrimitiveClient(prims),
		provider:  provider,
		work:      crypto.WorkOptions{Name: crypto.WorkArgon2id},
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		listeners: make(map[uint64]func(graph.AuthAck)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type accountRecord struct {
	alias string
	pub   string
	epub  string
	auth  string
	salt  string
}

func (s *Space) Create(alias, password string, pair *crypto.Keypair, ack func(graph.AuthAck)) {
	go func() {
		res, err := s.create(alias, password, pair)
		res.Err = err
		if ack != nil {
			ack(res)
		}
	}()
}

func (s *Space) create(alias, password string, pair *crypto.Keypair) (graph.AuthAck, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return graph.AuthAck{}, graph.ErrAliasMissing
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	existing, found, err := s.client.Read(ctx, graph.AliasPath(alias))
	if err != nil && !errors.Is(err, graph.ErrTimeout) {
		return graph.AuthAck{}, err
	}
	if found && len(claimedPubs(existing)) > 0 {
		return graph.AuthAck{}, graph.ErrUserExists
	}

	var keys crypto.Keypair
	if pair != nil {
		if !pair.Complete() {
			return graph.AuthAck{}, graph.ErrInvalidPair
		}
		keys = *pair
	} else {
		keys, err = s.provider.Pair(nil)
		if err != nil {
			return graph.AuthAck{}, cryptoErr(err)
		}
	}

	salt, err := newSalt()
	if err != nil {
		return graph.AuthAck{}, cryptoErr(err)
	}
	proof, err := s.provider.Work(password, salt, s.work)
	if err != nil {
		return graph.AuthAck{}, cryptoErr(err)
	}
	blob, err := json.Marshal(keys)
	if err != nil {
		return graph.AuthAck{}, cryptoErr(err)
	}
	auth, err := s.provider.Encrypt(blob, proof)
	if err != nil {
		return graph.AuthAck{}, cryptoErr(err)
	}

	if err := s.client.Write(ctx, graph.AccountPath(keys.Pub), graph.Node{
		"alias": alias,
		"pub":   keys.Pub,
		"epub":  keys.EPub,
		"auth":  auth,
		"salt":  salt,
	}); err != nil {
		return graph.AuthAck{}, fmt.Errorf("write account: %w", err)
	}
	if err := s.client.Write(ctx, graph.AliasPath(alias), graph.Node{
		graph.AccountPath(keys.Pub): keys.Pub,
	}); err != nil {
		return graph.AuthAck{}, fmt.Errorf("write alias: %w", err)
	}
	return graph.AuthAck{Alias: alias, Pub: keys.Pub, Pair: keys.Public()}, nil
}

func (s *Space) Auth(creds graph.Credentials, ack func(graph.AuthAck)) {
	go func() {
		var (
			res graph.AuthAck
			err error
		)
		if creds.Pair != nil {
			res, err = s.authPair(creds.Alias, *creds.Pair)
		} else {
			res, err = s.authPassword(creds.Alias, creds.Password)
		}
		if err == nil {
			s.bind(res)
		}
		res.Err = err
		if ack != nil {
			ack(res)
		}
	}()
}

func (s *Space) authPair(alias string, pair crypto.Keypair) (graph.AuthAck, error) {
	if !pair.Complete() {
		return graph.AuthAck{}, graph.ErrInvalidPair
	}
	sig, err := s.provider.Sign([]byte(pairChallenge), pair)
	if err != nil || !s.provider.Verify([]byte(pairChallenge), sig, pair.Pub) {
		return graph.AuthAck{}, graph.ErrInvalidPair
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if node, found, err := s.client.Read(ctx, graph.AccountPath(pair.Pub)); err == nil && found {
			alias = node.String("alias")
		}
	}
	return graph.AuthAck{Alias: alias, Pub: pair.Pub, Pair: pair}, nil
}

func (s *Space) authPassword(alias, password string) (graph.AuthAck, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return graph.AuthAck{}, graph.ErrAliasMissing
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	node, found, err := s.client.Read(ctx, graph.AliasPath(alias))
	if err != nil {
		if errors.Is(err, graph.ErrTimeout) {
			return graph.AuthAck{}, graph.ErrWrongUser
		}
		return graph.AuthAck{}, err
	}
	if !found {
		return graph.AuthAck{}, graph.ErrWrongUser
	}
	for _, pub := range claimedPubs(node) {
		account, ok, err := s.client.Read(ctx, graph.AccountPath(pub))
		if err != nil || !ok {
			continue
		}
		pair, err := s.openAccount(recordFromNode(account), password)
		if err != nil || pair.Pub != pub {
			s.logger.Debug("account candidate rejected", "component", "graph.userspace", "pub", pub)
			continue
		}
		return graph.AuthAck{Alias: alias, Pub: pub, Pair: pair}, nil
	}
	return graph.AuthAck{}, graph.ErrWrongUser
}

func (s *Space) openAccount(rec accountRecord, password string) (crypto.Keypair, error) {
	if rec.auth == "" {
		return crypto.Keypair{}, graph.ErrWrongUser
	}
	proof, err := s.provider.Work(password, rec.salt, s.work)
	if err != nil {
		return crypto.Keypair{}, err
	}
	plain, err := s.provider.Decrypt(rec.auth, proof)
	if err != nil {
		return crypto.Keypair{}, graph.ErrWrongUser
	}
	var pair crypto.Keypair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return crypto.Keypair{}, graph.ErrWrongUser
	}
	if !pair.Complete() {
		return crypto.Keypair{}, graph.ErrWrongUser
	}
	return pair, nil
}

func (s *Space) bind(ack graph.AuthAck) {
	s.mu.Lock()
	current := ack
	s.current = &current
	listeners := make([]func(graph.AuthAck), 0, len(s.listeners))
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, cb := range listeners {
		cb(ack)
	}
}

func (s *Space) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Recall records how the host wants sessions remembered. Persistence itself
// is owned by the session codec, so the options are only reported back.
func (s *Space) Recall(opts graph.RecallOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recall = opts
}

func (s *Space) RecallOptions() graph.RecallOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recall
}

func (s *Space) On(event string, cb func(graph.AuthAck)) func() {
	if event != graph.EventAuth || cb == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Space) Is() (graph.AuthAck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return graph.AuthAck{}, false
	}
	return *s.current, true
}

// claimedPubs lists the public keys referenced by an alias node in stable order.
func claimedPubs(node graph.Node) []string {
	pubs := make([]string, 0, len(node))
	for key := range node {
		if strings.HasPrefix(key, "~") && len(key) > 1 {
			pubs = append(pubs, strings.TrimPrefix(key, "~"))
		}
	}
	sort.Strings(pubs)
	return pubs
}

// cryptoErr tags key generation and sealing failures with the crypto category.
func cryptoErr(err error) error {
	return contracts.WrapCategorizedError(contracts.ErrorCategoryCrypto, err)
}

func recordFromNode(node graph.Node) accountRecord {
	return accountRecord{
		alias: node.String("alias"),
		pub:   node.String("pub"),
		epub:  node.String("epub"),
		auth:  node.String("auth"),
		salt:  node.String("salt"),
	}
}

func newSalt() (string, error) {
	buf := make([]byte, saltSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}
