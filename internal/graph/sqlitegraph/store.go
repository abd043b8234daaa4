// Package sqlitegraph is a single-node, durable graph store over SQLite.
// Every field of a node is one row, so writes merge the way replicated
// stores merge concurrent field updates.
package sqlitegraph

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/graph/sqlitegraph/migrations"
	"graphauth/go-backend/internal/graph/userspace"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const defaultOpTimeout = 5 * time.Second

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithUserSpaceOptions(opts ...userspace.Option) Option {
	return func(s *Store) { s.userOpts = append(s.userOpts, opts...) }
}

type Store struct {
	sqlDB    *sql.DB
	logger   *slog.Logger
	userOpts []userspace.Option
	user     *userspace.Space
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	entropyMu sync.Mutex
	entropy   io.Reader
}

var _ graph.Store = (*Store)(nil)

// Open opens the store file, or an in-memory database for ":memory:", and
// applies bundled migrations.
func Open(path string, provider crypto.Provider, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		sqlDB:   sqlDB,
		logger:  slog.Default(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.user = userspace.New(s, provider, s.userOpts...)
	return s, nil
}

// Close waits for pending callbacks and releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	return s.sqlDB.Close()
}

func (s *Store) User() graph.User {
	return s.user
}

func (s *Store) Put(path string, node graph.Node, ack func(error)) {
	path = strings.Trim(path, "/")
	node = node.Clone()
	s.async(func(ctx context.Context) {
		err := s.put(ctx, path, node)
		if ack != nil {
			ack(storageErr(err))
		}
	}, func(err error) {
		if ack != nil {
			ack(storageErr(err))
		}
	})
}

func (s *Store) Set(path string, node graph.Node, ack func(string, error)) {
	path = strings.Trim(path, "/")
	node = node.Clone()
	s.async(func(ctx context.Context) {
		key := s.newKey()
		err := s.put(ctx, graph.Join(path, key), node)
		if err != nil {
			key = ""
		}
		if ack != nil {
			ack(key, storageErr(err))
		}
	}, func(err error) {
		if ack != nil {
			ack("", storageErr(err))
		}
	})
}

func (s *Store) Once(path string, cb func(graph.Node, bool)) {
	path = strings.Trim(path, "/")
	s.async(func(ctx context.Context) {
		node, err := s.read(ctx, path)
		if err != nil {
			// A failed read behaves like an unresponsive replica.
			s.logger.Warn("graph read failed", "component", "graph.sqlite", "path", path, "error", err)
			return
		}
		cb(node, node != nil)
	}, func(error) {})
}

func (s *Store) Map(path string, each func(string, graph.Node), done func(error)) {
	path = strings.Trim(path, "/")
	s.async(func(ctx context.Context) {
		children, order, err := s.children(ctx, path)
		if err == nil {
			for _, key := range order {
				each(key, children[key])
			}
		}
		if done != nil {
			done(storageErr(err))
		}
	}, func(err error) {
		if done != nil {
			done(storageErr(err))
		}
	})
}

// storageErr tags database failures with the storage category.
func storageErr(err error) error {
	return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
}

func (s *Store) async(run func(ctx context.Context), fail func(error)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		go fail(graph.ErrStoreClosed)
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
		defer cancel()
		run(ctx)
	}()
}

func (s *Store) put(ctx context.Context, path string, node graph.Node) error {
	if path == "" {
		return graph.ErrInvalidPath
	}
	parent, leaf := graph.Parent(path)
	now := time.Now().UTC().UnixMilli()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for field, value := range node {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM graph_fields WHERE path = ? AND field = ?`, path, field); err != nil {
				return fmt.Errorf("delete field %s: %w", field, err)
			}
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", field, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO graph_fields (path, parent, leaf, field, value, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			path, parent, leaf, field, string(encoded), now,
		); err != nil {
			return fmt.Errorf("upsert field %s: %w", field, err)
		}
	}
	return tx.Commit()
}

func (s *Store) read(ctx context.Context, path string) (graph.Node, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT field, value FROM graph_fields WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var node graph.Node
	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		if node == nil {
			node = graph.Node{}
		}
		node[field] = value
	}
	return node, rows.Err()
}

func (s *Store) children(ctx context.Context, parent string) (map[string]graph.Node, []string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT leaf, field, value FROM graph_fields WHERE parent = ? ORDER BY leaf, field`, parent)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	out := map[string]graph.Node{}
	var order []string
	for rows.Next() {
		var leaf, field, raw string
		if err := rows.Scan(&leaf, &field, &raw); err != nil {
			return nil, nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		node, ok := out[leaf]
		if !ok {
			node = graph.Node{}
			out[leaf] = node
			order = append(order, leaf)
		}
		node[field] = value
	}
	return out, order, rows.Err()
}

func (s *Store) newKey() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}
