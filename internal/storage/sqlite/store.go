// Package sqlite implements the storage contract on SQLite.
//
// Layout:
//   - store.go: Store struct, New() constructor, connection setup
//   - schema.go: schema with the full invariant set as constraints
//   - transaction.go: RunInTransaction and the Tx implementation
//   - tasks.go, transitions.go, deliverables.go, dependencies.go: queries
//   - errors.go: constraint -> error kind translation
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	// SQLite driver (pure Go, wazero-compiled)
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// Store implements storage.Store on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded
// SQLite build is compiled once per machine instead of on every process
// start. Falls back to an in-memory cache when the cache dir is not
// writable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		if c, cerr := wazero.NewCompilationCacheWithDir(filepath.Join(userCache, "shopfloor", "wasm")); cerr == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func New(ctx context.Context, path string) (*Store, error) {
	var connStr string
	switch {
	case path == ":memory:":
		// Private in-memory database per connection would split the pool;
		// use a shared named memdb so every pooled connection sees the
		// same data.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	default:
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Path returns the database path this store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
