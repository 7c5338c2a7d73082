// internal/datastore/datastore.go
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
)

// metaTable records the typed schema of every user table.
const metaTable = "data_store_tables"

const tableCacheSize = 128

var (
	ErrTableNotFound  = errors.New("data store table not found")
	ErrTableExists    = errors.New("data store table already exists")
	ErrColumnNotFound = errors.New("column not found")
	ErrRowNotFound    = errors.New("row not found")
	ErrInvalidSchema  = errors.New("invalid table schema")
)

// Store keeps typed tables in a SQLite compatible database. Every write is
// a single statement.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	tables *lru.Cache[string, schemas.DataStoreTable]
}

// Open connects to the database named by cfg.DSN. libsql://, http:// and
// https:// DSNs use the libsql client, anything else is a local SQLite file.
func Open(ctx context.Context, cfg config.DataStoreConfig, logger *zap.Logger) (*Store, error) {
	driver, dsn, err := driverFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer; ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info("Data store opened.", zap.String("driver", driver))
	return s, nil
}

func driverFor(cfg config.DataStoreConfig) (string, string, error) {
	dsn := cfg.DSN
	if dsn == "" {
		return "", "", errors.New("datastore.dsn is empty")
	}
	for _, prefix := range []string{"libsql://", "http://", "https://"} {
		if !strings.HasPrefix(dsn, prefix) {
			continue
		}
		if cfg.AuthToken == "" {
			return "libsql", dsn, nil
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("invalid libsql dsn: %w", err)
		}
		q := u.Query()
		q.Set("authToken", cfg.AuthToken)
		u.RawQuery = q.Encode()
		return "libsql", u.String(), nil
	}
	return "sqlite", dsn, nil
}

// New wraps an open database and creates the metadata table.
func New(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping data store: %w", err)
	}
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+metaTable+` (
		name TEXT PRIMARY KEY,
		columns TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}
	cache, err := lru.New[string, schemas.DataStoreTable](tableCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: logger.Named("datastore"), tables: cache}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// quoteIdent quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
