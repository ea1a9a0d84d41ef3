// Package sql implements storage.Adapter on top of database/sql, with
// dialect-specific DDL/upsert statements for Postgres, MySQL, and
// SQLite — the three dialects spec.md §6 names for the persisted-state
// layout: a single table (key PRIMARY KEY, version BIGINT NOT NULL,
// hash VARCHAR(64) NOT NULL, updated_at BIGINT NOT NULL) plus an index
// on version for ListChangedSince.
//
// IncrementVersion runs inside a REPEATABLE READ transaction doing a
// SELECT-MAX followed by an upsert, exactly as spec.md §4.1 requires;
// on a serialization failure (two coordinators racing the same table)
// it retries a bounded number of times with jittered backoff rather
// than surfacing a spurious conflict to the caller.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"reality-mesh/internal/storage"
)

// Dialect identifies which SQL backend New connects to.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// driverName maps a Dialect to the database/sql driver registered by the
// blank-imported packages above.
func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	default:
		return string(d)
	}
}

// Adapter is a storage.Adapter backed by a SQL database.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// Open connects to dsn using dialect and ensures the backing table
// exists. tableName defaults to "reality_nodes" when empty.
func Open(ctx context.Context, dialect Dialect, dsn, tableName string) (*Adapter, error) {
	if tableName == "" {
		tableName = "reality_nodes"
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	a := &Adapter{db: db, dialect: dialect, table: tableName}
	if err := a.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureSchema(ctx context.Context) error {
	var ddl string
	switch a.dialect {
	case Postgres:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			hash VARCHAR(64) NOT NULL,
			updated_at BIGINT NOT NULL
		)`, a.table)
	case MySQL:
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"`key` VARCHAR(255) PRIMARY KEY, "+
			"version BIGINT NOT NULL, "+
			"hash VARCHAR(64) NOT NULL, "+
			"updated_at BIGINT NOT NULL)", a.table)
	case SQLite:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			hash TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`, a.table)
	default:
		return fmt.Errorf("unsupported dialect %q", a.dialect)
	}
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_version ON %s (version)", a.table, a.table)
	if _, err := a.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create version index: %w", err)
	}
	return nil
}

func (a *Adapter) keyCol() string {
	if a.dialect == MySQL {
		return "`key`"
	}
	return "key"
}

func (a *Adapter) GetNode(ctx context.Context, key string) (*storage.NodeMeta, error) {
	query := fmt.Sprintf("SELECT %s, version, hash, updated_at FROM %s WHERE %s = %s",
		a.keyCol(), a.table, a.keyCol(), a.placeholder(1))

	var n storage.NodeMeta
	err := a.db.QueryRowContext(ctx, query, key).Scan(&n.Key, &n.Version, &n.Hash, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (a *Adapter) GetNodes(ctx context.Context, keys []string) (map[string]storage.NodeMeta, error) {
	out := make(map[string]storage.NodeMeta, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = a.placeholder(i + 1)
		args[i] = k
	}
	query := fmt.Sprintf("SELECT %s, version, hash, updated_at FROM %s WHERE %s IN (%s)",
		a.keyCol(), a.table, a.keyCol(), strings.Join(placeholders, ","))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var n storage.NodeMeta
		if err := rows.Scan(&n.Key, &n.Version, &n.Hash, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out[n.Key] = n
	}
	return out, rows.Err()
}

func (a *Adapter) SetNode(ctx context.Context, meta storage.NodeMeta) error {
	query := a.upsertQuery()
	_, err := a.db.ExecContext(ctx, query, meta.Key, meta.Version, meta.Hash, meta.UpdatedAt)
	return err
}

// IncrementVersion implements the atomic MAX(version)+1 upsert described
// in spec.md §4.1, with bounded retry on serialization conflicts.
func (a *Adapter) IncrementVersion(ctx context.Context, key, hash string) (storage.NodeMeta, error) {
	const maxAttempts = 5

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Intn(20)) * time.Millisecond
			time.Sleep(time.Duration(attempt)*10*time.Millisecond + jitter)
		}

		meta, err := a.tryIncrementVersion(ctx, key, hash)
		if err == nil {
			return meta, nil
		}
		if !isSerializationFailure(err) {
			return storage.NodeMeta{}, err
		}
		lastErr = err
	}
	return storage.NodeMeta{}, fmt.Errorf("increment version: exhausted retries: %w", lastErr)
}

func (a *Adapter) tryIncrementVersion(ctx context.Context, key, hash string) (storage.NodeMeta, error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return storage.NodeMeta{}, err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(version) FROM %s", a.table))
	if err := row.Scan(&maxVersion); err != nil {
		return storage.NodeMeta{}, err
	}

	newVersion := maxVersion.Int64 + 1
	now := time.Now().UnixMilli()

	upsert := a.upsertQuery()
	if _, err := tx.ExecContext(ctx, upsert, key, newVersion, hash, now); err != nil {
		return storage.NodeMeta{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.NodeMeta{}, err
	}

	return storage.NodeMeta{Key: key, Version: newVersion, Hash: hash, UpdatedAt: now}, nil
}

func (a *Adapter) upsertQuery() string {
	switch a.dialect {
	case Postgres:
		return fmt.Sprintf(`INSERT INTO %s (key, version, hash, updated_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (key) DO UPDATE SET version = EXCLUDED.version, hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at`, a.table)
	case MySQL:
		return fmt.Sprintf("INSERT INTO %s (`key`, version, hash, updated_at) VALUES (?,?,?,?) "+
			"ON DUPLICATE KEY UPDATE version = VALUES(version), hash = VALUES(hash), updated_at = VALUES(updated_at)", a.table)
	case SQLite:
		return fmt.Sprintf("INSERT OR REPLACE INTO %s (key, version, hash, updated_at) VALUES (?,?,?,?)", a.table)
	default:
		return ""
	}
}

func (a *Adapter) placeholder(n int) string {
	if a.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (a *Adapter) ListChangedSince(ctx context.Context, v int64) ([]storage.NodeMeta, error) {
	query := fmt.Sprintf("SELECT %s, version, hash, updated_at FROM %s WHERE version > %s ORDER BY version ASC",
		a.keyCol(), a.table, a.placeholder(1))

	rows, err := a.db.QueryContext(ctx, query, v)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]storage.NodeMeta, 0)
	for rows.Next() {
		var n storage.NodeMeta
		if err := rows.Scan(&n.Key, &n.Version, &n.Hash, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (a *Adapter) GetMaxVersion(ctx context.Context) (int64, error) {
	var maxVersion sql.NullInt64
	row := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(version) FROM %s", a.table))
	if err := row.Scan(&maxVersion); err != nil {
		return 0, err
	}
	return maxVersion.Int64, nil
}

func (a *Adapter) DeleteNode(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", a.table, a.keyCol(), a.placeholder(1))
	_, err := a.db.ExecContext(ctx, query, key)
	return err
}

func (a *Adapter) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx) == nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

// isSerializationFailure is a best-effort check across dialects; each
// driver surfaces retryable conflicts differently (Postgres: SQLSTATE
// 40001/40P01, MySQL: error 1213, SQLite: "database is locked"). We
// match on substrings rather than importing each driver's error types,
// since only one dialect is ever linked into a given deployment but all
// three are compiled into this package.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"could not serialize", "deadlock detected", "Deadlock found", "database is locked", "SQLSTATE 40001", "SQLSTATE 40P01"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
