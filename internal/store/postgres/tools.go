// Package postgres provides the Postgres-backed tool store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolhub/shotpipe/internal/capture"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for tool rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ToolStore reads the capture worklist from the tools table and writes the
// screenshots URL-list column back.
type ToolStore struct {
	pool  dbConn
	table string
}

// NewToolStore creates a Postgres-backed ToolStore using the provided config.
func NewToolStore(ctx context.Context, cfg Config) (*ToolStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "tools"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ToolStore{pool: pool, table: table}, nil
}

// NewToolStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewToolStoreWithPool(pool dbConn, table string) (*ToolStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tools"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ToolStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ToolStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ListTargets returns published tools with a non-empty website URL,
// ordered by id for stable batch runs. limit <= 0 returns all rows.
func (s *ToolStore) ListTargets(ctx context.Context, limit int) ([]capture.Target, error) {
	query := fmt.Sprintf(
		`SELECT id, website_url FROM %s WHERE published = TRUE AND website_url <> '' ORDER BY id`,
		s.table,
	)
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []capture.Target
	for rows.Next() {
		var t capture.Target
		if err := rows.Scan(&t.ToolID, &t.URL); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target rows: %w", err)
	}
	return targets, nil
}

// GetTarget returns a single tool's capture target by id.
func (s *ToolStore) GetTarget(ctx context.Context, toolID string) (capture.Target, error) {
	query := fmt.Sprintf(`SELECT id, website_url FROM %s WHERE id = $1`, s.table)
	var t capture.Target
	if err := s.pool.QueryRow(ctx, query, toolID).Scan(&t.ToolID, &t.URL); err != nil {
		return capture.Target{}, fmt.Errorf("get target %s: %w", toolID, err)
	}
	return t, nil
}

// UpdateScreenshots overwrites the screenshots column for a tool in a
// single update.
func (s *ToolStore) UpdateScreenshots(ctx context.Context, toolID string, urls []string) error {
	payload, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("marshal screenshot urls: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET screenshots = $1, updated_at = NOW() WHERE id = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, payload, toolID)
	if err != nil {
		return fmt.Errorf("update screenshots for %s: %w", toolID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tool %s not found", toolID)
	}
	return nil
}
