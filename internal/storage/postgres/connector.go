// Package postgres provides a PostgreSQL-backed connector store for
// deployments that already run a shared database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig returns the default pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// ConnectorStore persists connector identities in the connectors table.
type ConnectorStore struct {
	pool *pgxpool.Pool
}

// NewConnectorStore connects, verifies the database and creates the schema.
func NewConnectorStore(ctx context.Context, databaseURL string, pc PoolConfig) (*ConnectorStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if pc.MaxConns > 0 {
		config.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		config.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		config.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &ConnectorStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *ConnectorStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS connectors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		features TEXT[] NOT NULL DEFAULT '{}',
		last_seen BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_connectors_owner_id ON connectors(owner_id);
	CREATE INDEX IF NOT EXISTS idx_connectors_status ON connectors(status);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Ping checks database connectivity.
func (s *ConnectorStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *ConnectorStore) Close() error {
	s.pool.Close()
	return nil
}

const selectColumns = `id, name, type, owner_id, status, features, last_seen, created_at, updated_at`

// Get returns the connector with id or domain.ErrConnectorNotFound.
func (s *ConnectorStore) Get(ctx context.Context, id string) (*domain.Connector, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM connectors WHERE id = $1`, id)

	c, err := scanConnector(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConnectorNotFound.WithDetails(id)
	}
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return c, nil
}

// Create inserts a new connector.
func (s *ConnectorStore) Create(ctx context.Context, c *domain.Connector) error {
	if err := c.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO connectors (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Name, string(c.Type), c.OwnerID, string(c.Status), features(c),
		c.LastSeen, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectorConflict.WithDetails(c.ID)
	}
	return nil
}

// Update overwrites an existing connector.
func (s *ConnectorStore) Update(ctx context.Context, c *domain.Connector) error {
	if err := c.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE connectors
		SET name = $2, type = $3, owner_id = $4, status = $5, features = $6,
		    last_seen = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.Name, string(c.Type), c.OwnerID, string(c.Status), features(c),
		c.LastSeen, c.UpdatedAt)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectorNotFound.WithDetails(c.ID)
	}
	return nil
}

// Delete physically removes a connector.
func (s *ConnectorStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectorNotFound.WithDetails(id)
	}
	return nil
}

// List returns connectors matching filter, ordered by id.
func (s *ConnectorStore) List(ctx context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error) {
	query, args := buildListQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	defer rows.Close()

	var out []*domain.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, domain.ErrStorageError.WithCause(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return out, nil
}

func buildListQuery(filter domain.ConnectorFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM connectors`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	return query + ` ORDER BY id`, args
}

func scanConnector(row pgx.Row) (*domain.Connector, error) {
	var (
		c            domain.Connector
		typ, status  string
		featureSlice []string
	)
	err := row.Scan(&c.ID, &c.Name, &typ, &c.OwnerID, &status, &featureSlice,
		&c.LastSeen, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = domain.ConnectorType(typ)
	c.Status = domain.ConnectorStatus(status)
	if len(featureSlice) > 0 {
		c.Features = featureSlice
	}
	return &c, nil
}

func features(c *domain.Connector) []string {
	if c.Features == nil {
		return []string{}
	}
	return c.Features
}
