package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"argo-workflows-mcp/backend/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id                       TEXT PRIMARY KEY,
	name                     TEXT NOT NULL UNIQUE,
	base_url                 TEXT NOT NULL,
	default_namespace        TEXT NOT NULL DEFAULT 'default',
	auth_type                TEXT NOT NULL DEFAULT 'none',
	bearer_token             TEXT NOT NULL DEFAULT '',
	username                 TEXT NOT NULL DEFAULT '',
	password                 TEXT NOT NULL DEFAULT '',
	insecure_skip_tls_verify BOOLEAN NOT NULL DEFAULT FALSE,
	tls_server_name          TEXT NOT NULL DEFAULT '',
	request_timeout_seconds  BIGINT NOT NULL DEFAULT 30,
	is_active                BOOLEAN NOT NULL DEFAULT FALSE,
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS connections_single_active ON connections (is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             TEXT PRIMARY KEY,
	tool_name      TEXT NOT NULL,
	arguments      TEXT NOT NULL,
	status         TEXT NOT NULL,
	result_summary TEXT NOT NULL,
	duration_ms    BIGINT NOT NULL,
	executed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_executed_at ON audit_log (executed_at DESC);
`

const connectionColumns = `id, name, base_url, default_namespace, auth_type, bearer_token, username, password,
	insecure_skip_tls_verify, tls_server_name, request_timeout_seconds, is_active, created_at, updated_at`

// PostgresStore is a PostgreSQL implementation of Repository.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Repository = (*PostgresStore)(nil)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	now := timestamp()
	for key, value := range models.DefaultSettings {
		_, err := s.db.Exec(ctx,
			"INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING",
			key, value, now)
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresConnection(row rowScanner) (*models.Connection, error) {
	var c models.Connection
	var authType string
	err := row.Scan(&c.ID, &c.Name, &c.BaseURL, &c.DefaultNamespace, &authType, &c.BearerToken, &c.Username, &c.Password,
		&c.InsecureSkipTLSVerify, &c.TLSServerName, &c.RequestTimeoutSeconds, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.AuthType = models.AuthType(authType)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := s.db.Query(ctx, "SELECT "+connectionColumns+" FROM connections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		c, err := scanPostgresConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *PostgresStore) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	return scanPostgresConnection(s.db.QueryRow(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = $1", id))
}

func (s *PostgresStore) GetActiveConnection(ctx context.Context) (*models.Connection, error) {
	return scanPostgresConnection(s.db.QueryRow(ctx, "SELECT "+connectionColumns+" FROM connections WHERE is_active LIMIT 1"))
}

func (s *PostgresStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	conn.Normalize()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := timestamp()
	conn.CreatedAt, conn.UpdatedAt = now, now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if conn.IsActive {
		if _, err := tx.Exec(ctx, "UPDATE connections SET is_active = FALSE WHERE is_active"); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, "INSERT INTO connections ("+connectionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		conn.ID, conn.Name, conn.BaseURL, conn.DefaultNamespace, string(conn.AuthType), conn.BearerToken, conn.Username, conn.Password,
		conn.InsecureSkipTLSVerify, conn.TLSServerName, conn.RequestTimeoutSeconds, conn.IsActive, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return postgresError(err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	conn.Normalize()
	conn.UpdatedAt = timestamp()
	tag, err := s.db.Exec(ctx, `UPDATE connections SET
		name = $2, base_url = $3, default_namespace = $4, auth_type = $5, bearer_token = $6, username = $7, password = $8,
		insecure_skip_tls_verify = $9, tls_server_name = $10, request_timeout_seconds = $11, updated_at = $12
		WHERE id = $1`,
		conn.ID, conn.Name, conn.BaseURL, conn.DefaultNamespace, string(conn.AuthType), conn.BearerToken, conn.Username, conn.Password,
		conn.InsecureSkipTLSVerify, conn.TLSServerName, conn.RequestTimeoutSeconds, conn.UpdatedAt)
	if err != nil {
		return postgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM connections WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActivateConnection(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "UPDATE connections SET is_active = FALSE WHERE is_active AND id <> $1", id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, "UPDATE connections SET is_active = TRUE WHERE id = $1", id)
	if err != nil {
		return postgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
		key, value, timestamp())
	return err
}

func (s *PostgresStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = timestamp()
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO audit_log (id, tool_name, arguments, status, result_summary, duration_ms, executed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		rec.ID, rec.ToolName, rec.Arguments, string(rec.Status), rec.ResultSummary, rec.DurationMs, rec.ExecutedAt)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, offset, limit int) ([]*models.AuditRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, tool_name, arguments, status, result_summary, duration_ms, executed_at FROM audit_log ORDER BY executed_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.ToolName, &rec.Arguments, &status, &rec.ResultSummary, &rec.DurationMs, &rec.ExecutedAt); err != nil {
			return nil, err
		}
		rec.Status = models.AuditStatus(status)
		rec.ExecutedAt = rec.ExecutedAt.UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CountAudit(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n)
	return n, err
}

func postgresError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return err
}

// timestamp is the current time at the precision both databases store.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
