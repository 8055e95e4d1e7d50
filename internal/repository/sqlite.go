package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"argo-workflows-mcp/backend/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id                       TEXT PRIMARY KEY,
	name                     TEXT NOT NULL UNIQUE,
	base_url                 TEXT NOT NULL,
	default_namespace        TEXT NOT NULL DEFAULT 'default',
	auth_type                TEXT NOT NULL DEFAULT 'none',
	bearer_token             TEXT NOT NULL DEFAULT '',
	username                 TEXT NOT NULL DEFAULT '',
	password                 TEXT NOT NULL DEFAULT '',
	insecure_skip_tls_verify INTEGER NOT NULL DEFAULT 0,
	tls_server_name          TEXT NOT NULL DEFAULT '',
	request_timeout_seconds  INTEGER NOT NULL DEFAULT 30,
	is_active                INTEGER NOT NULL DEFAULT 0,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS connections_single_active ON connections (is_active) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             TEXT PRIMARY KEY,
	tool_name      TEXT NOT NULL,
	arguments      TEXT NOT NULL,
	status         TEXT NOT NULL,
	result_summary TEXT NOT NULL,
	duration_ms    INTEGER NOT NULL,
	executed_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_executed_at ON audit_log (executed_at DESC);
`

// sqliteTime is the stored text form. Fixed-width nanoseconds keep
// lexical and chronological order identical.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite implementation of Repository. It uses a single
// connection so writes are serialized by database/sql.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	now := formatSQLiteTime(timestamp())
	for key, value := range models.DefaultSettings {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING",
			key, value, now)
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

func scanSQLiteConnection(row rowScanner) (*models.Connection, error) {
	var c models.Connection
	var authType, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &c.BaseURL, &c.DefaultNamespace, &authType, &c.BearerToken, &c.Username, &c.Password,
		&c.InsecureSkipTLSVerify, &c.TLSServerName, &c.RequestTimeoutSeconds, &c.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.AuthType = models.AuthType(authType)
	if c.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+connectionColumns+" FROM connections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		c, err := scanSQLiteConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	return scanSQLiteConnection(s.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = ?", id))
}

func (s *SQLiteStore) GetActiveConnection(ctx context.Context) (*models.Connection, error) {
	return scanSQLiteConnection(s.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE is_active = 1 LIMIT 1"))
}

func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	conn.Normalize()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := timestamp()
	conn.CreatedAt, conn.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if conn.IsActive {
		if _, err := tx.ExecContext(ctx, "UPDATE connections SET is_active = 0 WHERE is_active = 1"); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO connections ("+connectionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		conn.ID, conn.Name, conn.BaseURL, conn.DefaultNamespace, string(conn.AuthType), conn.BearerToken, conn.Username, conn.Password,
		conn.InsecureSkipTLSVerify, conn.TLSServerName, conn.RequestTimeoutSeconds, conn.IsActive,
		formatSQLiteTime(conn.CreatedAt), formatSQLiteTime(conn.UpdatedAt))
	if err != nil {
		return sqliteError(err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	conn.Normalize()
	conn.UpdatedAt = timestamp()
	res, err := s.db.ExecContext(ctx, `UPDATE connections SET
		name = ?, base_url = ?, default_namespace = ?, auth_type = ?, bearer_token = ?, username = ?, password = ?,
		insecure_skip_tls_verify = ?, tls_server_name = ?, request_timeout_seconds = ?, updated_at = ?
		WHERE id = ?`,
		conn.Name, conn.BaseURL, conn.DefaultNamespace, string(conn.AuthType), conn.BearerToken, conn.Username, conn.Password,
		conn.InsecureSkipTLSVerify, conn.TLSServerName, conn.RequestTimeoutSeconds, formatSQLiteTime(conn.UpdatedAt), conn.ID)
	if err != nil {
		return sqliteError(err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteStore) ActivateConnection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "UPDATE connections SET is_active = 0 WHERE is_active = 1 AND id <> ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "UPDATE connections SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return sqliteError(err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, formatSQLiteTime(timestamp()))
	return err
}

func (s *SQLiteStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
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

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = timestamp()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log (id, tool_name, arguments, status, result_summary, duration_ms, executed_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.ToolName, rec.Arguments, string(rec.Status), rec.ResultSummary, rec.DurationMs, formatSQLiteTime(rec.ExecutedAt))
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, offset, limit int) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tool_name, arguments, status, result_summary, duration_ms, executed_at FROM audit_log ORDER BY executed_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var status, executedAt string
		if err := rows.Scan(&rec.ID, &rec.ToolName, &rec.Arguments, &status, &rec.ResultSummary, &rec.DurationMs, &executedAt); err != nil {
			return nil, err
		}
		rec.Status = models.AuditStatus(status)
		if rec.ExecutedAt, err = parseSQLiteTime(executedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CountAudit(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n)
	return n, err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sqliteError(err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		code := sqlErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code&0xff == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%w: %s", ErrConflict, sqlErr.Error())
		}
	}
	return err
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
