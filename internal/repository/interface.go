package repository

import (
	"context"
	"errors"

	"argo-workflows-mcp/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist. GetActiveConnection
	// returns it when no connection is active.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("repository: conflict")
)

// ConnectionStore persists Argo connections.
type ConnectionStore interface {
	ListConnections(ctx context.Context) ([]*models.Connection, error)
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	// GetActiveConnection returns the single active connection.
	GetActiveConnection(ctx context.Context) (*models.Connection, error)
	// CreateConnection assigns ID and timestamps. The new connection is
	// inactive unless conn.IsActive is set, in which case it is activated.
	CreateConnection(ctx context.Context, conn *models.Connection) error
	// UpdateConnection replaces the editable fields and bumps UpdatedAt.
	UpdateConnection(ctx context.Context, conn *models.Connection) error
	DeleteConnection(ctx context.Context, id string) error
	// ActivateConnection marks id active and every other connection
	// inactive in one transaction.
	ActivateConnection(ctx context.Context, id string) error
}

// SettingsStore persists string settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// AuditStore is the append-only tool invocation trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, record *models.AuditRecord) error
	// ListAudit returns records newest first.
	ListAudit(ctx context.Context, offset, limit int) ([]*models.AuditRecord, error)
	CountAudit(ctx context.Context) (int64, error)
}

// Repository is the complete storage surface.
type Repository interface {
	ConnectionStore
	SettingsStore
	AuditStore

	Ping(ctx context.Context) error
	// Migrate creates the schema and seeds default settings. It is safe to
	// run repeatedly.
	Migrate(ctx context.Context) error
	Close() error
}

// LoadPolicy reads the permission policy. It is called on every dispatch so
// operator changes apply to the next call.
func LoadPolicy(ctx context.Context, store SettingsStore) (models.Policy, error) {
	settings, err := store.ListSettings(ctx)
	if err != nil {
		return models.Policy{}, err
	}
	return models.PolicyFromSettings(settings), nil
}
