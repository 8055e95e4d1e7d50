// Package connection owns the backend client bound to the active Argo
// connection.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

var (
	// ErrNoActiveConnection is returned by Acquire when no connection is
	// marked active.
	ErrNoActiveConnection = errors.New("no active Argo connection configured")
	// ErrClientInit wraps failures to build a client from a connection.
	ErrClientInit = errors.New("failed to create Argo client")
)

// ActiveSource returns the currently active connection, or an error
// matching repository.ErrNotFound when there is none.
type ActiveSource interface {
	GetActiveConnection(ctx context.Context) (*models.Connection, error)
}

// Factory builds a client for a connection.
type Factory func(conn *models.Connection) (argo.Client, error)

// HTTPFactory builds argo.HTTPClient instances.
func HTTPFactory(logger *logging.Logger) Factory {
	return func(conn *models.Connection) (argo.Client, error) {
		return argo.NewHTTPClient(argo.ConfigFromConnection(conn), logger.With("connection", conn.Name))
	}
}

type entry struct {
	client   argo.Client
	conn     models.Connection
	revision string
	refs     int
	retired  bool
}

// Manager caches one client for the active connection. The cache is
// rebuilt when the active connection's revision changes. A replaced client
// is closed once the last lease on it is released, so in-flight calls are
// never cut off.
type Manager struct {
	source  ActiveSource
	factory Factory
	logger  *logging.Logger

	mu      sync.Mutex
	current *entry
	closed  bool
}

func NewManager(source ActiveSource, factory Factory, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{source: source, factory: factory, logger: logger}
}

// Lease is a hold on the client for the duration of one dispatch.
type Lease struct {
	Client     argo.Client
	Connection models.Connection

	m    *Manager
	e    *entry
	once sync.Once
}

// Release returns the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
		l.e.refs--
		if l.e.retired && l.e.refs == 0 {
			l.m.closeEntry(l.e)
		}
	})
}

// Acquire returns a lease on the client for the active connection,
// building or replacing the cached client as needed.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection manager closed")
	}

	conn, err := m.source.GetActiveConnection(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.retireLocked()
			return nil, ErrNoActiveConnection
		}
		return nil, fmt.Errorf("failed to load active connection: %w", err)
	}

	revision := conn.Revision()
	if m.current == nil || m.current.revision != revision {
		m.retireLocked()

		client, err := m.factory(conn)
		if err != nil {
			m.logger.Error("failed to create Argo client", "connection", conn.Name, "error", err)
			return nil, fmt.Errorf("%w for connection %q: %w", ErrClientInit, conn.Name, err)
		}
		m.current = &entry{client: client, conn: *conn, revision: revision}
		m.logger.Info("created Argo client",
			"connection", conn.Name,
			"base_url", conn.BaseURL,
			"auth_type", conn.AuthType,
			"bearer_token", logging.Mask(conn.BearerToken),
			"password", logging.Mask(conn.Password),
		)
	}

	m.current.refs++
	return &Lease{Client: m.current.client, Connection: m.current.conn, m: m, e: m.current}, nil
}

// Close retires the cached client. Leases still outstanding keep it open
// until they are released.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.retireLocked()
	return nil
}

func (m *Manager) retireLocked() {
	e := m.current
	if e == nil {
		return
	}
	m.current = nil
	e.retired = true
	if e.refs == 0 {
		m.closeEntry(e)
	}
}

func (m *Manager) closeEntry(e *entry) {
	if err := e.client.Close(); err != nil {
		m.logger.Warn("failed to close Argo client", "connection", e.conn.Name, "error", err)
		return
	}
	m.logger.Debug("closed Argo client", "connection", e.conn.Name)
}
