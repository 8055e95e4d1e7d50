// Package api contains the HTTP handlers of the admin API: connections,
// settings and the audit trail.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"argo-workflows-mcp/backend/internal/auth"
	"argo-workflows-mcp/backend/internal/connection"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 500

	connectionTestTimeout = 15 * time.Second
)

// Server implements ServerInterface over the repository.
type Server struct {
	repo    repository.Repository
	factory connection.Factory
	logger  *logging.Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server. factory builds the throw-away clients
// used by TestConnection.
func NewServer(repo repository.Repository, factory connection.Factory, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{repo: repo, factory: factory, logger: logger}
}

// ConnectionRequest is the body of create and update calls. On update a
// blank BearerToken or Password keeps the stored value.
type ConnectionRequest struct {
	Name                  string `json:"name"`
	BaseURL               string `json:"base_url"`
	DefaultNamespace      string `json:"default_namespace"`
	AuthType              string `json:"auth_type"`
	BearerToken           string `json:"bearer_token"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	InsecureSkipTLSVerify bool   `json:"insecure_skip_tls_verify"`
	TLSServerName         string `json:"tls_server_name"`
	RequestTimeoutSeconds int64  `json:"request_timeout_seconds"`
	IsActive              bool   `json:"is_active"`
}

// ConnectionView is a connection as returned by the API, secrets masked.
type ConnectionView struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	BaseURL               string    `json:"base_url"`
	DefaultNamespace      string    `json:"default_namespace"`
	AuthType              string    `json:"auth_type"`
	BearerToken           string    `json:"bearer_token,omitempty"`
	Username              string    `json:"username,omitempty"`
	Password              string    `json:"password,omitempty"`
	InsecureSkipTLSVerify bool      `json:"insecure_skip_tls_verify"`
	TLSServerName         string    `json:"tls_server_name,omitempty"`
	RequestTimeoutSeconds int64     `json:"request_timeout_seconds"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newConnectionView(c *models.Connection) ConnectionView {
	return ConnectionView{
		ID:                    c.ID,
		Name:                  c.Name,
		BaseURL:               c.BaseURL,
		DefaultNamespace:      c.DefaultNamespace,
		AuthType:              string(c.AuthType),
		BearerToken:           logging.Mask(c.BearerToken),
		Username:              c.Username,
		Password:              logging.Mask(c.Password),
		InsecureSkipTLSVerify: c.InsecureSkipTLSVerify,
		TLSServerName:         c.TLSServerName,
		RequestTimeoutSeconds: c.RequestTimeoutSeconds,
		IsActive:              c.IsActive,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

// ConnectionTestResult reports whether the Argo server answered.
type ConnectionTestResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// SettingUpdate is the body of PutSetting.
type SettingUpdate struct {
	Value *string `json:"value"`
}

// AuditPage is one page of the audit trail, newest first.
type AuditPage struct {
	Records  []*models.AuditRecord `json:"records"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

func (s *Server) ListConnections(c echo.Context) error {
	conns, err := s.repo.ListConnections(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	views := make([]ConnectionView, 0, len(conns))
	for _, conn := range conns {
		views = append(views, newConnectionView(conn))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) CreateConnection(c echo.Context) error {
	ctx := c.Request().Context()

	var req ConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	conn := &models.Connection{IsActive: req.IsActive}
	req.apply(conn)
	if err := validateConnection(conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.repo.CreateConnection(ctx, conn); err != nil {
		return storeError(err)
	}
	s.logger.Info("connection created",
		"operator", auth.OperatorFromContext(ctx),
		"connection", conn.Name,
		"base_url", conn.BaseURL,
		"auth_type", conn.AuthType,
		"bearer_token", logging.Mask(conn.BearerToken),
		"password", logging.Mask(conn.Password),
		"active", conn.IsActive,
	)
	return c.JSON(http.StatusCreated, newConnectionView(conn))
}

func (s *Server) GetConnection(c echo.Context, id string) error {
	conn, err := s.repo.GetConnection(c.Request().Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, newConnectionView(conn))
}

func (s *Server) UpdateConnection(c echo.Context, id string) error {
	ctx := c.Request().Context()

	var req ConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return storeError(err)
	}
	req.apply(conn)
	if err := validateConnection(conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.repo.UpdateConnection(ctx, conn); err != nil {
		return storeError(err)
	}
	s.logger.Info("connection updated",
		"operator", auth.OperatorFromContext(ctx),
		"connection", conn.Name,
		"base_url", conn.BaseURL,
		"bearer_token", logging.Mask(conn.BearerToken),
		"password", logging.Mask(conn.Password),
	)
	return c.JSON(http.StatusOK, newConnectionView(conn))
}

func (s *Server) DeleteConnection(c echo.Context, id string) error {
	ctx := c.Request().Context()
	if err := s.repo.DeleteConnection(ctx, id); err != nil {
		return storeError(err)
	}
	s.logger.Info("connection deleted", "operator", auth.OperatorFromContext(ctx), "id", id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) ActivateConnection(c echo.Context, id string) error {
	ctx := c.Request().Context()
	if err := s.repo.ActivateConnection(ctx, id); err != nil {
		return storeError(err)
	}
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return storeError(err)
	}
	s.logger.Info("connection activated", "operator", auth.OperatorFromContext(ctx), "connection", conn.Name)
	return c.JSON(http.StatusOK, newConnectionView(conn))
}

// TestConnection builds a throw-away client for the stored connection and
// lists at most one workflow in its default namespace.
func (s *Server) TestConnection(c echo.Context, id string) error {
	ctx := c.Request().Context()
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return storeError(err)
	}

	client, err := s.factory(conn)
	if err != nil {
		return c.JSON(http.StatusOK, ConnectionTestResult{Message: "Connection failed: " + err.Error()})
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()
	if _, err := client.ListWorkflows(ctx, conn.DefaultNamespace, 1, "", ""); err != nil {
		s.logger.Warn("connection test failed", "connection", conn.Name, "error", err)
		return c.JSON(http.StatusOK, ConnectionTestResult{Message: "Connection failed: " + err.Error()})
	}
	return c.JSON(http.StatusOK, ConnectionTestResult{OK: true, Message: "Connection successful! Argo server is reachable."})
}

func (s *Server) ListSettings(c echo.Context) error {
	settings, err := s.repo.ListSettings(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) PutSetting(c echo.Context, key string) error {
	ctx := c.Request().Context()
	if _, known := models.DefaultSettings[key]; !known {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Unknown setting %q", key))
	}

	var body SettingUpdate
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if body.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	value, err := normalizeSetting(key, *body.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return storeError(err)
	}
	s.logger.Info("setting updated", "operator", auth.OperatorFromContext(ctx), "key", key, "value", value)
	return c.JSON(http.StatusOK, map[string]string{key: value})
}

func (s *Server) ListAudit(c echo.Context, params ListAuditParams) error {
	ctx := c.Request().Context()

	page := 0
	if params.Page != nil {
		page = *params.Page
	}
	size := DefaultAuditPageSize
	if params.PageSize != nil {
		size = *params.PageSize
	}
	if page < 0 || size < 1 || size > MaxAuditPageSize {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("page must be >= 0 and page_size between 1 and %d", MaxAuditPageSize))
	}

	records, err := s.repo.ListAudit(ctx, page*size, size)
	if err != nil {
		return storeError(err)
	}
	total, err := s.repo.CountAudit(ctx)
	if err != nil {
		return storeError(err)
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	return c.JSON(http.StatusOK, AuditPage{Records: records, Total: total, Page: page, PageSize: size})
}

// apply copies the request onto conn. Blank secrets keep the stored ones.
func (r ConnectionRequest) apply(conn *models.Connection) {
	conn.Name = r.Name
	conn.BaseURL = r.BaseURL
	conn.DefaultNamespace = r.DefaultNamespace
	conn.AuthType = models.AuthType(strings.ToLower(strings.TrimSpace(r.AuthType)))
	if r.BearerToken != "" {
		conn.BearerToken = r.BearerToken
	}
	conn.Username = strings.TrimSpace(r.Username)
	if r.Password != "" {
		conn.Password = r.Password
	}
	conn.InsecureSkipTLSVerify = r.InsecureSkipTLSVerify
	conn.TLSServerName = strings.TrimSpace(r.TLSServerName)
	conn.RequestTimeoutSeconds = r.RequestTimeoutSeconds
	conn.Normalize()
}

func validateConnection(conn *models.Connection) error {
	if conn.Name == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(conn.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got %q", conn.BaseURL)
	}
	if !conn.AuthType.Valid() {
		return fmt.Errorf("auth_type must be one of none, bearer, basic; got %q", conn.AuthType)
	}
	switch conn.AuthType {
	case models.AuthTypeBearer:
		if conn.BearerToken == "" {
			return errors.New("bearer_token is required for bearer auth")
		}
	case models.AuthTypeBasic:
		if conn.Username == "" || conn.Password == "" {
			return errors.New("username and password are required for basic auth")
		}
	}
	return nil
}

func normalizeSetting(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	if models.IsBooleanSetting(key) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%s must be true or false, got %q", key, value)
		}
		return strconv.FormatBool(b), nil
	}

	// Namespace glob lists.
	for _, pattern := range strings.Split(value, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return "", fmt.Errorf("%s contains an invalid pattern %q", key, pattern)
		}
	}
	return value, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Connection not found")
	case errors.Is(err, repository.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "A connection with this name already exists")
	default:
		return err
	}
}
