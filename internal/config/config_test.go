package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: DEV
server:
  port: 9090
db:
  driver: sqlite
  path: /tmp/argo.db
mcp:
  transport: HTTP
auth:
  okta_domain: https://example.okta.com/
confirmation:
  ttl: 2m
`), 0o600))

	t.Setenv("ARGO_MCP_DB_PATH", "/var/lib/argo.db")
	t.Setenv("ARGO_MCP_CONFIRMATION_SECRET", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "argo-workflows-mcp", cfg.Server.Name)
	assert.Equal(t, "/var/lib/argo.db", cfg.DB.Path)
	assert.Equal(t, TransportHTTP, cfg.MCP.Transport)
	assert.Equal(t, "https://example.okta.com", cfg.Auth.OktaDomain)
	assert.Equal(t, 2*time.Minute, cfg.Confirmation.TTL)
	assert.Equal(t, "from-env", cfg.Confirmation.Secret)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.MCP.Transport = TransportStdio
		c.DB.Driver = DriverSQLite
		c.DB.Path = "x.db"
		c.Confirmation.TTL = time.Minute
		return c
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.MCP.Transport = "grpc"
	assert.Error(t, c.Validate())

	c = valid()
	c.DB.Driver = DriverPostgres
	assert.Error(t, c.Validate())
	c.DB.Host, c.DB.Name = "localhost", "argo"
	assert.NoError(t, c.Validate())

	c = valid()
	c.Confirmation.TTL = 0
	assert.Error(t, c.Validate())
}
